package chunk

import (
	"fmt"
	"time"
)

// Status is the lifecycle status of a recording session
type Status string

const (
	StatusPending    Status = "pending"
	StatusRecording  Status = "recording"
	StatusPaused     Status = "paused"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// ParseStatus converts a status string into a Status
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusRecording, StatusPaused, StatusProcessing, StatusCompleted:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown session status %q", s)
	}
}

// IsTerminal reports whether no further capture can happen in this status
func (s Status) IsTerminal() bool {
	return s == StatusProcessing || s == StatusCompleted
}

var transitions = map[Status][]Status{
	StatusPending:    {StatusRecording, StatusCompleted},
	StatusRecording:  {StatusPaused, StatusProcessing, StatusCompleted},
	StatusPaused:     {StatusRecording, StatusProcessing, StatusCompleted},
	StatusProcessing: {StatusCompleted},
	StatusCompleted:  {StatusProcessing},
}

// CanTransition reports whether a session may move from one status to another.
// Re-applying the current status is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CaptureMode selects which live sources a recording captures
type CaptureMode string

const (
	ModeSingleSource CaptureMode = "single-source"
	ModeMixedSource  CaptureMode = "mixed-source"
)

// ParseCaptureMode converts a mode string into a CaptureMode
func ParseCaptureMode(s string) (CaptureMode, error) {
	switch CaptureMode(s) {
	case ModeSingleSource, ModeMixedSource:
		return CaptureMode(s), nil
	default:
		return "", fmt.Errorf("unknown capture mode %q", s)
	}
}

// Session is the server-side record of one recording
type Session struct {
	ID                 string     `json:"id"`
	Owner              string     `json:"owner"`
	Status             Status     `json:"status"`
	Duration           *float64   `json:"duration,omitempty"`
	ChunksCount        int        `json:"chunks_count"`
	RecordingStartedAt *time.Time `json:"recording_started_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// AudioChunk is one bounded-duration slice of a recording
type AudioChunk struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Index      int       `json:"chunk_index"`
	Data       []byte    `json:"data,omitempty"`
	Size       int       `json:"size"`
	Duration   float64   `json:"duration"`
	CapturedAt time.Time `json:"captured_at"`
	Transcript *string   `json:"transcript,omitempty"`
}

// Valid reports whether the chunk carries a usable payload
func (c *AudioChunk) Valid() bool {
	return len(c.Data) > 0
}

// RecordingState is the local recovery hint written while a recording is live.
// It is deleted on every clean stop, so its presence at startup means the
// previous recording ended abnormally.
type RecordingState struct {
	SessionID      string        `json:"session_id"`
	Recording      bool          `json:"recording"`
	Paused         bool          `json:"paused"`
	StartedAt      time.Time     `json:"started_at"`
	PausedDuration time.Duration `json:"paused_duration"`
	PausedAt       *time.Time    `json:"paused_at,omitempty"`
	ChunkCount     int           `json:"chunk_count"`
	Mode           CaptureMode   `json:"mode"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// ElapsedRecording returns wall-clock recording time excluding pauses, as of now
func (s *RecordingState) ElapsedRecording(now time.Time) time.Duration {
	paused := s.PausedDuration
	if s.PausedAt != nil && now.After(*s.PausedAt) {
		paused += now.Sub(*s.PausedAt)
	}
	elapsed := now.Sub(s.StartedAt) - paused
	if elapsed < 0 {
		return 0
	}
	return elapsed
}
