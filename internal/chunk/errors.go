package chunk

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSourceUnavailable means capture could not acquire the required audio source(s)
	ErrSourceUnavailable = errors.New("audio source unavailable")
	// ErrChunkIndexOutOfRange means a chunk index fell outside the sequencer tolerance window
	ErrChunkIndexOutOfRange = errors.New("chunk index out of range")
	// ErrChunkUploadFailed means a chunk could not be persisted to durable storage
	ErrChunkUploadFailed = errors.New("chunk upload failed")
	// ErrReassemblyIncomplete means some expected chunks were missing or corrupt
	ErrReassemblyIncomplete = errors.New("reassembly incomplete")
	// ErrLocalCacheUnavailable means the local chunk store cannot be used
	ErrLocalCacheUnavailable = errors.New("local chunk cache unavailable")

	// ErrSessionNotFound means the session id is unknown to the store
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidTransition means a lifecycle transition is not allowed from the current state
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrEmptyPayload means a chunk was submitted without audio bytes
	ErrEmptyPayload = errors.New("chunk payload is empty")
	// ErrInvalidChunk means chunk attributes are malformed
	ErrInvalidChunk = errors.New("invalid chunk")
)

// IndexError describes a sequencing violation for one chunk
type IndexError struct {
	SessionID string
	Index     int
	Last      int // -1 when no chunk was accepted yet
}

func (e *IndexError) Error() string {
	if e.Last < 0 {
		return fmt.Sprintf("session %s: chunk index %d out of range (no chunks yet)", e.SessionID, e.Index)
	}
	return fmt.Sprintf("session %s: chunk index %d out of range (last accepted %d)", e.SessionID, e.Index, e.Last)
}

func (e *IndexError) Unwrap() error { return ErrChunkIndexOutOfRange }

// UploadError wraps a storage or transport failure for one chunk
type UploadError struct {
	SessionID string
	Index     int
	Err       error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("session %s: upload chunk %d: %v", e.SessionID, e.Index, e.Err)
}

// Is matches ErrChunkUploadFailed in addition to the wrapped cause
func (e *UploadError) Is(target error) bool { return target == ErrChunkUploadFailed }

func (e *UploadError) Unwrap() error { return e.Err }

// IncompleteError lists the chunk indices skipped during reassembly
type IncompleteError struct {
	SessionID string
	Skipped   []int
}

func (e *IncompleteError) Error() string {
	parts := make([]string, len(e.Skipped))
	for i, idx := range e.Skipped {
		parts[i] = fmt.Sprintf("%d", idx)
	}
	return fmt.Sprintf("session %s: reassembly skipped chunks [%s]", e.SessionID, strings.Join(parts, ","))
}

func (e *IncompleteError) Unwrap() error { return ErrReassemblyIncomplete }
