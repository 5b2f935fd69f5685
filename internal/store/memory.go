package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/skypro1111/chunkrec/internal/chunk"
)

// Memory is an in-process Store
type Memory struct {
	sessions map[string]*chunk.Session
	chunks   map[string]map[int]chunk.AudioChunk
	now      func() time.Time
	mu       sync.RWMutex
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*chunk.Session),
		chunks:   make(map[string]map[int]chunk.AudioChunk),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ping implements Store
func (m *Memory) Ping(context.Context) error { return nil }

// Close implements Store
func (m *Memory) Close() {}

// PutChunk implements ChunkStore
func (m *Memory) PutChunk(_ context.Context, c chunk.AudioChunk) (PutResult, error) {
	if err := validateChunk(c); err != nil {
		return PutResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[c.SessionID]
	if !ok {
		return PutResult{}, fmt.Errorf("%w: %s", chunk.ErrSessionNotFound, c.SessionID)
	}

	c.ID = chunk.DeriveID(c.SessionID, c.Index)
	c.Data = append([]byte(nil), c.Data...)
	c.Size = len(c.Data)
	c.CapturedAt = defaultCapturedAt(c.CapturedAt)

	byIndex, ok := m.chunks[c.SessionID]
	if !ok {
		byIndex = make(map[int]chunk.AudioChunk)
		m.chunks[c.SessionID] = byIndex
	}
	_, exists := byIndex[c.Index]
	byIndex[c.Index] = c
	if !exists {
		s.ChunksCount++
		s.UpdatedAt = m.now()
	}

	return PutResult{ID: c.ID, Created: !exists}, nil
}

// ListChunks implements ChunkStore
func (m *Memory) ListChunks(_ context.Context, sessionID string, withPayload bool) ([]chunk.AudioChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byIndex := m.chunks[sessionID]
	out := make([]chunk.AudioChunk, 0, len(byIndex))
	for _, c := range byIndex {
		if withPayload {
			c.Data = append([]byte(nil), c.Data...)
		} else {
			c.Data = nil
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// MaxIndex implements ChunkStore
func (m *Memory) MaxIndex(_ context.Context, sessionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	highest := -1
	for idx := range m.chunks[sessionID] {
		if idx > highest {
			highest = idx
		}
	}
	return highest, nil
}

// CreateSession implements SessionStore
func (m *Memory) CreateSession(_ context.Context, owner string) (*chunk.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s := &chunk.Session{
		ID:        chunk.NewSessionID(),
		Owner:     owner,
		Status:    chunk.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions[s.ID] = s

	copied := *s
	return &copied, nil
}

// GetSession implements SessionStore
func (m *Memory) GetSession(_ context.Context, sessionID string) (*chunk.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chunk.ErrSessionNotFound, sessionID)
	}
	copied := *s
	return &copied, nil
}

// UpdateStatus implements SessionStore
func (m *Memory) UpdateStatus(_ context.Context, sessionID string, status chunk.Status, duration *float64) (*chunk.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chunk.ErrSessionNotFound, sessionID)
	}
	if err := checkTransition(s.Status, status, s.Duration, duration); err != nil {
		return nil, err
	}

	now := m.now()
	s.Status = status
	s.UpdatedAt = now
	if status == chunk.StatusRecording && s.RecordingStartedAt == nil {
		started := now
		s.RecordingStartedAt = &started
	}
	if duration != nil {
		d := *duration
		s.Duration = &d
	}

	copied := *s
	return &copied, nil
}

// checkTransition validates a status change. The duration is written once, by the
// transition that first completes the session.
func checkTransition(from, to chunk.Status, current, duration *float64) error {
	if !chunk.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", chunk.ErrInvalidTransition, from, to)
	}
	if duration != nil {
		if to != chunk.StatusCompleted {
			return fmt.Errorf("%w: duration can only be set when completing", chunk.ErrInvalidTransition)
		}
		if from == chunk.StatusCompleted || current != nil {
			return fmt.Errorf("%w: duration of a completed session cannot change", chunk.ErrInvalidTransition)
		}
		if *duration < 0 {
			return fmt.Errorf("%w: negative duration %.3f", chunk.ErrInvalidChunk, *duration)
		}
	}
	return nil
}
