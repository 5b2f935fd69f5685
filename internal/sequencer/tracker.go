package sequencer

import (
	"context"
	"sync"
)

// Tracker stores the highest accepted index per session
type Tracker interface {
	// Last returns the tracked index, ok is false when the session is unknown to the tracker
	Last(ctx context.Context, sessionID string) (last int, ok bool, err error)
	// Advance raises the tracked index to index if it is higher. It returns the resulting last value.
	Advance(ctx context.Context, sessionID string, index int) (int, error)
	// Forget drops the session
	Forget(ctx context.Context, sessionID string) error
}

// MemoryTracker is a process-local Tracker
type MemoryTracker struct {
	last map[string]int
	mu   sync.Mutex
}

// NewMemoryTracker creates an empty in-memory tracker
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{last: make(map[string]int)}
}

// Last implements Tracker
func (m *MemoryTracker) Last(_ context.Context, sessionID string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	last, ok := m.last[sessionID]
	return last, ok, nil
}

// Advance implements Tracker
func (m *MemoryTracker) Advance(_ context.Context, sessionID string, index int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	last, ok := m.last[sessionID]
	if !ok || index > last {
		m.last[sessionID] = index
		return index, nil
	}
	return last, nil
}

// Forget implements Tracker
func (m *MemoryTracker) Forget(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.last, sessionID)
	return nil
}
