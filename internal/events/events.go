package events

import (
	"context"
	"sync"
	"time"
)

const (
	// SubjectChunkStored is appended to the configured prefix for stored-chunk events
	SubjectChunkStored = "chunk.stored"
	// SubjectSessionStatus is appended to the configured prefix for status transitions
	SubjectSessionStatus = "session.status"
)

// ChunkStored is emitted after a chunk reaches durable storage
type ChunkStored struct {
	SessionID string    `json:"session_id"`
	ChunkID   string    `json:"chunk_id"`
	Index     int       `json:"chunk_index"`
	Size      int       `json:"size"`
	Duration  float64   `json:"duration"`
	Created   bool      `json:"created"`
	Warning   bool      `json:"sequence_warning"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionStatus is emitted after a session status transition
type SessionStatus struct {
	SessionID   string    `json:"session_id"`
	Status      string    `json:"status"`
	Duration    *float64  `json:"duration,omitempty"`
	ChunksCount int       `json:"chunks_count"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher sends events to subscribers
type Publisher interface {
	PublishChunkStored(ctx context.Context, ev ChunkStored) error
	PublishSessionStatus(ctx context.Context, ev SessionStatus) error
	Close()
}

// Nop discards every event
type Nop struct{}

// PublishChunkStored implements Publisher
func (Nop) PublishChunkStored(context.Context, ChunkStored) error { return nil }

// PublishSessionStatus implements Publisher
func (Nop) PublishSessionStatus(context.Context, SessionStatus) error { return nil }

// Close implements Publisher
func (Nop) Close() {}

// Collector keeps published events in memory
type Collector struct {
	mu       sync.Mutex
	chunks   []ChunkStored
	statuses []SessionStatus
}

// PublishChunkStored implements Publisher
func (c *Collector) PublishChunkStored(_ context.Context, ev ChunkStored) error {
	c.mu.Lock()
	c.chunks = append(c.chunks, ev)
	c.mu.Unlock()
	return nil
}

// PublishSessionStatus implements Publisher
func (c *Collector) PublishSessionStatus(_ context.Context, ev SessionStatus) error {
	c.mu.Lock()
	c.statuses = append(c.statuses, ev)
	c.mu.Unlock()
	return nil
}

// Close implements Publisher
func (c *Collector) Close() {}

// ChunkEvents returns a copy of the collected chunk events
func (c *Collector) ChunkEvents() []ChunkStored {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChunkStored(nil), c.chunks...)
}

// StatusEvents returns a copy of the collected status events
func (c *Collector) StatusEvents() []SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SessionStatus(nil), c.statuses...)
}
