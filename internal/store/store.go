package store

import (
	"context"
	"time"

	"github.com/skypro1111/chunkrec/internal/chunk"
)

// PutResult is the outcome of a chunk write
type PutResult struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// ChunkStore is durable chunk storage
type ChunkStore interface {
	// PutChunk creates or overwrites the chunk at its derived id. A create raises the
	// session's chunks_count in the same write; an overwrite leaves it unchanged.
	PutChunk(ctx context.Context, c chunk.AudioChunk) (PutResult, error)
	// ListChunks returns the session's chunks ordered by index
	ListChunks(ctx context.Context, sessionID string, withPayload bool) ([]chunk.AudioChunk, error)
	// MaxIndex returns the highest stored index, or -1 when the session has no chunks
	MaxIndex(ctx context.Context, sessionID string) (int, error)
}

// SessionStore is the session metadata store
type SessionStore interface {
	CreateSession(ctx context.Context, owner string) (*chunk.Session, error)
	GetSession(ctx context.Context, sessionID string) (*chunk.Session, error)
	// UpdateStatus applies a lifecycle transition. duration is only accepted when completing.
	UpdateStatus(ctx context.Context, sessionID string, status chunk.Status, duration *float64) (*chunk.Session, error)
}

// Store combines chunk and session storage
type Store interface {
	ChunkStore
	SessionStore
	Ping(ctx context.Context) error
	Close()
}

func validateChunk(c chunk.AudioChunk) error {
	if c.SessionID == "" {
		return chunk.ErrInvalidChunk
	}
	if c.Index < 0 {
		return chunk.ErrInvalidChunk
	}
	if !c.Valid() {
		return chunk.ErrEmptyPayload
	}
	return nil
}

func defaultCapturedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
