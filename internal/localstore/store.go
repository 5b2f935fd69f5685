package localstore

import (
	"context"

	"github.com/skypro1111/chunkrec/internal/chunk"
)

// Store caches chunks keyed by (session, index) and persists RecordingState
type Store interface {
	// Put inserts or replaces the chunk at (SessionID, Index)
	Put(ctx context.Context, c chunk.AudioChunk) error
	// GetAll returns the session's chunks ordered by index
	GetAll(ctx context.Context, sessionID string) ([]chunk.AudioChunk, error)
	DeleteAll(ctx context.Context, sessionID string) error

	SaveState(ctx context.Context, state chunk.RecordingState) error
	// LoadState returns nil without error when no state is stored
	LoadState(ctx context.Context, sessionID string) (*chunk.RecordingState, error)
	ListStates(ctx context.Context) ([]chunk.RecordingState, error)
	DeleteState(ctx context.Context, sessionID string) error

	Close() error
}

// Disabled is a Store that is never available
type Disabled struct{}

// Put implements Store
func (Disabled) Put(context.Context, chunk.AudioChunk) error {
	return chunk.ErrLocalCacheUnavailable
}

// GetAll implements Store
func (Disabled) GetAll(context.Context, string) ([]chunk.AudioChunk, error) {
	return nil, chunk.ErrLocalCacheUnavailable
}

// DeleteAll implements Store
func (Disabled) DeleteAll(context.Context, string) error {
	return chunk.ErrLocalCacheUnavailable
}

// SaveState implements Store
func (Disabled) SaveState(context.Context, chunk.RecordingState) error {
	return chunk.ErrLocalCacheUnavailable
}

// LoadState implements Store
func (Disabled) LoadState(context.Context, string) (*chunk.RecordingState, error) {
	return nil, chunk.ErrLocalCacheUnavailable
}

// ListStates implements Store
func (Disabled) ListStates(context.Context) ([]chunk.RecordingState, error) {
	return nil, chunk.ErrLocalCacheUnavailable
}

// DeleteState implements Store
func (Disabled) DeleteState(context.Context, string) error {
	return chunk.ErrLocalCacheUnavailable
}

// Close implements Store
func (Disabled) Close() error { return nil }
