package sequencer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/skypro1111/chunkrec/internal/chunk"
)

// SeedFunc returns the highest stored index for a session, or NoChunks.
// It is consulted when the tracker has no entry, e.g. after a restart.
type SeedFunc func(ctx context.Context, sessionID string) (int, error)

// Observer receives every decision, used for metrics
type Observer interface {
	RecordSequencerDecision(outcome string)
}

// Sequencer applies a Window to the last index held by a Tracker
type Sequencer struct {
	window   Window
	tracker  Tracker
	seed     SeedFunc
	observer Observer
	logger   *slog.Logger
}

// Option configures a Sequencer
type Option func(*Sequencer)

// WithSeed sets the fallback used when the tracker misses
func WithSeed(seed SeedFunc) Option {
	return func(s *Sequencer) { s.seed = seed }
}

// WithObserver sets the decision observer
func WithObserver(o Observer) Option {
	return func(s *Sequencer) { s.observer = o }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sequencer) { s.logger = logger }
}

// New creates a sequencer. A nil tracker selects a MemoryTracker.
func New(window Window, tracker Tracker, opts ...Option) *Sequencer {
	if tracker == nil {
		tracker = NewMemoryTracker()
	}
	s := &Sequencer{
		window:  window,
		tracker: tracker,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Window returns the configured bounds
func (s *Sequencer) Window() Window {
	return s.window
}

// Admit judges index for the session without recording it.
// A rejected index returns the decision together with a *chunk.IndexError.
func (s *Sequencer) Admit(ctx context.Context, sessionID string, index int) (Decision, error) {
	return s.admit(ctx, sessionID, index, s.window.Check)
}

// AdmitBackfill is Admit using Window.CheckBackfill
func (s *Sequencer) AdmitBackfill(ctx context.Context, sessionID string, index int) (Decision, error) {
	return s.admit(ctx, sessionID, index, s.window.CheckBackfill)
}

func (s *Sequencer) admit(ctx context.Context, sessionID string, index int, check func(last, index int) Decision) (Decision, error) {
	last, err := s.lastIndex(ctx, sessionID)
	if err != nil {
		return Decision{}, err
	}

	d := check(last, index)
	if s.observer != nil {
		s.observer.RecordSequencerDecision(d.Outcome.String())
	}

	switch d.Outcome {
	case Rejected:
		s.logger.Warn("Chunk index rejected",
			slog.String("session_id", sessionID),
			slog.Int("index", index),
			slog.Int("last", last),
			slog.String("reason", d.Reason))
		return d, &chunk.IndexError{SessionID: sessionID, Index: index, Last: last}
	case AcceptedWithWarning:
		s.logger.Warn("Chunk index out of order",
			slog.String("session_id", sessionID),
			slog.Int("index", index),
			slog.Int("last", last),
			slog.String("reason", d.Reason))
	}

	return d, nil
}

// Commit records that index was stored for the session
func (s *Sequencer) Commit(ctx context.Context, sessionID string, index int) error {
	if _, err := s.tracker.Advance(ctx, sessionID, index); err != nil {
		return fmt.Errorf("failed to commit index %d for session %s: %w", index, sessionID, err)
	}
	return nil
}

// Forget drops tracked state for a finished session
func (s *Sequencer) Forget(ctx context.Context, sessionID string) error {
	return s.tracker.Forget(ctx, sessionID)
}

func (s *Sequencer) lastIndex(ctx context.Context, sessionID string) (int, error) {
	last, ok, err := s.tracker.Last(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to read last index for session %s: %w", sessionID, err)
	}
	if ok {
		return last, nil
	}
	if s.seed == nil {
		return NoChunks, nil
	}

	seeded, err := s.seed(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to seed last index for session %s: %w", sessionID, err)
	}
	if seeded >= 0 {
		if _, err := s.tracker.Advance(ctx, sessionID, seeded); err != nil {
			return 0, fmt.Errorf("failed to seed tracker for session %s: %w", sessionID, err)
		}
	}
	return seeded, nil
}
