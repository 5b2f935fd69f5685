package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/chunkrec/internal/chunk"
)

// Recovered describes one abandoned session closed by Recover
type Recovered struct {
	SessionID string  `json:"session_id"`
	Duration  float64 `json:"duration"`
	Chunks    int     `json:"chunks"`
	Reupload  int     `json:"reuploaded"`
	Err       error   `json:"-"`
}

// Recover closes every session whose RecordingState survived without a clean stop. Cached
// chunks are re-uploaded, the session is marked completed with the best-known duration,
// and the state is deleted. A session whose status update fails keeps its state so the
// next run retries it. The session currently being recorded is skipped.
func (r *Recorder) Recover(ctx context.Context) ([]Recovered, error) {
	states, err := r.local.ListStates(ctx)
	if err != nil {
		r.metrics.RecordLocalCacheFailure("list_states")
		return nil, fmt.Errorf("list recording states: %w", err)
	}

	r.mu.Lock()
	active := ""
	if r.state == StateRecording || r.state == StatePaused {
		active = r.session
	}
	r.mu.Unlock()

	var (
		out []Recovered
		mu  sync.Mutex
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, st := range states {
		if st.SessionID == active {
			continue
		}
		g.Go(func() error {
			rec := r.recoverOne(gctx, st)
			mu.Lock()
			out = append(out, rec)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })

	var errs []error
	for _, rec := range out {
		if rec.Err != nil {
			errs = append(errs, rec.Err)
		}
	}
	return out, errors.Join(errs...)
}

func (r *Recorder) recoverOne(ctx context.Context, st chunk.RecordingState) Recovered {
	rec := Recovered{SessionID: st.SessionID}

	duration := BestKnownDuration(st, nil)
	cached, err := r.local.GetAll(ctx, st.SessionID)
	if err != nil {
		r.logger.Warn("No cached chunks for abandoned session",
			slog.String("session_id", st.SessionID),
			slog.String("error", err.Error()))
	} else {
		duration = BestKnownDuration(st, cached)
		rec.Chunks = len(cached)
	}

	if len(cached) > 0 {
		retried, err := r.Retry(ctx, st.SessionID)
		if retried != nil {
			rec.Reupload = len(retried.Uploaded)
		}
		if err != nil {
			r.logger.Warn("Re-upload of abandoned session incomplete",
				slog.String("session_id", st.SessionID),
				slog.String("error", err.Error()))
		}
	}
	rec.Duration = duration

	if r.status != nil {
		sctx, cancel := context.WithTimeout(ctx, r.config.StatusTimeout)
		_, err := r.status.UpdateStatus(sctx, st.SessionID, chunk.StatusCompleted, &duration)
		cancel()
		switch {
		case errors.Is(err, chunk.ErrInvalidTransition):
			// completed before the crash; its duration is already final
			r.logger.Info("Abandoned session already completed",
				slog.String("session_id", st.SessionID))
		case err != nil:
			rec.Err = fmt.Errorf("complete abandoned session %s: %w", st.SessionID, err)
			r.logger.Error("Failed to complete abandoned session",
				slog.String("session_id", st.SessionID),
				slog.String("error", err.Error()))
			return rec
		default:
			r.metrics.RecordStatusTransition(string(chunk.StatusCompleted))
		}
	}

	if err := r.local.DeleteState(ctx, st.SessionID); err != nil {
		rec.Err = fmt.Errorf("delete state of session %s: %w", st.SessionID, err)
		return rec
	}

	r.logger.Info("Abandoned session completed",
		slog.String("session_id", st.SessionID),
		slog.Float64("duration", duration),
		slog.Int("chunks", rec.Chunks),
		slog.Int("reuploaded", rec.Reupload))
	return rec
}

// BestKnownDuration returns the larger of the recorded wall-clock time (start to last
// state update, pauses excluded) and the summed duration of the cached chunks, in seconds
func BestKnownDuration(st chunk.RecordingState, cached []chunk.AudioChunk) float64 {
	elapsed := st.ElapsedRecording(st.UpdatedAt).Seconds()
	var sum float64
	for _, c := range cached {
		if c.Valid() && c.Duration > 0 {
			sum += c.Duration
		}
	}
	if sum > elapsed {
		return sum
	}
	return elapsed
}
