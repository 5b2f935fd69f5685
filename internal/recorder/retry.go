package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/chunkrec/internal/chunk"
	"github.com/skypro1111/chunkrec/internal/uploader"
)

// RetryResult summarizes a manual re-upload of cached chunks
type RetryResult struct {
	SessionID string        `json:"session_id"`
	Uploaded  []int         `json:"uploaded"`
	Created   int           `json:"created"`
	Failed    map[int]error `json:"-"`
}

// Retry re-uploads every chunk cached locally for sessionID. Uploads are backfills, so
// indices below the service's last accepted index are allowed; each overwrites by its
// derived id.
func (r *Recorder) Retry(ctx context.Context, sessionID string) (*RetryResult, error) {
	cached, err := r.local.GetAll(ctx, sessionID)
	if err != nil {
		r.metrics.RecordLocalCacheFailure("retry")
		return nil, fmt.Errorf("read cached chunks of session %s: %w", sessionID, err)
	}

	res := &RetryResult{SessionID: sessionID, Failed: make(map[int]error)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.MaxParallelUploads)
	for _, c := range cached {
		if !c.Valid() {
			continue
		}
		g.Go(func() error {
			out, err := r.uploader.Upload(gctx, uploader.Request{
				SessionID:  c.SessionID,
				Index:      c.Index,
				Data:       c.Data,
				Duration:   c.Duration,
				Transcript: c.Transcript,
				CapturedAt: c.CapturedAt,
				Backfill:   true,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed[c.Index] = err
				r.markFailed(sessionID, c.Index, err)
				return nil
			}
			res.Uploaded = append(res.Uploaded, c.Index)
			if out.Created {
				res.Created++
			}
			r.markUploaded(sessionID, c.Index)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	sort.Ints(res.Uploaded)

	r.logger.Info("Cached chunks re-uploaded",
		slog.String("session_id", sessionID),
		slog.Int("uploaded", len(res.Uploaded)),
		slog.Int("created", res.Created),
		slog.Int("failed", len(res.Failed)))

	if len(res.Failed) > 0 {
		return res, fmt.Errorf("session %s: %d chunk(s) failed to upload: %w", sessionID, len(res.Failed), chunk.ErrChunkUploadFailed)
	}
	return res, nil
}

// Purge deletes the local cache of sessionID
func (r *Recorder) Purge(ctx context.Context, sessionID string) error {
	if err := r.local.DeleteAll(ctx, sessionID); err != nil {
		return fmt.Errorf("purge cached chunks of session %s: %w", sessionID, err)
	}
	return nil
}
