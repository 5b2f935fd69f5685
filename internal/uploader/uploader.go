package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skypro1111/chunkrec/internal/chunk"
	"github.com/skypro1111/chunkrec/internal/events"
	"github.com/skypro1111/chunkrec/internal/metrics"
	"github.com/skypro1111/chunkrec/internal/sequencer"
	"github.com/skypro1111/chunkrec/internal/store"
)

// Request is one chunk upload
type Request struct {
	SessionID  string
	Index      int
	Data       []byte
	Duration   float64 // measured seconds
	Transcript *string
	CapturedAt time.Time
	// Backfill re-uploads a locally cached chunk; indices below the last accepted one are allowed
	Backfill bool
}

// Result is the outcome of a successful upload
type Result struct {
	ID       string             `json:"id"`
	Created  bool               `json:"created"`
	Decision sequencer.Decision `json:"decision"`
}

// Uploader writes chunks to durable storage
type Uploader struct {
	chunks    store.ChunkStore
	sequencer *sequencer.Sequencer
	locks     sessionLocks
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates an uploader. publisher and m may be nil.
func New(chunks store.ChunkStore, seq *sequencer.Sequencer, publisher events.Publisher,
	m *metrics.Metrics, logger *slog.Logger) *Uploader {

	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		chunks:    chunks,
		sequencer: seq,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// Upload stores one chunk. Re-uploading an index overwrites it without touching the
// session chunk count.
func (u *Uploader) Upload(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	if len(req.Data) == 0 {
		u.metrics.RecordUpload("rejected", time.Since(start).Seconds())
		return Result{}, fmt.Errorf("session %s chunk %d: %w", req.SessionID, req.Index, chunk.ErrEmptyPayload)
	}
	if req.Duration < 0 {
		u.metrics.RecordUpload("rejected", time.Since(start).Seconds())
		return Result{}, fmt.Errorf("session %s chunk %d: negative duration: %w", req.SessionID, req.Index, chunk.ErrInvalidChunk)
	}

	decision, put, err := u.write(ctx, req, start)
	if err != nil {
		return Result{Decision: decision}, err
	}

	result := "overwritten"
	if put.Created {
		result = "created"
	}
	u.metrics.RecordUpload(result, time.Since(start).Seconds())

	u.logger.Info("Chunk stored",
		slog.String("session_id", req.SessionID),
		slog.Int("index", req.Index),
		slog.Int("size", len(req.Data)),
		slog.Float64("duration", req.Duration),
		slog.String("result", result),
		slog.Bool("sequence_warning", decision.Warning()))

	ev := events.ChunkStored{
		SessionID: req.SessionID,
		ChunkID:   put.ID,
		Index:     req.Index,
		Size:      len(req.Data),
		Duration:  req.Duration,
		Created:   put.Created,
		Warning:   decision.Warning(),
		Timestamp: time.Now().UTC(),
	}
	if err := u.publisher.PublishChunkStored(ctx, ev); err != nil {
		u.logger.Warn("Failed to publish chunk event",
			slog.String("session_id", req.SessionID),
			slog.Int("index", req.Index),
			slog.String("error", err.Error()))
	}

	return Result{ID: put.ID, Created: put.Created, Decision: decision}, nil
}

// write admits, stores and commits one chunk under the session's lock
func (u *Uploader) write(ctx context.Context, req Request, start time.Time) (sequencer.Decision, store.PutResult, error) {
	unlock := u.locks.lock(req.SessionID)
	defer unlock()

	admit := u.sequencer.Admit
	if req.Backfill {
		admit = u.sequencer.AdmitBackfill
	}
	decision, err := admit(ctx, req.SessionID, req.Index)
	if err != nil {
		var idxErr *chunk.IndexError
		if errors.As(err, &idxErr) {
			u.metrics.RecordUpload("rejected", time.Since(start).Seconds())
			return decision, store.PutResult{}, err
		}
		u.metrics.RecordUpload("failed", time.Since(start).Seconds())
		return decision, store.PutResult{}, &chunk.UploadError{SessionID: req.SessionID, Index: req.Index, Err: err}
	}

	put, err := u.chunks.PutChunk(ctx, chunk.AudioChunk{
		SessionID:  req.SessionID,
		Index:      req.Index,
		Data:       req.Data,
		Duration:   req.Duration,
		CapturedAt: req.CapturedAt,
		Transcript: req.Transcript,
	})
	if err != nil {
		u.metrics.RecordUpload("failed", time.Since(start).Seconds())
		u.logger.Error("Chunk upload failed",
			slog.String("session_id", req.SessionID),
			slog.Int("index", req.Index),
			slog.String("error", err.Error()))
		return decision, store.PutResult{}, &chunk.UploadError{SessionID: req.SessionID, Index: req.Index, Err: err}
	}

	if err := u.sequencer.Commit(ctx, req.SessionID, req.Index); err != nil {
		// The chunk is stored; the tracker is reseeded from storage on its next miss
		u.logger.Warn("Failed to advance sequencer",
			slog.String("session_id", req.SessionID),
			slog.Int("index", req.Index),
			slog.String("error", err.Error()))
	}

	return decision, put, nil
}
