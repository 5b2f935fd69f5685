package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/skypro1111/chunkrec/internal/capture"
	"github.com/skypro1111/chunkrec/internal/chunk"
	"github.com/skypro1111/chunkrec/internal/localstore"
	"github.com/skypro1111/chunkrec/internal/metrics"
	"github.com/skypro1111/chunkrec/internal/tasks"
	"github.com/skypro1111/chunkrec/internal/uploader"
)

// State is the recorder lifecycle state
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
)

// ChunkUploader is the authoritative chunk write path
type ChunkUploader interface {
	Upload(ctx context.Context, req uploader.Request) (uploader.Result, error)
}

// StatusSink receives coarse session status updates
type StatusSink interface {
	UpdateStatus(ctx context.Context, sessionID string, status chunk.Status, duration *float64) (*chunk.Session, error)
}

// Config contains recorder configuration
type Config struct {
	MaxParallelUploads int
	DrainTimeout       time.Duration // bounded wait for in-flight chunk tasks on stop
	UploadTimeout      time.Duration // per upload, zero for none
	StatusTimeout      time.Duration
}

// DefaultConfig returns the recorder defaults
func DefaultConfig() Config {
	return Config{
		MaxParallelUploads: 2,
		DrainTimeout:       10 * time.Second,
		UploadTimeout:      60 * time.Second,
		StatusTimeout:      5 * time.Second,
	}
}

// StopResult summarizes a stopped recording
type StopResult struct {
	SessionID  string  `json:"session_id"`
	Flushed    bool    `json:"flushed"`
	Chunks     int     `json:"chunks"`
	Uploaded   int     `json:"uploaded"`
	Failed     []int   `json:"failed,omitempty"`
	Unresolved int     `json:"unresolved"`
	Duration   float64 `json:"duration"`
}

// Recorder is the recording state machine for one capture engine
type Recorder struct {
	config   Config
	engine   *capture.Engine
	local    localstore.Store
	uploader ChunkUploader
	status   StatusSink
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	onError  func(err error)

	ctx    context.Context
	cancel context.CancelFunc

	state    State
	session  string
	rec      chunk.RecordingState
	group    *tasks.Group
	runDone  chan struct{}
	consumed chan struct{}
	uploads  *semaphore.Weighted
	captured int
	audioSec float64
	uploaded map[int]bool
	failed   map[int]error
	stopping bool
	mu       sync.Mutex
}

// Option configures a Recorder
type Option func(*Recorder)

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

// WithClock sets the wall clock used for RecordingState timestamps
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithErrorHandler sets the handler for capture errors and per-chunk task failures
func WithErrorHandler(fn func(err error)) Option {
	return func(r *Recorder) { r.onError = fn }
}

// New creates a recorder owning a capture engine over sources. local may be
// localstore.Disabled; status may be nil.
func New(cfg Config, captureCfg capture.Config, sources capture.Sources, local localstore.Store,
	up ChunkUploader, status StatusSink, opts ...Option) *Recorder {

	if cfg.MaxParallelUploads <= 0 {
		cfg.MaxParallelUploads = DefaultConfig().MaxParallelUploads
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultConfig().DrainTimeout
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = DefaultConfig().StatusTimeout
	}
	if local == nil {
		local = localstore.Disabled{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Recorder{
		config:   cfg,
		local:    local,
		uploader: up,
		status:   status,
		logger:   slog.Default(),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(r)
	}

	engineOpts := []capture.EngineOption{
		capture.WithErrorHandler(r.handleCaptureError),
		capture.WithLogger(r.logger),
	}
	if r.metrics != nil {
		engineOpts = append(engineOpts, capture.WithObserver(r.metrics))
	}
	r.engine = capture.NewEngine(captureCfg, sources, r.handleChunk, engineOpts...)
	return r
}

// Start begins recording into sessionID. It requires a session reference and an idle or
// completed recorder; source acquisition failures leave the recorder idle.
func (r *Recorder) Start(ctx context.Context, sessionID string, mode chunk.CaptureMode) error {
	r.mu.Lock()
	if r.state == StateRecording || r.state == StatePaused {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: recorder is %s", chunk.ErrInvalidTransition, state)
	}
	if sessionID == "" {
		r.mu.Unlock()
		return fmt.Errorf("%w: session reference is required", chunk.ErrInvalidTransition)
	}

	group := tasks.NewGroup(r.ctx, 64, r.logger)
	group.OnChange(r.metrics.SetInflightTasks)

	r.session = sessionID
	r.group = group
	r.uploads = semaphore.NewWeighted(int64(r.config.MaxParallelUploads))
	r.captured = 0
	r.audioSec = 0
	r.uploaded = make(map[int]bool)
	r.failed = make(map[int]error)

	if err := r.engine.Start(ctx, mode, sessionID); err != nil {
		r.session = ""
		r.group = nil
		r.mu.Unlock()
		return err
	}
	r.runDone = make(chan struct{})
	r.consumed = make(chan struct{})
	go r.consumeErrors(group, r.runDone, r.consumed)

	now := r.now().UTC()
	r.rec = chunk.RecordingState{
		SessionID: sessionID,
		Recording: true,
		StartedAt: now,
		Mode:      mode,
		UpdatedAt: now,
	}
	r.state = StateRecording
	st := r.rec
	r.mu.Unlock()

	r.saveState(ctx, st)
	r.setStatus(ctx, sessionID, chunk.StatusRecording, nil)

	r.logger.Info("Recording started",
		slog.String("session_id", sessionID),
		slog.String("mode", string(mode)))
	return nil
}

// Pause suspends recording without releasing the audio sources
func (r *Recorder) Pause(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateRecording || r.stopping {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: cannot pause while %s", chunk.ErrInvalidTransition, state)
	}
	if err := r.engine.Pause(); err != nil {
		r.mu.Unlock()
		return err
	}

	now := r.now().UTC()
	r.rec.Paused = true
	r.rec.PausedAt = &now
	r.rec.ChunkCount = r.captured
	r.rec.UpdatedAt = now
	r.state = StatePaused
	st, sessionID := r.rec, r.session
	r.mu.Unlock()

	r.saveState(ctx, st)
	r.setStatus(ctx, sessionID, chunk.StatusPaused, nil)
	return nil
}

// Resume continues a paused recording in the same chunk sequence
func (r *Recorder) Resume(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StatePaused || r.stopping {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: cannot resume while %s", chunk.ErrInvalidTransition, state)
	}
	if err := r.engine.Resume(); err != nil {
		r.mu.Unlock()
		return err
	}

	now := r.now().UTC()
	r.closePause(now)
	r.rec.ChunkCount = r.captured
	r.rec.UpdatedAt = now
	r.state = StateRecording
	st, sessionID := r.rec, r.session
	r.mu.Unlock()

	r.saveState(ctx, st)
	r.setStatus(ctx, sessionID, chunk.StatusRecording, nil)
	return nil
}

// Stop flushes the final chunk, waits a bounded time for in-flight chunk tasks, marks the
// session completed, and deletes the persisted RecordingState. Tasks still running after
// the drain timeout keep running in the background.
func (r *Recorder) Stop(ctx context.Context) (*StopResult, error) {
	r.mu.Lock()
	if (r.state != StateRecording && r.state != StatePaused) || r.stopping {
		state := r.state
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot stop while %s", chunk.ErrInvalidTransition, state)
	}
	r.stopping = true
	sessionID, group, runDone := r.session, r.group, r.runDone
	r.mu.Unlock()

	flushed, captureErr := r.engine.Stop()
	unresolved := group.Wait(r.config.DrainTimeout)
	close(runDone)

	r.mu.Lock()
	now := r.now().UTC()
	r.closePause(now)
	duration := r.audioSec
	if duration <= 0 {
		duration = r.rec.ElapsedRecording(now).Seconds()
	}
	result := &StopResult{
		SessionID:  sessionID,
		Flushed:    flushed,
		Chunks:     r.captured,
		Uploaded:   len(r.uploaded),
		Failed:     sortedKeys(r.failed),
		Unresolved: unresolved,
		Duration:   duration,
	}
	r.state = StateCompleted
	r.stopping = false
	r.mu.Unlock()

	r.setStatus(ctx, sessionID, chunk.StatusCompleted, &duration)
	if err := r.local.DeleteState(ctx, sessionID); err != nil {
		r.metrics.RecordLocalCacheFailure("delete_state")
		r.logger.Warn("Failed to delete recording state",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}

	r.logger.Info("Recording stopped",
		slog.String("session_id", sessionID),
		slog.Int("chunks", result.Chunks),
		slog.Int("uploaded", result.Uploaded),
		slog.Int("failed", len(result.Failed)),
		slog.Int("unresolved", unresolved),
		slog.Float64("duration", duration),
		slog.Bool("flushed", flushed))

	if captureErr != nil {
		return result, fmt.Errorf("release capture sources: %w", captureErr)
	}
	return result, nil
}

// State returns the current lifecycle state
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SessionID returns the session of the current or last recording
func (r *Recorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// CaptureDone is closed when capture ends, including on end of input or device error
func (r *Recorder) CaptureDone() <-chan struct{} {
	return r.engine.Done()
}

// Live reports whether the audio sources are still held
func (r *Recorder) Live() bool {
	return r.engine.Live()
}

// Failed returns the indices whose upload failed in the current recording
func (r *Recorder) Failed() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.failed)
}

// Close cancels background tasks still running. The recorder cannot be used afterwards.
func (r *Recorder) Close() error {
	r.mu.Lock()
	active := r.state == StateRecording || r.state == StatePaused
	r.mu.Unlock()

	var err error
	if active {
		_, err = r.Stop(context.Background())
	}
	r.cancel()
	return err
}

func (r *Recorder) handleChunk(c capture.Chunk) {
	r.mu.Lock()
	sessionID, group := r.session, r.group
	r.captured++
	r.audioSec += c.Duration.Seconds()
	r.mu.Unlock()

	ac := chunk.AudioChunk{
		ID:         chunk.DeriveID(sessionID, c.Index),
		SessionID:  sessionID,
		Index:      c.Index,
		Data:       c.Data,
		Size:       len(c.Data),
		Duration:   c.Duration.Seconds(),
		CapturedAt: c.CapturedAt.UTC(),
	}

	group.Go(fmt.Sprintf("cache:%d", c.Index), func(ctx context.Context) error {
		if err := r.local.Put(ctx, ac); err != nil {
			r.metrics.RecordLocalCacheFailure("put")
			return fmt.Errorf("cache chunk %d: %w", ac.Index, err)
		}
		return nil
	})

	group.Go(fmt.Sprintf("upload:%d", c.Index), func(ctx context.Context) error {
		return r.upload(ctx, ac)
	})
}

func (r *Recorder) upload(ctx context.Context, ac chunk.AudioChunk) error {
	r.mu.Lock()
	sem := r.uploads
	r.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		r.markFailed(ac.SessionID, ac.Index, err)
		return &chunk.UploadError{SessionID: ac.SessionID, Index: ac.Index, Err: err}
	}
	defer sem.Release(1)

	if r.config.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.UploadTimeout)
		defer cancel()
	}

	_, err := r.uploader.Upload(ctx, uploader.Request{
		SessionID:  ac.SessionID,
		Index:      ac.Index,
		Data:       ac.Data,
		Duration:   ac.Duration,
		CapturedAt: ac.CapturedAt,
	})
	if err != nil {
		r.markFailed(ac.SessionID, ac.Index, err)
		if !errors.Is(err, chunk.ErrChunkUploadFailed) && !errors.Is(err, chunk.ErrChunkIndexOutOfRange) {
			err = &chunk.UploadError{SessionID: ac.SessionID, Index: ac.Index, Err: err}
		}
		return err
	}

	r.markUploaded(ac.SessionID, ac.Index)
	return nil
}

func (r *Recorder) markFailed(sessionID string, index int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sessionID == r.session {
		r.failed[index] = err
	}
}

func (r *Recorder) markUploaded(sessionID string, index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sessionID == r.session {
		r.uploaded[index] = true
		delete(r.failed, index)
	}
}

// consumeErrors forwards task failures of one run until the run is stopped, then
// forwards what is already buffered and exits. Later failures of unresolved tasks are
// dropped by the group with a log line.
func (r *Recorder) consumeErrors(group *tasks.Group, runDone <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)
	for {
		select {
		case te := <-group.Errors():
			r.reportTaskError(te)
		case <-runDone:
			for {
				select {
				case te := <-group.Errors():
					r.reportTaskError(te)
				default:
					return
				}
			}
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Recorder) reportTaskError(te *tasks.TaskError) {
	r.logger.Warn("Chunk task failed",
		slog.String("task", te.Name),
		slog.String("error", te.Err.Error()))
	if r.onError != nil {
		r.onError(te)
	}
}

func (r *Recorder) handleCaptureError(err error) {
	if r.onError != nil {
		r.onError(err)
	}
}

// closePause folds an open pause interval into PausedDuration. Caller holds mu.
func (r *Recorder) closePause(now time.Time) {
	if r.rec.PausedAt != nil {
		if now.After(*r.rec.PausedAt) {
			r.rec.PausedDuration += now.Sub(*r.rec.PausedAt)
		}
		r.rec.PausedAt = nil
	}
	r.rec.Paused = false
}

func (r *Recorder) saveState(ctx context.Context, st chunk.RecordingState) {
	if err := r.local.SaveState(ctx, st); err != nil {
		r.metrics.RecordLocalCacheFailure("save_state")
		r.logger.Warn("Failed to persist recording state",
			slog.String("session_id", st.SessionID),
			slog.String("error", err.Error()))
	}
}

func (r *Recorder) setStatus(ctx context.Context, sessionID string, status chunk.Status, duration *float64) {
	if r.status == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.config.StatusTimeout)
	defer cancel()

	if _, err := r.status.UpdateStatus(ctx, sessionID, status, duration); err != nil {
		r.logger.Warn("Failed to update session status",
			slog.String("session_id", sessionID),
			slog.String("status", string(status)),
			slog.String("error", err.Error()))
		return
	}
	r.metrics.RecordStatusTransition(string(status))
}

func sortedKeys(m map[int]error) []int {
	if len(m) == 0 {
		return nil
	}
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
