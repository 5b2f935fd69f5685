package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/chunkrec/internal/audio"
	"github.com/skypro1111/chunkrec/internal/chunk"
)

// EngineState represents the lifecycle state of the engine
type EngineState int

const (
	StateIdle EngineState = iota
	StateCapturing
	StatePaused
	StateStopping
	StateStopped
)

// String returns the state label
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config contains the chunking parameters
type Config struct {
	ChunkDuration time.Duration
	StopTimeout   time.Duration
	SampleRate    int
	Channels      int
	FrameSize     int // samples per channel read per frame
	PrimaryGain   float64
	SecondaryGain float64
}

// DefaultConfig returns 30 second chunks of 16kHz mono
func DefaultConfig() Config {
	return Config{
		ChunkDuration: 30 * time.Second,
		StopTimeout:   2 * time.Second,
		SampleRate:    16000,
		Channels:      1,
		FrameSize:     1024,
		PrimaryGain:   1,
		SecondaryGain: 1,
	}
}

// Sources holds the inputs the engine may acquire. Secondary is only used in mixed mode.
type Sources struct {
	Primary   Source
	Secondary Source
}

// ChunkHandler receives each finalized chunk
type ChunkHandler func(c Chunk)

// ErrorHandler receives acquisition and mid-recording errors
type ErrorHandler func(err error)

// Observer receives capture measurements, used for metrics
type Observer interface {
	RecordChunkCaptured(duration time.Duration, size int)
}

// clocked is implemented by sources that carry their own timeline
type clocked interface {
	Clock() Clock
}

// Engine slices the output of an AudioGraph into fixed-duration chunks
type Engine struct {
	config   Config
	sources  Sources
	clock    Clock
	onChunk  ChunkHandler
	onError  ErrorHandler
	observer Observer
	logger   *slog.Logger

	state     EngineState
	mode      chunk.CaptureMode
	sessionID string
	graph     *AudioGraph
	slicer    *slicer
	runClock  Clock

	stopCh    chan struct{}
	flushed   chan struct{}
	done      chan struct{}
	abandoned atomic.Bool
	release   *sync.Once

	mu sync.Mutex
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithClock overrides the clock used for duration measurement
func WithClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithErrorHandler sets the error callback
func WithErrorHandler(h ErrorHandler) EngineOption {
	return func(e *Engine) { e.onError = h }
}

// WithObserver sets the measurement observer
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates a capture engine
func NewEngine(config Config, sources Sources, onChunk ChunkHandler, opts ...EngineOption) *Engine {
	if config.FrameSize <= 0 {
		config.FrameSize = DefaultConfig().FrameSize
	}
	if config.Channels <= 0 {
		config.Channels = 1
	}
	e := &Engine{
		config:  config,
		sources: sources,
		onChunk: onChunk,
		logger:  slog.Default(),
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start acquires the sources for mode and begins capture. Acquisition failures are reported
// through the error handler as well as returned, and leave the engine not started.
func (e *Engine) Start(ctx context.Context, mode chunk.CaptureMode, sessionID string) error {
	acquired, err := e.start(ctx, mode, sessionID)
	if err != nil && !acquired {
		e.reportError(err)
	}
	return err
}

// start reports acquired=true for errors that are not source acquisition failures
func (e *Engine) start(ctx context.Context, mode chunk.CaptureMode, sessionID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateCapturing || e.state == StatePaused || e.state == StateStopping {
		return true, fmt.Errorf("%w: capture already running in state %s", chunk.ErrInvalidTransition, e.state)
	}
	if sessionID == "" {
		return true, fmt.Errorf("session reference is required")
	}

	var secondary Source
	switch mode {
	case chunk.ModeSingleSource:
	case chunk.ModeMixedSource:
		if e.sources.Secondary == nil {
			return false, fmt.Errorf("%w: mixed capture requires a secondary source", chunk.ErrSourceUnavailable)
		}
		secondary = e.sources.Secondary
	default:
		return false, fmt.Errorf("%w: unsupported capture mode %q", chunk.ErrSourceUnavailable, mode)
	}

	graph := NewAudioGraph(e.sources.Primary, secondary, e.config.PrimaryGain, e.config.SecondaryGain)
	if err := graph.Connect(ctx); err != nil {
		return false, err
	}

	e.runClock = e.clock
	if e.runClock == nil {
		if c, ok := e.sources.Primary.(clocked); ok {
			e.runClock = c.Clock()
		} else {
			e.runClock = SystemClock()
		}
	}

	bytesPerChunk := int(e.config.ChunkDuration.Seconds()*float64(e.config.SampleRate)) * e.config.Channels * 2
	e.graph = graph
	e.slicer = newSlicer(e.config.ChunkDuration, e.runClock.Now(), bytesPerChunk)
	e.mode = mode
	e.sessionID = sessionID
	e.stopCh = make(chan struct{})
	e.flushed = make(chan struct{})
	e.done = make(chan struct{})
	e.abandoned.Store(false)
	e.release = &sync.Once{}
	e.state = StateCapturing

	e.logger.Info("Capture started",
		slog.String("session_id", sessionID),
		slog.String("mode", string(mode)),
		slog.Duration("chunk_duration", e.config.ChunkDuration))

	go e.pump(graph, e.slicer, e.stopCh, e.flushed, e.done)
	return true, nil
}

// Pause suspends chunk emission without releasing the sources
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateCapturing {
		return fmt.Errorf("%w: cannot pause in state %s", chunk.ErrInvalidTransition, e.state)
	}
	e.slicer.pause(e.runClock.Now())
	e.state = StatePaused

	e.logger.Info("Capture paused", slog.String("session_id", e.sessionID))
	return nil
}

// Resume continues the chunk sequence after Pause
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePaused {
		return fmt.Errorf("%w: cannot resume in state %s", chunk.ErrInvalidTransition, e.state)
	}
	e.slicer.resume(e.runClock.Now())
	e.state = StateCapturing

	e.logger.Info("Capture resumed", slog.String("session_id", e.sessionID))
	return nil
}

// Stop flushes the in-progress chunk and releases the sources. It waits at most
// StopTimeout for the final chunk; on timeout the final chunk is dropped. The sources are
// released on every path. Returns whether the final flush completed.
func (e *Engine) Stop() (bool, error) {
	e.mu.Lock()
	switch e.state {
	case StateIdle:
		e.mu.Unlock()
		return false, nil
	case StateStopped:
		graph := e.graph
		e.mu.Unlock()
		return true, e.releaseGraph(graph)
	case StateStopping:
		e.mu.Unlock()
		return false, fmt.Errorf("stop already in progress")
	}
	e.state = StateStopping
	graph := e.graph
	stopCh, flushed, sessionID := e.stopCh, e.flushed, e.sessionID
	e.mu.Unlock()

	close(stopCh)

	timeout := e.config.StopTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().StopTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	ok := true
	select {
	case <-flushed:
	case <-timer.C:
		ok = false
		e.abandoned.Store(true)
		e.logger.Warn("Final chunk flush timed out",
			slog.String("session_id", sessionID),
			slog.Duration("timeout", timeout))
	}

	err := e.releaseGraph(graph)

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()

	e.logger.Info("Capture stopped",
		slog.String("session_id", sessionID),
		slog.Bool("flushed", ok))
	return ok, err
}

// Done is closed once the capture loop has exited
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return e.done
}

// State returns the current engine state
func (e *Engine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Mode returns the capture mode of the current run
func (e *Engine) Mode() chunk.CaptureMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// ChunkElapsed returns the unpaused time accumulated in the in-progress chunk
func (e *Engine) ChunkElapsed() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.slicer == nil {
		return 0
	}
	return e.slicer.elapsed(e.runClock.Now())
}

// Live reports whether any source is still held
func (e *Engine) Live() bool {
	e.mu.Lock()
	graph := e.graph
	e.mu.Unlock()

	return graph != nil && graph.Live()
}

func (e *Engine) pump(graph *AudioGraph, s *slicer, stopCh <-chan struct{}, flushed, done chan struct{}) {
	defer close(done)

	frame := make([]int16, e.config.FrameSize*e.config.Channels)

	for {
		select {
		case <-stopCh:
			e.finish(s)
			close(flushed)
			return
		default:
		}

		n, err := graph.ReadFrame(frame)
		if n > 0 {
			e.mu.Lock()
			c := s.feed(frame[:n], e.runClock.Now())
			e.mu.Unlock()
			if c != nil {
				e.emit(c)
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) && !e.abandoned.Load() {
				e.reportError(fmt.Errorf("capture read failed: %w", err))
			}
			e.finish(s)
			close(flushed)
			e.selfStop(graph)
			return
		}
	}
}

// finish emits whatever is buffered as the final chunk
func (e *Engine) finish(s *slicer) {
	e.mu.Lock()
	c := s.flush(e.runClock.Now())
	e.mu.Unlock()

	if c != nil {
		e.emit(c)
	}
}

// selfStop handles the capture loop ending on its own (end of input or device error)
func (e *Engine) selfStop(graph *AudioGraph) {
	if err := e.releaseGraph(graph); err != nil {
		e.logger.Warn("Failed to release sources", slog.String("error", err.Error()))
	}

	e.mu.Lock()
	if e.state == StateCapturing || e.state == StatePaused {
		e.state = StateStopped
	}
	e.mu.Unlock()
}

func (e *Engine) emit(c *Chunk) {
	if e.abandoned.Load() {
		return
	}

	e.logger.Debug("Chunk finalized",
		slog.String("session_id", e.sessionID),
		slog.Int("index", c.Index),
		slog.Int("size", len(c.Data)),
		slog.Duration("duration", c.Duration),
		slog.Duration("nominal", audio.PCMDuration(len(c.Data), e.config.SampleRate, e.config.Channels)))

	if e.observer != nil {
		e.observer.RecordChunkCaptured(c.Duration, len(c.Data))
	}
	if e.onChunk != nil {
		e.onChunk(*c)
	}
}

func (e *Engine) releaseGraph(graph *AudioGraph) error {
	e.mu.Lock()
	once := e.release
	e.mu.Unlock()
	if once == nil {
		return nil
	}

	var err error
	once.Do(func() {
		if graph != nil {
			err = graph.Teardown()
		}
	})
	return err
}

func (e *Engine) reportError(err error) {
	e.logger.Error("Capture error",
		slog.String("session_id", e.sessionID),
		slog.String("error", err.Error()))
	if e.onError != nil {
		e.onError(err)
	}
}
