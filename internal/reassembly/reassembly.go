package reassembly

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/skypro1111/chunkrec/internal/audio"
	"github.com/skypro1111/chunkrec/internal/chunk"
	"github.com/skypro1111/chunkrec/internal/metrics"
)

// DefaultStreamingThreshold is the chunk count above which output is streamed
const DefaultStreamingThreshold = 50

const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// LocalSource lists cached chunks
type LocalSource interface {
	GetAll(ctx context.Context, sessionID string) ([]chunk.AudioChunk, error)
}

// RemoteSource lists chunks from durable storage
type RemoteSource interface {
	ListChunks(ctx context.Context, sessionID string, withPayload bool) ([]chunk.AudioChunk, error)
}

// Engine reassembles sessions
type Engine struct {
	local     LocalSource
	remote    RemoteSource
	threshold int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithStreamingThreshold sets the chunk count above which output is streamed
func WithStreamingThreshold(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.threshold = n
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an engine. Either source may be nil, but not both.
func New(local LocalSource, remote RemoteSource, opts ...Option) *Engine {
	e := &Engine{
		local:     local,
		remote:    remote,
		threshold: DefaultStreamingThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is a reassembled session
type Result struct {
	SessionID     string
	Source        string
	Chunks        []chunk.AudioChunk // included chunks in index order
	Skipped       []int
	TotalDuration float64 // seconds
	Size          int64   // bytes across included chunks
	Streaming     bool

	joined []byte
}

// Reassemble gathers, filters, and orders the session's chunks. Missing data is not an
// error: check Result.Skipped or Result.Incomplete.
func (e *Engine) Reassemble(ctx context.Context, sessionID string) (*Result, error) {
	all, usable, source, err := e.gather(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(usable, func(i, j int) bool { return usable[i].Index < usable[j].Index })

	res := &Result{SessionID: sessionID, Source: source}
	seen := make(map[int]bool, len(usable))
	for _, c := range usable {
		if seen[c.Index] {
			continue
		}
		seen[c.Index] = true
		res.Chunks = append(res.Chunks, c)
		res.TotalDuration += c.Duration
		res.Size += int64(len(c.Data))
	}

	highest := -1
	for _, c := range all {
		if c.Index > highest {
			highest = c.Index
		}
	}
	for idx := 0; idx <= highest; idx++ {
		if !seen[idx] {
			res.Skipped = append(res.Skipped, idx)
		}
	}

	res.Streaming = len(res.Chunks) > e.threshold
	if !res.Streaming {
		res.joined = make([]byte, 0, res.Size)
		for _, c := range res.Chunks {
			res.joined = append(res.joined, c.Data...)
		}
	}

	e.metrics.RecordReassembly(source, len(res.Skipped), res.Size, res.TotalDuration)

	level := slog.LevelInfo
	if len(res.Skipped) > 0 {
		level = slog.LevelWarn
	}
	e.logger.Log(ctx, level, "Session reassembled",
		slog.String("session_id", sessionID),
		slog.String("source", source),
		slog.Int("chunks", len(res.Chunks)),
		slog.Int("skipped", len(res.Skipped)),
		slog.Float64("total_duration", res.TotalDuration),
		slog.Int64("size", res.Size),
		slog.Bool("streaming", res.Streaming))

	return res, nil
}

// gather returns every fetched chunk (for index coverage) and the usable subset
func (e *Engine) gather(ctx context.Context, sessionID string) (all, usable []chunk.AudioChunk, source string, err error) {
	if e.local != nil {
		cached, lerr := e.local.GetAll(ctx, sessionID)
		if lerr != nil {
			e.metrics.RecordLocalCacheFailure("reassemble")
			e.logger.Debug("Local cache unavailable, using durable storage",
				slog.String("session_id", sessionID),
				slog.String("error", lerr.Error()))
		}
		for _, c := range cached {
			if c.Valid() {
				usable = append(usable, c)
			}
		}
		if len(usable) > 0 {
			return cached, usable, SourceLocal, nil
		}
	}

	if e.remote == nil {
		return nil, nil, SourceLocal, nil
	}

	fetched, rerr := e.remote.ListChunks(ctx, sessionID, true)
	if rerr != nil {
		return nil, nil, "", fmt.Errorf("fetch chunks for session %s: %w", sessionID, rerr)
	}
	usable = usable[:0]
	for _, c := range fetched {
		if c.Valid() && c.Duration > 0 {
			usable = append(usable, c)
		}
	}
	return fetched, usable, SourceRemote, nil
}

// Incomplete returns a *chunk.IncompleteError when chunks were skipped, nil otherwise
func (r *Result) Incomplete() error {
	if len(r.Skipped) == 0 {
		return nil
	}
	return &chunk.IncompleteError{SessionID: r.SessionID, Skipped: append([]int(nil), r.Skipped...)}
}

// Empty reports whether no usable chunk was found
func (r *Result) Empty() bool {
	return len(r.Chunks) == 0
}

// Reader returns a fresh reader over the concatenated stream. Each call starts from the beginning.
func (r *Result) Reader() io.Reader {
	if !r.Streaming {
		return bytes.NewReader(r.joined)
	}
	readers := make([]io.Reader, len(r.Chunks))
	for i := range r.Chunks {
		readers[i] = bytes.NewReader(r.Chunks[i].Data)
	}
	return io.MultiReader(readers...)
}

// Bytes returns the concatenated stream as one buffer. For streaming results this
// materializes the stream once.
func (r *Result) Bytes() []byte {
	if !r.Streaming {
		return r.joined
	}
	out := make([]byte, 0, r.Size)
	for _, c := range r.Chunks {
		out = append(out, c.Data...)
	}
	return out
}

// WriteWAV writes the stream to w as a WAV file
func (r *Result) WriteWAV(w io.Writer, sampleRate, channels int) (int64, error) {
	if err := audio.WriteWAVHeader(w, r.Size, sampleRate, channels); err != nil {
		return 0, err
	}
	n, err := io.Copy(w, r.Reader())
	if err != nil {
		return int64(audio.WAVHeaderSize) + n, fmt.Errorf("write audio data: %w", err)
	}
	return int64(audio.WAVHeaderSize) + n, nil
}
