package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skypro1111/chunkrec/internal/audio"
	"github.com/skypro1111/chunkrec/internal/chunk"
)

func testEngineConfig() Config {
	return Config{
		ChunkDuration: 30 * time.Second,
		StopTimeout:   2 * time.Second,
		SampleRate:    1000,
		Channels:      1,
		FrameSize:     testFrameSamples,
		PrimaryGain:   1,
		SecondaryGain: 1,
	}
}

func testClock() *MediaClock {
	return NewMediaClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), 1000, 1)
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("Timed out waiting for %s", what)
	}
}

func TestEngineNinetyFiveSecondRecording(t *testing.T) {
	sink := &chunkSink{}
	mic := newFakeSource("mic", 950, 1000, testClock())

	e := NewEngine(testEngineConfig(), Sources{Primary: mic}, sink.onChunk, WithErrorHandler(sink.onError))
	if err := e.Start(context.Background(), chunk.ModeSingleSource, "session-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitClosed(t, mic.drained, "source to drain")

	flushed, err := e.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !flushed {
		t.Error("Expected final flush to complete")
	}

	chunks, errs := sink.snapshot()
	if len(errs) != 0 {
		t.Errorf("Unexpected errors: %v", errs)
	}

	expected := []time.Duration{30 * time.Second, 30 * time.Second, 30 * time.Second, 5 * time.Second}
	if len(chunks) != len(expected) {
		t.Fatalf("Expected %d chunks, got %d", len(expected), len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("Chunk %d: index %d", i, c.Index)
		}
		if c.Duration != expected[i] {
			t.Errorf("Chunk %d: expected %v, got %v", i, expected[i], c.Duration)
		}
	}

	if mic.Live() || e.Live() {
		t.Error("Source must be released after stop")
	}
	if e.State() != StateStopped {
		t.Errorf("Expected stopped state, got %s", e.State())
	}
}

func TestEngineStopTimeoutReleasesSources(t *testing.T) {
	sink := &chunkSink{}
	mic := newFakeSource("mic", 5, 1000, testClock())
	mic.block = true

	cfg := testEngineConfig()
	cfg.StopTimeout = 50 * time.Millisecond

	e := NewEngine(cfg, Sources{Primary: mic}, sink.onChunk)
	if err := e.Start(context.Background(), chunk.ModeSingleSource, "session-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitClosed(t, mic.drained, "source to drain")

	flushed, err := e.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if flushed {
		t.Error("Expected flush to time out")
	}
	if mic.Live() {
		t.Error("Source must be released even when the flush times out")
	}

	waitClosed(t, e.Done(), "capture loop to exit")
	if chunks, _ := sink.snapshot(); len(chunks) != 0 {
		t.Errorf("Expected no final chunk after timeout, got %d", len(chunks))
	}
}

func TestEngineEndOfInputFlushes(t *testing.T) {
	sink := &chunkSink{}
	file := newFakeSource("file", 420, 7, testClock())
	file.eof = true

	e := NewEngine(testEngineConfig(), Sources{Primary: file}, sink.onChunk)
	if err := e.Start(context.Background(), chunk.ModeSingleSource, "session-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitClosed(t, e.Done(), "capture loop to exit")

	chunks, errs := sink.snapshot()
	if len(errs) != 0 {
		t.Errorf("End of input must not be reported as an error: %v", errs)
	}
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}
	if chunks[1].Duration != 12*time.Second {
		t.Errorf("Expected final chunk of 12s, got %v", chunks[1].Duration)
	}
	if file.Live() {
		t.Error("Source must be released at end of input")
	}
	if e.State() != StateStopped {
		t.Errorf("Expected stopped state, got %s", e.State())
	}
}

func TestEngineMixedRequiresSecondaryAudio(t *testing.T) {
	sink := &chunkSink{}
	mic := newFakeSource("mic", 10, 1, testClock())
	tab := newFakeSource("tab", 10, 1, nil)
	tab.hasAudio = false

	e := NewEngine(testEngineConfig(), Sources{Primary: mic, Secondary: tab}, sink.onChunk, WithErrorHandler(sink.onError))
	err := e.Start(context.Background(), chunk.ModeMixedSource, "session-1")
	if !errors.Is(err, chunk.ErrSourceUnavailable) {
		t.Fatalf("Expected ErrSourceUnavailable, got %v", err)
	}

	if _, errs := sink.snapshot(); len(errs) != 1 {
		t.Errorf("Expected error callback once, got %d", len(errs))
	}
	if mic.Live() || tab.Live() {
		t.Error("Sources must be released after failed start")
	}
	if e.State() != StateIdle {
		t.Errorf("Expected idle state, got %s", e.State())
	}
}

func TestEngineMixedWithoutSecondary(t *testing.T) {
	mic := newFakeSource("mic", 10, 1, testClock())

	e := NewEngine(testEngineConfig(), Sources{Primary: mic}, nil)
	if err := e.Start(context.Background(), chunk.ModeMixedSource, "session-1"); !errors.Is(err, chunk.ErrSourceUnavailable) {
		t.Fatalf("Expected ErrSourceUnavailable, got %v", err)
	}
}

func TestEngineOpenFailure(t *testing.T) {
	sink := &chunkSink{}
	mic := newFakeSource("mic", 10, 1, testClock())
	mic.openErr = errors.New("permission denied")

	e := NewEngine(testEngineConfig(), Sources{Primary: mic}, sink.onChunk, WithErrorHandler(sink.onError))
	err := e.Start(context.Background(), chunk.ModeSingleSource, "session-1")
	if !errors.Is(err, chunk.ErrSourceUnavailable) {
		t.Fatalf("Expected ErrSourceUnavailable, got %v", err)
	}
	if _, errs := sink.snapshot(); len(errs) != 1 {
		t.Errorf("Expected error callback once, got %d", len(errs))
	}
	if e.State() != StateIdle {
		t.Errorf("Expected idle state, got %s", e.State())
	}
}

func TestEngineMixesSources(t *testing.T) {
	sink := &chunkSink{}
	mic := newFakeSource("mic", 20, 100, testClock())
	mic.eof = true
	tab := newFakeSource("tab", 20, 50, nil)

	cfg := testEngineConfig()
	cfg.SecondaryGain = 0.5

	e := NewEngine(cfg, Sources{Primary: mic, Secondary: tab}, sink.onChunk)
	if err := e.Start(context.Background(), chunk.ModeMixedSource, "session-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitClosed(t, e.Done(), "capture loop to exit")

	chunks, _ := sink.snapshot()
	if len(chunks) != 1 {
		t.Fatalf("Expected one chunk, got %d", len(chunks))
	}

	samples := audio.BytesToSamples(chunks[0].Data)
	if len(samples) != 20*testFrameSamples {
		t.Fatalf("Expected %d samples, got %d", 20*testFrameSamples, len(samples))
	}
	for i, s := range samples {
		if s != 125 {
			t.Fatalf("Sample %d: expected mixed value 125, got %d", i, s)
		}
	}
	if tab.Live() {
		t.Error("Secondary source must be released")
	}
}

func TestEnginePauseTransitions(t *testing.T) {
	mic := newFakeSource("mic", 0, 0, testClock())
	e := NewEngine(testEngineConfig(), Sources{Primary: mic}, nil)

	if err := e.Pause(); !errors.Is(err, chunk.ErrInvalidTransition) {
		t.Errorf("Pause before start: expected ErrInvalidTransition, got %v", err)
	}

	if err := e.Start(context.Background(), chunk.ModeSingleSource, "session-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := e.Resume(); !errors.Is(err, chunk.ErrInvalidTransition) {
		t.Errorf("Resume while capturing: expected ErrInvalidTransition, got %v", err)
	}
	if err := e.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if e.State() != StatePaused {
		t.Errorf("Expected paused state, got %s", e.State())
	}
	if !mic.Live() {
		t.Error("Pause must not release the source")
	}
	if err := e.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	if _, err := e.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if mic.Live() {
		t.Error("Source must be released after stop")
	}
}

func TestEngineRequiresSession(t *testing.T) {
	mic := newFakeSource("mic", 0, 0, testClock())
	e := NewEngine(testEngineConfig(), Sources{Primary: mic}, nil)

	if err := e.Start(context.Background(), chunk.ModeSingleSource, ""); err == nil {
		t.Error("Expected error without session reference")
	}
	if mic.Live() {
		t.Error("Source must not be opened without a session")
	}
}
