package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/skypro1111/chunkrec/internal/audio"
	"github.com/skypro1111/chunkrec/internal/chunk"
)

// AudioGraph connects one or two sources to a single output track. With a secondary
// source, each frame is the gain-weighted sum of both inputs.
type AudioGraph struct {
	primary       Source
	secondary     Source
	primaryGain   float64
	secondaryGain float64

	bufPrimary   []int16
	bufSecondary []int16

	connected bool
	torn      bool
	mu        sync.Mutex
}

// NewAudioGraph creates a graph. secondary may be nil for single-source capture.
func NewAudioGraph(primary, secondary Source, primaryGain, secondaryGain float64) *AudioGraph {
	if primaryGain == 0 {
		primaryGain = 1
	}
	if secondaryGain == 0 {
		secondaryGain = 1
	}
	return &AudioGraph{
		primary:       primary,
		secondary:     secondary,
		primaryGain:   primaryGain,
		secondaryGain: secondaryGain,
	}
}

// Mixed reports whether the graph sums two sources
func (g *AudioGraph) Mixed() bool {
	return g.secondary != nil
}

// Sources returns the connected sources
func (g *AudioGraph) Sources() []Source {
	if g.secondary == nil {
		return []Source{g.primary}
	}
	return []Source{g.primary, g.secondary}
}

// Connect opens every source. Any failure tears the graph down and returns an error
// wrapping chunk.ErrSourceUnavailable; a mixed graph whose secondary has no audio track
// fails the same way instead of degrading to the primary alone.
func (g *AudioGraph) Connect(ctx context.Context) error {
	if g.primary == nil {
		return fmt.Errorf("%w: no primary source", chunk.ErrSourceUnavailable)
	}

	for _, src := range g.Sources() {
		if err := src.Open(ctx); err != nil {
			g.Teardown()
			return fmt.Errorf("%w: open %s: %v", chunk.ErrSourceUnavailable, src.Name(), err)
		}
	}

	if !g.primary.HasAudio() {
		g.Teardown()
		return fmt.Errorf("%w: %s has no audio track", chunk.ErrSourceUnavailable, g.primary.Name())
	}
	if g.secondary != nil && !g.secondary.HasAudio() {
		g.Teardown()
		return fmt.Errorf("%w: secondary source %s has no audio track", chunk.ErrSourceUnavailable, g.secondary.Name())
	}

	g.mu.Lock()
	g.connected = true
	g.mu.Unlock()
	return nil
}

// ReadFrame reads one frame from the graph output into dst
func (g *AudioGraph) ReadFrame(dst []int16) (int, error) {
	if g.secondary == nil {
		n, err := g.primary.ReadFrame(dst)
		if g.primaryGain != 1 && n > 0 {
			audio.MixInto(dst[:n], dst[:n], nil, g.primaryGain, 0)
		}
		return n, err
	}

	if cap(g.bufPrimary) < len(dst) {
		g.bufPrimary = make([]int16, len(dst))
		g.bufSecondary = make([]int16, len(dst))
	}
	a := g.bufPrimary[:len(dst)]
	b := g.bufSecondary[:len(dst)]

	na, errA := g.primary.ReadFrame(a)
	nb, errB := g.secondary.ReadFrame(b)

	// Both inputs ended
	if na == 0 && nb == 0 && errA != nil && errB != nil {
		return 0, errA
	}

	n := audio.MixInto(dst, a[:na], b[:nb], g.primaryGain, g.secondaryGain)

	switch {
	case errA != nil:
		return n, fmt.Errorf("primary source %s: %w", g.primary.Name(), errA)
	case errB != nil:
		return n, fmt.Errorf("secondary source %s: %w", g.secondary.Name(), errB)
	}
	return n, nil
}

// Live reports whether any source is still held
func (g *AudioGraph) Live() bool {
	for _, src := range g.Sources() {
		if src != nil && src.Live() {
			return true
		}
	}
	return false
}

// Teardown closes every source. It is safe to call more than once.
func (g *AudioGraph) Teardown() error {
	g.mu.Lock()
	if g.torn {
		g.mu.Unlock()
		return nil
	}
	g.torn = true
	g.connected = false
	g.mu.Unlock()

	var errs []error
	for _, src := range g.Sources() {
		if src == nil {
			continue
		}
		if err := src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", src.Name(), err))
		}
	}
	return errors.Join(errs...)
}
