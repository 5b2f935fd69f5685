package capture

import (
	"context"
	"sync"
	"time"
)

// Source is a live audio input. ReadFrame blocks until samples are available and returns
// io.EOF when the input has ended. Implementations must unblock ReadFrame on Close.
type Source interface {
	Name() string
	Open(ctx context.Context) error
	// HasAudio reports whether the opened source carries an audio track
	HasAudio() bool
	ReadFrame(dst []int16) (int, error)
	// Live reports whether the underlying device or file is still held
	Live() bool
	Close() error
}

// Clock provides the time used to measure chunk durations
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock
func SystemClock() Clock { return systemClock{} }

// MediaClock derives time from the number of frames read from a source, for inputs that
// are not paced in real time such as files
type MediaClock struct {
	origin     time.Time
	sampleRate int
	channels   int
	samples    int64
	mu         sync.Mutex
}

// NewMediaClock creates a clock starting at origin
func NewMediaClock(origin time.Time, sampleRate, channels int) *MediaClock {
	if channels <= 0 {
		channels = 1
	}
	return &MediaClock{origin: origin, sampleRate: sampleRate, channels: channels}
}

// Advance moves the clock forward by n interleaved samples
func (c *MediaClock) Advance(n int) {
	c.mu.Lock()
	c.samples += int64(n)
	c.mu.Unlock()
}

// Now implements Clock
func (c *MediaClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sampleRate <= 0 {
		return c.origin
	}
	frames := c.samples / int64(c.channels)
	return c.origin.Add(time.Duration(frames) * time.Second / time.Duration(c.sampleRate))
}
