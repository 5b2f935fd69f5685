package capture

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

var errSourceClosed = errors.New("source closed")

// fakeSource delivers a fixed number of constant frames and then idles like a live device
type fakeSource struct {
	name     string
	frames   int
	value    int16
	hasAudio bool
	openErr  error
	eof      bool // end with io.EOF instead of idling
	block    bool // block until Close once frames are exhausted
	clock    *MediaClock

	mu        sync.Mutex
	delivered int
	live      bool
	closed    chan struct{}
	drained   chan struct{}
	drainOnce sync.Once
}

func newFakeSource(name string, frames int, value int16, clock *MediaClock) *fakeSource {
	return &fakeSource{
		name:     name,
		frames:   frames,
		value:    value,
		hasAudio: true,
		clock:    clock,
		closed:   make(chan struct{}),
		drained:  make(chan struct{}),
	}
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Open(context.Context) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.mu.Lock()
	f.live = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) HasAudio() bool { return f.hasAudio }

func (f *fakeSource) Clock() Clock {
	if f.clock == nil {
		return SystemClock()
	}
	return f.clock
}

func (f *fakeSource) ReadFrame(dst []int16) (int, error) {
	select {
	case <-f.closed:
		return 0, errSourceClosed
	default:
	}

	f.mu.Lock()
	if f.delivered < f.frames {
		f.delivered++
		f.mu.Unlock()
		for i := range dst {
			dst[i] = f.value
		}
		if f.clock != nil {
			f.clock.Advance(len(dst))
		}
		return len(dst), nil
	}
	f.mu.Unlock()

	f.drainOnce.Do(func() { close(f.drained) })

	if f.eof {
		return 0, io.EOF
	}
	if f.block {
		<-f.closed
		return 0, errSourceClosed
	}

	select {
	case <-f.closed:
		return 0, errSourceClosed
	case <-time.After(time.Millisecond):
		return 0, nil
	}
}

func (f *fakeSource) Live() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.live {
		f.live = false
	}
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

// chunkSink collects emitted chunks
type chunkSink struct {
	mu     sync.Mutex
	chunks []Chunk
	errs   []error
}

func (s *chunkSink) onChunk(c Chunk) {
	s.mu.Lock()
	s.chunks = append(s.chunks, c)
	s.mu.Unlock()
}

func (s *chunkSink) onError(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *chunkSink) snapshot() ([]Chunk, []error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Chunk(nil), s.chunks...), append([]error(nil), s.errs...)
}
