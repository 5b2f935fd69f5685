package recorder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/skypro1111/chunkrec/internal/capture"
	"github.com/skypro1111/chunkrec/internal/chunk"
	"github.com/skypro1111/chunkrec/internal/uploader"
)

const (
	testSampleRate = 1000
	testFrame      = 100
)

var errClosed = errors.New("source closed")

// toneSource delivers a fixed number of frames paced by a media clock, then idles
type toneSource struct {
	frames  int
	clock   *capture.MediaClock
	drained chan struct{}
	closed  chan struct{}

	mu        sync.Mutex
	delivered int
	live      bool
	once      sync.Once
}

func newToneSource(frames int) *toneSource {
	return &toneSource{
		frames:  frames,
		clock:   capture.NewMediaClock(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), testSampleRate, 1),
		drained: make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

func (s *toneSource) Name() string { return "tone" }

func (s *toneSource) Open(context.Context) error {
	s.mu.Lock()
	s.live = true
	s.mu.Unlock()
	return nil
}

func (s *toneSource) HasAudio() bool { return true }

func (s *toneSource) Clock() capture.Clock { return s.clock }

func (s *toneSource) ReadFrame(dst []int16) (int, error) {
	s.mu.Lock()
	if s.delivered < s.frames {
		s.delivered++
		s.mu.Unlock()
		for i := range dst {
			dst[i] = 500
		}
		s.clock.Advance(len(dst))
		return len(dst), nil
	}
	s.mu.Unlock()

	s.once.Do(func() { close(s.drained) })
	select {
	case <-s.closed:
		return 0, errClosed
	case <-time.After(time.Millisecond):
		return 0, nil
	}
}

func (s *toneSource) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *toneSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live {
		s.live = false
		close(s.closed)
	}
	return nil
}

// fakeUploader records uploads and fails the indices in fail
type fakeUploader struct {
	mu       sync.Mutex
	requests []uploader.Request
	fail     map[int]error
}

func (u *fakeUploader) Upload(_ context.Context, req uploader.Request) (uploader.Result, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err, ok := u.fail[req.Index]; ok {
		return uploader.Result{}, err
	}
	created := true
	for _, prev := range u.requests {
		if prev.SessionID == req.SessionID && prev.Index == req.Index {
			created = false
		}
	}
	u.requests = append(u.requests, req)
	return uploader.Result{ID: chunk.DeriveID(req.SessionID, req.Index), Created: created}, nil
}

func (u *fakeUploader) snapshot() []uploader.Request {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]uploader.Request(nil), u.requests...)
}

func (u *fakeUploader) setFail(fail map[int]error) {
	u.mu.Lock()
	u.fail = fail
	u.mu.Unlock()
}

type statusUpdate struct {
	SessionID string
	Status    chunk.Status
	Duration  *float64
}

// fakeStatus records status updates
type fakeStatus struct {
	mu      sync.Mutex
	updates []statusUpdate
	err     error
}

func (s *fakeStatus) UpdateStatus(_ context.Context, sessionID string, status chunk.Status, duration *float64) (*chunk.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.updates = append(s.updates, statusUpdate{sessionID, status, duration})
	return &chunk.Session{ID: sessionID, Status: status, Duration: duration}, nil
}

func (s *fakeStatus) statuses() []chunk.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chunk.Status, len(s.updates))
	for i, u := range s.updates {
		out[i] = u.Status
	}
	return out
}

// blockingUploader holds every upload until release is closed
type blockingUploader struct {
	release chan struct{}
	mu      sync.Mutex
	started int
}

func (u *blockingUploader) Upload(_ context.Context, req uploader.Request) (uploader.Result, error) {
	u.mu.Lock()
	u.started++
	u.mu.Unlock()
	<-u.release
	return uploader.Result{ID: chunk.DeriveID(req.SessionID, req.Index), Created: true}, nil
}
