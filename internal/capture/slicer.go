package capture

import (
	"time"

	"github.com/skypro1111/chunkrec/internal/audio"
)

// Chunk is a finalized slice of captured audio
type Chunk struct {
	Index      int
	Data       []byte // raw PCM-16 LE
	Duration   time.Duration
	CapturedAt time.Time
}

// slicer accumulates frames and cuts them at fixed unpaused durations
type slicer struct {
	target time.Duration

	buf        []byte
	index      int
	chunkStart time.Time
	paused     bool
	pausedAt   time.Time
}

func newSlicer(target time.Duration, now time.Time, sizeHint int) *slicer {
	return &slicer{
		target:     target,
		buf:        make([]byte, 0, sizeHint),
		chunkStart: now,
	}
}

// feed appends samples and returns a chunk if the boundary was reached
func (s *slicer) feed(samples []int16, now time.Time) *Chunk {
	if s.paused {
		return nil
	}

	s.buf = audio.AppendSamples(s.buf, samples)

	if now.Sub(s.chunkStart) >= s.target {
		return s.cut(now)
	}
	return nil
}

func (s *slicer) pause(now time.Time) {
	if s.paused {
		return
	}
	s.paused = true
	s.pausedAt = now
}

func (s *slicer) resume(now time.Time) {
	if !s.paused {
		return
	}
	s.chunkStart = s.chunkStart.Add(now.Sub(s.pausedAt))
	s.paused = false
}

// flush returns the in-progress chunk, or nil when nothing was buffered
func (s *slicer) flush(now time.Time) *Chunk {
	if s.paused {
		now = s.pausedAt
	}
	if len(s.buf) == 0 {
		return nil
	}
	return s.cut(now)
}

func (s *slicer) cut(now time.Time) *Chunk {
	c := &Chunk{
		Index:      s.index,
		Data:       s.buf,
		Duration:   now.Sub(s.chunkStart),
		CapturedAt: s.chunkStart,
	}

	s.index++
	s.chunkStart = now
	s.buf = make([]byte, 0, cap(c.Data))
	return c
}

// elapsed returns the unpaused time accumulated in the current chunk
func (s *slicer) elapsed(now time.Time) time.Duration {
	if s.paused {
		now = s.pausedAt
	}
	return now.Sub(s.chunkStart)
}
