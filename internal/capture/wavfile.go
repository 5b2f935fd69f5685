package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVFileSource replays a PCM-16 WAV file as a capture source. Its Clock follows the
// samples read, so a file is chunked by media time rather than wall time.
type WAVFileSource struct {
	path     string
	realtime bool

	file    *os.File
	decoder *wav.Decoder
	buf     *audio.IntBuffer
	clock   *MediaClock

	sampleRate int
	channels   int
	live       bool
	start      time.Time
	mu         sync.Mutex
}

// NewWAVFileSource creates a source for path. With realtime set, reads are paced to the
// file's sample rate.
func NewWAVFileSource(path string, realtime bool) *WAVFileSource {
	return &WAVFileSource{path: path, realtime: realtime}
}

// Name implements Source
func (s *WAVFileSource) Name() string {
	return "wav:" + s.path
}

// Open implements Source
func (s *WAVFileSource) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open WAV file: %w", err)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return fmt.Errorf("invalid WAV file: %s", s.path)
	}
	if dec.BitDepth != 16 {
		f.Close()
		return fmt.Errorf("unsupported bit depth %d in %s (only 16-bit is supported)", dec.BitDepth, s.path)
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return fmt.Errorf("failed to seek to PCM data: %w", err)
	}

	s.file = f
	s.decoder = dec
	s.sampleRate = int(dec.SampleRate)
	s.channels = int(dec.NumChans)
	s.start = time.Now()
	s.clock = NewMediaClock(s.start, s.sampleRate, s.channels)
	s.live = true
	return nil
}

// Format returns the sample rate and channel count of the opened file
func (s *WAVFileSource) Format() (sampleRate, channels int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleRate, s.channels
}

// HasAudio implements Source
func (s *WAVFileSource) HasAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decoder != nil && s.decoder.PCMLen() > 0
}

// Clock returns the media clock driven by this source
func (s *WAVFileSource) Clock() Clock {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clock == nil {
		s.clock = NewMediaClock(time.Now(), s.sampleRate, s.channels)
	}
	return s.clock
}

// ReadFrame implements Source
func (s *WAVFileSource) ReadFrame(dst []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.live {
		return 0, io.EOF
	}

	if s.buf == nil || len(s.buf.Data) != len(dst) {
		s.buf = &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: s.channels, SampleRate: s.sampleRate},
			Data:           make([]int, len(dst)),
			SourceBitDepth: 16,
		}
	}

	n, err := s.decoder.PCMBuffer(s.buf)
	if err != nil {
		return 0, fmt.Errorf("failed to decode WAV data: %w", err)
	}
	if n == 0 {
		return 0, io.EOF
	}

	for i := 0; i < n; i++ {
		dst[i] = int16(s.buf.Data[i])
	}
	s.clock.Advance(n)

	if s.realtime {
		due := time.Until(s.clock.Now())
		if due > 0 {
			s.mu.Unlock()
			time.Sleep(due)
			s.mu.Lock()
		}
	}

	return n, nil
}

// Live implements Source
func (s *WAVFileSource) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Close implements Source
func (s *WAVFileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.live = false
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
