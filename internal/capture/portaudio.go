//go:build portaudio

package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioSource captures from the default input device
type PortAudioSource struct {
	sampleRate int
	channels   int
	frameSize  int

	stream *portaudio.Stream
	in     []int16
	live   bool
	mu     sync.Mutex
}

// NewMicrophoneSource creates a source for the default input device
func NewMicrophoneSource(sampleRate, channels, frameSize int) (Source, error) {
	return &PortAudioSource{
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  frameSize,
	}, nil
}

// Name implements Source
func (p *PortAudioSource) Name() string {
	return "portaudio:default"
}

// Open implements Source
func (p *PortAudioSource) Open(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init failed: %w", err)
	}

	p.in = make([]int16, p.frameSize*p.channels)
	stream, err := portaudio.OpenDefaultStream(p.channels, 0, float64(p.sampleRate), p.frameSize, p.in)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open stream failed: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("start stream failed: %w", err)
	}

	p.stream = stream
	p.live = true
	return nil
}

// HasAudio implements Source
func (p *PortAudioSource) HasAudio() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream != nil && p.channels > 0
}

// ReadFrame implements Source
func (p *PortAudioSource) ReadFrame(dst []int16) (int, error) {
	p.mu.Lock()
	stream := p.stream
	p.mu.Unlock()

	if stream == nil {
		return 0, fmt.Errorf("stream closed")
	}
	if err := stream.Read(); err != nil {
		return 0, fmt.Errorf("stream read error: %w", err)
	}
	return copy(dst, p.in), nil
}

// Live implements Source
func (p *PortAudioSource) Live() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Close implements Source
func (p *PortAudioSource) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}
	p.live = false

	stopErr := p.stream.Stop()
	closeErr := p.stream.Close()
	p.stream = nil
	portaudio.Terminate()

	if stopErr != nil {
		return fmt.Errorf("stop stream: %w", stopErr)
	}
	return closeErr
}
