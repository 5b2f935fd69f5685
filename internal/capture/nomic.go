//go:build !portaudio

package capture

import (
	"fmt"

	"github.com/skypro1111/chunkrec/internal/chunk"
)

// NewMicrophoneSource reports that microphone capture is not compiled in.
// Build with -tags portaudio to enable it.
func NewMicrophoneSource(sampleRate, channels, frameSize int) (Source, error) {
	return nil, fmt.Errorf("%w: built without portaudio support", chunk.ErrSourceUnavailable)
}
