package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// BytesToSamples converts little-endian PCM-16 bytes into samples. A trailing odd byte is dropped.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// SamplesToBytes converts samples into little-endian PCM-16 bytes
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	AppendSamples(out[:0], samples)
	return out
}

// AppendSamples appends samples to dst as little-endian PCM-16
func AppendSamples(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}

// MixInto gain-sums a and b into dst and returns the number of samples written.
// The shorter input is treated as silence past its end; results are clipped to int16.
func MixInto(dst, a, b []int16, gainA, gainB float64) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	if n > len(dst) {
		n = len(dst)
	}

	for i := 0; i < n; i++ {
		var v float64
		if i < len(a) {
			v += float64(a[i]) * gainA
		}
		if i < len(b) {
			v += float64(b[i]) * gainB
		}
		dst[i] = clip(v)
	}
	return n
}

func clip(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(math.Round(v))
}

// PCMDuration returns the playback duration of size bytes of PCM-16 audio
func PCMDuration(size int, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := size / (2 * channels)
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

// IsSilent reports whether every sample is zero
func IsSilent(samples []int16) bool {
	for _, s := range samples {
		if s != 0 {
			return false
		}
	}
	return true
}
