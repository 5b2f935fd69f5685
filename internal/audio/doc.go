// Package audio handles PCM-16 sample conversion, gain mixing, and WAV framing.
// Chunk payloads travel as raw little-endian PCM so that the payloads of consecutive
// chunks concatenate into one contiguous stream; a WAV header is only added at the
// edges (playback, export, transcription requests).
package audio
