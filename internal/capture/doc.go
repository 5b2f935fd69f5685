// Package capture owns live audio sources and slices their continuous output into
// fixed-duration chunks.
//
// An Engine reads frames from an AudioGraph (one source, or two gain-summed sources in
// mixed mode), accumulates raw PCM-16 and emits a Chunk every ChunkDuration of unpaused
// time. Durations are measured with a Clock between chunk boundaries; pause intervals are
// excluded by advancing the chunk start past the gap. Stop flushes the in-progress chunk
// within a bounded wait and always releases the sources.
package capture
