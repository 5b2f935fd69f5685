// Package reassembly rebuilds one ordered, contiguous PCM stream from a session's chunks.
//
// Chunks come from the local cache when it has any usable entry, otherwise from durable
// storage. Empty payloads (and, for server-sourced chunks, non-positive durations) are
// dropped, the remainder is ordered by index, and missing or dropped indices are reported
// as skipped. Above a configurable chunk count the output is streamed chunk by chunk
// instead of being joined into one buffer.
package reassembly
