// Package server implements the HTTP API of the chunk service.
//
// Clients create a session, PUT each captured chunk at its index, and drive the
// session status through PATCH. Chunks are admitted by the sequencer window before
// they are written; a rejected index is answered with 409 and the session is left
// untouched. Stored sessions can be read back as a reassembled WAV stream or
// transcribed as a whole. Errors are returned as {"error", "code"} documents whose
// codes map onto the chunk error taxonomy.
//
// Every route is instrumented with request counters and latency histograms, and
// /metrics exposes them for Prometheus.
package server
