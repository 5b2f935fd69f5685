// Package cli implements chunkctl, the command-line harness around the recorder.
//
// chunkctl records from a microphone or a WAV file into a chunk service session,
// caching every chunk locally while it uploads. The same local cache backs
// manual retry, crash recovery and export of a session as a WAV file.
package cli
