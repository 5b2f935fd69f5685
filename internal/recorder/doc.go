// Package recorder implements the recording state machine and the per-chunk dispatch
// pipeline.
//
// A Recorder drives one capture engine through idle, recording, paused and completed.
// Every transition is persisted as a RecordingState in the local store, and the state is
// deleted on a clean stop so that a state found at startup reliably marks an abandoned
// session. Each captured chunk is handed to two independent background tasks: a local
// cache write and an authoritative upload. Neither waits on the other, and their failures
// are reported through the error handler without interrupting capture.
package recorder
