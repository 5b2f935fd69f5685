// Package metrics defines the Prometheus metrics of the chunk recording pipeline and
// small RecordX helpers used by the capture, upload, reassembly, transcription and HTTP layers.
package metrics
