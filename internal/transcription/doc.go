// Package transcription implements the HTTP client for the speech-to-text service.
// Audio is sent as a multipart upload of a WAV file streamed from the reassembled
// session, with retry logic using exponential backoff and a concurrency limit.
// An empty transcript is a successful outcome, not an error.
package transcription
