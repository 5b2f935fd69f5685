package remote

import (
	"fmt"

	"github.com/skypro1111/chunkrec/internal/chunk"
)

// Error codes carried in service error bodies
const (
	CodeIndexOutOfRange    = "chunk_index_out_of_range"
	CodeSessionNotFound    = "session_not_found"
	CodeEmptyPayload       = "empty_payload"
	CodeInvalidChunk       = "invalid_chunk"
	CodeInvalidTransition  = "invalid_transition"
	CodeInvalidRequest     = "invalid_request"
	CodeStorageUnavailable = "storage_unavailable"
	CodeTranscription      = "transcription_unavailable"
	CodeInternal           = "internal_error"
)

// ErrorBody is the JSON error document returned by the service
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// APIError is a non-2xx response from the service
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("chunk service %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("chunk service %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the error code onto the sentinel it was produced from
func (e *APIError) Unwrap() error {
	switch e.Code {
	case CodeIndexOutOfRange:
		return chunk.ErrChunkIndexOutOfRange
	case CodeSessionNotFound:
		return chunk.ErrSessionNotFound
	case CodeEmptyPayload:
		return chunk.ErrEmptyPayload
	case CodeInvalidChunk:
		return chunk.ErrInvalidChunk
	case CodeInvalidTransition:
		return chunk.ErrInvalidTransition
	case CodeStorageUnavailable:
		return chunk.ErrChunkUploadFailed
	}
	return nil
}

// Temporary reports whether retrying may succeed
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
