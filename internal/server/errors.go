package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/skypro1111/chunkrec/internal/chunk"
	"github.com/skypro1111/chunkrec/internal/remote"
)

// errTranscriptionDisabled is returned when no speech-to-text endpoint is configured
var errTranscriptionDisabled = errors.New("transcription is not configured")

// classify maps an error onto an HTTP status and wire code.
// Not-found is checked before upload failure because storage wraps it.
func classify(err error) (int, string) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, chunk.ErrChunkIndexOutOfRange):
		return http.StatusConflict, remote.CodeIndexOutOfRange
	case errors.Is(err, chunk.ErrSessionNotFound):
		return http.StatusNotFound, remote.CodeSessionNotFound
	case errors.Is(err, chunk.ErrEmptyPayload):
		return http.StatusBadRequest, remote.CodeEmptyPayload
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge, remote.CodeInvalidChunk
	case errors.Is(err, chunk.ErrInvalidChunk):
		return http.StatusBadRequest, remote.CodeInvalidChunk
	case errors.Is(err, chunk.ErrInvalidTransition):
		return http.StatusBadRequest, remote.CodeInvalidTransition
	case errors.Is(err, errTranscriptionDisabled):
		return http.StatusServiceUnavailable, remote.CodeTranscription
	case errors.Is(err, chunk.ErrChunkUploadFailed):
		return http.StatusServiceUnavailable, remote.CodeStorageUnavailable
	default:
		return http.StatusInternalServerError, remote.CodeInternal
	}
}

// writeError writes err as an error document
func (h *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	h.writeErrorCode(w, r, status, code, err)
}

func (h *HTTPServer) writeErrorCode(w http.ResponseWriter, r *http.Request, status int, code string, err error) {
	attrs := []any{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("code", code),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("error", err.Error()),
	}
	if status >= 500 {
		h.logger.Error("Request failed", attrs...)
	} else {
		h.logger.Debug("Request rejected", attrs...)
	}

	writeJSON(w, status, remote.ErrorBody{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
