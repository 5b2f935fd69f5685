package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/skypro1111/chunkrec/internal/audio"
	"github.com/skypro1111/chunkrec/internal/chunk"
	"github.com/skypro1111/chunkrec/internal/events"
	"github.com/skypro1111/chunkrec/internal/reassembly"
	"github.com/skypro1111/chunkrec/internal/remote"
	"github.com/skypro1111/chunkrec/internal/transcription"
	"github.com/skypro1111/chunkrec/internal/uploader"
)

// Chunk upload headers
const (
	HeaderChunkDuration   = "X-Chunk-Duration"
	HeaderChunkTranscript = "X-Chunk-Transcript"
	HeaderChunkBackfill   = "X-Chunk-Backfill"
	HeaderCapturedAt      = "X-Captured-At"
	HeaderTotalDuration   = "X-Total-Duration"
	HeaderSkippedIndices  = "X-Skipped-Indices"
)

type createSessionRequest struct {
	Owner string `json:"owner"`
}

type updateStatusRequest struct {
	Status   string   `json:"status"`
	Duration *float64 `json:"duration,omitempty"`
}

func (h *HTTPServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorCode(w, r, http.StatusBadRequest, remote.CodeInvalidRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if strings.TrimSpace(req.Owner) == "" {
		h.writeErrorCode(w, r, http.StatusBadRequest, remote.CodeInvalidRequest, errors.New("owner is required"))
		return
	}

	s, err := h.deps.Store.CreateSession(r.Context(), req.Owner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("Session created",
		slog.String("session_id", s.ID),
		slog.String("owner", s.Owner))

	writeJSON(w, http.StatusCreated, s)
}

func (h *HTTPServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.deps.Store.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *HTTPServer) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorCode(w, r, http.StatusBadRequest, remote.CodeInvalidRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	status, err := chunk.ParseStatus(req.Status)
	if err != nil {
		h.writeErrorCode(w, r, http.StatusBadRequest, remote.CodeInvalidRequest, err)
		return
	}

	s, err := h.deps.Store.UpdateStatus(r.Context(), sessionID, status, req.Duration)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.metrics.RecordStatusTransition(string(status))

	if status == chunk.StatusCompleted && h.deps.Sequencer != nil {
		if err := h.deps.Sequencer.Forget(r.Context(), sessionID); err != nil {
			h.logger.Warn("Failed to drop sequencer state",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()))
		}
	}

	ev := events.SessionStatus{
		SessionID:   s.ID,
		Status:      string(s.Status),
		Duration:    s.Duration,
		ChunksCount: s.ChunksCount,
		Timestamp:   time.Now().UTC(),
	}
	if err := h.deps.Publisher.PublishSessionStatus(r.Context(), ev); err != nil {
		h.logger.Warn("Failed to publish status event",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}

	h.logger.Info("Session status updated",
		slog.String("session_id", sessionID),
		slog.String("status", string(s.Status)),
		slog.Int("chunks_count", s.ChunksCount))

	writeJSON(w, http.StatusOK, s)
}

func (h *HTTPServer) handlePutChunk(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseChunkRequest(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.deps.Uploader.Upload(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, remote.ChunkResponse{
		ID:       res.ID,
		Created:  res.Created,
		Warning:  res.Decision.Warning(),
		Decision: res.Decision,
	})
}

// parseChunkRequest reads the chunk index from the path, metadata from headers and the
// payload from the body
func (h *HTTPServer) parseChunkRequest(w http.ResponseWriter, r *http.Request) (uploader.Request, error) {
	req := uploader.Request{SessionID: chi.URLParam(r, "sessionID")}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		return req, fmt.Errorf("%w: chunk index %q", chunk.ErrInvalidChunk, chi.URLParam(r, "index"))
	}
	req.Index = index

	duration, err := strconv.ParseFloat(r.Header.Get(HeaderChunkDuration), 64)
	if err != nil {
		return req, fmt.Errorf("%w: %s header %q", chunk.ErrInvalidChunk, HeaderChunkDuration, r.Header.Get(HeaderChunkDuration))
	}
	req.Duration = duration

	if v := r.Header.Get(HeaderChunkTranscript); v != "" {
		req.Transcript = &v
	}
	if v := r.Header.Get(HeaderChunkBackfill); v != "" {
		backfill, err := strconv.ParseBool(v)
		if err != nil {
			return req, fmt.Errorf("%w: %s header %q", chunk.ErrInvalidChunk, HeaderChunkBackfill, v)
		}
		req.Backfill = backfill
	}
	if v := r.Header.Get(HeaderCapturedAt); v != "" {
		capturedAt, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return req, fmt.Errorf("%w: %s header %q", chunk.ErrInvalidChunk, HeaderCapturedAt, v)
		}
		req.CapturedAt = capturedAt
	}

	body := r.Body
	if h.config.MaxChunkSize > 0 {
		body = http.MaxBytesReader(w, r.Body, h.config.MaxChunkSize)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return req, fmt.Errorf("read chunk payload: %w", err)
	}
	req.Data = data

	return req, nil
}

func (h *HTTPServer) handleListChunks(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	withPayload := false
	if v := r.URL.Query().Get("payload"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			h.writeErrorCode(w, r, http.StatusBadRequest, remote.CodeInvalidRequest, fmt.Errorf("invalid payload flag %q", v))
			return
		}
		withPayload = parsed
	}

	if _, err := h.deps.Store.GetSession(r.Context(), sessionID); err != nil {
		h.writeError(w, r, err)
		return
	}

	chunks, err := h.deps.Store.ListChunks(r.Context(), sessionID, withPayload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if chunks == nil {
		chunks = []chunk.AudioChunk{}
	}
	writeJSON(w, http.StatusOK, chunks)
}

// reassemble loads the session's reassembled stream after checking it exists
func (h *HTTPServer) reassemble(r *http.Request) (*reassembly.Result, error) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.deps.Store.GetSession(r.Context(), sessionID); err != nil {
		return nil, err
	}
	return h.deps.Reassembler.Reassemble(r.Context(), sessionID)
}

func (h *HTTPServer) handleAudio(w http.ResponseWriter, r *http.Request) {
	res, err := h.reassemble(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.FormatInt(int64(audio.WAVHeaderSize)+res.Size, 10))
	w.Header().Set(HeaderTotalDuration, strconv.FormatFloat(res.TotalDuration, 'f', -1, 64))
	w.Header().Set(HeaderSkippedIndices, joinIndices(res.Skipped))
	w.WriteHeader(http.StatusOK)

	if _, err := res.WriteWAV(w, h.deps.SampleRate, h.deps.Channels); err != nil {
		h.logger.Warn("Audio stream interrupted",
			slog.String("session_id", res.SessionID),
			slog.String("error", err.Error()))
	}
}

func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if h.deps.Transcriber == nil {
		h.writeError(w, r, errTranscriptionDisabled)
		return
	}

	res, err := h.reassemble(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := remote.Transcript{Empty: true, Skipped: res.Skipped}
	if out.Skipped == nil {
		out.Skipped = []int{}
	}
	if res.Empty() {
		writeJSON(w, http.StatusOK, out)
		return
	}

	result, err := h.deps.Transcriber.Transcribe(r.Context(), &transcription.Request{
		SessionID:  res.SessionID,
		SampleRate: h.deps.SampleRate,
		Channels:   h.deps.Channels,
		Size:       res.Size,
		Duration:   res.TotalDuration,
		Audio:      res.Reader,
	})
	if err != nil {
		h.writeErrorCode(w, r, http.StatusBadGateway, remote.CodeTranscription, err)
		return
	}

	out.Text = result.Text
	out.Empty = result.Empty || strings.TrimSpace(result.Text) == ""
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.deps.Store.GetSession(r.Context(), sessionID); err != nil {
		h.writeError(w, r, err)
		return
	}

	chunks, err := h.deps.Store.ListChunks(r.Context(), sessionID, false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	text := transcription.MergeTranscripts(chunks)
	writeJSON(w, http.StatusOK, remote.Transcript{Text: text, Empty: text == "", Skipped: []int{}})
}

func joinIndices(indices []int) string {
	parts := make([]string, len(indices))
	for i, idx := range indices {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, ",")
}
