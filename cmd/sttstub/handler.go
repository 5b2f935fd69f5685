package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/skypro1111/chunkrec/internal/audio"
)

const maxUpload = 512 << 20

type transcriptResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration"`
	Empty    bool    `json:"empty"`
}

func newHandler(text string, delay time.Duration, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/", transcribe(text, delay, logger))
	r.Post("/transcribe", transcribe(text, delay, logger))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func transcribe(text string, delay time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, "invalid multipart form", http.StatusBadRequest)
			return
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing audio file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "failed to read audio file", http.StatusBadRequest)
			return
		}
		samples, info, err := audio.DecodeWAV(data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		resp := transcriptResponse{
			Text:     text,
			Language: r.FormValue("language"),
			Duration: info.Duration,
		}
		if audio.IsSilent(samples) {
			resp.Text = ""
			resp.Empty = true
		}

		logger.Info("Transcription request",
			slog.String("request_id", r.FormValue("request_id")),
			slog.String("session_id", r.FormValue("session_id")),
			slog.Float64("duration", info.Duration),
			slog.Bool("empty", resp.Empty))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
