package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/chunkrec/internal/config"
	"github.com/skypro1111/chunkrec/internal/events"
	"github.com/skypro1111/chunkrec/internal/metrics"
	"github.com/skypro1111/chunkrec/internal/reassembly"
	"github.com/skypro1111/chunkrec/internal/sequencer"
	"github.com/skypro1111/chunkrec/internal/store"
	"github.com/skypro1111/chunkrec/internal/transcription"
	"github.com/skypro1111/chunkrec/internal/uploader"
)

const (
	serviceName    = "chunkrec"
	serviceVersion = "1.0.0"
)

// Transcriber turns a reassembled session into text
type Transcriber interface {
	Transcribe(ctx context.Context, req *transcription.Request) (*transcription.Result, error)
}

// Deps are the collaborators serving the API
type Deps struct {
	Store       store.Store
	Uploader    *uploader.Uploader
	Sequencer   *sequencer.Sequencer
	Reassembler *reassembly.Engine
	Transcriber Transcriber // nil disables transcription
	Publisher   events.Publisher
	Gatherer    prometheus.Gatherer // nil serves the default registry
	SampleRate  int
	Channels    int
}

// HTTPServer serves the chunk service API
type HTTPServer struct {
	server    *http.Server
	router    *chi.Mux
	logger    *slog.Logger
	config    config.HTTPConfig
	deps      Deps
	metrics   *metrics.Metrics
	startTime time.Time
}

// NewHTTPServer creates the API server and its routes
func NewHTTPServer(cfg config.HTTPConfig, deps Deps, logger *slog.Logger, m *metrics.Metrics) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if deps.SampleRate <= 0 {
		deps.SampleRate = 16000
	}
	if deps.Channels <= 0 {
		deps.Channels = 1
	}

	h := &HTTPServer{
		router:    chi.NewRouter(),
		logger:    logger,
		config:    cfg,
		deps:      deps,
		metrics:   m,
		startTime: time.Now(),
	}
	h.setupRoutes()

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      h.router,
		ReadTimeout:  cfg.GetReadTimeoutDuration(),
		WriteTimeout: cfg.GetWriteTimeoutDuration(),
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes() {
	r := h.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.withMetrics("/health", h.handleHealth))

	metricsHandler := promhttp.Handler()
	if h.deps.Gatherer != nil {
		metricsHandler = promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{})
	}
	r.Handle("/metrics", metricsHandler)

	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", h.withMetrics("/api/v1/sessions", h.handleCreateSession))

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.withMetrics("/api/v1/sessions/{sessionID}", h.handleGetSession))
			r.Patch("/", h.withMetrics("/api/v1/sessions/{sessionID}", h.handleUpdateStatus))
			r.Get("/chunks", h.withMetrics("/api/v1/sessions/{sessionID}/chunks", h.handleListChunks))
			r.Put("/chunks/{index}", h.withMetrics("/api/v1/sessions/{sessionID}/chunks/{index}", h.handlePutChunk))
			r.Get("/audio", h.withMetrics("/api/v1/sessions/{sessionID}/audio", h.handleAudio))
			r.Post("/transcribe", h.withMetrics("/api/v1/sessions/{sessionID}/transcribe", h.handleTranscribe))
			r.Get("/transcript", h.withMetrics("/api/v1/sessions/{sessionID}/transcript", h.handleTranscript))
		})
	})
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, overall, storeStatus := http.StatusOK, "healthy", "ok"
	if err := h.deps.Store.Ping(r.Context()); err != nil {
		status, overall, storeStatus = http.StatusServiceUnavailable, "degraded", err.Error()
	}

	health := map[string]interface{}{
		"status":    overall,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]interface{}{
			"store":         storeStatus,
			"transcription": h.deps.Transcriber != nil,
		},
	}

	writeJSON(w, status, health)
}
