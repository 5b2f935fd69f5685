package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the chunk recording pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Capture metrics
	ChunksCaptured      prometheus.Counter
	CapturedChunkLength prometheus.Histogram
	CapturedChunkSize   prometheus.Histogram

	// Sequencing and upload metrics
	SequencerDecisions *prometheus.CounterVec
	Uploads            *prometheus.CounterVec
	UploadDuration     prometheus.Histogram
	InflightTasks      prometheus.Gauge
	LocalCacheFailures *prometheus.CounterVec

	// Session metrics
	StatusTransitions *prometheus.CounterVec

	// Reassembly metrics
	Reassemblies        *prometheus.CounterVec
	ReassemblySkipped   prometheus.Counter
	ReassemblyBytes     prometheus.Histogram
	ReassemblyAudioTime prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionEmpty     prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionRetries   prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// Capture metrics
		ChunksCaptured: f.NewCounter(prometheus.CounterOpts{
			Name: "chunkrec_chunks_captured_total",
			Help: "Total number of chunks finalized by the capture engine",
		}),
		CapturedChunkLength: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chunkrec_captured_chunk_duration_seconds",
			Help:    "Measured duration of captured chunks",
			Buckets: prometheus.LinearBuckets(5, 5, 8), // 5s to 40s
		}),
		CapturedChunkSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chunkrec_captured_chunk_size_bytes",
			Help:    "Size of captured chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10), // 16KB to ~8MB
		}),

		// Sequencing and upload metrics
		SequencerDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkrec_sequencer_decisions_total",
			Help: "Chunk index decisions by outcome",
		}, []string{"outcome"}),
		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkrec_chunk_uploads_total",
			Help: "Chunk uploads by result (created, overwritten, rejected, failed)",
		}, []string{"result"}),
		UploadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chunkrec_chunk_upload_duration_seconds",
			Help:    "Duration of chunk uploads",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
		InflightTasks: f.NewGauge(prometheus.GaugeOpts{
			Name: "chunkrec_inflight_chunk_tasks",
			Help: "Current number of dispatched chunk uploads and cache writes not yet finished",
		}),
		LocalCacheFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkrec_local_cache_failures_total",
			Help: "Local chunk cache failures by operation",
		}, []string{"operation"}),

		// Session metrics
		StatusTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkrec_session_status_transitions_total",
			Help: "Session status transitions by target status",
		}, []string{"status"}),

		// Reassembly metrics
		Reassemblies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkrec_reassemblies_total",
			Help: "Reassembly runs by chunk source (local, remote)",
		}, []string{"source"}),
		ReassemblySkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "chunkrec_reassembly_skipped_chunks_total",
			Help: "Chunk indices skipped during reassembly",
		}),
		ReassemblyBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chunkrec_reassembly_bytes",
			Help:    "Size of reassembled streams in bytes",
			Buckets: prometheus.ExponentialBuckets(1024*1024, 2, 10), // 1MB to ~512MB
		}),
		ReassemblyAudioTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chunkrec_reassembly_audio_duration_seconds",
			Help:    "Total audio duration of reassembled sessions",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10), // 30s to ~4 hours
		}),

		// Transcription metrics
		TranscriptionRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "chunkrec_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: f.NewCounter(prometheus.CounterOpts{
			Name: "chunkrec_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionEmpty: f.NewCounter(prometheus.CounterOpts{
			Name: "chunkrec_transcription_empty_total",
			Help: "Total number of transcriptions that returned no text",
		}),
		TranscriptionFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "chunkrec_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chunkrec_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7 minutes
		}),
		TranscriptionRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "chunkrec_transcription_retries_total",
			Help: "Total number of transcription request retries",
		}),

		// HTTP API metrics
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkrec_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chunkrec_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkrec_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordChunkCaptured records a chunk finalized by the capture engine
func (m *Metrics) RecordChunkCaptured(duration time.Duration, size int) {
	if m == nil {
		return
	}
	m.ChunksCaptured.Inc()
	m.CapturedChunkLength.Observe(duration.Seconds())
	m.CapturedChunkSize.Observe(float64(size))
}

// RecordSequencerDecision counts a sequencer decision
func (m *Metrics) RecordSequencerDecision(outcome string) {
	if m == nil {
		return
	}
	m.SequencerDecisions.WithLabelValues(outcome).Inc()
}

// RecordUpload records a chunk upload result
func (m *Metrics) RecordUpload(result string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(result).Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// SetInflightTasks sets the number of outstanding chunk tasks
func (m *Metrics) SetInflightTasks(n int) {
	if m == nil {
		return
	}
	m.InflightTasks.Set(float64(n))
}

// RecordLocalCacheFailure counts a failed local cache operation
func (m *Metrics) RecordLocalCacheFailure(operation string) {
	if m == nil {
		return
	}
	m.LocalCacheFailures.WithLabelValues(operation).Inc()
}

// RecordStatusTransition counts a session status transition
func (m *Metrics) RecordStatusTransition(status string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(status).Inc()
}

// RecordReassembly records a reassembly run
func (m *Metrics) RecordReassembly(source string, skipped int, sizeBytes int64, audioSeconds float64) {
	if m == nil {
		return
	}
	m.Reassemblies.WithLabelValues(source).Inc()
	m.ReassemblySkipped.Add(float64(skipped))
	m.ReassemblyBytes.Observe(float64(sizeBytes))
	m.ReassemblyAudioTime.Observe(audioSeconds)
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64, empty bool) {
	if m == nil {
		return
	}
	m.TranscriptionSuccesses.Inc()
	if empty {
		m.TranscriptionEmpty.Inc()
	}
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	if m == nil {
		return
	}
	m.TranscriptionRetries.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
