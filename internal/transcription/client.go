package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/chunkrec/internal/audio"
	"github.com/skypro1111/chunkrec/internal/metrics"
)

// Client provides HTTP client functionality for speech-to-text requests
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // Rate limiting semaphore
	metrics    *metrics.Metrics
	logger     *slog.Logger

	// Statistics
	totalRequests   uint64
	successRequests uint64
	emptyResults    uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains transcription client configuration
type Config struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	RetryBackoff  time.Duration // base delay, doubled per attempt
	Language      string
	Model         string
}

// Request is one whole-session transcription request
type Request struct {
	SessionID  string
	SampleRate int
	Channels   int
	Size       int64 // PCM bytes Audio yields
	Duration   float64
	// Audio returns a fresh reader over the PCM stream; called once per attempt
	Audio func() io.Reader
}

// Result is the outcome of a transcription request
type Result struct {
	RequestID   string    `json:"request_id"`
	Text        string    `json:"text"`
	Empty       bool      `json:"empty"`
	Language    string    `json:"language,omitempty"`
	Duration    float64   `json:"duration"`
	ProcessedAt time.Time `json:"processed_at"`
}

type response struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration"`
	Empty    bool    `json:"empty"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	EmptyResults    uint64        `json:"empty_results"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// StatusError is a non-2xx response from the service
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// NewClient creates a new transcription HTTP client
func NewClient(config Config, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 2
	}

	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}

	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		metrics:    m,
		logger:     logger,
	}, nil
}

// Transcribe sends the session audio for transcription
func (c *Client) Transcribe(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || req.Audio == nil {
		return nil, fmt.Errorf("audio is required")
	}

	// Acquire semaphore for rate limiting
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	requestID := uuid.NewString()
	startTime := time.Now()
	c.incrementTotalRequests()
	c.metrics.RecordTranscriptionRequest()

	var lastErr error

	// Retry loop with exponential backoff
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()
			c.metrics.RecordTranscriptionRetry()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * c.config.RetryBackoff
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			c.logger.Debug("Retrying transcription",
				slog.String("session_id", req.SessionID),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoffTime),
				slog.String("error", lastErr.Error()))

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := c.doRequest(ctx, requestID, req)
		if err == nil {
			elapsed := time.Since(startTime)
			c.incrementSuccessRequests(result.Empty)
			c.updateAvgResponseTime(elapsed)
			c.metrics.RecordTranscriptionSuccess(elapsed.Seconds(), result.Empty)
			c.logger.Info("Session transcribed",
				slog.String("session_id", req.SessionID),
				slog.String("request_id", requestID),
				slog.Bool("empty", result.Empty),
				slog.Int("text_length", len(result.Text)),
				slog.Duration("elapsed", elapsed))
			return result, nil
		}

		lastErr = err

		if !isRetryableError(err) {
			break
		}
	}

	c.incrementFailedRequests()
	c.metrics.RecordTranscriptionFailure(time.Since(startTime).Seconds())
	return nil, fmt.Errorf("transcription failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// doRequest performs a single HTTP request, streaming the multipart body
func (c *Client) doRequest(ctx context.Context, requestID string, req *Request) (*Result, error) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(c.writeMultipart(writer, requestID, req))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "chunkrec/1.0")
	httpReq.Header.Set("X-Request-ID", requestID)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()
	// unblock the writer if the server answered before reading everything
	pr.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	result := &Result{RequestID: requestID, ProcessedAt: time.Now()}

	if resp.StatusCode == http.StatusNoContent {
		result.Empty = true
		return result, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var parsed response
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	result.Text = strings.TrimSpace(parsed.Text)
	result.Language = parsed.Language
	result.Duration = parsed.Duration
	result.Empty = parsed.Empty || result.Text == ""
	return result, nil
}

// writeMultipart writes the form: metadata fields, then the WAV file part
func (c *Client) writeMultipart(writer *multipart.Writer, requestID string, req *Request) error {
	fields := map[string]string{
		"request_id":  requestID,
		"session_id":  req.SessionID,
		"sample_rate": fmt.Sprintf("%d", req.SampleRate),
		"channels":    fmt.Sprintf("%d", req.Channels),
		"duration":    fmt.Sprintf("%.3f", req.Duration),
		"format":      "wav",
	}
	if c.config.Language != "" {
		fields["language"] = c.config.Language
	}
	if c.config.Model != "" {
		fields["model"] = c.config.Model
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	fileWriter, err := writer.CreateFormFile("file", req.SessionID+".wav")
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if err := audio.WriteWAVHeader(fileWriter, req.Size, req.SampleRate, req.Channels); err != nil {
		return err
	}
	if _, err := io.Copy(fileWriter, req.Audio()); err != nil {
		return fmt.Errorf("failed to write audio data: %w", err)
	}

	return writer.Close()
}

// isRetryableError reports whether a failed attempt should be retried
func isRetryableError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "refused")
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests(empty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
	if empty {
		c.emptyResults++
	}
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		EmptyResults:    c.emptyResults,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for in-flight requests to finish
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	return nil
}
