package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/skypro1111/chunkrec/internal/chunk"
	"github.com/skypro1111/chunkrec/internal/sequencer"
	"github.com/skypro1111/chunkrec/internal/uploader"
)

// Config contains chunk service client configuration
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Client talks to the chunk service
type Client struct {
	config     Config
	base       *url.URL
	httpClient *http.Client
	logger     *slog.Logger
}

// ChunkResponse is the body returned by a chunk upload
type ChunkResponse struct {
	ID       string             `json:"id"`
	Created  bool               `json:"created"`
	Warning  bool               `json:"warning"`
	Decision sequencer.Decision `json:"decision"`
}

// Transcript is the body returned by a session transcription
type Transcript struct {
	Text    string `json:"text"`
	Empty   bool   `json:"empty"`
	Skipped []int  `json:"skipped"`
}

// New creates a chunk service client
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("server URL cannot be empty")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config: cfg,
		base:   base,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}, nil
}

// Ping checks the service health endpoint
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, "", nil)
}

// CreateSession creates a pending session owned by owner
func (c *Client) CreateSession(ctx context.Context, owner string) (*chunk.Session, error) {
	body, err := json.Marshal(map[string]string{"owner": owner})
	if err != nil {
		return nil, err
	}
	var s chunk.Session
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", nil, body, "application/json", &s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &s, nil
}

// GetSession fetches a session
func (c *Client) GetSession(ctx context.Context, sessionID string) (*chunk.Session, error) {
	var s chunk.Session
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID), nil, nil, "", &s); err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return &s, nil
}

// UpdateStatus applies a session status transition
func (c *Client) UpdateStatus(ctx context.Context, sessionID string, status chunk.Status, duration *float64) (*chunk.Session, error) {
	payload := struct {
		Status   chunk.Status `json:"status"`
		Duration *float64     `json:"duration,omitempty"`
	}{status, duration}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var s chunk.Session
	if err := c.do(ctx, http.MethodPatch, sessionPath(sessionID), nil, body, "application/json", &s); err != nil {
		return nil, fmt.Errorf("update session %s to %s: %w", sessionID, status, err)
	}
	return &s, nil
}

// Upload stores one chunk on the service
func (c *Client) Upload(ctx context.Context, req uploader.Request) (uploader.Result, error) {
	header := http.Header{}
	header.Set("X-Chunk-Duration", strconv.FormatFloat(req.Duration, 'f', -1, 64))
	if req.Transcript != nil {
		header.Set("X-Chunk-Transcript", *req.Transcript)
	}
	if req.Backfill {
		header.Set("X-Chunk-Backfill", "true")
	}
	if !req.CapturedAt.IsZero() {
		header.Set("X-Captured-At", req.CapturedAt.UTC().Format(time.RFC3339Nano))
	}

	var resp ChunkResponse
	path := fmt.Sprintf("%s/chunks/%d", sessionPath(req.SessionID), req.Index)
	if err := c.do(ctx, http.MethodPut, path, header, req.Data, "application/octet-stream", &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == CodeIndexOutOfRange {
			return uploader.Result{}, err
		}
		return uploader.Result{}, &chunk.UploadError{SessionID: req.SessionID, Index: req.Index, Err: err}
	}

	return uploader.Result{ID: resp.ID, Created: resp.Created, Decision: resp.Decision}, nil
}

// ListChunks lists a session's chunks in index order
func (c *Client) ListChunks(ctx context.Context, sessionID string, withPayload bool) ([]chunk.AudioChunk, error) {
	path := sessionPath(sessionID) + "/chunks"
	if withPayload {
		path += "?payload=true"
	}
	var chunks []chunk.AudioChunk
	if err := c.do(ctx, http.MethodGet, path, nil, nil, "", &chunks); err != nil {
		return nil, fmt.Errorf("list chunks of session %s: %w", sessionID, err)
	}
	return chunks, nil
}

// Transcribe asks the service to transcribe the whole session
func (c *Client) Transcribe(ctx context.Context, sessionID string) (*Transcript, error) {
	var t Transcript
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID)+"/transcribe", nil, nil, "", &t); err != nil {
		return nil, fmt.Errorf("transcribe session %s: %w", sessionID, err)
	}
	return &t, nil
}

// Transcript fetches the merged per-chunk transcript
func (c *Client) Transcript(ctx context.Context, sessionID string) (string, error) {
	var t Transcript
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID)+"/transcript", nil, nil, "", &t); err != nil {
		return "", fmt.Errorf("transcript of session %s: %w", sessionID, err)
	}
	return t.Text, nil
}

// do performs a request with retries and decodes a JSON response into out
func (c *Client) do(ctx context.Context, method, path string, header http.Header, body []byte, contentType string, out any) error {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * c.config.RetryBackoff
			if backoffTime > 10*time.Second {
				backoffTime = 10 * time.Second
			}
			c.logger.Debug("Retrying chunk service request",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("attempt", attempt),
				slog.String("error", lastErr.Error()))

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := c.doOnce(ctx, method, path, header, body, contentType, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryableError(err) {
			break
		}
	}

	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, header http.Header, body []byte, contentType string, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "chunkrec/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var eb ErrorBody
		if json.Unmarshal(respBody, &eb) == nil && eb.Error != "" {
			apiErr.Code = eb.Code
			apiErr.Message = eb.Error
		}
		return apiErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return nil
}

func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func sessionPath(sessionID string) string {
	return "/api/v1/sessions/" + url.PathEscape(sessionID)
}
