package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/chunkrec/internal/audio"
	"github.com/skypro1111/chunkrec/internal/chunk"
	"github.com/skypro1111/chunkrec/internal/config"
	"github.com/skypro1111/chunkrec/internal/events"
	"github.com/skypro1111/chunkrec/internal/metrics"
	"github.com/skypro1111/chunkrec/internal/reassembly"
	"github.com/skypro1111/chunkrec/internal/remote"
	"github.com/skypro1111/chunkrec/internal/sequencer"
	"github.com/skypro1111/chunkrec/internal/store"
	"github.com/skypro1111/chunkrec/internal/transcription"
	"github.com/skypro1111/chunkrec/internal/uploader"
)

// fakeTranscriber records the audio it was asked to transcribe
type fakeTranscriber struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
	audio []byte
}

func (f *fakeTranscriber) Transcribe(_ context.Context, req *transcription.Request) (*transcription.Result, error) {
	data, _ := io.ReadAll(req.Audio())

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.audio = data
	if f.err != nil {
		return nil, f.err
	}
	return &transcription.Result{Text: f.text, Empty: f.text == ""}, nil
}

func (f *fakeTranscriber) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeTranscriber) snapshot() (int, []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]byte(nil), f.audio...)
}

type fixture struct {
	store       *store.Memory
	collector   *events.Collector
	transcriber *fakeTranscriber
	server      *httptest.Server
	client      *remote.Client
}

func newFixture(t *testing.T, mutate func(cfg *config.HTTPConfig, deps *Deps)) *fixture {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	mem := store.NewMemory()
	seq := sequencer.New(sequencer.DefaultWindow(), nil, sequencer.WithSeed(mem.MaxIndex))
	collector := &events.Collector{}
	transcriber := &fakeTranscriber{text: "hello world"}

	cfg := config.Default().HTTP
	deps := Deps{
		Store:       mem,
		Uploader:    uploader.New(mem, seq, collector, m, nil),
		Sequencer:   seq,
		Reassembler: reassembly.New(nil, mem, reassembly.WithMetrics(m)),
		Transcriber: transcriber,
		Publisher:   collector,
		Gatherer:    reg,
		SampleRate:  16000,
		Channels:    1,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	h := NewHTTPServer(cfg, deps, nil, m)
	server := httptest.NewServer(h.Handler())
	t.Cleanup(server.Close)

	client, err := remote.New(remote.Config{BaseURL: server.URL, MaxRetries: 0}, nil)
	require.NoError(t, err)

	return &fixture{
		store:       mem,
		collector:   collector,
		transcriber: transcriber,
		server:      server,
		client:      client,
	}
}

func (f *fixture) createSession(t *testing.T) string {
	t.Helper()
	s, err := f.client.CreateSession(context.Background(), "device-1")
	require.NoError(t, err)
	return s.ID
}

func (f *fixture) upload(t *testing.T, sessionID string, index int, data []byte, transcript *string) uploader.Result {
	t.Helper()
	res, err := f.client.Upload(context.Background(), uploader.Request{
		SessionID: sessionID, Index: index, Data: data, Duration: 30, Transcript: transcript,
	})
	require.NoError(t, err, "upload %d", index)
	return res
}

func pcm(value int16, samples int) []byte {
	s := make([]int16, samples)
	for i := range s {
		s[i] = value
	}
	return audio.SamplesToBytes(s)
}

func TestSessionLifecycleThroughClient(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sid := f.createSession(t)

	s, err := f.client.GetSession(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, chunk.StatusPending, s.Status)
	assert.Equal(t, "device-1", s.Owner)

	s, err = f.client.UpdateStatus(ctx, sid, chunk.StatusRecording, nil)
	require.NoError(t, err)
	require.NotNil(t, s.RecordingStartedAt)

	for i := 0; i < 3; i++ {
		res := f.upload(t, sid, i, pcm(int16(i+1), 100), nil)
		assert.True(t, res.Created)
		assert.Equal(t, chunk.DeriveID(sid, i), res.ID)
	}
	again := f.upload(t, sid, 1, pcm(9, 100), nil)
	assert.False(t, again.Created)
	assert.True(t, again.Decision.Warning())

	_, err = f.client.Upload(ctx, uploader.Request{SessionID: sid, Index: 9, Data: []byte{1}, Duration: 30})
	require.ErrorIs(t, err, chunk.ErrChunkIndexOutOfRange)
	var apiErr *remote.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)

	duration := 90.0
	s, err = f.client.UpdateStatus(ctx, sid, chunk.StatusCompleted, &duration)
	require.NoError(t, err)
	assert.Equal(t, chunk.StatusCompleted, s.Status)
	assert.Equal(t, 3, s.ChunksCount)
	require.NotNil(t, s.Duration)
	assert.Equal(t, 90.0, *s.Duration)

	chunks, err := f.client.ListChunks(ctx, sid, false)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Empty(t, chunks[0].Data)

	statuses := f.collector.StatusEvents()
	require.Len(t, statuses, 2)
	assert.Equal(t, "completed", statuses[1].Status)
	assert.Len(t, f.collector.ChunkEvents(), 4)
}

func TestBackfillHeaderAdmitsOldIndex(t *testing.T) {
	f := newFixture(t, nil)
	sid := f.createSession(t)

	for _, idx := range []int{0, 1, 3, 4, 5, 6} {
		f.upload(t, sid, idx, pcm(1, 10), nil)
	}

	_, err := f.client.Upload(context.Background(), uploader.Request{SessionID: sid, Index: 2, Data: pcm(1, 10), Duration: 30})
	require.ErrorIs(t, err, chunk.ErrChunkIndexOutOfRange)

	res, err := f.client.Upload(context.Background(), uploader.Request{SessionID: sid, Index: 2, Data: pcm(1, 10), Duration: 30, Backfill: true})
	require.NoError(t, err)
	assert.True(t, res.Created)
}

func TestAudioEndpointSkipsGaps(t *testing.T) {
	f := newFixture(t, nil)
	sid := f.createSession(t)

	for _, idx := range []int{0, 1, 3} {
		f.upload(t, sid, idx, pcm(int16(idx+1), 50), nil)
	}

	resp, err := http.Get(f.server.URL + "/api/v1/sessions/" + sid + "/audio")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))
	assert.Equal(t, "90", resp.Header.Get(HeaderTotalDuration))
	assert.Equal(t, "2", resp.Header.Get(HeaderSkippedIndices))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	samples, info, err := audio.DecodeWAV(body)
	require.NoError(t, err)
	assert.Equal(t, uint32(16000), info.SampleRate)
	require.Len(t, samples, 150)
	assert.Equal(t, int16(1), samples[0])
	assert.Equal(t, int16(2), samples[50])
	assert.Equal(t, int16(4), samples[149])
}

func TestTranscribeEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sid := f.createSession(t)

	empty, err := f.client.Transcribe(ctx, sid)
	require.NoError(t, err)
	assert.True(t, empty.Empty)
	calls, _ := f.transcriber.snapshot()
	assert.Equal(t, 0, calls)

	f.upload(t, sid, 0, pcm(1, 20), nil)
	f.upload(t, sid, 2, pcm(3, 20), nil)

	out, err := f.client.Transcribe(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, "hello world", out.Text)
	assert.False(t, out.Empty)
	assert.Equal(t, []int{1}, out.Skipped)
	calls, sent := f.transcriber.snapshot()
	assert.Equal(t, 1, calls)
	assert.Equal(t, append(pcm(1, 20), pcm(3, 20)...), sent)
}

func TestTranscribeFailureAndDisabled(t *testing.T) {
	f := newFixture(t, nil)
	sid := f.createSession(t)
	f.upload(t, sid, 0, pcm(1, 20), nil)
	f.transcriber.setErr(errors.New("model overloaded"))

	_, err := f.client.Transcribe(context.Background(), sid)
	var apiErr *remote.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, remote.CodeTranscription, apiErr.Code)

	disabled := newFixture(t, func(_ *config.HTTPConfig, deps *Deps) { deps.Transcriber = nil })
	sid = disabled.createSession(t)
	_, err = disabled.client.Transcribe(context.Background(), sid)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}

func TestTranscriptMergesChunkTranscripts(t *testing.T) {
	f := newFixture(t, nil)
	sid := f.createSession(t)

	first, blank, last := " hello", "", "world "
	f.upload(t, sid, 1, pcm(1, 10), &last)
	f.upload(t, sid, 0, pcm(1, 10), &first)
	f.upload(t, sid, 2, pcm(1, 10), &blank)

	text, err := f.client.Transcript(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestErrorResponses(t *testing.T) {
	f := newFixture(t, func(cfg *config.HTTPConfig, _ *Deps) { cfg.MaxChunkSize = 64 })
	sid := f.createSession(t)

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		header   map[string]string
		expected int
		code     string
	}{
		{"unknown session chunk", http.MethodPut, "/api/v1/sessions/missing/chunks/0", "abc", map[string]string{HeaderChunkDuration: "1"}, http.StatusNotFound, remote.CodeSessionNotFound},
		{"empty payload", http.MethodPut, "/api/v1/sessions/" + sid + "/chunks/0", "", map[string]string{HeaderChunkDuration: "1"}, http.StatusBadRequest, remote.CodeEmptyPayload},
		{"non-numeric index", http.MethodPut, "/api/v1/sessions/" + sid + "/chunks/abc", "abc", map[string]string{HeaderChunkDuration: "1"}, http.StatusBadRequest, remote.CodeInvalidChunk},
		{"missing duration", http.MethodPut, "/api/v1/sessions/" + sid + "/chunks/0", "abc", nil, http.StatusBadRequest, remote.CodeInvalidChunk},
		{"oversized chunk", http.MethodPut, "/api/v1/sessions/" + sid + "/chunks/0", strings.Repeat("x", 100), map[string]string{HeaderChunkDuration: "1"}, http.StatusRequestEntityTooLarge, remote.CodeInvalidChunk},
		{"invalid transition", http.MethodPatch, "/api/v1/sessions/" + sid, `{"status":"paused"}`, nil, http.StatusBadRequest, remote.CodeInvalidTransition},
		{"unknown status", http.MethodPatch, "/api/v1/sessions/" + sid, `{"status":"archived"}`, nil, http.StatusBadRequest, remote.CodeInvalidRequest},
		{"missing owner", http.MethodPost, "/api/v1/sessions", `{}`, nil, http.StatusBadRequest, remote.CodeInvalidRequest},
		{"unknown session", http.MethodGet, "/api/v1/sessions/missing", "", nil, http.StatusNotFound, remote.CodeSessionNotFound},
		{"unknown session audio", http.MethodGet, "/api/v1/sessions/missing/audio", "", nil, http.StatusNotFound, remote.CodeSessionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, f.server.URL+tt.path, bytes.NewBufferString(tt.body))
			require.NoError(t, err)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.expected, resp.StatusCode)
			body, _ := io.ReadAll(resp.Body)
			assert.Contains(t, string(body), `"code":"`+tt.code+`"`)
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.client.Ping(context.Background()))

	resp, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `chunkrec_http_requests_total{endpoint="/health",method="GET",status_code="200"} 1`)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"index", &chunk.IndexError{SessionID: "s", Index: 9, Last: 0}, http.StatusConflict},
		{"upload wrapping not found", &chunk.UploadError{SessionID: "s", Err: chunk.ErrSessionNotFound}, http.StatusNotFound},
		{"storage", &chunk.UploadError{SessionID: "s", Err: errors.New("connection refused")}, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := classify(tt.err)
			assert.Equal(t, tt.expected, status)
		})
	}
}

func TestStopWithoutStart(t *testing.T) {
	h := NewHTTPServer(config.HTTPConfig{Port: 0, Address: "127.0.0.1"}, Deps{Store: store.NewMemory()}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, h.Stop(ctx))
}
