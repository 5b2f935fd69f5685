package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/chunkrec/internal/audio"
	"github.com/skypro1111/chunkrec/internal/chunk"
	"github.com/skypro1111/chunkrec/internal/config"
	"github.com/skypro1111/chunkrec/internal/localstore"
	"github.com/skypro1111/chunkrec/internal/metrics"
	"github.com/skypro1111/chunkrec/internal/reassembly"
	"github.com/skypro1111/chunkrec/internal/recorder"
	"github.com/skypro1111/chunkrec/internal/sequencer"
	"github.com/skypro1111/chunkrec/internal/server"
	"github.com/skypro1111/chunkrec/internal/store"
	"github.com/skypro1111/chunkrec/internal/uploader"
)

type harness struct {
	store      *store.Memory
	configPath string
	cachePath  string
	dir        string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mem := store.NewMemory()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	seq := sequencer.New(sequencer.DefaultWindow(), nil, sequencer.WithSeed(mem.MaxIndex))
	h := server.NewHTTPServer(config.Default().HTTP, server.Deps{
		Store:       mem,
		Uploader:    uploader.New(mem, seq, nil, m, nil),
		Sequencer:   seq,
		Reassembler: reassembly.New(nil, mem),
		SampleRate:  8000,
		Channels:    1,
	}, nil, m)
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cachePath := filepath.Join(dir, "cache.db")
	configPath := filepath.Join(dir, "chunkctl.yaml")
	content := fmt.Sprintf(`
capture:
  chunk_duration: 2
  sample_rate: 8000
  frame_size: 1000
upload:
  max_retries: 0
local_store:
  enabled: true
  path: %q
client:
  server_url: %q
  principal: "tester"
logging:
  level: "error"
  output: "stderr"
`, cachePath, srv.URL)
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	return &harness{store: mem, configPath: configPath, cachePath: cachePath, dir: dir}
}

func (h *harness) run(t *testing.T, args ...string) ([]byte, error) {
	t.Helper()

	var out bytes.Buffer
	root := NewRootCmd()
	root.SetArgs(append([]string{"--config", h.configPath}, args...))
	root.SetOut(&out)
	root.SetErr(io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.Bytes(), err
}

func writeTone(t *testing.T, path string, seconds int) []int16 {
	t.Helper()
	samples := make([]int16, seconds*8000)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	data, err := audio.EncodeWAV(samples, 8000, 1)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return samples
}

func readWAV(t *testing.T, path string) []int16 {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	buf, err := wav.NewDecoder(f).FullPCMBuffer()
	require.NoError(t, err)
	out := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = int16(v)
	}
	return out
}

func TestRecordExportRetryPurge(t *testing.T) {
	h := newHarness(t)
	input := filepath.Join(h.dir, "input.wav")
	samples := writeTone(t, input, 5)

	out, err := h.run(t, "record", "--input", input)
	require.NoError(t, err)

	var stopped recorder.StopResult
	require.NoError(t, json.Unmarshal(out, &stopped))
	assert.Equal(t, 3, stopped.Chunks)
	assert.Equal(t, 3, stopped.Uploaded)
	assert.Empty(t, stopped.Failed)
	assert.InDelta(t, 5.0, stopped.Duration, 1e-9)

	s, err := h.store.GetSession(context.Background(), stopped.SessionID)
	require.NoError(t, err)
	assert.Equal(t, chunk.StatusCompleted, s.Status)
	assert.Equal(t, "tester", s.Owner)
	assert.Equal(t, 3, s.ChunksCount)
	require.NotNil(t, s.Duration)
	assert.InDelta(t, 5.0, *s.Duration, 1e-9)

	exported := filepath.Join(h.dir, "local.wav")
	out, err = h.run(t, "export", "--session", stopped.SessionID, "--out", exported)
	require.NoError(t, err)
	var report exportReport
	require.NoError(t, json.Unmarshal(out, &report))
	assert.Equal(t, reassembly.SourceLocal, report.Source)
	assert.Equal(t, []int{}, report.Skipped)
	assert.Equal(t, samples, readWAV(t, exported))

	out, err = h.run(t, "retry", "--session", stopped.SessionID, "--purge")
	require.NoError(t, err)
	var retried retryReport
	require.NoError(t, json.Unmarshal(out, &retried))
	assert.Equal(t, []int{0, 1, 2}, retried.Uploaded)
	assert.Equal(t, 0, retried.Created)
	assert.True(t, retried.Purged)

	s, err = h.store.GetSession(context.Background(), stopped.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 3, s.ChunksCount, "re-uploads must not change the chunk count")

	remoteExport := filepath.Join(h.dir, "remote.wav")
	out, err = h.run(t, "export", "--session", stopped.SessionID, "--out", remoteExport)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(out, &report))
	assert.Equal(t, reassembly.SourceRemote, report.Source)
	assert.Equal(t, samples, readWAV(t, remoteExport))
}

func TestRecoverClosesAbandonedSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, err := h.store.CreateSession(ctx, "tester")
	require.NoError(t, err)
	_, err = h.store.UpdateStatus(ctx, s.ID, chunk.StatusRecording, nil)
	require.NoError(t, err)

	cache, err := localstore.OpenSQLite(h.cachePath)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, cache.Put(ctx, chunk.AudioChunk{
		SessionID: s.ID, Index: 0, Data: []byte{1, 0, 2, 0}, Size: 4, Duration: 30, CapturedAt: now,
	}))
	require.NoError(t, cache.SaveState(ctx, chunk.RecordingState{
		SessionID: s.ID, Recording: true, StartedAt: now.Add(-10 * time.Second),
		ChunkCount: 1, Mode: chunk.ModeSingleSource, UpdatedAt: now,
	}))
	require.NoError(t, cache.Close())

	out, err := h.run(t, "recover")
	require.NoError(t, err)

	var reports []recoveredReport
	require.NoError(t, json.Unmarshal(out, &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, s.ID, reports[0].SessionID)
	assert.Empty(t, reports[0].Error)
	assert.InDelta(t, 30.0, reports[0].Duration, 1e-9)

	got, err := h.store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, chunk.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.ChunksCount)

	out, err = h.run(t, "recover")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(out))
}

func TestSessionCommands(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "session", "create", "--owner", "alice")
	require.NoError(t, err)
	var created chunk.Session
	require.NoError(t, json.Unmarshal(out, &created))
	assert.Equal(t, "alice", created.Owner)
	assert.Equal(t, chunk.StatusPending, created.Status)

	out, err = h.run(t, "session", "show", created.ID)
	require.NoError(t, err)
	var shown chunk.Session
	require.NoError(t, json.Unmarshal(out, &shown))
	assert.Equal(t, created.ID, shown.ID)

	_, err = h.run(t, "session", "show", "missing")
	assert.ErrorIs(t, err, chunk.ErrSessionNotFound)
}

func TestRequiredFlags(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "export", "--out", filepath.Join(h.dir, "x.wav"))
	assert.Error(t, err)

	_, err = h.run(t, "transcribe", "--session", "s", "--local", "--merged")
	assert.Error(t, err)
}
