package uploader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/chunkrec/internal/chunk"
	"github.com/skypro1111/chunkrec/internal/events"
	"github.com/skypro1111/chunkrec/internal/metrics"
	"github.com/skypro1111/chunkrec/internal/sequencer"
	"github.com/skypro1111/chunkrec/internal/store"
)

type fixture struct {
	store     *store.Memory
	uploader  *Uploader
	collector *events.Collector
	metrics   *metrics.Metrics
	session   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	seq := sequencer.New(sequencer.DefaultWindow(), nil, sequencer.WithSeed(mem.MaxIndex), sequencer.WithObserver(m))
	collector := &events.Collector{}

	s, err := mem.CreateSession(context.Background(), "device-1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	return &fixture{
		store:     mem,
		uploader:  New(mem, seq, collector, m, nil),
		collector: collector,
		metrics:   m,
		session:   s.ID,
	}
}

func TestUploadRetrySameIndexCountsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.uploader.Upload(ctx, Request{SessionID: f.session, Index: 0, Data: []byte{1, 2}, Duration: 30})
	if err != nil {
		t.Fatalf("First upload failed: %v", err)
	}
	second, err := f.uploader.Upload(ctx, Request{SessionID: f.session, Index: 0, Data: []byte{1, 2}, Duration: 30})
	if err != nil {
		t.Fatalf("Retry upload failed: %v", err)
	}

	if !first.Created || second.Created {
		t.Errorf("Expected create then overwrite, got %v then %v", first.Created, second.Created)
	}
	if !second.Decision.Warning() {
		t.Error("Retry should carry a sequence warning")
	}

	chunks, _ := f.store.ListChunks(ctx, f.session, false)
	if len(chunks) != 1 || chunks[0].ID != chunk.DeriveID(f.session, 0) {
		t.Fatalf("Expected exactly one record at the derived id, got %+v", chunks)
	}

	s, _ := f.store.GetSession(ctx, f.session)
	if s.ChunksCount != 1 {
		t.Errorf("Expected chunks_count 1, got %d", s.ChunksCount)
	}

	if got := testutil.ToFloat64(f.metrics.Uploads.WithLabelValues("overwritten")); got != 1 {
		t.Errorf("Expected 1 overwritten upload metric, got %v", got)
	}
	if evs := f.collector.ChunkEvents(); len(evs) != 2 || !evs[0].Created || evs[1].Created {
		t.Errorf("Unexpected chunk events: %+v", evs)
	}
}

func TestUploadRejectsOutOfWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.uploader.Upload(ctx, Request{SessionID: f.session, Index: 9, Data: []byte{1}, Duration: 30})
	if !errors.Is(err, chunk.ErrChunkIndexOutOfRange) {
		t.Fatalf("Expected ErrChunkIndexOutOfRange, got %v", err)
	}

	chunks, _ := f.store.ListChunks(ctx, f.session, false)
	if len(chunks) != 0 {
		t.Errorf("Rejected chunk must not be stored")
	}
}

func TestUploadOutOfOrderWithinWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, idx := range []int{1, 0, 2, 4, 3} {
		if _, err := f.uploader.Upload(ctx, Request{SessionID: f.session, Index: idx, Data: []byte{byte(idx)}, Duration: 30}); err != nil {
			t.Fatalf("Upload(%d) failed: %v", idx, err)
		}
	}

	s, _ := f.store.GetSession(ctx, f.session)
	if s.ChunksCount != 5 {
		t.Errorf("Expected chunks_count 5, got %d", s.ChunksCount)
	}
}

func TestUploadEmptyPayload(t *testing.T) {
	f := newFixture(t)

	_, err := f.uploader.Upload(context.Background(), Request{SessionID: f.session, Index: 0, Duration: 30})
	if !errors.Is(err, chunk.ErrEmptyPayload) {
		t.Errorf("Expected ErrEmptyPayload, got %v", err)
	}
}

func TestUploadUnknownSessionIsUploadError(t *testing.T) {
	f := newFixture(t)

	_, err := f.uploader.Upload(context.Background(), Request{SessionID: "missing", Index: 0, Data: []byte{1}, Duration: 1})
	if !errors.Is(err, chunk.ErrChunkUploadFailed) {
		t.Errorf("Expected ErrChunkUploadFailed, got %v", err)
	}
	if !errors.Is(err, chunk.ErrSessionNotFound) {
		t.Errorf("Expected wrapped ErrSessionNotFound, got %v", err)
	}
}

func TestUploadConcurrentRetriesCountOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.uploader.Upload(ctx, Request{SessionID: f.session, Index: 0, Data: []byte{1}, Duration: 30})
		}()
	}
	wg.Wait()

	s, _ := f.store.GetSession(ctx, f.session)
	if s.ChunksCount != 1 {
		t.Errorf("Expected chunks_count 1 after concurrent retries, got %d", s.ChunksCount)
	}
}

func TestUploadBackfillBelowLast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, idx := range []int{0, 1, 3, 4, 5, 6} {
		if _, err := f.uploader.Upload(ctx, Request{SessionID: f.session, Index: idx, Data: []byte{byte(idx)}, Duration: 30}); err != nil {
			t.Fatalf("Upload %d failed: %v", idx, err)
		}
	}

	if _, err := f.uploader.Upload(ctx, Request{SessionID: f.session, Index: 2, Data: []byte{2}, Duration: 30}); !errors.Is(err, chunk.ErrChunkIndexOutOfRange) {
		t.Fatalf("Expected late index 2 to be rejected, got %v", err)
	}

	res, err := f.uploader.Upload(ctx, Request{SessionID: f.session, Index: 2, Data: []byte{2}, Duration: 30, Backfill: true})
	if err != nil {
		t.Fatalf("Backfill failed: %v", err)
	}
	if !res.Created || !res.Decision.Warning() {
		t.Errorf("Expected created backfill with warning, got %+v", res)
	}

	s, _ := f.store.GetSession(ctx, f.session)
	if s.ChunksCount != 7 {
		t.Errorf("Expected 7 chunks, got %d", s.ChunksCount)
	}
}

// flakyChunkStore fails the first PutChunk, either before or after the write lands
type flakyChunkStore struct {
	*store.Memory
	afterWrite bool
	mu         sync.Mutex
	failed     bool
}

func (s *flakyChunkStore) PutChunk(ctx context.Context, c chunk.AudioChunk) (store.PutResult, error) {
	s.mu.Lock()
	fail := !s.failed
	s.failed = true
	s.mu.Unlock()

	if fail && !s.afterWrite {
		return store.PutResult{}, errors.New("connection reset")
	}
	res, err := s.Memory.PutChunk(ctx, c)
	if fail && err == nil {
		return store.PutResult{}, errors.New("connection reset")
	}
	return res, err
}

func TestUploadRetryAfterStorageFailureCountsOnce(t *testing.T) {
	tests := []struct {
		name       string
		afterWrite bool
	}{
		{"failure before write", false},
		{"response lost after write", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			mem := store.NewMemory()
			flaky := &flakyChunkStore{Memory: mem, afterWrite: tt.afterWrite}
			seq := sequencer.New(sequencer.DefaultWindow(), nil, sequencer.WithSeed(mem.MaxIndex))
			up := New(flaky, seq, nil, nil, nil)

			s, err := mem.CreateSession(ctx, "device-1")
			if err != nil {
				t.Fatalf("CreateSession failed: %v", err)
			}

			req := Request{SessionID: s.ID, Index: 0, Data: []byte{1, 2}, Duration: 30}
			if _, err := up.Upload(ctx, req); !errors.Is(err, chunk.ErrChunkUploadFailed) {
				t.Fatalf("Expected ErrChunkUploadFailed, got %v", err)
			}
			if _, err := up.Upload(ctx, req); err != nil {
				t.Fatalf("Retry failed: %v", err)
			}

			chunks, _ := mem.ListChunks(ctx, s.ID, false)
			got, _ := mem.GetSession(ctx, s.ID)
			if len(chunks) != 1 || got.ChunksCount != 1 {
				t.Errorf("Expected 1 stored chunk and chunks_count 1, got %d and %d", len(chunks), got.ChunksCount)
			}
		})
	}
}

func TestSessionLocksSerializePerSession(t *testing.T) {
	var locks sessionLocks

	unlockA := locks.lock("a")

	acquired := make(chan struct{})
	go func() {
		unlock := locks.lock("a")
		close(acquired)
		unlock()
	}()

	unlockB := locks.lock("b")
	unlockB()

	select {
	case <-acquired:
		t.Fatal("Second lock of the same session acquired while held")
	case <-time.After(50 * time.Millisecond):
	}

	unlockA()
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("Second lock not acquired after release")
	}

	deadline := time.Now().Add(5 * time.Second)
	for locks.size() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected released locks to be dropped, %d left", locks.size())
		}
		time.Sleep(time.Millisecond)
	}
}
