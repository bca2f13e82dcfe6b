package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/perbu/qest/pkg/metrics"
	"github.com/perbu/qest/pkg/qest"
	"github.com/perbu/qest/pkg/vectorstore"
)

// recordingStore wraps Memory, records upsert batch sizes and can fail a
// chosen upsert call (1-based).
type recordingStore struct {
	*vectorstore.Memory
	mu         sync.Mutex
	batchSizes []int
	failOn     int
	deletes    int
	// getsBeforeGone makes a deleted collection linger for that many lookups.
	getsBeforeGone int
	lingering      *qest.Collection
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Memory: vectorstore.NewMemory()}
}

func (r *recordingStore) Upsert(ctx context.Context, name string, points []qest.Point) error {
	r.mu.Lock()
	r.batchSizes = append(r.batchSizes, len(points))
	call := len(r.batchSizes)
	r.mu.Unlock()

	if call == r.failOn {
		return fmt.Errorf("%w: connection reset", qest.ErrExternal)
	}
	return r.Memory.Upsert(ctx, name, points)
}

func (r *recordingStore) DeleteCollection(ctx context.Context, name string) error {
	info, err := r.Memory.GetCollection(ctx, name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.deletes++
	if r.getsBeforeGone > 0 {
		r.lingering = &info
	}
	r.mu.Unlock()
	return r.Memory.DeleteCollection(ctx, name)
}

func (r *recordingStore) GetCollection(ctx context.Context, name string) (qest.Collection, error) {
	r.mu.Lock()
	if r.lingering != nil {
		if r.getsBeforeGone > 0 {
			r.getsBeforeGone--
			c := *r.lingering
			r.mu.Unlock()
			return c, nil
		}
		r.lingering = nil
	}
	r.mu.Unlock()
	return r.Memory.GetCollection(ctx, name)
}

func makePoints(n, dim int) []qest.Point {
	points := make([]qest.Point, n)
	for i := range points {
		vec := make([]float32, dim)
		vec[i%dim] = 1
		vec[(i+1)%dim] += float32(i%7) / 10
		points[i] = qest.Point{
			ID:      qest.ID(fmt.Sprint(i + 1)),
			Vector:  vec,
			Payload: map[string]any{qest.PayloadText: fmt.Sprintf("chunk %d", i+1)},
		}
	}
	return points
}

func TestSync_CreatesCollectionAndUploads(t *testing.T) {
	store := newRecordingStore()
	s := New(store, Options{})

	n, err := s.Sync(context.Background(), makePoints(3, 4), "qest")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("expected 3 uploaded, got %d", n)
	}

	c, err := store.GetCollection(context.Background(), "qest")
	if err != nil {
		t.Fatal(err)
	}
	if c.Dimension != 4 || c.Distance != qest.Cosine || c.PointCount != 3 {
		t.Errorf("unexpected collection: %+v", c)
	}
	for _, p := range store.Points("qest") {
		if len(p.Vector) != c.Dimension {
			t.Errorf("point %s has %d components, collection %d", p.ID, len(p.Vector), c.Dimension)
		}
	}
}

func TestSync_BatchBoundaries(t *testing.T) {
	tests := []struct {
		n, batch int
		want     []int
	}{
		{n: 250, batch: 100, want: []int{100, 100, 50}},
		{n: 200, batch: 100, want: []int{100, 100}},
		{n: 1, batch: 100, want: []int{1}},
		{n: 7, batch: 3, want: []int{3, 3, 1}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.n, tt.batch), func(t *testing.T) {
			store := newRecordingStore()
			s := New(store, Options{BatchSize: tt.batch})

			if _, err := s.Sync(context.Background(), makePoints(tt.n, 4), "qest"); err != nil {
				t.Fatal(err)
			}
			if len(store.batchSizes) != len(tt.want) {
				t.Fatalf("expected %d upload calls, got %d", len(tt.want), len(store.batchSizes))
			}
			for i, size := range tt.want {
				if store.batchSizes[i] != size {
					t.Errorf("batch %d: expected %d points, got %d", i, size, store.batchSizes[i])
				}
			}
		})
	}
}

func TestSync_Idempotent(t *testing.T) {
	store := newRecordingStore()
	s := New(store, Options{})
	points := makePoints(150, 4)

	for i := 0; i < 2; i++ {
		if _, err := s.Sync(context.Background(), points, "qest"); err != nil {
			t.Fatal(err)
		}
	}

	c, _ := store.GetCollection(context.Background(), "qest")
	if c.PointCount != 150 {
		t.Errorf("expected 150 points after two syncs, got %d", c.PointCount)
	}
	if store.deletes != 0 {
		t.Errorf("matching collection must not be recreated")
	}
}

func TestSync_RecreateOnDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	s := New(store, Options{})
	before := testutil.ToFloat64(metrics.CollectionRecreationsTotal.WithLabelValues("recreate"))

	if _, err := s.Sync(ctx, makePoints(5, 512), "recreate"); err != nil {
		t.Fatal(err)
	}

	newPoints := makePoints(2, 1024)
	newPoints[0].ID, newPoints[1].ID = "a", "b"
	report, err := s.SyncFrom(ctx, newPoints, "recreate", 0)
	if err != nil {
		t.Fatal(err)
	}
	if report.Action != Recreated {
		t.Errorf("expected Recreated, got %s", report.Action)
	}

	c, _ := store.GetCollection(ctx, "recreate")
	if c.Dimension != 1024 {
		t.Errorf("expected dimension 1024, got %d", c.Dimension)
	}
	points := store.Points("recreate")
	if len(points) != 2 || points[0].ID != "a" || points[1].ID != "b" {
		t.Errorf("expected exactly the new points, got %d", len(points))
	}

	after := testutil.ToFloat64(metrics.CollectionRecreationsTotal.WithLabelValues("recreate"))
	if after-before != 1 {
		t.Errorf("expected one recreation recorded, got %f", after-before)
	}
}

func TestSync_WaitsForDeletionToSettle(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	s := New(store, Options{SettleInterval: time.Millisecond, SettleTimeout: time.Second})

	if _, err := s.Sync(ctx, makePoints(1, 2), "qest"); err != nil {
		t.Fatal(err)
	}
	store.getsBeforeGone = 3

	if _, err := s.Sync(ctx, makePoints(1, 3), "qest"); err != nil {
		t.Fatal(err)
	}
	c, _ := store.GetCollection(ctx, "qest")
	if c.Dimension != 3 {
		t.Errorf("expected dimension 3, got %d", c.Dimension)
	}
}

func TestSync_SettleTimeout(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	s := New(store, Options{SettleInterval: time.Millisecond, SettleTimeout: 5 * time.Millisecond})

	if _, err := s.Sync(ctx, makePoints(1, 2), "qest"); err != nil {
		t.Fatal(err)
	}
	store.getsBeforeGone = 1 << 30

	_, err := s.Sync(ctx, makePoints(1, 3), "qest")
	if !errors.Is(err, qest.ErrExternal) {
		t.Errorf("expected settle timeout, got %v", err)
	}
}

func TestSync_BatchFailureAbortsWithoutRollback(t *testing.T) {
	store := newRecordingStore()
	store.failOn = 2
	s := New(store, Options{BatchSize: 100})

	n, err := s.Sync(context.Background(), makePoints(250, 4), "qest")

	var batchErr *BatchUploadError
	if !errors.As(err, &batchErr) {
		t.Fatalf("expected BatchUploadError, got %v", err)
	}
	if batchErr.Batch != 1 || batchErr.Committed != 100 || batchErr.Batches != 3 {
		t.Errorf("unexpected error details: %+v", batchErr)
	}
	if !errors.Is(err, qest.ErrExternal) {
		t.Errorf("expected wrapped cause, got %v", err)
	}
	if n != 100 {
		t.Errorf("expected 100 uploaded, got %d", n)
	}
	if len(store.batchSizes) != 2 {
		t.Errorf("remaining batches must not be attempted, got %d calls", len(store.batchSizes))
	}
	if got := len(store.Points("qest")); got != 100 {
		t.Errorf("expected committed batch to remain, got %d points", got)
	}
}

func TestSyncFrom_ResumesAtFailedBatch(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	store.failOn = 2
	s := New(store, Options{BatchSize: 100})
	points := makePoints(250, 4)

	_, err := s.Sync(ctx, points, "qest")
	var batchErr *BatchUploadError
	if !errors.As(err, &batchErr) {
		t.Fatalf("expected BatchUploadError, got %v", err)
	}

	store.failOn = 0
	store.batchSizes = nil
	report, err := s.SyncFrom(ctx, points, "qest", batchErr.Batch)
	if err != nil {
		t.Fatal(err)
	}
	if report.Uploaded != 150 || report.Skipped != 100 {
		t.Errorf("unexpected report: %+v", report)
	}
	if len(store.batchSizes) != 2 {
		t.Errorf("expected 2 upload calls on resume, got %d", len(store.batchSizes))
	}
	if got := len(store.Points("qest")); got != 250 {
		t.Errorf("expected 250 points, got %d", got)
	}
}

func TestSyncFrom_RestartsWhenCollectionCreated(t *testing.T) {
	store := newRecordingStore()
	s := New(store, Options{BatchSize: 10})

	report, err := s.SyncFrom(context.Background(), makePoints(25, 4), "qest", 2)
	if err != nil {
		t.Fatal(err)
	}
	if report.Action != Created || report.Uploaded != 25 || report.Skipped != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestSync_Validation(t *testing.T) {
	s := New(newRecordingStore(), Options{})
	ctx := context.Background()

	if _, err := s.Sync(ctx, nil, "qest"); !errors.Is(err, qest.ErrEmptyInput) {
		t.Errorf("empty input: got %v", err)
	}

	ragged := makePoints(2, 4)
	ragged[1].Vector = ragged[1].Vector[:3]
	if _, err := s.Sync(ctx, ragged, "qest"); !errors.Is(err, qest.ErrDimensionMismatch) {
		t.Errorf("ragged input: got %v", err)
	}

	if _, err := s.SyncFrom(ctx, makePoints(5, 4), "qest", 1); !errors.Is(err, qest.ErrValidation) {
		t.Errorf("start batch out of range: got %v", err)
	}
}

func TestSync_Cancelled(t *testing.T) {
	store := newRecordingStore()
	s := New(store, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Sync(ctx, makePoints(3, 4), "qest")
	var batchErr *BatchUploadError
	if !errors.As(err, &batchErr) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled BatchUploadError, got %v", err)
	}
	if batchErr.Committed != 0 || len(store.batchSizes) != 0 {
		t.Errorf("no batch may be written after cancellation")
	}
}

func TestKeyedMutex_Exclusive(t *testing.T) {
	k := NewKeyedMutex()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(context.Background(), "qest")
			if err != nil {
				t.Error(err)
				return
			}
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("expected exclusive access, saw %d holders", maxInside)
	}
	if len(k.locks) != 0 {
		t.Errorf("expected lock entries to be released, got %d", len(k.locks))
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	k := NewKeyedMutex()
	unlockA, _ := k.Lock(context.Background(), "a")
	done := make(chan struct{})
	go func() {
		unlock, err := k.Lock(context.Background(), "b")
		if err == nil {
			unlock()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked by a")
	}
	unlockA()
}

func TestKeyedMutex_ContextDone(t *testing.T) {
	k := NewKeyedMutex()
	unlock, err := k.Lock(context.Background(), "qest")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := k.Lock(ctx, "qest"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	unlock()
	if len(k.locks) != 0 {
		t.Errorf("expected lock entries to be released, got %d", len(k.locks))
	}

	unlock2, err := k.Lock(context.Background(), "qest")
	if err != nil {
		t.Fatalf("lock should be free again: %v", err)
	}
	unlock2()
}

func TestSync_CancelledWhileWaitingForLock(t *testing.T) {
	store := newRecordingStore()
	locker := NewKeyedMutex()
	s := New(store, Options{Locker: locker})

	unlock, err := locker.Lock(context.Background(), "qest")
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := s.Sync(ctx, makePoints(3, 4), "qest")
		errs <- err
	}()
	cancel()

	select {
	case err := <-errs:
		var batchErr *BatchUploadError
		if !errors.As(err, &batchErr) || !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancelled BatchUploadError, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sync did not abort while waiting for the lock")
	}
	if len(store.batchSizes) != 0 {
		t.Errorf("no batch may be written, got %v", store.batchSizes)
	}
}

// A Qdrant endpoint answering every request with a plain 404 must surface as
// an external failure, not as a missing collection to create.
func TestSync_Foreign404IsExternal(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()
	store := vectorstore.NewQdrant(server.URL+"/wrong-prefix", "", time.Second)

	_, err := New(store, Options{}).Sync(context.Background(), makePoints(3, 4), "qest")
	if !errors.Is(err, qest.ErrExternal) || errors.Is(err, qest.ErrCollectionNotFound) {
		t.Errorf("expected external error, got %v", err)
	}
}

func TestConcurrentSyncsSerialized(t *testing.T) {
	store := newRecordingStore()
	s := New(store, Options{BatchSize: 10, SettleInterval: time.Millisecond})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, dim := range []int{4, 8} {
		wg.Add(1)
		go func(dim int) {
			defer wg.Done()
			_, err := s.Sync(ctx, makePoints(50, dim), "qest")
			errs <- err
		}(dim)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent sync failed: %v", err)
		}
	}

	c, _ := store.GetCollection(ctx, "qest")
	for _, p := range store.Points("qest") {
		if len(p.Vector) != c.Dimension {
			t.Fatalf("point %s has %d components in a %d-dimensional collection", p.ID, len(p.Vector), c.Dimension)
		}
	}
	if c.PointCount != 50 {
		t.Errorf("expected 50 points, got %d", c.PointCount)
	}
}

func TestCheckpoint_SaveLoadMatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "upload.gob")
	points := makePoints(250, 4)

	cp, err := LoadCheckpoint(path)
	if err != nil || cp != nil {
		t.Fatalf("missing checkpoint: got %v, %v", cp, err)
	}

	failure := &BatchUploadError{Collection: "qest", Batch: 1, Batches: 3, Committed: 100}
	if err := SaveCheckpoint(path, NewCheckpoint(failure, points, 100)); err != nil {
		t.Fatal(err)
	}

	cp, err = LoadCheckpoint(path)
	if err != nil {
		t.Fatal(err)
	}
	if cp.NextBatch != 1 || cp.Dimension != 4 || cp.Total != 250 {
		t.Errorf("unexpected checkpoint: %+v", cp)
	}
	if !cp.Matches("qest", points, 100) {
		t.Error("checkpoint should match the same upload")
	}
	if cp.Matches("other", points, 100) || cp.Matches("qest", points, 50) {
		t.Error("checkpoint matched a different upload")
	}

	changed := makePoints(250, 4)
	changed[10].Payload[qest.PayloadText] = "edited"
	if cp.Matches("qest", changed, 100) {
		t.Error("checkpoint matched a different point set")
	}

	if err := RemoveCheckpoint(path); err != nil {
		t.Fatal(err)
	}
	if err := RemoveCheckpoint(path); err != nil {
		t.Errorf("removing a missing checkpoint: %v", err)
	}
}

func TestSaveCheckpoint_FailedRenameLeavesNoTempFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload.gob")
	// A non-empty directory at path makes the final rename fail.
	if err := os.MkdirAll(filepath.Join(path, "occupied"), 0o755); err != nil {
		t.Fatal(err)
	}

	failure := &BatchUploadError{Collection: "qest", Batch: 1, Batches: 3}
	if err := SaveCheckpoint(path, NewCheckpoint(failure, makePoints(5, 4), 2)); err == nil {
		t.Fatal("expected rename failure")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind: %v", err)
	}
}
