package analytics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu      sync.Mutex
	execs   []string
	batches [][][]interface{}
}

func (f *fakeStore) Exec(ctx context.Context, query string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, query)
	return nil
}

func (f *fakeStore) QueryRows(ctx context.Context, query string, args ...interface{}) (driver.Rows, error) {
	return nil, context.Canceled
}

func (f *fakeStore) BatchInsert(ctx context.Context, query string, data [][]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, data)
	return nil
}

func (f *fakeStore) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestClickHouseTracker_FlushOnClose(t *testing.T) {
	store := &fakeStore{}
	tracker, err := NewClickHouseTracker(context.Background(), store, 100, time.Hour, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClickHouseTracker returned error: %v", err)
	}
	if len(store.execs) != 1 {
		t.Fatalf("expected table creation on start, got %d execs", len(store.execs))
	}

	tracker.Track(context.Background(), FunnelEvent{Stage: StagePhoneSubmitted, Outcome: "ok", SessionID: "s1"})
	tracker.Track(context.Background(), FunnelEvent{Stage: StageVerified, Outcome: "ok", SessionID: "s1", Demo: true})

	if err := tracker.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if got := store.rowCount(); got != 2 {
		t.Fatalf("expected 2 rows written on close, got %d", got)
	}
	row := store.batches[0][1]
	if row[1] != StageVerified || row[5] != uint8(1) {
		t.Fatalf("unexpected row layout: %v", row)
	}
}

func TestClickHouseTracker_FlushWhenFull(t *testing.T) {
	store := &fakeStore{}
	tracker, err := NewClickHouseTracker(context.Background(), store, 2, time.Hour, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClickHouseTracker returned error: %v", err)
	}
	defer tracker.Close()

	tracker.Track(context.Background(), FunnelEvent{Stage: StagePhoneSubmitted})
	tracker.Track(context.Background(), FunnelEvent{Stage: StagePhoneSubmitted})

	deadline := time.Now().Add(2 * time.Second)
	for store.rowCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected buffered events to be flushed when the batch filled")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNoopTracker(t *testing.T) {
	var tr Tracker = NoopTracker{}
	tr.Track(context.Background(), FunnelEvent{Stage: StageOfferSelected})
	counts, err := tr.Funnel(context.Background(), time.Now())
	if err != nil || len(counts) != 0 {
		t.Fatalf("expected empty funnel, got %v %v", counts, err)
	}
}

type slowStore struct {
	fakeStore
	release  chan struct{}
	active   int
	maxSeen  int
	activeMu sync.Mutex
}

func (s *slowStore) BatchInsert(ctx context.Context, query string, data [][]interface{}) error {
	s.activeMu.Lock()
	s.active++
	if s.active > s.maxSeen {
		s.maxSeen = s.active
	}
	s.activeMu.Unlock()

	<-s.release

	s.activeMu.Lock()
	s.active--
	s.activeMu.Unlock()
	return s.fakeStore.BatchInsert(ctx, query, data)
}

func TestClickHouseTracker_SingleWriterAndBoundedBuffer(t *testing.T) {
	store := &slowStore{release: make(chan struct{})}
	tracker, err := NewClickHouseTracker(context.Background(), store, 2, time.Hour, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClickHouseTracker returned error: %v", err)
	}

	for i := 0; i < 2*maxBufferedBatches*3; i++ {
		tracker.Track(context.Background(), FunnelEvent{Stage: StagePhoneSubmitted})
	}

	close(store.release)
	if err := tracker.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	store.activeMu.Lock()
	maxSeen := store.maxSeen
	store.activeMu.Unlock()
	if maxSeen != 1 {
		t.Fatalf("expected one concurrent write, saw %d", maxSeen)
	}
	// At most one full buffer in the blocked write and one more at close.
	got := store.rowCount()
	if got < 2 || got > 2*(2*maxBufferedBatches) {
		t.Fatalf("expected buffered rows within the cap, got %d", got)
	}
}
