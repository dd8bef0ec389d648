package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Funnel stages of the consumer flow.
const (
	StagePhoneSubmitted    = "phone_submitted"
	StageAccountSelected   = "account_selected"
	StageVerified          = "verified"
	StageOfferSelected     = "offer_selected"
	StagePaymentSubmitted  = "payment_submitted"
	StageVerificationError = "verification_error"
)

// FunnelEvent is one anonymous step taken in a portal session.
type FunnelEvent struct {
	At        time.Time
	Stage     string
	Outcome   string
	SessionID string
	AccountID string
	Demo      bool
}

// StageCount is one row of the funnel report.
type StageCount struct {
	Stage   string `json:"stage"`
	Outcome string `json:"outcome"`
	Count   uint64 `json:"count"`
}

type Tracker interface {
	Track(ctx context.Context, event FunnelEvent)
	Funnel(ctx context.Context, since time.Time) ([]StageCount, error)
	Close() error
}

// Store is the ClickHouse surface the tracker needs.
type Store interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	QueryRows(ctx context.Context, query string, args ...interface{}) (driver.Rows, error)
	BatchInsert(ctx context.Context, query string, data [][]interface{}) error
}

const createFunnelTable = `
CREATE TABLE IF NOT EXISTS portal_funnel (
    event_time DateTime64(3, 'UTC'),
    stage LowCardinality(String),
    outcome LowCardinality(String),
    session_id String,
    account_id String,
    demo UInt8
) ENGINE = MergeTree
ORDER BY (stage, event_time)`

const insertFunnel = `INSERT INTO portal_funnel (event_time, stage, outcome, session_id, account_id, demo)`

const selectFunnel = `
SELECT stage, outcome, count() AS n
FROM portal_funnel
WHERE event_time >= ?
GROUP BY stage, outcome
ORDER BY stage, outcome`

// maxBufferedBatches caps the buffer while ClickHouse is slow; events past
// the cap are dropped.
const maxBufferedBatches = 10

// ClickHouseTracker buffers funnel events and writes them in batches,
// either when the buffer fills or on each flush interval. All writes happen
// on one loop goroutine.
type ClickHouseTracker struct {
	store     Store
	logger    *zap.Logger
	batchSize int

	mu      sync.Mutex
	buffer  []FunnelEvent
	dropped int

	full chan struct{}
	stop chan struct{}
	done chan struct{}
}

func NewClickHouseTracker(ctx context.Context, store Store, batchSize int, flushInterval time.Duration, logger *zap.Logger) (*ClickHouseTracker, error) {
	if err := store.Exec(ctx, createFunnelTable); err != nil {
		return nil, fmt.Errorf("failed to create funnel table: %w", err)
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	t := &ClickHouseTracker{
		store:     store,
		logger:    logger,
		batchSize: batchSize,
		full:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go t.loop(flushInterval)
	return t, nil
}

func (t *ClickHouseTracker) loop(interval time.Duration) {
	defer close(t.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.flush(context.Background())
		case <-t.full:
			t.flush(context.Background())
		case <-t.stop:
			t.flush(context.Background())
			return
		}
	}
}

// Track never blocks on ClickHouse; a full buffer wakes the flush loop.
func (t *ClickHouseTracker) Track(ctx context.Context, event FunnelEvent) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	t.mu.Lock()
	if len(t.buffer) >= t.batchSize*maxBufferedBatches {
		t.dropped++
		t.mu.Unlock()
		return
	}
	t.buffer = append(t.buffer, event)
	full := len(t.buffer) >= t.batchSize
	t.mu.Unlock()

	if full {
		select {
		case t.full <- struct{}{}:
		default:
		}
	}
}

func (t *ClickHouseTracker) flush(ctx context.Context) {
	t.mu.Lock()
	pending := t.buffer
	dropped := t.dropped
	t.buffer = nil
	t.dropped = 0
	t.mu.Unlock()

	if dropped > 0 {
		t.logger.Warn("funnel buffer full, events dropped", zap.Int("dropped", dropped))
	}
	if len(pending) == 0 {
		return
	}

	rows := make([][]interface{}, 0, len(pending))
	for _, e := range pending {
		var demo uint8
		if e.Demo {
			demo = 1
		}
		rows = append(rows, []interface{}{e.At, e.Stage, e.Outcome, e.SessionID, e.AccountID, demo})
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := t.store.BatchInsert(ctx, insertFunnel, rows); err != nil {
		t.logger.Error("failed to write funnel events",
			zap.Int("event_count", len(rows)),
			zap.Error(err))
		return
	}
	t.logger.Debug("funnel events written", zap.Int("event_count", len(rows)))
}

func (t *ClickHouseTracker) Funnel(ctx context.Context, since time.Time) ([]StageCount, error) {
	rows, err := t.store.QueryRows(ctx, selectFunnel, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query funnel: %w", err)
	}
	defer rows.Close()

	out := []StageCount{}
	for rows.Next() {
		var sc StageCount
		if err := rows.Scan(&sc.Stage, &sc.Outcome, &sc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan funnel row: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Close stops the flush loop after writing whatever is buffered. It waits
// for an in-progress write to finish.
func (t *ClickHouseTracker) Close() error {
	close(t.stop)
	<-t.done
	return nil
}

// NoopTracker discards funnel events.
type NoopTracker struct{}

func (NoopTracker) Track(ctx context.Context, event FunnelEvent) {}

func (NoopTracker) Funnel(ctx context.Context, since time.Time) ([]StageCount, error) {
	return []StageCount{}, nil
}

func (NoopTracker) Close() error { return nil }
