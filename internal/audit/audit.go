package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"portal-service/internal/bucketing"
	"portal-service/internal/client"
	"portal-service/internal/models"
)

// Filter narrows a security event search. Zero values match everything.
type Filter struct {
	EventType string
	AccountID string
	PhoneHash string
	Since     time.Time
	Limit     int
}

// Recorder persists and searches security events.
type Recorder interface {
	Record(ctx context.Context, event *models.SecurityEvent) error
	Search(ctx context.Context, filter Filter) ([]models.SecurityEvent, error)
}

// stamp fills the identity and partitioning fields of event.
func stamp(event *models.SecurityEvent, bm *bucketing.BucketingManager) {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.EventTime.IsZero() {
		event.EventTime = time.Now().UTC()
	}
	event.EventBucket = bm.EventBucket(event.EventID)
	event.EventDate = bm.DateBucket(event.EventTime)
}

func defaultLimit(n int) int {
	if n <= 0 || n > 500 {
		return 100
	}
	return n
}

// ESRecorder indexes security events into Elasticsearch.
type ESRecorder struct {
	es        *client.ESClient
	index     string
	bucketing *bucketing.BucketingManager
	logger    *zap.Logger
}

func NewESRecorder(es *client.ESClient, index string, bm *bucketing.BucketingManager, logger *zap.Logger) *ESRecorder {
	return &ESRecorder{es: es, index: index, bucketing: bm, logger: logger}
}

// securityIndex maps identifiers as keywords so filters match exactly.
var securityIndex = map[string]interface{}{
	"settings": map[string]interface{}{"number_of_shards": 1},
	"mappings": map[string]interface{}{
		"dynamic": "strict",
		"properties": map[string]interface{}{
			"event_id":     map[string]interface{}{"type": "keyword"},
			"event_bucket": map[string]interface{}{"type": "integer"},
			"event_date":   map[string]interface{}{"type": "keyword"},
			"event_time":   map[string]interface{}{"type": "date"},
			"event_type":   map[string]interface{}{"type": "keyword"},
			"phone_hash":   map[string]interface{}{"type": "keyword"},
			"account_id":   map[string]interface{}{"type": "keyword"},
			"session_id":   map[string]interface{}{"type": "keyword"},
			"payment_id":   map[string]interface{}{"type": "keyword"},
			"ip_address":   map[string]interface{}{"type": "keyword"},
			"risk_score":   map[string]interface{}{"type": "integer"},
			"details":      map[string]interface{}{"type": "text"},
		},
	},
}

// EnsureIndex creates the security event index if it is missing.
func (r *ESRecorder) EnsureIndex(ctx context.Context) error {
	return r.es.EnsureIndex(ctx, r.index, securityIndex)
}

func (r *ESRecorder) Record(ctx context.Context, event *models.SecurityEvent) error {
	stamp(event, r.bucketing)

	res, err := r.es.IndexDocument(ctx, r.index, event.EventID, event)
	if err != nil {
		r.logger.Error("failed to index security event",
			zap.String("event_type", event.EventType),
			zap.Error(err))
		return err
	}
	if err := r.es.ParseResponse(res, nil); err != nil {
		return fmt.Errorf("failed to index security event: %w", err)
	}
	return nil
}

// buildQuery renders filter as an Elasticsearch bool query, newest first.
func buildQuery(filter Filter) map[string]interface{} {
	must := []interface{}{}
	term := func(field, value string) {
		if value != "" {
			must = append(must, map[string]interface{}{"term": map[string]interface{}{field: value}})
		}
	}
	term("event_type", filter.EventType)
	term("account_id", filter.AccountID)
	term("phone_hash", filter.PhoneHash)
	if !filter.Since.IsZero() {
		must = append(must, map[string]interface{}{
			"range": map[string]interface{}{"event_time": map[string]interface{}{"gte": filter.Since.UTC().Format(time.RFC3339)}},
		})
	}

	query := map[string]interface{}{"match_all": map[string]interface{}{}}
	if len(must) > 0 {
		query = map[string]interface{}{"bool": map[string]interface{}{"filter": must}}
	}
	return map[string]interface{}{
		"size":  defaultLimit(filter.Limit),
		"query": query,
		"sort":  []interface{}{map[string]interface{}{"event_time": map[string]interface{}{"order": "desc"}}},
	}
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source models.SecurityEvent `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (r *ESRecorder) Search(ctx context.Context, filter Filter) ([]models.SecurityEvent, error) {
	res, err := r.es.Search(ctx, r.index, buildQuery(filter))
	if err != nil {
		return nil, err
	}
	var parsed searchResponse
	if err := r.es.ParseResponse(res, &parsed); err != nil {
		return nil, err
	}

	events := make([]models.SecurityEvent, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		events = append(events, hit.Source)
	}
	return events, nil
}

// MemoryRecorder keeps the most recent events in process and logs each
// one. It backs the audit trail when Elasticsearch is not configured.
type MemoryRecorder struct {
	mu        sync.RWMutex
	events    []models.SecurityEvent
	capacity  int
	bucketing *bucketing.BucketingManager
	logger    *zap.Logger
}

func NewMemoryRecorder(capacity int, bm *bucketing.BucketingManager, logger *zap.Logger) *MemoryRecorder {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryRecorder{capacity: capacity, bucketing: bm, logger: logger}
}

func (r *MemoryRecorder) Record(ctx context.Context, event *models.SecurityEvent) error {
	stamp(event, r.bucketing)

	r.mu.Lock()
	r.events = append(r.events, *event)
	if len(r.events) > r.capacity {
		r.events = r.events[len(r.events)-r.capacity:]
	}
	r.mu.Unlock()

	r.logger.Info("security event",
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.String("account_id", event.AccountID),
		zap.Int("risk_score", event.RiskScore))
	return nil
}

func (r *MemoryRecorder) Search(ctx context.Context, filter Filter) ([]models.SecurityEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []models.SecurityEvent{}
	for _, e := range r.events {
		if filter.EventType != "" && e.EventType != filter.EventType {
			continue
		}
		if filter.AccountID != "" && e.AccountID != filter.AccountID {
			continue
		}
		if filter.PhoneHash != "" && e.PhoneHash != filter.PhoneHash {
			continue
		}
		if !filter.Since.IsZero() && e.EventTime.Before(filter.Since) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EventTime.After(out[j].EventTime) })
	if limit := defaultLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
