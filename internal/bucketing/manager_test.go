package bucketing

import (
	"testing"
	"time"

	"portal-service/internal/config"
)

func TestAccountBucket(t *testing.T) {
	bm := NewBucketingManager(&config.Config{Bucketing: config.BucketingConfig{AccountBuckets: 8}})

	seen := map[int]bool{}
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
		b := bm.AccountBucket(id)
		if b < 0 || b >= 8 {
			t.Fatalf("bucket %d out of range", b)
		}
		if b != bm.AccountBucket(id) {
			t.Fatalf("bucket for %q is not stable", id)
		}
		seen[b] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected ids to spread over several buckets, got %v", seen)
	}
}

func TestDefaultsAndDateBucket(t *testing.T) {
	bm := NewBucketingManager(&config.Config{})
	if bm.AccountBuckets() != 64 {
		t.Fatalf("expected default 64 buckets, got %d", bm.AccountBuckets())
	}
	loc := time.FixedZone("UTC-5", -5*3600)
	if got := bm.DateBucket(time.Date(2026, 3, 1, 22, 0, 0, 0, loc)); got != "2026-03-02" {
		t.Fatalf("expected UTC date 2026-03-02, got %s", got)
	}
	if b := bm.EventBucket("x"); b < 0 || b >= eventBuckets {
		t.Fatalf("event bucket %d out of range", b)
	}
}
