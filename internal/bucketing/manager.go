package bucketing

import (
	"hash"
	"sync"
	"time"

	"portal-service/internal/config"

	"github.com/spaolacci/murmur3"
)

const eventBuckets = 16

// BucketingManager spreads accounts and audit events over a fixed number of
// partitions so no single wide-column partition grows without bound.
type BucketingManager struct {
	accountBuckets int
	hasherPool     sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	n := cfg.Bucketing.AccountBuckets
	if n <= 0 {
		n = 64
	}
	bm := &BucketingManager{accountBuckets: n}

	// Create pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// AccountBucket returns the consistent bucket for an account id.
func (bm *BucketingManager) AccountBucket(accountID string) int {
	return bm.getBucket(accountID, bm.accountBuckets)
}

// EventBucket returns the bucket for an audit event key.
func (bm *BucketingManager) EventBucket(identifier string) int {
	return bm.getBucket(identifier, eventBuckets)
}

// DateBucket returns the UTC day of t as YYYY-MM-DD.
func (bm *BucketingManager) DateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) AccountBuckets() int {
	return bm.accountBuckets
}

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	return int(bm.getHash(key) % uint64(numBuckets))
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
