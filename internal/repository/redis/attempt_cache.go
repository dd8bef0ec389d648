package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"portal-service/internal/client"
	"portal-service/internal/util"
)

const (
	attemptCounterPrefix = "verify_attempts:"
	attemptLockPrefix    = "verify_lock:"
)

// The window starts at the first failure and is not extended by later ones.
var fixedWindowIncrScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// AttemptCache counts failed SSN checks per phone fingerprint and holds
// the cool-down lock once the limit is reached.
type AttemptCache struct {
	client *client.RedisClient
}

func NewAttemptCache(client *client.RedisClient) *AttemptCache {
	return &AttemptCache{client: client}
}

func (c *AttemptCache) IsLocked(ctx context.Context, key string) (bool, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ttl, err := c.client.TTL(ctx, attemptLockPrefix+key)
	if err != nil {
		util.Error("Failed to check verification lock", zap.String("key", key), zap.Error(err))
		return false, 0, fmt.Errorf("failed to check lock: %w", err)
	}
	// -2 means the key does not exist, -1 that it has no expiry.
	if ttl == -2*time.Nanosecond || ttl == -2*time.Second {
		return false, 0, nil
	}
	if ttl < 0 {
		return true, 0, nil
	}
	return true, ttl, nil
}

func (c *AttemptCache) RecordFailure(ctx context.Context, key string, window time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := c.client.RunScript(ctx, fixedWindowIncrScript, []string{attemptCounterPrefix + key}, window.Milliseconds())
	if err != nil {
		util.Error("Failed to record verification failure", zap.String("key", key), zap.Error(err))
		return 0, fmt.Errorf("failed to record failure: %w", err)
	}
	count, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected attempt counter type %T", res)
	}

	util.Debug("Verification failure recorded", zap.String("key", key), zap.Int64("count", count))
	return int(count), nil
}

func (c *AttemptCache) Lock(ctx context.Context, key string, window time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := c.client.SetNX(ctx, attemptLockPrefix+key, "locked", window); err != nil {
		util.Error("Failed to set verification lock", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to set lock: %w", err)
	}
	return nil
}

func (c *AttemptCache) Reset(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, attemptCounterPrefix+key); err != nil {
		return fmt.Errorf("failed to reset attempts: %w", err)
	}
	return nil
}
