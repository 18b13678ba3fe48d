package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupKeyPrefix = "sync:processed:"

// DedupCache is a non-authoritative hint that an idempotency key has already
// been fully processed. A hit only short-circuits into a database read of the
// committed sync record; the unique constraint on sync_records remains the
// sole source of truth. Redis being down or cold never affects correctness,
// only the cost of redelivered events.
type DedupCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDedupCache(rdb *redis.Client, ttl time.Duration) *DedupCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DedupCache{rdb: rdb, ttl: ttl}
}

// Seen reports whether the key was recently marked processed. Errors are
// treated as a miss.
func (c *DedupCache) Seen(ctx context.Context, key string) bool {
	if c == nil || c.rdb == nil {
		return false
	}
	n, err := c.rdb.Exists(ctx, dedupKeyPrefix+key).Result()
	return err == nil && n > 0
}

// Mark records the key as processed, best-effort.
func (c *DedupCache) Mark(ctx context.Context, key string) {
	if c == nil || c.rdb == nil {
		return
	}
	_ = c.rdb.Set(ctx, dedupKeyPrefix+key, "1", c.ttl).Err()
}
