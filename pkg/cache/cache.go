package cache

import (
	"context"
	"time"
)

// Cache is the injected TTL cache used by the signal detectors. Entries are
// best-effort: a cache may evict early or serve data up to one TTL stale.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
