// Package cache provides the result cache used by the query layer.
//
// Entries are opaque byte slices with a per-entry TTL. InvalidateAll drops
// every entry at once; the cache has no per-key delete because any notice
// write can change the result of any cached query.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wesm/noticevault/internal/config"
)

// Cache is a concurrency-safe TTL cache. Backend failures are treated as
// misses; they never surface to callers.
//
// A filler reads Generation before computing a value and passes it to Put.
// Put drops the value if InvalidateAll ran in between, so a result computed
// from data older than an invalidation is never stored.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Generation(ctx context.Context) int64
	Put(ctx context.Context, gen int64, key string, value []byte, ttl time.Duration)
	InvalidateAll(ctx context.Context)
}

// NoGeneration is returned by Generation when the backend cannot tell.
// Puts made with it are dropped.
const NoGeneration int64 = -1

// New builds the cache selected by cfg.Backend.
func New(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(cfg.QueryTTL.Duration), nil
	case "redis":
		return NewRedis(ctx, cfg.RedisURL, cfg.KeyPrefix, logger)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
