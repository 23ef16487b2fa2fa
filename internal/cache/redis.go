package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a cache shared between processes. Keys live under a generation
// number; InvalidateAll increments the generation so every older key
// becomes unreachable at once and ages out through its TTL.
type Redis struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedis parses redisURL, verifies connectivity and returns the cache.
func NewRedis(ctx context.Context, redisURL, prefix string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisWithClient(client, prefix, logger), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string, logger *slog.Logger) *Redis {
	if prefix == "" {
		prefix = "noticevault"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, prefix: prefix, logger: logger}
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) genKey() string {
	return r.prefix + ":gen"
}

func entryKey(prefix string, gen int64, key string) string {
	return prefix + ":" + strconv.FormatInt(gen, 10) + ":" + key
}

func (r *Redis) generation(ctx context.Context) (int64, error) {
	gen, err := r.client.Get(ctx, r.genKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Get returns the value stored under key in the current generation.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	gen, err := r.generation(ctx)
	if err != nil {
		r.logger.Warn("redis cache generation read failed", "error", err)
		return nil, false
	}
	b, err := r.client.Get(ctx, entryKey(r.prefix, gen, key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("redis cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return b, true
}

// putScript sets KEYS[2] only while the generation in KEYS[1] still equals
// ARGV[1]. Running the check and the write as one script keeps an
// InvalidateAll from slipping in between them.
var putScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1]) or '0'
if cur ~= ARGV[1] then
	return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ttl)
else
	redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

// Generation returns the current generation, or NoGeneration when the
// server cannot be read.
func (r *Redis) Generation(ctx context.Context) int64 {
	gen, err := r.generation(ctx)
	if err != nil {
		r.logger.Warn("redis cache generation read failed", "error", err)
		return NoGeneration
	}
	return gen
}

// Put stores value under key in generation gen. The write is skipped if
// another process has invalidated since gen was read.
func (r *Redis) Put(ctx context.Context, gen int64, key string, value []byte, ttl time.Duration) {
	if gen == NoGeneration {
		return
	}
	keys := []string{r.genKey(), entryKey(r.prefix, gen, key)}
	stored, err := putScript.Run(ctx, r.client, keys, strconv.FormatInt(gen, 10), value, ttl.Milliseconds()).Int()
	if err != nil {
		r.logger.Warn("redis cache put failed", "key", key, "error", err)
		return
	}
	if stored == 0 {
		r.logger.Debug("redis cache put dropped, generation moved", "key", key, "gen", gen)
	}
}

// InvalidateAll moves every process sharing the prefix to a new generation.
func (r *Redis) InvalidateAll(ctx context.Context) {
	if err := r.client.Incr(ctx, r.genKey()).Err(); err != nil {
		r.logger.Error("redis cache invalidation failed", "error", err)
	}
}
