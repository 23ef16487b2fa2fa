package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/wesm/noticevault/internal/cache"
	"github.com/wesm/noticevault/internal/metrics"
	"github.com/wesm/noticevault/internal/notice"
	"golang.org/x/sync/singleflight"
)

// Default lifetimes of cached results.
const (
	DefaultQueryTTL     = 10 * time.Minute
	DefaultAggregateTTL = 5 * time.Minute
)

// fillTimeout bounds a shared fill. The fill outlives the caller that
// started it because other callers may be waiting on the same result.
const fillTimeout = 30 * time.Second

// Cached is a read-through cache in front of an Engine. Store failures are
// logged and answered with empty results; they are never cached.
//
// A fill that started before InvalidateAll never writes its result after
// the invalidation, so an invalidation always hides every result computed
// from data older than the write that triggered it.
type Cached struct {
	engine       Engine
	cache        cache.Cache
	queryTTL     time.Duration
	aggregateTTL time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics

	group singleflight.Group
}

// CachedOption configures a Cached.
type CachedOption func(*Cached)

// WithTTLs sets the query and aggregate lifetimes. Zero keeps the default.
func WithTTLs(queryTTL, aggregateTTL time.Duration) CachedOption {
	return func(c *Cached) {
		if queryTTL > 0 {
			c.queryTTL = queryTTL
		}
		if aggregateTTL > 0 {
			c.aggregateTTL = aggregateTTL
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) CachedOption {
	return func(c *Cached) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) CachedOption {
	return func(c *Cached) {
		c.metrics = m
	}
}

// NewCached wraps engine with c.
func NewCached(engine Engine, c cache.Cache, opts ...CachedOption) *Cached {
	cc := &Cached{
		engine:       engine,
		cache:        c,
		queryTTL:     DefaultQueryTTL,
		aggregateTTL: DefaultAggregateTTL,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(cc)
	}
	return cc
}

// Query returns one page of notices. On store failure it returns an empty
// page with Degraded set.
func (c *Cached) Query(ctx context.Context, f notice.Filter) *notice.Page {
	f = f.Normalized()
	page, err := readThrough(ctx, c, "query", f.Key(), c.queryTTL, func(ctx context.Context) (*notice.Page, error) {
		return c.engine.Query(ctx, f)
	})
	if err != nil {
		c.logger.Warn("notice query failed", "filter", f.Key(), "error", err)
		c.metrics.DegradedRead("query")
		return &notice.Page{Rows: []notice.Row{}, Page: f.Page, PageSize: notice.PageSize, Degraded: true}
	}
	return page
}

// NewCounts returns the new-notice aggregate, or an empty map on store
// failure.
func (c *Cached) NewCounts(ctx context.Context) notice.Counts {
	counts, err := readThrough(ctx, c, "counts", "counts", c.aggregateTTL, c.engine.NewCounts)
	if err != nil {
		c.logger.Warn("new count aggregate failed", "error", err)
		c.metrics.DegradedRead("counts")
		return notice.Counts{}
	}
	return counts
}

// NoticeDates returns the distinct notice dates of office, or nil on store
// failure.
func (c *Cached) NoticeDates(ctx context.Context, office string) []time.Time {
	office = notice.NormalizeOffice(office)
	dates, err := readThrough(ctx, c, "dates", "dates:"+office, c.aggregateTTL, func(ctx context.Context) ([]time.Time, error) {
		return c.engine.NoticeDates(ctx, office)
	})
	if err != nil {
		c.logger.Warn("notice dates failed", "office", office, "error", err)
		c.metrics.DegradedRead("dates")
		return nil
	}
	return dates
}

// InvalidateAll drops every cached query, aggregate and date set.
func (c *Cached) InvalidateAll(ctx context.Context) {
	c.cache.InvalidateAll(ctx)

	c.metrics.CacheInvalidated()
	c.logger.Debug("result cache invalidated")
}

// readThrough serves key from the cache or computes it with fill,
// collapsing concurrent misses of the same key and generation.
func readThrough[T any](ctx context.Context, c *Cached, kind, key string, ttl time.Duration, fill func(context.Context) (T, error)) (T, error) {
	var out T
	if b, ok := c.cache.Get(ctx, key); ok {
		if err := json.Unmarshal(b, &out); err == nil {
			c.metrics.CacheLookup(kind, true)
			return out, nil
		}
		c.logger.Warn("discarding undecodable cache entry", "key", key)
	}
	c.metrics.CacheLookup(kind, false)

	// The generation is read before the fill so a put racing an
	// invalidation is dropped by the cache.
	gen := c.cache.Generation(ctx)
	v, err, _ := c.group.Do(fmt.Sprintf("%d|%s", gen, key), func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fillTimeout)
		defer cancel()
		res, err := fill(fctx)
		if err != nil {
			return nil, err
		}
		c.put(fctx, gen, key, res, ttl)
		return res, nil
	})
	if err != nil {
		return out, err
	}
	return v.(T), nil
}

func (c *Cached) put(ctx context.Context, gen int64, key string, v interface{}, ttl time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("encode cache entry", "key", key, "error", err)
		return
	}
	c.cache.Put(ctx, gen, key, b, ttl)
}
