package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/wesm/noticevault/internal/auth"
	"github.com/wesm/noticevault/internal/cache"
	"github.com/wesm/noticevault/internal/config"
	"github.com/wesm/noticevault/internal/feed"
	"github.com/wesm/noticevault/internal/metrics"
	"github.com/wesm/noticevault/internal/mutation"
	"github.com/wesm/noticevault/internal/query"
	"github.com/wesm/noticevault/internal/store"
	nsync "github.com/wesm/noticevault/internal/sync"
)

// app holds the services shared by the commands.
type app struct {
	store     *store.Store
	cache     cache.Cache
	notices   *query.Cached
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	details   *feed.DetailClient
	mutations *mutation.Coordinator
	gate      *nsync.Gate
	pipeline  *nsync.Pipeline
	runner    *nsync.Runner
}

// openApp opens the store, applies the schema and wires every service
// from cfg.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	st, err := store.Open(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := st.InitSchema(); err != nil {
		st.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	c, err := cache.New(ctx, cfg.Cache, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	engine := query.NewSQLEngine(st)
	cached := query.NewCached(engine, c,
		query.WithTTLs(cfg.Cache.QueryTTL.Duration, cfg.Cache.AggregateTTL.Duration),
		query.WithLogger(logger),
		query.WithMetrics(m))

	client := feed.NewClient(
		feed.WithHTTPClient(&http.Client{Timeout: cfg.Feed.Timeout.Duration}),
		feed.WithLogger(logger),
		feed.WithRateLimit(cfg.Feed.RequestsPerSecond),
		feed.WithServiceKey(cfg.Feed.ServiceKey),
	)
	var details *feed.DetailClient
	var detailSource mutation.DetailFetcher
	if cfg.Feed.SecondaryURL != "" {
		details = feed.NewDetailClient(client, cfg.Feed.SecondaryURL)
		detailSource = details
	}
	mut := mutation.New(st, detailSource, cached, mutation.WithLogger(logger), mutation.WithMetrics(m))

	minDate, err := cfg.MinSyncDate()
	if err != nil {
		st.Close()
		return nil, err
	}
	gate := &nsync.Gate{}
	pipeline := &nsync.Pipeline{
		Fetcher: feed.NewHTTPFetcher(client, st, cfg.Feed.Concurrency, logger),
		Stages:  feed.StagesFromConfig(cfg.Sync.Stages),
		Meta:    st,
		Cache:   cached,
		Logger:  logger,
		Metrics: m,
	}
	runner := nsync.NewRunner(pipeline, gate,
		nsync.WithMinDate(minDate),
		nsync.WithMaxRangeDays(cfg.Sync.MaxRangeDays))

	return &app{
		store:     st,
		cache:     c,
		notices:   cached,
		registry:  reg,
		metrics:   m,
		details:   details,
		mutations: mut,
		gate:      gate,
		pipeline:  pipeline,
		runner:    runner,
	}, nil
}

// Close releases the cache connection and the store.
func (a *app) Close() {
	if closer, ok := a.cache.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("close cache", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		logger.Warn("close database", "error", err)
	}
}

// cliUser returns the identity CLI mutations run as.
func cliUser() auth.User {
	name := os.Getenv("USER")
	if name == "" {
		name = os.Getenv("USERNAME")
	}
	if name = strings.TrimSpace(name); name == "" {
		name = "unknown"
	}
	return auth.User{Name: "cli:" + name}
}

// userContext attaches the CLI user to ctx.
func userContext(ctx context.Context) context.Context {
	return auth.WithUser(ctx, cliUser())
}
