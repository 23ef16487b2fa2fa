// Package metrics exports Prometheus collectors for the query cache and the
// sync workers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service collectors. A nil *Metrics is valid and
// records nothing, so components can be built without a registry.
type Metrics struct {
	cacheRequests      *prometheus.CounterVec
	cacheInvalidations prometheus.Counter
	degradedReads      *prometheus.CounterVec

	syncStageRuns   *prometheus.CounterVec
	syncRuns        *prometheus.CounterVec
	syncDuration    *prometheus.HistogramVec
	noticesInserted *prometheus.CounterVec
	mutations       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noticevault_cache_requests_total",
				Help: "Result cache lookups",
			},
			[]string{"kind", "result"}, // kind: query, counts, dates; result: hit, miss
		),
		cacheInvalidations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "noticevault_cache_invalidations_total",
				Help: "Full result cache invalidations",
			},
		),
		degradedReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noticevault_degraded_reads_total",
				Help: "Reads that returned an empty result because the store failed",
			},
			[]string{"kind"},
		),
		syncStageRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noticevault_sync_stage_runs_total",
				Help: "Feed stage fetches by trigger and outcome",
			},
			[]string{"trigger", "stage", "status"}, // trigger: scheduled, manual
		),
		syncRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noticevault_sync_runs_total",
				Help: "Completed sync runs",
			},
			[]string{"trigger"},
		),
		syncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "noticevault_sync_duration_seconds",
				Help: "Wall time of a sync run",
				// 1s to ~17m
				Buckets: prometheus.ExponentialBuckets(1, 2, 11),
			},
			[]string{"trigger"},
		),
		noticesInserted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noticevault_notices_inserted_total",
				Help: "Notices written by feed ingestion",
			},
			[]string{"stage"},
		),
		mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noticevault_mutations_total",
				Help: "User mutations by operation and outcome",
			},
			[]string{"op", "status"},
		),
	}
	reg.MustRegister(
		m.cacheRequests, m.cacheInvalidations, m.degradedReads,
		m.syncStageRuns, m.syncRuns, m.syncDuration,
		m.noticesInserted, m.mutations,
	)
	return m
}

// CacheLookup records a cache hit or miss for kind.
func (m *Metrics) CacheLookup(kind string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.WithLabelValues(kind, result).Inc()
}

// CacheInvalidated records a full invalidation.
func (m *Metrics) CacheInvalidated() {
	if m == nil {
		return
	}
	m.cacheInvalidations.Inc()
}

// DegradedRead records a read answered with an empty result.
func (m *Metrics) DegradedRead(kind string) {
	if m == nil {
		return
	}
	m.degradedReads.WithLabelValues(kind).Inc()
}

// StageRun records one stage fetch outcome.
func (m *Metrics) StageRun(trigger, stage string, err error, inserted int) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.syncStageRuns.WithLabelValues(trigger, stage, status).Inc()
	if inserted > 0 {
		m.noticesInserted.WithLabelValues(stage).Add(float64(inserted))
	}
}

// SyncRun records a completed sync run.
func (m *Metrics) SyncRun(trigger string, d time.Duration) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(trigger).Inc()
	m.syncDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

// Mutation records a mutation outcome.
func (m *Metrics) Mutation(op string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.mutations.WithLabelValues(op, status).Inc()
}
