package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.CacheLookup("query", true)
	m.CacheInvalidated()
	m.DegradedRead("query")
	m.StageRun("manual", "G2B", nil, 3)
	m.SyncRun("manual", time.Second)
	m.Mutation("toggle_favorite", nil)
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CacheLookup("query", true)
	m.CacheLookup("query", false)
	m.CacheLookup("query", false)
	if got := testutil.ToFloat64(m.cacheRequests.WithLabelValues("query", "miss")); got != 2 {
		t.Errorf("query misses = %v, want 2", got)
	}

	m.CacheInvalidated()
	if got := testutil.ToFloat64(m.cacheInvalidations); got != 1 {
		t.Errorf("invalidations = %v, want 1", got)
	}

	m.StageRun("scheduled", "G2B", errors.New("boom"), 0)
	m.StageRun("scheduled", "K-APT", nil, 5)
	if got := testutil.ToFloat64(m.syncStageRuns.WithLabelValues("scheduled", "G2B", "error")); got != 1 {
		t.Errorf("G2B errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.noticesInserted.WithLabelValues("K-APT")); got != 5 {
		t.Errorf("K-APT inserted = %v, want 5", got)
	}
}

func TestNewPanicsOnDoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Error("second New() on same registry did not panic")
		}
	}()
	New(reg)
}
