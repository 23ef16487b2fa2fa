package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wesm/noticevault/internal/cache"
	"github.com/wesm/noticevault/internal/config"
	"github.com/wesm/noticevault/internal/metrics"
	"github.com/wesm/noticevault/internal/mutation"
	"github.com/wesm/noticevault/internal/notice"
	"github.com/wesm/noticevault/internal/query"
	"github.com/wesm/noticevault/internal/scheduler"
	"github.com/wesm/noticevault/internal/store"
	nsync "github.com/wesm/noticevault/internal/sync"
	"github.com/wesm/noticevault/internal/testutil"
)

// testLogger returns a logger for tests that discards output
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testNow is a Tuesday; notices dated 2026-01-05 and 2026-01-06 are new.
var testNow = time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC)

// mockSync implements SyncRunner for tests.
type mockSync struct {
	mu      sync.Mutex
	events  []nsync.Event
	err     error
	active  map[string]bool
	stopped []string
	calls   int
}

func (m *mockSync) Run(ctx context.Context, start, end time.Time, events chan<- nsync.Event) (*nsync.Summary, error) {
	defer close(events)
	m.mu.Lock()
	m.calls++
	evs, err := m.events, m.err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	for _, ev := range evs {
		events <- ev
	}
	return &nsync.Summary{
		RunID: "run-1",
		Start: start.Format(notice.DateLayout),
		End:   end.Format(notice.DateLayout),
		Steps: len(evs),
		Total: len(evs),
	}, nil
}

func (m *mockSync) Stop(runID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active[runID] {
		return false
	}
	m.stopped = append(m.stopped, runID)
	return true
}

func (m *mockSync) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []string{}
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}

// mockScheduler implements SyncScheduler for tests.
type mockScheduler struct {
	status  scheduler.Status
	running bool
}

func (m *mockScheduler) Status() scheduler.Status { return m.status }
func (m *mockScheduler) IsRunning() bool          { return m.running }

type testEnv struct {
	srv   *Server
	store *store.Store
	sync  *mockSync
	sched *mockScheduler
}

func newTestEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()
	st := testutil.NewTestStore(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	engine := query.NewSQLEngine(st, query.WithClock(func() time.Time { return testNow }))
	cached := query.NewCached(engine, cache.NewMemory(time.Minute),
		query.WithLogger(testLogger()), query.WithMetrics(m))
	mut := mutation.New(st, nil, cached, mutation.WithLogger(testLogger()), mutation.WithMetrics(m))

	cfg := config.Default(t.TempDir())
	cfg.Server.APIKey = apiKey
	cfg.Server.RateLimitRPS = 1000
	cfg.Server.RateLimitBurst = 1000

	env := &testEnv{
		store: st,
		sync:  &mockSync{active: map[string]bool{}},
		sched: &mockScheduler{running: true, status: scheduler.Status{State: scheduler.StateIdle, Schedule: config.DefaultSchedule}},
	}
	env.srv = NewServer(cfg, Deps{
		Notices:   cached,
		Store:     st,
		Mutations: mut,
		Sync:      env.sync,
		Scheduler: env.sched,
		Gatherer:  reg,
	}, testLogger())
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, "secret")
	w := env.do(t, "GET", "/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]string
	decode(t, w, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want 'ok'", resp["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	env.do(t, "GET", "/api/v1/notices", "")

	w := env.do(t, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "noticevault_cache_requests_total") {
		t.Errorf("metrics output missing cache counter:\n%s", w.Body.String())
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, "secret")

	tests := []struct {
		name       string
		headers    []string
		wantStatus int
	}{
		{"no key", nil, http.StatusUnauthorized},
		{"wrong key", []string{"X-API-Key", "nope"}, http.StatusUnauthorized},
		{"x-api-key", []string{"X-API-Key", "secret"}, http.StatusOK},
		{"bearer", []string{"Authorization", "Bearer secret"}, http.StatusOK},
		{"raw authorization", []string{"Authorization", "secret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "GET", "/api/v1/counts", "", tt.headers...)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestAuthenticatedUserCanMutate(t *testing.T) {
	env := newTestEnv(t, "secret")
	ids := testutil.SeedNotices(t, env.store, testutil.NewNotice(1).Build())

	w := env.do(t, "POST", "/api/v1/notices/"+itoa(ids[0])+"/favorite", "", "X-API-Key", "secret")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp FavoriteResponse
	decode(t, w, &resp)
	if !resp.Favorite {
		t.Error("favorite = false after toggle with a valid key")
	}
}

func TestSyncStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	last := time.Date(2026, 1, 6, 8, 0, 30, 0, time.UTC)
	testutil.MustNoErr(t, env.store.SetLastSyncAt(context.Background(), last), "SetLastSyncAt")
	env.sync.active["run-9"] = true

	w := env.do(t, "GET", "/api/v1/sync/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp SyncStatusResponse
	decode(t, w, &resp)
	if !resp.SchedulerRunning || resp.Scheduler == nil || resp.Scheduler.State != scheduler.StateIdle {
		t.Errorf("scheduler fields = %+v", resp)
	}
	if resp.LastSyncAt != last.Format(time.RFC3339) {
		t.Errorf("LastSyncAt = %q, want %q", resp.LastSyncAt, last.Format(time.RFC3339))
	}
	if len(resp.ActiveRuns) != 1 || resp.ActiveRuns[0] != "run-9" {
		t.Errorf("ActiveRuns = %v", resp.ActiveRuns)
	}
}

func TestSyncStatusWithoutScheduler(t *testing.T) {
	env := newTestEnv(t, "")
	env.srv.deps.Scheduler = nil

	w := env.do(t, "GET", "/api/v1/sync/status", "")
	var resp SyncStatusResponse
	decode(t, w, &resp)
	if resp.Scheduler != nil || resp.SchedulerRunning {
		t.Errorf("scheduler reported without one: %+v", resp)
	}
}

func TestSecurityValidation(t *testing.T) {
	env := newTestEnv(t, "")
	env.srv.cfg.Server.BindAddr = "0.0.0.0"

	if err := env.srv.Start(); err == nil {
		t.Error("Start() on a public address without api_key = nil, want error")
	}
}

func TestCORSFromConfig(t *testing.T) {
	env := newTestEnv(t, "")
	env.srv.cfg.Server.CORSOrigins = []string{"http://localhost:5173"}
	env.srv.router = env.srv.setupRouter()

	w := env.do(t, "OPTIONS", "/api/v1/notices", "", "Origin", "http://localhost:5173")
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestCORSDisabledByDefault(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, "GET", "/health", "", "Origin", "http://evil.example")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}
