package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/wesm/noticevault/internal/cache"
	"github.com/wesm/noticevault/internal/mutation"
	"github.com/wesm/noticevault/internal/notice"
	"github.com/wesm/noticevault/internal/query"
	"github.com/wesm/noticevault/internal/store"
	"github.com/wesm/noticevault/internal/testutil"
)

// toolHandler is the function signature for MCP tool handler methods.
type toolHandler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// callToolDirect invokes a handler directly with the given arguments and returns the raw result.
func callToolDirect(t *testing.T, name string, fn toolHandler, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	result, err := fn(context.Background(), req)
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	return result
}

func resultText(t *testing.T, r *mcp.CallToolResult) string {
	t.Helper()
	if len(r.Content) == 0 {
		t.Fatal("empty content")
	}
	tc, ok := r.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", r.Content[0])
	}
	return tc.Text
}

// runTool invokes a handler, asserts no error, and unmarshals the JSON result into T.
func runTool[T any](t *testing.T, name string, fn toolHandler, args map[string]any) T {
	t.Helper()
	r := callToolDirect(t, name, fn, args)
	if r.IsError {
		t.Fatalf("unexpected error: %s", resultText(t, r))
	}
	var out T
	if err := json.Unmarshal([]byte(resultText(t, r)), &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return out
}

// runToolExpectError invokes a handler and asserts it returns an error result.
func runToolExpectError(t *testing.T, name string, fn toolHandler, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	r := callToolDirect(t, name, fn, args)
	if !r.IsError {
		t.Fatal("expected error result")
	}
	return r
}

func newTestHandlers(t *testing.T) (*handlers, *store.Store) {
	t.Helper()
	st := testutil.NewTestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC)
	engine := query.NewSQLEngine(st, query.WithClock(func() time.Time { return now }))
	cached := query.NewCached(engine, cache.NewMemory(time.Minute), query.WithLogger(logger))
	mut := mutation.New(st, nil, cached, mutation.WithLogger(logger))
	return &handlers{notices: cached, store: st, mutations: mut}, st
}

func TestSearchNotices(t *testing.T) {
	h, st := newTestHandlers(t)
	ids := testutil.SeedNotices(t, st,
		testutil.NewNotice(1).WithOffice("경주지사").WithProject("보안등 교체").Build(),
		testutil.NewNotice(2).WithOffice("포항지사").WithDate("2026-01-06").Build(),
	)

	t.Run("all", func(t *testing.T) {
		page := runTool[notice.Page](t, ToolSearchNotices, h.searchNotices, map[string]any{})
		if page.Total != 2 || page.Rows[0].ID != ids[1] {
			t.Fatalf("unexpected page: %+v", page)
		}
	})

	t.Run("keyword and office", func(t *testing.T) {
		page := runTool[notice.Page](t, ToolSearchNotices, h.searchNotices,
			map[string]any{"keyword": "보안등", "office": "경주지사"})
		if page.Total != 1 || page.Rows[0].ID != ids[0] {
			t.Fatalf("unexpected page: %+v", page)
		}
	})

	t.Run("bad date", func(t *testing.T) {
		runToolExpectError(t, ToolSearchNotices, h.searchNotices, map[string]any{"start": "01/05/2026"})
	})

	t.Run("inverted range", func(t *testing.T) {
		runToolExpectError(t, ToolSearchNotices, h.searchNotices,
			map[string]any{"start": "2026-01-06", "end": "2026-01-05"})
	})
}

func TestGetNotice(t *testing.T) {
	h, st := newTestHandlers(t)
	ids := testutil.SeedNotices(t, st, testutil.NewNotice(1).Build())

	t.Run("found", func(t *testing.T) {
		n := runTool[notice.Notice](t, ToolGetNotice, h.getNotice, map[string]any{"id": float64(ids[0])})
		if n.ProjectName != "LED 조명 교체 공사 1" {
			t.Fatalf("unexpected project: %s", n.ProjectName)
		}
	})

	t.Run("not found", func(t *testing.T) {
		r := runToolExpectError(t, ToolGetNotice, h.getNotice, map[string]any{"id": float64(999)})
		if !strings.Contains(resultText(t, r), "not found") {
			t.Errorf("error text = %q", resultText(t, r))
		}
	})

	t.Run("missing id", func(t *testing.T) {
		runToolExpectError(t, ToolGetNotice, h.getNotice, map[string]any{})
	})
}

func TestToggleFavoriteAndList(t *testing.T) {
	h, st := newTestHandlers(t)
	ids := testutil.SeedNotices(t, st, testutil.NewNotice(1).WithOffice("경주지사").Build())

	res := runTool[map[string]any](t, ToolToggleFavorite, h.toggleFavorite, map[string]any{"id": float64(ids[0])})
	if res["favorite"] != true {
		t.Fatalf("toggle result = %v", res)
	}

	favs := runTool[[]notice.Notice](t, ToolListFavorites, h.listFavorites, map[string]any{"office": "경주지사"})
	if len(favs) != 1 || favs[0].ID != ids[0] {
		t.Errorf("favorites = %+v", favs)
	}

	// The cached search sees the toggle.
	page := runTool[notice.Page](t, ToolSearchNotices, h.searchNotices, map[string]any{})
	if !page.Rows[0].Favorite {
		t.Error("search result not updated after toggle")
	}
}

func TestNewCountsAndDates(t *testing.T) {
	h, st := newTestHandlers(t)
	testutil.SeedNotices(t, st,
		testutil.NewNotice(1).WithOffice("경주지사").WithDate("2026-01-06").Build(),
		testutil.NewNotice(2).WithOffice("경주지사").WithSource(notice.SourceKAPT).WithDate("2026-01-05").Build(),
		testutil.NewNotice(3).WithOffice("경주지사").WithDate("2025-12-01").Build(),
	)

	counts := runTool[notice.Counts](t, ToolNewCounts, h.newCounts, nil)
	want := map[string]int{notice.SourceG2B: 1, notice.SourceKAPT: 1}
	if diff := cmp.Diff(want, counts["경주지사"]); diff != "" {
		t.Errorf("경주지사 counts (-want +got):\n%s", diff)
	}

	dates := runTool[[]string](t, ToolNoticeDates, h.noticeDates, map[string]any{"office": "경주지사"})
	if diff := cmp.Diff([]string{"2026-01-06", "2026-01-05", "2025-12-01"}, dates); diff != "" {
		t.Errorf("dates (-want +got):\n%s", diff)
	}
}

func TestSyncStatus(t *testing.T) {
	h, st := newTestHandlers(t)

	status := runTool[map[string]any](t, ToolSyncStatus, h.syncStatus, nil)
	if status["synced"] != false {
		t.Errorf("status before any sync = %v", status)
	}

	at := time.Date(2026, 1, 6, 8, 1, 0, 0, time.UTC)
	testutil.MustNoErr(t, st.SetLastSyncAt(context.Background(), at), "SetLastSyncAt")
	status = runTool[map[string]any](t, ToolSyncStatus, h.syncStatus, nil)
	if status["last_sync_at"] != at.Format(time.RFC3339) {
		t.Errorf("last_sync_at = %v", status["last_sync_at"])
	}
}

func TestGetIDArg(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		want    int64
		wantErr bool
	}{
		{"valid", map[string]any{"id": float64(42)}, 42, false},
		{"missing", map[string]any{}, 0, true},
		{"fractional", map[string]any{"id": 1.5}, 0, true},
		{"zero", map[string]any{"id": float64(0)}, 0, true},
		{"string", map[string]any{"id": "42"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := getIDArg(tt.args, "id")
			if (err != nil) != tt.wantErr {
				t.Fatalf("getIDArg() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("getIDArg() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPageArg(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want int
	}{
		{"missing", map[string]any{}, 1},
		{"valid", map[string]any{"page": float64(3)}, 3},
		{"zero", map[string]any{"page": float64(0)}, 1},
		{"negative", map[string]any{"page": float64(-2)}, 1},
		{"nan", map[string]any{"page": math.NaN()}, 1},
		{"huge", map[string]any{"page": math.Inf(1)}, maxPage},
	}
	for _, tt := range tests {
		if got := pageArg(tt.args); got != tt.want {
			t.Errorf("%s: pageArg() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestNewServerRegistersTools(t *testing.T) {
	h, st := newTestHandlers(t)
	if s := NewServer(Deps{Notices: h.notices, Store: st, Mutations: h.mutations}); s == nil {
		t.Fatal("NewServer() returned nil")
	}
}

// busyStore fails every read with a transient store error.
type busyStore struct{}

func (busyStore) err(op string) error {
	return &notice.TransientStoreError{Op: op, Err: errors.New("database is locked")}
}

func (b busyStore) GetNotice(ctx context.Context, id int64) (*notice.Notice, error) {
	return nil, b.err("get notice")
}

func (b busyStore) ListFavorites(ctx context.Context, office string) ([]notice.Notice, error) {
	return nil, b.err("list favorites")
}

func (b busyStore) LastSyncAt(ctx context.Context) (time.Time, error) {
	return time.Time{}, b.err("last sync")
}

func TestTransientStoreErrors(t *testing.T) {
	h := &handlers{store: busyStore{}}

	r := runToolExpectError(t, ToolGetNotice, h.getNotice, map[string]any{"id": float64(1)})
	if !strings.Contains(resultText(t, r), "temporarily unavailable") {
		t.Errorf("get_notice error = %q", resultText(t, r))
	}
	r = runToolExpectError(t, ToolListFavorites, h.listFavorites, map[string]any{})
	if !strings.Contains(resultText(t, r), "temporarily unavailable") {
		t.Errorf("list_favorites error = %q", resultText(t, r))
	}
}
