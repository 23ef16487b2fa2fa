package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/wesm/noticevault/internal/auth"
	"github.com/wesm/noticevault/internal/notice"
)

const maxPage = 10000

// mcpUser is the user mutations run as.
const mcpUser = "mcp"

type handlers struct {
	notices   NoticeReader
	store     NoticeStore
	mutations FavoriteToggler
}

// getIDArg extracts a required positive integer ID from the arguments map.
func getIDArg(args map[string]any, key string) (int64, error) {
	v, ok := args[key].(float64)
	if !ok {
		return 0, fmt.Errorf("%s parameter is required", key)
	}
	if v != math.Trunc(v) || v < 1 || v > math.MaxInt64 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return int64(v), nil
}

// getDateArg extracts an optional date (YYYY-MM-DD) from the arguments map.
func getDateArg(args map[string]any, key string) (time.Time, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(notice.DateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s date %q: expected YYYY-MM-DD", key, v)
	}
	return t, nil
}

// pageArg extracts a page number, defaulting to 1 and clamped to maxPage.
// JSON numbers arrive as float64.
func pageArg(args map[string]any) int {
	v, ok := args["page"].(float64)
	if !ok || math.IsNaN(v) || v < 1 {
		return 1
	}
	if math.IsInf(v, 1) || v > maxPage {
		return maxPage
	}
	return int(v)
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func (h *handlers) searchNotices(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	start, err := getDateArg(args, "start")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	end, err := getDateArg(args, "end")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		return mcp.NewToolResultError("start must not be after end"), nil
	}

	page := h.notices.Query(ctx, notice.Filter{
		Office:         stringArg(args, "office"),
		Source:         stringArg(args, "source"),
		StartDate:      start,
		EndDate:        end,
		Keyword:        stringArg(args, "keyword"),
		OnlyCertified:  boolArg(args, "only_certified"),
		IncludeUnknown: boolArg(args, "include_unknown"),
		Page:           pageArg(args),
	})
	if page.Degraded {
		return mcp.NewToolResultError("notice data is temporarily unavailable"), nil
	}
	return jsonResult(page)
}

func (h *handlers) getNotice(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := getIDArg(req.GetArguments(), "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	n, err := h.store.GetNotice(ctx, id)
	if errors.Is(err, notice.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("notice %d not found", id)), nil
	}
	if err != nil {
		return storeError("get notice", err), nil
	}
	return jsonResult(n)
}

func (h *handlers) newCounts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(h.notices.NewCounts(ctx))
}

func (h *handlers) noticeDates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dates := h.notices.NoticeDates(ctx, stringArg(req.GetArguments(), "office"))
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.Format(notice.DateLayout)
	}
	return jsonResult(out)
}

func (h *handlers) listFavorites(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	favs, err := h.store.ListFavorites(ctx, stringArg(req.GetArguments(), "office"))
	if err != nil {
		return storeError("list favorites", err), nil
	}
	if favs == nil {
		favs = []notice.Notice{}
	}
	return jsonResult(favs)
}

func (h *handlers) toggleFavorite(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := getIDArg(req.GetArguments(), "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ctx = auth.WithUser(ctx, auth.User{Name: mcpUser})
	fav, err := h.mutations.ToggleFavorite(ctx, id)
	if err != nil {
		return storeError("toggle favorite", err), nil
	}
	return jsonResult(map[string]any{"id": id, "favorite": fav})
}

func (h *handlers) syncStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	last, err := h.store.LastSyncAt(ctx)
	if err != nil {
		return storeError("read sync status", err), nil
	}
	status := map[string]any{"synced": !last.IsZero()}
	if !last.IsZero() {
		status["last_sync_at"] = last.Format(time.RFC3339)
	}
	return jsonResult(status)
}

// storeError reports a failed store call as a tool error.
func storeError(op string, err error) *mcp.CallToolResult {
	if notice.IsTransient(err) {
		return mcp.NewToolResultError(op + " failed: notice data is temporarily unavailable, retry shortly")
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", op, err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal error: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
