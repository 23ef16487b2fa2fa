// Package mcp exposes notice search and favorites as MCP tools over stdio.
package mcp

import (
	"context"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wesm/noticevault/internal/notice"
)

// Tool name constants.
const (
	ToolSearchNotices  = "search_notices"
	ToolGetNotice      = "get_notice"
	ToolNewCounts      = "new_counts"
	ToolNoticeDates    = "notice_dates"
	ToolListFavorites  = "list_favorites"
	ToolToggleFavorite = "toggle_favorite"
	ToolSyncStatus     = "sync_status"
)

// NoticeReader serves cached notice reads.
type NoticeReader interface {
	Query(ctx context.Context, f notice.Filter) *notice.Page
	NewCounts(ctx context.Context) notice.Counts
	NoticeDates(ctx context.Context, office string) []time.Time
}

// NoticeStore is the store subset the tools read directly.
type NoticeStore interface {
	GetNotice(ctx context.Context, id int64) (*notice.Notice, error)
	ListFavorites(ctx context.Context, office string) ([]notice.Notice, error)
	LastSyncAt(ctx context.Context) (time.Time, error)
}

// FavoriteToggler flips the favorite flag of a notice.
type FavoriteToggler interface {
	ToggleFavorite(ctx context.Context, id int64) (bool, error)
}

// Deps are the services behind the tools. Mutations may be nil, in which
// case the toggle_favorite tool is not registered.
type Deps struct {
	Notices   NoticeReader
	Store     NoticeStore
	Mutations FavoriteToggler
}

func withOffice() mcp.ToolOption {
	return mcp.WithString("office",
		mcp.Description("Branch office name, or ALL (default ALL)"),
	)
}

// NewServer builds the MCP server with every notice tool registered.
func NewServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"noticevault",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	h := &handlers{notices: deps.Notices, store: deps.Store, mutations: deps.Mutations}

	s.AddTool(searchNoticesTool(), h.searchNotices)
	s.AddTool(getNoticeTool(), h.getNotice)
	s.AddTool(newCountsTool(), h.newCounts)
	s.AddTool(noticeDatesTool(), h.noticeDates)
	s.AddTool(listFavoritesTool(), h.listFavorites)
	s.AddTool(syncStatusTool(), h.syncStatus)
	if deps.Mutations != nil {
		s.AddTool(toggleFavoriteTool(), h.toggleFavorite)
	}
	return s
}

// Serve serves the notice tools over stdio. It blocks until stdin is
// closed or the context is cancelled.
func Serve(ctx context.Context, deps Deps) error {
	stdio := server.NewStdioServer(NewServer(deps))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func searchNoticesTool() mcp.Tool {
	return mcp.NewTool(ToolSearchNotices,
		mcp.WithDescription("Search procurement notices. Returns one page of 100 rows, newest first, with the total match count."),
		mcp.WithReadOnlyHintAnnotation(true),
		withOffice(),
		mcp.WithString("source",
			mcp.Description("Source system"),
			mcp.Enum(notice.All, notice.SourceG2B, notice.SourceKAPT),
		),
		mcp.WithString("start",
			mcp.Description("Only notices on or after this date (YYYY-MM-DD)"),
		),
		mcp.WithString("end",
			mcp.Description("Only notices on or before this date (YYYY-MM-DD)"),
		),
		mcp.WithString("keyword",
			mcp.Description("Words matched against project, client and model, or a delivery request number"),
		),
		mcp.WithBoolean("only_certified",
			mcp.Description("Only notices for certified products"),
		),
		mcp.WithBoolean("include_unknown",
			mcp.Description("Include notices whose office is unassigned or shared"),
		),
		mcp.WithNumber("page",
			mcp.Description("Page number, starting at 1 (default 1)"),
		),
	)
}

func getNoticeTool() mcp.Tool {
	return mcp.NewTool(ToolGetNotice,
		mcp.WithDescription("Get every stored field of a notice by ID."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("Notice ID"),
		),
	)
}

func newCountsTool() mcp.Tool {
	return mcp.NewTool(ToolNewCounts,
		mcp.WithDescription("Count notices from the two most recent business days per office and source. The ALL key holds the totals."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func noticeDatesTool() mcp.Tool {
	return mcp.NewTool(ToolNoticeDates,
		mcp.WithDescription("List the dates that have notices, newest first."),
		mcp.WithReadOnlyHintAnnotation(true),
		withOffice(),
	)
}

func listFavoritesTool() mcp.Tool {
	return mcp.NewTool(ToolListFavorites,
		mcp.WithDescription("List favorite notices with their tracking status and memo."),
		mcp.WithReadOnlyHintAnnotation(true),
		withOffice(),
	)
}

func toggleFavoriteTool() mcp.Tool {
	return mcp.NewTool(ToolToggleFavorite,
		mcp.WithDescription("Add a notice to favorites, or remove it. Removing clears its status and memo."),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("Notice ID"),
		),
	)
}

func syncStatusTool() mcp.Tool {
	return mcp.NewTool(ToolSyncStatus,
		mcp.WithDescription("Report when the notice data was last synced from the upstream feeds."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}
