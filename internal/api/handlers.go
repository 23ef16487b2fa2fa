package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wesm/noticevault/internal/notice"
	"github.com/wesm/noticevault/internal/scheduler"
	nsync "github.com/wesm/noticevault/internal/sync"
)

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// NoticeListResponse is one page of notices.
type NoticeListResponse struct {
	Rows       []notice.Row `json:"rows"`
	Total      int64        `json:"total"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
	TotalPages int          `json:"total_pages"`
	Degraded   bool         `json:"degraded,omitempty"`
	Warning    string       `json:"warning,omitempty"`
}

// FavoriteResponse reports the favorite flag after a toggle.
type FavoriteResponse struct {
	ID       int64 `json:"id"`
	Favorite bool  `json:"favorite"`
}

// MemoRequest is the body of PUT /notices/{id}/memo.
type MemoRequest struct {
	Status string `json:"status"`
	Memo   string `json:"memo"`
}

// BackfillResponse reports the outcome of a phone backfill.
type BackfillResponse struct {
	ID      int64  `json:"id"`
	Phone   string `json:"phone,omitempty"`
	Updated bool   `json:"updated"`
}

// SyncRequest is the body of POST /sync.
type SyncRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// SyncStatusResponse combines scheduler state and the last sync time.
type SyncStatusResponse struct {
	SchedulerRunning bool              `json:"scheduler_running"`
	Scheduler        *scheduler.Status `json:"scheduler,omitempty"`
	LastSyncAt       string            `json:"last_sync_at,omitempty"`
	ActiveRuns       []string          `json:"active_runs"`
}

// syncDone is the final line of a sync stream.
type syncDone struct {
	Done    bool           `json:"done"`
	Summary *nsync.Summary `json:"summary,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// writeServiceError maps a service error onto a status code.
func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	var upErr *notice.UpstreamFetchError
	switch {
	case notice.IsValidation(err):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, notice.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Notice not found")
	case errors.Is(err, nsync.ErrSyncInProgress):
		writeError(w, http.StatusConflict, "sync_in_progress", "Another sync is running")
	case errors.As(err, &upErr):
		s.logger.Warn(op+" failed upstream", "error", err)
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
	case notice.IsTransient(err):
		s.logger.Warn(op+" failed, store busy", "error", err)
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Notice store is temporarily unavailable")
	default:
		s.logger.Error(op+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to "+op)
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid_id", "Notice ID must be a positive integer")
		return 0, false
	}
	return id, true
}

// parseDate parses an optional YYYY-MM-DD query value.
func parseDate(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(notice.DateLayout, v)
	if err != nil {
		return time.Time{}, notice.Invalid(field, "want YYYY-MM-DD, got %q", v)
	}
	return t, nil
}

func parseBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}

// filterFromQuery builds a notice filter from query parameters.
func filterFromQuery(r *http.Request) (notice.Filter, error) {
	q := r.URL.Query()
	start, err := parseDate("start", q.Get("start"))
	if err != nil {
		return notice.Filter{}, err
	}
	end, err := parseDate("end", q.Get("end"))
	if err != nil {
		return notice.Filter{}, err
	}
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		return notice.Filter{}, notice.Invalid("start", "start %s is after end %s", q.Get("start"), q.Get("end"))
	}
	page, _ := strconv.Atoi(q.Get("page"))

	f := notice.Filter{
		Office:         q.Get("office"),
		Source:         q.Get("source"),
		StartDate:      start,
		EndDate:        end,
		Keyword:        q.Get("q"),
		OnlyCertified:  parseBool(q.Get("certified")),
		IncludeUnknown: parseBool(q.Get("include_unknown")),
		Page:           page,
	}
	return f.Normalized(), nil
}

// handleListNotices returns one filtered page of notices.
func (s *Server) handleListNotices(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		s.writeServiceError(w, "query notices", err)
		return
	}
	if f.Office != notice.All && !notice.IsKnownOffice(f.Office) {
		s.logger.Debug("query for office outside the catalog", "office", f.Office)
	}

	page := s.deps.Notices.Query(r.Context(), f)
	resp := NoticeListResponse{
		Rows:       page.Rows,
		Total:      page.Total,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalPages: page.TotalPages(),
		Degraded:   page.Degraded,
	}
	if page.Degraded {
		resp.Warning = "Notice data is temporarily unavailable"
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetNotice returns one stored notice.
func (s *Server) handleGetNotice(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	n, err := s.deps.Store.GetNotice(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "get notice", err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	fav, err := s.deps.Mutations.ToggleFavorite(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "toggle favorite", err)
		return
	}
	writeJSON(w, http.StatusOK, FavoriteResponse{ID: id, Favorite: fav})
}

func (s *Server) handleSaveMemo(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req MemoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if err := s.deps.Mutations.SaveStatusMemo(r.Context(), id, req.Status, req.Memo); err != nil {
		s.writeServiceError(w, "save memo", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBackfillPhone(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	phone, err := s.deps.Mutations.BackfillPhone(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "backfill phone", err)
		return
	}
	writeJSON(w, http.StatusOK, BackfillResponse{ID: id, Phone: phone, Updated: phone != ""})
}

// handleCounts returns new-notice counts per office and source.
func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Notices.NewCounts(r.Context()))
}

// handleDates returns the dates that have notices, newest first.
func (s *Server) handleDates(w http.ResponseWriter, r *http.Request) {
	dates := s.deps.Notices.NoticeDates(r.Context(), r.URL.Query().Get("office"))
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.Format(notice.DateLayout)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"dates": out})
}

func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request) {
	office := r.URL.Query().Get("office")
	favs, err := s.deps.Store.ListFavorites(r.Context(), office)
	if err != nil {
		s.writeServiceError(w, "list favorites", err)
		return
	}
	if favs == nil {
		favs = []notice.Notice{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"favorites": favs})
}

// handleSync runs a manual sync and streams one JSON line per step,
// followed by a final summary line. Validation and busy errors are
// reported with a status code because they happen before the first line.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	start, err := parseDate("start", req.Start)
	if err != nil {
		s.writeServiceError(w, "sync", err)
		return
	}
	end, err := parseDate("end", req.End)
	if err != nil {
		s.writeServiceError(w, "sync", err)
		return
	}

	type result struct {
		sum *nsync.Summary
		err error
	}
	events := make(chan nsync.Event)
	done := make(chan result, 1)
	go func() {
		sum, err := s.deps.Sync.Run(r.Context(), start, end, events)
		done <- result{sum, err}
	}()

	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	streaming := false
	begin := func() {
		if streaming {
			return
		}
		streaming = true
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}

	for ev := range events {
		begin()
		_ = enc.Encode(ev)
		_ = rc.Flush()
	}

	res := <-done
	if res.err != nil && !streaming {
		s.writeServiceError(w, "sync", res.err)
		return
	}
	begin()
	final := syncDone{Done: true, Summary: res.sum}
	if res.err != nil {
		final.Error = res.err.Error()
	}
	_ = enc.Encode(final)
	_ = rc.Flush()
}

func (s *Server) handleStopSync(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if !s.deps.Sync.Stop(runID) {
		writeError(w, http.StatusNotFound, "not_found", "No active sync with that id")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "stopping"})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	resp := SyncStatusResponse{ActiveRuns: s.deps.Sync.Active()}
	if s.deps.Scheduler != nil {
		st := s.deps.Scheduler.Status()
		resp.Scheduler = &st
		resp.SchedulerRunning = s.deps.Scheduler.IsRunning()
	}
	last, err := s.deps.Store.LastSyncAt(r.Context())
	if err != nil {
		s.logger.Warn("read last sync time", "error", err)
	} else if !last.IsZero() {
		resp.LastSyncAt = last.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRecipients lists active recipients of the requested offices.
// Offices are given as repeated or comma-separated office parameters.
func (s *Server) handleRecipients(w http.ResponseWriter, r *http.Request) {
	var offices []string
	for _, v := range r.URL.Query()["office"] {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				offices = append(offices, o)
			}
		}
	}
	recips, err := s.deps.Store.ListActiveRecipients(r.Context(), offices)
	if err != nil {
		s.writeServiceError(w, "list recipients", err)
		return
	}
	if recips == nil {
		recips = []notice.MailRecipient{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"recipients": recips})
}

func (s *Server) handleMailHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 500 {
		limit = 50
	}
	hist, err := s.deps.Store.RecentMailHistory(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, "list mail history", err)
		return
	}
	if hist == nil {
		hist = []notice.MailHistory{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": hist})
}

func (s *Server) handleAddMailHistory(w http.ResponseWriter, r *http.Request) {
	var h notice.MailHistory
	if err := json.NewDecoder(r.Body).Decode(&h); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if strings.TrimSpace(h.Office) == "" || strings.TrimSpace(h.ToList) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "office and to_list are required")
		return
	}
	id, err := s.deps.Store.AddMailHistory(r.Context(), &h)
	if err != nil {
		s.writeServiceError(w, "add mail history", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}
