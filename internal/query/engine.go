// Package query answers filtered notice queries and the new-notice
// aggregate, and memoizes both behind the result cache.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/wesm/noticevault/internal/notice"
	"github.com/wesm/noticevault/internal/store"
)

// Engine provides read operations over the notices table.
type Engine interface {
	// Query returns one page of notices matching f, newest first, and the
	// total number of matches.
	Query(ctx context.Context, f notice.Filter) (*notice.Page, error)

	// NewCounts returns the number of notices dated on the two most recent
	// business days, per office and source.
	NewCounts(ctx context.Context) (notice.Counts, error)

	// NoticeDates returns the distinct dates that have notices for office,
	// newest first, not after today.
	NoticeDates(ctx context.Context, office string) ([]time.Time, error)
}

// SQLEngine implements Engine with SQL against the store database.
type SQLEngine struct {
	store *store.Store
	db    *sqlx.DB
	now   func() time.Time
}

// Option configures a SQLEngine.
type Option func(*SQLEngine)

// WithClock sets the time source used for is-new and date cutoffs.
func WithClock(now func() time.Time) Option {
	return func(e *SQLEngine) {
		e.now = now
	}
}

// NewSQLEngine creates an engine over st.
func NewSQLEngine(st *store.Store, opts ...Option) *SQLEngine {
	e := &SQLEngine{store: st, db: st.DB(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// buildConditions translates a normalized filter into WHERE conditions
// and their arguments, in placeholder order.
func buildConditions(f notice.Filter) ([]string, []interface{}) {
	var conditions []string
	var args []interface{}

	if f.Office != notice.All {
		cond, officeArgs := store.OfficeMatch("assigned_office", f.Office)
		conditions = append(conditions, cond)
		args = append(args, officeArgs...)
	}

	if f.Source != notice.All {
		conditions = append(conditions, "source_system = ?")
		args = append(args, f.Source)
	}

	if !f.StartDate.IsZero() {
		conditions = append(conditions, "notice_date >= ?")
		args = append(args, f.StartDate.Format(notice.DateLayout))
	}
	if !f.EndDate.IsZero() {
		conditions = append(conditions, "notice_date <= ?")
		args = append(args, f.EndDate.Format(notice.DateLayout))
	}

	if f.OnlyCertified {
		tokens := notice.CertifiedTokens()
		conditions = append(conditions,
			"UPPER(TRIM(COALESCE(is_certified, ''))) IN (?"+strings.Repeat(", ?", len(tokens)-1)+")")
		for _, tok := range tokens {
			args = append(args, tok)
		}
	}

	if !f.IncludeUnknown {
		conditions = append(conditions, "assigned_office NOT LIKE '%/%'")
		for _, m := range notice.UnknownOfficeMarkers() {
			conditions = append(conditions, `UPPER(assigned_office) NOT LIKE ? ESCAPE '\'`)
			args = append(args, "%"+store.EscapeLike(m)+"%")
		}
	}

	if f.Keyword != "" {
		if id, ok := notice.DeliveryRequestID(f.Keyword); ok {
			conditions = append(conditions, "REPLACE(UPPER(detail_link), '-', '') LIKE ?")
			args = append(args, "%DLVRREQ:"+id+"%")
		} else {
			for _, term := range notice.KeywordTerms(f.Keyword) {
				pattern := "%" + store.EscapeLike(term) + "%"
				conditions = append(conditions, `(`+
					`LOWER(COALESCE(project_name, '')) LIKE LOWER(?) ESCAPE '\' OR `+
					`LOWER(COALESCE(client, '')) LIKE LOWER(?) ESCAPE '\' OR `+
					`LOWER(model_name) LIKE LOWER(?) ESCAPE '\')`)
				args = append(args, pattern, pattern, pattern)
			}
		}
	}

	return conditions, args
}

func whereClause(conditions []string) string {
	if len(conditions) == 0 {
		return "1=1"
	}
	return strings.Join(conditions, " AND ")
}

// Query implements Engine.
func (e *SQLEngine) Query(ctx context.Context, f notice.Filter) (*notice.Page, error) {
	f = f.Normalized()
	conditions, args := buildConditions(f)
	where := whereClause(conditions)

	var total int64
	countSQL := e.db.Rebind("SELECT COUNT(*) FROM notices WHERE " + where)
	if err := e.db.GetContext(ctx, &total, countSQL, args...); err != nil {
		return nil, fmt.Errorf("count notices: %w", err)
	}

	page := &notice.Page{
		Rows:     []notice.Row{},
		Total:    total,
		Page:     f.Page,
		PageSize: notice.PageSize,
	}
	if int64(f.Offset()) >= total {
		return page, nil
	}

	listSQL := e.db.Rebind(fmt.Sprintf(`
		SELECT %s
		FROM notices
		WHERE %s
		ORDER BY notice_date DESC, id DESC
		LIMIT ? OFFSET ?`, store.NoticeColumns, where))
	listArgs := append(append([]interface{}{}, args...), notice.PageSize, f.Offset())

	var notices []notice.Notice
	if err := e.db.SelectContext(ctx, &notices, listSQL, listArgs...); err != nil {
		return nil, fmt.Errorf("list notices: %w", err)
	}

	newDays := notice.RecentBusinessDays(e.now())
	for _, n := range notices {
		page.Rows = append(page.Rows, notice.NewRow(n, newDays))
	}
	return page, nil
}

// officeSourceCount is one GROUP BY row of the new-notice aggregate.
type officeSourceCount struct {
	Office string `db:"assigned_office"`
	Source string `db:"source_system"`
	Count  int    `db:"n"`
}

// NewCounts implements Engine.
func (e *SQLEngine) NewCounts(ctx context.Context) (notice.Counts, error) {
	days := notice.RecentBusinessDays(e.now())
	var rows []officeSourceCount
	err := e.db.SelectContext(ctx, &rows, e.db.Rebind(`
		SELECT assigned_office, source_system, COUNT(*) AS n
		FROM notices
		WHERE notice_date IN (?, ?)
		GROUP BY assigned_office, source_system`), days[0], days[1])
	if err != nil {
		return nil, fmt.Errorf("aggregate new counts: %w", err)
	}
	return foldCounts(rows), nil
}

// foldCounts spreads grouped counts over offices. A multi-office group
// adds count/len(parts) to each part, truncating; All holds the
// per-source sums of every office total.
func foldCounts(rows []officeSourceCount) notice.Counts {
	counts := notice.Counts{}
	for _, r := range rows {
		source := notice.SourceG2B
		if r.Source == notice.SourceKAPT {
			source = notice.SourceKAPT
		}
		parts := notice.ParseOffices(r.Office)
		if len(parts) == 0 {
			continue
		}
		share := r.Count
		if parts.Multi() {
			share = r.Count / len(parts)
		}
		for _, office := range parts {
			counts.Add(office, source, share)
		}
	}

	totals := map[string]int{notice.SourceG2B: 0, notice.SourceKAPT: 0}
	for _, bySource := range counts {
		for src, n := range bySource {
			totals[src] += n
		}
	}
	counts[notice.All] = totals
	return counts
}

// NoticeDates implements Engine.
func (e *SQLEngine) NoticeDates(ctx context.Context, office string) ([]time.Time, error) {
	raw, err := e.store.DistinctNoticeDates(ctx, office)
	if err != nil {
		return nil, fmt.Errorf("notice dates: %w", err)
	}

	today := notice.Day(e.now())
	seen := make(map[time.Time]bool, len(raw))
	dates := make([]time.Time, 0, len(raw))
	for _, s := range raw {
		d, ok := notice.ParseDate(s)
		if !ok || d.After(time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)) || seen[d] {
			continue
		}
		seen[d] = true
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].After(dates[j]) })
	return dates, nil
}
