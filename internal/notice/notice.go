// Package notice defines the bid notice domain types shared by the store,
// query engine, mutation coordinator and sync workers.
package notice

import (
	"fmt"
	"strings"
	"time"
)

// Source systems.
const (
	SourceG2B  = "G2B"
	SourceKAPT = "K-APT"
)

// All is the sentinel for "no restriction" on office and source filters.
const All = "ALL"

// PageSize is the fixed number of rows per query page.
const PageSize = 100

// DefaultOffice is stored when the upstream feed could not resolve a
// jurisdiction.
const DefaultOffice = "관할지사확인요망"

// DefaultModelName is stored when the upstream item carries no model.
const DefaultModelName = "N/A"

// OfficeCatalog lists the offices known to the organisation, in display order.
var OfficeCatalog = []string{
	"직할", "동대구지사", "경주지사", "남대구지사", "서대구지사",
	"포항지사", "경산지사", "김천지사", "영천지사", "칠곡지사",
	"성주지사", "청도지사", "북포항지사", "고령지사", "영덕지사",
}

// StatusOptions are the tracking states a favorite can carry.
var StatusOptions = []string{"", "미접촉", "전화", "메일안내", "접수", "지급", "보류", "취소"}

// Notice is one upstream bid notice as stored in the notices table.
type Notice struct {
	ID             int64  `db:"id" json:"id"`
	IsFavorite     bool   `db:"is_favorite" json:"is_favorite"`
	Stage          string `db:"stage" json:"stage"`
	BizType        string `db:"biz_type" json:"biz_type"`
	ProjectName    string `db:"project_name" json:"project_name"`
	Client         string `db:"client" json:"client"`
	Address        string `db:"address" json:"address"`
	PhoneNumber    string `db:"phone_number" json:"phone_number"`
	ModelName      string `db:"model_name" json:"model_name"`
	Quantity       int64  `db:"quantity" json:"quantity"`
	Amount         string `db:"amount" json:"amount"`
	IsCertified    string `db:"is_certified" json:"is_certified"`
	NoticeDate     string `db:"notice_date" json:"notice_date"`
	DetailLink     string `db:"detail_link" json:"detail_link"`
	AssignedOffice string `db:"assigned_office" json:"assigned_office"`
	Status         string `db:"status" json:"status"`
	Memo           string `db:"memo" json:"memo"`
	SourceSystem   string `db:"source_system" json:"source_system"`
	KaptCode       string `db:"kapt_code" json:"kapt_code,omitempty"`
}

// Offices returns the parsed office set of the notice.
func (n *Notice) Offices() Offices {
	return ParseOffices(n.AssignedOffice)
}

// Row is a notice projected for display.
type Row struct {
	ID          int64   `json:"id"`
	Favorite    bool    `json:"favorite"`
	Source      string  `json:"source"`
	SourceLabel string  `json:"source_label"`
	Offices     Offices `json:"offices"`
	Unresolved  bool    `json:"unresolved,omitempty"` // jurisdiction still needs checking
	Stage       string  `json:"stage"`
	ProjectName string  `json:"project_name"`
	Client      string  `json:"client"`
	Address     string  `json:"address"`
	Phone       string  `json:"phone"`
	ModelName   string  `json:"model_name"`
	Quantity    int64   `json:"quantity"`
	Certified   string  `json:"certified"`
	NoticeDate  string  `json:"notice_date"`
	DetailLink  string  `json:"detail_link"`
	KaptCode    string  `json:"kapt_code,omitempty"`
	Status      string  `json:"status,omitempty"`
	Memo        string  `json:"memo,omitempty"`
	IsNew       bool    `json:"is_new"`
}

// NewRow projects n into display form. newDays holds the ISO dates that
// count as new.
func NewRow(n Notice, newDays [2]string) Row {
	date := n.NoticeDate
	if d, ok := ParseDate(n.NoticeDate); ok {
		date = d.Format(DateLayout)
	}
	return Row{
		ID:          n.ID,
		Favorite:    n.IsFavorite,
		Source:      n.SourceSystem,
		SourceLabel: SourceLabel(n.SourceSystem),
		Offices:     n.Offices(),
		Unresolved:  IsUnknownOffice(n.AssignedOffice),
		Stage:       n.Stage,
		ProjectName: n.ProjectName,
		Client:      n.Client,
		Address:     n.Address,
		Phone:       FormatPhone(n.PhoneNumber),
		ModelName:   n.ModelName,
		Quantity:    n.Quantity,
		Certified:   NormalizeCert(n.IsCertified),
		NoticeDate:  date,
		DetailLink:  n.DetailLink,
		KaptCode:    n.KaptCode,
		Status:      n.Status,
		Memo:        n.Memo,
		IsNew:       n.NoticeDate == newDays[0] || n.NoticeDate == newDays[1],
	}
}

// SourceLabel returns the display label of a source system.
func SourceLabel(source string) string {
	if source == SourceKAPT {
		return SourceKAPT
	}
	return "나라장터"
}

// Filter is a structured notice query.
type Filter struct {
	Office         string    `json:"office"`
	Source         string    `json:"source"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	Keyword        string    `json:"keyword"`
	OnlyCertified  bool      `json:"only_certified"`
	IncludeUnknown bool      `json:"include_unknown"`
	Page           int       `json:"page"`
}

// Normalized returns a copy with sentinel aliases folded, the keyword
// trimmed and the page clamped to 1.
func (f Filter) Normalized() Filter {
	f.Office = NormalizeOffice(f.Office)
	f.Source = NormalizeSource(f.Source)
	f.Keyword = strings.TrimSpace(f.Keyword)
	if f.Page < 1 {
		f.Page = 1
	}
	return f
}

// Key returns the cache key for the full argument tuple of f.
func (f Filter) Key() string {
	f = f.Normalized()
	return fmt.Sprintf("query:%s|%s|%s|%s|%q|%t|%t|%d",
		f.Office, f.Source,
		f.StartDate.Format(DateLayout), f.EndDate.Format(DateLayout),
		f.Keyword, f.OnlyCertified, f.IncludeUnknown, f.Page)
}

// Offset returns the row offset of the filter's page.
func (f Filter) Offset() int {
	page := f.Page
	if page < 1 {
		page = 1
	}
	return (page - 1) * PageSize
}

// NormalizeOffice folds the "all offices" spellings to All.
func NormalizeOffice(office string) string {
	office = strings.TrimSpace(office)
	switch office {
	case "", "전체", "all", All:
		return All
	}
	return office
}

// NormalizeSource folds source aliases. "나라장터" is the G2B display label.
func NormalizeSource(source string) string {
	source = strings.TrimSpace(source)
	switch strings.ToUpper(source) {
	case "", "전체", All:
		return All
	case "나라장터", SourceG2B:
		return SourceG2B
	case SourceKAPT, "KAPT":
		return SourceKAPT
	}
	return source
}

// Page is one page of query results.
type Page struct {
	Rows     []Row `json:"rows"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	// Degraded is set when the store failed and the page is empty because
	// of it rather than because nothing matched.
	Degraded bool `json:"degraded,omitempty"`
}

// TotalPages returns the number of pages, at least 1.
func (p *Page) TotalPages() int {
	if p.Total <= 0 {
		return 1
	}
	return int((p.Total + PageSize - 1) / PageSize)
}

// Counts maps office -> source -> number of new notices. The All key holds
// the per-source totals.
type Counts map[string]map[string]int

// Add adds n to counts[office][source], creating both source keys.
func (c Counts) Add(office, source string, n int) {
	m, ok := c[office]
	if !ok {
		m = map[string]int{SourceG2B: 0, SourceKAPT: 0}
		c[office] = m
	}
	m[source] += n
}

// MailRecipient is an office mail subscription.
type MailRecipient struct {
	ID       int64  `db:"id" json:"id"`
	Office   string `db:"office" json:"office"`
	Email    string `db:"email" json:"email"`
	IsActive bool   `db:"is_active" json:"is_active"`
	Name     string `db:"name" json:"name,omitempty"`
}

// MailHistory is an audit record of a sent notice digest.
type MailHistory struct {
	ID          int64     `db:"id" json:"id"`
	SentAt      time.Time `db:"sent_at" json:"sent_at"`
	Office      string    `db:"office" json:"office"`
	Subject     string    `db:"subject" json:"subject"`
	PeriodStart string    `db:"period_start" json:"period_start"`
	PeriodEnd   string    `db:"period_end" json:"period_end"`
	ToList      string    `db:"to_list" json:"to_list"`
	CCList      string    `db:"cc_list" json:"cc_list,omitempty"`
	TotalCount  int64     `db:"total_count" json:"total_count"`
	AttachName  string    `db:"attach_name" json:"attach_name,omitempty"`
	PreviewHTML string    `db:"preview_html" json:"preview_html,omitempty"`
}
