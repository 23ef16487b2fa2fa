package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wesm/noticevault/internal/config"
	"github.com/wesm/noticevault/internal/notice"
	"golang.org/x/sync/errgroup"
)

// maxPages bounds the page count a feed may announce for one stage-day.
const maxPages = 1000

// Stage is one upstream feed stage.
type Stage struct {
	Name   string `json:"name"`
	Code   string `json:"code"`
	Source string `json:"source"`
	URL    string `json:"url"`
}

// StagesFromConfig converts configured stages, defaulting Source to G2B.
func StagesFromConfig(cfg []config.StageConfig) []Stage {
	stages := make([]Stage, 0, len(cfg))
	for _, s := range cfg {
		src := notice.NormalizeSource(s.Source)
		if src == notice.All {
			src = notice.SourceG2B
		}
		stages = append(stages, Stage{Name: s.Name, Code: s.Code, Source: src, URL: s.URL})
	}
	return stages
}

// Result summarizes one stage fetch.
type Result struct {
	Stage      string `json:"stage"`
	Date       string `json:"date"`
	Pages      int    `json:"pages"`
	Fetched    int    `json:"fetched"`
	Inserted   int    `json:"inserted"`
	Duplicates int    `json:"duplicates"`
}

// Fetcher ingests one stage of one day. Calling it twice for the same date
// and stage must not create duplicate rows.
type Fetcher interface {
	FetchStage(ctx context.Context, date string, stage Stage) (Result, error)
}

// NoticeWriter is the store operation the fetcher needs.
type NoticeWriter interface {
	InsertNotice(ctx context.Context, n *notice.Notice) (bool, error)
}

// HTTPFetcher fetches paged JSON feeds and inserts the items.
type HTTPFetcher struct {
	client      *Client
	store       NoticeWriter
	concurrency int
	logger      *slog.Logger
}

// NewHTTPFetcher creates a fetcher. concurrency bounds the parallel page
// requests of one stage.
func NewHTTPFetcher(client *Client, store NoticeWriter, concurrency int, logger *slog.Logger) *HTTPFetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPFetcher{client: client, store: store, concurrency: concurrency, logger: logger}
}

// pageResponse is one page of a stage feed.
type pageResponse struct {
	Items      []feedItem `json:"items"`
	TotalPages int        `json:"total_pages"`
}

// feedItem is one notice as the feed encodes it.
type feedItem struct {
	Stage       string   `json:"stage"`
	BizType     string   `json:"biz_type"`
	ProjectName string   `json:"project_name"`
	Client      string   `json:"client"`
	Address     string   `json:"address"`
	Phone       string   `json:"phone"`
	ModelName   string   `json:"model_name"`
	Quantity    flexInt  `json:"quantity"`
	Amount      string   `json:"amount"`
	Certified   string   `json:"certified"`
	NoticeDate  string   `json:"notice_date"`
	DetailLink  string   `json:"detail_link"`
	Office      string   `json:"office"`
	Offices     []string `json:"offices"`
	KaptCode    string   `json:"kapt_code"`
}

// flexInt decodes a JSON number or a numeric string such as "1,200".
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		*f = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt(n)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("quantity %q: %w", s, err)
	}
	*f = flexInt(v)
	return nil
}

// toNotice maps a feed item to a notice of stage, dated date when the item
// carries no usable date.
func (it feedItem) toNotice(stage Stage, date time.Time) notice.Notice {
	offices := notice.ParseOffices(it.Office)
	if len(it.Offices) > 0 {
		offices = notice.ParseOffices(strings.Join(it.Offices, "/"))
	}

	noticeDate := date.Format(notice.DateLayout)
	if d, ok := notice.ParseDate(it.NoticeDate); ok {
		noticeDate = d.Format(notice.DateLayout)
	}

	stageLabel := it.Stage
	if stageLabel == "" {
		stageLabel = stage.Name
	}

	return notice.Notice{
		Stage:          stageLabel,
		BizType:        it.BizType,
		ProjectName:    strings.TrimSpace(it.ProjectName),
		Client:         strings.TrimSpace(it.Client),
		Address:        strings.TrimSpace(it.Address),
		PhoneNumber:    notice.OnlyDigits(it.Phone),
		ModelName:      strings.TrimSpace(it.ModelName),
		Quantity:       int64(it.Quantity),
		Amount:         it.Amount,
		IsCertified:    strings.TrimSpace(it.Certified),
		NoticeDate:     noticeDate,
		DetailLink:     strings.TrimSpace(it.DetailLink),
		AssignedOffice: offices.String(),
		SourceSystem:   stage.Source,
		KaptCode:       strings.TrimSpace(it.KaptCode),
	}
}

// FetchStage fetches every page of stage for date (YYYYMMDD) and inserts
// the items. Page 1 is fetched first to learn the page count; the rest are
// fetched in parallel and inserted in page order.
func (f *HTTPFetcher) FetchStage(ctx context.Context, date string, stage Stage) (Result, error) {
	res := Result{Stage: stage.Name, Date: date}
	day, err := time.Parse(notice.FeedDateLayout, date)
	if err != nil {
		return res, notice.Invalid("date", "want YYYYMMDD, got %q", date)
	}
	if stage.URL == "" {
		return res, notice.Invalid("stage", "%s has no url", stage.Name)
	}

	first, err := f.fetchPage(ctx, date, stage, 1)
	if err != nil {
		return res, &notice.UpstreamFetchError{Stage: stage.Name, Date: date, Err: err}
	}

	totalPages := first.TotalPages
	if totalPages < 1 {
		totalPages = 1
	}
	if totalPages > maxPages {
		return res, &notice.UpstreamFetchError{Stage: stage.Name, Date: date,
			Err: fmt.Errorf("feed reports %d pages, limit is %d", totalPages, maxPages)}
	}
	pages := make([][]feedItem, totalPages)
	pages[0] = first.Items

	if totalPages > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(f.concurrency)
		for p := 2; p <= totalPages; p++ {
			g.Go(func() error {
				resp, err := f.fetchPage(gctx, date, stage, p)
				if err != nil {
					return fmt.Errorf("page %d: %w", p, err)
				}
				pages[p-1] = resp.Items
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return res, &notice.UpstreamFetchError{Stage: stage.Name, Date: date, Err: err}
		}
	}
	res.Pages = totalPages

	for _, items := range pages {
		for _, it := range items {
			res.Fetched++
			n := it.toNotice(stage, day)
			if n.DetailLink == "" {
				f.logger.Debug("skipping feed item without detail link", "stage", stage.Name, "project", n.ProjectName)
				continue
			}
			inserted, err := f.store.InsertNotice(ctx, &n)
			if err != nil {
				return res, fmt.Errorf("insert %s notice: %w", stage.Name, err)
			}
			if inserted {
				res.Inserted++
			} else {
				res.Duplicates++
			}
		}
	}

	f.logger.Info("stage fetched",
		"stage", stage.Name,
		"date", date,
		"pages", res.Pages,
		"inserted", res.Inserted,
		"duplicates", res.Duplicates)
	return res, nil
}

func (f *HTTPFetcher) fetchPage(ctx context.Context, date string, stage Stage, page int) (*pageResponse, error) {
	params := url.Values{}
	params.Set("date", date)
	params.Set("page", strconv.Itoa(page))
	if stage.Code != "" {
		params.Set("stage", stage.Code)
	}

	body, err := f.client.get(ctx, stage.URL, params)
	if err != nil {
		return nil, err
	}
	var resp pageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode page %d: %w", page, err)
	}
	return &resp, nil
}
