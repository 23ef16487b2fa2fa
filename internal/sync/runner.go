package sync

import (
	"context"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/wesm/noticevault/internal/notice"
)

// DefaultMaxRangeDays is the exclusive limit on the span of a manual sync.
const DefaultMaxRangeDays = 92

// Event reports one (date, stage) step of a manual sync.
type Event struct {
	RunID      string `json:"run_id"`
	Date       string `json:"date"`
	Stage      string `json:"stage"`
	Err        error  `json:"-"`
	Error      string `json:"error,omitempty"`
	Inserted   int    `json:"inserted"`
	Duplicates int    `json:"duplicates"`
	Step       int    `json:"step"`
	Total      int    `json:"total"`
}

// Summary describes a finished manual sync.
type Summary struct {
	RunID      string    `json:"run_id"`
	Start      string    `json:"start"`
	End        string    `json:"end"`
	Steps      int       `json:"steps"`
	Total      int       `json:"total"`
	Inserted   int       `json:"inserted"`
	Duplicates int       `json:"duplicates"`
	Failures   int       `json:"failures"`
	Stopped    bool      `json:"stopped"`
	FinishedAt time.Time `json:"finished_at"`
}

// Runner executes manual date-range syncs.
type Runner struct {
	pipeline     *Pipeline
	gate         *Gate
	minDate      time.Time
	maxRangeDays int
	now          func() time.Time
	newID        func() string

	mu   gosync.Mutex
	runs map[string]chan struct{}
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMinDate rejects ranges starting before d. The zero time disables the
// check.
func WithMinDate(d time.Time) RunnerOption {
	return func(r *Runner) {
		r.minDate = d
	}
}

// WithMaxRangeDays sets the exclusive range limit in days.
func WithMaxRangeDays(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxRangeDays = n
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

// NewRunner creates a Runner sharing gate with the scheduler.
func NewRunner(p *Pipeline, gate *Gate, opts ...RunnerOption) *Runner {
	r := &Runner{
		pipeline:     p,
		gate:         gate,
		maxRangeDays: DefaultMaxRangeDays,
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
		runs:         make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Validate checks a range without running it.
func (r *Runner) Validate(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return notice.Invalid("range", "start and end dates are required")
	}
	span := notice.DaysBetween(start, end)
	if span < 0 {
		return notice.Invalid("start", "start %s is after end %s",
			start.Format(notice.DateLayout), end.Format(notice.DateLayout))
	}
	if span >= r.maxRangeDays {
		return notice.Invalid("end", "range of %d days exceeds the %d day limit", span, r.maxRangeDays)
	}
	if !r.minDate.IsZero() && notice.DaysBetween(r.minDate, start) < 0 {
		return notice.Invalid("start", "start %s is before the earliest sync date %s",
			start.Format(notice.DateLayout), r.minDate.Format(notice.DateLayout))
	}
	return nil
}

// Run syncs every configured stage for each date from start to end
// inclusive, sending one Event per (date, stage) on events. events may be
// nil; it is closed when Run returns. Cancelling ctx or calling Stop ends
// the run between steps; a fetch already in progress completes.
func (r *Runner) Run(ctx context.Context, start, end time.Time, events chan<- Event) (*Summary, error) {
	if events != nil {
		defer close(events)
	}
	if err := r.Validate(start, end); err != nil {
		return nil, err
	}
	if !r.gate.TryAcquire() {
		return nil, ErrSyncInProgress
	}
	defer r.gate.Release()

	runID := r.newID()
	stop := make(chan struct{})
	r.mu.Lock()
	r.runs[runID] = stop
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.runs, runID)
		r.mu.Unlock()
	}()

	logger := r.pipeline.logger().With("run_id", runID)
	startDay := notice.Day(start)
	days := notice.DaysBetween(start, end) + 1
	sum := &Summary{
		RunID: runID,
		Start: start.Format(notice.DateLayout),
		End:   end.Format(notice.DateLayout),
		Total: days * len(r.pipeline.Stages),
	}
	startedAt := r.now()
	logger.Info("manual sync started", "start", sum.Start, "end", sum.End, "steps", sum.Total)

steps:
	for d := 0; d < days; d++ {
		day := startDay.AddDate(0, 0, d)
		for _, stage := range r.pipeline.Stages {
			if stopped(ctx, stop) {
				sum.Stopped = true
				break steps
			}

			out := r.pipeline.FetchStage(ctx, TriggerManual, day, stage)
			sum.Steps++
			sum.Inserted += out.Result.Inserted
			sum.Duplicates += out.Result.Duplicates
			ev := Event{
				RunID:      runID,
				Date:       day.Format(notice.DateLayout),
				Stage:      stage.Name,
				Err:        out.Err,
				Inserted:   out.Result.Inserted,
				Duplicates: out.Result.Duplicates,
				Step:       sum.Steps,
				Total:      sum.Total,
			}
			if out.Err != nil {
				sum.Failures++
				ev.Error = out.Err.Error()
			}
			if events != nil {
				select {
				case events <- ev:
				case <-ctx.Done():
				}
			}
		}
	}

	sum.FinishedAt = r.now()
	r.pipeline.Finish(ctx, TriggerManual, sum.FinishedAt, startedAt)
	logger.Info("manual sync finished",
		slog.Int("steps", sum.Steps),
		slog.Int("inserted", sum.Inserted),
		slog.Int("failures", sum.Failures),
		slog.Bool("stopped", sum.Stopped))
	return sum, nil
}

// Stop asks run runID to end after its current step. It reports whether
// the run was active.
func (r *Runner) Stop(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	stop, ok := r.runs[runID]
	if !ok {
		return false
	}
	select {
	case <-stop:
	default:
		close(stop)
	}
	return true
}

// Active returns the ids of runs in progress.
func (r *Runner) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	return ids
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
