// Package scheduler runs the upstream sync at fixed times of day.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	nsync "github.com/wesm/noticevault/internal/sync"
)

// DefaultPollInterval is how often the trigger is re-evaluated.
const DefaultPollInterval = 30 * time.Second

// State is the scheduler's position in its run cycle.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	// StateCooldown is held only while a finished run records its trigger
	// hour; the scheduler then returns to idle.
	StateCooldown State = "cooldown"
)

// TickerFunc starts a ticker and returns its channel and stop function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Status is a snapshot of the scheduler.
type Status struct {
	State      State             `json:"state"`
	Schedule   string            `json:"schedule"`
	LastRun    time.Time         `json:"last_run,omitempty"`
	NextRun    time.Time         `json:"next_run"`
	LastErrors map[string]string `json:"last_errors,omitempty"`
}

// Scheduler polls the clock and runs every configured stage for the
// current day when the schedule fires. A trigger hour runs at most once.
type Scheduler struct {
	spec      string
	sched     cron.Schedule
	pipeline  *nsync.Pipeline
	gate      *nsync.Gate
	poll      time.Duration
	now       func() time.Time
	newTicker TickerFunc
	logger    *slog.Logger

	mu          sync.RWMutex
	state       State
	lastRunHour int
	lastRun     time.Time
	lastErrs    map[string]string
	started     bool
	stopped     bool

	ctx    context.Context    // cancelled on Stop
	cancel context.CancelFunc // cancels ctx
	wg     sync.WaitGroup     // tracks the poll loop
}

// New creates a scheduler for the 5-field cron expression spec. gate is
// shared with manual syncs.
func New(spec string, p *nsync.Pipeline, gate *nsync.Gate) (*Scheduler, error) {
	sched, err := parseSpec(spec)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		spec:        spec,
		sched:       sched,
		pipeline:    p,
		gate:        gate,
		poll:        DefaultPollInterval,
		now:         time.Now,
		newTicker:   realTicker,
		logger:      slog.Default(),
		state:       StateIdle,
		lastRunHour: -1,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// WithLogger sets the logger for the scheduler.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// WithClock sets the time source.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// WithTicker replaces the poll ticker.
func (s *Scheduler) WithTicker(f TickerFunc) *Scheduler {
	s.newTicker = f
	return s
}

// WithPollInterval sets how often the trigger is evaluated.
func (s *Scheduler) WithPollInterval(d time.Duration) *Scheduler {
	if d > 0 {
		s.poll = d
	}
	return s
}

// Due reports whether a run should start at now: the schedule fires in
// the minute containing now and that hour has not run yet.
func (s *Scheduler) Due(now time.Time) bool {
	floor := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), 0, 0, now.Location())
	if !s.sched.Next(floor.Add(-time.Second)).Equal(floor) {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Hour() != s.lastRunHour
}

// Tick evaluates the trigger once and runs the sync when due. It reports
// whether a run happened. A tick that finds a manual sync in progress
// skips; the next tick in the same minute re-checks.
func (s *Scheduler) Tick(ctx context.Context) bool {
	now := s.now()
	if !s.Due(now) {
		return false
	}
	if !s.gate.TryAcquire() {
		s.logger.Info("scheduled sync skipped: sync in progress", "time", now)
		return false
	}
	defer s.gate.Release()

	s.runOnce(ctx, now)
	return true
}

func (s *Scheduler) runOnce(ctx context.Context, now time.Time) {
	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()

	s.logger.Info("starting scheduled sync", "time", now, "stages", len(s.pipeline.Stages))
	errs := make(map[string]string)
	for _, stage := range s.pipeline.Stages {
		if ctx.Err() != nil {
			s.logger.Warn("scheduled sync interrupted", "error", ctx.Err())
			break
		}
		if out := s.pipeline.FetchStage(ctx, nsync.TriggerSchedule, now, stage); out.Err != nil {
			errs[stage.Name] = out.Err.Error()
		}
	}

	finished := s.now()
	s.pipeline.Finish(ctx, nsync.TriggerSchedule, finished, now)

	s.mu.Lock()
	s.lastRunHour = now.Hour()
	s.lastRun = finished
	s.lastErrs = errs
	s.state = StateCooldown
	s.mu.Unlock()

	// lastRunHour keeps the served hour from running again; nothing else
	// waits on cooldown.
	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()

	s.logger.Info("scheduled sync completed",
		"duration", finished.Sub(now),
		"failed_stages", len(errs))
}

// Run polls until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticks, stop := s.newTicker(s.poll)
	defer stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			s.Tick(ctx)
		}
	}
}

// Start runs the poll loop in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(s.ctx)
	}()
	s.logger.Info("scheduler started", "schedule", s.spec, "next_run", s.sched.Next(s.now()))
}

// IsRunning returns true if the scheduler has been started and not yet stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

// Stop cancels the poll loop. A stage fetch in progress is cancelled
// through its context. Returns a context that is done when the loop has
// exited.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		s.wg.Wait()
		cancel()
	}()
	return ctx
}

// Status returns the current state and the next trigger time.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		State:    s.state,
		Schedule: s.spec,
		LastRun:  s.lastRun,
		NextRun:  s.sched.Next(s.now()),
	}
	if len(s.lastErrs) > 0 {
		st.LastErrors = make(map[string]string, len(s.lastErrs))
		for k, v := range s.lastErrs {
			st.LastErrors[k] = v
		}
	}
	return st
}

func parseSpec(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return sched, nil
}

// ValidateCronExpr validates a cron expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	_, err := parseSpec(expr)
	return err
}
