package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wesm/noticevault/internal/feed"
	"github.com/wesm/noticevault/internal/metrics"
	"github.com/wesm/noticevault/internal/notice"
)

// Trigger labels.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// MetaWriter records the completion time of a sync.
type MetaWriter interface {
	SetLastSyncAt(ctx context.Context, t time.Time) error
}

// Invalidator drops every cached read.
type Invalidator interface {
	InvalidateAll(ctx context.Context)
}

// Pipeline fetches the configured stages for a day and publishes the
// result once a sync is complete.
type Pipeline struct {
	Fetcher feed.Fetcher
	Stages  []feed.Stage
	Meta    MetaWriter
	Cache   Invalidator
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// StageOutcome is the result of one stage of one day.
type StageOutcome struct {
	Stage  feed.Stage
	Result feed.Result
	Err    error
}

// FetchStage fetches one stage for day. Failures are logged, counted and
// returned in the outcome; they never abort the caller.
func (p *Pipeline) FetchStage(ctx context.Context, trigger string, day time.Time, stage feed.Stage) StageOutcome {
	date := day.Format(notice.FeedDateLayout)
	res, err := p.fetch(ctx, date, stage)
	p.Metrics.StageRun(trigger, stage.Name, err, res.Inserted)
	if err != nil {
		p.logger().Error("stage fetch failed",
			"trigger", trigger,
			"stage", stage.Name,
			"date", date,
			"error", err)
	} else {
		p.logger().Info("stage fetched",
			"trigger", trigger,
			"stage", stage.Name,
			"date", date,
			"inserted", res.Inserted,
			"duplicates", res.Duplicates)
	}
	return StageOutcome{Stage: stage, Result: res, Err: err}
}

// fetch runs the fetcher, turning a panic into an error so one stage
// cannot take down the run.
func (p *Pipeline) fetch(ctx context.Context, date string, stage feed.Stage) (res feed.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", stage.Name, r)
		}
	}()
	return p.Fetcher.FetchStage(ctx, date, stage)
}

// Finish records the sync time and invalidates the result cache once. It
// runs even when ctx is already cancelled so partial ingests are visible.
func (p *Pipeline) Finish(ctx context.Context, trigger string, at time.Time, started time.Time) {
	ctx = context.WithoutCancel(ctx)
	if p.Meta != nil {
		if err := p.Meta.SetLastSyncAt(ctx, at); err != nil {
			p.logger().Warn("record last sync time", "error", err)
		}
	}
	if p.Cache != nil {
		p.Cache.InvalidateAll(ctx)
	}
	p.Metrics.SyncRun(trigger, at.Sub(started))
}
