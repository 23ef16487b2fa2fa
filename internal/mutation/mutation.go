// Package mutation applies user edits to notices and keeps the result
// cache coherent with them.
package mutation

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/wesm/noticevault/internal/auth"
	"github.com/wesm/noticevault/internal/feed"
	"github.com/wesm/noticevault/internal/metrics"
	"github.com/wesm/noticevault/internal/notice"
)

// Store is the subset of the notice store the coordinator writes through.
type Store interface {
	GetNotice(ctx context.Context, id int64) (*notice.Notice, error)
	ToggleFavorite(ctx context.Context, id int64) (bool, error)
	SetPhone(ctx context.Context, id int64, phone string) (bool, error)
	SetStatusMemo(ctx context.Context, id int64, status, memo string) error
}

// DetailFetcher looks up complex details on the secondary source.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, code string) (*feed.Detail, error)
}

// Invalidator drops every cached read.
type Invalidator interface {
	InvalidateAll(ctx context.Context)
}

// Coordinator applies notice edits. Each operation is one store write
// followed, only on success, by a full cache invalidation.
type Coordinator struct {
	store   Store
	details DetailFetcher
	cache   Invalidator
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// New creates a coordinator. details may be nil when no secondary source
// is configured; BackfillPhone then fails for eligible notices.
func New(store Store, details DetailFetcher, cache Invalidator, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   store,
		details: details,
		cache:   cache,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// errNoDetailSource is returned by BackfillPhone without a DetailFetcher.
var errNoDetailSource = errors.New("no K-APT detail source configured")

func (c *Coordinator) user(ctx context.Context, op string, id int64) (auth.User, bool) {
	u, ok := auth.UserFrom(ctx)
	if !ok {
		c.logger.Debug("ignoring unauthenticated mutation", "op", op, "id", id)
	}
	return u, ok
}

// ToggleFavorite flips the favorite flag of notice id and returns the new
// value. Leaving favorites clears status and memo. On failure the original
// value is returned with the error. Without an authenticated user nothing
// is written and the current value is returned.
func (c *Coordinator) ToggleFavorite(ctx context.Context, id int64) (bool, error) {
	u, ok := c.user(ctx, "toggle_favorite", id)

	orig, err := c.store.GetNotice(ctx, id)
	if err != nil {
		if !ok {
			return false, nil
		}
		c.metrics.Mutation("toggle_favorite", err)
		return false, err
	}
	if !ok {
		return orig.IsFavorite, nil
	}

	fav, err := c.store.ToggleFavorite(ctx, id)
	c.metrics.Mutation("toggle_favorite", err)
	if err != nil {
		c.logger.Warn("toggle favorite failed", "id", id, "user", u.Name, "error", err)
		return orig.IsFavorite, err
	}

	c.cache.InvalidateAll(ctx)
	c.logger.Info("favorite toggled", "id", id, "favorite", fav, "user", u.Name)
	return fav, nil
}

// BackfillPhone fills the empty phone of a K-APT notice from the complex
// detail and returns the stored digits. Notices that are not K-APT, already
// have a phone or have no kapt code are left alone and "" is returned.
func (c *Coordinator) BackfillPhone(ctx context.Context, id int64) (string, error) {
	u, ok := c.user(ctx, "backfill_phone", id)
	if !ok {
		return "", nil
	}

	n, err := c.store.GetNotice(ctx, id)
	if err != nil {
		return "", err
	}
	code := strings.TrimSpace(n.KaptCode)
	if !strings.EqualFold(n.SourceSystem, notice.SourceKAPT) || strings.TrimSpace(n.PhoneNumber) != "" || code == "" {
		return "", nil
	}
	if c.details == nil {
		return "", errNoDetailSource
	}

	d, err := c.details.FetchDetail(ctx, code)
	if err != nil {
		c.metrics.Mutation("backfill_phone", err)
		return "", &notice.UpstreamFetchError{Stage: "K-APT detail", Date: code, Err: err}
	}
	digits := notice.OnlyDigits(d.Phone)
	if digits == "" {
		return "", nil
	}

	updated, err := c.store.SetPhone(ctx, id, digits)
	c.metrics.Mutation("backfill_phone", err)
	if err != nil {
		c.logger.Warn("phone backfill failed", "id", id, "error", err)
		return "", err
	}
	if !updated {
		// Filled concurrently.
		return "", nil
	}

	c.cache.InvalidateAll(ctx)
	c.logger.Info("phone backfilled", "id", id, "kapt_code", code, "user", u.Name)
	return digits, nil
}

// SaveStatusMemo stores the tracking status and memo of notice id. status
// must be one of notice.StatusOptions.
func (c *Coordinator) SaveStatusMemo(ctx context.Context, id int64, status, memo string) error {
	u, ok := c.user(ctx, "save_status_memo", id)
	if !ok {
		return nil
	}
	if !validStatus(status) {
		return notice.Invalid("status", "unknown status %q", status)
	}

	err := c.store.SetStatusMemo(ctx, id, status, memo)
	c.metrics.Mutation("save_status_memo", err)
	if err != nil {
		c.logger.Warn("save status memo failed", "id", id, "error", err)
		return err
	}

	c.cache.InvalidateAll(ctx)
	c.logger.Info("status saved", "id", id, "status", status, "user", u.Name)
	return nil
}

func validStatus(status string) bool {
	for _, s := range notice.StatusOptions {
		if s == status {
			return true
		}
	}
	return false
}
