package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wesm/noticevault/internal/notice"
)

const metaLastSyncAt = "last_sync_at"

// LastSyncAt returns when the last sync finished, or the zero time.
func (s *Store) LastSyncAt(ctx context.Context) (time.Time, error) {
	var v string
	err := s.db.QueryRowContext(ctx, s.Rebind(`SELECT value FROM sync_meta WHERE key = ?`), metaLastSyncAt).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, wrapErr("get last sync", err)
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, &notice.InvariantViolation{Detail: fmt.Sprintf("last sync time %q is not RFC3339", v)}
	}
	return t, nil
}

// SetLastSyncAt records when a sync finished.
func (s *Store) SetLastSyncAt(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, s.Rebind(`
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`),
		metaLastSyncAt, t.Format(time.RFC3339))
	return wrapErr("set last sync", err)
}
