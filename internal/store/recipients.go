package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/wesm/noticevault/internal/notice"
)

// ListActiveRecipients returns active mail recipients of the given offices.
// An empty office list returns every active recipient.
func (s *Store) ListActiveRecipients(ctx context.Context, offices []string) ([]notice.MailRecipient, error) {
	query := `SELECT id, office, email, is_active, COALESCE(name, '') AS name
		FROM mail_recipients WHERE is_active = ?`
	args := []interface{}{true}
	if len(offices) > 0 {
		in, inArgs, err := sqlx.In(` AND office IN (?)`, offices)
		if err != nil {
			return nil, err
		}
		query += in
		args = append(args, inArgs...)
	}
	query += " ORDER BY office, email"

	var out []notice.MailRecipient
	if err := s.db.SelectContext(ctx, &out, s.Rebind(query), args...); err != nil {
		return nil, wrapErr("list recipients", err)
	}
	return out, nil
}

// AddRecipient subscribes email to office. Re-adding an existing pair
// reactivates it and updates the name.
func (s *Store) AddRecipient(ctx context.Context, office, email, name string) error {
	_, err := s.db.ExecContext(ctx, s.Rebind(`
		INSERT INTO mail_recipients (office, email, is_active, name) VALUES (?, ?, ?, ?)
		ON CONFLICT (office, email) DO UPDATE SET is_active = excluded.is_active, name = excluded.name`),
		office, email, true, name)
	return wrapErr("add recipient", err)
}

// AddMailHistory appends a mail audit record and returns its id.
func (s *Store) AddMailHistory(ctx context.Context, h *notice.MailHistory) (int64, error) {
	if h.SentAt.IsZero() {
		h.SentAt = time.Now().UTC()
	}
	var id int64
	err := s.db.QueryRowContext(ctx, s.Rebind(`
		INSERT INTO mail_history (
			sent_at, office, subject, period_start, period_end,
			to_list, cc_list, total_count, attach_name, preview_html
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		h.SentAt, h.Office, h.Subject, h.PeriodStart, h.PeriodEnd,
		h.ToList, h.CCList, h.TotalCount, h.AttachName, h.PreviewHTML,
	).Scan(&id)
	if err != nil {
		return 0, wrapErr("add mail history", err)
	}
	h.ID = id
	return id, nil
}

// RecentMailHistory returns the most recent mail records, newest first.
func (s *Store) RecentMailHistory(ctx context.Context, limit int) ([]notice.MailHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []notice.MailHistory
	err := s.db.SelectContext(ctx, &out, s.Rebind(`
		SELECT id, sent_at, office, subject, period_start, period_end, to_list,
			COALESCE(cc_list, '') AS cc_list, COALESCE(total_count, 0) AS total_count,
			COALESCE(attach_name, '') AS attach_name, COALESCE(preview_html, '') AS preview_html
		FROM mail_history ORDER BY sent_at DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, wrapErr("recent mail history", err)
	}
	return out, nil
}
