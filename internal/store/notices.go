package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/wesm/noticevault/internal/notice"
)

// NoticeColumns selects every notices column with NULLs folded so rows
// scan into notice.Notice.
const NoticeColumns = `id, is_favorite,
	COALESCE(stage, '') AS stage,
	COALESCE(biz_type, '') AS biz_type,
	COALESCE(project_name, '') AS project_name,
	COALESCE(client, '') AS client,
	COALESCE(address, '') AS address,
	COALESCE(phone_number, '') AS phone_number,
	model_name,
	COALESCE(quantity, 0) AS quantity,
	COALESCE(amount, '') AS amount,
	COALESCE(is_certified, '') AS is_certified,
	COALESCE(notice_date, '') AS notice_date,
	detail_link,
	assigned_office,
	COALESCE(status, '') AS status,
	COALESCE(memo, '') AS memo,
	source_system,
	COALESCE(kapt_code, '') AS kapt_code`

// EscapeLike escapes LIKE wildcards so s matches literally under
// ESCAPE '\'.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// OfficeMatch returns a condition matching col against office under the
// multi-office encoding: equal, leading part, trailing part or inner part.
func OfficeMatch(col, office string) (string, []interface{}) {
	esc := EscapeLike(office)
	cond := "(" + col + " = ? OR " +
		col + ` LIKE ? ESCAPE '\' OR ` +
		col + ` LIKE ? ESCAPE '\' OR ` +
		col + ` LIKE ? ESCAPE '\')`
	return cond, []interface{}{office, esc + "/%", "%/" + esc, "%/" + esc + "/%"}
}

// InsertNotice inserts n unless a row with the same (source_system,
// detail_link, model_name, assigned_office) exists. It reports whether a
// row was written and sets n.ID when it was.
func (s *Store) InsertNotice(ctx context.Context, n *notice.Notice) (bool, error) {
	if n.ModelName == "" {
		n.ModelName = notice.DefaultModelName
	}
	if n.AssignedOffice == "" {
		n.AssignedOffice = notice.DefaultOffice
	}
	if n.SourceSystem == "" {
		n.SourceSystem = notice.SourceG2B
	}
	if n.DetailLink == "" {
		return false, notice.Invalid("detail_link", "must not be empty")
	}

	var kaptCode interface{}
	if n.KaptCode != "" {
		kaptCode = n.KaptCode
	}

	query := s.Rebind(`
		INSERT INTO notices (
			is_favorite, stage, biz_type, project_name, client, address,
			phone_number, model_name, quantity, amount, is_certified,
			notice_date, detail_link, assigned_office, status, memo,
			source_system, kapt_code
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_system, detail_link, model_name, assigned_office) DO NOTHING
		RETURNING id`)

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		n.IsFavorite, n.Stage, n.BizType, n.ProjectName, n.Client, n.Address,
		n.PhoneNumber, n.ModelName, n.Quantity, n.Amount, n.IsCertified,
		n.NoticeDate, n.DetailLink, n.AssignedOffice, n.Status, n.Memo,
		n.SourceSystem, kaptCode,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		// Unique conflict: an expected duplicate.
		return false, nil
	}
	if err != nil {
		return false, wrapErr("insert notice", err)
	}
	n.ID = id
	return true, nil
}

// GetNotice returns the notice with the given id, or notice.ErrNotFound.
func (s *Store) GetNotice(ctx context.Context, id int64) (*notice.Notice, error) {
	var n notice.Notice
	err := s.db.GetContext(ctx, &n, s.Rebind(`SELECT `+NoticeColumns+` FROM notices WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notice.ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("get notice", err)
	}
	return &n, nil
}

// ToggleFavorite flips the favorite flag of a notice in one transaction
// and returns the new value. Leaving favorites clears status and memo.
func (s *Store) ToggleFavorite(ctx context.Context, id int64) (bool, error) {
	var fav bool
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var cur bool
		err := tx.QueryRowContext(ctx, tx.Rebind(`SELECT is_favorite FROM notices WHERE id = ?`), id).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return notice.ErrNotFound
		}
		if err != nil {
			return err
		}

		fav = !cur
		if fav {
			_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE notices SET is_favorite = ? WHERE id = ?`), fav, id)
		} else {
			_, err = tx.ExecContext(ctx, tx.Rebind(
				`UPDATE notices SET is_favorite = ?, status = '', memo = '' WHERE id = ?`), fav, id)
		}
		return err
	})
	if errors.Is(err, notice.ErrNotFound) {
		return false, err
	}
	if err != nil {
		return false, wrapErr("toggle favorite", err)
	}
	return fav, nil
}

// SetPhone stores a phone number on a notice whose phone is still empty.
// It reports whether the row was updated.
func (s *Store) SetPhone(ctx context.Context, id int64, phone string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.Rebind(`
		UPDATE notices SET phone_number = ?
		WHERE id = ? AND (phone_number IS NULL OR phone_number = '')`), phone, id)
	if err != nil {
		return false, wrapErr("set phone", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("set phone", err)
	}
	return n > 0, nil
}

// SetStatusMemo updates the tracking status and memo of a notice.
func (s *Store) SetStatusMemo(ctx context.Context, id int64, status, memo string) error {
	res, err := s.db.ExecContext(ctx, s.Rebind(`UPDATE notices SET status = ?, memo = ? WHERE id = ?`), status, memo, id)
	if err != nil {
		return wrapErr("set status memo", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("set status memo", err)
	}
	if n == 0 {
		return notice.ErrNotFound
	}
	return nil
}

// ListFavorites returns favorite notices, newest first, optionally limited
// to one office.
func (s *Store) ListFavorites(ctx context.Context, office string) ([]notice.Notice, error) {
	query := `SELECT ` + NoticeColumns + ` FROM notices WHERE is_favorite = ?`
	args := []interface{}{true}
	if office = notice.NormalizeOffice(office); office != notice.All {
		cond, officeArgs := OfficeMatch("assigned_office", office)
		query += " AND " + cond
		args = append(args, officeArgs...)
	}
	query += " ORDER BY notice_date DESC, id DESC"

	var out []notice.Notice
	if err := s.db.SelectContext(ctx, &out, s.Rebind(query), args...); err != nil {
		return nil, wrapErr("list favorites", err)
	}
	return out, nil
}

// DistinctNoticeDates returns the distinct raw notice_date values of the
// office's notices.
func (s *Store) DistinctNoticeDates(ctx context.Context, office string) ([]string, error) {
	query := `SELECT DISTINCT notice_date FROM notices WHERE notice_date IS NOT NULL`
	var args []interface{}
	if office = notice.NormalizeOffice(office); office != notice.All {
		cond, officeArgs := OfficeMatch("assigned_office", office)
		query += " AND " + cond
		args = officeArgs
	}

	var out []string
	if err := s.db.SelectContext(ctx, &out, s.Rebind(query), args...); err != nil {
		return nil, wrapErr("distinct notice dates", err)
	}
	return out, nil
}
