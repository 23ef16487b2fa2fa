// Package store provides database access for noticevault.
package store

import (
	"context"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/wesm/noticevault/internal/notice"
)

//go:embed schema_sqlite.sql schema_postgres.sql
var schemaFS embed.FS

// Dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Store provides database operations for noticevault.
type Store struct {
	db      *sqlx.DB
	dbPath  string
	dialect string
}

const defaultSQLiteParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"

// isSQLiteError checks if err is a sqlite3.Error with a message containing substr.
// Handles both value (sqlite3.Error) and pointer (*sqlite3.Error) forms.
func isSQLiteError(err error, substr string) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return strings.Contains(sqliteErr.Error(), substr)
	}
	var sqliteErrPtr *sqlite3.Error
	if errors.As(err, &sqliteErrPtr) && sqliteErrPtr != nil {
		return strings.Contains(sqliteErrPtr.Error(), substr)
	}
	return false
}

// isTransient reports whether err is a failure that may succeed on retry.
func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exception. 40001/40P01: serialization and deadlock.
		// 57P01-03: server shutdown.
		return strings.HasPrefix(pgErr.Code, "08") ||
			pgErr.Code == "40001" || pgErr.Code == "40P01" ||
			strings.HasPrefix(pgErr.Code, "57P")
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}

// wrapErr annotates err with op, classifying retryable failures as
// *notice.TransientStoreError.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return &notice.TransientStoreError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsPostgresDSN reports whether dsn is a PostgreSQL URL.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgresql://") || strings.HasPrefix(dsn, "postgres://")
}

// Open opens or creates the database. PostgreSQL URLs are opened with the
// pgx driver; anything else is treated as a SQLite file path.
func Open(dsn string) (*Store, error) {
	if IsPostgresDSN(dsn) {
		db, err := sqlx.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		return &Store{db: db, dialect: DialectPostgres}, nil
	}

	// Ensure directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sqlx.Open("sqlite3", dsn+defaultSQLiteParams)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{
		db:      db,
		dbPath:  dsn,
		dialect: DialectSQLite,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for predicate reads.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns DialectSQLite or DialectPostgres.
func (s *Store) Dialect() string {
	return s.dialect
}

// Rebind converts a query with ? placeholders to the bindvar style of the
// open driver ($1, $2, ... for PostgreSQL).
func (s *Store) Rebind(query string) string {
	return s.db.Rebind(query)
}

// withTx executes fn within a database transaction. If fn returns an error,
// the transaction is rolled back; otherwise it is committed.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// InitSchema creates all tables and indexes if they don't exist.
func (s *Store) InitSchema() error {
	name := "schema_sqlite.sql"
	if s.dialect == DialectPostgres {
		name = "schema_postgres.sql"
	}
	schema, err := schemaFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}

	// pgx does not accept multiple statements with arguments, and plain
	// multi-statement Exec is driver dependent, so run one at a time.
	for _, stmt := range splitStatements(string(schema)) {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("execute %s: %w", name, err)
		}
	}
	return nil
}

// splitStatements splits a schema file on semicolons at line ends,
// dropping comment-only chunks.
func splitStatements(schema string) []string {
	var stmts []string
	var cur strings.Builder
	for _, line := range strings.Split(schema, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		cur.WriteString(line)
		cur.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			stmts = append(stmts, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
	}
	if rest := strings.TrimSpace(cur.String()); rest != "" {
		stmts = append(stmts, rest)
	}
	return stmts
}

// Stats holds database statistics.
type Stats struct {
	NoticeCount    int64 `json:"notice_count"`
	FavoriteCount  int64 `json:"favorite_count"`
	RecipientCount int64 `json:"recipient_count"`
	MailCount      int64 `json:"mail_count"`
	DatabaseSize   int64 `json:"database_size_bytes"`
}

// GetStats returns statistics about the database.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM notices", &stats.NoticeCount},
		{"SELECT COUNT(*) FROM notices WHERE is_favorite = TRUE", &stats.FavoriteCount},
		{"SELECT COUNT(*) FROM mail_recipients", &stats.RecipientCount},
		{"SELECT COUNT(*) FROM mail_history", &stats.MailCount},
	}

	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			if isSQLiteError(err, "no such table") {
				continue
			}
			return nil, wrapErr(fmt.Sprintf("get stats %q", q.query), err)
		}
	}

	// Get database file size
	if s.dbPath != "" {
		if info, err := os.Stat(s.dbPath); err == nil {
			stats.DatabaseSize = info.Size()
		}
	}

	return stats, nil
}
