// Package storage is the local SQLite ledger. Rows written here are mirrored
// to Google Sheets by the sync worker.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"hroshi/internal/core"

	_ "modernc.org/sqlite"
)

// Sync states of ledger and limit rows.
const (
	SyncPending = "pending"
	SyncDone    = "synced"
	SyncError   = "error"
)

// ErrNotFound is returned when a row id or category does not exist.
var ErrNotFound = errors.New("not found")

// LedgerEntry is a stored ledger row with its bookkeeping columns.
type LedgerEntry struct {
	ID         int64
	Row        core.RawRow
	SyncStatus string
	CreatedAt  time.Time
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// InsertEntry stores a validated record and returns its id.
func (r *SQLiteRepository) InsertEntry(ctx context.Context, rec core.LedgerRecord) (int64, error) {
	if err := rec.Validate(); err != nil {
		return 0, err
	}
	row := rec.Row()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO ledger (ts, user_name, amount, category, subcategory, sync_status) VALUES (?, ?, ?, ?, ?, ?)`,
		row.Timestamp, row.UserName, row.Amount, row.Category, row.Subcategory, SyncPending)
	if err != nil {
		return 0, fmt.Errorf("insert ledger row: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("ledger row id: %w", err)
	}
	return id, nil
}

// ScanAll implements sheets.LedgerScanner. Rows come back in insert order.
func (r *SQLiteRepository) ScanAll(ctx context.Context) ([]core.RawRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT ts, user_name, amount, category, subcategory FROM ledger ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	defer rows.Close()

	var out []core.RawRow
	for rows.Next() {
		var rr core.RawRow
		if err := rows.Scan(&rr.Timestamp, &rr.UserName, &rr.Amount, &rr.Category, &rr.Subcategory); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		out = append(out, rr)
	}
	return out, rows.Err()
}

// GetEntry returns one ledger row by id.
func (r *SQLiteRepository) GetEntry(ctx context.Context, id int64) (LedgerEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, ts, user_name, amount, category, subcategory, sync_status, created_at FROM ledger WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return LedgerEntry{}, fmt.Errorf("ledger row %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("get ledger row %d: %w", id, err)
	}
	return e, nil
}

// GetPendingEntries returns rows not yet mirrored, oldest first.
func (r *SQLiteRepository) GetPendingEntries(ctx context.Context, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, ts, user_name, amount, category, subcategory, sync_status, created_at
		 FROM ledger WHERE sync_status IN (?, ?) ORDER BY id LIMIT ?`,
		SyncPending, SyncError, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending ledger rows: %w", err)
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending ledger row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkEntrySynced records a successful mirror of a ledger row.
func (r *SQLiteRepository) MarkEntrySynced(ctx context.Context, id int64) error {
	return r.setEntryStatus(ctx, id, SyncDone)
}

// MarkEntrySyncError flags a ledger row for the next sweep.
func (r *SQLiteRepository) MarkEntrySyncError(ctx context.Context, id int64) error {
	return r.setEntryStatus(ctx, id, SyncError)
}

func (r *SQLiteRepository) setEntryStatus(ctx context.Context, id int64, status string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE ledger SET sync_status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("mark ledger row %d %s: %w", id, status, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ledger row %d: %w", id, ErrNotFound)
	}
	return nil
}

// ReadLimits implements sheets.LimitStore.
func (r *SQLiteRepository) ReadLimits(ctx context.Context) ([]core.RawLimit, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT category, monthly_limit FROM limits ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("read limits: %w", err)
	}
	defer rows.Close()

	var out []core.RawLimit
	for rows.Next() {
		var l core.RawLimit
		if err := rows.Scan(&l.Category, &l.Limit); err != nil {
			return nil, fmt.Errorf("scan limit row: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpsertLimit implements sheets.LimitStore. The row is flagged for sync.
func (r *SQLiteRepository) UpsertLimit(ctx context.Context, category string, limit decimal.Decimal) error {
	category = core.NormalizeCategory(category)
	if category == "" {
		return core.ErrEmptyCategory
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO limits (category, monthly_limit, sync_status, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(category) DO UPDATE SET monthly_limit = excluded.monthly_limit,
		   sync_status = excluded.sync_status, updated_at = CURRENT_TIMESTAMP`,
		category, limit.String(), SyncPending)
	if err != nil {
		return fmt.Errorf("upsert limit %q: %w", category, err)
	}
	return nil
}

// GetLimit returns the stored limit of one category.
func (r *SQLiteRepository) GetLimit(ctx context.Context, category string) (core.RawLimit, error) {
	var l core.RawLimit
	err := r.db.QueryRowContext(ctx,
		`SELECT category, monthly_limit FROM limits WHERE category = ?`, core.NormalizeCategory(category)).
		Scan(&l.Category, &l.Limit)
	if errors.Is(err, sql.ErrNoRows) {
		return l, fmt.Errorf("limit %q: %w", category, ErrNotFound)
	}
	if err != nil {
		return l, fmt.Errorf("get limit %q: %w", category, err)
	}
	return l, nil
}

// GetPendingLimits returns limits not yet mirrored.
func (r *SQLiteRepository) GetPendingLimits(ctx context.Context) ([]core.RawLimit, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT category, monthly_limit FROM limits WHERE sync_status IN (?, ?) ORDER BY category`,
		SyncPending, SyncError)
	if err != nil {
		return nil, fmt.Errorf("get pending limits: %w", err)
	}
	defer rows.Close()

	var out []core.RawLimit
	for rows.Next() {
		var l core.RawLimit
		if err := rows.Scan(&l.Category, &l.Limit); err != nil {
			return nil, fmt.Errorf("scan pending limit: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// MarkLimitSynced records a successful mirror of value for category. It
// reports false when the stored limit no longer equals value; the row then
// stays pending so the newer value is mirrored on the next pass.
func (r *SQLiteRepository) MarkLimitSynced(ctx context.Context, category, value string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE limits SET sync_status = ? WHERE category = ? AND monthly_limit = ?`,
		SyncDone, core.NormalizeCategory(category), value)
	if err != nil {
		return false, fmt.Errorf("mark limit %q synced: %w", category, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark limit %q synced: %w", category, err)
	}
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (LedgerEntry, error) {
	var (
		e       LedgerEntry
		created sql.NullString
	)
	err := s.Scan(&e.ID, &e.Row.Timestamp, &e.Row.UserName, &e.Row.Amount,
		&e.Row.Category, &e.Row.Subcategory, &e.SyncStatus, &created)
	if err != nil {
		return e, err
	}
	e.CreatedAt = parseCreatedAt(created.String)
	return e, nil
}

// parseCreatedAt accepts both the SQLite CURRENT_TIMESTAMP text and the
// RFC 3339 form the driver produces when it converts DATETIME columns.
func parseCreatedAt(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
