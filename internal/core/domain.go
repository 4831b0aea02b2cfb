package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// TimestampLayout is the ledger's timestamp column format.
	TimestampLayout = "2006-01-02 15:04"
	// DateLayout is used for period boundaries typed by users.
	DateLayout = "2006-01-02"
)

type (
	// LedgerRecord is one appended ledger row. SignedAmount is positive for
	// the income category and negative for everything else.
	LedgerRecord struct {
		Timestamp    time.Time
		UserName     string
		SignedAmount decimal.Decimal
		Category     string
		Subcategory  string
	}

	// LimitRecord is a monthly spending ceiling for one category.
	LimitRecord struct {
		Category     string
		MonthlyLimit decimal.Decimal
	}

	// RawRow is a ledger row exactly as the storage returns it.
	RawRow struct {
		Timestamp   string
		UserName    string
		Amount      string
		Category    string
		Subcategory string
	}

	// RawLimit is a limits table row exactly as the storage returns it.
	RawLimit struct {
		Category string
		Limit    string
	}
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrUnknownCategory = errors.New("unknown category")
	ErrInvalidDate     = errors.New("invalid date")
	ErrMalformedRow    = errors.New("malformed ledger row")
	ErrEmptyCategory   = errors.New("empty category")
	ErrEmptyUser       = errors.New("empty user name")
)

// StorageError marks a failure of the ledger collaborator (append, read or
// upsert). Callers surface it to the user and keep in-memory state intact.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err unless it is nil or already a StorageError.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err came from the ledger collaborator.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func (r LedgerRecord) Validate() error {
	if r.Timestamp.IsZero() {
		return errors.New("timestamp cannot be zero")
	}
	if strings.TrimSpace(r.UserName) == "" {
		return ErrEmptyUser
	}
	if strings.TrimSpace(r.Category) == "" {
		return ErrEmptyCategory
	}
	return nil
}

// Row renders the record in ledger column order.
func (r LedgerRecord) Row() RawRow {
	return RawRow{
		Timestamp:   r.Timestamp.Format(TimestampLayout),
		UserName:    r.UserName,
		Amount:      r.SignedAmount.String(),
		Category:    r.Category,
		Subcategory: r.Subcategory,
	}
}

// ParseRow converts a raw ledger row. Timestamps are read in loc.
// Any unparseable field yields ErrMalformedRow.
func ParseRow(raw RawRow, loc *time.Location) (LedgerRecord, error) {
	if loc == nil {
		loc = time.Local
	}
	ts, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(raw.Timestamp), loc)
	if err != nil {
		return LedgerRecord{}, fmt.Errorf("%w: timestamp %q", ErrMalformedRow, raw.Timestamp)
	}
	amount, err := ParseLedgerAmount(raw.Amount)
	if err != nil {
		return LedgerRecord{}, fmt.Errorf("%w: amount %q", ErrMalformedRow, raw.Amount)
	}
	return LedgerRecord{
		Timestamp:    ts,
		UserName:     strings.TrimSpace(raw.UserName),
		SignedAmount: amount,
		Category:     strings.TrimSpace(raw.Category),
		Subcategory:  strings.TrimSpace(raw.Subcategory),
	}, nil
}

// ParseLimits folds raw limit rows into a map. Later rows override earlier
// ones; rows with an unparseable value are skipped.
func ParseLimits(rows []RawLimit) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		cat := NormalizeCategory(row.Category)
		if cat == "" {
			continue
		}
		v, err := ParseLedgerAmount(row.Limit)
		if err != nil {
			continue
		}
		out[cat] = v
	}
	return out
}

// StartOfMonth returns midnight of the first day of t's month in t's location.
func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// Within reports whether t lies in the inclusive range [start, end].
func Within(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}
