package memory

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"hroshi/internal/core"
	"hroshi/internal/sheets"
)

var _ sheets.Ledger = (*Store)(nil)

// Store is an in-process ledger. Rows are kept in their raw form so that it
// behaves like a spreadsheet, including hand-edited malformed rows.
type Store struct {
	mu     sync.Mutex
	rows   []core.RawRow
	limits []core.RawLimit
}

func New() *Store {
	return &Store{}
}

// NewFromFiles seeds the store from base/ledger.csv and base/limits.csv when
// present. A missing file seeds nothing; a file that cannot be read or
// parsed is an error.
func NewFromFiles(base string) (*Store, error) {
	ledger, err := readCSV(filepath.Join(base, "ledger.csv"))
	if err != nil {
		return nil, err
	}
	limits, err := readCSV(filepath.Join(base, "limits.csv"))
	if err != nil {
		return nil, err
	}

	s := New()
	for _, rec := range ledger {
		s.rows = append(s.rows, core.RawRow{
			Timestamp:   field(rec, 0),
			UserName:    field(rec, 1),
			Amount:      field(rec, 2),
			Category:    field(rec, 3),
			Subcategory: field(rec, 4),
		})
	}
	for _, rec := range limits {
		s.limits = append(s.limits, core.RawLimit{Category: field(rec, 0), Limit: field(rec, 1)})
	}
	return s, nil
}

// Append stores the record and returns a synthetic row reference.
func (s *Store) Append(_ context.Context, r core.LedgerRecord) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, r.Row())
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// AppendRaw stores a row verbatim, bypassing validation.
func (s *Store) AppendRaw(row core.RawRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
}

func (s *Store) ScanAll(_ context.Context) ([]core.RawRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.RawRow(nil), s.rows...), nil
}

func (s *Store) ReadLimits(_ context.Context) ([]core.RawLimit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.RawLimit(nil), s.limits...), nil
}

func (s *Store) UpsertLimit(_ context.Context, category string, limit decimal.Decimal) error {
	category = core.NormalizeCategory(category)
	if category == "" {
		return core.ErrEmptyCategory
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.limits) - 1; i >= 0; i-- {
		if core.NormalizeCategory(s.limits[i].Category) == category {
			s.limits[i].Limit = limit.String()
			return nil
		}
	}
	s.limits = append(s.limits, core.RawLimit{Category: category, Limit: limit.String()})
	return nil
}

// Len returns the number of ledger rows.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open seed %s: %w", path, err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.Comment = '#'
	recs, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return recs, nil
}

func field(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
