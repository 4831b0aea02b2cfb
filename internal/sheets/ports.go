package sheets

import (
	"context"

	"github.com/shopspring/decimal"

	"hroshi/internal/core"
)

// Ports for outbound ledger adapters.
type (
	LedgerAppender interface {
		// Append writes one record at the end of the ledger.
		Append(ctx context.Context, r core.LedgerRecord) (rowRef string, err error)
	}

	LedgerScanner interface {
		// ScanAll returns every ledger row in insertion order, unparsed.
		ScanAll(ctx context.Context) ([]core.RawRow, error)
	}

	// LimitStore reads and writes the per-category limits table.
	LimitStore interface {
		ReadLimits(ctx context.Context) ([]core.RawLimit, error)
		// UpsertLimit replaces the limit of category or adds a new row.
		UpsertLimit(ctx context.Context, category string, limit decimal.Decimal) error
	}

	// Ledger is the full port the conversation needs.
	Ledger interface {
		LedgerAppender
		LedgerScanner
		LimitStore
	}
)
