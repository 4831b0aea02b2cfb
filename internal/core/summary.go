package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubcategoryTotal is the summed signed amount of one subcategory.
type SubcategoryTotal struct {
	Name   string
	Amount decimal.Decimal
}

// CategoryTotal is the summed signed amount of one expense category.
// Amounts stay negative for ordinary expenses.
type CategoryTotal struct {
	Name          string
	Amount        decimal.Decimal
	Subcategories []SubcategoryTotal
}

// Report is the aggregated view of the ledger over [Start, End].
type Report struct {
	Start      time.Time
	End        time.Time
	Income     decimal.Decimal
	Categories []CategoryTotal
	Balance    decimal.Decimal
	Skipped    int
}

// LimitExceeded describes a limit breach caused by a proposed expense.
type LimitExceeded struct {
	Category string
	Limit    decimal.Decimal
	Spent    decimal.Decimal // month-to-date including the proposed amount
}
