package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"hroshi/internal/core"
	"hroshi/internal/sheets"
)

// LimitChecker compares month-to-date spending against the limits table.
type LimitChecker struct {
	ledger sheets.LedgerScanner
	limits sheets.LimitStore
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

// LimitStatus is one configured limit with its current usage.
type LimitStatus struct {
	Category string
	Limit    decimal.Decimal
	Spent    decimal.Decimal
}

func NewLimitChecker(ledger sheets.LedgerScanner, limits sheets.LimitStore, loc *time.Location, now func() time.Time, logger *slog.Logger) *LimitChecker {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LimitChecker{ledger: ledger, limits: limits, loc: loc, now: now, logger: logger}
}

// SpentThisMonth sums the absolute value of negative rows of category from
// the first of the current month up to now. Unparseable rows are skipped.
func (c *LimitChecker) SpentThisMonth(ctx context.Context, category string) (decimal.Decimal, error) {
	rows, err := c.ledger.ScanAll(ctx)
	if err != nil {
		return decimal.Zero, core.NewStorageError("scan", err)
	}
	spent := c.spentByCategory(ctx, rows)
	return spent[core.NormalizeCategory(category)], nil
}

// Check reports a breach when a limit exists for category and month-to-date
// spending plus proposed is strictly greater than it. It returns nil when
// the limit holds or none is configured.
func (c *LimitChecker) Check(ctx context.Context, category string, proposed decimal.Decimal) (*core.LimitExceeded, error) {
	raw, err := c.limits.ReadLimits(ctx)
	if err != nil {
		return nil, core.NewStorageError("read limits", err)
	}
	category = core.NormalizeCategory(category)
	limit, ok := core.ParseLimits(raw)[category]
	if !ok {
		return nil, nil
	}
	spent, err := c.SpentThisMonth(ctx, category)
	if err != nil {
		return nil, err
	}
	total := spent.Add(proposed.Abs())
	if !total.GreaterThan(limit) {
		return nil, nil
	}
	c.logger.InfoContext(ctx, "Category limit exceeded",
		"category", category,
		"limit", limit.String(),
		"spent", total.String())
	return &core.LimitExceeded{Category: category, Limit: limit, Spent: total}, nil
}

// Statuses lists every configured limit with month-to-date spending, in
// limits table order.
func (c *LimitChecker) Statuses(ctx context.Context) ([]LimitStatus, error) {
	raw, err := c.limits.ReadLimits(ctx)
	if err != nil {
		return nil, core.NewStorageError("read limits", err)
	}
	limits := core.ParseLimits(raw)
	if len(limits) == 0 {
		return nil, nil
	}
	rows, err := c.ledger.ScanAll(ctx)
	if err != nil {
		return nil, core.NewStorageError("scan", err)
	}
	spent := c.spentByCategory(ctx, rows)

	out := make([]LimitStatus, 0, len(limits))
	seen := make(map[string]bool, len(limits))
	for _, r := range raw {
		cat := core.NormalizeCategory(r.Category)
		limit, ok := limits[cat]
		if !ok || seen[cat] {
			continue
		}
		seen[cat] = true
		out = append(out, LimitStatus{Category: cat, Limit: limit, Spent: spent[cat]})
	}
	return out, nil
}

func (c *LimitChecker) spentByCategory(ctx context.Context, rows []core.RawRow) map[string]decimal.Decimal {
	now := c.now().In(c.loc)
	start := core.StartOfMonth(now)
	out := make(map[string]decimal.Decimal)
	skipped := 0
	for _, raw := range rows {
		rec, err := core.ParseRow(raw, c.loc)
		if err != nil {
			skipped++
			continue
		}
		if !rec.SignedAmount.IsNegative() || !core.Within(rec.Timestamp, start, now) {
			continue
		}
		cat := core.NormalizeCategory(rec.Category)
		out[cat] = out[cat].Add(rec.SignedAmount.Abs())
	}
	if skipped > 0 {
		c.logger.DebugContext(ctx, "Skipped malformed ledger rows", "count", skipped)
	}
	return out
}
