package services

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"hroshi/internal/core"
	"hroshi/internal/sheets"
)

// ReportAggregator turns ledger rows into period reports.
type ReportAggregator struct {
	ledger   sheets.LedgerScanner
	taxonomy *core.Taxonomy
	loc      *time.Location
	logger   *slog.Logger
}

func NewReportAggregator(ledger sheets.LedgerScanner, taxonomy *core.Taxonomy, loc *time.Location, logger *slog.Logger) *ReportAggregator {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportAggregator{ledger: ledger, taxonomy: taxonomy, loc: loc, logger: logger}
}

// Build scans the ledger and aggregates rows with timestamps in the
// inclusive range [start, end].
func (a *ReportAggregator) Build(ctx context.Context, start, end time.Time) (core.Report, error) {
	rows, err := a.ledger.ScanAll(ctx)
	if err != nil {
		return core.Report{}, core.NewStorageError("scan", err)
	}
	report := Aggregate(rows, start, end, a.loc, a.taxonomy.IsIncome)
	a.logger.InfoContext(ctx, "Report built",
		"start", start.Format(core.TimestampLayout),
		"end", end.Format(core.TimestampLayout),
		"rows", len(rows),
		"skipped", report.Skipped,
		"categories", len(report.Categories))
	return report, nil
}

// Aggregate splits rows into income and per-category expense totals.
// Categories are ordered by absolute total, largest first; ties keep the
// order in which categories were first seen.
func Aggregate(rows []core.RawRow, start, end time.Time, loc *time.Location, isIncome func(string) bool) core.Report {
	report := core.Report{Start: start, End: end}

	type bucket struct {
		total    decimal.Decimal
		subOrder []string
		subs     map[string]decimal.Decimal
	}
	buckets := map[string]*bucket{}
	var order []string

	for _, raw := range rows {
		rec, err := core.ParseRow(raw, loc)
		if err != nil {
			report.Skipped++
			continue
		}
		if !core.Within(rec.Timestamp, start, end) {
			continue
		}
		if isIncome(rec.Category) {
			report.Income = report.Income.Add(rec.SignedAmount)
			continue
		}
		b, ok := buckets[rec.Category]
		if !ok {
			b = &bucket{subs: map[string]decimal.Decimal{}}
			buckets[rec.Category] = b
			order = append(order, rec.Category)
		}
		b.total = b.total.Add(rec.SignedAmount)
		if _, seen := b.subs[rec.Subcategory]; !seen {
			b.subOrder = append(b.subOrder, rec.Subcategory)
		}
		b.subs[rec.Subcategory] = b.subs[rec.Subcategory].Add(rec.SignedAmount)
	}

	report.Balance = report.Income
	for _, name := range order {
		b := buckets[name]
		ct := core.CategoryTotal{Name: name, Amount: b.total}
		for _, sub := range b.subOrder {
			ct.Subcategories = append(ct.Subcategories, core.SubcategoryTotal{Name: sub, Amount: b.subs[sub]})
		}
		report.Categories = append(report.Categories, ct)
		report.Balance = report.Balance.Add(b.total)
	}
	sort.SliceStable(report.Categories, func(i, j int) bool {
		return report.Categories[i].Amount.Abs().GreaterThan(report.Categories[j].Amount.Abs())
	})
	return report
}
