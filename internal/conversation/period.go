package conversation

import (
	"context"
	"strings"
	"time"

	"hroshi/internal/core"
	"hroshi/internal/log"
)

func (d *Dispatcher) periodOptions() []string {
	return []string{
		d.render(KeyPeriodMonth, View{}),
		d.render(KeyPeriodSinceIncome, View{}),
		d.render(KeyPeriodSincePrefix, View{}) + d.today().Format(core.DateLayout),
	}
}

// handlePeriod answers the message that follows /report. The selection is
// consumed whatever the outcome; a bad answer needs a fresh /report.
func (d *Dispatcher) handlePeriod(ctx context.Context, ev Event) (Reply, string) {
	if err := d.sessions.Periods.Delete(ctx, ev.UserID); err != nil {
		d.logger.WarnContext(ctx, "Failed to clear period state", log.FieldUserID, ev.UserID, log.FieldError, err)
	}

	now := d.today()
	text := strings.ToLower(strings.Join(strings.Fields(ev.Text), " "))
	prefix := strings.ToLower(d.render(KeyPeriodSincePrefix, View{}))

	var start time.Time
	switch {
	case text == strings.ToLower(d.render(KeyPeriodMonth, View{})):
		start = core.StartOfMonth(now)
	case text == strings.ToLower(d.render(KeyPeriodSinceIncome, View{})):
		last, ok, err := d.sessions.LastIncome.Get(ctx, ev.UserID)
		if err != nil {
			d.logger.ErrorContext(ctx, "Failed to read last income", log.FieldUserID, ev.UserID, log.FieldError, err)
		}
		if err != nil || !ok {
			return Reply{Text: d.render(KeyNoLastIncome, View{}), ClearSuggestions: true}, "no_last_income"
		}
		start = last.In(d.loc)
	case strings.HasPrefix(text, prefix):
		day, err := time.ParseInLocation(core.DateLayout, strings.TrimSpace(strings.TrimPrefix(text, prefix)), d.loc)
		if err != nil {
			return Reply{
				Text:             d.render(KeyBadPeriodDate, View{Today: now.Format(core.DateLayout)}),
				ClearSuggestions: true,
			}, "bad_period_date"
		}
		start = day
	default:
		return Reply{Text: d.render(KeyInvalidPeriod, View{}), ClearSuggestions: true}, "invalid_period"
	}

	report, err := d.reports.Build(ctx, start, now)
	if err != nil {
		r := d.storageFailure(ctx, log.OpReport, err, ev)
		r.ClearSuggestions = true
		return r, "storage_failure"
	}
	return Reply{
		Text:             d.render(KeyReport, View{Report: reportView(report)}),
		ClearSuggestions: true,
	}, "report"
}

func reportView(r core.Report) *ReportView {
	v := &ReportView{
		Start:   r.Start.Format(core.DateLayout),
		End:     r.End.Format(core.DateLayout),
		Income:  core.FormatAmount(r.Income),
		Balance: core.FormatAmount(r.Balance),
	}
	for _, c := range r.Categories {
		cv := CategoryView{Name: c.Name, Amount: formatAbs(c.Amount)}
		for _, s := range c.Subcategories {
			if s.Name == "" {
				continue
			}
			cv.Subcategories = append(cv.Subcategories, SubcategoryView{Name: s.Name, Amount: formatAbs(s.Amount)})
		}
		v.Categories = append(v.Categories, cv)
	}
	return v
}
