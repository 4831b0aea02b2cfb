package conversation

import (
	"context"
	"strings"

	"hroshi/internal/core"
	"hroshi/internal/log"
)

func (d *Dispatcher) handleCommand(ctx context.Context, ev Event, cmd, args string) (Reply, string) {
	d.logger.DebugContext(ctx, "Command received", log.FieldUserID, ev.UserID, log.FieldCommand, cmd)

	switch cmd {
	case "start":
		return d.text(KeyGreeting), "greeting"
	case "help":
		return d.text(KeyHelp), "help"
	case "ping":
		return d.text(KeyPong), "pong"
	case "report":
		return d.startReport(ctx, ev)
	case "salary", "income":
		return d.startIncome(ctx, ev)
	case "setlimit":
		return d.setLimit(ctx, ev, args)
	case "limits":
		return d.listLimits(ctx, ev)
	case "cancel":
		return d.cancel(ctx, ev)
	default:
		return d.text(KeyHelp), "unknown_command"
	}
}

func (d *Dispatcher) startReport(ctx context.Context, ev Event) (Reply, string) {
	if err := d.sessions.Periods.Set(ctx, ev.UserID, PeriodRequest{RequestedAt: d.now()}); err != nil {
		d.logger.ErrorContext(ctx, "Failed to store period state", log.FieldUserID, ev.UserID, log.FieldError, err)
		return d.text(KeyStorageFailure), "state_error"
	}
	return Reply{
		Text:             d.render(KeyAskPeriod, View{}),
		SuggestedReplies: d.periodOptions(),
	}, "ask_period"
}

// startIncome replaces any capture in progress with an income capture.
func (d *Dispatcher) startIncome(ctx context.Context, ev Event) (Reply, string) {
	if err := d.sessions.Periods.Delete(ctx, ev.UserID); err != nil {
		d.logger.WarnContext(ctx, "Failed to clear period state", log.FieldUserID, ev.UserID, log.FieldError, err)
	}
	if err := d.sessions.Captures.Set(ctx, ev.UserID, Capture{Step: StepAwaitingIncomeAmount}); err != nil {
		d.logger.ErrorContext(ctx, "Failed to store capture state", log.FieldUserID, ev.UserID, log.FieldError, err)
		return d.text(KeyStorageFailure), "state_error"
	}
	return Reply{Text: d.render(KeyAskIncomeAmount, View{}), ClearSuggestions: true}, "ask_income_amount"
}

// setLimit handles "/setlimit <category> <amount>". The category may contain
// spaces; the last token is the amount.
func (d *Dispatcher) setLimit(ctx context.Context, ev Event, args string) (Reply, string) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return d.text(KeyLimitUsage), "limit_usage"
	}
	amount, err := core.ParseAmount(fields[len(fields)-1])
	if err != nil {
		return d.text(KeyLimitUsage), "limit_usage"
	}
	category := core.NormalizeCategory(strings.Join(fields[:len(fields)-1], " "))
	if !d.taxonomy.IsKnown(category) {
		return Reply{Text: d.render(KeyLimitUnknownCategory, View{
			Category:   category,
			Categories: joinCategories(d.expenseCategories()),
		})}, "limit_unknown_category"
	}
	if d.taxonomy.IsIncome(category) {
		return d.text(KeyLimitIncomeCategory), "limit_income_category"
	}

	if err := d.ledger.UpsertLimit(ctx, category, amount); err != nil {
		return d.storageFailure(ctx, log.OpUpsert, core.NewStorageError(log.OpUpsert, err), ev), "storage_failure"
	}
	d.logger.InfoContext(ctx, "Limit set",
		log.FieldUserID, ev.UserID,
		log.FieldCategory, category,
		"limit", amount.String())
	return Reply{Text: d.render(KeyLimitSet, View{
		Category: category,
		Limit:    core.FormatAmount(amount),
	})}, "limit_set"
}

func (d *Dispatcher) listLimits(ctx context.Context, ev Event) (Reply, string) {
	statuses, err := d.limits.Statuses(ctx)
	if err != nil {
		return d.storageFailure(ctx, log.OpLimits, err, ev), "storage_failure"
	}
	if len(statuses) == 0 {
		return d.text(KeyNoLimits), "no_limits"
	}
	views := make([]LimitView, 0, len(statuses))
	for _, s := range statuses {
		views = append(views, LimitView{
			Category: s.Category,
			Spent:    core.FormatAmount(s.Spent),
			Limit:    core.FormatAmount(s.Limit),
			Over:     s.Spent.GreaterThan(s.Limit),
		})
	}
	return Reply{Text: d.render(KeyLimits, View{Limits: views})}, "limits"
}

func (d *Dispatcher) cancel(ctx context.Context, ev Event) (Reply, string) {
	if err := d.sessions.Captures.Delete(ctx, ev.UserID); err != nil {
		d.logger.WarnContext(ctx, "Failed to clear capture state", log.FieldUserID, ev.UserID, log.FieldError, err)
	}
	if err := d.sessions.Periods.Delete(ctx, ev.UserID); err != nil {
		d.logger.WarnContext(ctx, "Failed to clear period state", log.FieldUserID, ev.UserID, log.FieldError, err)
	}
	return Reply{Text: d.render(KeyCancelled, View{}), ClearSuggestions: true}, "cancelled"
}

func (d *Dispatcher) expenseCategories() []string {
	all := d.taxonomy.Categories()
	out := make([]string, 0, len(all))
	for _, c := range all {
		if !d.taxonomy.IsIncome(c) {
			out = append(out, c)
		}
	}
	return out
}
