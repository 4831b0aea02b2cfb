package conversation

import (
	"context"
	"time"

	"hroshi/internal/core"
	"hroshi/internal/log"
)

func (d *Dispatcher) handleCapture(ctx context.Context, ev Event) (Reply, string) {
	cur, ok, err := d.sessions.Captures.Get(ctx, ev.UserID)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to read capture state", log.FieldUserID, ev.UserID, log.FieldError, err)
		return d.text(KeyStorageFailure), "state_error"
	}
	if !ok {
		return d.handleIdle(ctx, ev)
	}

	switch cur.Step {
	case StepAwaitingCategory:
		return d.handleCategory(ctx, ev, cur)
	case StepAwaitingSubcategory:
		return d.commit(ctx, ev, cur, ev.Text)
	case StepAwaitingIncomeAmount:
		amount, err := core.ParseAmount(ev.Text)
		if err != nil {
			return d.text(KeyReaskIncomeAmount), "reask_income"
		}
		cur.Amount = amount
		cur.Category = d.taxonomy.Income()
		return d.commit(ctx, ev, cur, "")
	default:
		d.logger.WarnContext(ctx, "Dropping capture in unknown step", log.FieldUserID, ev.UserID, log.FieldStep, string(cur.Step))
		_ = d.sessions.Captures.Delete(ctx, ev.UserID)
		return d.handleIdle(ctx, ev)
	}
}

func (d *Dispatcher) handleIdle(ctx context.Context, ev Event) (Reply, string) {
	amount, err := core.ParseAmount(ev.Text)
	if err != nil {
		return d.text(KeyHelp), "help"
	}
	next := Capture{Step: StepAwaitingCategory, Amount: amount}
	if err := d.sessions.Captures.Set(ctx, ev.UserID, next); err != nil {
		d.logger.ErrorContext(ctx, "Failed to store capture state", log.FieldUserID, ev.UserID, log.FieldError, err)
		return d.text(KeyStorageFailure), "state_error"
	}
	return Reply{
		Text:             d.render(KeyAskCategory, View{}),
		SuggestedReplies: d.taxonomy.Categories(),
	}, "ask_category"
}

func (d *Dispatcher) handleCategory(ctx context.Context, ev Event, cur Capture) (Reply, string) {
	category := core.NormalizeCategory(ev.Text)
	if !d.taxonomy.IsKnown(category) {
		return Reply{
			Text:             d.render(KeyReaskCategory, View{}),
			SuggestedReplies: d.taxonomy.Categories(),
		}, "reask_category"
	}

	subs := d.taxonomy.SubcategoriesOf(category)
	if len(subs) == 0 {
		cur.Category = category
		return d.commit(ctx, ev, cur, "")
	}

	next := Capture{Step: StepAwaitingSubcategory, Amount: cur.Amount, Category: category}
	if err := d.sessions.Captures.Set(ctx, ev.UserID, next); err != nil {
		d.logger.ErrorContext(ctx, "Failed to store capture state", log.FieldUserID, ev.UserID, log.FieldError, err)
		return d.text(KeyStorageFailure), "state_error"
	}
	return Reply{
		Text:             d.render(KeyAskSubcategory, View{Category: category}),
		SuggestedReplies: subs,
	}, "ask_subcategory"
}

// commit appends the captured entry. The capture is cleared only after the
// ledger accepted the row so that a failed append can be retried.
func (d *Dispatcher) commit(ctx context.Context, ev Event, cur Capture, subcategory string) (Reply, string) {
	category := cur.Category
	income := d.taxonomy.IsIncome(category)

	var exceeded *core.LimitExceeded
	if !income {
		var err error
		exceeded, err = d.limits.Check(ctx, category, cur.Amount)
		if err != nil {
			return d.retry(d.storageFailure(ctx, log.OpLimits, err, ev), cur), "storage_failure"
		}
	}

	signed := cur.Amount
	if !income {
		signed = signed.Neg()
	}
	rec := core.LedgerRecord{
		Timestamp:    d.now().In(d.loc).Truncate(time.Minute),
		UserName:     ev.DisplayName,
		SignedAmount: signed,
		Category:     category,
		Subcategory:  subcategory,
	}
	ref, err := d.ledger.Append(ctx, rec)
	if err != nil {
		err = core.NewStorageError(log.OpAppend, err)
		return d.retry(d.storageFailure(ctx, log.OpAppend, err, ev), cur), "storage_failure"
	}

	fields := log.NewFields().
		WithUser(ev.UserID, ev.DisplayName).
		WithEntry(signed.String(), category, subcategory)
	fields[log.FieldRowRef] = ref
	d.logger.InfoContext(ctx, "Entry recorded", fields.ToSlice()...)

	if err := d.sessions.Captures.Delete(ctx, ev.UserID); err != nil {
		d.logger.WarnContext(ctx, "Failed to clear capture state", log.FieldUserID, ev.UserID, log.FieldError, err)
	}
	if income {
		if err := d.sessions.LastIncome.Set(ctx, ev.UserID, rec.Timestamp); err != nil {
			d.logger.WarnContext(ctx, "Failed to remember last income", log.FieldUserID, ev.UserID, log.FieldError, err)
		}
	}

	closing := KeyClosingOK
	if exceeded != nil {
		closing = KeyClosingOverLimit
	}
	text := d.render(KeyRecorded, View{
		Amount:      formatAbs(cur.Amount),
		Category:    category,
		Subcategory: subcategory,
		Closing:     d.render(closing, View{}),
	})
	if exceeded != nil {
		warning := d.render(KeyLimitExceeded, View{
			Category: exceeded.Category,
			Limit:    core.FormatAmount(exceeded.Limit),
			Spent:    core.FormatAmount(exceeded.Spent),
		})
		text = warning + "\n" + text
	}
	return Reply{Text: text, ClearSuggestions: true}, "recorded"
}

// retry re-offers the buttons of the step the user is still in.
func (d *Dispatcher) retry(r Reply, cur Capture) Reply {
	switch cur.Step {
	case StepAwaitingCategory:
		r.SuggestedReplies = d.taxonomy.Categories()
	case StepAwaitingSubcategory:
		r.SuggestedReplies = d.taxonomy.SubcategoriesOf(cur.Category)
	}
	return r
}
