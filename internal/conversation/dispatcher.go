// Package conversation turns inbound chat messages into ledger operations
// and reply text. It is transport agnostic: the Telegram adapter feeds it
// Events and sends back the Replies it returns.
package conversation

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"hroshi/internal/cache"
	"hroshi/internal/core"
	"hroshi/internal/log"
	"hroshi/internal/services"
	"hroshi/internal/sheets"
	"hroshi/internal/state"
)

// Event is one inbound text message.
type Event struct {
	UserID      int64
	DisplayName string
	Text        string
}

// Reply is what the transport should send back. SuggestedReplies are shown
// as one-tap buttons; ClearSuggestions removes any buttons still on screen.
type Reply struct {
	Text             string
	SuggestedReplies []string
	ClearSuggestions bool
}

// Step is the position of a user inside an entry capture.
type Step string

const (
	StepAwaitingCategory     Step = "awaiting_category"
	StepAwaitingSubcategory  Step = "awaiting_subcategory"
	StepAwaitingIncomeAmount Step = "awaiting_income_amount"
)

// Capture is the in-progress entry of one user. Idle users have none.
type Capture struct {
	Step     Step
	Amount   decimal.Decimal
	Category string
}

// PeriodRequest marks a user whose next message picks a report period.
type PeriodRequest struct {
	RequestedAt time.Time
}

// Sessions groups the per-user state namespaces.
type Sessions struct {
	Captures   state.Store[Capture]
	Periods    state.Store[PeriodRequest]
	LastIncome state.Store[time.Time]
}

// NewMemorySessions builds in-process sessions. The returned cleaners should
// be registered with a cache.Manager. incomeTTL of zero keeps the last
// income date until evicted by size.
func NewMemorySessions(maxUsers int, ttl, incomeTTL time.Duration) (Sessions, []cache.Cleaner) {
	captures := state.NewMemory[Capture](maxUsers, ttl)
	periods := state.NewMemory[PeriodRequest](maxUsers, ttl)
	income := state.NewMemory[time.Time](maxUsers, incomeTTL)
	return Sessions{Captures: captures, Periods: periods, LastIncome: income},
		[]cache.Cleaner{captures, periods, income}
}

// Deps are the collaborators of a Dispatcher. Limits and Reports are built
// from Ledger when nil.
type Deps struct {
	Taxonomy *core.Taxonomy
	Ledger   sheets.Ledger
	Limits   *services.LimitChecker
	Reports  *services.ReportAggregator
	Sessions Sessions
	Messages *Messages
	Location *time.Location
	Now      func() time.Time
	Logger   *log.Logger
}

// Dispatcher routes events to commands, period selection and entry capture.
// Events are handled one at a time.
type Dispatcher struct {
	mu       sync.Mutex
	taxonomy *core.Taxonomy
	ledger   sheets.Ledger
	limits   *services.LimitChecker
	reports  *services.ReportAggregator
	sessions Sessions
	msgs     *Messages
	loc      *time.Location
	now      func() time.Time
	logger   *log.Logger
}

func NewDispatcher(d Deps) (*Dispatcher, error) {
	if d.Ledger == nil {
		return nil, errors.New("conversation: ledger is required")
	}
	if d.Sessions.Captures == nil || d.Sessions.Periods == nil || d.Sessions.LastIncome == nil {
		return nil, errors.New("conversation: sessions are required")
	}
	if d.Taxonomy == nil {
		d.Taxonomy = core.DefaultTaxonomy()
	}
	if d.Messages == nil {
		d.Messages = DefaultMessages("грн")
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = log.Discard()
	}
	logger := d.Logger.WithComponent(log.ComponentConversation)
	if d.Limits == nil {
		d.Limits = services.NewLimitChecker(d.Ledger, d.Ledger, d.Location, d.Now, logger.Logger)
	}
	if d.Reports == nil {
		d.Reports = services.NewReportAggregator(d.Ledger, d.Taxonomy, d.Location, logger.Logger)
	}
	return &Dispatcher{
		taxonomy: d.Taxonomy,
		ledger:   d.Ledger,
		limits:   d.Limits,
		reports:  d.Reports,
		sessions: d.Sessions,
		msgs:     d.Messages,
		loc:      d.Location,
		now:      d.Now,
		logger:   logger,
	}, nil
}

// Handle processes one event and returns the reply. Errors never escape;
// they are logged and turned into user-facing text.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) Reply {
	d.mu.Lock()
	defer d.mu.Unlock()

	ev.Text = strings.TrimSpace(ev.Text)
	ev.DisplayName = strings.TrimSpace(ev.DisplayName)
	if ev.DisplayName == "" {
		ev.DisplayName = "user " + strconv.FormatInt(ev.UserID, 10)
	}

	start := time.Now()
	reply, outcome := d.route(ctx, ev)
	d.logger.InfoContext(ctx, "Message handled",
		log.FieldUserID, ev.UserID,
		log.FieldOutcome, outcome,
		log.FieldDuration, time.Since(start).Milliseconds())
	return reply
}

func (d *Dispatcher) route(ctx context.Context, ev Event) (Reply, string) {
	if cmd, args, ok := parseCommand(ev.Text); ok {
		return d.handleCommand(ctx, ev, cmd, args)
	}

	if _, pending, err := d.sessions.Periods.Get(ctx, ev.UserID); err != nil {
		d.logger.ErrorContext(ctx, "Failed to read period state", log.FieldUserID, ev.UserID, log.FieldError, err)
	} else if pending {
		return d.handlePeriod(ctx, ev)
	}

	return d.handleCapture(ctx, ev)
}

// render never fails for templates accepted by NewMessages, but a broken
// override must not leave the user without a reply.
func (d *Dispatcher) render(key Key, v View) string {
	text, err := d.msgs.Render(key, v)
	if err != nil {
		d.logger.Error("Failed to render message", "key", string(key), log.FieldError, err)
		return string(key)
	}
	return text
}

func (d *Dispatcher) text(key Key) Reply {
	return Reply{Text: d.render(key, View{})}
}

func (d *Dispatcher) storageFailure(ctx context.Context, op string, err error, ev Event) Reply {
	fields := log.NewFields().WithUser(ev.UserID, ev.DisplayName).WithOperation(op).WithError(err)
	d.logger.ErrorContext(ctx, "Ledger operation failed", fields.ToSlice()...)
	return d.text(KeyStorageFailure)
}

func (d *Dispatcher) today() time.Time {
	return d.now().In(d.loc)
}

func formatAbs(v decimal.Decimal) string {
	return core.FormatAmount(v.Abs())
}

func parseCommand(text string) (cmd string, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text, " ")
	head = strings.TrimPrefix(head, "/")
	if i := strings.IndexByte(head, '@'); i >= 0 {
		head = head[:i]
	}
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

func joinCategories(names []string) string {
	return strings.Join(names, ", ")
}
