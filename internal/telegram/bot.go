// Package telegram connects the conversation dispatcher to the Telegram Bot
// API using long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"hroshi/internal/conversation"
	"hroshi/internal/log"
	"hroshi/internal/middleware/ratelimit"
)

// MaxMessageLength is the Bot API limit for one text message.
const MaxMessageLength = 4096

// Handler turns one inbound message into a reply.
type Handler interface {
	Handle(ctx context.Context, ev conversation.Event) conversation.Reply
}

// Sender is the subset of tgbotapi.BotAPI used to answer users.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Config struct {
	Token       string
	Debug       bool
	PollTimeout time.Duration
	RateLimit   ratelimit.Config
}

// Bot polls updates and answers them through a Handler.
type Bot struct {
	api     *tgbotapi.BotAPI
	sender  Sender
	handler Handler
	limiter *ratelimit.Limiter
	timeout time.Duration
	logger  *log.Logger
	ready   atomic.Bool
}

// New authenticates against the Bot API.
func New(cfg Config, handler Handler, logger *log.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: token is required")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: authorize: %w", err)
	}
	api.Debug = cfg.Debug

	b := newBot(api, handler, cfg, logger)
	b.api = api
	_ = tgbotapi.SetLogger(botLogger{b.logger})
	b.logger.Info("Authorized on Telegram", "bot", api.Self.UserName)
	return b, nil
}

func newBot(sender Sender, handler Handler, cfg Config, logger *log.Logger) *Bot {
	if logger == nil {
		logger = log.Discard()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 60 * time.Second
	}
	return &Bot{
		sender:  sender,
		handler: handler,
		limiter: ratelimit.NewLimiter(cfg.RateLimit),
		timeout: cfg.PollTimeout,
		logger:  logger.WithComponent(log.ComponentBot),
	}
}

// Ready reports whether the polling loop has started.
func (b *Bot) Ready() bool {
	return b.ready.Load()
}

// Run polls until ctx is cancelled. Updates are handled one at a time.
func (b *Bot) Run(ctx context.Context) error {
	if b.api == nil {
		return errors.New("telegram: bot is not connected")
	}
	defer func() {
		b.limiter.Stop()
		m := b.limiter.GetMetrics()
		b.logger.Info("Rate limiter stopped", "limited_total", m.TotalHits, "clients", m.ClientCount)
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(b.timeout / time.Second)
	updates := b.api.GetUpdatesChan(u)
	b.ready.Store(true)
	defer b.ready.Store(false)
	b.logger.Info("Polling for updates", "timeout_s", u.Timeout)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("Stopped polling")
			return nil
		case update, ok := <-updates:
			if !ok {
				return errors.New("telegram: updates channel closed")
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate answers a single update. Non-text updates are ignored.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || msg.Text == "" {
		return
	}

	ctx, _ = log.WithTraceID(ctx)
	userID := msg.From.ID
	if !b.limiter.Allow(userID) {
		b.logger.WarnContext(ctx, "Dropping message over rate limit", log.FieldUserID, userID)
		return
	}

	reply := b.handler.Handle(ctx, conversation.Event{
		UserID:      userID,
		DisplayName: DisplayName(msg.From),
		Text:        msg.Text,
	})

	for _, out := range BuildMessages(msg.Chat.ID, reply) {
		if _, err := b.sender.Send(out); err != nil {
			b.logger.ErrorContext(ctx, "Failed to send reply",
				log.FieldUserID, userID,
				log.FieldError, err)
			return
		}
	}
	b.logger.DebugContext(ctx, "Reply sent", log.FieldUserID, userID)
}

// DisplayName is the name written into the ledger: first and last name when
// set, the username otherwise.
func DisplayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		name = u.UserName
	}
	return name
}

// BuildMessages renders a reply as one or more messages. Long texts are
// split; the keyboard goes with the last chunk.
func BuildMessages(chatID int64, r conversation.Reply) []tgbotapi.MessageConfig {
	chunks := SplitText(r.Text, MaxMessageLength)
	out := make([]tgbotapi.MessageConfig, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, tgbotapi.NewMessage(chatID, c))
	}

	last := &out[len(out)-1]
	switch {
	case len(r.SuggestedReplies) > 0:
		rows := make([][]tgbotapi.KeyboardButton, 0, len(r.SuggestedReplies))
		for _, s := range r.SuggestedReplies {
			rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(s)))
		}
		kb := tgbotapi.NewReplyKeyboard(rows...)
		kb.OneTimeKeyboard = true
		kb.ResizeKeyboard = true
		last.ReplyMarkup = kb
	case r.ClearSuggestions:
		last.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	}
	return out
}

// SplitText cuts text into chunks of at most limit runes, preferring line
// breaks. It always returns at least one chunk.
func SplitText(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var out []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

// botLogger routes the library's own logging into slog.
type botLogger struct {
	logger *log.Logger
}

func (l botLogger) Println(v ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l botLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}
