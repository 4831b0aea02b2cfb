package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hroshi/internal/core"
	"hroshi/internal/sheets/memory"
)

var testNow = time.Date(2025, 4, 17, 15, 30, 0, 0, time.UTC)

// flakyLedger fails appends while appendErr is set.
type flakyLedger struct {
	*memory.Store
	appendErr error
}

func (f *flakyLedger) Append(ctx context.Context, r core.LedgerRecord) (string, error) {
	if f.appendErr != nil {
		return "", f.appendErr
	}
	return f.Store.Append(ctx, r)
}

type fixture struct {
	d      *Dispatcher
	store  *memory.Store
	ledger *flakyLedger
}

func newFixture(t *testing.T, rows ...core.RawRow) *fixture {
	t.Helper()
	store := memory.New()
	for _, r := range rows {
		store.AppendRaw(r)
	}
	ledger := &flakyLedger{Store: store}
	sessions, _ := NewMemorySessions(100, time.Hour, 0)
	d, err := NewDispatcher(Deps{
		Ledger:   ledger,
		Sessions: sessions,
		Location: time.UTC,
		Now:      func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return &fixture{d: d, store: store, ledger: ledger}
}

func (f *fixture) send(userID int64, text string) Reply {
	return f.d.Handle(context.Background(), Event{UserID: userID, DisplayName: "Оля", Text: text})
}

func (f *fixture) rows(t *testing.T) []core.RawRow {
	t.Helper()
	rows, err := f.store.ScanAll(context.Background())
	require.NoError(t, err)
	return rows
}

func TestNewDispatcherRequiresCollaborators(t *testing.T) {
	_, err := NewDispatcher(Deps{})
	require.Error(t, err)

	_, err = NewDispatcher(Deps{Ledger: memory.New()})
	require.Error(t, err)
}

func TestCaptureWithoutSubcategory(t *testing.T) {
	f := newFixture(t)

	r := f.send(1, "250")
	assert.Equal(t, "Окей, тепер обери категорію:", r.Text)
	assert.Equal(t, core.DefaultTaxonomy().Categories(), r.SuggestedReplies)
	assert.False(t, r.ClearSuggestions)

	r = f.send(1, "Продукти")
	assert.Equal(t, "💸 Зафіксував 250.00 грн у продукти. 💪 Гарна робота!", r.Text)
	assert.True(t, r.ClearSuggestions)

	rows := f.rows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, core.RawRow{
		Timestamp: "2025-04-17 15:30",
		UserName:  "Оля",
		Amount:    "-250",
		Category:  "продукти",
	}, rows[0])

	r = f.send(1, "продукти")
	assert.Contains(t, r.Text, "🧠", "capture must be cleared after commit")
}

func TestCaptureWithSubcategory(t *testing.T) {
	f := newFixture(t)

	f.send(1, "100.5")
	r := f.send(1, " Авто ")
	assert.Equal(t, "'авто' має підкатегорії. Обери:", r.Text)
	assert.Equal(t, core.DefaultTaxonomy().SubcategoriesOf("авто"), r.SuggestedReplies)

	r = f.send(1, "  Мийка біля дому ")
	assert.Equal(t, "💸 Зафіксував 100.50 грн у авто > Мийка біля дому. 💪 Гарна робота!", r.Text)

	rows := f.rows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "-100.5", rows[0].Amount)
	assert.Equal(t, "авто", rows[0].Category)
	assert.Equal(t, "Мийка біля дому", rows[0].Subcategory)
}

func TestCategoryWithSubcategoriesDoesNotCommit(t *testing.T) {
	tax := core.DefaultTaxonomy()
	var withSubs []string
	for _, c := range tax.Categories() {
		if len(tax.SubcategoriesOf(c)) > 0 && !tax.IsIncome(c) {
			withSubs = append(withSubs, c)
		}
	}
	require.NotEmpty(t, withSubs)

	for _, category := range withSubs {
		t.Run(category, func(t *testing.T) {
			f := newFixture(t)
			subs := tax.SubcategoriesOf(category)

			f.send(1, "75")
			r := f.send(1, category)
			assert.Equal(t, fmt.Sprintf("'%s' має підкатегорії. Обери:", category), r.Text)
			assert.Equal(t, subs, r.SuggestedReplies)
			assert.Empty(t, f.rows(t))

			f.send(1, subs[0])
			rows := f.rows(t)
			require.Len(t, rows, 1)
			assert.Equal(t, category, rows[0].Category)
			assert.Equal(t, subs[0], rows[0].Subcategory)
		})
	}
}

func TestUnknownCategoryKeepsCapture(t *testing.T) {
	f := newFixture(t)

	f.send(1, "40")
	r := f.send(1, "подарунки")
	assert.Equal(t, "Обери категорію:", r.Text)
	assert.NotEmpty(t, r.SuggestedReplies)
	assert.Empty(t, f.rows(t))

	r = f.send(1, "таксі")
	assert.Contains(t, r.Text, "40.00 грн у таксі")
	assert.Len(t, f.rows(t), 1)
}

func TestIdleTextGetsHelp(t *testing.T) {
	f := newFixture(t)

	for _, text := range []string{"привіт", "-5", "1 000", "1.2.3", ""} {
		r := f.send(1, text)
		assert.Equal(t, "🧠 Напиши суму або використай команду: /report, /salary, /setlimit, /limits, /cancel", r.Text, text)
		assert.Empty(t, r.SuggestedReplies)
	}
	assert.Empty(t, f.rows(t))
}

func TestDisplayNameFallback(t *testing.T) {
	f := newFixture(t)

	f.d.Handle(context.Background(), Event{UserID: 42, Text: "10"})
	f.d.Handle(context.Background(), Event{UserID: 42, Text: "кіно"})

	rows := f.rows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "user 42", rows[0].UserName)
}

func TestLimitBoundaryIsStrict(t *testing.T) {
	f := newFixture(t, core.RawRow{Timestamp: "2025-04-05 10:00", UserName: "Оля", Amount: "-900", Category: "продукти"})
	require.NoError(t, f.store.UpsertLimit(context.Background(), "продукти", mustDecimal(t, "1000")))

	f.send(1, "100")
	r := f.send(1, "продукти")
	assert.Equal(t, "💸 Зафіксував 100.00 грн у продукти. 💪 Гарна робота!", r.Text)

	f.send(1, "0.01")
	r = f.send(1, "продукти")
	assert.Equal(t,
		"⚠️ Перевищено ліміт 1000.00 грн у категорії 'продукти' (вже витрачено: 1000.01 грн)\n"+
			"💸 Зафіксував 0.01 грн у продукти. 😬 Будь уважним(-ою) з витратами!",
		r.Text)
	assert.Len(t, f.rows(t), 3, "a breach warns but still records")
}

func TestLastMonthDoesNotCountTowardsLimit(t *testing.T) {
	f := newFixture(t, core.RawRow{Timestamp: "2025-03-31 23:59", UserName: "Оля", Amount: "-5000", Category: "кіно"})
	require.NoError(t, f.store.UpsertLimit(context.Background(), "кіно", mustDecimal(t, "100")))

	f.send(1, "100")
	r := f.send(1, "кіно")
	assert.NotContains(t, r.Text, "⚠️")
}

func TestIncomeIsNeverLimitChecked(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.UpsertLimit(context.Background(), "прихід", mustDecimal(t, "1")))

	f.send(1, "5000")
	r := f.send(1, "прихід")
	assert.Equal(t, "💸 Зафіксував 5000.00 грн у прихід. 💪 Гарна робота!", r.Text)
	assert.Equal(t, "5000", f.rows(t)[0].Amount)
}

func TestStorageFailureKeepsCapture(t *testing.T) {
	f := newFixture(t)
	f.ledger.appendErr = errors.New("quota exceeded")

	f.send(1, "50")
	f.send(1, "авто")
	r := f.send(1, "заправка")
	assert.Equal(t, "❌ Не вдалося звернутися до таблиці. Спробуй ще раз трохи пізніше, введене не втрачено.", r.Text)
	assert.Equal(t, core.DefaultTaxonomy().SubcategoriesOf("авто"), r.SuggestedReplies)
	assert.Empty(t, f.rows(t))

	f.ledger.appendErr = nil
	r = f.send(1, "заправка")
	assert.Contains(t, r.Text, "50.00 грн у авто > заправка")
	assert.Len(t, f.rows(t), 1)
}

func TestReportMonthToDate(t *testing.T) {
	f := newFixture(t,
		core.RawRow{Timestamp: "2025-03-30 12:00", UserName: "Оля", Amount: "-999", Category: "продукти"},
		core.RawRow{Timestamp: "2025-04-02 08:00", UserName: "Оля", Amount: "-300", Category: "авто", Subcategory: "заправка"},
		core.RawRow{Timestamp: "2025-04-03 08:00", UserName: "Петро", Amount: "-50", Category: "авто", Subcategory: "мийка"},
		core.RawRow{Timestamp: "2025-04-04 08:00", UserName: "Петро", Amount: "-100", Category: "продукти"},
		core.RawRow{Timestamp: "2025-04-05 08:00", UserName: "Петро", Amount: "5000", Category: "прихід"},
		core.RawRow{Timestamp: "вчора", UserName: "Петро", Amount: "-1", Category: "кіно"},
	)

	r := f.send(1, "/report")
	assert.Equal(t, "За який період зробити звіт?", r.Text)
	assert.Equal(t, []string{"з початку місяця", "від ЗП", "від 2025-04-17"}, r.SuggestedReplies)

	r = f.send(1, "З початку місяця")
	assert.Equal(t,
		"📊 Звіт з 2025-04-01 по 2025-04-17\n\n"+
			"💰 Прихід: 5000.00 грн\n\n"+
			"авто: 350.00 грн\n  └ заправка: 300.00 грн\n  └ мийка: 50.00 грн\n\n"+
			"продукти: 100.00 грн\n\n"+
			"📉 Баланс: 4550.00 грн",
		r.Text)
	assert.True(t, r.ClearSuggestions)

	r = f.send(1, "з початку місяця")
	assert.Contains(t, r.Text, "🧠", "period selection is consumed by one answer")
}

func TestReportFromDate(t *testing.T) {
	f := newFixture(t,
		core.RawRow{Timestamp: "2025-04-09 23:59", UserName: "Оля", Amount: "-10", Category: "кіно"},
		core.RawRow{Timestamp: "2025-04-10 00:00", UserName: "Оля", Amount: "-20", Category: "кіно"},
	)

	f.send(1, "/report")
	r := f.send(1, "від 2025-04-10")
	assert.Contains(t, r.Text, "📊 Звіт з 2025-04-10 по 2025-04-17")
	assert.Contains(t, r.Text, "кіно: 20.00 грн")
	assert.Contains(t, r.Text, "📉 Баланс: -20.00 грн")
}

func TestReportBadDate(t *testing.T) {
	f := newFixture(t)

	f.send(1, "/report")
	r := f.send(1, "від 2025-13-01")
	assert.Equal(t, "📅 Формат дати: від 2025-04-17", r.Text)

	r = f.send(1, "100")
	assert.Equal(t, "Окей, тепер обери категорію:", r.Text, "period state must be cleared after a bad date")
}

func TestReportInvalidPeriod(t *testing.T) {
	f := newFixture(t)

	f.send(1, "/report")
	r := f.send(1, "минулий тиждень")
	assert.Equal(t, "🤔 Не зрозумів період. Натисни /report і обери варіант з кнопок.", r.Text)
	assert.True(t, r.ClearSuggestions)

	r = f.send(1, "минулий тиждень")
	assert.Contains(t, r.Text, "🧠")
}

func TestReportSinceIncome(t *testing.T) {
	f := newFixture(t, core.RawRow{Timestamp: "2025-04-01 09:00", UserName: "Оля", Amount: "-70", Category: "кіно"})

	f.send(1, "/report")
	r := f.send(1, "від зп")
	assert.Equal(t, "❌ Дата останньої ЗП невідома. Скористайся /salary", r.Text)

	r = f.send(1, "/salary")
	assert.Equal(t, "💼 Введи суму ЗП (запишемо як прихід):", r.Text)
	assert.True(t, r.ClearSuggestions)

	r = f.send(1, "абв")
	assert.Equal(t, "💼 Потрібна сума числом, наприклад 25000", r.Text)

	r = f.send(1, "20000")
	assert.Equal(t, "💸 Зафіксував 20000.00 грн у прихід. 💪 Гарна робота!", r.Text)

	f.send(1, "/report")
	r = f.send(1, "від ЗП")
	assert.Contains(t, r.Text, "📊 Звіт з 2025-04-17 по 2025-04-17")
	assert.Contains(t, r.Text, "💰 Прихід: 20000.00 грн")
	assert.NotContains(t, r.Text, "кіно")

	f.send(2, "/report")
	r = f.send(2, "від ЗП")
	assert.Contains(t, r.Text, "❌", "last income is per user")
}

func TestSalarySupersedesCapture(t *testing.T) {
	f := newFixture(t)

	f.send(1, "300")
	f.send(1, "/income")
	r := f.send(1, "1500")
	assert.Contains(t, r.Text, "1500.00 грн у прихід")

	rows := f.rows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "1500", rows[0].Amount)
	assert.Equal(t, "прихід", rows[0].Category)
}

func TestSetLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		text string
		want string
	}{
		{"single word", "/setlimit Продукти 500", "✅ Ліміт 500.00 грн встановлено для категорії 'продукти'"},
		{"category with spaces", "/setlimit господарські товари 200.5", "✅ Ліміт 200.50 грн встановлено для категорії 'господарські товари'"},
		{"overwrite", "/setlimit продукти 700", "✅ Ліміт 700.00 грн встановлено для категорії 'продукти'"},
		{"no args", "/setlimit", "⚠️ Формат: /setlimit <категорія> <сума>"},
		{"no amount", "/setlimit продукти", "⚠️ Формат: /setlimit <категорія> <сума>"},
		{"bad amount", "/setlimit продукти багато", "⚠️ Формат: /setlimit <категорія> <сума>"},
		{"income", "/setlimit прихід 10", "⚠️ Ліміт можна встановити лише для витрат."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.send(1, tt.text).Text)
		})
	}

	r := f.send(1, "/setlimit подарунки 10")
	assert.Contains(t, r.Text, "⚠️ Невідома категорія 'подарунки'. Доступні: продукти, господарські товари")
	assert.NotContains(t, r.Text, "прихід")

	limits, err := f.store.ReadLimits(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.RawLimit{
		{Category: "продукти", Limit: "700"},
		{Category: "господарські товари", Limit: "200.5"},
	}, limits)
}

func TestListLimits(t *testing.T) {
	f := newFixture(t, core.RawRow{Timestamp: "2025-04-03 12:00", UserName: "Оля", Amount: "-600", Category: "кіно"})

	r := f.send(1, "/limits")
	assert.Equal(t, "Лімітів ще немає. Встанови: /setlimit <категорія> <сума>", r.Text)

	f.send(1, "/setlimit кіно 500")
	f.send(1, "/setlimit продукти 1000")
	r = f.send(1, "/limits")
	assert.Equal(t,
		"📏 Ліміти на цей місяць:\n"+
			"кіно: 600.00 / 500.00 грн ⚠️\n"+
			"продукти: 0.00 / 1000.00 грн\n",
		r.Text)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)

	f.send(1, "10")
	r := f.send(1, "/cancel")
	assert.Equal(t, "👌 Скасовано.", r.Text)
	assert.True(t, r.ClearSuggestions)
	assert.Contains(t, f.send(1, "кіно").Text, "🧠")

	f.send(1, "/report")
	f.send(1, "/cancel")
	assert.Equal(t, "Окей, тепер обери категорію:", f.send(1, "10").Text)
}

func TestSimpleCommands(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "👋 Привіт! Напиши суму, наприклад '1000' або натисни /report", f.send(1, "/start").Text)
	assert.Equal(t, "👋 Привіт! Напиши суму, наприклад '1000' або натисни /report", f.send(1, "/start@hroshi_bot").Text)
	assert.Equal(t, "✅ Я на зв'язку!", f.send(1, "/PING").Text)
	assert.Contains(t, f.send(1, "/help").Text, "/report")
	assert.Contains(t, f.send(1, "/unknown").Text, "🧠")
}

func TestCommandDoesNotDropCapture(t *testing.T) {
	f := newFixture(t)

	f.send(1, "80")
	f.send(1, "/ping")
	r := f.send(1, "кіно")
	assert.Contains(t, r.Text, "80.00 грн у кіно")
}

func TestUsersAreIsolated(t *testing.T) {
	f := newFixture(t)

	f.send(1, "10")
	assert.Contains(t, f.send(2, "кіно").Text, "🧠")
	assert.Contains(t, f.send(1, "кіно").Text, "10.00 грн у кіно")
}

func TestConcurrentUsers(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			f.d.Handle(context.Background(), Event{UserID: id, DisplayName: fmt.Sprintf("u%d", id), Text: "10"})
			f.d.Handle(context.Background(), Event{UserID: id, DisplayName: fmt.Sprintf("u%d", id), Text: "кіно"})
		}(int64(i))
	}
	wg.Wait()

	assert.Len(t, f.rows(t), 20)
}

func TestMessageOverrides(t *testing.T) {
	m, err := NewMessages("₴", map[string]string{"pong": "pong {{.Currency}}"})
	require.NoError(t, err)
	text, err := m.Render(KeyPong, View{})
	require.NoError(t, err)
	assert.Equal(t, "pong ₴", text)

	_, err = NewMessages("грн", map[string]string{"nope": "x", "also_nope": "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "also_nope, nope")

	_, err = NewMessages("грн", map[string]string{"pong": "{{"})
	require.Error(t, err)

	_, err = NewMessages("грн", map[string]string{"pong": "{{.Missing}}"})
	require.Error(t, err)
}

func TestCustomMessagesReachReplies(t *testing.T) {
	store := memory.New()
	sessions, _ := NewMemorySessions(10, time.Hour, 0)
	msgs, err := NewMessages("USD", map[string]string{"recorded": "ok {{.Amount}} {{.Currency}} {{.Category}}"})
	require.NoError(t, err)

	d, err := NewDispatcher(Deps{
		Ledger:   store,
		Sessions: sessions,
		Messages: msgs,
		Location: time.UTC,
		Now:      func() time.Time { return testNow },
	})
	require.NoError(t, err)

	d.Handle(context.Background(), Event{UserID: 1, Text: "5"})
	r := d.Handle(context.Background(), Event{UserID: 1, Text: "кіно"})
	assert.Equal(t, "ok 5.00 USD кіно", r.Text)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		cmd  string
		args string
		ok   bool
	}{
		{"/start", "start", "", true},
		{"/SetLimit@hroshi_bot кіно 10", "setlimit", "кіно 10", true},
		{"/", "", "", false},
		{"кіно", "", "", false},
	}
	for _, tt := range tests {
		cmd, args, ok := parseCommand(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.cmd, cmd, tt.in)
		assert.Equal(t, tt.args, args, tt.in)
	}
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}
