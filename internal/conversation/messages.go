package conversation

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"
)

// Key names one entry of the message table.
type Key string

const (
	KeyGreeting             Key = "greeting"
	KeyHelp                 Key = "help"
	KeyPong                 Key = "pong"
	KeyAskCategory          Key = "ask_category"
	KeyReaskCategory        Key = "reask_category"
	KeyAskSubcategory       Key = "ask_subcategory"
	KeyRecorded             Key = "recorded"
	KeyClosingOK            Key = "closing_ok"
	KeyClosingOverLimit     Key = "closing_over_limit"
	KeyLimitExceeded        Key = "limit_exceeded"
	KeyStorageFailure       Key = "storage_failure"
	KeyAskPeriod            Key = "ask_period"
	KeyPeriodMonth          Key = "period_month"
	KeyPeriodSinceIncome    Key = "period_since_income"
	KeyPeriodSincePrefix    Key = "period_since_prefix"
	KeyNoLastIncome         Key = "no_last_income"
	KeyBadPeriodDate        Key = "bad_period_date"
	KeyInvalidPeriod        Key = "invalid_period"
	KeyReport               Key = "report"
	KeyAskIncomeAmount      Key = "ask_income_amount"
	KeyReaskIncomeAmount    Key = "reask_income_amount"
	KeyLimitSet             Key = "limit_set"
	KeyLimitUsage           Key = "limit_usage"
	KeyLimitUnknownCategory Key = "limit_unknown_category"
	KeyLimitIncomeCategory  Key = "limit_income_category"
	KeyLimits               Key = "limits"
	KeyNoLimits             Key = "no_limits"
	KeyCancelled            Key = "cancelled"
)

const reportTemplate = "📊 Звіт з {{.Report.Start}} по {{.Report.End}}\n\n" +
	"💰 Прихід: {{.Report.Income}} {{.Currency}}\n\n" +
	"{{range .Report.Categories}}{{.Name}}: {{.Amount}} {{$.Currency}}\n" +
	"{{range .Subcategories}}  └ {{.Name}}: {{.Amount}} {{$.Currency}}\n{{end}}\n{{end}}" +
	"📉 Баланс: {{.Report.Balance}} {{.Currency}}"

const limitsTemplate = "📏 Ліміти на цей місяць:\n" +
	"{{range .Limits}}{{.Category}}: {{.Spent}} / {{.Limit}} {{$.Currency}}{{if .Over}} ⚠️{{end}}\n{{end}}"

var defaultMessages = map[Key]string{
	KeyGreeting:             "👋 Привіт! Напиши суму, наприклад '1000' або натисни /report",
	KeyHelp:                 "🧠 Напиши суму або використай команду: /report, /salary, /setlimit, /limits, /cancel",
	KeyPong:                 "✅ Я на зв'язку!",
	KeyAskCategory:          "Окей, тепер обери категорію:",
	KeyReaskCategory:        "Обери категорію:",
	KeyAskSubcategory:       "'{{.Category}}' має підкатегорії. Обери:",
	KeyRecorded:             "💸 Зафіксував {{.Amount}} {{.Currency}} у {{.Category}}{{if .Subcategory}} > {{.Subcategory}}{{end}}. {{.Closing}}",
	KeyClosingOK:            "💪 Гарна робота!",
	KeyClosingOverLimit:     "😬 Будь уважним(-ою) з витратами!",
	KeyLimitExceeded:        "⚠️ Перевищено ліміт {{.Limit}} {{.Currency}} у категорії '{{.Category}}' (вже витрачено: {{.Spent}} {{.Currency}})",
	KeyStorageFailure:       "❌ Не вдалося звернутися до таблиці. Спробуй ще раз трохи пізніше, введене не втрачено.",
	KeyAskPeriod:            "За який період зробити звіт?",
	KeyPeriodMonth:          "з початку місяця",
	KeyPeriodSinceIncome:    "від ЗП",
	KeyPeriodSincePrefix:    "від ",
	KeyNoLastIncome:         "❌ Дата останньої ЗП невідома. Скористайся /salary",
	KeyBadPeriodDate:        "📅 Формат дати: від {{.Today}}",
	KeyInvalidPeriod:        "🤔 Не зрозумів період. Натисни /report і обери варіант з кнопок.",
	KeyReport:               reportTemplate,
	KeyAskIncomeAmount:      "💼 Введи суму ЗП (запишемо як прихід):",
	KeyReaskIncomeAmount:    "💼 Потрібна сума числом, наприклад 25000",
	KeyLimitSet:             "✅ Ліміт {{.Limit}} {{.Currency}} встановлено для категорії '{{.Category}}'",
	KeyLimitUsage:           "⚠️ Формат: /setlimit <категорія> <сума>",
	KeyLimitUnknownCategory: "⚠️ Невідома категорія '{{.Category}}'. Доступні: {{.Categories}}",
	KeyLimitIncomeCategory:  "⚠️ Ліміт можна встановити лише для витрат.",
	KeyLimits:               limitsTemplate,
	KeyNoLimits:             "Лімітів ще немає. Встанови: /setlimit <категорія> <сума>",
	KeyCancelled:            "👌 Скасовано.",
}

// View is the data every message template is executed with.
type View struct {
	Currency    string
	Amount      string
	Category    string
	Subcategory string
	Limit       string
	Spent       string
	Closing     string
	Today       string
	Categories  string
	Report      *ReportView
	Limits      []LimitView
}

type ReportView struct {
	Start      string
	End        string
	Income     string
	Categories []CategoryView
	Balance    string
}

type CategoryView struct {
	Name          string
	Amount        string
	Subcategories []SubcategoryView
}

type SubcategoryView struct {
	Name   string
	Amount string
}

type LimitView struct {
	Category string
	Spent    string
	Limit    string
	Over     bool
}

// Messages is the table of reply templates keyed by outcome.
type Messages struct {
	currency  string
	templates map[Key]*template.Template
}

// NewMessages builds the table from the defaults plus overrides. Unknown
// keys and templates that fail against a sample view are rejected.
func NewMessages(currency string, overrides map[string]string) (*Messages, error) {
	texts := make(map[Key]string, len(defaultMessages))
	for k, v := range defaultMessages {
		texts[k] = v
	}

	var unknown []string
	for k, v := range overrides {
		if _, ok := defaultMessages[Key(k)]; !ok {
			unknown = append(unknown, k)
			continue
		}
		texts[Key(k)] = v
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown message keys: %s", strings.Join(unknown, ", "))
	}

	m := &Messages{currency: currency, templates: make(map[Key]*template.Template, len(texts))}
	for k, text := range texts {
		tmpl, err := template.New(string(k)).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", k, err)
		}
		m.templates[k] = tmpl
	}
	for k := range m.templates {
		if _, err := m.Render(k, sampleView()); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// DefaultMessages is the Ukrainian table with the given currency.
func DefaultMessages(currency string) *Messages {
	m, err := NewMessages(currency, nil)
	if err != nil {
		panic(err)
	}
	return m
}

// Render executes the template of key with v.
func (m *Messages) Render(key Key, v View) (string, error) {
	tmpl, ok := m.templates[key]
	if !ok {
		return "", fmt.Errorf("message %s: not defined", key)
	}
	v.Currency = m.currency
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("message %s: %w", key, err)
	}
	return buf.String(), nil
}

func sampleView() View {
	return View{
		Amount:     "100.00",
		Category:   "продукти",
		Limit:      "1000.00",
		Spent:      "1100.00",
		Today:      "2025-04-01",
		Categories: "продукти",
		Report: &ReportView{
			Start: "2025-04-01", End: "2025-04-17", Income: "0.00", Balance: "0.00",
			Categories: []CategoryView{{Name: "продукти", Amount: "1.00", Subcategories: []SubcategoryView{{Name: "хліб", Amount: "1.00"}}}},
		},
		Limits: []LimitView{{Category: "продукти", Spent: "1.00", Limit: "2.00"}},
	}
}
