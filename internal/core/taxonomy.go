package core

import (
	"fmt"
	"strings"
)

// DefaultIncomeCategory is the income label of the default taxonomy.
const DefaultIncomeCategory = "прихід"

// Category is one taxonomy entry with its ordered subcategories.
type Category struct {
	Name          string   `yaml:"name"`
	Subcategories []string `yaml:"subcategories"`
}

// Taxonomy is the static two-level category map. Lookups are exact after
// NormalizeCategory.
type Taxonomy struct {
	income string
	order  []string
	subs   map[string][]string
}

// NormalizeCategory trims and lower-cases a category name.
func NormalizeCategory(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NewTaxonomy builds a taxonomy. income must be one of the categories.
func NewTaxonomy(income string, categories []Category) (*Taxonomy, error) {
	t := &Taxonomy{
		income: NormalizeCategory(income),
		subs:   make(map[string][]string, len(categories)),
	}
	for _, c := range categories {
		name := NormalizeCategory(c.Name)
		if name == "" {
			return nil, ErrEmptyCategory
		}
		if _, dup := t.subs[name]; dup {
			return nil, fmt.Errorf("duplicate category %q", name)
		}
		subs := make([]string, 0, len(c.Subcategories))
		for _, s := range c.Subcategories {
			if s = NormalizeCategory(s); s != "" {
				subs = append(subs, s)
			}
		}
		t.order = append(t.order, name)
		t.subs[name] = subs
	}
	if t.income == "" {
		return nil, fmt.Errorf("income category: %w", ErrEmptyCategory)
	}
	if _, ok := t.subs[t.income]; !ok {
		return nil, fmt.Errorf("income category %q: %w", t.income, ErrUnknownCategory)
	}
	return t, nil
}

// DefaultTaxonomy returns the family taxonomy the bot ships with.
func DefaultTaxonomy() *Taxonomy {
	t, err := NewTaxonomy(DefaultIncomeCategory, DefaultCategories())
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultCategories lists the built-in categories in menu order.
func DefaultCategories() []Category {
	return []Category{
		{Name: "продукти"},
		{Name: "господарські товари"},
		{Name: "ресторани"},
		{Name: "кіно"},
		{Name: "кав'ярня"},
		{Name: "авто", Subcategories: []string{"заправка", "техобслуговування", "мийка", "стоянка", "паркування", "кредит", "страхування"}},
		{Name: "косметика"},
		{Name: "краса"},
		{Name: "одяг та взуття"},
		{Name: "комуналка, мобільний, інтернет"},
		{Name: "дні народження, свята"},
		{Name: "здоров'я", Subcategories: []string{"бади", "лікарі", "ліки", "психолог", "масаж"}},
		{Name: "стрільба", Subcategories: []string{"патрони", "внески", "запчастини"}},
		{Name: "навчання", Subcategories: []string{"школа", "англійська", "інститут", "інше"}},
		{Name: "таксі"},
		{Name: "донати"},
		{Name: "квіти"},
		{Name: "батькам"},
		{Name: "техніка"},
		{Name: DefaultIncomeCategory},
	}
}

// Categories returns all category names in declaration order.
func (t *Taxonomy) Categories() []string {
	return append([]string(nil), t.order...)
}

// SubcategoriesOf returns the subcategories of name, or nil if it has none
// or is unknown.
func (t *Taxonomy) SubcategoriesOf(name string) []string {
	subs := t.subs[NormalizeCategory(name)]
	if len(subs) == 0 {
		return nil
	}
	return append([]string(nil), subs...)
}

func (t *Taxonomy) IsKnown(name string) bool {
	_, ok := t.subs[NormalizeCategory(name)]
	return ok
}

func (t *Taxonomy) IsIncome(name string) bool {
	return NormalizeCategory(name) == t.income
}

// Income returns the income category label.
func (t *Taxonomy) Income() string {
	return t.income
}
