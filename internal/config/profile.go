package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"hroshi/internal/core"
)

// Profile customises the household: its categories, currency and wording.
//
//	income_category: прихід
//	currency: грн
//	categories:
//	  - name: продукти
//	  - name: авто
//	    subcategories: [заправка, мийка]
//	messages:
//	  recorded: "Записано {{.Amount}} {{.Currency}}"
type Profile struct {
	IncomeCategory string            `yaml:"income_category"`
	Currency       string            `yaml:"currency"`
	Categories     []core.Category   `yaml:"categories"`
	Messages       map[string]string `yaml:"messages"`
}

const DefaultCurrency = "грн"

// DefaultProfile is the built-in family profile.
func DefaultProfile() *Profile {
	return &Profile{
		IncomeCategory: core.DefaultIncomeCategory,
		Currency:       DefaultCurrency,
		Categories:     core.DefaultCategories(),
	}
}

// LoadProfile reads a YAML profile; an empty path yields DefaultProfile.
// Missing fields fall back to the defaults.
func LoadProfile(path string) (*Profile, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultProfile(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return ParseProfile(b)
}

// ParseProfile decodes a YAML profile and validates its taxonomy.
func ParseProfile(b []byte) (*Profile, error) {
	p := &Profile{}
	if err := yaml.Unmarshal(b, p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	def := DefaultProfile()
	if strings.TrimSpace(p.IncomeCategory) == "" {
		p.IncomeCategory = def.IncomeCategory
	}
	if strings.TrimSpace(p.Currency) == "" {
		p.Currency = def.Currency
	}
	if len(p.Categories) == 0 {
		p.Categories = def.Categories
	}
	if _, err := p.Taxonomy(); err != nil {
		return nil, fmt.Errorf("profile taxonomy: %w", err)
	}
	return p, nil
}

// Taxonomy builds the category taxonomy described by the profile.
func (p *Profile) Taxonomy() (*core.Taxonomy, error) {
	return core.NewTaxonomy(p.IncomeCategory, p.Categories)
}
