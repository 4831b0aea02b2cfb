package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTaxonomy(t *testing.T) {
	tax := DefaultTaxonomy()

	cats := tax.Categories()
	require.Len(t, cats, 20)
	assert.Equal(t, "продукти", cats[0])
	assert.Equal(t, "прихід", cats[len(cats)-1])

	assert.True(t, tax.IsKnown("  Продукти "))
	assert.False(t, tax.IsKnown("продукт"))
	assert.True(t, tax.IsIncome("ПРИХІД"))
	assert.False(t, tax.IsIncome("продукти"))

	assert.Equal(t, []string{"бади", "лікарі", "ліки", "психолог", "масаж"}, tax.SubcategoriesOf("здоров'я"))
	assert.Nil(t, tax.SubcategoriesOf("кіно"))
	assert.Nil(t, tax.SubcategoriesOf("nope"))
}

func TestSubcategoriesOfReturnsCopy(t *testing.T) {
	tax := DefaultTaxonomy()
	subs := tax.SubcategoriesOf("авто")
	subs[0] = "changed"
	assert.Equal(t, "заправка", tax.SubcategoriesOf("авто")[0])
}

func TestNewTaxonomyValidation(t *testing.T) {
	_, err := NewTaxonomy("income", []Category{{Name: "food"}})
	assert.ErrorIs(t, err, ErrUnknownCategory)

	_, err = NewTaxonomy("income", []Category{{Name: "income"}, {Name: "Income"}})
	assert.Error(t, err)

	_, err = NewTaxonomy("", []Category{{Name: "food"}})
	assert.ErrorIs(t, err, ErrEmptyCategory)

	tax, err := NewTaxonomy("Income", []Category{{Name: "Food", Subcategories: []string{"Bread", " "}}, {Name: "income"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"bread"}, tax.SubcategoriesOf("food"))
	assert.Equal(t, "income", tax.Income())
}
