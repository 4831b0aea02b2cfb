// Package core holds the ledger domain: records, amounts and the category
// taxonomy.
//
// This file contains the amount parsing used by the conversation (strict
// user input) and by ledger scans (lenient spreadsheet cells).
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// IsAmount reports whether s, after removing at most one decimal point,
// consists solely of ASCII digits. "1000" and "250.5" match; "-5", "1 000"
// and "1.2.3" do not.
func IsAmount(s string) bool {
	s = strings.Replace(s, ".", "", 1)
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ParseAmount parses a user-typed amount. The input must satisfy IsAmount.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if !IsAmount(s) {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	s = strings.TrimSuffix(s, ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParseLedgerAmount parses an amount cell read back from storage. It accepts
// a sign, a decimal comma and a unicode minus, which spreadsheets produce.
func ParseLedgerAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, "−", "-")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	if !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// FormatAmount renders an amount with two decimals, as shown to users.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
