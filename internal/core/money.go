// Package core holds the domain model shared by every service: entity
// types, validation rules, typed error kinds and monetary parsing.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a user-supplied amount string to a positive
// decimal rounded half-up to two places.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and
// tolerates a leading currency symbol and thousands separators
// ("$1,234.56"). Zero and negative values are rejected.
func ParseAmount(s string) (decimal.Decimal, error) {
	cleaned := cleanAmount(s)
	if cleaned == "" {
		return decimal.Zero, Invalid("amount", "amount is required")
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, Invalid("amount", "invalid amount")
	}

	d = d.Round(2)
	if !d.IsPositive() {
		return decimal.Zero, Invalid("amount", "amount must be positive")
	}
	return d, nil
}

// ParseNonNegativeAmount is ParseAmount but permits zero; used for
// allocation and statement-balance inputs.
func ParseNonNegativeAmount(s string) (decimal.Decimal, error) {
	cleaned := cleanAmount(s)
	if cleaned == "" {
		return decimal.Zero, nil
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, Invalid("amount", "invalid amount")
	}

	d = d.Round(2)
	if d.IsNegative() {
		return decimal.Zero, Invalid("amount", "amount cannot be negative")
	}
	return d, nil
}

// cleanAmount strips currency symbols, spaces and thousands separators,
// normalizing a decimal comma to a dot.
func cleanAmount(s string) string {
	s = strings.TrimSpace(s)

	// "12,34" means twelve and change; "1,234.56" uses commas as
	// thousands separators. A comma is decimal only when no dot follows.
	if strings.Contains(s, ",") && !strings.Contains(s, ".") && strings.Count(s, ",") == 1 {
		s = strings.Replace(s, ",", ".", 1)
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}
