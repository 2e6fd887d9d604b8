// Package core provides the client's domain types.
//
// This file contains the conversions applied when a form is submitted:
// raw amount text to a decimal, and raw category selection to an
// omit/null/value category reference.
package core

import (
	"strconv"
	"strings"

	"github.com/aarondl/opt/omitnull"
	"github.com/shopspring/decimal"
)

// ParseAmount converts user-entered text to a decimal amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. The value is
// passed through as typed: no sign, range or rounding rules are applied.
//
// Examples:
//
//	ParseAmount("150.5")  -> 150.5, nil
//	ParseAmount("150,50") -> 150.5, nil
//	ParseAmount("")       -> 0, ErrEmptyAmount
//	ParseAmount("abc")    -> 0, ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrEmptyAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// FormatAmount renders an amount for editing, e.g. "150.5".
func FormatAmount(d decimal.Decimal) string {
	return d.String()
}

// KeepCategory leaves the category field out of a write.
func KeepCategory() omitnull.Val[int64] {
	return omitnull.Val[int64]{}
}

// NoCategory clears the category on a write.
func NoCategory() omitnull.Val[int64] {
	return omitnull.FromPtr[int64](nil)
}

// WithCategory sets the category on a write.
func WithCategory(id int64) omitnull.Val[int64] {
	return omitnull.From(id)
}

// ParseCategorySelection converts a select value to a category reference.
// A blank selection yields blank, which callers choose to be either
// KeepCategory (create) or NoCategory (update).
func ParseCategorySelection(s string, blank omitnull.Val[int64]) (omitnull.Val[int64], error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return blank, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return blank, ErrInvalidCategory
	}
	return WithCategory(id), nil
}
