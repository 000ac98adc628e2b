// Package core holds the domain model and the pure pieces of the
// reporting pipeline: decimal money handling, currency conversion and
// calendar bucketing.
//
// All monetary arithmetic goes through shopspring decimals so amounts
// never touch binary floating point. Intermediate sums keep full
// precision; rounding to two places happens only at display points.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DisplayScale is the number of decimal places used for user-facing
// totals and for inverted-rate division.
const DisplayScale = 2

// ParseAmount parses a signed decimal amount string. It accepts both
// dot (12.34) and comma (12,34) decimal separators.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	return d, nil
}

// RoundDisplay rounds d to the display scale (half-up).
func RoundDisplay(d decimal.Decimal) decimal.Decimal {
	return d.Round(DisplayScale)
}

// ConvertSum expresses amount in the base currency. Exempt symbols pass
// through untouched. An inverted rate is quoted as units of symbol per
// USD, so the conversion divides, rounded to the display scale; a
// direct rate is USD per unit and multiplies at full precision.
func ConvertSum(symbol string, rate decimal.Decimal, inverted bool, amount decimal.Decimal) decimal.Decimal {
	if IsExempt(symbol) {
		return amount
	}
	if inverted {
		return amount.DivRound(rate, DisplayScale)
	}
	return amount.Mul(rate)
}
