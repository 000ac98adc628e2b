package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BaseCurrency is the currency every converted total is expressed in.
const BaseCurrency = "USD"

type (
	// Transaction is a single money movement. Negative amounts are
	// expenses, positive amounts are income or transfers in.
	Transaction struct {
		Date     time.Time
		Amount   decimal.Decimal
		Symbol   string
		Category string
	}

	// ExchangeRate is the price relationship between Symbol and USD as
	// of Date. Inverted means Rate is quoted as units of Symbol per USD
	// and conversion divides; otherwise Rate is USD per unit of Symbol
	// and conversion multiplies.
	ExchangeRate struct {
		Date     time.Time
		Symbol   string
		Rate     decimal.Decimal
		Inverted bool
	}
)

var (
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrEmptySymbol   = errors.New("empty symbol")
	ErrEmptyCategory = errors.New("empty category")
	ErrInvalidRate   = errors.New("rate must be positive")
)

// exemptSymbols are pegged 1:1 to the base currency and bypass rate
// lookup entirely.
var exemptSymbols = map[string]struct{}{
	"USD":  {},
	"USDT": {},
}

// IsExempt reports whether symbol needs no exchange rate.
func IsExempt(symbol string) bool {
	_, ok := exemptSymbols[symbol]
	return ok
}

func (t Transaction) Validate() error {
	if t.Date.IsZero() {
		return ErrInvalidDate
	}
	if strings.TrimSpace(t.Symbol) == "" {
		return ErrEmptySymbol
	}
	if len(t.Symbol) > 32 {
		return errors.New("symbol too long (max 32 characters)")
	}
	if strings.TrimSpace(t.Category) == "" {
		return ErrEmptyCategory
	}
	if len(t.Category) > 200 {
		return errors.New("category too long (max 200 characters)")
	}
	return nil
}

func (r ExchangeRate) Validate() error {
	if r.Date.IsZero() {
		return ErrInvalidDate
	}
	if strings.TrimSpace(r.Symbol) == "" {
		return ErrEmptySymbol
	}
	if !r.Rate.IsPositive() {
		return ErrInvalidRate
	}
	return nil
}
