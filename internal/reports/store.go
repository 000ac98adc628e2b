package reports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"scrooge/internal/core"
)

// Tagged result records for the grouped-sum queries. The storage layer
// returns these instead of free-form maps so the conversion step always
// sees the shape it expects.
type (
	// SymbolCategorySum is one row of a sum grouped by (symbol, category).
	SymbolCategorySum struct {
		Symbol   string
		Category string
		Sum      decimal.Decimal
	}

	// SymbolDaySum is one row of a sum grouped by (symbol, calendar day
	// under a UTC offset). Day is formatted "2006-01-02".
	SymbolDaySum struct {
		Symbol string
		Day    string
		Sum    decimal.Decimal
	}

	// SymbolSum is one row of a sum grouped by symbol alone.
	SymbolSum struct {
		Symbol string
		Sum    decimal.Decimal
	}

	// DayCategorySum is one row of a single-symbol sum grouped by
	// (day of month, category).
	DayCategorySum struct {
		Day      int
		Category string
		Sum      decimal.Decimal
	}

	// YearMonth identifies a calendar month that holds transactions.
	YearMonth struct {
		Year  int `json:"year"`
		Month int `json:"month"`
	}
)

// Store is the aggregate-query surface the engine needs from the
// storage layer. Range boundaries differ by method on purpose: the
// sum-by queries are inclusive on both ends, the day/window listings
// are half-open. Tests pin both behaviors.
type Store interface {
	// SumByCategory sums amounts grouped by (symbol, category) over the
	// inclusive range [start, end]. With expensesOnly set only rows
	// with amount <= 0 participate.
	SumByCategory(ctx context.Context, start, end time.Time, expensesOnly bool) ([]SymbolCategorySum, error)

	// SumByDay sums amounts grouped by (symbol, calendar day under
	// offsetHours) over the inclusive range [start, end]. With
	// expensesOnly set only rows with amount <= 0 participate.
	SumByDay(ctx context.Context, start, end time.Time, offsetHours int, expensesOnly bool) ([]SymbolDaySum, error)

	// SumBySymbolThrough sums all amounts with date <= asOf, grouped by
	// symbol. There is no start boundary.
	SumBySymbolThrough(ctx context.Context, asOf time.Time) ([]SymbolSum, error)

	// ExpensesInWindow lists individual transactions with amount < 0 in
	// the half-open window [start, end).
	ExpensesInWindow(ctx context.Context, start, end time.Time) ([]core.Transaction, error)

	// DayCategorySums sums one symbol's amounts grouped by (day of
	// month, category) over the half-open window [start, end).
	DayCategorySums(ctx context.Context, start, end time.Time, symbol string) ([]DayCategorySum, error)

	// ActiveSymbols lists the distinct symbols with transactions in the
	// half-open window [start, end).
	ActiveSymbols(ctx context.Context, start, end time.Time) ([]string, error)

	// LatestRates returns, per symbol, the most recent exchange rate
	// dated at or before asOf. Symbols without any such rate are simply
	// absent from the result.
	LatestRates(ctx context.Context, asOf time.Time, symbols []string) ([]core.ExchangeRate, error)

	// RatesInWindow lists all rates for the symbols in the half-open
	// window [start, end), ordered by date ascending.
	RatesInWindow(ctx context.Context, start, end time.Time, symbols []string) ([]core.ExchangeRate, error)

	// Symbols lists all transaction symbols, most frequent first.
	Symbols(ctx context.Context) ([]string, error)

	// Categories lists all transaction categories, most frequent first.
	Categories(ctx context.Context) ([]string, error)

	// MonthsWithTransactions lists the distinct calendar months that
	// hold at least one transaction.
	MonthsWithTransactions(ctx context.Context) ([]YearMonth, error)
}
