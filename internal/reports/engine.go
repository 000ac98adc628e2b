// Package reports implements the currency-normalization and
// period-aggregation engine: grouped sums over the transaction set,
// point-in-time and nearest-day exchange-rate resolution, and the
// conversion of every breakdown into the base currency.
//
// Unresolved-rate policy: a symbol that participates in a sum but has
// no usable exchange rate is skipped from every converted map and every
// converted total, and listed in the report's UnresolvedSymbols field.
// The policy is the same for every report type.
package reports

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"scrooge/internal/core"
)

// dayKeyLayout is the localized day label used in day-grouped
// breakdowns, e.g. "05.03.2024".
const dayKeyLayout = "02.01.2006"

// storeDayLayout is the day key shape the store produces.
const storeDayLayout = "2006-01-02"

// GroupBy selects the second grouping axis of a range breakdown.
type GroupBy string

const (
	GroupByCategory GroupBy = "category"
	GroupByDay      GroupBy = "day"
)

// SumKey is the synthetic per-symbol key holding the symbol's total in
// a breakdown map.
const SumKey = "sum"

type (
	// ExpenseLine is one transaction of a day-expenses listing.
	ExpenseLine struct {
		Category string `json:"category"`
		Amount   string `json:"amount"`
	}

	// DayExpenses is the full listing of one day's outflows, raw and
	// converted.
	DayExpenses struct {
		ExpensesBySymbol          map[string][]ExpenseLine `json:"expensesBySymbol"`
		SumsBySymbol              map[string]string        `json:"sumsBySymbol"`
		ConvertedExpensesBySymbol map[string][]ExpenseLine `json:"convertedExpensesBySymbol"`
		ConvertedSumBySymbol      map[string]string        `json:"convertedSumBySymbol"`
		TotalSum                  string                   `json:"totalSum"`
		UnresolvedSymbols         []string                 `json:"unresolvedSymbols,omitempty"`
	}

	// RangeBreakdown is a grouped sum over a date range: per symbol a
	// map of group key (category or day label) to raw sum plus the
	// synthetic "sum" entry, the same shape converted to the base
	// currency, and the grand total.
	RangeBreakdown struct {
		TransactionsBySymbol          map[string]map[string]string `json:"transactionsBySymbol"`
		ConvertedTransactionsBySymbol map[string]map[string]string `json:"convertedTransactionsBySymbol"`
		TotalSum                      string                       `json:"totalSum"`
		UnresolvedSymbols             []string                     `json:"unresolvedSymbols,omitempty"`
	}

	// Total is the running balance as of a date.
	Total struct {
		Sums              map[string]string `json:"sums"`
		TotalUSD          string            `json:"totalUSD"`
		UnresolvedSymbols []string          `json:"unresolvedSymbols,omitempty"`
	}
)

// Engine runs the aggregation pipeline on top of a Store.
type Engine struct {
	store Store
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// DayExpenses lists the outflows of the calendar day containing date in
// the given offset. The window is half-open: a transaction at the next
// local midnight belongs to the next day.
func (e *Engine) DayExpenses(ctx context.Context, date time.Time, offsetHours int) (DayExpenses, error) {
	start, end := core.DayRange(date, offsetHours)
	expenses, err := e.store.ExpensesInWindow(ctx, start, end)
	if err != nil {
		return DayExpenses{}, fmt.Errorf("list day expenses: %w", err)
	}

	bySymbol := make(map[string][]core.Transaction)
	sums := make(map[string]decimal.Decimal)
	var symbols []string
	for _, t := range expenses {
		if _, seen := sums[t.Symbol]; !seen {
			symbols = append(symbols, t.Symbol)
		}
		bySymbol[t.Symbol] = append(bySymbol[t.Symbol], t)
		sums[t.Symbol] = sums[t.Symbol].Add(t.Amount)
	}

	rates, err := e.ratesAt(ctx, date, symbols)
	if err != nil {
		return DayExpenses{}, err
	}

	out := DayExpenses{
		ExpensesBySymbol:          make(map[string][]ExpenseLine, len(bySymbol)),
		SumsBySymbol:              make(map[string]string, len(sums)),
		ConvertedExpensesBySymbol: make(map[string][]ExpenseLine),
		ConvertedSumBySymbol:      make(map[string]string),
		UnresolvedSymbols:         rates.unresolved(symbols),
	}
	total := decimal.Zero
	for _, symbol := range symbols {
		raw := make([]ExpenseLine, 0, len(bySymbol[symbol]))
		for _, t := range bySymbol[symbol] {
			raw = append(raw, ExpenseLine{Category: t.Category, Amount: t.Amount.String()})
		}
		out.ExpensesBySymbol[symbol] = raw
		out.SumsBySymbol[symbol] = sums[symbol].String()

		rate, ok := rates[symbol]
		if !ok {
			continue
		}
		converted := core.ConvertSum(symbol, rate.Rate, rate.Inverted, sums[symbol])
		out.ConvertedSumBySymbol[symbol] = converted.String()
		total = total.Add(converted)

		lines := make([]ExpenseLine, 0, len(bySymbol[symbol]))
		for _, t := range bySymbol[symbol] {
			lines = append(lines, ExpenseLine{
				Category: t.Category,
				Amount:   core.ConvertSum(symbol, rate.Rate, rate.Inverted, t.Amount).String(),
			})
		}
		out.ConvertedExpensesBySymbol[symbol] = lines
	}
	out.TotalSum = total.String()
	return out, nil
}

// Total computes the running balance as of date: every transaction up
// to and including date, grouped by symbol, converted with the latest
// rate dated at or before date. The headline number is rounded to the
// display scale; the per-symbol sums are not.
func (e *Engine) Total(ctx context.Context, date time.Time) (Total, error) {
	rows, err := e.store.SumBySymbolThrough(ctx, date)
	if err != nil {
		return Total{}, fmt.Errorf("sum by symbol: %w", err)
	}

	symbols := make([]string, 0, len(rows))
	for _, row := range rows {
		symbols = append(symbols, row.Symbol)
	}
	rates, err := e.ratesAt(ctx, date, symbols)
	if err != nil {
		return Total{}, err
	}

	out := Total{
		Sums:              make(map[string]string, len(rows)),
		UnresolvedSymbols: rates.unresolved(symbols),
	}
	total := decimal.Zero
	for _, row := range rows {
		out.Sums[row.Symbol] = row.Sum.String()
		rate, ok := rates[row.Symbol]
		if !ok {
			continue
		}
		total = total.Add(core.ConvertSum(row.Symbol, rate.Rate, rate.Inverted, row.Sum))
	}
	out.TotalUSD = core.RoundDisplay(total).String()
	return out, nil
}

// ExpensesOnRange sums outflows over the inclusive range [start, end],
// grouped per symbol by category or by localized day label, and
// converts each breakdown with the rates resolved at end.
func (e *Engine) ExpensesOnRange(ctx context.Context, start, end time.Time, groupBy GroupBy, offsetHours int) (RangeBreakdown, error) {
	return e.rangeBreakdown(ctx, start, end, groupBy, offsetHours, true)
}

// SumsOnRange is ExpensesOnRange without the outflow restriction:
// income participates too.
func (e *Engine) SumsOnRange(ctx context.Context, start, end time.Time, groupBy GroupBy, offsetHours int) (RangeBreakdown, error) {
	return e.rangeBreakdown(ctx, start, end, groupBy, offsetHours, false)
}

// ThirtyDayExpenses sums the outflows of the inclusive 30-day window
// ending at date.
func (e *Engine) ThirtyDayExpenses(ctx context.Context, date time.Time, groupBy GroupBy, offsetHours int) (RangeBreakdown, error) {
	start, end := core.ThirtyDayRange(date)
	return e.ExpensesOnRange(ctx, start, end, groupBy, offsetHours)
}

// WeekExpenses sums the outflows of the running week containing date.
func (e *Engine) WeekExpenses(ctx context.Context, date time.Time, groupBy GroupBy, offsetHours int) (RangeBreakdown, error) {
	days := core.WeekDays(date, offsetHours)
	if len(days) == 0 {
		return RangeBreakdown{}, fmt.Errorf("empty week window for %s", date.Format(storeDayLayout))
	}
	return e.ExpensesOnRange(ctx, days[len(days)-1], days[0], groupBy, offsetHours)
}

// MonthExpenses sums the outflows of the calendar month containing
// date, up to date.
func (e *Engine) MonthExpenses(ctx context.Context, date time.Time, groupBy GroupBy, offsetHours int) (RangeBreakdown, error) {
	days := core.MonthDays(date, offsetHours)
	if len(days) == 0 {
		return RangeBreakdown{}, fmt.Errorf("empty month window for %s", date.Format(storeDayLayout))
	}
	return e.ExpensesOnRange(ctx, days[len(days)-1], days[0], groupBy, offsetHours)
}

// MonthSums is MonthExpenses without the outflow restriction.
func (e *Engine) MonthSums(ctx context.Context, date time.Time, offsetHours int) (RangeBreakdown, error) {
	days := core.MonthDays(date, offsetHours)
	if len(days) == 0 {
		return RangeBreakdown{}, fmt.Errorf("empty month window for %s", date.Format(storeDayLayout))
	}
	return e.SumsOnRange(ctx, days[len(days)-1], days[0], GroupByCategory, offsetHours)
}

// Symbols lists the transaction symbols, most frequent first.
func (e *Engine) Symbols(ctx context.Context) ([]string, error) {
	return e.store.Symbols(ctx)
}

// Categories lists the transaction categories, most frequent first.
func (e *Engine) Categories(ctx context.Context) ([]string, error) {
	return e.store.Categories(ctx)
}

// MonthRange lists the calendar months that hold transactions.
func (e *Engine) MonthRange(ctx context.Context) ([]YearMonth, error) {
	return e.store.MonthsWithTransactions(ctx)
}

func (e *Engine) rangeBreakdown(ctx context.Context, start, end time.Time, groupBy GroupBy, offsetHours int, expensesOnly bool) (RangeBreakdown, error) {
	bySymbol := make(map[string]map[string]decimal.Decimal)
	var symbols []string

	record := func(symbol, key string, sum decimal.Decimal) {
		groups := bySymbol[symbol]
		if groups == nil {
			groups = make(map[string]decimal.Decimal)
			bySymbol[symbol] = groups
			symbols = append(symbols, symbol)
		}
		groups[key] = groups[key].Add(sum)
		groups[SumKey] = groups[SumKey].Add(sum)
	}

	switch groupBy {
	case GroupByDay:
		rows, err := e.store.SumByDay(ctx, start, end, offsetHours, expensesOnly)
		if err != nil {
			return RangeBreakdown{}, fmt.Errorf("sum by day: %w", err)
		}
		for _, row := range rows {
			record(row.Symbol, localizeDayKey(row.Day), row.Sum)
		}
	default:
		rows, err := e.store.SumByCategory(ctx, start, end, expensesOnly)
		if err != nil {
			return RangeBreakdown{}, fmt.Errorf("sum by category: %w", err)
		}
		for _, row := range rows {
			record(row.Symbol, row.Category, row.Sum)
		}
	}

	rates, err := e.ratesAt(ctx, end, symbols)
	if err != nil {
		return RangeBreakdown{}, err
	}

	out := RangeBreakdown{
		TransactionsBySymbol:          make(map[string]map[string]string, len(bySymbol)),
		ConvertedTransactionsBySymbol: make(map[string]map[string]string),
		UnresolvedSymbols:             rates.unresolved(symbols),
	}
	total := decimal.Zero
	for _, symbol := range symbols {
		groups := bySymbol[symbol]
		raw := make(map[string]string, len(groups))
		for key, sum := range groups {
			raw[key] = sum.String()
		}
		out.TransactionsBySymbol[symbol] = raw

		rate, ok := rates[symbol]
		if !ok {
			continue
		}
		converted := make(map[string]string, len(groups))
		for key, sum := range groups {
			converted[key] = core.ConvertSum(symbol, rate.Rate, rate.Inverted, sum).String()
		}
		out.ConvertedTransactionsBySymbol[symbol] = converted
		total = total.Add(core.ConvertSum(symbol, rate.Rate, rate.Inverted, groups[SumKey]))
	}
	out.TotalSum = total.String()
	return out, nil
}

// ratesAt resolves the latest usable rate at or before date for each
// symbol, synthesizing rate 1 for exempt symbols.
func (e *Engine) ratesAt(ctx context.Context, date time.Time, symbols []string) (rateSet, error) {
	if len(symbols) == 0 {
		return rateSet{}, nil
	}
	lookup := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if !core.IsExempt(s) {
			lookup = append(lookup, s)
		}
	}
	var rows []core.ExchangeRate
	if len(lookup) > 0 {
		var err error
		rows, err = e.store.LatestRates(ctx, date, lookup)
		if err != nil {
			return nil, fmt.Errorf("resolve rates: %w", err)
		}
	}
	set := newRateSet(rows, symbols)
	if missing := set.unresolved(symbols); len(missing) > 0 {
		slog.WarnContext(ctx, "Symbols without usable exchange rate",
			"symbols", missing,
			"as_of", date.Format(storeDayLayout))
	}
	return set, nil
}

// localizeDayKey reformats a store day key ("2006-01-02") into the
// localized label ("02.01.2006") used in responses. Unparseable keys
// pass through untouched.
func localizeDayKey(key string) string {
	d, err := time.Parse(storeDayLayout, key)
	if err != nil {
		return key
	}
	return d.Format(dayKeyLayout)
}

// sortedSymbols returns the map's symbol keys in a stable order.
func sortedSymbols[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
