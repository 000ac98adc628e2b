package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"scrooge/internal/core"
)

// fakeStore serves the engine from in-memory slices, honoring the same
// boundary semantics the SQLite repository implements: inclusive range
// sums, half-open window listings.
type fakeStore struct {
	transactions []core.Transaction
	rates        []core.ExchangeRate
}

func (f *fakeStore) SumByCategory(_ context.Context, start, end time.Time, expensesOnly bool) ([]SymbolCategorySum, error) {
	type key struct{ symbol, category string }
	sums := make(map[key]decimal.Decimal)
	var order []key
	for _, t := range f.transactions {
		if t.Date.Before(start) || t.Date.After(end) {
			continue
		}
		if expensesOnly && t.Amount.IsPositive() {
			continue
		}
		k := key{t.Symbol, t.Category}
		if _, seen := sums[k]; !seen {
			order = append(order, k)
		}
		sums[k] = sums[k].Add(t.Amount)
	}
	rows := make([]SymbolCategorySum, 0, len(order))
	for _, k := range order {
		rows = append(rows, SymbolCategorySum{Symbol: k.symbol, Category: k.category, Sum: sums[k]})
	}
	return rows, nil
}

func (f *fakeStore) SumByDay(_ context.Context, start, end time.Time, offsetHours int, expensesOnly bool) ([]SymbolDaySum, error) {
	type key struct{ symbol, day string }
	sums := make(map[key]decimal.Decimal)
	var order []key
	for _, t := range f.transactions {
		if t.Date.Before(start) || t.Date.After(end) {
			continue
		}
		if expensesOnly && t.Amount.IsPositive() {
			continue
		}
		day := t.Date.Add(time.Duration(offsetHours) * time.Hour).UTC().Format("2006-01-02")
		k := key{t.Symbol, day}
		if _, seen := sums[k]; !seen {
			order = append(order, k)
		}
		sums[k] = sums[k].Add(t.Amount)
	}
	rows := make([]SymbolDaySum, 0, len(order))
	for _, k := range order {
		rows = append(rows, SymbolDaySum{Symbol: k.symbol, Day: k.day, Sum: sums[k]})
	}
	return rows, nil
}

func (f *fakeStore) SumBySymbolThrough(_ context.Context, asOf time.Time) ([]SymbolSum, error) {
	sums := make(map[string]decimal.Decimal)
	var order []string
	for _, t := range f.transactions {
		if t.Date.After(asOf) {
			continue
		}
		if _, seen := sums[t.Symbol]; !seen {
			order = append(order, t.Symbol)
		}
		sums[t.Symbol] = sums[t.Symbol].Add(t.Amount)
	}
	rows := make([]SymbolSum, 0, len(order))
	for _, s := range order {
		rows = append(rows, SymbolSum{Symbol: s, Sum: sums[s]})
	}
	return rows, nil
}

func (f *fakeStore) ExpensesInWindow(_ context.Context, start, end time.Time) ([]core.Transaction, error) {
	var out []core.Transaction
	for _, t := range f.transactions {
		if t.Amount.Sign() >= 0 {
			continue
		}
		if t.Date.Before(start) || !t.Date.Before(end) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeStore) DayCategorySums(_ context.Context, start, end time.Time, symbol string) ([]DayCategorySum, error) {
	type key struct {
		day      int
		category string
	}
	sums := make(map[key]decimal.Decimal)
	var order []key
	for _, t := range f.transactions {
		if t.Symbol != symbol || t.Date.Before(start) || !t.Date.Before(end) {
			continue
		}
		k := key{t.Date.Day(), t.Category}
		if _, seen := sums[k]; !seen {
			order = append(order, k)
		}
		sums[k] = sums[k].Add(t.Amount)
	}
	rows := make([]DayCategorySum, 0, len(order))
	for _, k := range order {
		rows = append(rows, DayCategorySum{Day: k.day, Category: k.category, Sum: sums[k]})
	}
	return rows, nil
}

func (f *fakeStore) ActiveSymbols(_ context.Context, start, end time.Time) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range f.transactions {
		if t.Date.Before(start) || !t.Date.Before(end) {
			continue
		}
		if _, ok := seen[t.Symbol]; ok {
			continue
		}
		seen[t.Symbol] = struct{}{}
		out = append(out, t.Symbol)
	}
	return out, nil
}

func (f *fakeStore) LatestRates(_ context.Context, asOf time.Time, symbols []string) ([]core.ExchangeRate, error) {
	var out []core.ExchangeRate
	for _, symbol := range symbols {
		var best *core.ExchangeRate
		for i, r := range f.rates {
			if r.Symbol != symbol || r.Date.After(asOf) {
				continue
			}
			if best == nil || r.Date.After(best.Date) {
				best = &f.rates[i]
			}
		}
		if best != nil {
			out = append(out, *best)
		}
	}
	return out, nil
}

func (f *fakeStore) RatesInWindow(_ context.Context, start, end time.Time, symbols []string) ([]core.ExchangeRate, error) {
	wanted := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		wanted[s] = struct{}{}
	}
	var out []core.ExchangeRate
	for _, r := range f.rates {
		if _, ok := wanted[r.Symbol]; !ok {
			continue
		}
		if r.Date.Before(start) || !r.Date.Before(end) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (f *fakeStore) Symbols(_ context.Context) ([]string, error) {
	return f.byFrequency(func(t core.Transaction) string { return t.Symbol }), nil
}

func (f *fakeStore) Categories(_ context.Context) ([]string, error) {
	return f.byFrequency(func(t core.Transaction) string { return t.Category }), nil
}

func (f *fakeStore) byFrequency(key func(core.Transaction) string) []string {
	counts := make(map[string]int)
	for _, t := range f.transactions {
		counts[key(t)]++
	}
	out := make([]string, 0, len(counts))
	for k := range counts {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

func (f *fakeStore) MonthsWithTransactions(_ context.Context) ([]YearMonth, error) {
	seen := make(map[YearMonth]struct{})
	var out []YearMonth
	for _, t := range f.transactions {
		ym := YearMonth{Year: t.Date.Year(), Month: int(t.Date.Month())}
		if _, ok := seen[ym]; ok {
			continue
		}
		seen[ym] = struct{}{}
		out = append(out, ym)
	}
	return out, nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func tx(t *testing.T, day time.Time, amount, symbol, category string) core.Transaction {
	t.Helper()
	return core.Transaction{Date: day, Amount: dec(t, amount), Symbol: symbol, Category: category}
}

func rate(t *testing.T, day time.Time, symbol, value string, inverted bool) core.ExchangeRate {
	t.Helper()
	return core.ExchangeRate{Date: day, Symbol: symbol, Rate: dec(t, value), Inverted: inverted}
}

func TestDayExpensesConversion(t *testing.T) {
	day := date(2024, time.March, 5)
	store := &fakeStore{
		transactions: []core.Transaction{
			tx(t, day, "-100", "USD", "Food"),
			tx(t, day, "-5000", "KZT", "Food"),
		},
		rates: []core.ExchangeRate{
			rate(t, day, "KZT", "450", true),
		},
	}
	engine := NewEngine(store)

	got, err := engine.DayExpenses(context.Background(), day, 0)
	if err != nil {
		t.Fatalf("DayExpenses() error = %v", err)
	}

	wantSums := map[string]string{"USD": "-100", "KZT": "-5000"}
	for symbol, want := range wantSums {
		if got.SumsBySymbol[symbol] != want {
			t.Errorf("SumsBySymbol[%s] = %q, want %q", symbol, got.SumsBySymbol[symbol], want)
		}
	}
	wantConverted := map[string]string{"USD": "-100", "KZT": "-11.11"}
	for symbol, want := range wantConverted {
		if got.ConvertedSumBySymbol[symbol] != want {
			t.Errorf("ConvertedSumBySymbol[%s] = %q, want %q", symbol, got.ConvertedSumBySymbol[symbol], want)
		}
	}
	if got.TotalSum != "-111.11" {
		t.Errorf("TotalSum = %q, want %q", got.TotalSum, "-111.11")
	}
	if len(got.UnresolvedSymbols) != 0 {
		t.Errorf("UnresolvedSymbols = %v, want none", got.UnresolvedSymbols)
	}
}

func TestDayExpensesLineConversionKeepsPrecision(t *testing.T) {
	day := date(2024, time.March, 5)
	store := &fakeStore{
		transactions: []core.Transaction{
			tx(t, day, "-0.00000003", "BTC", "Savings"),
		},
		rates: []core.ExchangeRate{
			rate(t, day, "BTC", "50000", false),
		},
	}
	engine := NewEngine(store)

	got, err := engine.DayExpenses(context.Background(), day, 0)
	if err != nil {
		t.Fatalf("DayExpenses() error = %v", err)
	}

	raw := got.ExpensesBySymbol["BTC"]
	if len(raw) != 1 || raw[0].Amount != "-0.00000003" {
		t.Errorf("ExpensesBySymbol[BTC] = %v, want one line of -0.00000003", raw)
	}
	lines := got.ConvertedExpensesBySymbol["BTC"]
	if len(lines) != 1 {
		t.Fatalf("ConvertedExpensesBySymbol[BTC] = %v, want one line", lines)
	}
	// Each line converts from the stored decimal, so satoshi-scale
	// amounts survive exactly.
	if want := "-0.0015"; lines[0].Amount != want {
		t.Errorf("converted line amount = %q, want %q", lines[0].Amount, want)
	}
}

func TestDayExpensesBoundaries(t *testing.T) {
	day := date(2024, time.March, 5)
	store := &fakeStore{
		transactions: []core.Transaction{
			tx(t, day, "-10", "USD", "Food"),                           // at start
			tx(t, day.Add(24*time.Hour), "-20", "USD", "Food"),         // exactly at end
			tx(t, day.Add(24*time.Hour-time.Second), "-5", "USD", "Food"), // just inside
		},
	}
	engine := NewEngine(store)

	got, err := engine.DayExpenses(context.Background(), day, 0)
	if err != nil {
		t.Fatalf("DayExpenses() error = %v", err)
	}
	if want := "-15"; got.SumsBySymbol["USD"] != want {
		t.Errorf("SumsBySymbol[USD] = %q, want %q (end boundary must be excluded)", got.SumsBySymbol["USD"], want)
	}
}

func TestDayExpensesUnresolvedSymbolSkipped(t *testing.T) {
	day := date(2024, time.March, 5)
	store := &fakeStore{
		transactions: []core.Transaction{
			tx(t, day, "-100", "USD", "Food"),
			tx(t, day, "-3", "BTC", "Savings"),
		},
	}
	engine := NewEngine(store)

	got, err := engine.DayExpenses(context.Background(), day, 0)
	if err != nil {
		t.Fatalf("DayExpenses() error = %v", err)
	}
	if got.SumsBySymbol["BTC"] != "-3" {
		t.Errorf("raw sum for BTC = %q, want %q", got.SumsBySymbol["BTC"], "-3")
	}
	if _, ok := got.ConvertedSumBySymbol["BTC"]; ok {
		t.Error("BTC has no rate but appears in the converted sums")
	}
	if got.TotalSum != "-100" {
		t.Errorf("TotalSum = %q, want %q (unresolved symbol must not contribute)", got.TotalSum, "-100")
	}
	if len(got.UnresolvedSymbols) != 1 || got.UnresolvedSymbols[0] != "BTC" {
		t.Errorf("UnresolvedSymbols = %v, want [BTC]", got.UnresolvedSymbols)
	}
}

func TestTotalRoundsHeadline(t *testing.T) {
	asOf := date(2024, time.June, 1)
	store := &fakeStore{
		transactions: []core.Transaction{
			tx(t, date(2024, time.January, 10), "1000", "USD", "Salary"),
			tx(t, date(2024, time.February, 3), "-70000", "KZT", "Rent"),
			tx(t, date(2024, time.July, 1), "-500", "USD", "Food"), // after asOf
		},
		rates: []core.ExchangeRate{
			rate(t, date(2024, time.January, 20), "KZT", "449", true),
			rate(t, date(2024, time.May, 30), "KZT", "450", true),
			rate(t, date(2024, time.August, 1), "KZT", "500", true), // after asOf, must not win
		},
	}
	engine := NewEngine(store)

	got, err := engine.Total(context.Background(), asOf)
	if err != nil {
		t.Fatalf("Total() error = %v", err)
	}
	if got.Sums["KZT"] != "-70000" {
		t.Errorf("Sums[KZT] = %q, want %q", got.Sums["KZT"], "-70000")
	}
	// 1000 - 70000/450 = 1000 - 155.56 = 844.44
	if got.TotalUSD != "844.44" {
		t.Errorf("TotalUSD = %q, want %q", got.TotalUSD, "844.44")
	}
}

func TestTotalZeroRateTreatedAsUnresolved(t *testing.T) {
	asOf := date(2024, time.June, 1)
	store := &fakeStore{
		transactions: []core.Transaction{
			tx(t, date(2024, time.January, 10), "-70000", "KZT", "Rent"),
		},
		rates: []core.ExchangeRate{
			rate(t, date(2024, time.January, 20), "KZT", "0", true),
		},
	}
	engine := NewEngine(store)

	got, err := engine.Total(context.Background(), asOf)
	if err != nil {
		t.Fatalf("Total() error = %v", err)
	}
	if got.TotalUSD != "0" {
		t.Errorf("TotalUSD = %q, want %q", got.TotalUSD, "0")
	}
	if len(got.UnresolvedSymbols) != 1 || got.UnresolvedSymbols[0] != "KZT" {
		t.Errorf("UnresolvedSymbols = %v, want [KZT]", got.UnresolvedSymbols)
	}
}

func TestExpensesOnRangeGrouping(t *testing.T) {
	start := date(2024, time.March, 1)
	end := date(2024, time.March, 31)
	store := &fakeStore{
		transactions: []core.Transaction{
			tx(t, date(2024, time.March, 5), "-100", "USD", "Food"),
			tx(t, date(2024, time.March, 5), "-50", "USD", "Transport"),
			tx(t, date(2024, time.March, 7), "-25", "USD", "Food"),
			tx(t, date(2024, time.March, 7), "300", "USD", "Salary"), // income, excluded
		},
	}
	engine := NewEngine(store)

	t.Run("by category", func(t *testing.T) {
		got, err := engine.ExpensesOnRange(context.Background(), start, end, GroupByCategory, 0)
		if err != nil {
			t.Fatalf("ExpensesOnRange() error = %v", err)
		}
		usd := got.TransactionsBySymbol["USD"]
		want := map[string]string{"Food": "-125", "Transport": "-50", SumKey: "-175"}
		for key, w := range want {
			if usd[key] != w {
				t.Errorf("USD[%s] = %q, want %q", key, usd[key], w)
			}
		}
		if _, ok := usd["Salary"]; ok {
			t.Error("income category leaked into an expenses-only breakdown")
		}
		if got.TotalSum != "-175" {
			t.Errorf("TotalSum = %q, want %q", got.TotalSum, "-175")
		}
	})

	t.Run("by day", func(t *testing.T) {
		got, err := engine.ExpensesOnRange(context.Background(), start, end, GroupByDay, 0)
		if err != nil {
			t.Fatalf("ExpensesOnRange() error = %v", err)
		}
		usd := got.TransactionsBySymbol["USD"]
		want := map[string]string{"05.03.2024": "-150", "07.03.2024": "-25", SumKey: "-175"}
		for key, w := range want {
			if usd[key] != w {
				t.Errorf("USD[%s] = %q, want %q", key, usd[key], w)
			}
		}
	})
}

func TestSumsOnRangeIncludesIncome(t *testing.T) {
	start := date(2024, time.March, 1)
	end := date(2024, time.March, 31)
	store := &fakeStore{
		transactions: []core.Transaction{
			tx(t, date(2024, time.March, 5), "-100", "USD", "Food"),
			tx(t, date(2024, time.March, 7), "300", "USD", "Salary"),
		},
	}
	engine := NewEngine(store)

	got, err := engine.SumsOnRange(context.Background(), start, end, GroupByCategory, 0)
	if err != nil {
		t.Fatalf("SumsOnRange() error = %v", err)
	}
	usd := got.TransactionsBySymbol["USD"]
	if usd["Salary"] != "300" {
		t.Errorf("USD[Salary] = %q, want %q", usd["Salary"], "300")
	}
	if usd[SumKey] != "200" {
		t.Errorf("USD[sum] = %q, want %q", usd[SumKey], "200")
	}
}

func TestThirtyDayRangeInclusive(t *testing.T) {
	ref := date(2024, time.March, 31)
	store := &fakeStore{
		transactions: []core.Transaction{
			tx(t, ref.AddDate(0, 0, -30), "-10", "USD", "Food"), // exactly 30 days back, included
			tx(t, ref.AddDate(0, 0, -31), "-99", "USD", "Food"), // one day further, excluded
			tx(t, ref, "-5", "USD", "Food"),
		},
	}
	engine := NewEngine(store)

	got, err := engine.ThirtyDayExpenses(context.Background(), ref, GroupByCategory, 0)
	if err != nil {
		t.Fatalf("ThirtyDayExpenses() error = %v", err)
	}
	if want := "-15"; got.TransactionsBySymbol["USD"][SumKey] != want {
		t.Errorf("USD[sum] = %q, want %q", got.TransactionsBySymbol["USD"][SumKey], want)
	}
}

func TestAggregationIdempotence(t *testing.T) {
	day := date(2024, time.March, 5)
	store := &fakeStore{
		transactions: []core.Transaction{
			tx(t, day, "-100", "USD", "Food"),
			tx(t, day, "-5000", "KZT", "Food"),
			tx(t, day, "-30", "EUR", "Transport"),
		},
		rates: []core.ExchangeRate{
			rate(t, day, "KZT", "450", true),
			rate(t, day, "EUR", "1.08", false),
		},
	}
	engine := NewEngine(store)

	first, err := engine.DayExpenses(context.Background(), day, 0)
	if err != nil {
		t.Fatalf("DayExpenses() error = %v", err)
	}
	second, err := engine.DayExpenses(context.Background(), day, 0)
	if err != nil {
		t.Fatalf("DayExpenses() error = %v", err)
	}
	a, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("marshal first run: %v", err)
	}
	b, err := json.Marshal(second)
	if err != nil {
		t.Fatalf("marshal second run: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("same aggregation produced different output:\n%s\n%s", a, b)
	}
}
