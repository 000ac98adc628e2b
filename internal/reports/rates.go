package reports

import (
	"sort"

	"github.com/shopspring/decimal"

	"scrooge/internal/core"
)

// rateRef is a resolved conversion factor for one symbol.
type rateRef struct {
	Rate     decimal.Decimal
	Inverted bool
}

// rateSet maps symbols to their resolved point-in-time rates. Symbols
// that could not be resolved are simply absent; callers treat absence
// as "no conversion possible" and report the symbol as unresolved.
type rateSet map[string]rateRef

// newRateSet folds latest-rate rows into a lookup map. Exempt symbols
// are synthesized with rate 1 regardless of the rows. Rows with a
// non-positive rate are dropped so the conversion step can never divide
// by zero.
func newRateSet(rows []core.ExchangeRate, symbols []string) rateSet {
	set := make(rateSet, len(symbols))
	for _, row := range rows {
		if !row.Rate.IsPositive() {
			continue
		}
		set[row.Symbol] = rateRef{Rate: row.Rate, Inverted: row.Inverted}
	}
	for _, s := range symbols {
		if core.IsExempt(s) {
			set[s] = rateRef{Rate: decimal.NewFromInt(1)}
		}
	}
	return set
}

// unresolved returns the sorted subset of symbols the set cannot
// convert.
func (rs rateSet) unresolved(symbols []string) []string {
	var missing []string
	for _, s := range symbols {
		if _, ok := rs[s]; !ok {
			missing = append(missing, s)
		}
	}
	sort.Strings(missing)
	return missing
}

// dayRates indexes one month's rate rows by (symbol, day of month).
// Later rows win a (symbol, day) slot, which cannot happen in practice
// because at most one rate exists per date and symbol.
type dayRates map[string]map[int]rateRef

func newDayRates(rows []core.ExchangeRate) dayRates {
	idx := make(dayRates)
	for _, row := range rows {
		if !row.Rate.IsPositive() {
			continue
		}
		byDay := idx[row.Symbol]
		if byDay == nil {
			byDay = make(map[int]rateRef)
			idx[row.Symbol] = byDay
		}
		byDay[row.Date.Day()] = rateRef{Rate: row.Rate, Inverted: row.Inverted}
	}
	return idx
}

// maxFallbackDistance bounds the nearest-day search; no month window is
// wider than this many days.
const maxFallbackDistance = 31

// forDay resolves the rate for symbol on a day of the month, expanding
// outward symmetrically (day, day-1, day+1, day-2, day+2, ...) until a
// rate is found. Earlier days win ties at equal distance. Exempt
// symbols short-circuit to rate 1.
func (dr dayRates) forDay(symbol string, day int) (rateRef, bool) {
	if core.IsExempt(symbol) {
		return rateRef{Rate: decimal.NewFromInt(1)}, true
	}
	byDay := dr[symbol]
	if len(byDay) == 0 {
		return rateRef{}, false
	}
	for dist := 0; dist <= maxFallbackDistance; dist++ {
		if r, ok := byDay[day-dist]; ok {
			return r, true
		}
		if r, ok := byDay[day+dist]; ok {
			return r, true
		}
	}
	return rateRef{}, false
}

// last returns the rate of the latest in-window day for symbol. Exempt
// symbols short-circuit to rate 1.
func (dr dayRates) last(symbol string) (rateRef, bool) {
	if core.IsExempt(symbol) {
		return rateRef{Rate: decimal.NewFromInt(1)}, true
	}
	byDay := dr[symbol]
	if len(byDay) == 0 {
		return rateRef{}, false
	}
	lastDay := -1
	for day := range byDay {
		if day > lastDay {
			lastDay = day
		}
	}
	return byDay[lastDay], true
}
