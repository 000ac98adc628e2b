package reports

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"scrooge/internal/core"
)

// MonthDetailing is the full per-symbol breakdown of one calendar
// month: for each symbol a day-of-month by category table, raw and
// converted, plus a shared converted table folded over all symbols.
type MonthDetailing struct {
	Year  int `json:"year"`
	Month int `json:"month"`

	// DaysBySymbol maps symbol -> day of month -> category -> raw sum.
	DaysBySymbol map[string]map[int]map[string]string `json:"daysBySymbol"`

	// ConvertedDaysBySymbol is the same table converted to the base
	// currency with the nearest-day rate for each day.
	ConvertedDaysBySymbol map[string]map[int]map[string]string `json:"convertedDaysBySymbol"`

	// SumUSD maps day of month -> category -> converted sum over all
	// symbols. Cells accumulate: two symbols posting to the same day
	// and category add up. Only days that hold expenses appear.
	SumUSD map[int]map[string]string `json:"sumUSD"`

	TotalsBySymbol          map[string]string `json:"totalsBySymbol"`
	ConvertedTotalsBySymbol map[string]string `json:"convertedTotalsBySymbol"`
	TotalUSD                string            `json:"totalUSD"`

	UnresolvedSymbols []string `json:"unresolvedSymbols,omitempty"`
}

// symbolDetail is the per-symbol intermediate the detailing workers
// produce before the sequential fold.
type symbolDetail struct {
	symbol    string
	days      map[int]map[string]string
	converted map[int]map[string]string
	// convertedUSD holds the converted per-cell sums feeding the
	// shared table.
	convertedUSD map[int]map[string]decimal.Decimal
	total        decimal.Decimal
	resolved     bool
}

// MonthDetailing builds the month breakdown for (year, month). The
// per-symbol tables are computed concurrently; the shared converted
// table is folded afterwards so cells accumulate exactly across
// symbols.
func (e *Engine) MonthDetailing(ctx context.Context, year int, month time.Month) (MonthDetailing, error) {
	start, end := core.MonthBounds(year, month)

	symbols, err := e.store.ActiveSymbols(ctx, start, end)
	if err != nil {
		return MonthDetailing{}, fmt.Errorf("list month symbols: %w", err)
	}

	rateRows, err := e.store.RatesInWindow(ctx, start, end, symbols)
	if err != nil {
		return MonthDetailing{}, fmt.Errorf("list month rates: %w", err)
	}
	rates := newDayRates(rateRows)

	details := make([]symbolDetail, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			d, err := e.detailSymbol(gctx, start, end, symbol, rates)
			if err != nil {
				return fmt.Errorf("detail %s: %w", symbol, err)
			}
			details[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return MonthDetailing{}, err
	}

	out := MonthDetailing{
		Year:                    year,
		Month:                   int(month),
		DaysBySymbol:            make(map[string]map[int]map[string]string, len(details)),
		ConvertedDaysBySymbol:   make(map[string]map[int]map[string]string),
		SumUSD:                  make(map[int]map[string]string),
		TotalsBySymbol:          make(map[string]string, len(details)),
		ConvertedTotalsBySymbol: make(map[string]string),
	}

	sharedUSD := make(map[int]map[string]decimal.Decimal)
	grandTotal := decimal.Zero
	for _, d := range details {
		out.DaysBySymbol[d.symbol] = d.days
		out.TotalsBySymbol[d.symbol] = d.total.String()
		if !d.resolved {
			out.UnresolvedSymbols = append(out.UnresolvedSymbols, d.symbol)
			continue
		}
		out.ConvertedDaysBySymbol[d.symbol] = d.converted
		for day, cells := range d.convertedUSD {
			shared := sharedUSD[day]
			if shared == nil {
				shared = make(map[string]decimal.Decimal)
				sharedUSD[day] = shared
			}
			for category, sum := range cells {
				shared[category] = shared[category].Add(sum)
			}
		}
		// Grand totals convert the symbol's whole month with its last
		// in-window rate, not day by day.
		lastRate, _ := rates.last(d.symbol)
		converted := core.ConvertSum(d.symbol, lastRate.Rate, lastRate.Inverted, d.total)
		out.ConvertedTotalsBySymbol[d.symbol] = converted.String()
		grandTotal = grandTotal.Add(converted)
	}
	out.TotalUSD = grandTotal.String()
	sort.Strings(out.UnresolvedSymbols)

	for day, cells := range sharedUSD {
		row := make(map[string]string, len(cells))
		for category, sum := range cells {
			row[category] = sum.String()
		}
		out.SumUSD[day] = row
	}
	return out, nil
}

// detailSymbol builds one symbol's day-by-category tables. A symbol
// without any usable in-window rate keeps its raw table but contributes
// nothing converted.
func (e *Engine) detailSymbol(ctx context.Context, start, end time.Time, symbol string, rates dayRates) (symbolDetail, error) {
	rows, err := e.store.DayCategorySums(ctx, start, end, symbol)
	if err != nil {
		return symbolDetail{}, err
	}

	d := symbolDetail{
		symbol:       symbol,
		days:         make(map[int]map[string]string),
		converted:    make(map[int]map[string]string),
		convertedUSD: make(map[int]map[string]decimal.Decimal),
		resolved:     true,
	}
	for _, row := range rows {
		raw := d.days[row.Day]
		if raw == nil {
			raw = make(map[string]string)
			d.days[row.Day] = raw
		}
		raw[row.Category] = row.Sum.String()
		d.total = d.total.Add(row.Sum)

		if !d.resolved {
			continue
		}
		rate, ok := rates.forDay(symbol, row.Day)
		if !ok {
			d.resolved = false
			d.converted = nil
			d.convertedUSD = nil
			continue
		}
		conv := d.converted[row.Day]
		if conv == nil {
			conv = make(map[string]string)
			d.converted[row.Day] = conv
		}
		sum := core.ConvertSum(symbol, rate.Rate, rate.Inverted, row.Sum)
		conv[row.Category] = sum.String()
		cells := d.convertedUSD[row.Day]
		if cells == nil {
			cells = make(map[string]decimal.Decimal)
			d.convertedUSD[row.Day] = cells
		}
		cells[row.Category] = cells[row.Category].Add(sum)
	}
	if _, ok := rates.last(symbol); !ok {
		d.resolved = false
		d.converted = nil
		d.convertedUSD = nil
	}
	return d, nil
}
