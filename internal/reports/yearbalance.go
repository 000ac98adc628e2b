package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"scrooge/internal/core"
)

// yearBalancePeriods is the number of aggregated periods in a year
// balance: the twelve calendar months plus the boundary period of the
// following January.
const yearBalancePeriods = 13

// YearBalance is the year table: a header row, one row per period
// holding the period label, the converted total and the per-category
// converted sums, and trailing Sum and Mean rows. Rows render directly
// to CSV.
type YearBalance struct {
	Year              int        `json:"year"`
	Rows              [][]string `json:"rows"`
	UnresolvedSymbols []string   `json:"unresolvedSymbols,omitempty"`
}

// YearBalance aggregates each of the year's months plus the next
// January boundary, grouped by category and converted to the base
// currency. The reference date of each period is the month's last day
// minus one, so the backward month walk still covers the whole month.
func (e *Engine) YearBalance(ctx context.Context, year int) (YearBalance, error) {
	refs := make([]time.Time, 0, yearBalancePeriods)
	for m := time.January; m <= time.December; m++ {
		refs = append(refs, time.Date(year, m+1, -1, 0, 0, 0, 0, time.UTC))
	}
	refs = append(refs, time.Date(year+1, time.February, -1, 0, 0, 0, 0, time.UTC))

	categories, err := e.store.Categories(ctx)
	if err != nil {
		return YearBalance{}, fmt.Errorf("list categories: %w", err)
	}
	categoryIndex := make(map[string]int, len(categories))
	for i, c := range categories {
		categoryIndex[c] = i
	}

	periods := make([]RangeBreakdown, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			p, err := e.MonthSums(gctx, ref, 0)
			if err != nil {
				return fmt.Errorf("aggregate %s: %w", ref.Format("2006-01"), err)
			}
			periods[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return YearBalance{}, err
	}

	out := YearBalance{Year: year}
	header := append([]string{"", "sum"}, categories...)
	out.Rows = append(out.Rows, header)

	sumRow := make([]decimal.Decimal, len(categories))
	yearSum := decimal.Zero
	unresolved := make(map[string]struct{})
	for i, ref := range refs {
		period := periods[i]
		row := make([]decimal.Decimal, len(categories))
		for _, groups := range period.ConvertedTransactionsBySymbol {
			for category, val := range groups {
				if category == SumKey {
					continue
				}
				sum, err := decimal.NewFromString(val)
				if err != nil {
					return YearBalance{}, fmt.Errorf("parse %s sum %q: %w", category, val, err)
				}
				idx, ok := categoryIndex[category]
				if !ok {
					continue
				}
				row[idx] = row[idx].Add(sum)
				sumRow[idx] = sumRow[idx].Add(sum)
			}
		}
		total, err := decimal.NewFromString(period.TotalSum)
		if err != nil {
			return YearBalance{}, fmt.Errorf("parse period total %q: %w", period.TotalSum, err)
		}
		yearSum = yearSum.Add(total)
		out.Rows = append(out.Rows, append([]string{ref.Month().String(), period.TotalSum}, formatRow(row)...))
		for _, s := range period.UnresolvedSymbols {
			unresolved[s] = struct{}{}
		}
	}

	divisor := decimal.NewFromInt(yearBalancePeriods)
	meanRow := make([]decimal.Decimal, len(sumRow))
	for i, sum := range sumRow {
		meanRow[i] = sum.DivRound(divisor, core.DisplayScale)
	}
	out.Rows = append(out.Rows, append([]string{"Sum", yearSum.String()}, formatRow(sumRow)...))
	out.Rows = append(out.Rows, append([]string{"Mean", yearSum.DivRound(divisor, core.DisplayScale).String()}, formatRow(meanRow)...))

	if len(unresolved) > 0 {
		out.UnresolvedSymbols = sortedSymbols(unresolved)
	}
	return out, nil
}

func formatRow(row []decimal.Decimal) []string {
	out := make([]string, len(row))
	for i, d := range row {
		out[i] = d.String()
	}
	return out
}
