package rates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scrooge/internal/core"
)

// PriceFeed supplies daily closing prices for a symbol.
type PriceFeed interface {
	DailyCloses(ctx context.Context, symbol string, start, end time.Time) ([]Quote, error)
}

// RateStore is the storage surface the importer writes through.
type RateStore interface {
	InsertRates(ctx context.Context, rates []core.ExchangeRate) (int, error)
	HasRates(ctx context.Context, symbol string) (bool, error)
	SymbolsWithRates(ctx context.Context) ([]string, error)
}

// Importer pulls recent daily closes from the feed and stores them as
// exchange rates, skipping dates already present per symbol.
type Importer struct {
	feed         PriceFeed
	store        RateStore
	lookbackDays int
	now          func() time.Time
}

func NewImporter(feed PriceFeed, store RateStore, lookbackDays int) *Importer {
	return &Importer{
		feed:         feed,
		store:        store,
		lookbackDays: lookbackDays,
		now:          time.Now,
	}
}

// ImportSymbol imports the lookback window of daily closes for symbol
// and returns the number of new rate rows. Exempt symbols need no
// rates and import nothing.
func (i *Importer) ImportSymbol(ctx context.Context, symbol string) (int, error) {
	if core.IsExempt(symbol) {
		return 0, nil
	}

	end := i.today()
	start := end.AddDate(0, 0, -i.lookbackDays)
	quotes, err := i.feed.DailyCloses(ctx, symbol, start, end)
	if err != nil {
		return 0, fmt.Errorf("import %s: %w", symbol, err)
	}

	rows := make([]core.ExchangeRate, 0, len(quotes))
	for _, q := range quotes {
		rows = append(rows, core.ExchangeRate{
			Date:     q.Date,
			Symbol:   symbol,
			Rate:     q.Close,
			Inverted: IsInverted(symbol),
		})
	}
	if len(rows) == 0 {
		slog.InfoContext(ctx, "No rates in feed window", "symbol", symbol)
		return 0, nil
	}

	inserted, err := i.store.InsertRates(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("store rates for %s: %w", symbol, err)
	}
	slog.InfoContext(ctx, "Rates saved",
		"symbol", symbol,
		"fetched", len(rows),
		"inserted", inserted)
	return inserted, nil
}

// EnsureSymbol imports rates for symbol only when none are stored yet.
func (i *Importer) EnsureSymbol(ctx context.Context, symbol string) error {
	if core.IsExempt(symbol) {
		return nil
	}
	ok, err := i.store.HasRates(ctx, symbol)
	if err != nil {
		return fmt.Errorf("check rates for %s: %w", symbol, err)
	}
	if ok {
		return nil
	}
	_, err = i.ImportSymbol(ctx, symbol)
	return err
}

// RefreshAll re-imports the lookback window for every symbol that
// already has stored rates. Failing symbols do not stop the others.
func (i *Importer) RefreshAll(ctx context.Context) error {
	symbols, err := i.store.SymbolsWithRates(ctx)
	if err != nil {
		return fmt.Errorf("list rate symbols: %w", err)
	}
	var errs []error
	for _, symbol := range symbols {
		if _, err := i.ImportSymbol(ctx, symbol); err != nil {
			slog.ErrorContext(ctx, "Rate refresh failed", "symbol", symbol, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// today is midnight UTC of the current day, the feed window's end.
func (i *Importer) today() time.Time {
	now := i.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
