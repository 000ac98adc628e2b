// Package worker runs the exchange-rate import loop: AMQP-triggered
// imports for new symbols plus a periodic refresh of every known
// symbol.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"scrooge/internal/amqp"
	"scrooge/internal/rates"
)

// RateWorker imports exchange rates on demand and on a ticker.
type RateWorker struct {
	importer *rates.Importer
	interval time.Duration
}

func NewRateWorker(importer *rates.Importer, refreshInterval time.Duration) *RateWorker {
	return &RateWorker{
		importer: importer,
		interval: refreshInterval,
	}
}

// HandleImportMessage processes one rate import request from AMQP.
func (w *RateWorker) HandleImportMessage(ctx context.Context, msg *amqp.RateImportMessage) error {
	slog.InfoContext(ctx, "Processing rate import message", "symbol", msg.Symbol)

	if err := w.importer.EnsureSymbol(ctx, msg.Symbol); err != nil {
		return fmt.Errorf("ensure rates for %s: %w", msg.Symbol, err)
	}
	return nil
}

// RunPeriodicRefresh re-imports every known symbol on the configured
// interval until the context is cancelled. One refresh runs
// immediately at startup.
func (w *RateWorker) RunPeriodicRefresh(ctx context.Context) error {
	w.refresh(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping periodic rate refresh", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			w.refresh(ctx)
		}
	}
}

func (w *RateWorker) refresh(ctx context.Context) {
	slog.InfoContext(ctx, "Refreshing exchange rates")
	if err := w.importer.RefreshAll(ctx); err != nil {
		slog.ErrorContext(ctx, "Rate refresh finished with errors", "error", err)
		return
	}
	slog.InfoContext(ctx, "Rate refresh complete")
}
