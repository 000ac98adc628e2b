// Package rates imports daily exchange rates from the Yahoo Finance
// historical-prices CSV feed.
package rates

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// symbolTickers maps local symbols to feed tickers. Symbols without an
// entry are passed to the feed as-is. Some portfolio pseudo-symbols
// track the tenge and reuse its ticker.
var symbolTickers = map[string]string{
	"KZT":          "KZT=X",
	"BTC":          "BTC-USD",
	"ETH":          "ETH-USD",
	"EUR":          "EURUSD=X",
	"GBP":          "GBPUSD",
	"AED":          "AED=X",
	"ILS":          "ILSUSD=X",
	"PROPORTUNITY": "KZT=X",
	"IKAPITALIST":  "KZT=X",
	"MYTAXI":       "KZT=X",
}

// invertedSymbols marks symbols whose feed quotes are units of symbol
// per USD, so conversion divides.
var invertedSymbols = map[string]bool{
	"KZT":          true,
	"PROPORTUNITY": true,
	"IKAPITALIST":  true,
	"MYTAXI":       true,
	"AED":          true,
}

// TickerFor returns the feed ticker used for symbol.
func TickerFor(symbol string) string {
	if ticker, ok := symbolTickers[symbol]; ok {
		return ticker
	}
	return symbol
}

// IsInverted reports whether symbol's feed quotes are inverted.
func IsInverted(symbol string) bool {
	return invertedSymbols[symbol]
}

// Quote is one daily closing price.
type Quote struct {
	Date  time.Time
	Close decimal.Decimal
}

// Feed downloads daily closes as CSV.
type Feed struct {
	baseURL string
	client  *http.Client
}

func NewFeed(baseURL string, timeout time.Duration) *Feed {
	return &Feed{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// DailyCloses fetches the daily closing prices of symbol between start
// and end. Rows without a usable close (the feed emits "null" for
// gap days) are skipped.
func (f *Feed) DailyCloses(ctx context.Context, symbol string, start, end time.Time) ([]Quote, error) {
	u := fmt.Sprintf("%s/%s?period1=%d&period2=%d&interval=1d&events=history&includeAdjustedClose=true",
		f.baseURL, url.PathEscape(TickerFor(symbol)), start.Unix(), end.Unix())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	res, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch daily closes for %s: %w", symbol, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("feed returned %d for %s: %s", res.StatusCode, symbol, body)
	}

	return parseDailyCloses(res.Body)
}

// ParseQuotesCSV reads daily closes from a CSV in the feed's format,
// for importing previously downloaded files.
func ParseQuotesCSV(r io.Reader) ([]Quote, error) {
	return parseDailyCloses(r)
}

// parseDailyCloses reads the feed CSV. The header names the columns;
// only Date and Close are used.
func parseDailyCloses(r io.Reader) ([]Quote, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read feed header: %w", err)
	}
	dateCol, closeCol := -1, -1
	for i, name := range header {
		switch name {
		case "Date":
			dateCol = i
		case "Close":
			closeCol = i
		}
	}
	if dateCol < 0 || closeCol < 0 {
		return nil, fmt.Errorf("feed header %v misses Date or Close", header)
	}

	var quotes []Quote
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read feed row: %w", err)
		}
		if len(record) <= dateCol || len(record) <= closeCol {
			continue
		}
		date, err := time.Parse("2006-01-02", record[dateCol])
		if err != nil {
			continue
		}
		closePrice, err := decimal.NewFromString(record[closeCol])
		if err != nil || !closePrice.IsPositive() {
			continue
		}
		quotes = append(quotes, Quote{Date: date, Close: closePrice})
	}
	return quotes, nil
}
