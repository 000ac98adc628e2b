// Package storage persists transactions and exchange rates in SQLite.
//
// Amounts and rates are stored as decimal strings and every grouped sum
// is folded with shopspring decimals in Go, so no precision is ever
// lost to SQL floating-point arithmetic. SQL only filters and orders;
// sign filters go through CAST(amount AS REAL), which is exact for the
// sign even when the value itself is not representable.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"scrooge/internal/core"
	"scrooge/internal/reports"

	_ "modernc.org/sqlite"
)

// dateLayout is the stored timestamp format. RFC 3339 in UTC compares
// lexicographically, so date filters work as plain string comparisons.
const dateLayout = time.RFC3339

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func decodeTime(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored date %q: %w", s, err)
	}
	return t, nil
}

func decodeDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse stored decimal %q: %w", s, err)
	}
	return d, nil
}

// InsertTransaction stores a validated transaction and returns its id.
func (r *SQLiteRepository) InsertTransaction(ctx context.Context, t core.Transaction) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (date, amount, symbol, category) VALUES (?, ?, ?, ?)`,
		encodeTime(t.Date), t.Amount.String(), t.Symbol, t.Category)
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("transaction id: %w", err)
	}
	slog.InfoContext(ctx, "Transaction saved",
		"id", id,
		"symbol", t.Symbol,
		"category", t.Category,
		"amount", t.Amount.String())
	return id, nil
}

// InsertTransactions stores a batch atomically. One invalid row aborts
// the whole batch.
func (r *SQLiteRepository) InsertTransactions(ctx context.Context, transactions []core.Transaction) error {
	for i, t := range transactions {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("transaction %d: %w", i, err)
		}
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO transactions (date, amount, symbol, category) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare batch insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range transactions {
		if _, err := stmt.ExecContext(ctx, encodeTime(t.Date), t.Amount.String(), t.Symbol, t.Category); err != nil {
			return fmt.Errorf("insert transaction batch row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch insert: %w", err)
	}
	slog.InfoContext(ctx, "Transaction batch saved", "count", len(transactions))
	return nil
}

// InsertRates stores rate rows, silently skipping dates already present
// for the symbol, and returns the number of rows actually written.
func (r *SQLiteRepository) InsertRates(ctx context.Context, rates []core.ExchangeRate) (int, error) {
	for i, rate := range rates {
		if err := rate.Validate(); err != nil {
			return 0, fmt.Errorf("rate %d: %w", i, err)
		}
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin rate insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO exchange_rates (date, symbol, rate, inverted) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare rate insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, rate := range rates {
		inverted := 0
		if rate.Inverted {
			inverted = 1
		}
		res, err := stmt.ExecContext(ctx, encodeTime(rate.Date), rate.Symbol, rate.Rate.String(), inverted)
		if err != nil {
			return 0, fmt.Errorf("insert rate: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rate rows affected: %w", err)
		}
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit rate insert: %w", err)
	}
	return inserted, nil
}

// HasRates reports whether any rate exists for symbol.
func (r *SQLiteRepository) HasRates(ctx context.Context, symbol string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM exchange_rates WHERE symbol = ? LIMIT 1`, symbol).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check rates for %s: %w", symbol, err)
	}
	return true, nil
}

// SymbolsWithRates lists the distinct symbols that have at least one
// stored rate.
func (r *SQLiteRepository) SymbolsWithRates(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT symbol FROM exchange_rates ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("list rate symbols: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// txRow is one raw transaction row before the Go-side decimal fold.
type txRow struct {
	date     time.Time
	amount   decimal.Decimal
	symbol   string
	category string
}

func (r *SQLiteRepository) queryTxRows(ctx context.Context, query string, args ...any) ([]txRow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []txRow
	for rows.Next() {
		var dateStr, amountStr string
		var row txRow
		if err := rows.Scan(&dateStr, &amountStr, &row.symbol, &row.category); err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		if row.date, err = decodeTime(dateStr); err != nil {
			return nil, err
		}
		if row.amount, err = decodeDecimal(amountStr); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// signFilter restricts a query to expenses. Amounts are TEXT, so the
// comparison casts; the cast is only trusted for the sign.
const signFilter = ` AND CAST(amount AS REAL) <= 0`

func (r *SQLiteRepository) SumByCategory(ctx context.Context, start, end time.Time, expensesOnly bool) ([]reports.SymbolCategorySum, error) {
	query := `SELECT date, amount, symbol, category FROM transactions WHERE date >= ? AND date <= ?`
	if expensesOnly {
		query += signFilter
	}
	query += ` ORDER BY id`
	raw, err := r.queryTxRows(ctx, query, encodeTime(start), encodeTime(end))
	if err != nil {
		return nil, err
	}

	type key struct{ symbol, category string }
	sums := make(map[key]decimal.Decimal)
	var order []key
	for _, row := range raw {
		k := key{row.symbol, row.category}
		if _, seen := sums[k]; !seen {
			order = append(order, k)
		}
		sums[k] = sums[k].Add(row.amount)
	}
	out := make([]reports.SymbolCategorySum, 0, len(order))
	for _, k := range order {
		out = append(out, reports.SymbolCategorySum{Symbol: k.symbol, Category: k.category, Sum: sums[k]})
	}
	return out, nil
}

func (r *SQLiteRepository) SumByDay(ctx context.Context, start, end time.Time, offsetHours int, expensesOnly bool) ([]reports.SymbolDaySum, error) {
	query := `SELECT date, amount, symbol, category FROM transactions WHERE date >= ? AND date <= ?`
	if expensesOnly {
		query += signFilter
	}
	query += ` ORDER BY id`
	raw, err := r.queryTxRows(ctx, query, encodeTime(start), encodeTime(end))
	if err != nil {
		return nil, err
	}

	type key struct{ symbol, day string }
	sums := make(map[key]decimal.Decimal)
	var order []key
	for _, row := range raw {
		day := row.date.Add(time.Duration(offsetHours) * time.Hour).UTC().Format("2006-01-02")
		k := key{row.symbol, day}
		if _, seen := sums[k]; !seen {
			order = append(order, k)
		}
		sums[k] = sums[k].Add(row.amount)
	}
	out := make([]reports.SymbolDaySum, 0, len(order))
	for _, k := range order {
		out = append(out, reports.SymbolDaySum{Symbol: k.symbol, Day: k.day, Sum: sums[k]})
	}
	return out, nil
}

func (r *SQLiteRepository) SumBySymbolThrough(ctx context.Context, asOf time.Time) ([]reports.SymbolSum, error) {
	raw, err := r.queryTxRows(ctx,
		`SELECT date, amount, symbol, category FROM transactions WHERE date <= ? ORDER BY id`,
		encodeTime(asOf))
	if err != nil {
		return nil, err
	}

	sums := make(map[string]decimal.Decimal)
	var order []string
	for _, row := range raw {
		if _, seen := sums[row.symbol]; !seen {
			order = append(order, row.symbol)
		}
		sums[row.symbol] = sums[row.symbol].Add(row.amount)
	}
	out := make([]reports.SymbolSum, 0, len(order))
	for _, s := range order {
		out = append(out, reports.SymbolSum{Symbol: s, Sum: sums[s]})
	}
	return out, nil
}

func (r *SQLiteRepository) ExpensesInWindow(ctx context.Context, start, end time.Time) ([]core.Transaction, error) {
	raw, err := r.queryTxRows(ctx,
		`SELECT date, amount, symbol, category FROM transactions
		 WHERE date >= ? AND date < ? AND CAST(amount AS REAL) < 0 ORDER BY date, id`,
		encodeTime(start), encodeTime(end))
	if err != nil {
		return nil, err
	}
	out := make([]core.Transaction, 0, len(raw))
	for _, row := range raw {
		out = append(out, core.Transaction{
			Date:     row.date,
			Amount:   row.amount,
			Symbol:   row.symbol,
			Category: row.category,
		})
	}
	return out, nil
}

func (r *SQLiteRepository) DayCategorySums(ctx context.Context, start, end time.Time, symbol string) ([]reports.DayCategorySum, error) {
	raw, err := r.queryTxRows(ctx,
		`SELECT date, amount, symbol, category FROM transactions
		 WHERE symbol = ? AND date >= ? AND date < ? ORDER BY date, id`,
		symbol, encodeTime(start), encodeTime(end))
	if err != nil {
		return nil, err
	}

	type key struct {
		day      int
		category string
	}
	sums := make(map[key]decimal.Decimal)
	var order []key
	for _, row := range raw {
		k := key{row.date.Day(), row.category}
		if _, seen := sums[k]; !seen {
			order = append(order, k)
		}
		sums[k] = sums[k].Add(row.amount)
	}
	out := make([]reports.DayCategorySum, 0, len(order))
	for _, k := range order {
		out = append(out, reports.DayCategorySum{Day: k.day, Category: k.category, Sum: sums[k]})
	}
	return out, nil
}

func (r *SQLiteRepository) ActiveSymbols(ctx context.Context, start, end time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT symbol FROM transactions WHERE date >= ? AND date < ?
		 GROUP BY symbol ORDER BY MIN(id)`,
		encodeTime(start), encodeTime(end))
	if err != nil {
		return nil, fmt.Errorf("list active symbols: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (r *SQLiteRepository) LatestRates(ctx context.Context, asOf time.Time, symbols []string) ([]core.ExchangeRate, error) {
	out := make([]core.ExchangeRate, 0, len(symbols))
	for _, symbol := range symbols {
		var dateStr, rateStr string
		var inverted int
		err := r.db.QueryRowContext(ctx,
			`SELECT date, rate, inverted FROM exchange_rates
			 WHERE symbol = ? AND date <= ? ORDER BY date DESC LIMIT 1`,
			symbol, encodeTime(asOf)).Scan(&dateStr, &rateStr, &inverted)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("latest rate for %s: %w", symbol, err)
		}
		rate, err := decodeRate(dateStr, symbol, rateStr, inverted)
		if err != nil {
			return nil, err
		}
		out = append(out, rate)
	}
	return out, nil
}

func (r *SQLiteRepository) RatesInWindow(ctx context.Context, start, end time.Time, symbols []string) ([]core.ExchangeRate, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(symbols)), ",")
	args := make([]any, 0, len(symbols)+2)
	for _, s := range symbols {
		args = append(args, s)
	}
	args = append(args, encodeTime(start), encodeTime(end))

	rows, err := r.db.QueryContext(ctx,
		`SELECT date, symbol, rate, inverted FROM exchange_rates
		 WHERE symbol IN (`+placeholders+`) AND date >= ? AND date < ? ORDER BY date`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("list rates in window: %w", err)
	}
	defer rows.Close()

	var out []core.ExchangeRate
	for rows.Next() {
		var dateStr, symbol, rateStr string
		var inverted int
		if err := rows.Scan(&dateStr, &symbol, &rateStr, &inverted); err != nil {
			return nil, fmt.Errorf("scan rate row: %w", err)
		}
		rate, err := decodeRate(dateStr, symbol, rateStr, inverted)
		if err != nil {
			return nil, err
		}
		out = append(out, rate)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Symbols(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT symbol FROM transactions GROUP BY symbol ORDER BY COUNT(*) DESC, symbol`)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (r *SQLiteRepository) Categories(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT category FROM transactions GROUP BY category ORDER BY COUNT(*) DESC, category`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (r *SQLiteRepository) MonthsWithTransactions(ctx context.Context) ([]reports.YearMonth, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT substr(date, 1, 7) FROM transactions ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("list transaction months: %w", err)
	}
	defer rows.Close()

	var out []reports.YearMonth
	for rows.Next() {
		var ym string
		if err := rows.Scan(&ym); err != nil {
			return nil, fmt.Errorf("scan month row: %w", err)
		}
		t, err := time.Parse("2006-01", ym)
		if err != nil {
			return nil, fmt.Errorf("parse month %q: %w", ym, err)
		}
		out = append(out, reports.YearMonth{Year: t.Year(), Month: int(t.Month())})
	}
	return out, rows.Err()
}

func decodeRate(dateStr, symbol, rateStr string, inverted int) (core.ExchangeRate, error) {
	date, err := decodeTime(dateStr)
	if err != nil {
		return core.ExchangeRate{}, err
	}
	rate, err := decodeDecimal(rateStr)
	if err != nil {
		return core.ExchangeRate{}, err
	}
	return core.ExchangeRate{Date: date, Symbol: symbol, Rate: rate, Inverted: inverted != 0}, nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan string row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
