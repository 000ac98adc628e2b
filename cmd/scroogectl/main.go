// scroogectl is the operator command line for the scrooge backend:
// importing rates and transactions, adding single transactions and
// printing reports straight from the database.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"scrooge/internal/cli"
	"scrooge/internal/config"
	"scrooge/internal/core"
	"scrooge/internal/export"
	"scrooge/internal/rates"
	"scrooge/internal/reports"
	"scrooge/internal/storage"
)

const usage = `Usage: scroogectl <command> [flags]

Commands:
  import-rates SYMBOL FILE   import exchange rates from a CSV file
  import-transactions FILE   import transactions from a CSV file
  add-transaction            add a single transaction
  total                      print converted totals per symbol
  day-expenses               print the day expense report
  year-balance               print or export the year balance table
`

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := cli.LoadAndValidateConfig(logger)
	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	ctx := context.Background()
	engine := reports.NewEngine(repo)

	var err error
	switch os.Args[1] {
	case "import-rates":
		err = runImportRates(ctx, repo, os.Args[2:])
	case "import-transactions":
		err = runImportTransactions(ctx, repo, os.Args[2:])
	case "add-transaction":
		err = runAddTransaction(ctx, repo, os.Args[2:])
	case "total":
		err = runTotal(ctx, engine, os.Args[2:])
	case "day-expenses":
		err = runDayExpenses(ctx, engine, cfg.DefaultUTCOffset, os.Args[2:])
	case "year-balance":
		err = runYearBalance(ctx, engine, cfg, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("Command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func runImportRates(ctx context.Context, repo *storage.SQLiteRepository, args []string) error {
	fs := flag.NewFlagSet("import-rates", flag.ExitOnError)
	inverted := fs.Bool("inverted", false, "store rates as units of symbol per USD (default: inferred from symbol)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("import-rates needs SYMBOL and FILE arguments")
	}
	symbol := strings.ToUpper(fs.Arg(0))

	f, err := os.Open(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("open rates file: %w", err)
	}
	defer f.Close()

	quotes, err := rates.ParseQuotesCSV(f)
	if err != nil {
		return fmt.Errorf("parse rates file: %w", err)
	}

	inv := rates.IsInverted(symbol)
	if isFlagSet(fs, "inverted") {
		inv = *inverted
	}

	rows := make([]core.ExchangeRate, 0, len(quotes))
	for _, q := range quotes {
		rows = append(rows, core.ExchangeRate{
			Date:     q.Date,
			Symbol:   symbol,
			Rate:     q.Close,
			Inverted: inv,
		})
	}

	inserted, err := repo.InsertRates(ctx, rows)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d rates for %s (%d already present)\n", inserted, symbol, len(rows)-inserted)
	return nil
}

// runImportTransactions reads a CSV with a date,amount,symbol,category
// header. Dates are either RFC 3339 or plain 2006-01-02.
func runImportTransactions(ctx context.Context, repo *storage.SQLiteRepository, args []string) error {
	fs := flag.NewFlagSet("import-transactions", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("import-transactions needs a FILE argument")
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("open transactions file: %w", err)
	}
	defer f.Close()

	transactions, err := parseTransactionsCSV(f)
	if err != nil {
		return err
	}
	if err := repo.InsertTransactions(ctx, transactions); err != nil {
		return err
	}
	fmt.Printf("imported %d transactions\n", len(transactions))
	return nil
}

func parseTransactionsCSV(r io.Reader) ([]core.Transaction, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := map[string]int{}
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"date", "amount", "symbol", "category"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("header misses column %q", required)
		}
	}

	var transactions []core.Transaction
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		line++
		date, err := parseDate(record[cols["date"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		amount, err := core.ParseAmount(record[cols["amount"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		transactions = append(transactions, core.Transaction{
			Date:     date,
			Amount:   amount,
			Symbol:   strings.ToUpper(strings.TrimSpace(record[cols["symbol"]])),
			Category: strings.TrimSpace(record[cols["category"]]),
		})
	}
	return transactions, nil
}

func runAddTransaction(ctx context.Context, repo *storage.SQLiteRepository, args []string) error {
	fs := flag.NewFlagSet("add-transaction", flag.ExitOnError)
	dateStr := fs.String("date", "", "transaction date (RFC 3339 or 2006-01-02, default now)")
	amountStr := fs.String("amount", "", "signed amount, expenses negative")
	symbol := fs.String("symbol", "", "currency symbol")
	category := fs.String("category", "", "category name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	date := time.Now().UTC()
	if *dateStr != "" {
		var err error
		date, err = parseDate(*dateStr)
		if err != nil {
			return err
		}
	}
	amount, err := core.ParseAmount(*amountStr)
	if err != nil {
		return err
	}

	t := core.Transaction{
		Date:     date,
		Amount:   amount,
		Symbol:   strings.ToUpper(strings.TrimSpace(*symbol)),
		Category: strings.TrimSpace(*category),
	}
	id, err := repo.InsertTransaction(ctx, t)
	if err != nil {
		return err
	}
	fmt.Printf("transaction %d added\n", id)
	return nil
}

func runTotal(ctx context.Context, engine *reports.Engine, args []string) error {
	fs := flag.NewFlagSet("total", flag.ExitOnError)
	dateStr := fs.String("date", "", "include transactions up to this date (default now)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	date, err := dateOrNow(*dateStr)
	if err != nil {
		return err
	}

	total, err := engine.Total(ctx, date)
	if err != nil {
		return err
	}
	return printJSON(total)
}

func runDayExpenses(ctx context.Context, engine *reports.Engine, defaultOffset int, args []string) error {
	fs := flag.NewFlagSet("day-expenses", flag.ExitOnError)
	dateStr := fs.String("date", "", "day to report on (default today)")
	offset := fs.Int("timezone", defaultOffset, "UTC offset in hours for day bucketing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	date, err := dateOrNow(*dateStr)
	if err != nil {
		return err
	}

	day, err := engine.DayExpenses(ctx, date, *offset)
	if err != nil {
		return err
	}
	return printJSON(day)
}

func runYearBalance(ctx context.Context, engine *reports.Engine, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("year-balance", flag.ExitOnError)
	year := fs.Int("year", time.Now().UTC().Year(), "year to report on")
	csvPath := fs.String("csv", "", "write the table to this CSV file instead of stdout")
	toSheets := fs.Bool("sheets", false, "push the table to the configured Google Sheets spreadsheet")
	if err := fs.Parse(args); err != nil {
		return err
	}

	balance, err := engine.YearBalance(ctx, *year)
	if err != nil {
		return err
	}

	if *csvPath != "" {
		if err := export.WriteCSV(*csvPath, balance); err != nil {
			return err
		}
		fmt.Printf("year balance for %d written to %s\n", balance.Year, *csvPath)
		return nil
	}

	if *toSheets {
		exporter, err := export.NewSheetsExporter(ctx,
			cfg.GoogleSpreadsheetID, cfg.GoogleSheetName,
			cfg.GoogleCredentialsFile, cfg.GoogleCredentialsJSON)
		if err != nil {
			return err
		}
		if err := exporter.Export(ctx, balance); err != nil {
			return err
		}
		fmt.Printf("year balance for %d pushed to spreadsheet %s\n", balance.Year, cfg.GoogleSpreadsheetID)
		return nil
	}

	w := csv.NewWriter(os.Stdout)
	if err := w.WriteAll(balance.Rows); err != nil {
		return err
	}
	if len(balance.UnresolvedSymbols) > 0 {
		fmt.Fprintf(os.Stderr, "unresolved symbols: %s\n", strings.Join(balance.UnresolvedSymbols, ", "))
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", core.ErrInvalidDate, s)
	}
	return t, nil
}

func dateOrNow(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	return parseDate(s)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func isFlagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
