// Package export renders year balance tables to CSV files and pushes
// them to Google Sheets spreadsheets.
package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"scrooge/internal/reports"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// WriteCSV writes the balance rows to path, creating or truncating the file.
func WriteCSV(path string, balance reports.YearBalance) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(balance.Rows); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// SheetsExporter pushes year balance tables to a Google Sheets spreadsheet.
// Each year lands on its own sheet, named "<year> <base>".
type SheetsExporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string
}

// NewSheetsExporter creates a Sheets client from service account credentials.
// Exactly one of credentialsFile and credentialsJSON must be set.
func NewSheetsExporter(ctx context.Context, spreadsheetID, sheetBase, credentialsFile, credentialsJSON string) (*SheetsExporter, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet ID")
	}
	if strings.TrimSpace(sheetBase) == "" {
		sheetBase = "Balance"
	}

	var creds []byte
	switch {
	case strings.TrimSpace(credentialsJSON) != "":
		creds = []byte(credentialsJSON)
	case strings.TrimSpace(credentialsFile) != "":
		b, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
		creds = b
	default:
		return nil, errors.New("missing service account credentials")
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return &SheetsExporter{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetBase:     sheetBase,
	}, nil
}

func (e *SheetsExporter) sheetName(year int) string {
	return fmt.Sprintf("%d %s", year, e.sheetBase)
}

// Export replaces the year's sheet contents with the balance rows.
func (e *SheetsExporter) Export(ctx context.Context, balance reports.YearBalance) error {
	if e.svc == nil {
		return errors.New("sheets service not initialized")
	}

	sheet := e.sheetName(balance.Year)
	clearRange := fmt.Sprintf("%s!A:Z", sheet)
	if _, err := e.svc.Spreadsheets.Values.Clear(e.spreadsheetID, clearRange, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear sheet %s: %w", sheet, err)
	}

	values := make([][]any, 0, len(balance.Rows))
	for _, row := range balance.Rows {
		cells := make([]any, len(row))
		for i, cell := range row {
			cells[i] = cell
		}
		values = append(values, cells)
	}

	vr := &gsheet.ValueRange{Values: values}
	writeRange := fmt.Sprintf("%s!A1", sheet)
	if _, err := e.svc.Spreadsheets.Values.Update(e.spreadsheetID, writeRange, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do(); err != nil {
		return fmt.Errorf("update sheet %s: %w", sheet, err)
	}

	slog.InfoContext(ctx, "year balance pushed to sheets",
		"spreadsheet_id", e.spreadsheetID,
		"sheet", sheet,
		"rows", len(balance.Rows))
	return nil
}
