package http

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"scrooge/internal/core"
	"scrooge/internal/reports"
)

func (s *Server) handleTotal(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	date, err := parseDateParam(r, "date")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	total, err := s.engine.Total(r.Context(), date)
	if err != nil {
		slog.ErrorContext(r.Context(), "Total report failed", "error", err)
		respondError(w, http.StatusInternalServerError, "report failed")
		return
	}
	respondJSON(w, http.StatusOK, total)
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	symbols, err := s.engine.Symbols(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Symbol list failed", "error", err)
		respondError(w, http.StatusInternalServerError, "report failed")
		return
	}
	respondJSON(w, http.StatusOK, symbols)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	categories, err := s.engine.Categories(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Category list failed", "error", err)
		respondError(w, http.StatusInternalServerError, "report failed")
		return
	}
	respondJSON(w, http.StatusOK, categories)
}

func (s *Server) handleMonthRange(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	months, err := s.engine.MonthRange(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Month range failed", "error", err)
		respondError(w, http.StatusInternalServerError, "report failed")
		return
	}
	respondJSON(w, http.StatusOK, months)
}

func (s *Server) handleMonthDetailing(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	year, month, err := parseYearMonth(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	cacheKey := fmt.Sprintf("%04d-%02d", year, month)
	if detailing, ok := s.detailingCache.Get(cacheKey); ok {
		respondJSON(w, http.StatusOK, detailing)
		return
	}

	detailing, err := s.engine.MonthDetailing(r.Context(), year, time.Month(month))
	if err != nil {
		slog.ErrorContext(r.Context(), "Month detailing failed", "error", err, "year", year, "month", month)
		respondError(w, http.StatusInternalServerError, "report failed")
		return
	}
	s.detailingCache.Set(cacheKey, detailing)
	respondJSON(w, http.StatusOK, detailing)
}

func (s *Server) handleDayExpenses(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	offset, err := s.parseOffset(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	expenses, err := s.engine.DayExpenses(r.Context(), time.Now().UTC(), offset)
	if err != nil {
		slog.ErrorContext(r.Context(), "Day expenses failed", "error", err)
		respondError(w, http.StatusInternalServerError, "report failed")
		return
	}
	respondJSON(w, http.StatusOK, expenses)
}

func (s *Server) handleDateExpenses(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	offset, err := s.parseOffset(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	year, month, err := parseYearMonth(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	dayOfMonth := time.Now().Day()
	if v := strings.TrimSpace(r.URL.Query().Get("day")); v != "" {
		if dayOfMonth, err = strconv.Atoi(v); err != nil || dayOfMonth < 1 || dayOfMonth > 31 {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid day %q", v))
			return
		}
	}

	date := time.Date(year, time.Month(month), dayOfMonth, 12, 0, 0, 0, time.UTC)
	expenses, err := s.engine.DayExpenses(r.Context(), date, offset)
	if err != nil {
		slog.ErrorContext(r.Context(), "Date expenses failed", "error", err, "date", date)
		respondError(w, http.StatusInternalServerError, "report failed")
		return
	}
	respondJSON(w, http.StatusOK, expenses)
}

func (s *Server) handleThirtyDayExpenses(w http.ResponseWriter, r *http.Request) {
	s.handleWindowExpenses(w, r, func(groupBy reports.GroupBy, offset int) (reports.RangeBreakdown, error) {
		return s.engine.ThirtyDayExpenses(r.Context(), time.Now().UTC(), groupBy, offset)
	})
}

func (s *Server) handleWeekExpenses(w http.ResponseWriter, r *http.Request) {
	s.handleWindowExpenses(w, r, func(groupBy reports.GroupBy, offset int) (reports.RangeBreakdown, error) {
		return s.engine.WeekExpenses(r.Context(), time.Now().UTC(), groupBy, offset)
	})
}

func (s *Server) handleMonthExpenses(w http.ResponseWriter, r *http.Request) {
	s.handleWindowExpenses(w, r, func(groupBy reports.GroupBy, offset int) (reports.RangeBreakdown, error) {
		return s.engine.MonthExpenses(r.Context(), time.Now().UTC(), groupBy, offset)
	})
}

func (s *Server) handleWindowExpenses(w http.ResponseWriter, r *http.Request, run func(reports.GroupBy, int) (reports.RangeBreakdown, error)) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	offset, err := s.parseOffset(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	groupBy, err := parseGroupBy(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	breakdown, err := run(reports.GroupBy(groupBy), offset)
	if err != nil {
		slog.ErrorContext(r.Context(), "Window report failed", "error", err, "url", r.URL.Path)
		respondError(w, http.StatusInternalServerError, "report failed")
		return
	}
	respondJSON(w, http.StatusOK, breakdown)
}

func (s *Server) handleYearBalance(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	year := time.Now().Year()
	if v := strings.TrimSpace(r.URL.Query().Get("year")); v != "" {
		var err error
		if year, err = strconv.Atoi(v); err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid year %q", v))
			return
		}
	}

	cacheKey := strconv.Itoa(year)
	balance, ok := s.yearBalanceCache.Get(cacheKey)
	if !ok {
		var err error
		balance, err = s.engine.YearBalance(r.Context(), year)
		if err != nil {
			slog.ErrorContext(r.Context(), "Year balance failed", "error", err, "year", year)
			respondError(w, http.StatusInternalServerError, "report failed")
			return
		}
		s.yearBalanceCache.Set(cacheKey, balance)
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="balance_%d.csv"`, year))
		writer := csv.NewWriter(w)
		if err := writer.WriteAll(balance.Rows); err != nil {
			slog.ErrorContext(r.Context(), "CSV render failed", "error", err, "year", year)
		}
		return
	}
	respondJSON(w, http.StatusOK, balance)
}

// transactionRequest is the JSON write shape. Amount is a string so
// clients never push binary floats through the API.
type transactionRequest struct {
	Date     string `json:"date"`
	Amount   string `json:"amount"`
	Symbol   string `json:"symbol"`
	Category string `json:"category"`
}

func (tr transactionRequest) toTransaction() (core.Transaction, error) {
	date, err := parseFlexibleDate(tr.Date)
	if err != nil {
		return core.Transaction{}, err
	}
	amount, err := core.ParseAmount(tr.Amount)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("invalid amount %q: %w", tr.Amount, err)
	}
	t := core.Transaction{
		Date:     date,
		Amount:   amount,
		Symbol:   strings.TrimSpace(tr.Symbol),
		Category: strings.TrimSpace(tr.Category),
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}

func parseFlexibleDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}
	if date, err := time.Parse(time.RFC3339, v); err == nil {
		return date, nil
	}
	date, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC 3339", v)
	}
	return date, nil
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	t, err := req.toTransaction()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.writer.InsertTransaction(r.Context(), t)
	if err != nil {
		slog.ErrorContext(r.Context(), "Transaction insert failed", "error", err)
		respondError(w, http.StatusInternalServerError, "insert failed")
		return
	}
	s.invalidateReportCaches()
	s.requestRateImport(r, t.Symbol)

	respondJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleCreateTransactions(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var reqs []transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(reqs) == 0 {
		respondError(w, http.StatusBadRequest, "empty transaction list")
		return
	}

	transactions := make([]core.Transaction, 0, len(reqs))
	for i, req := range reqs {
		t, err := req.toTransaction()
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("transaction %d: %v", i, err))
			return
		}
		transactions = append(transactions, t)
	}

	if err := s.writer.InsertTransactions(r.Context(), transactions); err != nil {
		slog.ErrorContext(r.Context(), "Transaction batch insert failed", "error", err)
		respondError(w, http.StatusInternalServerError, "insert failed")
		return
	}
	s.invalidateReportCaches()
	seen := make(map[string]struct{})
	for _, t := range transactions {
		if _, ok := seen[t.Symbol]; ok {
			continue
		}
		seen[t.Symbol] = struct{}{}
		s.requestRateImport(r, t.Symbol)
	}

	respondJSON(w, http.StatusCreated, map[string]int{"inserted": len(transactions)})
}

// requestRateImport asks for an exchange-rate import when a symbol may
// lack rates. Import failures never fail the write.
func (s *Server) requestRateImport(r *http.Request, symbol string) {
	if s.trigger == nil || core.IsExempt(symbol) {
		return
	}
	if err := s.trigger.RequestImport(r.Context(), symbol); err != nil {
		slog.ErrorContext(r.Context(), "Rate import request failed", "error", err, "symbol", symbol)
	}
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}
