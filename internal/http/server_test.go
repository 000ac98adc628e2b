package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"scrooge/internal/reports"
	"scrooge/internal/storage"
)

type fakeTrigger struct {
	symbols []string
}

func (f *fakeTrigger) RequestImport(_ context.Context, symbol string) error {
	f.symbols = append(f.symbols, symbol)
	return nil
}

func newTestServer(t *testing.T) (*Server, *fakeTrigger) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "scrooge.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	trigger := &fakeTrigger{}
	s := NewServer(":0", reports.NewEngine(repo), repo, trigger, 0)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s, trigger
}

func postJSON(t *testing.T, s *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestCreateTransactionAndTotal(t *testing.T) {
	s, trigger := newTestServer(t)

	rec := postJSON(t, s, "/transaction",
		`{"date":"2024-03-05","amount":"-100","symbol":"USD","category":"Food"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /transaction status = %d, body %s", rec.Code, rec.Body)
	}
	var created map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created["id"] == 0 {
		t.Error("response carries no transaction id")
	}
	if len(trigger.symbols) != 0 {
		t.Errorf("rate import requested for exempt USD: %v", trigger.symbols)
	}

	rec = get(t, s, "/total?date=2024-12-31")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /total status = %d, body %s", rec.Code, rec.Body)
	}
	var total reports.Total
	if err := json.Unmarshal(rec.Body.Bytes(), &total); err != nil {
		t.Fatalf("decode total: %v", err)
	}
	if total.TotalUSD != "-100" {
		t.Errorf("totalUSD = %q, want -100", total.TotalUSD)
	}
}

func TestCreateTransactionTriggersRateImport(t *testing.T) {
	s, trigger := newTestServer(t)

	rec := postJSON(t, s, "/transaction",
		`{"date":"2024-03-05","amount":"-5000","symbol":"KZT","category":"Food"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if len(trigger.symbols) != 1 || trigger.symbols[0] != "KZT" {
		t.Errorf("trigger symbols = %v, want [KZT]", trigger.symbols)
	}
}

func TestCreateTransactionValidation(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{oops`},
		{name: "bad amount", body: `{"date":"2024-03-05","amount":"abc","symbol":"USD","category":"Food"}`},
		{name: "bad date", body: `{"date":"05.03.2024","amount":"-1","symbol":"USD","category":"Food"}`},
		{name: "missing category", body: `{"date":"2024-03-05","amount":"-1","symbol":"USD"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if rec := postJSON(t, s, "/transaction", tc.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", rec.Code, rec.Body)
			}
		})
	}
}

func TestCreateTransactionsBatch(t *testing.T) {
	s, trigger := newTestServer(t)

	rec := postJSON(t, s, "/transactions", `[
		{"date":"2024-03-05","amount":"-100","symbol":"USD","category":"Food"},
		{"date":"2024-03-05","amount":"-5000","symbol":"KZT","category":"Food"},
		{"date":"2024-03-06","amount":"-300","symbol":"KZT","category":"Transport"}
	]`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var res map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res["inserted"] != 3 {
		t.Errorf("inserted = %d, want 3", res["inserted"])
	}
	// One import request per distinct non-exempt symbol.
	if len(trigger.symbols) != 1 || trigger.symbols[0] != "KZT" {
		t.Errorf("trigger symbols = %v, want [KZT]", trigger.symbols)
	}
}

func TestSymbolsAndCategories(t *testing.T) {
	s, _ := newTestServer(t)
	postJSON(t, s, "/transaction", `{"date":"2024-03-05","amount":"-100","symbol":"USD","category":"Food"}`)

	rec := get(t, s, "/symbols")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "USD") {
		t.Errorf("GET /symbols = %d %s", rec.Code, rec.Body)
	}
	rec = get(t, s, "/categories")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Food") {
		t.Errorf("GET /categories = %d %s", rec.Code, rec.Body)
	}
}

func TestInvalidQueryParams(t *testing.T) {
	s, _ := newTestServer(t)

	if rec := get(t, s, "/day_expenses?timezone=abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad timezone status = %d, want 400", rec.Code)
	}
	if rec := get(t, s, "/30_day_expenses?group_by=week"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad group_by status = %d, want 400", rec.Code)
	}
	if rec := get(t, s, "/month?month=13"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad month status = %d, want 400", rec.Code)
	}
}

func TestYearBalanceCSV(t *testing.T) {
	s, _ := newTestServer(t)
	postJSON(t, s, "/transaction", `{"date":"2024-03-05","amount":"-100","symbol":"USD","category":"Food"}`)

	rec := get(t, s, "/year_balance?year=2024&format=csv")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 16 {
		t.Errorf("csv lines = %d, want 16", len(lines))
	}
	if !strings.HasPrefix(lines[0], ",sum,") {
		t.Errorf("header = %q, want it to start with ,sum,", lines[0])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s, "/transaction")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /transaction status = %d, want 405", rec.Code)
	}
	rec = postJSON(t, s, "/total", `{}`)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /total status = %d, want 405", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	if rec := get(t, s, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	if rec := get(t, s, "/readyz"); rec.Code != http.StatusOK {
		t.Errorf("readyz = %d", rec.Code)
	}
}

func TestMonthDetailingCached(t *testing.T) {
	s, _ := newTestServer(t)
	postJSON(t, s, "/transaction", `{"date":"2024-03-05","amount":"-100","symbol":"USD","category":"Food"}`)

	rec := get(t, s, "/month?year=2024&month=3")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if s.detailingCache.Size() != 1 {
		t.Errorf("detailing cache size = %d, want 1", s.detailingCache.Size())
	}

	// A write clears the cache.
	postJSON(t, s, "/transaction", `{"date":"2024-03-06","amount":"-50","symbol":"USD","category":"Food"}`)
	if s.detailingCache.Size() != 0 {
		t.Errorf("detailing cache size after write = %d, want 0", s.detailingCache.Size())
	}
	var detailing reports.MonthDetailing
	rec = get(t, s, "/month?year=2024&month=3")
	if err := json.Unmarshal(rec.Body.Bytes(), &detailing); err != nil {
		t.Fatalf("decode detailing: %v", err)
	}
	if detailing.TotalsBySymbol["USD"] != "-150" {
		t.Errorf("TotalsBySymbol[USD] = %q, want -150 after cache invalidation", detailing.TotalsBySymbol["USD"])
	}
}

func TestDateExpenses(t *testing.T) {
	s, _ := newTestServer(t)
	postJSON(t, s, "/transaction", `{"date":"2024-03-05","amount":"-100","symbol":"USD","category":"Food"}`)

	rec := get(t, s, "/date_expenses?year=2024&month=3&day=5&timezone=0")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var expenses reports.DayExpenses
	if err := json.Unmarshal(rec.Body.Bytes(), &expenses); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if expenses.SumsBySymbol["USD"] != "-100" {
		t.Errorf("SumsBySymbol[USD] = %q, want -100", expenses.SumsBySymbol["USD"])
	}
}
