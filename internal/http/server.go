// Package http exposes the reporting and transaction API as JSON over
// net/http.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"scrooge/internal/cache"
	"scrooge/internal/core"
	"scrooge/internal/reports"
)

// TransactionWriter is the write surface of the storage layer the API
// depends on.
type TransactionWriter interface {
	InsertTransaction(ctx context.Context, t core.Transaction) (int64, error)
	InsertTransactions(ctx context.Context, transactions []core.Transaction) error
}

// RateImportTrigger requests an exchange-rate import for a symbol,
// either by publishing to the worker queue or by importing in-process.
type RateImportTrigger interface {
	RequestImport(ctx context.Context, symbol string) error
}

type Server struct {
	http.Server

	engine  *reports.Engine
	writer  TransactionWriter
	trigger RateImportTrigger

	// defaultOffset is the UTC offset (hours) used when a request does
	// not carry a timezone parameter.
	defaultOffset int

	rateLimiter *rateLimiter

	// The expensive month reports are cached; every write clears both
	// caches so aggregates are never stale.
	detailingCache   *cache.LRUCache[reports.MonthDetailing]
	yearBalanceCache *cache.LRUCache[reports.YearBalance]

	stopCacheCleanup chan struct{}
	shutdownOnce     sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run
// server.
func NewServer(addr string, engine *reports.Engine, writer TransactionWriter, trigger RateImportTrigger, defaultOffset int) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		engine:           engine,
		writer:           writer,
		trigger:          trigger,
		defaultOffset:    defaultOffset,
		rateLimiter:      newRateLimiter(),
		detailingCache:   cache.NewLRUCache[reports.MonthDetailing](100, 5*time.Minute),
		yearBalanceCache: cache.NewLRUCache[reports.YearBalance](20, 5*time.Minute),
		stopCacheCleanup: make(chan struct{}),
	}

	go s.startCacheCleanup()

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)

	mux.HandleFunc("/total", s.withMiddleware(s.handleTotal))
	mux.HandleFunc("/symbols", s.withMiddleware(s.handleSymbols))
	mux.HandleFunc("/categories", s.withMiddleware(s.handleCategories))
	mux.HandleFunc("/range", s.withMiddleware(s.handleMonthRange))
	mux.HandleFunc("/month", s.withMiddleware(s.handleMonthDetailing))
	mux.HandleFunc("/day_expenses", s.withMiddleware(s.handleDayExpenses))
	mux.HandleFunc("/date_expenses", s.withMiddleware(s.handleDateExpenses))
	mux.HandleFunc("/30_day_expenses", s.withMiddleware(s.handleThirtyDayExpenses))
	mux.HandleFunc("/week_expenses", s.withMiddleware(s.handleWeekExpenses))
	mux.HandleFunc("/month_expenses", s.withMiddleware(s.handleMonthExpenses))
	mux.HandleFunc("/year_balance", s.withMiddleware(s.handleYearBalance))
	mux.HandleFunc("/transaction", s.withMiddleware(s.handleCreateTransaction))
	mux.HandleFunc("/transactions", s.withMiddleware(s.handleCreateTransactions))

	return s
}

func (s *Server) startCacheCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			detailingCleaned := s.detailingCache.CleanExpired()
			balanceCleaned := s.yearBalanceCache.CleanExpired()
			if detailingCleaned > 0 || balanceCleaned > 0 {
				slog.Debug("Cache cleanup completed",
					"detailing_entries_removed", detailingCleaned,
					"balance_entries_removed", balanceCleaned)
			}
		case <-s.stopCacheCleanup:
			return
		}
	}
}

// Shutdown stops the cleanup goroutines and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.stopCacheCleanup != nil {
			close(s.stopCacheCleanup)
		}
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// invalidateReportCaches drops every cached report after a write.
func (s *Server) invalidateReportCaches() {
	s.detailingCache.Clear()
	s.yearBalanceCache.Clear()
}

type contextKey string

const requestIDKey contextKey = "request_id"

// withMiddleware adds security headers, CORS, rate limiting and request
// logging to a handler.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := extractClientIP(r)
		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP,
			"user_agent", r.Header.Get("User-Agent"))

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if r.Method == http.MethodPost && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", duration.Milliseconds(),
			"client_ip", clientIP)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
