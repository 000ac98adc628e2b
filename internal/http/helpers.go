package http

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// generateRequestID creates a unique request ID for tracing.
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// parseOffset reads the timezone query parameter (UTC offset in hours).
func (s *Server) parseOffset(r *http.Request) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get("timezone"))
	if v == "" {
		return s.defaultOffset, nil
	}
	offset, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid timezone %q: must be an integer UTC offset", v)
	}
	if offset < -12 || offset > 14 {
		return 0, fmt.Errorf("invalid timezone %d: must be between -12 and 14", offset)
	}
	return offset, nil
}

// parseGroupBy reads the group_by query parameter.
func parseGroupBy(r *http.Request) (string, error) {
	v := strings.TrimSpace(r.URL.Query().Get("group_by"))
	switch v {
	case "", "category":
		return "category", nil
	case "day":
		return "day", nil
	default:
		return "", fmt.Errorf("invalid group_by %q: must be category or day", v)
	}
}

// parseYearMonth extracts year and month query parameters, defaulting
// to the current month.
func parseYearMonth(r *http.Request) (year, month int, err error) {
	now := time.Now()
	year, month = now.Year(), int(now.Month())

	if v := strings.TrimSpace(r.URL.Query().Get("year")); v != "" {
		if year, err = strconv.Atoi(v); err != nil {
			return 0, 0, fmt.Errorf("invalid year %q", v)
		}
	}
	if v := strings.TrimSpace(r.URL.Query().Get("month")); v != "" {
		if month, err = strconv.Atoi(v); err != nil || month < 1 || month > 12 {
			return 0, 0, fmt.Errorf("invalid month %q", v)
		}
	}
	return year, month, nil
}

// parseDateParam reads a YYYY-MM-DD query parameter, defaulting to now.
func parseDateParam(r *http.Request, name string) (time.Time, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return time.Now().UTC(), nil
	}
	date, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: want YYYY-MM-DD", name, v)
	}
	return date, nil
}
