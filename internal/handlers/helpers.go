package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// apiError is the error envelope every non-2xx response carries. RequestID
// correlates the response with the server log line.
type apiError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id"`
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json", "err", err)
	}
}

// writeError writes the error envelope and logs it under a correlation id.
func writeError(w http.ResponseWriter, status int, code, message, detail string) {
	id := uuid.NewString()
	if status >= 500 {
		slog.Error("request failed", "request_id", id, "code", code, "detail", detail)
	} else {
		slog.Debug("request rejected", "request_id", id, "code", code, "detail", detail)
	}
	writeJSON(w, status, map[string]apiError{"error": {
		Code:      code,
		Message:   message,
		Detail:    detail,
		RequestID: id,
	}})
}

// intParam reads an integer query parameter, falling back to def when the
// parameter is absent. Malformed values return an error.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parameter %q must be an integer", name)
	}
	return n, nil
}

// dateLayouts are accepted by date query parameters.
var dateLayouts = []string{"2006-01-02", time.RFC3339}

// timeParam reads a date or RFC3339 query parameter. A zero time means the
// parameter was absent.
func timeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parameter %q must be YYYY-MM-DD or RFC3339", name)
}
