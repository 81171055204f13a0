package handlers

import (
	"net/http"
	"time"

	"github.com/newslook/newslook/internal/crawler"
	"github.com/newslook/newslook/internal/models"
	"github.com/newslook/newslook/internal/monitor"
)

// HealthHandler serves liveness plus a storage and crawler summary.
type HealthHandler struct {
	Store   *models.NewsStore
	Manager *crawler.Manager
	Monitor *monitor.Monitor
	Started time.Time
}

// Health handles GET /health. Degraded storage turns the status to
// "degraded" but still answers 200; a dead database answers 503.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	dbHealth, err := h.Store.Health(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "down",
			"uptime_s": int64(time.Since(h.Started).Seconds()),
			"db":       map[string]any{"ok": false},
		})
		return
	}

	status := "ok"
	if !dbHealth.IntegrityOK {
		status = "degraded"
	}

	body := map[string]any{
		"status":   status,
		"uptime_s": int64(time.Since(h.Started).Seconds()),
		"db": map[string]any{
			"ok":             dbHealth.IntegrityOK,
			"news_count":     dbHealth.NewsCount,
			"size_bytes":     dbHealth.SizeBytes,
			"last_insert_at": dbHealth.LastInsertAt,
		},
	}
	if h.Manager != nil {
		body["sources"] = h.Manager.Status()
	}
	writeJSON(w, http.StatusOK, body)
}
