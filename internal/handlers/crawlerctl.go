package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/newslook/newslook/internal/crawler"
	"github.com/newslook/newslook/internal/monitor"
	"github.com/newslook/newslook/internal/schedule"
)

// CrawlerHandler groups the control endpoints: worker lifecycle and
// schedule management.
type CrawlerHandler struct {
	Manager   *crawler.Manager
	Scheduler *schedule.Scheduler
	Monitor   *monitor.Monitor
}

// Status handles GET /api/crawler/status.
func (h *CrawlerHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sources": h.Manager.Status()})
}

type startRequest struct {
	Sources    []string `json:"sources"`
	MaxItems   int      `json:"max_items"`
	Days       int      `json:"days"`
	Concurrent int      `json:"concurrent"`
	UseProxy   bool     `json:"use_proxy"`
	Categories []string `json:"categories"`
}

// Start handles POST /api/crawler/start. An empty sources list starts
// every enabled source.
func (h *CrawlerHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_body", "invalid JSON body", err.Error())
			return
		}
	}
	if req.MaxItems < 0 || req.Days < 0 || req.Concurrent < 0 {
		writeError(w, http.StatusBadRequest, "bad_param", "max_items, days and concurrent must be non-negative", "")
		return
	}

	err := h.Manager.Start(req.Sources, crawler.Params{
		MaxItems:    req.MaxItems,
		Days:        req.Days,
		Concurrency: req.Concurrent,
		UseProxy:    req.UseProxy,
		Categories:  req.Categories,
	})
	switch {
	case errors.Is(err, crawler.ErrUnknownSource):
		writeError(w, http.StatusBadRequest, "unknown_source", "no such source", err.Error())
		return
	case errors.Is(err, crawler.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "already_running", "source is already running", err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "crawler", "start failed", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

type stopRequest struct {
	Sources []string `json:"sources"`
}

// Stop handles POST /api/crawler/stop.
func (h *CrawlerHandler) Stop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_body", "invalid JSON body", err.Error())
			return
		}
	}

	if err := h.Manager.Stop(req.Sources); err != nil {
		if errors.Is(err, crawler.ErrUnknownSource) {
			writeError(w, http.StatusBadRequest, "unknown_source", "no such source", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "crawler", "stop failed", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// Metrics handles GET /api/metrics: the monitor snapshot.
func (h *CrawlerHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Monitor.Snapshot())
}

// ScheduleList handles GET /api/schedules.
func (h *CrawlerHandler) ScheduleList(w http.ResponseWriter, r *http.Request) {
	entries := h.Scheduler.Entries()
	if entries == nil {
		entries = []schedule.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"schedules": entries,
		"history":   h.Scheduler.History(),
	})
}

// ScheduleAdd handles POST /api/schedules.
func (h *CrawlerHandler) ScheduleAdd(w http.ResponseWriter, r *http.Request) {
	var e schedule.Entry
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "invalid JSON body", err.Error())
		return
	}
	if err := h.Scheduler.Add(e); err != nil {
		if errors.Is(err, schedule.ErrEntryExists) {
			writeError(w, http.StatusConflict, "exists", "schedule entry already exists", e.Name)
			return
		}
		writeError(w, http.StatusBadRequest, "bad_entry", "invalid schedule entry", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// ScheduleRemove handles DELETE /api/schedules/{name}.
func (h *CrawlerHandler) ScheduleRemove(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.Scheduler.Remove(name); err != nil {
		if errors.Is(err, schedule.ErrEntryNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no schedule entry with that name", name)
			return
		}
		writeError(w, http.StatusInternalServerError, "schedule", "remove failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
