// Package handlers exposes the query and control facade over HTTP/JSON.
// Handlers are thin: validate parameters, call the store or manager, shape
// the response.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/newslook/newslook/internal/models"
)

// NewsHandler groups the read-side endpoints over the news store.
type NewsHandler struct {
	Store *models.NewsStore
}

// ListNews handles GET /api/news with paging and the filter subset.
func (h *NewsHandler) ListNews(w http.ResponseWriter, r *http.Request) {
	page, err := intParam(r, "page", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_param", "invalid paging", err.Error())
		return
	}
	pageSize, err := intParam(r, "page_size", 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_param", "invalid paging", err.Error())
		return
	}
	if pageSize > 100 {
		pageSize = 100
	}

	from, err := timeParam(r, "date_from")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_param", "invalid date range", err.Error())
		return
	}
	to, err := timeParam(r, "date_to")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_param", "invalid date range", err.Error())
		return
	}

	f := models.Filter{
		Source:   r.URL.Query().Get("source"),
		Category: r.URL.Query().Get("category"),
		Keyword:  r.URL.Query().Get("keyword"),
		Query:    r.URL.Query().Get("q"),
		From:     from,
		To:       to,
	}

	rows, total, err := h.Store.Query(r.Context(), f, page, pageSize)
	if err != nil {
		slog.Error("query news", "err", err)
		writeError(w, http.StatusInternalServerError, "storage", "query failed", "")
		return
	}
	if rows == nil {
		rows = []models.Article{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":     rows,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetNews handles GET /api/news/{id}.
func (h *NewsHandler) GetNews(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := h.Store.GetByID(r.Context(), id)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no article with that id", id)
		return
	}
	if err != nil {
		slog.Error("get news", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "storage", "lookup failed", "")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ListSources handles GET /api/sources.
func (h *NewsHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.Store.ListSources(r.Context())
	if err != nil {
		slog.Error("list sources", "err", err)
		writeError(w, http.StatusInternalServerError, "storage", "query failed", "")
		return
	}
	if sources == nil {
		sources = []models.SourceCount{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"known":   models.KnownSources,
		"sources": sources,
	})
}

// ListCategories handles GET /api/categories.
func (h *NewsHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.Store.ListCategories(r.Context())
	if err != nil {
		slog.Error("list categories", "err", err)
		writeError(w, http.StatusInternalServerError, "storage", "query failed", "")
		return
	}
	if cats == nil {
		cats = []models.SourceCount{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": cats})
}

// Stats handles GET /api/stats.
func (h *NewsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Store.Stats(r.Context())
	if err != nil {
		slog.Error("stats", "err", err)
		writeError(w, http.StatusInternalServerError, "storage", "query failed", "")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Trends handles GET /api/trends?days=7 or ?date_from=...&date_to=...
// The response carries parallel dates and counts arrays for charting.
func (h *NewsHandler) Trends(w http.ResponseWriter, r *http.Request) {
	from, err := timeParam(r, "date_from")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_param", "invalid date range", err.Error())
		return
	}
	to, err := timeParam(r, "date_to")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_param", "invalid date range", err.Error())
		return
	}
	if from.IsZero() {
		days, err := intParam(r, "days", 7)
		if err != nil || days <= 0 || days > 365 {
			writeError(w, http.StatusBadRequest, "bad_param", "days must be 1-365", "")
			return
		}
		to = time.Now().UTC()
		from = to.AddDate(0, 0, -(days - 1))
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}

	points, err := h.Store.Trends(r.Context(), from, to)
	if err != nil {
		slog.Error("trends", "err", err)
		writeError(w, http.StatusInternalServerError, "storage", "query failed", "")
		return
	}

	dates := make([]string, len(points))
	counts := make([]int64, len(points))
	for i, p := range points {
		dates[i] = p.Date
		counts[i] = p.Count
	}
	writeJSON(w, http.StatusOK, map[string]any{"dates": dates, "counts": counts})
}

// TopKeywords handles GET /api/keywords/top?k=10&date_from=...&date_to=...
func (h *NewsHandler) TopKeywords(w http.ResponseWriter, r *http.Request) {
	k, err := intParam(r, "k", 10)
	if err != nil || k <= 0 || k > 100 {
		writeError(w, http.StatusBadRequest, "bad_param", "k must be 1-100", "")
		return
	}
	from, err := timeParam(r, "date_from")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_param", "invalid date range", err.Error())
		return
	}
	to, err := timeParam(r, "date_to")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_param", "invalid date range", err.Error())
		return
	}

	top, err := h.Store.TopKeywords(r.Context(), from, to, k)
	if err != nil {
		slog.Error("top keywords", "err", err)
		writeError(w, http.StatusInternalServerError, "storage", "query failed", "")
		return
	}
	if top == nil {
		top = []models.KeywordCount{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keywords": top})
}
