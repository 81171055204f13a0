package handlers

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter assembles the full HTTP surface. Any nil handler group leaves
// its routes unregistered, so the read-only API can run without a crawler.
func NewRouter(news *NewsHandler, crawl *CrawlerHandler, health *HealthHandler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	if health != nil {
		r.Get("/health", health.Health)
	}

	if news != nil {
		r.Get("/api/stats", news.Stats)
		r.Get("/api/news", news.ListNews)
		r.Get("/api/news/{id}", news.GetNews)
		r.Get("/api/sources", news.ListSources)
		r.Get("/api/categories", news.ListCategories)
		r.Get("/api/trends", news.Trends)
		r.Get("/api/keywords/top", news.TopKeywords)
	}

	if crawl != nil {
		r.Get("/api/crawler/status", crawl.Status)
		r.Post("/api/crawler/start", crawl.Start)
		r.Post("/api/crawler/stop", crawl.Stop)
		r.Get("/api/metrics", crawl.Metrics)

		r.Get("/api/schedules", crawl.ScheduleList)
		r.Post("/api/schedules", crawl.ScheduleAdd)
		r.Delete("/api/schedules/{name}", crawl.ScheduleRemove)
	}

	return r
}
