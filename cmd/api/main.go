// Command api starts the news HTTP API server: the query endpoints over the
// unified store plus crawler control and scheduling.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/newslook/newslook/internal/config"
	"github.com/newslook/newslook/internal/crawler"
	"github.com/newslook/newslook/internal/db"
	"github.com/newslook/newslook/internal/extract"
	"github.com/newslook/newslook/internal/fetch"
	"github.com/newslook/newslook/internal/handlers"
	"github.com/newslook/newslook/internal/models"
	"github.com/newslook/newslook/internal/monitor"
	"github.com/newslook/newslook/internal/pipeline"
	"github.com/newslook/newslook/internal/schedule"
)

// Exit codes: 0 clean, 2 configuration error, 3 startup failure, 130
// interrupted before the server was ready.
const (
	exitOK          = 0
	exitConfig      = 2
	exitStartup     = 3
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	addr := flag.String("addr", "", "listen address override (host:port)")
	dbPath := flag.String("db", "", "database path override")
	logLevel := flag.String("log-level", "", "log level override (debug|info|warn|error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	if *addr != "" {
		cfg.Server.Host, cfg.Server.Port = splitAddr(*addr)
	}
	if *dbPath != "" {
		cfg.DB.Path = *dbPath
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	setupLogging(cfg.Log)

	conn, err := db.Open(cfg.DB.Path, db.Options{
		BusyTimeout: cfg.DB.BusyTimeout,
		CacheSize:   cfg.DB.CacheSize,
	})
	if err != nil {
		slog.Error("database open failed", "err", err)
		return exitStartup
	}
	defer conn.Close()

	store := models.NewNewsStore(conn, cfg.DB.Path)
	mon := monitor.New(256, 100)

	limiter := rate.NewLimiter(rate.Limit(cfg.Crawler.GlobalQPS), burst(cfg.Crawler.GlobalQPS))
	client, err := fetch.New(fetch.Config{
		MaxAttempts: cfg.Crawler.MaxAttempts,
		BackoffBase: cfg.Crawler.BackoffBase.Std(),
		BackoffCap:  cfg.Crawler.BackoffCap.Std(),
		Timeout:     cfg.Crawler.RequestTimeout.Std(),
		UserAgents:  cfg.Crawler.UserAgents,
		ProxyURL:    cfg.Crawler.ProxyURL,
	}, limiter, mon)
	if err != nil {
		slog.Error("http client setup failed", "err", err)
		return exitConfig
	}

	registry := extract.NewDefaultRegistry(client, client.Limiter(), mon)
	pipe := pipeline.New(store, mon)
	mgr := crawler.NewManager(registry, pipe, mon, &cfg)

	sched := schedule.New(mgr, cfg.Crawler.ScheduleFile)
	if err := sched.Load(); err != nil {
		slog.Error("schedule load failed", "err", err)
		return exitConfig
	}
	sched.Start()

	router := handlers.NewRouter(
		&handlers.NewsHandler{Store: store},
		&handlers.CrawlerHandler{Manager: mgr, Scheduler: sched, Monitor: mon},
		&handlers.HealthHandler{Store: store, Manager: mgr, Monitor: mon, Started: time.Now()},
	)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		slog.Error("listen failed", "addr", srv.Addr, "err", err)
		return exitStartup
	}

	select {
	case sig := <-sigCh:
		slog.Info("interrupted before ready", "signal", sig.String())
		ln.Close()
		return exitInterrupted
	default:
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return exitStartup
		}
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Crawler.StopGrace.Std())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown", "err", err)
	}
	select {
	case <-sched.Stop():
	case <-shutdownCtx.Done():
		slog.Warn("scheduler stop timed out")
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		slog.Warn("crawler shutdown", "err", err)
	}

	slog.Info("server stopped")
	return exitOK
}

// setupLogging installs the default slog handler per the config.
func setupLogging(lc config.LogConfig) {
	opts := &slog.HandlerOptions{Level: lc.SlogLevel()}
	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// splitAddr splits "host:port" into the config's host and ":port" form.
func splitAddr(addr string) (host, port string) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", addr
	}
	return h, ":" + p
}

// burst sizes the limiter burst to roughly one second of budget.
func burst(qps float64) int {
	if qps < 1 {
		return 1
	}
	return int(qps)
}
