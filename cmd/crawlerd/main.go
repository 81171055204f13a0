// Command crawlerd runs the headless crawl daemon: the scheduler drives the
// per-source workers without exposing an HTTP surface. Deployments that want
// remote control run cmd/api instead (or alongside, sharing the database).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
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
	"github.com/newslook/newslook/internal/models"
	"github.com/newslook/newslook/internal/monitor"
	"github.com/newslook/newslook/internal/pipeline"
	"github.com/newslook/newslook/internal/schedule"
)

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
	dbPath := flag.String("db", "", "database path override")
	logLevel := flag.String("log-level", "", "log level override (debug|info|warn|error)")
	runOnce := flag.Bool("once", false, "run one crawl of every enabled source, then exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	if *dbPath != "" {
		cfg.DB.Path = *dbPath
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	setupLogging(cfg.Log)

	slog.Info("crawler daemon starting")

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

	if *runOnce {
		return runOnceAndExit(mgr, cfg)
	}

	sched := schedule.New(mgr, cfg.Crawler.ScheduleFile)
	if err := sched.Load(); err != nil {
		slog.Error("schedule load failed", "err", err)
		return exitConfig
	}
	sched.Start()
	slog.Info("scheduler running", "entries", len(sched.Entries()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if cfg.Crawler.RunOnStart {
		// Give the process a moment to settle before the first crawl.
		go func() {
			time.Sleep(5 * time.Second)
			if err := mgr.Start(nil, crawler.Params{}); err != nil {
				slog.Warn("startup crawl", "err", err)
			}
		}()
	}

	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())

	grace := cfg.Crawler.StopGrace.Std()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	select {
	case <-sched.Stop():
	case <-shutdownCtx.Done():
		slog.Warn("scheduler stop timed out")
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		slog.Warn("crawler shutdown", "err", err)
		return exitOK
	}

	slog.Info("crawler daemon stopped")
	return exitOK
}

// runOnceAndExit triggers one crawl of every enabled source and waits for
// the workers to drain, honoring SIGINT for early cancellation.
func runOnceAndExit(mgr *crawler.Manager, cfg config.Config) int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := mgr.Start(nil, crawler.Params{}); err != nil {
		slog.Error("start failed", "err", err)
		return exitStartup
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case sig := <-sigCh:
			slog.Info("interrupted", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Crawler.StopGrace.Std())
			defer cancel()
			_ = mgr.Shutdown(ctx)
			return exitInterrupted
		case <-ticker.C:
			busy := false
			for _, st := range mgr.Status() {
				if st.State == crawler.StateRunning || st.State == crawler.StateStopping {
					busy = true
					break
				}
			}
			if !busy {
				logRunSummary(mgr)
				return exitOK
			}
		}
	}
}

func logRunSummary(mgr *crawler.Manager) {
	for name, st := range mgr.Status() {
		slog.Info("crawl finished",
			"source", name,
			"listed", st.ItemsListed,
			"stored", st.ItemsStored,
			"duplicate", st.ItemsDuplicate,
			"skipped", st.ItemsSkipped,
			"failed", st.ItemsFailed,
		)
	}
}

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

func burst(qps float64) int {
	if qps < 1 {
		return 1
	}
	return int(qps)
}
