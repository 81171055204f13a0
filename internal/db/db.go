// Package db opens the unified SQLite news database with production-safe
// pragmas and ensures the schema exists. The single file at the configured
// path is the sole authority; the store never shards by source.
package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// Schema is the full logical schema. Every statement is idempotent so the
// database can be opened against an empty or an existing file.
const Schema = `
CREATE TABLE IF NOT EXISTS news (
	id             TEXT PRIMARY KEY,
	url            TEXT NOT NULL UNIQUE,
	title          TEXT NOT NULL,
	content        TEXT NOT NULL,
	content_html   TEXT NOT NULL DEFAULT '',
	publish_time   TIMESTAMP,
	crawl_time     TIMESTAMP NOT NULL,
	author         TEXT NOT NULL DEFAULT '',
	source         TEXT NOT NULL,
	category       TEXT NOT NULL DEFAULT '',
	sentiment      TEXT NOT NULL DEFAULT 'neutral',
	keywords       TEXT NOT NULL DEFAULT '[]',
	images         TEXT NOT NULL DEFAULT '[]',
	related_stocks TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_news_source ON news(source);
CREATE INDEX IF NOT EXISTS idx_news_category ON news(category);
CREATE INDEX IF NOT EXISTS idx_news_publish_time ON news(publish_time DESC);
CREATE INDEX IF NOT EXISTS idx_news_crawl_time ON news(crawl_time DESC);

CREATE TABLE IF NOT EXISTS keywords (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	keyword      TEXT NOT NULL UNIQUE,
	count        INTEGER NOT NULL DEFAULT 0,
	last_updated TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS news_keywords (
	news_id    TEXT NOT NULL REFERENCES news(id),
	keyword_id INTEGER NOT NULL REFERENCES keywords(id),
	PRIMARY KEY (news_id, keyword_id)
);

CREATE TABLE IF NOT EXISTS stocks (
	code         TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	count        INTEGER NOT NULL DEFAULT 0,
	last_updated TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS news_stocks (
	news_id    TEXT NOT NULL REFERENCES news(id),
	stock_code TEXT NOT NULL REFERENCES stocks(code),
	PRIMARY KEY (news_id, stock_code)
);
`

// Options tunes Open.
type Options struct {
	// BusyTimeout is PRAGMA busy_timeout in milliseconds. Default 5000.
	BusyTimeout int
	// CacheSize is PRAGMA cache_size in pages. Default 10000.
	CacheSize int
}

// Open opens (creating if absent) the SQLite database at path, applies the
// WAL pragmas, and executes the schema. Parent directories are created.
func Open(path string, opts Options) (*sql.DB, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5000
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 10000
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("db: mkdir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}

	// Each connection to :memory: is its own database, so the pool must be
	// pinned to one connection before the schema runs.
	if path == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout),
		fmt.Sprintf("PRAGMA cache_size = %d", opts.CacheSize),
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("db: %s: %w", p, err)
		}
	}

	if _, err := conn.Exec(Schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: exec schema: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}

	slog.Info("database opened", "path", path)
	return conn, nil
}

// OpenMemory opens an in-memory database for tests, closed via t.Cleanup.
func OpenMemory(t testing.TB) *sql.DB {
	t.Helper()
	conn, err := Open(":memory:", Options{})
	if err != nil {
		t.Fatalf("db.OpenMemory: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}
