// Package config loads application configuration with layered precedence:
// built-in defaults, then an optional YAML file, then environment variables.
// Command-line flag overrides are applied by the binaries on top of the
// returned Config.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	DB      DBConfig      `yaml:"db"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Crawler CrawlerConfig `yaml:"crawler"`

	// Sources maps a source name (sina, eastmoney, ...) to its overrides.
	// Sources absent from the map run with defaults.
	Sources map[string]SourceConfig `yaml:"sources"`
}

// DBConfig holds SQLite parameters.
type DBConfig struct {
	Path        string `yaml:"path"`
	BusyTimeout int    `yaml:"busy_timeout_ms"`
	CacheSize   int    `yaml:"cache_size"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
}

// Addr returns the full listen address (host:port).
func (c ServerConfig) Addr() string {
	return c.Host + c.Port
}

// LogConfig holds logging parameters. Both binaries log to stdout; Dir is
// carried for deployments that redirect output under a log directory.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Dir    string `yaml:"dir"`
}

// SlogLevel translates the configured level string to a slog.Level.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Duration wraps time.Duration so YAML values like "30s" parse naturally.
type Duration time.Duration

// UnmarshalYAML parses either a Go duration string or a number of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("config: invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("config: invalid duration node: %w", err)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalYAML writes the duration back in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// CrawlerConfig holds crawl behavior shared across sources.
type CrawlerConfig struct {
	// GlobalQPS caps outbound HTTP requests per second across all workers.
	GlobalQPS float64 `yaml:"global_qps"`

	// Concurrency is the default number of parallel article fetches per worker.
	Concurrency int `yaml:"concurrency"`

	// MaxAttempts, BackoffBase and BackoffCap drive the HTTP retry policy.
	MaxAttempts int      `yaml:"max_attempts"`
	BackoffBase Duration `yaml:"backoff_base"`
	BackoffCap  Duration `yaml:"backoff_cap"`

	// RequestTimeout is the per-attempt HTTP deadline.
	RequestTimeout Duration `yaml:"request_timeout"`

	// StopGrace bounds how long Stop waits for a worker to reach idle.
	StopGrace Duration `yaml:"stop_grace"`

	// MaxConsecutiveFailures flips a worker into the error state.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`

	// ProxyURL, when set, routes article fetches through an HTTP proxy.
	ProxyURL string `yaml:"proxy_url"`

	// UserAgents rotates through this pool; empty falls back to defaults.
	UserAgents []string `yaml:"user_agents"`

	// ScheduleFile points at the YAML file holding schedule entries.
	ScheduleFile string `yaml:"schedule_file"`

	// RunOnStart triggers one crawl of every enabled source at daemon startup.
	RunOnStart bool `yaml:"run_on_start"`
}

// SourceConfig holds per-source overrides.
type SourceConfig struct {
	Enabled     *bool `yaml:"enabled"`
	Concurrency int   `yaml:"concurrency"`
}

// SourceEnabled reports whether the named source should crawl. Sources are
// enabled unless explicitly disabled.
func (c *Config) SourceEnabled(name string) bool {
	sc, ok := c.Sources[name]
	if !ok || sc.Enabled == nil {
		return true
	}
	return *sc.Enabled
}

// SourceConcurrency returns the fetch concurrency for the named source,
// falling back to the global default.
func (c *Config) SourceConcurrency(name string) int {
	if sc, ok := c.Sources[name]; ok && sc.Concurrency > 0 {
		return sc.Concurrency
	}
	return c.Crawler.Concurrency
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		DB: DBConfig{
			Path:        "data/db/finance_news.db",
			BusyTimeout: 5000,
			CacheSize:   10000,
		},
		Server: ServerConfig{
			Host: "",
			Port: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Dir:    "logs",
		},
		Crawler: CrawlerConfig{
			GlobalQPS:              8,
			Concurrency:            5,
			MaxAttempts:            3,
			BackoffBase:            Duration(time.Second),
			BackoffCap:             Duration(30 * time.Second),
			RequestTimeout:         Duration(20 * time.Second),
			StopGrace:              Duration(30 * time.Second),
			MaxConsecutiveFailures: 10,
			ScheduleFile:           "schedules.yaml",
			RunOnStart:             false,
		},
	}
}

// knownTopKeys is used to warn about unrecognized top-level YAML keys.
var knownTopKeys = map[string]bool{
	"db": true, "server": true, "log": true, "crawler": true, "sources": true,
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty and present), then environment variables. A malformed file or a
// malformed environment value is a fatal configuration error.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			slog.Warn("config: file not found, using defaults", "path", path)
		case err != nil:
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		default:
			warnUnknownKeys(data, path)
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	if cfg.Crawler.Concurrency <= 0 {
		return cfg, fmt.Errorf("config: crawler.concurrency must be positive")
	}
	if cfg.Crawler.GlobalQPS <= 0 {
		return cfg, fmt.Errorf("config: crawler.global_qps must be positive")
	}
	if cfg.DB.Path == "" {
		return cfg, fmt.Errorf("config: db.path must not be empty")
	}

	return cfg, nil
}

// warnUnknownKeys logs a warning for every top-level key the Config struct
// does not recognize. Unknown keys are otherwise ignored.
func warnUnknownKeys(data []byte, path string) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return // Unmarshal into Config will report this.
	}
	for key := range raw {
		if !knownTopKeys[key] {
			slog.Warn("config: ignoring unknown key", "key", key, "path", path)
		}
	}
}

// applyEnv overrides configuration fields from NEWSLOOK_* environment
// variables.
func applyEnv(cfg *Config) error {
	cfg.DB.Path = envOr("NEWSLOOK_DB_PATH", cfg.DB.Path)
	cfg.Server.Port = envOr("NEWSLOOK_PORT", cfg.Server.Port)
	cfg.Server.Host = envOr("NEWSLOOK_HOST", cfg.Server.Host)
	cfg.Log.Level = envOr("NEWSLOOK_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Dir = envOr("NEWSLOOK_LOG_DIR", cfg.Log.Dir)
	cfg.Crawler.ProxyURL = envOr("NEWSLOOK_PROXY_URL", cfg.Crawler.ProxyURL)
	cfg.Crawler.ScheduleFile = envOr("NEWSLOOK_SCHEDULE_FILE", cfg.Crawler.ScheduleFile)

	var err error
	cfg.Crawler.GlobalQPS, err = envOrFloat("NEWSLOOK_GLOBAL_QPS", cfg.Crawler.GlobalQPS)
	if err != nil {
		return err
	}
	cfg.Crawler.Concurrency, err = envOrInt("NEWSLOOK_CONCURRENCY", cfg.Crawler.Concurrency)
	if err != nil {
		return err
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envOrFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}
