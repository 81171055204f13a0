// Package crawler orchestrates per-source crawl workers: lifecycle control,
// bounded in-worker concurrency, failure cooldowns, and lifecycle events.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/newslook/newslook/internal/config"
	"github.com/newslook/newslook/internal/extract"
	"github.com/newslook/newslook/internal/monitor"
	"github.com/newslook/newslook/internal/pipeline"
)

// ErrAlreadyRunning is returned by Start when the source is mid-cycle.
var ErrAlreadyRunning = errors.New("crawler: source already running")

// ErrUnknownSource is returned for a source name with no registered extractor.
var ErrUnknownSource = errors.New("crawler: unknown source")

// ErrCoolingDown is returned for scheduler-triggered starts while a source
// sits in its post-failure cooldown window.
var ErrCoolingDown = errors.New("crawler: source cooling down")

// State is a worker lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateError    State = "error"
)

// Params tunes one crawl cycle.
type Params struct {
	// MaxItems caps articles processed in the cycle. Zero means no cap.
	MaxItems int
	// Days limits discovery to articles at most this old.
	Days int
	// UseProxy routes the cycle's fetches through the configured proxy.
	UseProxy bool
	// Concurrency overrides the configured fetch concurrency when positive.
	Concurrency int
	// Categories restricts discovery to the named categories.
	Categories []string
	// FromScheduler marks a scheduler-triggered start, which respects
	// cooldown windows instead of overriding them.
	FromScheduler bool
}

// SourceStatus is a point-in-time view of one worker.
type SourceStatus struct {
	Source              string     `json:"source"`
	State               State      `json:"state"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	FinishedAt          *time.Time `json:"finished_at,omitempty"`
	ItemsListed         int64      `json:"items_listed"`
	ItemsStored         int64      `json:"items_stored"`
	ItemsDuplicate      int64      `json:"items_duplicate"`
	ItemsSkipped        int64      `json:"items_skipped"`
	ItemsFailed         int64      `json:"items_failed"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	CooldownUntil       *time.Time `json:"cooldown_until,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}

// EventType classifies a CrawlEvent.
type EventType string

const (
	EventStarted  EventType = "started"
	EventStopped  EventType = "stopped"
	EventFinished EventType = "finished"
	EventErrored  EventType = "errored"
	EventStored   EventType = "stored"
)

// CrawlEvent is one lifecycle notification pushed to subscribers.
type CrawlEvent struct {
	Type      EventType `json:"type"`
	Source    string    `json:"source"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Manager owns one worker per registered source and is the single entry
// point for crawl control. Safe for concurrent use.
type Manager struct {
	registry *extract.Registry
	pipe     *pipeline.Pipeline
	mon      *monitor.Monitor
	cfg      *config.Config
	log      *slog.Logger

	mu      sync.Mutex
	workers map[string]*worker
	subs    map[int]chan CrawlEvent
	nextSub int

	wg sync.WaitGroup
}

// NewManager builds a Manager with one idle worker per registered source.
func NewManager(registry *extract.Registry, pipe *pipeline.Pipeline, mon *monitor.Monitor, cfg *config.Config) *Manager {
	m := &Manager{
		registry: registry,
		pipe:     pipe,
		mon:      mon,
		cfg:      cfg,
		log:      slog.Default().With("component", "crawler"),
		workers:  make(map[string]*worker),
		subs:     make(map[int]chan CrawlEvent),
	}
	for _, name := range registry.Names() {
		src, _ := registry.Get(name)
		m.workers[name] = newWorker(src, m)
	}
	return m
}

// resolve maps the requested names (nil or "all" meaning every enabled
// source) to workers.
func (m *Manager) resolve(sources []string) ([]*worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := len(sources) == 0 || (len(sources) == 1 && sources[0] == "all")
	if all {
		var ws []*worker
		for name, w := range m.workers {
			if m.cfg.SourceEnabled(name) {
				ws = append(ws, w)
			}
		}
		return ws, nil
	}

	var ws []*worker
	for _, name := range sources {
		w, ok := m.workers[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
		}
		ws = append(ws, w)
	}
	return ws, nil
}

// Start transitions the named sources (or all enabled ones) to running and
// returns immediately. A source that is already running yields
// ErrAlreadyRunning; the remaining sources still start.
func (m *Manager) Start(sources []string, p Params) error {
	ws, err := m.resolve(sources)
	if err != nil {
		return err
	}

	var firstErr error
	for _, w := range ws {
		if err := w.start(p); err != nil {
			m.log.Warn("start refused", "source", w.name(), "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", w.name(), err)
			}
		}
	}
	return firstErr
}

// Stop requests cooperative stop of the named sources (or all). It returns
// once the stop is requested; workers drain to idle within the configured
// grace period.
func (m *Manager) Stop(sources []string) error {
	ws, err := m.resolve(sources)
	if err != nil {
		return err
	}
	for _, w := range ws {
		w.stop()
	}
	return nil
}

// Status returns a snapshot of every worker.
func (m *Manager) Status() map[string]SourceStatus {
	m.mu.Lock()
	workers := make([]*worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.Unlock()

	out := make(map[string]SourceStatus, len(workers))
	for _, w := range workers {
		st := w.status()
		out[st.Source] = st
	}
	return out
}

// Subscribe registers an event channel. Events that would block are
// dropped, so slow consumers cannot stall workers. The returned cancel
// function unregisters and closes the channel.
func (m *Manager) Subscribe(buffer int) (<-chan CrawlEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan CrawlEvent, buffer)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
		m.mu.Unlock()
	}
	return ch, cancel
}

func (m *Manager) publish(ev CrawlEvent) {
	ev.Timestamp = time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Shutdown stops every worker and waits for them to drain, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	_ = m.Stop(nil)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("crawler: shutdown: %w", ctx.Err())
	}
}
