// Package schedule drives the crawler manager from a cron schedule file.
// Entries live in a YAML file so operators edit schedules without a
// rebuild; the control API mutates the same file.
package schedule

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/newslook/newslook/internal/config"
	"github.com/newslook/newslook/internal/crawler"
)

// historySize bounds the run history ring.
const historySize = 50

// pollInterval is how often a running entry's status is re-checked.
const pollInterval = 500 * time.Millisecond

var (
	ErrEntryExists   = errors.New("schedule: entry name already exists")
	ErrEntryNotFound = errors.New("schedule: entry not found")
)

// Params mirrors the crawl parameters an entry carries.
type Params struct {
	MaxItems   int      `yaml:"max_items,omitempty" json:"max_items,omitempty"`
	Days       int      `yaml:"days,omitempty" json:"days,omitempty"`
	UseProxy   bool     `yaml:"use_proxy,omitempty" json:"use_proxy,omitempty"`
	Categories []string `yaml:"categories,omitempty" json:"categories,omitempty"`
}

// Entry is one scheduled crawl.
type Entry struct {
	Name    string `yaml:"name" json:"name"`
	Cron    string `yaml:"cron" json:"cron"`
	Source  string `yaml:"source" json:"source"`
	Params  Params `yaml:"params,omitempty" json:"params,omitempty"`
	Enabled bool   `yaml:"enabled" json:"enabled"`

	// MaxRuntime stops the triggered crawl after this long. Zero means
	// unbounded.
	MaxRuntime config.Duration `yaml:"max_runtime,omitempty" json:"max_runtime,omitempty"`
}

// RunOutcome is the terminal state of one triggered run.
type RunOutcome string

const (
	RunCompleted RunOutcome = "completed"
	RunSkipped   RunOutcome = "skipped"
	RunRefused   RunOutcome = "refused"
	RunError     RunOutcome = "error"
	RunTimedOut  RunOutcome = "timed_out"
)

// RunRecord is one row of run history.
type RunRecord struct {
	Entry      string     `json:"entry"`
	Source     string     `json:"source"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Outcome    RunOutcome `json:"outcome"`
	Stored     int64      `json:"stored"`
	Duplicates int64      `json:"duplicates"`
	Failed     int64      `json:"failed"`
	Error      string     `json:"error,omitempty"`
}

// scheduleFile is the on-disk document.
type scheduleFile struct {
	Schedules []Entry `yaml:"schedules"`
}

// Scheduler evaluates entries with robfig/cron and records run history.
type Scheduler struct {
	mgr  *crawler.Manager
	cron *cron.Cron
	path string
	log  *slog.Logger

	mu      sync.Mutex
	entries []Entry
	ids     map[string]cron.EntryID
	history []RunRecord
}

// New builds a Scheduler over the manager. path is the schedule YAML file;
// a missing file means no entries.
func New(mgr *crawler.Manager, path string) *Scheduler {
	return &Scheduler{
		mgr:  mgr,
		cron: cron.New(),
		path: path,
		log:  slog.Default().With("component", "schedule"),
		ids:  make(map[string]cron.EntryID),
	}
}

// Load reads the schedule file and registers the enabled entries.
func (s *Scheduler) Load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Info("no schedule file, starting empty", "path", s.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("schedule: read %s: %w", s.path, err)
	}

	var doc scheduleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("schedule: parse %s: %w", s.path, err)
	}

	for _, e := range doc.Schedules {
		if err := s.Add(e); err != nil {
			return fmt.Errorf("schedule: entry %q: %w", e.Name, err)
		}
	}
	s.log.Info("schedule loaded", "entries", len(doc.Schedules), "path", s.path)
	return nil
}

// save writes the current entries back to the schedule file. Callers hold mu.
func (s *Scheduler) save() error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(scheduleFile{Schedules: s.entries})
	if err != nil {
		return fmt.Errorf("schedule: marshal: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("schedule: write %s: %w", s.path, err)
	}
	return nil
}

// Add validates and registers an entry, persisting the file.
func (s *Scheduler) Add(e Entry) error {
	if e.Name == "" || e.Source == "" {
		return fmt.Errorf("schedule: name and source are required")
	}
	if _, err := cron.ParseStandard(e.Cron); err != nil {
		return fmt.Errorf("schedule: bad cron expression %q: %w", e.Cron, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[e.Name]; exists {
		return fmt.Errorf("%w: %s", ErrEntryExists, e.Name)
	}
	for _, cur := range s.entries {
		if cur.Name == e.Name {
			return fmt.Errorf("%w: %s", ErrEntryExists, e.Name)
		}
	}

	s.entries = append(s.entries, e)
	if e.Enabled {
		entry := e
		id, err := s.cron.AddFunc(e.Cron, func() { s.runEntry(entry) })
		if err != nil {
			return fmt.Errorf("schedule: register %q: %w", e.Name, err)
		}
		s.ids[e.Name] = id
	}
	return s.save()
}

// Remove drops an entry by name and persists the file.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, e := range s.entries {
		if e.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}

	if id, ok := s.ids[name]; ok {
		s.cron.Remove(id)
		delete(s.ids, name)
	}
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	return s.save()
}

// Entries returns a copy of the configured entries.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// History returns the recorded runs, oldest first.
func (s *Scheduler) History() []RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RunRecord(nil), s.history...)
}

// Start begins evaluating cron expressions.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", "entries", len(s.Entries()))
}

// Stop stops triggering new runs and returns a context that is done when
// in-flight jobs finish.
func (s *Scheduler) Stop() <-chan struct{} {
	return s.cron.Stop().Done()
}

// runEntry executes one triggered entry: skip if the source is already
// running, start the crawl, then wait for the cycle to reach a terminal
// state while honoring MaxRuntime.
func (s *Scheduler) runEntry(e Entry) {
	rec := RunRecord{
		Entry:     e.Name,
		Source:    e.Source,
		StartedAt: time.Now().UTC(),
	}

	if st, ok := s.mgr.Status()[e.Source]; ok &&
		(st.State == crawler.StateRunning || st.State == crawler.StateStopping) {
		s.log.Info("skipping scheduled run, source busy", "entry", e.Name, "source", e.Source)
		rec.Outcome = RunSkipped
		rec.FinishedAt = time.Now().UTC()
		s.record(rec)
		return
	}

	err := s.mgr.Start([]string{e.Source}, crawler.Params{
		MaxItems:      e.Params.MaxItems,
		Days:          e.Params.Days,
		UseProxy:      e.Params.UseProxy,
		Categories:    e.Params.Categories,
		FromScheduler: true,
	})
	if err != nil {
		s.log.Warn("scheduled start refused", "entry", e.Name, "error", err)
		rec.Outcome = RunRefused
		rec.Error = err.Error()
		rec.FinishedAt = time.Now().UTC()
		s.record(rec)
		return
	}

	rec.Outcome = s.awaitCompletion(e, &rec)
	rec.FinishedAt = time.Now().UTC()
	s.record(rec)
	s.log.Info("scheduled run finished",
		"entry", e.Name, "outcome", rec.Outcome, "stored", rec.Stored)
}

// awaitCompletion polls the worker until it leaves the running states,
// stopping it when MaxRuntime elapses.
func (s *Scheduler) awaitCompletion(e Entry, rec *RunRecord) RunOutcome {
	var deadline time.Time
	if e.MaxRuntime > 0 {
		deadline = time.Now().Add(e.MaxRuntime.Std())
	}
	timedOut := false

	for {
		time.Sleep(pollInterval)
		st, ok := s.mgr.Status()[e.Source]
		if !ok {
			return RunError
		}
		if st.State != crawler.StateRunning && st.State != crawler.StateStopping {
			rec.Stored = st.ItemsStored
			rec.Duplicates = st.ItemsDuplicate
			rec.Failed = st.ItemsFailed
			rec.Error = st.LastError
			switch {
			case timedOut:
				return RunTimedOut
			case st.State == crawler.StateError:
				return RunError
			default:
				return RunCompleted
			}
		}
		if !deadline.IsZero() && time.Now().After(deadline) && !timedOut {
			timedOut = true
			_ = s.mgr.Stop([]string{e.Source})
		}
	}
}

func (s *Scheduler) record(rec RunRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, rec)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
}
