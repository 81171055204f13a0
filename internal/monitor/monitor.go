// Package monitor maintains in-memory lineage and health metrics for the
// crawler: per-fetch outcomes, per-source counters, latency histograms, and
// a bounded error log. Writers are the owning workers; readers obtain
// copy-on-read snapshots and never block ingestion.
package monitor

import (
	"sync"
	"time"
)

// FetchResult classifies a single HTTP attempt.
type FetchResult string

const (
	FetchOK    FetchResult = "ok"
	FetchRetry FetchResult = "retry"
	FetchFail  FetchResult = "fail"
)

// FetchOutcome is the event-log record for one HTTP attempt.
type FetchOutcome struct {
	URL       string      `json:"url"`
	Source    string      `json:"source"`
	Status    int         `json:"http_status"`
	Bytes     int64       `json:"bytes"`
	ElapsedMS int64       `json:"elapsed_ms"`
	Attempt   int         `json:"attempt"`
	Result    FetchResult `json:"result"`
	Timestamp time.Time   `json:"timestamp"`
}

// latencyBuckets are exponential upper bounds in milliseconds. The final
// implicit bucket is +Inf.
var latencyBuckets = []int64{1, 2, 4, 8, 16, 32, 64, 125, 250, 500, 1000, 2000, 4000, 8000, 16000, 32000}

// ErrorEntry is one remembered failure.
type ErrorEntry struct {
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// SourceMetrics is the exported per-source view.
type SourceMetrics struct {
	RequestsAttempted int64     `json:"requests_attempted"`
	RequestsOK        int64     `json:"requests_ok"`
	RequestsFailed    int64     `json:"requests_failed"`
	RequestsRetried   int64     `json:"requests_retried"`
	BytesDownloaded   int64     `json:"bytes_downloaded"`
	ArticlesScanned   int64     `json:"articles_scanned"`
	ArticlesStored    int64     `json:"articles_stored"`
	ArticlesDuplicate int64     `json:"articles_duplicate"`
	LatencyBucketsMS  []int64   `json:"latency_buckets_ms"`
	LatencyCounts     []int64   `json:"latency_counts"`
	LastSuccess       time.Time `json:"last_success,omitempty"`
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	UptimeSeconds int64                    `json:"uptime_s"`
	Global        SourceMetrics            `json:"global"`
	Sources       map[string]SourceMetrics `json:"sources"`
	RecentErrors  []ErrorEntry             `json:"recent_errors"`
	RecentFetches []FetchOutcome           `json:"recent_fetches"`
}

// sourceStats is the mutable per-source record, guarded by its own lock.
type sourceStats struct {
	mu sync.Mutex
	m  SourceMetrics
}

func newSourceStats() *sourceStats {
	return &sourceStats{m: SourceMetrics{LatencyCounts: make([]int64, len(latencyBuckets)+1)}}
}

// Monitor aggregates crawl metrics. The zero value is not usable; call New.
type Monitor struct {
	start time.Time

	mu      sync.RWMutex
	sources map[string]*sourceStats
	global  *sourceStats

	ringMu    sync.Mutex
	fetchRing []FetchOutcome
	fetchNext int
	fetchLen  int

	errMu   sync.Mutex
	errRing []ErrorEntry
	errNext int
	errLen  int
}

// New creates a Monitor keeping the last fetchN outcomes and errN errors.
func New(fetchN, errN int) *Monitor {
	if fetchN <= 0 {
		fetchN = 256
	}
	if errN <= 0 {
		errN = 64
	}
	return &Monitor{
		start:     time.Now(),
		sources:   make(map[string]*sourceStats),
		global:    newSourceStats(),
		fetchRing: make([]FetchOutcome, fetchN),
		errRing:   make([]ErrorEntry, errN),
	}
}

func (m *Monitor) stats(source string) *sourceStats {
	m.mu.RLock()
	st, ok := m.sources[source]
	m.mu.RUnlock()
	if ok {
		return st
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.sources[source]; ok {
		return st
	}
	st = newSourceStats()
	m.sources[source] = st
	return st
}

// RecordFetch ingests one HTTP attempt outcome.
func (m *Monitor) RecordFetch(o FetchOutcome) {
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now()
	}

	for _, st := range []*sourceStats{m.stats(o.Source), m.global} {
		st.mu.Lock()
		st.m.RequestsAttempted++
		st.m.BytesDownloaded += o.Bytes
		switch o.Result {
		case FetchOK:
			st.m.RequestsOK++
			st.m.LastSuccess = o.Timestamp
		case FetchRetry:
			st.m.RequestsRetried++
		case FetchFail:
			st.m.RequestsFailed++
		}
		st.m.LatencyCounts[bucketFor(o.ElapsedMS)]++
		st.mu.Unlock()
	}

	m.ringMu.Lock()
	m.fetchRing[m.fetchNext] = o
	m.fetchNext = (m.fetchNext + 1) % len(m.fetchRing)
	if m.fetchLen < len(m.fetchRing) {
		m.fetchLen++
	}
	m.ringMu.Unlock()
}

func bucketFor(ms int64) int {
	for i, ub := range latencyBuckets {
		if ms <= ub {
			return i
		}
	}
	return len(latencyBuckets)
}

// RecordScanned counts a candidate article entering the pipeline.
func (m *Monitor) RecordScanned(source string) { m.bump(source, func(s *SourceMetrics) { s.ArticlesScanned++ }) }

// RecordStored counts a successfully persisted article.
func (m *Monitor) RecordStored(source string) { m.bump(source, func(s *SourceMetrics) { s.ArticlesStored++ }) }

// RecordDuplicate counts a deduplicated article.
func (m *Monitor) RecordDuplicate(source string) {
	m.bump(source, func(s *SourceMetrics) { s.ArticlesDuplicate++ })
}

func (m *Monitor) bump(source string, f func(*SourceMetrics)) {
	for _, st := range []*sourceStats{m.stats(source), m.global} {
		st.mu.Lock()
		f(&st.m)
		st.mu.Unlock()
	}
}

// RecordError remembers a failure in the bounded error log.
func (m *Monitor) RecordError(source string, err error) {
	if err == nil {
		return
	}
	entry := ErrorEntry{Source: source, Message: err.Error(), Timestamp: time.Now()}

	m.errMu.Lock()
	m.errRing[m.errNext] = entry
	m.errNext = (m.errNext + 1) % len(m.errRing)
	if m.errLen < len(m.errRing) {
		m.errLen++
	}
	m.errMu.Unlock()
}

// Snapshot returns a deep copy of all metrics, oldest-first rings.
func (m *Monitor) Snapshot() Snapshot {
	snap := Snapshot{
		UptimeSeconds: int64(time.Since(m.start).Seconds()),
		Sources:       make(map[string]SourceMetrics),
	}

	snap.Global = m.global.copyMetrics()

	m.mu.RLock()
	names := make([]string, 0, len(m.sources))
	for name := range m.sources {
		names = append(names, name)
	}
	m.mu.RUnlock()
	for _, name := range names {
		snap.Sources[name] = m.stats(name).copyMetrics()
	}

	m.ringMu.Lock()
	snap.RecentFetches = copyRing(m.fetchRing, m.fetchNext, m.fetchLen)
	m.ringMu.Unlock()

	m.errMu.Lock()
	snap.RecentErrors = copyRing(m.errRing, m.errNext, m.errLen)
	m.errMu.Unlock()

	return snap
}

func (st *sourceStats) copyMetrics() SourceMetrics {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := st.m
	out.LatencyBucketsMS = append([]int64(nil), latencyBuckets...)
	out.LatencyCounts = append([]int64(nil), st.m.LatencyCounts...)
	return out
}

func copyRing[T any](ring []T, next, length int) []T {
	out := make([]T, 0, length)
	start := next - length
	if start < 0 {
		start += len(ring)
	}
	for i := 0; i < length; i++ {
		out = append(out, ring[(start+i)%len(ring)])
	}
	return out
}
