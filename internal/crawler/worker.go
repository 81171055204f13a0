package crawler

import (
	"context"
	"sync"
	"time"

	"github.com/newslook/newslook/internal/extract"
	"github.com/newslook/newslook/internal/fetch"
	"github.com/newslook/newslook/internal/pipeline"
)

// cooldownBase and cooldownCap bound the exponential pause after a worker
// trips into the error state.
const (
	cooldownBase = time.Minute
	cooldownCap  = time.Hour
)

// worker runs crawl cycles for one source. All mutable state is guarded by
// mu; the cycle itself runs on its own goroutine.
type worker struct {
	src extract.Source
	m   *Manager

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	st      SourceStatus
	trips   int
	tripped bool
}

func newWorker(src extract.Source, m *Manager) *worker {
	return &worker{
		src:   src,
		m:     m,
		state: StateIdle,
		st:    SourceStatus{Source: src.Name(), State: StateIdle},
	}
}

func (w *worker) name() string { return w.src.Name() }

// start transitions idle (or error, cooldown permitting) to running.
func (w *worker) start(p Params) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateRunning, StateStopping:
		return ErrAlreadyRunning
	case StateError:
		if p.FromScheduler && w.st.CooldownUntil != nil && time.Now().Before(*w.st.CooldownUntil) {
			return ErrCoolingDown
		}
		if !p.FromScheduler {
			// An explicit start clears the failure history.
			w.trips = 0
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.state = StateRunning
	now := time.Now().UTC()
	w.st = SourceStatus{
		Source:    w.name(),
		State:     StateRunning,
		StartedAt: &now,
	}
	w.tripped = false

	w.m.wg.Add(1)
	go w.run(ctx, p)

	w.m.publish(CrawlEvent{Type: EventStarted, Source: w.name()})
	return nil
}

// stop requests cooperative cancellation; the cycle observes it between
// list pages and between articles.
func (w *worker) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateRunning {
		return
	}
	w.state = StateStopping
	w.st.State = StateStopping
	if w.cancel != nil {
		w.cancel()
	}
	w.m.publish(CrawlEvent{Type: EventStopped, Source: w.name()})
}

func (w *worker) status() SourceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.st
	if st.CooldownUntil != nil {
		t := *st.CooldownUntil
		st.CooldownUntil = &t
	}
	return st
}

func (w *worker) update(f func(*SourceStatus)) {
	w.mu.Lock()
	f(&w.st)
	w.mu.Unlock()
}

// run is one crawl cycle: discover, then drain a bounded queue with the
// configured number of fetcher goroutines.
func (w *worker) run(ctx context.Context, p Params) {
	defer w.m.wg.Done()
	defer w.finish(ctx)

	if p.UseProxy {
		ctx = fetch.WithProxy(ctx)
	}

	urls, err := w.src.ListURLs(ctx, extract.ListOptions{
		Days:       p.Days,
		Categories: p.Categories,
	})
	if err != nil && ctx.Err() == nil {
		w.m.log.Error("discovery failed", "source", w.name(), "error", err)
		w.m.mon.RecordError(w.name(), err)
		w.update(func(st *SourceStatus) { st.LastError = err.Error() })
		return
	}
	if p.MaxItems > 0 && len(urls) > p.MaxItems {
		urls = urls[:p.MaxItems]
	}
	w.update(func(st *SourceStatus) { st.ItemsListed = int64(len(urls)) })

	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = w.m.cfg.SourceConcurrency(w.name())
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	// The producer blocks when the queue is full, so URLs are never
	// buffered beyond this.
	queue := make(chan string, concurrency*2)
	go func() {
		defer close(queue)
		for _, u := range urls {
			select {
			case queue <- u:
			case <-ctx.Done():
				return
			}
		}
	}()

	var fetchers sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		fetchers.Add(1)
		go func() {
			defer fetchers.Done()
			for u := range queue {
				if ctx.Err() != nil {
					return
				}
				w.processOne(ctx, u)
			}
		}()
	}
	fetchers.Wait()
}

// processOne fetches and ingests a single URL, maintaining the consecutive
// failure counter.
func (w *worker) processOne(ctx context.Context, u string) {
	a, err := w.src.FetchArticle(ctx, u)
	if err != nil {
		if se, ok := extract.AsSkip(err); ok {
			w.m.log.Debug("article skipped", "source", w.name(), "url", u, "reason", se.Reason)
			w.update(func(st *SourceStatus) {
				st.ItemsSkipped++
				st.ConsecutiveFailures = 0
			})
			return
		}
		if ctx.Err() != nil {
			return
		}
		w.m.log.Warn("article fetch failed", "source", w.name(), "url", u, "error", err)
		w.m.mon.RecordError(w.name(), err)
		w.fail(err)
		return
	}

	outcome, err := w.m.pipe.Ingest(ctx, a)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.m.log.Warn("ingest failed", "source", w.name(), "url", u, "error", err)
		w.fail(err)
		return
	}

	w.update(func(st *SourceStatus) {
		st.ConsecutiveFailures = 0
		switch outcome {
		case pipeline.Stored:
			st.ItemsStored++
		case pipeline.Duplicate:
			st.ItemsDuplicate++
		case pipeline.Invalid:
			st.ItemsSkipped++
		}
	})
	if outcome == pipeline.Stored {
		w.m.publish(CrawlEvent{Type: EventStored, Source: w.name(), Detail: a.ID})
	}
}

// fail counts one hard failure and trips the worker into the error state
// when the consecutive threshold is crossed.
func (w *worker) fail(err error) {
	max := w.m.cfg.Crawler.MaxConsecutiveFailures
	if max <= 0 {
		max = 10
	}

	var trip bool
	w.mu.Lock()
	w.st.ItemsFailed++
	w.st.ConsecutiveFailures++
	w.st.LastError = err.Error()
	if w.st.ConsecutiveFailures >= max && !w.tripped {
		w.tripped = true
		trip = true
	}
	cancel := w.cancel
	w.mu.Unlock()

	if trip {
		w.m.log.Error("worker tripped by consecutive failures",
			"source", w.name(), "failures", max)
		if cancel != nil {
			cancel()
		}
	}
}

// finish records the terminal state of the cycle.
func (w *worker) finish(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now().UTC()
	w.st.FinishedAt = &now

	if w.tripped {
		cooldown := cooldownBase << w.trips
		if cooldown > cooldownCap {
			cooldown = cooldownCap
		}
		w.trips++
		until := now.Add(cooldown)
		w.st.CooldownUntil = &until
		w.state = StateError
		w.st.State = StateError
		w.m.publish(CrawlEvent{Type: EventErrored, Source: w.name(), Detail: w.st.LastError})
		return
	}

	if ctx.Err() == nil {
		// Clean cycle resets the cooldown ladder.
		w.trips = 0
	}
	w.state = StateIdle
	w.st.State = StateIdle
	w.m.publish(CrawlEvent{Type: EventFinished, Source: w.name()})
}
