package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newslook/newslook/internal/config"
	"github.com/newslook/newslook/internal/db"
	"github.com/newslook/newslook/internal/extract"
	"github.com/newslook/newslook/internal/models"
	"github.com/newslook/newslook/internal/monitor"
	"github.com/newslook/newslook/internal/pipeline"
)

// stubSource is a scripted extractor for worker tests.
type stubSource struct {
	sourceName string
	urls       []string
	fetchDelay time.Duration
	fetchErr   error
	skipAll    bool
	fetched    atomic.Int64
}

func (s *stubSource) Name() string { return s.sourceName }

func (s *stubSource) ListURLs(ctx context.Context, opts extract.ListOptions) ([]string, error) {
	return append([]string(nil), s.urls...), nil
}

func (s *stubSource) FetchArticle(ctx context.Context, u string) (*models.Article, error) {
	if s.fetchDelay > 0 {
		select {
		case <-time.After(s.fetchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.fetched.Add(1)
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	if s.skipAll {
		return nil, &extract.SkipError{Reason: extract.SkipAd, URL: u}
	}
	return &models.Article{
		URL:     u,
		Title:   "标题 " + u,
		Content: "正文内容 " + u,
		Source:  s.sourceName,
	}, nil
}

func urlList(n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://finance.sina.com.cn/a/%d.shtml", i)
	}
	return urls
}

func testManager(t *testing.T, src extract.Source) (*Manager, *models.NewsStore) {
	t.Helper()
	store := models.NewNewsStore(db.OpenMemory(t), ":memory:")
	mon := monitor.New(100, 100)
	pipe := pipeline.New(store, mon)

	reg := extract.NewRegistry()
	reg.Register(src)

	cfg := config.Defaults()
	cfg.Crawler.Concurrency = 2
	return NewManager(reg, pipe, mon, &cfg), store
}

// waitIdle polls until the source reaches a terminal state.
func waitState(t *testing.T, m *Manager, source string, want State, timeout time.Duration) SourceStatus {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		st := m.Status()[source]
		if st.State == want {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("source %s never reached state %s (now %s)", source, want, m.Status()[source].State)
	return SourceStatus{}
}

func TestFreshIngest(t *testing.T) {
	src := &stubSource{sourceName: "sina", urls: urlList(2)}
	m, store := testManager(t, src)

	require.NoError(t, m.Start([]string{"sina"}, Params{}))
	st := waitState(t, m, "sina", StateIdle, 5*time.Second)

	assert.Equal(t, int64(2), st.ItemsListed)
	assert.Equal(t, int64(2), st.ItemsStored)

	n, err := store.Count(context.Background(), models.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSecondRunIsAllDuplicates(t *testing.T) {
	src := &stubSource{sourceName: "sina", urls: urlList(3)}
	m, store := testManager(t, src)

	require.NoError(t, m.Start([]string{"sina"}, Params{}))
	waitState(t, m, "sina", StateIdle, 5*time.Second)

	require.NoError(t, m.Start([]string{"sina"}, Params{}))
	st := waitState(t, m, "sina", StateIdle, 5*time.Second)

	assert.Equal(t, int64(0), st.ItemsStored)
	assert.Equal(t, int64(3), st.ItemsDuplicate)

	n, err := store.Count(context.Background(), models.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestAlreadyRunning(t *testing.T) {
	src := &stubSource{sourceName: "sina", urls: urlList(50), fetchDelay: 50 * time.Millisecond}
	m, _ := testManager(t, src)

	require.NoError(t, m.Start([]string{"sina"}, Params{}))
	err := m.Start([]string{"sina"}, Params{})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, m.Stop([]string{"sina"}))
	waitState(t, m, "sina", StateIdle, 5*time.Second)
}

func TestUnknownSource(t *testing.T) {
	m, _ := testManager(t, &stubSource{sourceName: "sina"})
	assert.ErrorIs(t, m.Start([]string{"bloomberg"}, Params{}), ErrUnknownSource)
	assert.ErrorIs(t, m.Stop([]string{"bloomberg"}), ErrUnknownSource)
}

func TestCooperativeCancellation(t *testing.T) {
	src := &stubSource{sourceName: "sina", urls: urlList(500), fetchDelay: 20 * time.Millisecond}
	m, _ := testManager(t, src)

	require.NoError(t, m.Start([]string{"sina"}, Params{}))
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, m.Stop([]string{"sina"}))

	st := waitState(t, m, "sina", StateIdle, 5*time.Second)

	// Far fewer than the full list was processed before the stop landed.
	assert.Less(t, st.ItemsStored, int64(100))
	assert.Less(t, src.fetched.Load(), int64(100))
}

func TestMaxItems(t *testing.T) {
	src := &stubSource{sourceName: "sina", urls: urlList(20)}
	m, _ := testManager(t, src)

	require.NoError(t, m.Start([]string{"sina"}, Params{MaxItems: 5}))
	st := waitState(t, m, "sina", StateIdle, 5*time.Second)

	assert.Equal(t, int64(5), st.ItemsListed)
	assert.Equal(t, int64(5), st.ItemsStored)
}

func TestSkipsAreCountedNotFailed(t *testing.T) {
	src := &stubSource{sourceName: "sina", urls: urlList(4), skipAll: true}
	m, _ := testManager(t, src)

	require.NoError(t, m.Start([]string{"sina"}, Params{}))
	st := waitState(t, m, "sina", StateIdle, 5*time.Second)

	assert.Equal(t, int64(4), st.ItemsSkipped)
	assert.Equal(t, int64(0), st.ItemsFailed)
	assert.Equal(t, int64(0), st.ItemsStored)
}

func TestConsecutiveFailuresTripErrorState(t *testing.T) {
	src := &stubSource{
		sourceName: "sina",
		urls:       urlList(50),
		fetchErr:   errors.New("connection refused"),
	}
	m, _ := testManager(t, src)

	require.NoError(t, m.Start([]string{"sina"}, Params{}))
	st := waitState(t, m, "sina", StateError, 5*time.Second)

	assert.GreaterOrEqual(t, st.ConsecutiveFailures, 10)
	require.NotNil(t, st.CooldownUntil)
	assert.True(t, st.CooldownUntil.After(time.Now()))
	assert.Contains(t, st.LastError, "connection refused")

	// Scheduler-triggered starts respect the cooldown.
	err := m.Start([]string{"sina"}, Params{FromScheduler: true})
	assert.ErrorIs(t, err, ErrCoolingDown)

	// An explicit start overrides it.
	src.fetchErr = nil
	require.NoError(t, m.Start([]string{"sina"}, Params{}))
	waitState(t, m, "sina", StateIdle, 5*time.Second)
}

func TestSubscribe(t *testing.T) {
	src := &stubSource{sourceName: "sina", urls: urlList(1)}
	m, _ := testManager(t, src)

	events, cancel := m.Subscribe(16)
	defer cancel()

	require.NoError(t, m.Start([]string{"sina"}, Params{}))
	waitState(t, m, "sina", StateIdle, 5*time.Second)

	var types []EventType
	timeout := time.After(2 * time.Second)
	for len(types) < 3 {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %v", types)
		}
	}
	assert.Equal(t, EventStarted, types[0])
	assert.Contains(t, types, EventStored)
	assert.Contains(t, types, EventFinished)
}

func TestShutdown(t *testing.T) {
	src := &stubSource{sourceName: "sina", urls: urlList(100), fetchDelay: 20 * time.Millisecond}
	m, _ := testManager(t, src)

	require.NoError(t, m.Start([]string{"sina"}, Params{}))
	time.Sleep(50 * time.Millisecond)

	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()
	require.NoError(t, m.Shutdown(ctx))
	assert.Equal(t, StateIdle, m.Status()["sina"].State)
}
