package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/time/rate"

	"github.com/newslook/newslook/internal/monitor"
)

// fastConfig keeps retry delays negligible in tests.
func fastConfig() Config {
	return Config{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
		Timeout:     2 * time.Second,
	}
}

type recordedOutcomes struct {
	outcomes []monitor.FetchOutcome
}

func (r *recordedOutcomes) RecordFetch(o monitor.FetchOutcome) {
	r.outcomes = append(r.outcomes, o)
}

func TestFetch_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "zh-CN,zh;q=0.9", r.Header.Get("Accept-Language"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>中国经济</html>"))
	}))
	defer srv.Close()

	rec := &recordedOutcomes{}
	c, err := New(fastConfig(), nil, rec)
	require.NoError(t, err)

	res, err := c.Fetch(context.Background(), srv.URL, Options{Source: "sina"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Contains(t, string(res.Body), "中国经济")
	assert.Equal(t, "utf-8", res.Charset)

	require.Len(t, rec.outcomes, 1)
	assert.Equal(t, monitor.FetchOK, rec.outcomes[0].Result)
	assert.Equal(t, "sina", rec.outcomes[0].Source)
}

func TestFetch_RetriesOn503ThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	rec := &recordedOutcomes{}
	c, err := New(fastConfig(), nil, rec)
	require.NoError(t, err)

	res, err := c.Fetch(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), calls.Load())

	require.Len(t, rec.outcomes, 3)
	assert.Equal(t, monitor.FetchRetry, rec.outcomes[0].Result)
	assert.Equal(t, monitor.FetchRetry, rec.outcomes[1].Result)
	assert.Equal(t, monitor.FetchOK, rec.outcomes[2].Result)
}

func TestFetch_NoRetryOn404(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c, err := New(fastConfig(), nil, nil)
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), srv.URL, Options{})
	require.Error(t, err)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := New(fastConfig(), nil, nil)
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), srv.URL, Options{})
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_HonorsRetryAfterOn429(t *testing.T) {
	var calls atomic.Int32
	var firstRetryAt time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		firstRetryAt = time.Now()
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c, err := New(fastConfig(), nil, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Fetch(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, firstRetryAt.Sub(start), time.Second)
}

func TestFetch_GBKBodyMislabeledUTF8(t *testing.T) {
	gbk, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("中国经济"))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(gbk)
	}))
	defer srv.Close()

	c, err := New(fastConfig(), nil, nil)
	require.NoError(t, err)

	res, err := c.Fetch(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, "中国经济", string(res.Body))
	assert.NotContains(t, string(res.Body), "�")
}

func TestFetch_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
	}))
	defer srv.Close()

	c, err := New(fastConfig(), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.Fetch(ctx, srv.URL, Options{})
	require.Error(t, err)
	assert.True(t, IsTimeout(err) || ctx.Err() != nil)
}

func TestFetch_GlobalRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	// 20 QPS, burst 1: five sequential fetches need >= 200ms.
	limiter := rate.NewLimiter(rate.Limit(20), 1)
	c, err := New(fastConfig(), limiter, nil)
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 5; i++ {
		_, err := c.Fetch(context.Background(), srv.URL, Options{})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 180*time.Millisecond)
}

func TestDecodeBody_Fallbacks(t *testing.T) {
	// Long enough for the charset heuristic to have signal.
	text := "今日财经快讯：沪指上涨，深成指回落，两市成交量明显放大，北向资金净流入。"
	gbk, _ := simplifiedchinese.GBK.NewEncoder().Bytes([]byte(text))

	// Declared GBK.
	out, cs := DecodeBody(gbk, "text/html; charset=gbk")
	assert.Equal(t, text, string(out))
	assert.Equal(t, "gbk", cs)

	// No declaration: heuristic or trial order must still recover it.
	out, _ = DecodeBody(gbk, "")
	assert.Equal(t, text, string(out))

	// Plain UTF-8 body passes through.
	out, cs = DecodeBody([]byte("hello 世界"), "text/html")
	assert.Equal(t, "hello 世界", string(out))
	assert.Equal(t, "utf-8", cs)

	// Empty body.
	out, _ = DecodeBody(nil, "")
	assert.Empty(t, out)
}

func TestUAPool_Rotates(t *testing.T) {
	p := newUAPool([]string{"a", "b"})
	assert.Equal(t, "a", p.next())
	assert.Equal(t, "b", p.next())
	assert.Equal(t, "a", p.next())
}
