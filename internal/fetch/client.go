// Package fetch implements the outbound HTTP client used by all extractors:
// bounded retries with full-jitter backoff, User-Agent rotation, a shared
// global rate limit, charset detection for the mixed UTF-8/GBK/GB18030
// bodies the Chinese publishers serve, and per-attempt lineage outcomes.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/newslook/newslook/internal/monitor"
)

// maxBodyBytes caps how much of a response is read. List and article pages
// on the crawled sites are well under this.
const maxBodyBytes = 10 << 20

// HTTPError is returned when the upstream answers with a non-2xx status and
// the retry budget is exhausted (or the status is not retriable).
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetch: %s: unexpected status %d", e.URL, e.Status)
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Recorder receives one FetchOutcome per HTTP attempt.
type Recorder interface {
	RecordFetch(monitor.FetchOutcome)
}

// Options tunes a single Fetch call.
type Options struct {
	// Source tags emitted outcomes with the owning source name.
	Source string

	// Timeout overrides the client's per-attempt deadline when positive.
	Timeout time.Duration

	// UseProxy routes the request through the configured proxy.
	UseProxy bool

	// Referer is set on the request when non-empty.
	Referer string
}

// Result is a completed fetch.
type Result struct {
	// Body holds the response decoded to UTF-8.
	Body []byte
	// RawBody holds the bytes as received.
	RawBody  []byte
	FinalURL string
	Status   int
	Header   http.Header
	// Charset is the encoding the body was decoded from.
	Charset string
	// Attempts is how many HTTP requests the call made.
	Attempts int

	elapsed time.Duration
}

// Config holds client construction parameters.
type Config struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Timeout     time.Duration
	UserAgents  []string
	ProxyURL    string
}

// Client is safe for concurrent use by all workers.
type Client struct {
	direct  *http.Client
	proxied *http.Client

	limiter  *rate.Limiter
	recorder Recorder

	uas         *uaPool
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	timeout     time.Duration

	// rnd is only used through jitter(), which locks.
	rnd *lockedRand
}

// New builds a Client. limiter bounds global outbound QPS and may be nil;
// recorder receives per-attempt outcomes and may be nil.
func New(cfg Config, limiter *rate.Limiter, recorder Recorder) (*Client, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	direct := &http.Client{Timeout: cfg.Timeout}

	proxied := direct
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("fetch: parse proxy url: %w", err)
		}
		proxied = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	return &Client{
		direct:      direct,
		proxied:     proxied,
		limiter:     limiter,
		recorder:    recorder,
		uas:         newUAPool(cfg.UserAgents),
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		backoffCap:  cfg.BackoffCap,
		timeout:     cfg.Timeout,
		rnd:         newLockedRand(),
	}, nil
}

type ctxKey int

const proxyCtxKey ctxKey = iota

// WithProxy marks the context so fetches under it route through the
// configured proxy. Workers set this once per crawl cycle.
func WithProxy(ctx context.Context) context.Context {
	return context.WithValue(ctx, proxyCtxKey, true)
}

// ProxyWanted reports whether WithProxy was applied to ctx.
func ProxyWanted(ctx context.Context) bool {
	v, _ := ctx.Value(proxyCtxKey).(bool)
	return v
}

// NextUserAgent returns the next User-Agent from the rotation, for callers
// that issue requests outside this client.
func (c *Client) NextUserAgent() string { return c.uas.next() }

// Limiter exposes the shared request limiter so discovery fetches made
// outside this client draw from the same budget. May be nil.
func (c *Client) Limiter() *rate.Limiter { return c.limiter }

// Fetch performs a GET with the client's retry policy. Retried: transport
// and timeout errors, 5xx, and 429 (honoring Retry-After). Other 4xx fail
// immediately. The returned Result body is decoded to UTF-8.
func (c *Client) Fetch(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("fetch: rate limit wait: %w", err)
			}
		}

		res, retryAfter, err := c.attempt(ctx, rawURL, opts, attempt)
		if err == nil && res.Status >= 200 && res.Status < 300 {
			res.Attempts = attempt
			res.Body, res.Charset = DecodeBody(res.RawBody, res.Header.Get("Content-Type"))
			c.emit(rawURL, opts.Source, res.Status, int64(len(res.RawBody)), res.elapsed, attempt, monitor.FetchOK)
			return res, nil
		}

		status := 0
		bytes := int64(0)
		elapsed := time.Duration(0)
		if res != nil {
			status = res.Status
			bytes = int64(len(res.RawBody))
			elapsed = res.elapsed
		}

		retriable := err != nil || status >= 500 || status == http.StatusTooManyRequests
		if err != nil {
			lastErr = err
		} else {
			lastErr = &HTTPError{Status: status, URL: rawURL}
		}

		if !retriable || attempt == c.maxAttempts || ctx.Err() != nil {
			c.emit(rawURL, opts.Source, status, bytes, elapsed, attempt, monitor.FetchFail)
			return nil, lastErr
		}
		c.emit(rawURL, opts.Source, status, bytes, elapsed, attempt, monitor.FetchRetry)

		delay := c.jitter(attempt)
		if retryAfter > 0 && retryAfter > delay {
			delay = retryAfter
		}
		slog.Debug("fetch: retrying", "url", rawURL, "attempt", attempt, "status", status, "delay", delay, "err", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("fetch: %s: %w", rawURL, ctx.Err())
		case <-time.After(delay):
		}
	}

	return nil, lastErr
}

// attempt performs one GET and reads the body. The second return value is
// the parsed Retry-After delay, if any.
func (c *Client) attempt(ctx context.Context, rawURL string, opts Options, attempt int) (*Result, time.Duration, error) {
	timeout := c.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch: build request %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", c.uas.next())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9")
	if opts.Referer != "" {
		req.Header.Set("Referer", opts.Referer)
	}

	hc := c.direct
	if opts.UseProxy {
		hc = c.proxied
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch: %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	elapsed := time.Since(start)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch: read body %s: %w", rawURL, err)
	}

	res := &Result{
		RawBody:  body,
		FinalURL: resp.Request.URL.String(),
		Status:   resp.StatusCode,
		Header:   resp.Header,
		elapsed:  elapsed,
	}

	var retryAfter time.Duration
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, perr := strconv.Atoi(ra); perr == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
	}

	return res, retryAfter, nil
}

// jitter returns a full-jitter delay: random(0, min(cap, base*2^n)).
func (c *Client) jitter(attempt int) time.Duration {
	ceil := c.backoffBase << uint(attempt-1)
	if ceil > c.backoffCap || ceil <= 0 {
		ceil = c.backoffCap
	}
	return time.Duration(c.rnd.Int63n(int64(ceil) + 1))
}

func (c *Client) emit(url, source string, status int, bytes int64, elapsed time.Duration, attempt int, result monitor.FetchResult) {
	if c.recorder == nil {
		return
	}
	c.recorder.RecordFetch(monitor.FetchOutcome{
		URL:       url,
		Source:    source,
		Status:    status,
		Bytes:     bytes,
		ElapsedMS: elapsed.Milliseconds(),
		Attempt:   attempt,
		Result:    result,
		Timestamp: time.Now(),
	})
}

// lockedRand is a small concurrency-safe wrapper over math/rand.
type lockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func newLockedRand() *lockedRand {
	return &lockedRand{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (l *lockedRand) Int63n(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rnd.Int63n(n)
}
