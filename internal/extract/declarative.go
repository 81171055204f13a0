package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"

	"github.com/newslook/newslook/internal/fetch"
	"github.com/newslook/newslook/internal/models"
	"github.com/newslook/newslook/internal/monitor"
	"github.com/newslook/newslook/internal/textnorm"
)

// SourceConfig declares how one publisher is crawled and parsed. The five
// built-in configs live in sources.go; a config is data, so site changes are
// selector edits rather than code changes.
type SourceConfig struct {
	Name    string
	BaseURL string

	// Categories maps a category name to its paginated list page URLs.
	Categories map[string][]string

	// LinkSelector matches anchor elements on list pages.
	LinkSelector string

	// URLPattern accepts article URLs; anything else found on a list page
	// is ignored.
	URLPattern *regexp.Regexp

	TitleSelector    string
	TimeSelector     string
	AuthorSelector   string
	ContentSelector  string
	ImageSelector    string
	CategorySelector string

	// PaywallSelector matching on an article page skips it as paywalled.
	PaywallSelector string

	// StockLinkSelector matches in-content anchors to stock quote pages,
	// used for related-stock name capture.
	StockLinkSelector string

	// HardAdPatterns drop a URL outright. SoftAdPatterns and AdKeywords
	// only log; advisory filtering keeps recall.
	HardAdPatterns []*regexp.Regexp
	SoftAdPatterns []*regexp.Regexp
	AdKeywords     []string

	// MaxAgeDays, when positive, skips articles older than this (and
	// articles whose age cannot be determined at all).
	MaxAgeDays int
}

// Declarative is the generic extractor parameterized by a SourceConfig.
// List pages go through a colly collector; article pages go through the
// shared fetch client so they get its retry and decoding behavior.
type Declarative struct {
	cfg     SourceConfig
	client  *fetch.Client
	limiter *rate.Limiter
	rec     fetch.Recorder
	log     *slog.Logger
}

// NewDeclarative builds a source from its config. limiter bounds list-page
// requests and should be the client's own limiter so discovery and article
// fetches share one budget.
func NewDeclarative(cfg SourceConfig, client *fetch.Client, limiter *rate.Limiter) *Declarative {
	return &Declarative{
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		log:     slog.Default().With("source", cfg.Name),
	}
}

// WithRecorder makes list-page requests emit fetch outcomes too.
func (d *Declarative) WithRecorder(rec fetch.Recorder) *Declarative {
	d.rec = rec
	return d
}

func (d *Declarative) Name() string { return d.cfg.Name }

// ListURLs visits the configured list pages and returns candidate article
// URLs, deduplicated, pattern-filtered, and capped per category.
func (d *Declarative) ListURLs(ctx context.Context, opts ListOptions) ([]string, error) {
	categories := d.categoryNames(opts.Categories)

	var (
		out     []string
		seen    = make(map[string]bool)
		dropped int
	)
	cutoff := time.Time{}
	if opts.Days > 0 {
		cutoff = time.Now().UTC().AddDate(0, 0, -opts.Days)
	}

	for _, cat := range categories {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		taken := 0
		for _, listURL := range d.cfg.Categories[cat] {
			if opts.MaxPerCategory > 0 && taken >= opts.MaxPerCategory {
				break
			}
			links, err := d.scrapeLinks(ctx, listURL)
			if err != nil {
				d.log.Warn("list page failed", "url", listURL, "error", err)
				continue
			}
			for _, link := range links {
				if opts.MaxPerCategory > 0 && taken >= opts.MaxPerCategory {
					break
				}
				if seen[link] {
					continue
				}
				seen[link] = true
				if d.cfg.URLPattern != nil && !d.cfg.URLPattern.MatchString(link) {
					continue
				}
				if matchAny(d.cfg.HardAdPatterns, link) {
					dropped++
					continue
				}
				if !cutoff.IsZero() {
					if t, ok := TimeFromURL(link); ok && t.Before(cutoff) {
						continue
					}
				}
				out = append(out, link)
				taken++
			}
		}
	}

	if dropped > 0 {
		d.log.Info("dropped ad urls during discovery", "count", dropped)
	}
	d.log.Debug("discovery complete", "urls", len(out), "categories", len(categories))
	return out, nil
}

// categoryNames resolves the requested categories against the config,
// sorted for deterministic traversal.
func (d *Declarative) categoryNames(requested []string) []string {
	var names []string
	if len(requested) == 0 {
		for name := range d.cfg.Categories {
			names = append(names, name)
		}
	} else {
		for _, name := range requested {
			if _, ok := d.cfg.Categories[name]; ok {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// scrapeLinks visits one list page with a fresh collector and returns the
// absolute URLs its link selector matched.
func (d *Declarative) scrapeLinks(ctx context.Context, listURL string) ([]string, error) {
	base, err := url.Parse(listURL)
	if err != nil {
		return nil, fmt.Errorf("extract: parse list url: %w", err)
	}

	c := colly.NewCollector(
		colly.UserAgent(d.client.NextUserAgent()),
		colly.AllowURLRevisit(),
		colly.MaxDepth(1),
	)

	var (
		mu     sync.Mutex
		links  []string
		scrErr error
	)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.5")
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				r.Abort()
			}
		}
	})

	start := time.Now()
	c.OnResponse(func(r *colly.Response) {
		d.emit(listURL, r.StatusCode, int64(len(r.Body)), time.Since(start), monitor.FetchOK)
	})

	c.OnHTML(d.cfg.LinkSelector, func(e *colly.HTMLElement) {
		href := strings.TrimSpace(e.Attr("href"))
		if href == "" || strings.HasPrefix(href, "javascript:") {
			return
		}
		parsed, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(parsed)
		abs.Fragment = ""
		mu.Lock()
		links = append(links, abs.String())
		mu.Unlock()
	})

	c.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		d.emit(listURL, status, 0, time.Since(start), monitor.FetchFail)
		mu.Lock()
		scrErr = fmt.Errorf("extract: fetch list %s: %w", listURL, err)
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := c.Visit(listURL); err != nil {
			mu.Lock()
			if scrErr == nil {
				scrErr = fmt.Errorf("extract: visit list %s: %w", listURL, err)
			}
			mu.Unlock()
		}
		c.Wait()
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
	}

	if scrErr != nil {
		return nil, scrErr
	}

	// Deduplicate within the page, preserving order.
	seen := make(map[string]bool, len(links))
	unique := links[:0]
	for _, l := range links {
		if !seen[l] {
			seen[l] = true
			unique = append(unique, l)
		}
	}
	return unique, nil
}

func (d *Declarative) emit(u string, status int, n int64, elapsed time.Duration, res monitor.FetchResult) {
	if d.rec == nil {
		return
	}
	d.rec.RecordFetch(monitor.FetchOutcome{
		URL:       u,
		Source:    d.cfg.Name,
		Status:    status,
		Bytes:     n,
		ElapsedMS: elapsed.Milliseconds(),
		Attempt:   1,
		Result:    res,
		Timestamp: time.Now().UTC(),
	})
}

// FetchArticle downloads and parses one article page. Pages that are ads,
// paywalled, empty, unparsable, or too old come back as *SkipError.
func (d *Declarative) FetchArticle(ctx context.Context, rawURL string) (*models.Article, error) {
	if matchAny(d.cfg.HardAdPatterns, rawURL) {
		return nil, &SkipError{Reason: SkipAd, URL: rawURL, Detail: "hard url pattern"}
	}
	if matchAny(d.cfg.SoftAdPatterns, rawURL) {
		d.log.Info("soft ad pattern matched", "url", rawURL)
	}

	res, err := d.client.Fetch(ctx, rawURL, fetch.Options{
		Source:   d.cfg.Name,
		UseProxy: fetch.ProxyWanted(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("extract: %s: %w", d.cfg.Name, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, &SkipError{Reason: SkipUnparsable, URL: rawURL, Detail: err.Error()}
	}

	if d.cfg.PaywallSelector != "" && doc.Find(d.cfg.PaywallSelector).Length() > 0 {
		return nil, &SkipError{Reason: SkipPaywall, URL: rawURL}
	}

	title := d.extractTitle(doc)
	if title == "" {
		return nil, &SkipError{Reason: SkipUnparsable, URL: rawURL, Detail: "no title"}
	}

	body := doc.Find(d.cfg.ContentSelector).First()
	if body.Length() == 0 {
		return nil, &SkipError{Reason: SkipUnparsable, URL: rawURL, Detail: "content selector matched nothing"}
	}
	body.Find("script, style, noscript, iframe").Remove()

	contentHTML, _ := goquery.OuterHtml(body)
	content := textnorm.NormalizeText(bodyText(body))
	if content == "" {
		return nil, &SkipError{Reason: SkipEmpty, URL: rawURL}
	}
	d.logAdKeywords(rawURL, content)

	pageURL := rawURL
	if res.FinalURL != "" {
		pageURL = res.FinalURL
	}

	publish := d.extractPublishTime(doc, pageURL)
	if d.cfg.MaxAgeDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -d.cfg.MaxAgeDays)
		if publish == nil {
			return nil, &SkipError{Reason: SkipTooOld, URL: rawURL, Detail: "publish time unknown under max-age filter"}
		}
		if publish.Before(cutoff) {
			return nil, &SkipError{Reason: SkipTooOld, URL: rawURL}
		}
	}

	a := &models.Article{
		URL:           pageURL,
		Title:         textnorm.NormalizeText(title),
		Content:       content,
		ContentHTML:   contentHTML,
		Author:        d.selectText(doc, d.cfg.AuthorSelector),
		Category:      d.selectText(doc, d.cfg.CategorySelector),
		Source:        d.cfg.Name,
		PublishTime:   publish,
		Images:        d.extractImages(doc, body, pageURL),
		RelatedStocks: d.extractStocks(body, content),
	}
	return a, nil
}

func (d *Declarative) extractTitle(doc *goquery.Document) string {
	if d.cfg.TitleSelector != "" {
		if t := strings.TrimSpace(doc.Find(d.cfg.TitleSelector).First().Text()); t != "" {
			return t
		}
	}
	t := strings.TrimSpace(doc.Find("title").First().Text())
	// Strip trailing site suffix: "标题_频道_网站".
	if i := strings.IndexAny(t, "_|-"); i > 0 {
		t = strings.TrimSpace(t[:i])
	}
	return t
}

func (d *Declarative) extractPublishTime(doc *goquery.Document, pageURL string) *time.Time {
	now := time.Now()
	if d.cfg.TimeSelector != "" {
		sel := doc.Find(d.cfg.TimeSelector).First()
		candidates := []string{strings.TrimSpace(sel.Text())}
		for _, attr := range []string{"datetime", "content", "data-time"} {
			if v, ok := sel.Attr(attr); ok {
				candidates = append(candidates, strings.TrimSpace(v))
			}
		}
		for _, c := range candidates {
			if t, ok := ParsePublishTime(c, now); ok {
				return &t
			}
		}
	}
	if t, ok := TimeFromURL(pageURL); ok {
		return &t
	}
	return nil
}

func (d *Declarative) selectText(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	return textnorm.NormalizeText(doc.Find(selector).First().Text())
}

// extractImages collects content images plus the og:image meta, absolute
// and deduplicated, capped at ten per article.
func (d *Declarative) extractImages(doc *goquery.Document, body *goquery.Selection, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var out []string
	seen := make(map[string]bool)
	add := func(src string) {
		src = strings.TrimSpace(src)
		if src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		parsed, err := url.Parse(src)
		if err != nil {
			return
		}
		abs := base.ResolveReference(parsed).String()
		if !seen[abs] && len(out) < 10 {
			seen[abs] = true
			out = append(out, abs)
		}
	}

	if og, ok := doc.Find(`meta[property="og:image"]`).Attr("content"); ok {
		add(og)
	}
	selector := d.cfg.ImageSelector
	if selector == "" {
		selector = "img"
	}
	body.Find(selector).Each(func(_ int, img *goquery.Selection) {
		for _, attr := range []string{"src", "data-src", "data-original"} {
			if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
				add(v)
				return
			}
		}
	})
	return out
}

func (d *Declarative) logAdKeywords(rawURL, content string) {
	for _, kw := range d.cfg.AdKeywords {
		if strings.Contains(content, kw) {
			d.log.Info("ad keyword in content", "url", rawURL, "keyword", kw)
			return
		}
	}
}

// bodyText renders the body selection paragraph-wise so block boundaries
// survive as newlines.
func bodyText(body *goquery.Selection) string {
	paras := body.Find("p")
	if paras.Length() == 0 {
		return body.Text()
	}
	var b strings.Builder
	paras.Each(func(_ int, p *goquery.Selection) {
		t := strings.TrimSpace(p.Text())
		if t == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(t)
	})
	return b.String()
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
