// Package pipeline takes candidate articles from the workers to the store:
// validate, canonicalize, de-duplicate, enrich, persist. Replaying the same
// article yields at most one stored row.
package pipeline

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/newslook/newslook/internal/models"
	"github.com/newslook/newslook/internal/monitor"
	"github.com/newslook/newslook/internal/textnorm"
)

// Outcome is the terminal disposition of one candidate article.
type Outcome string

const (
	Stored    Outcome = "stored"
	Duplicate Outcome = "duplicate"
	Invalid   Outcome = "invalid"
	Failed    Outcome = "failed"
)

// keywordCount is how many keywords enrichment attaches per article.
const keywordCount = 8

// Store is the slice of the news store the pipeline needs.
type Store interface {
	InsertArticle(ctx context.Context, a *models.Article) (models.InsertResult, error)
	ExistsByID(ctx context.Context, id string) (bool, error)
}

// Pipeline is safe for concurrent use by all workers.
type Pipeline struct {
	store Store
	mon   *monitor.Monitor
	log   *slog.Logger
}

// New builds a Pipeline. mon may be nil.
func New(store Store, mon *monitor.Monitor) *Pipeline {
	return &Pipeline{
		store: store,
		mon:   mon,
		log:   slog.Default().With("component", "pipeline"),
	}
}

// Ingest runs one article through the full pipeline. The article is
// modified in place: id, crawl time, keywords and sentiment are filled in.
// Invalid and Duplicate are expected outcomes, not errors; only storage
// failures return a non-nil error (with Outcome Failed).
func (p *Pipeline) Ingest(ctx context.Context, a *models.Article) (Outcome, error) {
	if p.mon != nil {
		p.mon.RecordScanned(a.Source)
	}

	if a.URL == "" || strings.TrimSpace(a.Title) == "" || strings.TrimSpace(a.Content) == "" {
		p.log.Debug("dropping invalid article", "url", a.URL, "source", a.Source)
		return Invalid, nil
	}

	a.URL = CanonicalURL(a.URL)
	a.ID = ArticleID(a.URL)

	exists, err := p.store.ExistsByID(ctx, a.ID)
	if err != nil {
		p.recordError(a.Source, err)
		return Failed, fmt.Errorf("pipeline: dedup probe: %w", err)
	}
	if exists {
		if p.mon != nil {
			p.mon.RecordDuplicate(a.Source)
		}
		return Duplicate, nil
	}

	p.enrich(a)

	_, err = p.store.InsertArticle(ctx, a)
	switch {
	case errors.Is(err, models.ErrDuplicate):
		// Lost the race to a concurrent worker.
		if p.mon != nil {
			p.mon.RecordDuplicate(a.Source)
		}
		return Duplicate, nil
	case err != nil:
		p.recordError(a.Source, err)
		return Failed, fmt.Errorf("pipeline: persist: %w", err)
	}

	if p.mon != nil {
		p.mon.RecordStored(a.Source)
	}
	p.log.Info("article stored",
		"id", a.ID, "source", a.Source, "title", a.Title)
	return Stored, nil
}

// enrich fills the derived fields the extractor leaves empty.
func (p *Pipeline) enrich(a *models.Article) {
	if a.Source == "" || !models.IsKnownSource(a.Source) {
		a.Source = models.SourceUnknown
	}
	a.CrawlTime = time.Now().UTC()
	if a.PublishTime != nil && a.PublishTime.After(a.CrawlTime) {
		t := a.CrawlTime
		a.PublishTime = &t
	}
	if len(a.Keywords) == 0 {
		a.Keywords = textnorm.ExtractKeywords(a.Title+" "+a.Content, keywordCount)
	}
	if a.Sentiment == "" {
		a.Sentiment = string(textnorm.ClassifySentiment(a.Content))
	}
}

func (p *Pipeline) recordError(source string, err error) {
	if p.mon != nil {
		p.mon.RecordError(source, err)
	}
}

// trackingParams are stripped during canonicalization. The list covers the
// generic campaign trackers plus the ones the crawled portals append.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"utm_id":       true,
	"fbclid":       true,
	"gclid":        true,
	"spm":          true,
	"sudaref":      true,
	"from":         true,
	"ref":          true,
	"_ga":          true,
}

// CanonicalURL normalizes a URL for identity: lower-cased scheme and host,
// default port removed, no fragment, no tracking query parameters, no
// trailing slash, sorted query. Unparseable input is returned trimmed but
// otherwise as-is.
func CanonicalURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	switch {
	case parsed.Scheme == "http" && strings.HasSuffix(parsed.Host, ":80"):
		parsed.Host = strings.TrimSuffix(parsed.Host, ":80")
	case parsed.Scheme == "https" && strings.HasSuffix(parsed.Host, ":443"):
		parsed.Host = strings.TrimSuffix(parsed.Host, ":443")
	}
	parsed.Fragment = ""
	parsed.RawFragment = ""
	if len(parsed.Path) > 1 {
		parsed.Path = strings.TrimRight(parsed.Path, "/")
	}

	query := parsed.Query()
	for key := range query {
		if trackingParams[strings.ToLower(key)] {
			query.Del(key)
		}
	}
	parsed.RawQuery = query.Encode()

	return parsed.String()
}

// ArticleID is the stable identity of an article: the first sixteen hex
// characters of the SHA-256 of its canonical URL.
func ArticleID(canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))
	return fmt.Sprintf("%x", sum)[:16]
}
