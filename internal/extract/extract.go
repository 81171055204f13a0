// Package extract turns publisher websites into structured articles. Each
// source implements the same two-step contract: discover candidate article
// URLs from list pages, then fetch and parse individual articles. The five
// built-in publishers are driven declaratively from per-source configs.
package extract

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/newslook/newslook/internal/models"
)

// SkipReason classifies why an article was intentionally not ingested.
type SkipReason string

const (
	SkipAd         SkipReason = "ad"
	SkipPaywall    SkipReason = "paywall"
	SkipEmpty      SkipReason = "empty"
	SkipUnparsable SkipReason = "unparsable"
	SkipTooOld     SkipReason = "too_old"
)

// SkipError signals that an article page was examined and deliberately
// dropped. Callers count skips but do not treat them as failures.
type SkipError struct {
	Reason SkipReason
	URL    string
	Detail string
}

func (e *SkipError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("extract: skip %s: %s", e.Reason, e.URL)
	}
	return fmt.Sprintf("extract: skip %s: %s: %s", e.Reason, e.URL, e.Detail)
}

// AsSkip unwraps a SkipError from err, if present.
func AsSkip(err error) (*SkipError, bool) {
	var se *SkipError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// ListOptions bounds a single discovery pass.
type ListOptions struct {
	// Days limits discovery to articles at most this many days old, when
	// the age can be determined. Zero means no age limit.
	Days int

	// MaxPerCategory caps the URLs taken from each category. Zero means
	// no cap.
	MaxPerCategory int

	// Categories restricts discovery to the named categories. Empty means
	// all configured categories.
	Categories []string
}

// Source is one publisher. ListURLs yields candidate article URLs without
// duplicates within a single call; FetchArticle returns a populated article
// or a *SkipError.
type Source interface {
	Name() string
	ListURLs(ctx context.Context, opts ListOptions) ([]string, error)
	FetchArticle(ctx context.Context, url string) (*models.Article, error)
}

// Registry holds the available sources keyed by name.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds or replaces a source under its own name.
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Name()] = s
}

// Get returns the source registered under name.
func (r *Registry) Get(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[name]
	return s, ok
}

// Names returns the registered source names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
