// Package models defines the persisted entities and their data stores over
// the unified SQLite database.
package models

import (
	"encoding/json"
	"time"
)

// KnownSources is the closed set of publisher names with dedicated
// extractors. Articles arriving with any other source are stored under
// SourceUnknown for later re-classification.
var KnownSources = []string{"sina", "eastmoney", "tencent", "netease", "ifeng"}

// SourceUnknown marks articles whose source could not be classified.
const SourceUnknown = "unknown"

// IsKnownSource reports whether name names a dedicated extractor.
func IsKnownSource(name string) bool {
	for _, s := range KnownSources {
		if s == name {
			return true
		}
	}
	return false
}

// Stock is a market instrument referenced by an article.
type Stock struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Article is the primary entity: one normalized news item. ID is a short
// hash of the canonical URL and uniquely determines URL.
type Article struct {
	ID            string     `json:"id"`
	URL           string     `json:"url"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	ContentHTML   string     `json:"content_html,omitempty"`
	Author        string     `json:"author,omitempty"`
	Category      string     `json:"category,omitempty"`
	Source        string     `json:"source"`
	PublishTime   *time.Time `json:"publish_time,omitempty"`
	CrawlTime     time.Time  `json:"crawl_time"`
	Keywords      []string   `json:"keywords,omitempty"`
	RelatedStocks []Stock    `json:"related_stocks,omitempty"`
	Sentiment     string     `json:"sentiment"`
	Images        []string   `json:"images,omitempty"`
}

// marshalJSONColumn encodes a slice for a TEXT column, normalizing nil to
// an empty JSON array.
func marshalJSONColumn(v any) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return "[]"
	}
	return string(data)
}

func unmarshalStrings(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func unmarshalStocks(raw string) []Stock {
	if raw == "" || raw == "[]" {
		return nil
	}
	var out []Stock
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
