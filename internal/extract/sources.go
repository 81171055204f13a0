package extract

import (
	"regexp"

	"golang.org/x/time/rate"

	"github.com/newslook/newslook/internal/fetch"
)

// sharedHardAdPatterns drop a URL on any source. Per-source configs extend
// this list.
var sharedHardAdPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[?&](adid|ad_id|sudaref)=`),
	regexp.MustCompile(`/(zhuanti|special|activity|promo)/`),
	regexp.MustCompile(`^https?://sax\.`),
	regexp.MustCompile(`^https?://click\.`),
}

var sharedAdKeywords = []string{"广告", "推广", "赞助", "特约发布"}

// DefaultSourceConfigs declares the five built-in publishers. Selectors
// follow the sites' article templates; a site redesign is a config edit.
func DefaultSourceConfigs() []SourceConfig {
	return []SourceConfig{
		{
			Name:    "sina",
			BaseURL: "https://finance.sina.com.cn",
			Categories: map[string][]string{
				"stock": {"https://finance.sina.com.cn/stock/"},
				"china": {"https://finance.sina.com.cn/china/"},
				"money": {"https://finance.sina.com.cn/money/"},
			},
			LinkSelector:      `a[href*="finance.sina.com.cn"]`,
			URLPattern:        regexp.MustCompile(`finance\.sina\.com\.cn/.+/doc-[a-z0-9]+\.s?html`),
			TitleSelector:     "h1.main-title",
			TimeSelector:      ".date-source .date, #pub_date",
			AuthorSelector:    ".date-source .source, .author",
			ContentSelector:   "#artibody, .article",
			CategorySelector:  ".channel-path a",
			StockLinkSelector: `a[href*="finance.sina.com.cn/realstock"]`,
			HardAdPatterns:    sharedHardAdPatterns,
			AdKeywords:        sharedAdKeywords,
		},
		{
			Name:    "eastmoney",
			BaseURL: "https://finance.eastmoney.com",
			Categories: map[string][]string{
				"finance": {"https://finance.eastmoney.com/a/cywjh.html"},
				"stock":   {"https://finance.eastmoney.com/a/cgspl.html"},
			},
			LinkSelector:      `a[href*="finance.eastmoney.com/a/"]`,
			URLPattern:        regexp.MustCompile(`finance\.eastmoney\.com/a/\d{12,}\.html`),
			TitleSelector:     "h1",
			TimeSelector:      ".time, .item-time",
			AuthorSelector:    ".data-source, .source",
			ContentSelector:   "#ContentBody, .txtinfos",
			StockLinkSelector: `a[href*="quote.eastmoney.com"]`,
			HardAdPatterns:    sharedHardAdPatterns,
			SoftAdPatterns: []*regexp.Regexp{
				regexp.MustCompile(`/a/cgg[a-z]*\d`),
			},
			AdKeywords: sharedAdKeywords,
		},
		{
			Name:    "tencent",
			BaseURL: "https://new.qq.com",
			Categories: map[string][]string{
				"finance": {"https://new.qq.com/ch/finance/"},
				"stock":   {"https://new.qq.com/ch/finance_stock/"},
			},
			LinkSelector:    `a[href*="new.qq.com/rain/a/"]`,
			URLPattern:      regexp.MustCompile(`new\.qq\.com/rain/a/\w+`),
			TitleSelector:   "h1",
			TimeSelector:    ".article-time, .left-stick-wp time",
			AuthorSelector:  ".author-name, .media-name",
			ContentSelector: ".content-article, #ArticleContent",
			HardAdPatterns:  sharedHardAdPatterns,
			AdKeywords:      sharedAdKeywords,
		},
		{
			Name:    "netease",
			BaseURL: "https://money.163.com",
			Categories: map[string][]string{
				"finance": {"https://money.163.com/"},
				"stock":   {"https://money.163.com/stock/"},
			},
			LinkSelector:    `a[href*="money.163.com"]`,
			URLPattern:      regexp.MustCompile(`money\.163\.com/\d{2}/\d{4}/\d{2}/\w+\.html`),
			TitleSelector:   "h1.post_title",
			TimeSelector:    ".post_info, .post_time_source",
			AuthorSelector:  ".post_author, .ep-source",
			ContentSelector: ".post_body, #endText",
			HardAdPatterns:  sharedHardAdPatterns,
			AdKeywords:      sharedAdKeywords,
		},
		{
			Name:    "ifeng",
			BaseURL: "https://finance.ifeng.com",
			Categories: map[string][]string{
				"finance": {"https://finance.ifeng.com/"},
				"stock":   {"https://finance.ifeng.com/stock/"},
			},
			LinkSelector:    `a[href*="ifeng.com/c/"]`,
			URLPattern:      regexp.MustCompile(`(?:finance|news)\.ifeng\.com/c/\w+`),
			TitleSelector:   "h1",
			TimeSelector:    ".time, span[class*=time]",
			AuthorSelector:  ".source, span[class*=source]",
			ContentSelector: "div[class*=text-], .main_content",
			HardAdPatterns:  sharedHardAdPatterns,
			AdKeywords:      sharedAdKeywords,
		},
	}
}

// NewDefaultRegistry registers the five built-in publishers, all sharing
// one fetch client. rec may be nil.
func NewDefaultRegistry(client *fetch.Client, limiter *rate.Limiter, rec fetch.Recorder) *Registry {
	r := NewRegistry()
	for _, cfg := range DefaultSourceConfigs() {
		d := NewDeclarative(cfg, client, limiter)
		if rec != nil {
			d.WithRecorder(rec)
		}
		r.Register(d)
	}
	return r
}
