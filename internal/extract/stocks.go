package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/newslook/newslook/internal/models"
)

// stockMention matches the conventional in-text form 名称(600000), with
// optional exchange prefix and either ASCII or full-width parentheses.
var stockMention = regexp.MustCompile(`([\p{Han}]{2,10})[（(]\s*((?:[sS][hHzZ]|[bB][jJ])?\d{6})\s*[）)]`)

// stockCodeInHref pulls a prefixed code out of a quote-page link.
var stockCodeInHref = regexp.MustCompile(`((?:sh|sz|bj)\d{6})`)

// extractStocks collects stock mentions from quote links inside the article
// body and from the plain text, deduplicated by code.
func (d *Declarative) extractStocks(body *goquery.Selection, content string) []models.Stock {
	var out []models.Stock
	seen := make(map[string]bool)
	add := func(code, name string) {
		code = canonicalStockCode(code)
		if code == "" || seen[code] {
			return
		}
		seen[code] = true
		out = append(out, models.Stock{Code: code, Name: name})
	}

	if d.cfg.StockLinkSelector != "" {
		body.Find(d.cfg.StockLinkSelector).Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			m := stockCodeInHref.FindString(strings.ToLower(href))
			if m == "" {
				return
			}
			add(m, strings.TrimSpace(a.Text()))
		})
	}

	for _, m := range stockMention.FindAllStringSubmatch(content, -1) {
		add(m[2], m[1])
	}
	return out
}

// canonicalStockCode lowercases the exchange prefix and infers a missing
// one from the leading digit: 6 is Shanghai, 0 and 3 are Shenzhen, 4 and 8
// are Beijing.
func canonicalStockCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if len(code) == 8 {
		switch code[:2] {
		case "sh", "sz", "bj":
			return code
		}
		return ""
	}
	if len(code) != 6 {
		return ""
	}
	switch code[0] {
	case '6':
		return "sh" + code
	case '0', '3':
		return "sz" + code
	case '4', '8':
		return "bj" + code
	}
	return ""
}
