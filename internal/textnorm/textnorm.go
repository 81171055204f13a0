// Package textnorm provides pure text cleanup functions for crawled Chinese
// news content: escape and entity decoding, HTML stripping, mojibake repair,
// keyword extraction, and lexicon-based sentiment classification.
//
// Every function is total: empty input yields empty output, and no input
// panics. Transforms that filter are length-monotone.
package textnorm

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	xhtml "golang.org/x/net/html"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/unicode/norm"

	"html"
)

// reUnicodeEscape matches JSON-style \uXXXX escape sequences.
var reUnicodeEscape = regexp.MustCompile(`\\u([0-9a-fA-F]{4})`)

// rePercentSeq matches percent-encoded byte sequences.
var rePercentSeq = regexp.MustCompile(`%[0-9a-fA-F]{2}`)

// reWhitespace matches runs of spaces and tabs within a line.
var reWhitespace = regexp.MustCompile(`[ \t\x{00A0}\x{3000}]+`)

// reBlankLines collapses three or more consecutive newlines.
var reBlankLines = regexp.MustCompile(`\n{3,}`)

// NormalizeText decodes \uXXXX escapes, percent-encoded sequences (when their
// density suggests the text is URL-encoded), and HTML entities, normalizes
// whitespace, and returns the NFC form of the result.
func NormalizeText(raw string) string {
	if raw == "" {
		return ""
	}

	text := decodeUnicodeEscapes(raw)
	text = decodePercentEncoding(text)
	text = html.UnescapeString(text)
	text = normalizeWhitespace(text)

	return norm.NFC.String(text)
}

// decodeUnicodeEscapes replaces \uXXXX sequences with the runes they encode.
// Surrogate pairs are combined; unpaired surrogates are left untouched.
func decodeUnicodeEscapes(s string) string {
	if !strings.Contains(s, `\u`) {
		return s
	}
	return reUnicodeEscape.ReplaceAllStringFunc(s, func(m string) string {
		n, err := strconv.ParseUint(m[2:], 16, 32)
		if err != nil {
			return m
		}
		r := rune(n)
		if r >= 0xD800 && r <= 0xDFFF {
			// Lone surrogate half; leave the escape in place rather than
			// emitting U+FFFD.
			return m
		}
		return string(r)
	})
}

// decodePercentEncoding unescapes percent-encoded text when at least a tenth
// of the input consists of %XX triplets. Plain prose with an occasional
// literal percent sign is left alone.
func decodePercentEncoding(s string) string {
	matches := rePercentSeq.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return s
	}
	if len(matches)*3*10 < len(s) {
		return s
	}
	decoded, err := url.PathUnescape(s)
	if err != nil || !utf8.ValidString(decoded) {
		return s
	}
	return decoded
}

// normalizeWhitespace collapses horizontal whitespace within lines, trims
// each line, drops empty lines down to at most one blank separator, and
// trims the result.
func normalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(reWhitespace.ReplaceAllString(line, " "))
		cleaned = append(cleaned, trimmed)
	}

	out := strings.Join(cleaned, "\n")
	out = reBlankLines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// blockTags are HTML elements whose boundaries become newlines in HTMLToText.
var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "li": true,
	"ul": true, "ol": true, "table": true, "tr": true, "br": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "header": true, "footer": true,
}

// skipTags are elements whose entire subtree is dropped.
var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "iframe": true,
	"svg": true, "head": true,
}

// HTMLToText strips markup from an HTML fragment or document, preserving
// block boundaries as newlines, and normalizes the result with NormalizeText.
// Malformed HTML never fails; the tokenizer consumes whatever it can.
func HTMLToText(markup string) string {
	if markup == "" {
		return ""
	}

	var b strings.Builder
	z := xhtml.NewTokenizer(strings.NewReader(markup))
	skipDepth := 0

	for {
		tt := z.Next()
		switch tt {
		case xhtml.ErrorToken:
			return NormalizeText(b.String())
		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipTags[tag] && tt == xhtml.StartTagToken {
				skipDepth++
				continue
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		case xhtml.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipTags[tag] {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		case xhtml.TextToken:
			if skipDepth == 0 {
				b.Write(z.Text())
			}
		}
	}
}

// RepairMojibake attempts to undo the two misdecodings seen in practice on
// the crawled sites: UTF-8 bytes read as Latin-1, and GBK bytes read as
// Latin-1. The candidate repair is accepted only when it raises the ratio of
// CJK codepoints. Text containing replacement characters is unrecoverable
// and returned unchanged. The function is deterministic and idempotent: a
// repaired string contains runes above U+00FF and passes through untouched.
func RepairMojibake(text string) string {
	if text == "" {
		return text
	}
	if strings.ContainsRune(text, utf8.RuneError) {
		return text
	}

	// A repairable string consists solely of runes that fit one byte.
	raw := make([]byte, 0, len(text))
	for _, r := range text {
		if r > 0xFF {
			return text
		}
		raw = append(raw, byte(r))
	}

	best := text
	bestRatio := cjkRatio(text)

	if utf8.Valid(raw) {
		if cand := string(raw); cjkRatio(cand) > bestRatio {
			best = cand
			bestRatio = cjkRatio(cand)
		}
	}

	if decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(raw); err == nil {
		cand := string(decoded)
		if !strings.ContainsRune(cand, utf8.RuneError) && cjkRatio(cand) > bestRatio {
			best = cand
		}
	}

	if best == text {
		return text
	}
	return norm.NFC.String(best)
}

// cjkRatio returns the fraction of runes in s that are CJK ideographs or
// CJK punctuation. Empty input counts as zero.
func cjkRatio(s string) float64 {
	var total, cjk int
	for _, r := range s {
		total++
		if isCJK(r) {
			cjk++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(cjk) / float64(total)
}

// isCJK reports whether r is a CJK ideograph, CJK punctuation, or a
// fullwidth form.
func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF: // unified ideographs
		return true
	case r >= 0x3400 && r <= 0x4DBF: // extension A
		return true
	case r >= 0x3000 && r <= 0x303F: // CJK punctuation
		return true
	case r >= 0xFF00 && r <= 0xFFEF: // fullwidth forms
		return true
	}
	return false
}
