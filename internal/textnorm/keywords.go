package textnorm

import (
	"sort"
	"strings"
	"unicode"
)

// DefaultStopwords covers high-frequency Chinese function words (as single
// characters, which also suppress bigrams built from them) plus common
// English filler seen in mixed-language finance copy.
var DefaultStopwords = map[string]bool{
	"的": true, "了": true, "和": true, "是": true, "在": true, "有": true,
	"我": true, "他": true, "她": true, "它": true, "们": true, "这": true,
	"那": true, "为": true, "与": true, "及": true, "并": true, "或": true,
	"等": true, "被": true, "将": true, "已": true, "就": true, "都": true,
	"而": true, "于": true, "对": true, "从": true, "到": true, "向": true,
	"也": true, "又": true, "还": true, "但": true, "其": true, "之": true,
	"以": true, "着": true, "个": true, "上": true, "下": true, "中": true,
	"不": true, "一": true, "要": true, "会": true, "说": true, "据": true,
	"the": true, "a": true, "an": true, "of": true, "to": true, "in": true,
	"and": true, "or": true, "is": true, "are": true, "was": true, "for": true,
	"on": true, "at": true, "by": true, "with": true, "that": true, "this": true,
}

// termStat tracks a candidate keyword's frequency and first occurrence.
type termStat struct {
	term  string
	count int
	first int
}

// ExtractKeywords returns the top-k terms of text ordered by frequency, with
// first occurrence breaking ties. CJK text is tokenized into character
// bigrams within contiguous ideograph runs; Latin text into lowercased
// words. Terms containing a stopword character (or equal to a stopword) are
// dropped. It uses DefaultStopwords.
func ExtractKeywords(text string, k int) []string {
	return ExtractKeywordsWith(text, k, DefaultStopwords)
}

// ExtractKeywordsWith is ExtractKeywords with a caller-supplied stopword set.
func ExtractKeywordsWith(text string, k int, stopwords map[string]bool) []string {
	if text == "" || k <= 0 {
		return nil
	}

	stats := make(map[string]*termStat)
	pos := 0
	record := func(term string) {
		pos++
		if st, ok := stats[term]; ok {
			st.count++
			return
		}
		stats[term] = &termStat{term: term, count: 1, first: pos}
	}

	var cjkRun []rune
	var word []rune
	flushWord := func() {
		if len(word) >= 2 {
			w := strings.ToLower(string(word))
			if !stopwords[w] {
				record(w)
			}
		}
		word = word[:0]
	}
	flushCJK := func() {
		for i := 0; i+1 < len(cjkRun); i++ {
			a, b := string(cjkRun[i]), string(cjkRun[i+1])
			if stopwords[a] || stopwords[b] {
				continue
			}
			record(a + b)
		}
		cjkRun = cjkRun[:0]
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flushWord()
			cjkRun = append(cjkRun, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushCJK()
			word = append(word, r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()

	ranked := make([]*termStat, 0, len(stats))
	for _, st := range stats {
		ranked = append(ranked, st)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].first < ranked[j].first
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	terms := make([]string, len(ranked))
	for i, st := range ranked {
		terms[i] = st.term
	}
	return terms
}
