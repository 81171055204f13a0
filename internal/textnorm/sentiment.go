package textnorm

import "strings"

// Sentiment is the coarse tone label attached to an article.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// positiveTerms and negativeTerms form the finance sentiment lexicon. The
// lists are weighted implicitly by occurrence counts, not per-term weights.
var positiveTerms = []string{
	"上涨", "大涨", "涨停", "涨幅", "利好", "增长", "增持", "盈利", "获利",
	"回升", "回暖", "反弹", "走强", "攀升", "飙升", "创新高", "突破", "向好",
	"复苏", "扩张", "超预期", "提振", "看好", "买入", "推荐",
}

var negativeTerms = []string{
	"下跌", "大跌", "跌停", "跌幅", "利空", "亏损", "减持", "下滑", "下行",
	"回落", "走弱", "暴跌", "重挫", "创新低", "跳水", "萎缩", "恶化", "违约",
	"退市", "爆雷", "不及预期", "抛售", "卖出", "风险加剧", "警惕",
}

// ClassifySentiment scores text against the finance lexicon and returns
// positive, negative, or neutral when the signal is inconclusive. The
// classification is deterministic for a given input.
func ClassifySentiment(text string) Sentiment {
	if text == "" {
		return SentimentNeutral
	}

	var score int
	for _, term := range positiveTerms {
		score += strings.Count(text, term)
	}
	for _, term := range negativeTerms {
		score -= strings.Count(text, term)
	}

	switch {
	case score > 0:
		return SentimentPositive
	case score < 0:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}
