package textnorm

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/unicode/norm"
)

func TestNormalizeText_UnicodeEscapes(t *testing.T) {
	assert.Equal(t, "中国经济", NormalizeText(`\u4e2d\u56fd\u7ecf\u6d4e`))
	// A lone surrogate half stays escaped instead of becoming U+FFFD.
	assert.Contains(t, NormalizeText(`\ud83d test`), `\ud83d`)
}

func TestNormalizeText_HTMLEntities(t *testing.T) {
	assert.Equal(t, "A股 & 港股 <首页>", NormalizeText("A股 &amp; 港股 &lt;首页&gt;"))
	assert.Equal(t, "不断 前行", NormalizeText("不断&nbsp;前行"))
}

func TestNormalizeText_PercentEncoding(t *testing.T) {
	// Dense percent-encoding gets decoded.
	assert.Equal(t, "中国", NormalizeText("%E4%B8%AD%E5%9B%BD"))
	// Prose with a stray percent sign is untouched.
	assert.Equal(t, "涨幅达 5%E0", NormalizeText("涨幅达 5%E0"))
}

func TestNormalizeText_Whitespace(t *testing.T) {
	in := "  第一段\t内容  \r\n\r\n\r\n\r\n 第二段 "
	assert.Equal(t, "第一段 内容\n\n第二段", NormalizeText(in))
}

func TestNormalizeText_NFC(t *testing.T) {
	decomposed := "é" // e + combining acute
	out := NormalizeText(decomposed)
	assert.True(t, norm.NFC.IsNormalString(out))
	assert.Equal(t, "é", out)
}

func TestNormalizeText_Empty(t *testing.T) {
	assert.Equal(t, "", NormalizeText(""))
}

func TestHTMLToText_StripsScriptAndStyle(t *testing.T) {
	in := `<html><head><style>p{color:red}</style></head><body>
		<script>var x = 1;</script><p>财经新闻</p><p>第二段</p></body></html>`
	out := HTMLToText(in)
	assert.Equal(t, "财经新闻\n第二段", out)
	assert.NotContains(t, out, "var x")
	assert.NotContains(t, out, "color")
}

func TestHTMLToText_RoundTripPlainParagraphs(t *testing.T) {
	paras := []string{"央行今日公布最新数据", "市场反应总体平稳"}
	var b strings.Builder
	for _, p := range paras {
		b.WriteString("<p>" + p + "</p>")
	}
	assert.Equal(t, NormalizeText(strings.Join(paras, "\n")), HTMLToText(b.String()))
}

func TestHTMLToText_Empty(t *testing.T) {
	assert.Equal(t, "", HTMLToText(""))
}

// latin1ify decodes raw bytes as if they were Latin-1, reproducing the
// misdecoding the repair function targets.
func latin1ify(raw []byte) string {
	var b strings.Builder
	for _, c := range raw {
		b.WriteRune(rune(c))
	}
	return b.String()
}

func TestRepairMojibake_GBKAsLatin1(t *testing.T) {
	raw, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("中国经济"))
	assert.NoError(t, err)

	garbled := latin1ify(raw)
	assert.NotEqual(t, "中国经济", garbled)
	assert.Equal(t, "中国经济", RepairMojibake(garbled))
}

func TestRepairMojibake_UTF8AsLatin1(t *testing.T) {
	garbled := latin1ify([]byte("中国经济"))
	assert.Equal(t, "中国经济", RepairMojibake(garbled))
}

func TestRepairMojibake_Idempotent(t *testing.T) {
	raw, _ := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("沪指收涨"))
	once := RepairMojibake(latin1ify(raw))
	assert.Equal(t, once, RepairMojibake(once))
}

func TestRepairMojibake_LeavesCleanTextAlone(t *testing.T) {
	for _, s := range []string{"", "中国经济", "plain ascii text", "混合 mixed 文本"} {
		assert.Equal(t, s, RepairMojibake(s))
	}
}

func TestRepairMojibake_ReplacementRunsUnrecoverable(t *testing.T) {
	s := "部分��内容"
	assert.Equal(t, s, RepairMojibake(s))
}

func TestRepairMojibake_OutputValidUTF8(t *testing.T) {
	raw, _ := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("今日股市行情"))
	out := RepairMojibake(latin1ify(raw))
	assert.True(t, utf8.ValidString(out))
	assert.NotContains(t, out, "�")
}

func TestExtractKeywords_FrequencyThenFirstOccurrence(t *testing.T) {
	text := "股市股市股市 经济经济 政策"
	got := ExtractKeywords(text, 3)
	assert.Equal(t, []string{"股市", "经济", "政策"}, got)
}

func TestExtractKeywords_StopwordsFiltered(t *testing.T) {
	got := ExtractKeywords("经济的增长", 10)
	assert.NotContains(t, got, "济的")
	assert.NotContains(t, got, "的增")
}

func TestExtractKeywords_LatinWords(t *testing.T) {
	got := ExtractKeywords("GDP growth GDP", 2)
	assert.Equal(t, []string{"gdp", "growth"}, got)
}

func TestExtractKeywords_KLimitAndEmpty(t *testing.T) {
	assert.Nil(t, ExtractKeywords("", 5))
	assert.Nil(t, ExtractKeywords("股市上涨", 0))
	assert.Len(t, ExtractKeywords("股市大涨 经济回暖 政策利好", 2), 2)
}

func TestClassifySentiment(t *testing.T) {
	assert.Equal(t, SentimentPositive, ClassifySentiment("沪指上涨，市场利好不断"))
	assert.Equal(t, SentimentNegative, ClassifySentiment("股价暴跌，公司持续亏损"))
	assert.Equal(t, SentimentNeutral, ClassifySentiment("公司召开年度股东大会"))
	assert.Equal(t, SentimentNeutral, ClassifySentiment(""))
	// Balanced signal is inconclusive.
	assert.Equal(t, SentimentNeutral, ClassifySentiment("利好与利空交织"))
}
