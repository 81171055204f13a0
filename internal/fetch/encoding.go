package fetch

import (
	"bytes"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

// DecodeBody converts a response body to UTF-8. Order: the Content-Type
// charset parameter (distrusted when the bytes do not round-trip), then a
// chardet heuristic over the body, then utf-8 / gbk / gb18030 in turn. The
// second return value names the encoding used; it is empty when the body
// had to be passed through undecoded.
func DecodeBody(body []byte, contentType string) ([]byte, string) {
	if len(body) == 0 {
		return body, "utf-8"
	}

	if cs := charsetFromContentType(contentType); cs != "" {
		if out, ok := decodeAs(body, cs); ok {
			return out, cs
		}
	}

	if best, err := chardet.NewHtmlDetector().DetectBest(body); err == nil && best != nil {
		cs := strings.ToLower(best.Charset)
		if out, ok := decodeAs(body, cs); ok {
			return out, cs
		}
	}

	for _, cs := range []string{"utf-8", "gbk", "gb18030"} {
		if out, ok := decodeAs(body, cs); ok {
			return out, cs
		}
	}

	return body, ""
}

// charsetFromContentType extracts a lowercased charset parameter from a
// Content-Type header value.
func charsetFromContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(params["charset"])
}

// charsetAliases maps detector spellings onto htmlindex names.
var charsetAliases = map[string]string{
	"gb-18030": "gb18030",
	"gb2312":   "gbk", // gbk is a superset; htmlindex maps gb2312 to gbk anyway
}

// decodeAs decodes body from the named charset. It refuses decodings that
// leave invalid input behind: utf-8 must validate, and other charsets must
// not produce replacement characters.
func decodeAs(body []byte, charset string) ([]byte, bool) {
	if alias, ok := charsetAliases[charset]; ok {
		charset = alias
	}
	switch charset {
	case "utf-8", "utf8", "ascii", "us-ascii":
		if utf8.Valid(body) {
			return body, true
		}
		return nil, false
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, false
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return nil, false
	}
	if bytes.ContainsRune(out, utf8.RuneError) {
		return nil, false
	}
	return out, true
}
