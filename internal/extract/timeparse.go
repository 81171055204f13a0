package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// cst is the zone the crawled publishers print timestamps in. Parsed times
// are converted to UTC before leaving this package.
var cst = time.FixedZone("CST", 8*60*60)

// absoluteLayouts is tried in order. Go's non-padded layout digits accept
// padded values, so "1" matches both "1" and "01".
var absoluteLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006/1/2 15:04:05",
	"2006/1/2 15:04",
	"2006年1月2日 15:04:05",
	"2006年1月2日 15:04",
	"2006年1月2日",
	"2006-01-02",
}

var (
	relativePattern = regexp.MustCompile(`^(\d+)\s*(秒|分钟|小时|天)前$`)
	yearlessPattern = regexp.MustCompile(`^(\d{1,2})[-月](\d{1,2})日?\s+(\d{1,2}):(\d{2})$`)
	todayPattern    = regexp.MustCompile(`^(今天|昨天)\s*(\d{1,2}):(\d{2})$`)
	urlDatePattern  = regexp.MustCompile(`/(20\d{2})[-/]?(\d{2})[-/]?(\d{2})/`)
)

// ParsePublishTime parses the timestamp strings the publishers print next
// to articles: absolute forms (dashed, slashed, 中文), year-less forms, and
// relative forms like "5分钟前". The result is UTC at second precision; ok
// is false when nothing matched.
func ParsePublishTime(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	s = strings.NewReplacer("：", ":", " ", " ").Replace(s)
	s = strings.Join(strings.Fields(s), " ")

	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, s, cst); err == nil {
			return t.UTC(), true
		}
	}

	if s == "刚刚" {
		return now.UTC().Truncate(time.Second), true
	}

	if m := relativePattern.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		var d time.Duration
		switch m[2] {
		case "秒":
			d = time.Duration(n) * time.Second
		case "分钟":
			d = time.Duration(n) * time.Minute
		case "小时":
			d = time.Duration(n) * time.Hour
		case "天":
			d = time.Duration(n) * 24 * time.Hour
		}
		return now.Add(-d).UTC().Truncate(time.Second), true
	}

	if m := todayPattern.FindStringSubmatch(s); m != nil {
		day := now.In(cst)
		if m[1] == "昨天" {
			day = day.AddDate(0, 0, -1)
		}
		hour, _ := strconv.Atoi(m[2])
		min, _ := strconv.Atoi(m[3])
		t := time.Date(day.Year(), day.Month(), day.Day(), hour, min, 0, 0, cst)
		return t.UTC(), true
	}

	if m := yearlessPattern.FindStringSubmatch(s); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		hour, _ := strconv.Atoi(m[3])
		min, _ := strconv.Atoi(m[4])
		year := now.In(cst).Year()
		t := time.Date(year, time.Month(month), day, hour, min, 0, 0, cst)
		// A month ahead of now means the article is from last year.
		if t.After(now.In(cst).Add(24 * time.Hour)) {
			t = t.AddDate(-1, 0, 0)
		}
		return t.UTC(), true
	}

	return time.Time{}, false
}

// TimeFromURL derives a publish date from a date segment embedded in the
// article URL, as several publishers do. The result is midnight CST in UTC.
func TimeFromURL(rawURL string) (time.Time, bool) {
	m := urlDatePattern.FindStringSubmatch(rawURL)
	if m == nil {
		return time.Time{}, false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, cst).UTC(), true
}
