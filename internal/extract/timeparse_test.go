package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePublishTime_AbsoluteForms(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		in   string
		want time.Time
	}{
		// Publishers print CST; results are UTC (minus eight hours).
		{"2026-08-20 10:30:00", time.Date(2026, 8, 20, 2, 30, 0, 0, time.UTC)},
		{"2026-08-20 10:30", time.Date(2026, 8, 20, 2, 30, 0, 0, time.UTC)},
		{"2026/8/20 10:30", time.Date(2026, 8, 20, 2, 30, 0, 0, time.UTC)},
		{"2026年08月20日 10:30", time.Date(2026, 8, 20, 2, 30, 0, 0, time.UTC)},
		{"2026年8月20日", time.Date(2026, 8, 19, 16, 0, 0, 0, time.UTC)},
		{"2026-08-20", time.Date(2026, 8, 19, 16, 0, 0, 0, time.UTC)},
		// Full-width colon.
		{"2026-08-20 10：30", time.Date(2026, 8, 20, 2, 30, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, ok := ParsePublishTime(tc.in, now)
		require.True(t, ok, "input %q", tc.in)
		assert.True(t, got.Equal(tc.want), "input %q: got %v want %v", tc.in, got, tc.want)
	}
}

func TestParsePublishTime_RelativeForms(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	got, ok := ParsePublishTime("5分钟前", now)
	require.True(t, ok)
	assert.True(t, got.Equal(now.Add(-5*time.Minute)))

	got, ok = ParsePublishTime("2小时前", now)
	require.True(t, ok)
	assert.True(t, got.Equal(now.Add(-2*time.Hour)))

	got, ok = ParsePublishTime("3天前", now)
	require.True(t, ok)
	assert.True(t, got.Equal(now.Add(-72*time.Hour)))

	got, ok = ParsePublishTime("刚刚", now)
	require.True(t, ok)
	assert.True(t, got.Equal(now))
}

func TestParsePublishTime_TodayYesterday(t *testing.T) {
	// 2026-08-25 12:00 UTC is 2026-08-25 20:00 CST.
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	got, ok := ParsePublishTime("今天 10:30", now)
	require.True(t, ok)
	assert.True(t, got.Equal(time.Date(2026, 8, 25, 2, 30, 0, 0, time.UTC)))

	got, ok = ParsePublishTime("昨天 10:30", now)
	require.True(t, ok)
	assert.True(t, got.Equal(time.Date(2026, 8, 24, 2, 30, 0, 0, time.UTC)))
}

func TestParsePublishTime_Yearless(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	got, ok := ParsePublishTime("08-20 10:30", now)
	require.True(t, ok)
	assert.Equal(t, 2026, got.Year())

	// A future month belongs to last year.
	got, ok = ParsePublishTime("12-20 10:30", now)
	require.True(t, ok)
	assert.Equal(t, 2025, got.Year())
}

func TestParsePublishTime_Unparseable(t *testing.T) {
	now := time.Now()
	for _, in := range []string{"", "   ", "不是时间", "sometime soon"} {
		_, ok := ParsePublishTime(in, now)
		assert.False(t, ok, "input %q", in)
	}
}

func TestTimeFromURL(t *testing.T) {
	got, ok := TimeFromURL("https://finance.sina.com.cn/stock/2026-08-20/doc-abcdef.shtml")
	require.True(t, ok)
	// Midnight CST is 16:00 UTC the previous day.
	assert.True(t, got.Equal(time.Date(2026, 8, 19, 16, 0, 0, 0, time.UTC)))

	got, ok = TimeFromURL("https://money.163.com/26/0820/10/ABC.html")
	assert.False(t, ok)
	_ = got

	got, ok = TimeFromURL("https://example.com/a/20260820/x.html")
	require.True(t, ok)
	assert.Equal(t, time.August, got.In(cst).Month())

	_, ok = TimeFromURL("https://example.com/plain")
	assert.False(t, ok)

	// Implausible date segments are rejected.
	_, ok = TimeFromURL("https://example.com/2026-13-45/x")
	assert.False(t, ok)
}
