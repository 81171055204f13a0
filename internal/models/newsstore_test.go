package models

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newslook/newslook/internal/db"
)

func testStore(t *testing.T) *NewsStore {
	t.Helper()
	return NewNewsStore(db.OpenMemory(t), ":memory:")
}

func testArticle(id, url string) *Article {
	pub := time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC)
	return &Article{
		ID:            id,
		URL:           url,
		Title:         "央行发布二季度货币政策报告",
		Content:       "报告指出经济运行总体平稳。",
		ContentHTML:   "<p>报告指出经济运行总体平稳。</p>",
		Author:        "记者张三",
		Category:      "宏观",
		Source:        "sina",
		PublishTime:   &pub,
		CrawlTime:     time.Date(2026, 8, 20, 11, 0, 0, 0, time.UTC),
		Keywords:      []string{"央行", "货币政策"},
		RelatedStocks: []Stock{{Code: "sh600000", Name: "浦发银行"}},
		Sentiment:     "neutral",
		Images:        []string{"https://img.example.com/1.jpg"},
	}
}

func TestInsertAndGetByID_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := testArticle("aaaa000000000001", "https://finance.sina.com.cn/a/1.shtml")
	res, err := s.InsertArticle(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, Inserted, res)

	got, err := s.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.URL, got.URL)
	assert.Equal(t, a.Title, got.Title)
	assert.Equal(t, a.Content, got.Content)
	assert.Equal(t, a.Keywords, got.Keywords)
	assert.Equal(t, a.RelatedStocks, got.RelatedStocks)
	assert.Equal(t, a.Images, got.Images)
	require.NotNil(t, got.PublishTime)
	assert.True(t, got.PublishTime.Equal(*a.PublishTime))
	assert.True(t, got.CrawlTime.Equal(a.CrawlTime))
}

func TestGetByID_NotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertArticle_DuplicateDoesNotMutate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := testArticle("aaaa000000000001", "https://finance.sina.com.cn/a/1.shtml")
	_, err := s.InsertArticle(ctx, a)
	require.NoError(t, err)

	dup := testArticle("aaaa000000000001", "https://finance.sina.com.cn/a/1.shtml")
	dup.Title = "changed title"
	res, err := s.InsertArticle(ctx, dup)
	assert.Equal(t, Duplicate, res)
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := s.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Title, got.Title)

	n, err := s.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestInsertArticle_Idempotence(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	batch := []*Article{
		testArticle("id0000000000000a", "https://x/1"),
		testArticle("id0000000000000b", "https://x/2"),
	}
	ingest := func() {
		for _, a := range batch {
			_, _ = s.InsertArticle(ctx, a)
		}
	}
	ingest()
	ingest()

	n, err := s.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestQuery_FiltersAndPagination(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		a := testArticle(fmt.Sprintf("id%014d", i), fmt.Sprintf("https://x/%d", i))
		pub := time.Date(2026, 8, 10+i, 8, 0, 0, 0, time.UTC)
		a.PublishTime = &pub
		if i%2 == 0 {
			a.Source = "ifeng"
		}
		_, err := s.InsertArticle(ctx, a)
		require.NoError(t, err)
	}

	// Source filter.
	rows, total, err := s.Query(ctx, Filter{Source: "ifeng"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, rows, 3)

	// Newest first.
	rows, total, err = s.Query(ctx, Filter{}, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, rows, 2)
	assert.Equal(t, "https://x/4", rows[0].URL)
	assert.Equal(t, "https://x/3", rows[1].URL)

	// Second page continues the ordering.
	rows, _, err = s.Query(ctx, Filter{}, 2, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "https://x/2", rows[0].URL)

	// Text match.
	_, total, err = s.Query(ctx, Filter{Query: "货币政策"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	// Keyword filter.
	_, total, err = s.Query(ctx, Filter{Keyword: "央行"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	// Date range.
	_, total, err = s.Query(ctx, Filter{
		From: time.Date(2026, 8, 13, 0, 0, 0, 0, time.UTC),
	}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	// URL uniqueness invariant: exactly one row per URL.
	_, total, err = s.Query(ctx, Filter{Query: "https never matches"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestQuery_CrawlTimeFallbackOrdering(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := testArticle("id0000000000000a", "https://x/a")
	a.PublishTime = nil
	a.CrawlTime = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	_, err := s.InsertArticle(ctx, a)
	require.NoError(t, err)

	b := testArticle("id0000000000000b", "https://x/b")
	pub := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	b.PublishTime = &pub
	_, err = s.InsertArticle(ctx, b)
	require.NoError(t, err)

	rows, _, err := s.Query(ctx, Filter{}, 1, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	// The null-publish article sorts by its later crawl time.
	assert.Equal(t, "https://x/a", rows[0].URL)
}

func TestListSourcesAndCategories(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i, src := range []string{"sina", "sina", "tencent"} {
		a := testArticle(fmt.Sprintf("id%014d", i), fmt.Sprintf("https://x/%d", i))
		a.Source = src
		_, err := s.InsertArticle(ctx, a)
		require.NoError(t, err)
	}

	sources, err := s.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, SourceCount{Name: "sina", Count: 2}, sources[0])

	cats, err := s.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, "宏观", cats[0].Name)
}

func TestTrends_ZeroFillsGaps(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i, day := range []int{10, 10, 12} {
		a := testArticle(fmt.Sprintf("id%014d", i), fmt.Sprintf("https://x/%d", i))
		pub := time.Date(2026, 8, day, 9, 0, 0, 0, time.UTC)
		a.PublishTime = &pub
		_, err := s.InsertArticle(ctx, a)
		require.NoError(t, err)
	}

	points, err := s.Trends(ctx,
		time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 12, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, TrendPoint{Date: "2026-08-10", Count: 2}, points[0])
	assert.Equal(t, TrendPoint{Date: "2026-08-11", Count: 0}, points[1])
	assert.Equal(t, TrendPoint{Date: "2026-08-12", Count: 1}, points[2])
}

func TestTopKeywords(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		a := testArticle(fmt.Sprintf("id%014d", i), fmt.Sprintf("https://x/%d", i))
		a.Keywords = []string{"央行"}
		if i == 0 {
			a.Keywords = append(a.Keywords, "股市")
		}
		_, err := s.InsertArticle(ctx, a)
		require.NoError(t, err)
	}

	top, err := s.TopKeywords(ctx, time.Time{}, time.Time{}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, top)
	assert.Equal(t, "央行", top[0].Keyword)
	assert.Equal(t, int64(3), top[0].Count)
}

func TestReclassifySource(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := testArticle("id0000000000000a", "https://x/a")
	a.Source = SourceUnknown
	_, err := s.InsertArticle(ctx, a)
	require.NoError(t, err)

	require.NoError(t, s.ReclassifySource(ctx, a.ID, "netease"))
	// Idempotent.
	require.NoError(t, s.ReclassifySource(ctx, a.ID, "netease"))

	got, err := s.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "netease", got.Source)

	assert.ErrorIs(t, s.ReclassifySource(ctx, "missing", "sina"), ErrNotFound)
}

func TestHealth(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.InsertArticle(ctx, testArticle("id0000000000000a", "https://x/a"))
	require.NoError(t, err)

	h, err := s.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.NewsCount)
	assert.True(t, h.IntegrityOK)
	assert.NotNil(t, h.LastInsertAt)
}

func TestConcurrentWriters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	const perWriter = 50
	var wg sync.WaitGroup
	errs := make(chan error, 2*perWriter)

	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				a := testArticle(
					fmt.Sprintf("w%dn%013d", w, i),
					fmt.Sprintf("https://x/%d/%d", w, i),
				)
				if _, err := s.InsertArticle(ctx, a); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent insert: %v", err)
	}

	n, err := s.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2*perWriter), n)
}
