package models

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Filter narrows news queries. Zero-valued fields are ignored.
type Filter struct {
	Source   string
	Category string
	Keyword  string
	// Query is a substring match against title and content.
	Query string
	From  time.Time
	To    time.Time
}

// where builds the WHERE clause and its bind arguments.
func (f Filter) where() (string, []any) {
	var conds []string
	var args []any

	if f.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, f.Source)
	}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if !f.From.IsZero() {
		conds = append(conds, "COALESCE(publish_time, crawl_time) >= ?")
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		conds = append(conds, "COALESCE(publish_time, crawl_time) <= ?")
		args = append(args, f.To.UTC())
	}
	if f.Keyword != "" {
		conds = append(conds, `EXISTS (
			SELECT 1 FROM news_keywords nk
			JOIN keywords k ON k.id = nk.keyword_id
			WHERE nk.news_id = news.id AND k.keyword = ?)`)
		args = append(args, f.Keyword)
	}
	if f.Query != "" {
		conds = append(conds, "(title LIKE '%' || ? || '%' OR content LIKE '%' || ? || '%')")
		args = append(args, f.Query, f.Query)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// Query returns one page of articles under the filter plus the exact total.
// Ordering is stable: publish time (crawl time when absent) descending,
// then id descending.
func (s *NewsStore) Query(ctx context.Context, f Filter, page, pageSize int) ([]Article, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	where, args := f.where()

	var total int64
	countArgs := append([]any(nil), args...)
	if err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM news "+where, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("models: query count: %w", err)
	}

	q := fmt.Sprintf(`
		SELECT %s FROM news %s
		ORDER BY COALESCE(publish_time, crawl_time) DESC, id DESC
		LIMIT ? OFFSET ?`, articleColumns, where)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("models: query: %w", err)
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("models: query scan: %w", err)
		}
		articles = append(articles, *a)
	}
	return articles, total, rows.Err()
}

// Count returns the exact number of articles under the filter.
func (s *NewsStore) Count(ctx context.Context, f Filter) (int64, error) {
	where, args := f.where()
	var total int64
	if err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM news "+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("models: count: %w", err)
	}
	return total, nil
}

// SourceCount pairs a source or category name with its article count.
type SourceCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// ListSources returns the distinct sources with per-source article counts.
func (s *NewsStore) ListSources(ctx context.Context) ([]SourceCount, error) {
	return s.groupedCounts(ctx, "source")
}

// ListCategories returns the distinct non-empty categories with counts.
func (s *NewsStore) ListCategories(ctx context.Context) ([]SourceCount, error) {
	return s.groupedCounts(ctx, "category")
}

func (s *NewsStore) groupedCounts(ctx context.Context, column string) ([]SourceCount, error) {
	// column is one of two fixed identifiers, never user input.
	q := fmt.Sprintf(`
		SELECT %s, COUNT(*) FROM news
		WHERE %s != ''
		GROUP BY %s
		ORDER BY COUNT(*) DESC, %s`, column, column, column, column)

	rows, err := s.conn.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("models: list %s: %w", column, err)
	}
	defer rows.Close()

	var out []SourceCount
	for rows.Next() {
		var sc SourceCount
		if err := rows.Scan(&sc.Name, &sc.Count); err != nil {
			return nil, fmt.Errorf("models: list %s scan: %w", column, err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// TrendPoint is one day of article volume.
type TrendPoint struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Count int64  `json:"count"`
}

// Trends returns per-day article counts between from and to inclusive,
// with zero-filled gaps so the series is continuous.
func (s *NewsStore) Trends(ctx context.Context, from, to time.Time) ([]TrendPoint, error) {
	from = from.UTC().Truncate(24 * time.Hour)
	to = to.UTC().Truncate(24 * time.Hour)
	if to.Before(from) {
		return nil, fmt.Errorf("models: trends: range end before start")
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT date(COALESCE(publish_time, crawl_time)) AS day, COUNT(*)
		FROM news
		WHERE COALESCE(publish_time, crawl_time) >= ?
		  AND COALESCE(publish_time, crawl_time) < ?
		GROUP BY day
	`, from, to.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("models: trends: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var day string
		var n int64
		if err := rows.Scan(&day, &n); err != nil {
			return nil, fmt.Errorf("models: trends scan: %w", err)
		}
		counts[day] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var points []TrendPoint
	for d := from; !d.After(to); d = d.Add(24 * time.Hour) {
		key := d.Format("2006-01-02")
		points = append(points, TrendPoint{Date: key, Count: counts[key]})
	}
	return points, nil
}

// KeywordCount pairs a keyword with its article count.
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int64  `json:"count"`
}

// TopKeywords returns the k most frequent keywords. When from/to are
// non-zero the counts are restricted to articles crawled in that range;
// otherwise the aggregate keyword counters are used.
func (s *NewsStore) TopKeywords(ctx context.Context, from, to time.Time, k int) ([]KeywordCount, error) {
	if k <= 0 {
		k = 10
	}

	var rowsQ string
	var args []any
	if from.IsZero() && to.IsZero() {
		rowsQ = `SELECT keyword, count FROM keywords ORDER BY count DESC, keyword LIMIT ?`
		args = []any{k}
	} else {
		fromT := time.Unix(0, 0).UTC()
		if !from.IsZero() {
			fromT = from.UTC()
		}
		toT := time.Now().UTC()
		if !to.IsZero() {
			toT = to.UTC()
		}
		rowsQ = `
			SELECT k.keyword, COUNT(*) AS n
			FROM news_keywords nk
			JOIN keywords k ON k.id = nk.keyword_id
			JOIN news n2 ON n2.id = nk.news_id
			WHERE n2.crawl_time >= ? AND n2.crawl_time <= ?
			GROUP BY k.keyword
			ORDER BY n DESC, k.keyword
			LIMIT ?`
		args = []any{fromT, toT, k}
	}

	rows, err := s.conn.QueryContext(ctx, rowsQ, args...)
	if err != nil {
		return nil, fmt.Errorf("models: top keywords: %w", err)
	}
	defer rows.Close()

	var out []KeywordCount
	for rows.Next() {
		var kc KeywordCount
		if err := rows.Scan(&kc.Keyword, &kc.Count); err != nil {
			return nil, fmt.Errorf("models: top keywords scan: %w", err)
		}
		out = append(out, kc)
	}
	return out, rows.Err()
}

// Stats is the dashboard summary.
type Stats struct {
	Total      int64         `json:"total"`
	Today      int64         `json:"today"`
	TopSources []SourceCount `json:"top_sources"`
}

// Stats returns the total count, today's count (UTC), and the top sources.
func (s *NewsStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM news`).Scan(&st.Total); err != nil {
		return st, fmt.Errorf("models: stats total: %w", err)
	}

	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	if err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM news WHERE crawl_time >= ?`, dayStart).Scan(&st.Today); err != nil {
		return st, fmt.Errorf("models: stats today: %w", err)
	}

	sources, err := s.ListSources(ctx)
	if err != nil {
		return st, err
	}
	if len(sources) > 5 {
		sources = sources[:5]
	}
	st.TopSources = sources
	return st, nil
}
