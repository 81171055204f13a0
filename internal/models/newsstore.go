package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrDuplicate is returned by InsertArticle when the id or url already
// exists. Duplicates never mutate the stored row.
var ErrDuplicate = errors.New("models: duplicate article")

// ErrNotFound is returned by GetByID for an unknown id.
var ErrNotFound = errors.New("models: article not found")

// busyRetries bounds application-level retries on SQLITE_BUSY.
const busyRetries = 3

// integrityCheckInterval is how long a PRAGMA quick_check result is cached.
const integrityCheckInterval = 10 * time.Minute

// NewsStore provides access to the unified news database. Reads share the
// database/sql pool; writes serialize through writeMu so SQLite's single
// writer is never contended from within the process.
type NewsStore struct {
	conn *sql.DB
	path string

	writeMu sync.Mutex

	integrityMu   sync.Mutex
	integrityOK   bool
	integrityTime time.Time
}

// NewNewsStore creates a NewsStore. path is the database file location,
// used for size reporting; pass ":memory:" in tests.
func NewNewsStore(conn *sql.DB, path string) *NewsStore {
	return &NewsStore{conn: conn, path: path}
}

// InsertResult distinguishes a fresh insert from a suppressed duplicate.
type InsertResult int

const (
	Inserted InsertResult = iota
	Duplicate
)

// InsertArticle stores the article, its keywords, and its related stocks in
// one transaction. INSERT OR IGNORE semantics on id/url: an existing row is
// reported as Duplicate (with ErrDuplicate) and left untouched.
func (s *NewsStore) InsertArticle(ctx context.Context, a *Article) (InsertResult, error) {
	if a.ID == "" || a.URL == "" {
		return 0, fmt.Errorf("models: insert article: id and url are required")
	}

	var res InsertResult
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		r, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO news
				(id, url, title, content, content_html, publish_time, crawl_time,
				 author, source, category, sentiment, keywords, images, related_stocks)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			a.ID, a.URL, a.Title, a.Content, a.ContentHTML, nullTime(a.PublishTime),
			a.CrawlTime.UTC(), a.Author, a.Source, a.Category, a.Sentiment,
			marshalJSONColumn(a.Keywords), marshalJSONColumn(a.Images),
			marshalJSONColumn(a.RelatedStocks),
		)
		if err != nil {
			return fmt.Errorf("insert news: %w", err)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			res = Duplicate
			return nil
		}
		res = Inserted

		now := time.Now().UTC()
		for _, kw := range a.Keywords {
			var keywordID int64
			err := tx.QueryRowContext(ctx, `
				INSERT INTO keywords (keyword, count, last_updated) VALUES (?, 1, ?)
				ON CONFLICT(keyword) DO UPDATE SET count = count + 1, last_updated = excluded.last_updated
				RETURNING id
			`, kw, now).Scan(&keywordID)
			if err != nil {
				return fmt.Errorf("upsert keyword %q: %w", kw, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO news_keywords (news_id, keyword_id) VALUES (?, ?)`,
				a.ID, keywordID); err != nil {
				return fmt.Errorf("insert news_keyword: %w", err)
			}
		}

		for _, st := range a.RelatedStocks {
			if st.Code == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO stocks (code, name, count, last_updated) VALUES (?, ?, 1, ?)
				ON CONFLICT(code) DO UPDATE SET
					count = count + 1,
					name = CASE WHEN excluded.name != '' THEN excluded.name ELSE stocks.name END,
					last_updated = excluded.last_updated
			`, st.Code, st.Name, now); err != nil {
				return fmt.Errorf("upsert stock %q: %w", st.Code, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO news_stocks (news_id, stock_code) VALUES (?, ?)`,
				a.ID, st.Code); err != nil {
				return fmt.Errorf("insert news_stock: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("models: insert article: %w", err)
	}
	if res == Duplicate {
		return Duplicate, ErrDuplicate
	}
	return Inserted, nil
}

// withWriteTx runs f in a transaction under the writer lock, retrying a
// bounded number of times when SQLite reports the database busy.
func (s *NewsStore) withWriteTx(ctx context.Context, f func(*sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var lastErr error
	for i := 0; i <= busyRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i) * 100 * time.Millisecond):
			}
		}

		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			lastErr = err
			if isBusy(err) {
				continue
			}
			return err
		}

		if err := f(tx); err != nil {
			_ = tx.Rollback()
			lastErr = err
			if isBusy(err) {
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			lastErr = err
			if isBusy(err) {
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}

// isBusy recognizes SQLITE_BUSY / locked conditions from the driver.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// articleColumns is the canonical select list.
const articleColumns = `id, url, title, content, content_html, publish_time, crawl_time,
	author, source, category, sentiment, keywords, images, related_stocks`

type scannable interface {
	Scan(dest ...any) error
}

func scanArticle(row scannable) (*Article, error) {
	var a Article
	var publish sql.NullTime
	var keywords, images, stocks string
	if err := row.Scan(
		&a.ID, &a.URL, &a.Title, &a.Content, &a.ContentHTML, &publish, &a.CrawlTime,
		&a.Author, &a.Source, &a.Category, &a.Sentiment, &keywords, &images, &stocks,
	); err != nil {
		return nil, err
	}
	if publish.Valid {
		t := publish.Time.UTC()
		a.PublishTime = &t
	}
	a.CrawlTime = a.CrawlTime.UTC()
	a.Keywords = unmarshalStrings(keywords)
	a.Images = unmarshalStrings(images)
	a.RelatedStocks = unmarshalStocks(stocks)
	return &a, nil
}

// GetByID returns the article with the given id, or ErrNotFound.
func (s *NewsStore) GetByID(ctx context.Context, id string) (*Article, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+articleColumns+` FROM news WHERE id = ?`, id)
	a, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("models: get by id: %w", err)
	}
	return a, nil
}

// ExistsByURL reports whether an article with the given url is stored.
func (s *NewsStore) ExistsByURL(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := s.conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM news WHERE url = ?)`, url).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("models: exists by url: %w", err)
	}
	return exists, nil
}

// ExistsByID reports whether an article with the given id is stored.
func (s *NewsStore) ExistsByID(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM news WHERE id = ?)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("models: exists by id: %w", err)
	}
	return exists, nil
}

// ReclassifySource updates the source of an article. The update is
// idempotent; re-running with the same value is a no-op.
func (s *NewsStore) ReclassifySource(ctx context.Context, id, source string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		r, err := tx.ExecContext(ctx, `UPDATE news SET source = ? WHERE id = ?`, source, id)
		if err != nil {
			return fmt.Errorf("models: reclassify source: %w", err)
		}
		if n, _ := r.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Health reports storage health. The integrity check is a PRAGMA
// quick_check whose result is cached for integrityCheckInterval.
type Health struct {
	SizeBytes    int64      `json:"size_bytes"`
	NewsCount    int64      `json:"news_count"`
	LastInsertAt *time.Time `json:"last_insert_at,omitempty"`
	IntegrityOK  bool       `json:"integrity_ok"`
}

// Health returns the current storage health snapshot.
func (s *NewsStore) Health(ctx context.Context) (Health, error) {
	var h Health

	if s.path != "" && s.path != ":memory:" {
		if fi, err := os.Stat(s.path); err == nil {
			h.SizeBytes = fi.Size()
		}
	}

	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM news`).Scan(&h.NewsCount); err != nil {
		return h, fmt.Errorf("models: health count: %w", err)
	}

	var last sql.NullTime
	if err := s.conn.QueryRowContext(ctx, `SELECT MAX(crawl_time) FROM news`).Scan(&last); err == nil && last.Valid {
		t := last.Time.UTC()
		h.LastInsertAt = &t
	}

	h.IntegrityOK = s.integrityCheck(ctx)
	return h, nil
}

func (s *NewsStore) integrityCheck(ctx context.Context) bool {
	s.integrityMu.Lock()
	defer s.integrityMu.Unlock()

	if !s.integrityTime.IsZero() && time.Since(s.integrityTime) < integrityCheckInterval {
		return s.integrityOK
	}

	var result string
	err := s.conn.QueryRowContext(ctx, `PRAGMA quick_check(1)`).Scan(&result)
	s.integrityOK = err == nil && result == "ok"
	s.integrityTime = time.Now()
	return s.integrityOK
}
