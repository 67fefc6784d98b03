package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Both drivers cap bound variables per statement; IN lists are sent in
// chunks of this size.
const maxParams = 500

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store on SQLite through either "sqlite3"
// (mattn/go-sqlite3) or "sqlite" (modernc.org/sqlite).
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func Open(driver, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open(driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: pragmas stay in effect and writers never contend
	// for the database lock.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSite(ctx context.Context, url, name string, status SiteStatus) (*Site, error) {
	now := time.Now()
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO sites (url, name, status, status_time) VALUES (?, ?, ?, ?)",
		url, name, string(status), now.UnixMilli(),
	)
	if err != nil {
		return nil, wrapConstraint(err, "failed to create site")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Site{
		ID:         id,
		URL:        url,
		Name:       name,
		Status:     status,
		StatusTime: time.UnixMilli(now.UnixMilli()),
	}, nil
}

func (s *SQLiteStore) DeleteSiteByURL(ctx context.Context, url string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var siteID int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM sites WHERE url = ?", url).Scan(&siteID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	for _, stmt := range []string{
		"DELETE FROM postings WHERE page_id IN (SELECT id FROM pages WHERE site_id = ?)",
		"DELETE FROM lemmas WHERE site_id = ?",
		"DELETE FROM pages WHERE site_id = ?",
		"DELETE FROM sites WHERE id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, siteID); err != nil {
			return fmt.Errorf("failed to delete site %s: %w", url, err)
		}
	}

	return tx.Commit()
}

const siteColumns = "id, url, name, status, status_time, last_error"

func scanSite(row interface{ Scan(...any) error }) (*Site, error) {
	var site Site
	var status string
	var statusTime int64
	if err := row.Scan(&site.ID, &site.URL, &site.Name, &status, &statusTime, &site.LastError); err != nil {
		return nil, err
	}
	site.Status = SiteStatus(status)
	site.StatusTime = time.UnixMilli(statusTime)
	return &site, nil
}

func (s *SQLiteStore) FindSiteByURL(ctx context.Context, url string) (*Site, error) {
	site, err := scanSite(s.db.QueryRowContext(ctx, "SELECT "+siteColumns+" FROM sites WHERE url = ?", url))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return site, err
}

func (s *SQLiteStore) UpdateSiteStatus(ctx context.Context, siteID int64, status SiteStatus, lastError string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE sites SET status = ?, status_time = ?, last_error = ? WHERE id = ?",
		string(status), time.Now().UnixMilli(), lastError, siteID,
	)
	if err != nil {
		return fmt.Errorf("failed to update site status: %w", err)
	}
	return expectRow(result)
}

func (s *SQLiteStore) ListSites(ctx context.Context) ([]Site, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+siteColumns+" FROM sites ORDER BY url")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, *site)
	}
	return sites, rows.Err()
}

func (s *SQLiteStore) SavePage(ctx context.Context, page *Page, lemmas map[string]int) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"INSERT INTO pages (site_id, path, code, content) VALUES (?, ?, ?, ?)",
		page.SiteID, page.Path, page.Code, page.Content,
	)
	if err != nil {
		return 0, wrapConstraint(err, "failed to insert page")
	}
	pageID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	if err := mergeLemmas(ctx, tx, page.SiteID, pageID, lemmas); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit page: %w", err)
	}
	page.ID = pageID
	return pageID, nil
}

// mergeLemmas creates each lemma with frequency 1 or bumps its frequency,
// then records one posting per lemma for pageID.
func mergeLemmas(ctx context.Context, tx *sql.Tx, siteID, pageID int64, lemmas map[string]int) error {
	selectStmt, err := tx.PrepareContext(ctx, "SELECT id FROM lemmas WHERE site_id = ? AND lemma = ?")
	if err != nil {
		return err
	}
	defer selectStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx, "INSERT INTO lemmas (site_id, lemma, frequency) VALUES (?, ?, 1)")
	if err != nil {
		return err
	}
	defer insertStmt.Close()

	bumpStmt, err := tx.PrepareContext(ctx, "UPDATE lemmas SET frequency = frequency + 1 WHERE id = ?")
	if err != nil {
		return err
	}
	defer bumpStmt.Close()

	postingStmt, err := tx.PrepareContext(ctx, "INSERT INTO postings (page_id, lemma_id, ranking) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer postingStmt.Close()

	for lemma, count := range lemmas {
		var lemmaID int64
		err := selectStmt.QueryRowContext(ctx, siteID, lemma).Scan(&lemmaID)

		if errors.Is(err, sql.ErrNoRows) {
			result, err := insertStmt.ExecContext(ctx, siteID, lemma)
			if err != nil {
				return wrapConstraint(err, "failed to insert lemma")
			}
			lemmaID, err = result.LastInsertId()
			if err != nil {
				return err
			}
		} else if err != nil {
			return fmt.Errorf("failed to look up lemma: %w", err)
		} else if _, err := bumpStmt.ExecContext(ctx, lemmaID); err != nil {
			return fmt.Errorf("failed to update lemma frequency: %w", err)
		}

		if _, err := postingStmt.ExecContext(ctx, pageID, lemmaID, float64(count)); err != nil {
			return wrapConstraint(err, "failed to insert posting")
		}
	}

	return nil
}

const pageColumns = "id, site_id, path, code, content"

func scanPage(row interface{ Scan(...any) error }) (*Page, error) {
	var page Page
	if err := row.Scan(&page.ID, &page.SiteID, &page.Path, &page.Code, &page.Content); err != nil {
		return nil, err
	}
	return &page, nil
}

func (s *SQLiteStore) FindPage(ctx context.Context, siteID int64, path string) (*Page, error) {
	page, err := scanPage(s.db.QueryRowContext(ctx,
		"SELECT "+pageColumns+" FROM pages WHERE site_id = ? AND path = ?", siteID, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return page, err
}

func (s *SQLiteStore) FindPagesByIDs(ctx context.Context, ids []int64) ([]Page, error) {
	var pages []Page
	err := inChunks(ids, func(chunk []int64) error {
		rows, err := s.db.QueryContext(ctx,
			"SELECT "+pageColumns+" FROM pages WHERE id IN ("+placeholders(len(chunk))+")",
			int64Args(chunk)...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			page, err := scanPage(rows)
			if err != nil {
				return err
			}
			pages = append(pages, *page)
		}
		return rows.Err()
	})
	return pages, err
}

func (s *SQLiteStore) DeletePage(ctx context.Context, pageID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var siteID int64
	err = tx.QueryRowContext(ctx, "SELECT site_id FROM pages WHERE id = ?", pageID).Scan(&siteID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	steps := []struct {
		query string
		arg   int64
	}{
		{"UPDATE lemmas SET frequency = frequency - 1 WHERE id IN (SELECT lemma_id FROM postings WHERE page_id = ?)", pageID},
		{"DELETE FROM postings WHERE page_id = ?", pageID},
		{"DELETE FROM lemmas WHERE site_id = ? AND frequency <= 0", siteID},
		{"DELETE FROM pages WHERE id = ?", pageID},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.query, step.arg); err != nil {
			return fmt.Errorf("failed to delete page %d: %w", pageID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) CountPages(ctx context.Context, siteID int64) (int, error) {
	return count(ctx, s.db, "SELECT COUNT(*) FROM pages WHERE site_id = ?", siteID)
}

func (s *SQLiteStore) FindLemmas(ctx context.Context, siteID int64, texts []string) ([]Lemma, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(texts)+1)
	args = append(args, siteID)
	for _, t := range texts {
		args = append(args, t)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, site_id, lemma, frequency FROM lemmas WHERE site_id = ? AND lemma IN ("+placeholders(len(texts))+
			") ORDER BY frequency ASC, lemma ASC",
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lemmas []Lemma
	for rows.Next() {
		var l Lemma
		if err := rows.Scan(&l.ID, &l.SiteID, &l.Lemma, &l.Frequency); err != nil {
			return nil, err
		}
		lemmas = append(lemmas, l)
	}
	return lemmas, rows.Err()
}

func (s *SQLiteStore) CountLemmas(ctx context.Context, siteID int64) (int, error) {
	return count(ctx, s.db, "SELECT COUNT(*) FROM lemmas WHERE site_id = ?", siteID)
}

func (s *SQLiteStore) CommonLemmas(ctx context.Context, texts []string, threshold float64) (map[string]bool, error) {
	common := make(map[string]bool)
	if len(texts) == 0 {
		return common, nil
	}

	total, err := count(ctx, s.db, "SELECT COUNT(DISTINCT site_id) FROM lemmas")
	if err != nil {
		return nil, err
	}
	if total < 2 {
		return common, nil
	}

	args := make([]any, 0, len(texts))
	for _, t := range texts {
		args = append(args, t)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT lemma, COUNT(DISTINCT site_id) FROM lemmas WHERE lemma IN ("+placeholders(len(texts))+") GROUP BY lemma",
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var lemma string
		var sites int
		if err := rows.Scan(&lemma, &sites); err != nil {
			return nil, err
		}
		if float64(sites) > threshold*float64(total) {
			common[lemma] = true
		}
	}
	return common, rows.Err()
}

func (s *SQLiteStore) PageIDsByLemma(ctx context.Context, lemmaID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT page_id FROM postings WHERE lemma_id = ? ORDER BY page_id", lemmaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) PostingsByPage(ctx context.Context, pageID int64) ([]Posting, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, page_id, lemma_id, ranking FROM postings WHERE page_id = ? ORDER BY lemma_id", pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var postings []Posting
	for rows.Next() {
		var p Posting
		if err := rows.Scan(&p.ID, &p.PageID, &p.LemmaID, &p.Rank); err != nil {
			return nil, err
		}
		postings = append(postings, p)
	}
	return postings, rows.Err()
}

func (s *SQLiteStore) RankSums(ctx context.Context, pageIDs, lemmaIDs []int64) (map[int64]float64, error) {
	sums := make(map[int64]float64, len(pageIDs))
	if len(pageIDs) == 0 || len(lemmaIDs) == 0 {
		return sums, nil
	}

	lemmaArgs := int64Args(lemmaIDs)
	err := inChunks(pageIDs, func(chunk []int64) error {
		args := append(int64Args(chunk), lemmaArgs...)
		rows, err := s.db.QueryContext(ctx,
			"SELECT page_id, SUM(ranking) FROM postings WHERE page_id IN ("+placeholders(len(chunk))+
				") AND lemma_id IN ("+placeholders(len(lemmaIDs))+") GROUP BY page_id",
			args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var pageID int64
			var sum float64
			if err := rows.Scan(&pageID, &sum); err != nil {
				return err
			}
			sums[pageID] = sum
		}
		return rows.Err()
	})
	return sums, err
}

func (s *SQLiteStore) CountPostings(ctx context.Context) (int, error) {
	return count(ctx, s.db, "SELECT COUNT(*) FROM postings")
}

func count(ctx context.Context, q querier, query string, args ...any) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

func expectRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// wrapConstraint maps unique-constraint violations of either driver to ErrDuplicate.
func wrapConstraint(err error, msg string) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s: %w: %v", msg, ErrDuplicate, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func inChunks(ids []int64, fn func([]int64) error) error {
	for start := 0; start < len(ids); start += maxParams {
		end := min(start+maxParams, len(ids))
		if err := fn(ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}
