// Package storage persists sites, pages, lemmas and postings.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

type SiteStatus string

const (
	StatusIndexing SiteStatus = "INDEXING"
	StatusIndexed  SiteStatus = "INDEXED"
	StatusFailed   SiteStatus = "FAILED"
)

type Site struct {
	ID         int64
	URL        string
	Name       string
	Status     SiteStatus
	StatusTime time.Time
	LastError  string
}

// Page is one fetched page. Path is relative to the site URL and starts with "/".
type Page struct {
	ID      int64
	SiteID  int64
	Path    string
	Code    int
	Content string
}

// Lemma is a site-local dictionary entry. Frequency is the number of pages
// of the site whose postings reference it.
type Lemma struct {
	ID        int64
	SiteID    int64
	Lemma     string
	Frequency int
}

// Posting links a page to a lemma; Rank is the lemma's occurrence count on the page.
type Posting struct {
	ID      int64
	PageID  int64
	LemmaID int64
	Rank    float64
}

// Store is everything the crawler, the indexer and the query engine need from
// persistence.
type Store interface {
	CreateSite(ctx context.Context, url, name string, status SiteStatus) (*Site, error)
	// DeleteSiteByURL removes the site with all its pages, lemmas and postings.
	DeleteSiteByURL(ctx context.Context, url string) error
	FindSiteByURL(ctx context.Context, url string) (*Site, error)
	UpdateSiteStatus(ctx context.Context, siteID int64, status SiteStatus, lastError string) error
	ListSites(ctx context.Context) ([]Site, error)

	// SavePage inserts page and merges its lemma counts into the site's
	// index in one transaction. It returns ErrDuplicate if the site already
	// has a page at page.Path.
	SavePage(ctx context.Context, page *Page, lemmas map[string]int) (int64, error)
	FindPage(ctx context.Context, siteID int64, path string) (*Page, error)
	FindPagesByIDs(ctx context.Context, ids []int64) ([]Page, error)
	// DeletePage removes the page and its postings, decrements the frequency
	// of every lemma it referenced and drops lemmas left with none.
	DeletePage(ctx context.Context, pageID int64) error
	CountPages(ctx context.Context, siteID int64) (int, error)

	// FindLemmas returns the lemmas of texts known to the site, rarest first.
	FindLemmas(ctx context.Context, siteID int64, texts []string) ([]Lemma, error)
	CountLemmas(ctx context.Context, siteID int64) (int, error)
	// CommonLemmas returns those of texts present on more than threshold of
	// the sites that have any lemma. It is empty when fewer than two sites do.
	CommonLemmas(ctx context.Context, texts []string, threshold float64) (map[string]bool, error)

	PageIDsByLemma(ctx context.Context, lemmaID int64) ([]int64, error)
	PostingsByPage(ctx context.Context, pageID int64) ([]Posting, error)
	// RankSums returns, per page, the sum of the ranks of its postings for lemmaIDs.
	RankSums(ctx context.Context, pageIDs, lemmaIDs []int64) (map[int64]float64, error)
	CountPostings(ctx context.Context) (int, error)

	Close() error
}
