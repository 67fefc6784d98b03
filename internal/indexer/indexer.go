// Package indexer turns fetched pages into index rows. Every write for a site
// goes through that site's lock, so sibling crawl workers and single-page
// reindexing never interleave their lemma merges.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/deidaraiorek/sitesearch/internal/apperr"
	"github.com/deidaraiorek/sitesearch/internal/fetcher"
	"github.com/deidaraiorek/sitesearch/internal/lemma"
	"github.com/deidaraiorek/sitesearch/internal/parser"
	"github.com/deidaraiorek/sitesearch/internal/storage"
)

type Indexer struct {
	store  storage.Store
	lemmas *lemma.Extractor
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(store storage.Store, lemmas *lemma.Extractor, logger *slog.Logger) *Indexer {
	return &Indexer{
		store:  store,
		lemmas: lemmas,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// lock is keyed by site URL because a reset gives the site a new ID.
func (ix *Indexer) lock(siteURL string) func() {
	ix.mu.Lock()
	l, ok := ix.locks[siteURL]
	if !ok {
		l = &sync.Mutex{}
		ix.locks[siteURL] = l
	}
	ix.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Lemmas collects the lemma counts of a fetched page: its title followed by
// its visible text.
func (ix *Indexer) Lemmas(doc *fetcher.Document) map[string]int {
	title := strings.TrimSpace(doc.Doc.Find("title").First().Text())
	return ix.lemmas.CollectLemmas(title + " " + parser.Text(doc.Doc))
}

// IndexDocument stores doc as a new page of site with its postings. A page
// already stored at the same path yields apperr.ErrPersistenceConflict.
func (ix *Indexer) IndexDocument(ctx context.Context, site *storage.Site, doc *fetcher.Document) (int64, error) {
	page := &storage.Page{
		SiteID:  site.ID,
		Path:    parser.PathOf(doc.URL, site.URL),
		Code:    doc.StatusCode,
		Content: doc.HTML,
	}
	lemmas := ix.Lemmas(doc)

	unlock := ix.lock(site.URL)
	defer unlock()

	id, err := ix.store.SavePage(ctx, page, lemmas)
	if errors.Is(err, storage.ErrDuplicate) {
		return 0, apperr.ErrPersistenceConflict.Wrap(err)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to save page %s: %w", page.Path, err)
	}

	ix.logger.Debug("page indexed", "site", site.URL, "path", page.Path, "lemmas", len(lemmas))
	return id, nil
}

// ReplaceDocument removes any page stored at doc's path, with its postings,
// and stores doc in its place. Both steps run under the site lock.
func (ix *Indexer) ReplaceDocument(ctx context.Context, site *storage.Site, doc *fetcher.Document) (int64, error) {
	path := parser.PathOf(doc.URL, site.URL)
	lemmas := ix.Lemmas(doc)

	unlock := ix.lock(site.URL)
	defer unlock()

	if err := ix.removeLocked(ctx, site, path); err != nil {
		return 0, err
	}

	page := &storage.Page{SiteID: site.ID, Path: path, Code: doc.StatusCode, Content: doc.HTML}
	id, err := ix.store.SavePage(ctx, page, lemmas)
	if err != nil {
		return 0, fmt.Errorf("failed to save page %s: %w", path, err)
	}

	ix.logger.Debug("page reindexed", "site", site.URL, "path", path, "lemmas", len(lemmas))
	return id, nil
}

// RemovePage deletes the page at path, if any, with its postings.
func (ix *Indexer) RemovePage(ctx context.Context, site *storage.Site, path string) error {
	unlock := ix.lock(site.URL)
	defer unlock()
	return ix.removeLocked(ctx, site, path)
}

func (ix *Indexer) removeLocked(ctx context.Context, site *storage.Site, path string) error {
	existing, err := ix.store.FindPage(ctx, site.ID, path)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up page %s: %w", path, err)
	}
	if err := ix.store.DeletePage(ctx, existing.ID); err != nil {
		return fmt.Errorf("failed to delete page %s: %w", path, err)
	}
	return nil
}

// ResetSite drops everything stored for siteURL and recreates the site in
// the INDEXING state.
func (ix *Indexer) ResetSite(ctx context.Context, siteURL, name string) (*storage.Site, error) {
	unlock := ix.lock(siteURL)
	defer unlock()

	if err := ix.store.DeleteSiteByURL(ctx, siteURL); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to delete site %s: %w", siteURL, err)
	}
	site, err := ix.store.CreateSite(ctx, siteURL, name, storage.StatusIndexing)
	if err != nil {
		return nil, fmt.Errorf("failed to create site %s: %w", siteURL, err)
	}
	return site, nil
}
