// Package search answers ranked queries against the lemma index.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/deidaraiorek/sitesearch/internal/apperr"
	"github.com/deidaraiorek/sitesearch/internal/config"
	"github.com/deidaraiorek/sitesearch/internal/lemma"
	"github.com/deidaraiorek/sitesearch/internal/parser"
	"github.com/deidaraiorek/sitesearch/internal/snippet"
	"github.com/deidaraiorek/sitesearch/internal/storage"
)

type Query struct {
	Text string
	// Site restricts the search to one site URL; empty searches every site.
	Site   string
	Offset int
	Limit  int
}

type Result struct {
	Site      string  `json:"site"`
	SiteName  string  `json:"siteName"`
	URI       string  `json:"uri"`
	Title     string  `json:"title"`
	Snippet   string  `json:"snippet"`
	Relevance float64 `json:"relevance"`
}

type Response struct {
	Total   int
	Results []Result
}

type Engine struct {
	store    storage.Store
	lemmas   *lemma.Extractor
	snippets *snippet.Generator
	config   config.SearchConfig
	logger   *slog.Logger
}

func New(store storage.Store, lemmas *lemma.Extractor, snippets *snippet.Generator, cfg config.SearchConfig, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		lemmas:   lemmas,
		snippets: snippets,
		config:   cfg,
		logger:   logger,
	}
}

// match is a candidate page before pagination; relevance is raw until
// every site has been scored.
type match struct {
	site      *storage.Site
	pageID    int64
	relevance float64
}

// Search ranks the pages of the sites in scope by the summed occurrence
// counts of the query's lemmas, normalized so the best page scores 1.
func (e *Engine) Search(ctx context.Context, q Query) (*Response, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, apperr.ErrEmptyQuery
	}

	postings, err := e.store.CountPostings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count postings: %w", err)
	}
	if postings == 0 {
		return nil, apperr.ErrEmptyIndex
	}

	lemmas, err := e.queryLemmas(ctx, q.Text)
	if err != nil {
		return nil, err
	}

	sites, err := e.sitesInScope(ctx, q.Site)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		matches []match
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := range sites {
		site := &sites[i]
		g.Go(func() error {
			found, err := e.searchSite(gctx, site, lemmas)
			if err != nil {
				return fmt.Errorf("failed to search %s: %w", site.URL, err)
			}
			mu.Lock()
			matches = append(matches, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rank(matches)

	offset, limit := q.Offset, q.Limit
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = e.config.DefaultLimit
	}
	total := len(matches)
	start := min(offset, total)
	page := matches[start : start+min(limit, total-start)]

	results, err := e.describe(ctx, page, lemmas)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("search", "query", q.Text, "lemmas", lemmas, "sites", len(sites), "total", total)
	return &Response{Total: total, Results: results}, nil
}

// queryLemmas returns the distinct lemmas of text minus those common across
// sites.
func (e *Engine) queryLemmas(ctx context.Context, text string) ([]string, error) {
	lemmas, err := e.lemmas.LemmaSet(text)
	if err != nil {
		return nil, err
	}

	common, err := e.store.CommonLemmas(ctx, lemmas, e.config.CommonLemmaThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to load common lemmas: %w", err)
	}

	kept := lemmas[:0]
	for _, l := range lemmas {
		if !common[l] {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		return nil, apperr.ErrInvalidQuery.WithMessage("all query words are too common to search for")
	}
	return kept, nil
}

func (e *Engine) sitesInScope(ctx context.Context, siteURL string) ([]storage.Site, error) {
	if siteURL == "" {
		return e.store.ListSites(ctx)
	}

	site, err := e.store.FindSiteByURL(ctx, config.NormalizeSiteURL(siteURL))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrPageOutOfScope.WithMessage("site %s is not indexed", siteURL)
	}
	if err != nil {
		return nil, err
	}
	return []storage.Site{*site}, nil
}

// searchSite intersects the posting lists of the query lemmas known to the
// site, rarest first, and scores the surviving pages.
func (e *Engine) searchSite(ctx context.Context, site *storage.Site, lemmas []string) ([]match, error) {
	found, err := e.store.FindLemmas(ctx, site.ID, lemmas)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}

	var candidates []int64
	lemmaIDs := make([]int64, 0, len(found))
	for i, l := range found {
		lemmaIDs = append(lemmaIDs, l.ID)

		pageIDs, err := e.store.PageIDsByLemma(ctx, l.ID)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			candidates = pageIDs
		} else {
			candidates = intersect(candidates, pageIDs)
		}
		if len(candidates) == 0 {
			return nil, nil
		}
	}

	sums, err := e.store.RankSums(ctx, candidates, lemmaIDs)
	if err != nil {
		return nil, err
	}

	matches := make([]match, 0, len(candidates))
	for _, id := range candidates {
		matches = append(matches, match{site: site, pageID: id, relevance: sums[id]})
	}
	return matches, nil
}

// intersect returns the ids present in both a and b, keeping a's order.
func intersect(a, b []int64) []int64 {
	inB := make(map[int64]struct{}, len(b))
	for _, id := range b {
		inB[id] = struct{}{}
	}
	var out []int64
	for _, id := range a {
		if _, ok := inB[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// rank normalizes relevance against the maximum and sorts best first. Ties
// are broken by site URL then page ID so pagination is stable.
func rank(matches []match) {
	var best float64
	for _, m := range matches {
		best = max(best, m.relevance)
	}
	if best > 0 {
		for i := range matches {
			matches[i].relevance /= best
		}
	}

	slices.SortStableFunc(matches, func(a, b match) int {
		switch {
		case a.relevance > b.relevance:
			return -1
		case a.relevance < b.relevance:
			return 1
		}
		if c := strings.Compare(a.site.URL, b.site.URL); c != 0 {
			return c
		}
		switch {
		case a.pageID < b.pageID:
			return -1
		case a.pageID > b.pageID:
			return 1
		}
		return 0
	})
}

// describe loads the pages of one result slice and builds their titles and
// snippets.
func (e *Engine) describe(ctx context.Context, matches []match, lemmas []string) ([]Result, error) {
	ids := make([]int64, len(matches))
	for i, m := range matches {
		ids[i] = m.pageID
	}
	pages, err := e.store.FindPagesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load result pages: %w", err)
	}
	byID := make(map[int64]storage.Page, len(pages))
	for _, p := range pages {
		byID[p.ID] = p
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		page, ok := byID[m.pageID]
		if !ok {
			// Removed by a concurrent reindex since it was scored.
			continue
		}
		results = append(results, Result{
			Site:      m.site.URL,
			SiteName:  m.site.Name,
			URI:       page.Path,
			Title:     parser.Title(page.Content, m.site.URL+page.Path),
			Snippet:   e.snippets.Generate(page.Content, lemmas),
			Relevance: m.relevance,
		})
	}
	return results, nil
}
