package search

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deidaraiorek/sitesearch/internal/apperr"
	"github.com/deidaraiorek/sitesearch/internal/config"
	"github.com/deidaraiorek/sitesearch/internal/lemma"
	"github.com/deidaraiorek/sitesearch/internal/logging"
	"github.com/deidaraiorek/sitesearch/internal/snippet"
	"github.com/deidaraiorek/sitesearch/internal/storage"
)

type fixture struct {
	engine *Engine
	store  *storage.SQLiteStore
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.Open("sqlite3", filepath.Join(t.TempDir(), "search.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	extractor, err := lemma.New(config.LemmaConfig{Languages: []string{"english"}, VocabularySize: 1000})
	require.NoError(t, err)

	engine := New(store, extractor, snippet.New(extractor), config.SearchConfig{
		CommonLemmaThreshold: 0.8,
		DefaultLimit:         20,
	}, logging.Discard())
	return &fixture{engine: engine, store: store}
}

func (f *fixture) site(t *testing.T, url string) *storage.Site {
	t.Helper()
	site, err := f.store.CreateSite(context.Background(), url, url, storage.StatusIndexed)
	require.NoError(t, err)
	return site
}

func (f *fixture) page(t *testing.T, site *storage.Site, path, body string, lemmas map[string]int) {
	t.Helper()
	content := "<html><head><title>" + path + "</title></head><body>" + body + "</body></html>"
	_, err := f.store.SavePage(context.Background(), &storage.Page{SiteID: site.ID, Path: path, Code: 200, Content: content}, lemmas)
	require.NoError(t, err)
}

func TestSearchRanksByRelevance(t *testing.T) {
	f := setup(t)
	site := f.site(t, "https://example.com")
	f.page(t, site, "/b", "a test example", map[string]int{"test": 1, "exampl": 1})
	f.page(t, site, "/a", "test and test", map[string]int{"test": 2})

	resp, err := f.engine.Search(context.Background(), Query{Text: "test"})
	require.NoError(t, err)

	require.Equal(t, 2, resp.Total)
	require.Len(t, resp.Results, 2)

	a, b := resp.Results[0], resp.Results[1]
	assert.Equal(t, "/a", a.URI)
	assert.Equal(t, 1.0, a.Relevance)
	assert.Equal(t, "/b", b.URI)
	assert.Equal(t, 0.5, b.Relevance)

	assert.Equal(t, "https://example.com", a.Site)
	assert.Equal(t, "/a", a.Title)
	assert.Equal(t, "<b>test</b> and <b>test</b>", a.Snippet)
}

func TestSearchIntersectsLemmas(t *testing.T) {
	f := setup(t)
	site := f.site(t, "https://example.com")
	f.page(t, site, "/a", "test test", map[string]int{"test": 2})
	f.page(t, site, "/b", "test example", map[string]int{"test": 1, "exampl": 1})

	resp, err := f.engine.Search(context.Background(), Query{Text: "tests examples"})
	require.NoError(t, err)

	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "/b", resp.Results[0].URI)
	assert.Equal(t, 1.0, resp.Results[0].Relevance)
}

func TestSearchPaginationReconstructsFullList(t *testing.T) {
	f := setup(t)
	one := f.site(t, "https://one.example")
	two := f.site(t, "https://two.example")
	f.page(t, f.site(t, "https://three.example"), "/", "other", map[string]int{"other": 1})
	for i := 0; i < 25; i++ {
		site := one
		if i%2 == 1 {
			site = two
		}
		f.page(t, site, fmt.Sprintf("/p%d", i), "test", map[string]int{"test": 1 + i%4})
	}

	ctx := context.Background()
	full, err := f.engine.Search(ctx, Query{Text: "test", Limit: 100})
	require.NoError(t, err)
	require.Equal(t, 25, full.Total)
	require.Len(t, full.Results, 25)
	assert.Equal(t, 1.0, full.Results[0].Relevance)
	for i := 1; i < len(full.Results); i++ {
		assert.GreaterOrEqual(t, full.Results[i-1].Relevance, full.Results[i].Relevance)
	}

	var pages []Result
	for offset := 0; offset < full.Total; offset += 7 {
		resp, err := f.engine.Search(ctx, Query{Text: "test", Offset: offset, Limit: 7})
		require.NoError(t, err)
		assert.Equal(t, 25, resp.Total)
		pages = append(pages, resp.Results...)
	}
	assert.Equal(t, full.Results, pages)

	beyond, err := f.engine.Search(ctx, Query{Text: "test", Offset: 100})
	require.NoError(t, err)
	assert.Equal(t, 25, beyond.Total)
	assert.Empty(t, beyond.Results)

	defaulted, err := f.engine.Search(ctx, Query{Text: "test", Offset: -3})
	require.NoError(t, err)
	assert.Len(t, defaulted.Results, 20)
}

func TestSearchExtremePagination(t *testing.T) {
	f := setup(t)
	f.page(t, f.site(t, "https://one.example"), "/", "test", map[string]int{"test": 1})
	ctx := context.Background()

	tests := []struct {
		name  string
		query Query
		want  int
	}{
		{"max offset", Query{Text: "test", Offset: math.MaxInt, Limit: 20}, 0},
		{"max limit", Query{Text: "test", Limit: math.MaxInt}, 1},
		{"both max", Query{Text: "test", Offset: math.MaxInt, Limit: math.MaxInt}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := f.engine.Search(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, 1, resp.Total)
			assert.Len(t, resp.Results, tt.want)
		})
	}
}

func TestSearchDropsCommonLemmas(t *testing.T) {
	f := setup(t)
	one := f.site(t, "https://one.example")
	two := f.site(t, "https://two.example")
	f.page(t, one, "/", "home rare", map[string]int{"home": 5, "rare": 1})
	f.page(t, two, "/", "home", map[string]int{"home": 1})

	ctx := context.Background()
	resp, err := f.engine.Search(ctx, Query{Text: "home rare"})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "https://one.example", resp.Results[0].Site)
	assert.Equal(t, 1.0, resp.Results[0].Relevance)
	assert.Equal(t, "home <b>rare</b>", resp.Results[0].Snippet)

	_, err = f.engine.Search(ctx, Query{Text: "home"})
	assert.ErrorIs(t, err, apperr.ErrInvalidQuery)
}

func TestSearchSiteScope(t *testing.T) {
	f := setup(t)
	one := f.site(t, "https://one.example")
	two := f.site(t, "https://two.example")
	f.page(t, one, "/", "test", map[string]int{"test": 1})
	f.page(t, two, "/", "test", map[string]int{"test": 3})
	// A third site keeps "test" below the common threshold.
	f.page(t, f.site(t, "https://other.example"), "/", "other", map[string]int{"other": 1})

	ctx := context.Background()
	resp, err := f.engine.Search(ctx, Query{Text: "test", Site: "https://one.example/"})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "https://one.example", resp.Results[0].Site)
	assert.Equal(t, 1.0, resp.Results[0].Relevance)

	_, err = f.engine.Search(ctx, Query{Text: "test", Site: "https://three.example"})
	assert.ErrorIs(t, err, apperr.ErrPageOutOfScope)

	resp, err = f.engine.Search(ctx, Query{Text: "absent"})
	require.NoError(t, err)
	assert.Zero(t, resp.Total)
	assert.Empty(t, resp.Results)
}

func TestSearchQueryErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.engine.Search(ctx, Query{Text: "test"})
	assert.ErrorIs(t, err, apperr.ErrEmptyIndex)

	site := f.site(t, "https://example.com")
	f.page(t, site, "/", "test", map[string]int{"test": 1})

	before, err := f.store.CountPostings(ctx)
	require.NoError(t, err)

	_, err = f.engine.Search(ctx, Query{Text: "   "})
	assert.ErrorIs(t, err, apperr.ErrEmptyQuery)

	_, err = f.engine.Search(ctx, Query{Text: "the and of"})
	assert.ErrorIs(t, err, apperr.ErrInvalidQuery)

	after, err := f.store.CountPostings(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
