package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deidaraiorek/sitesearch/internal/config"
	"github.com/deidaraiorek/sitesearch/internal/fetcher"
	"github.com/deidaraiorek/sitesearch/internal/frontier"
	"github.com/deidaraiorek/sitesearch/internal/indexer"
	"github.com/deidaraiorek/sitesearch/internal/lemma"
	"github.com/deidaraiorek/sitesearch/internal/logging"
	"github.com/deidaraiorek/sitesearch/internal/storage"
)

var sitePages = map[string]string{
	"/": `<a href="/a">a</a> <a href="/b">b</a> <a href="/a#part">frag</a>
		<a href="https://other.example/x">external</a> <a href="/file.pdf">pdf</a>
		<a href="/a/">slash</a> <a href="/missing">missing</a> home page`,
	"/a": `<a href="/">home</a> <a href="/b">b</a> alpha page`,
	"/b": `<a href="/a">a</a> <a href="c">c</a> beta page`,
	"/c": `gamma page`,
}

type testSite struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func newTestSite(t *testing.T) *testSite {
	ts := &testSite{hits: make(map[string]int)}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.hits[r.URL.Path]++
		ts.mu.Unlock()

		body, ok := sitePages[r.URL.Path]
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			body = "not found"
		}
		_, _ = w.Write([]byte("<html><head><title>T</title></head><body>" + body + "</body></html>"))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func setup(t *testing.T, cfg config.CrawlerConfig) (*Crawler, *indexer.Indexer, storage.Store) {
	t.Helper()
	store, err := storage.Open("sqlite3", filepath.Join(t.TempDir(), "crawl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	extractor, err := lemma.New(config.LemmaConfig{Languages: []string{"english"}, VocabularySize: 1000})
	require.NoError(t, err)

	logger := logging.Discard()
	ix := indexer.New(store, extractor, logger)
	f := fetcher.New(config.FetchConfig{UserAgent: "TestBot", Timeout: time.Second})
	return New(cfg, f, ix, logger), ix, store
}

func TestCrawlVisitsEachPageOnce(t *testing.T) {
	ts := newTestSite(t)
	c, ix, store := setup(t, config.CrawlerConfig{Workers: 4})
	ctx := context.Background()

	site, err := ix.ResetSite(ctx, config.NormalizeSiteURL(ts.URL), "test")
	require.NoError(t, err)

	stats, err := c.Crawl(ctx, site, frontier.NewClaims())
	require.NoError(t, err)

	ts.mu.Lock()
	defer ts.mu.Unlock()
	for path, n := range ts.hits {
		assert.Equal(t, 1, n, "hits for %s", path)
	}
	assert.NotContains(t, ts.hits, "/file.pdf")
	assert.Contains(t, ts.hits, "/missing")

	pages, err := store.CountPages(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, pages)
	assert.EqualValues(t, 4, stats.Indexed)
	assert.EqualValues(t, 5, stats.Fetched)

	for _, path := range []string{"/", "/a", "/b", "/c"} {
		_, err := store.FindPage(ctx, site.ID, path)
		assert.NoError(t, err, path)
	}

	lemmas, err := store.FindLemmas(ctx, site.ID, []string{"page"})
	require.NoError(t, err)
	require.Len(t, lemmas, 1)
	assert.Equal(t, 4, lemmas[0].Frequency)
}

func TestCrawlSkipsURLsClaimedBySession(t *testing.T) {
	ts := newTestSite(t)
	c, ix, store := setup(t, config.CrawlerConfig{Workers: 2})
	ctx := context.Background()

	site, err := ix.ResetSite(ctx, config.NormalizeSiteURL(ts.URL), "test")
	require.NoError(t, err)

	claims := frontier.NewClaims()
	claims.Claim(site.URL + "/b")

	_, err = c.Crawl(ctx, site, claims)
	require.NoError(t, err)

	_, err = store.FindPage(ctx, site.ID, "/b")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.FindPage(ctx, site.ID, "/c")
	assert.ErrorIs(t, err, storage.ErrNotFound, "only reachable through /b")
}

func TestCrawlStopsOnCancel(t *testing.T) {
	ts := newTestSite(t)
	c, ix, store := setup(t, config.CrawlerConfig{
		Workers:       2,
		PolitenessMin: 10 * time.Second,
		PolitenessMax: 10 * time.Second,
	})

	site, err := ix.ResetSite(context.Background(), config.NormalizeSiteURL(ts.URL), "test")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err = c.Crawl(ctx, site, frontier.NewClaims())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)

	pages, err := store.CountPages(context.Background(), site.ID)
	require.NoError(t, err)
	assert.Zero(t, pages)
}
