package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deidaraiorek/sitesearch/internal/apperr"
	"github.com/deidaraiorek/sitesearch/internal/config"
)

func newFetcher(timeout time.Duration) *Fetcher {
	return New(config.FetchConfig{
		UserAgent: "TestBot/1.0",
		Referrer:  "https://referrer.example",
		Timeout:   timeout,
	})
}

func TestFetchSendsIdentity(t *testing.T) {
	var gotUA, gotRef string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotRef = r.Header.Get("Referer")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><a href="/next">next</a></body></html>`))
	}))
	defer srv.Close()

	doc, err := newFetcher(time.Second).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "TestBot/1.0", gotUA)
	assert.Equal(t, "https://referrer.example", gotRef)
	assert.Equal(t, http.StatusOK, doc.StatusCode)
	assert.Equal(t, 1, doc.Doc.Find("a").Length())
}

func TestFetchDecodesCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=windows-1251")
		// "лес" in windows-1251
		_, _ = w.Write([]byte("<html><body>\xeb\xe5\xf1</body></html>"))
	}))
	defer srv.Close()

	doc, err := newFetcher(time.Second).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, doc.HTML, "лес")
}

func TestFetchKeepsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("<html><body>missing</body></html>"))
	}))
	defer srv.Close()

	doc, err := newFetcher(time.Second).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, doc.StatusCode)
}

func TestFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/image":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			w.Header().Set("Content-Type", "text/html")
		}
	}))
	defer srv.Close()

	f := newFetcher(50 * time.Millisecond)

	_, err := f.Fetch(context.Background(), srv.URL+"/image")
	assert.ErrorIs(t, err, apperr.ErrUnsupportedContent)

	_, err = f.Fetch(context.Background(), srv.URL+"/slow")
	assert.ErrorIs(t, err, apperr.ErrFetchTimeout)

	_, err = f.Fetch(context.Background(), "http://127.0.0.1:1/")
	assert.ErrorIs(t, err, apperr.ErrConnectionFailed)
	assert.Equal(t, apperr.CategoryFetch, apperr.CategoryOf(err))
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newFetcher(time.Second)

	assert.NoError(t, f.Probe(context.Background(), srv.URL))
	assert.ErrorIs(t, f.Probe(context.Background(), srv.URL+"/down"), apperr.ErrBadStatusCode)
	assert.ErrorIs(t, f.Probe(context.Background(), "http://127.0.0.1:1/"), apperr.ErrSiteUnreachable)
}
