// Package fetcher downloads and parses HTML pages.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/deidaraiorek/sitesearch/internal/apperr"
	"github.com/deidaraiorek/sitesearch/internal/config"
)

const maxBodySize = 10 * 1024 * 1024

// Document is a fetched page. HTML is the decoded body, Doc its parsed form.
type Document struct {
	URL        string
	StatusCode int
	HTML       string
	Doc        *goquery.Document
}

type Fetcher struct {
	client    *http.Client
	userAgent string
	referrer  string
}

func New(cfg config.FetchConfig) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: cfg.UserAgent,
		referrer:  cfg.Referrer,
	}
}

// Fetch downloads urlStr. Error statuses are not errors: the body is parsed
// and the status returned so the caller can decide what to keep.
func (f *Fetcher) Fetch(ctx context.Context, urlStr string) (*Document, error) {
	resp, err := f.get(ctx, urlStr)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if !isHTML(contentType) {
		return nil, apperr.ErrUnsupportedContent.WithMessage("unsupported content type %q", contentType)
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, maxBodySize), contentType)
	if err != nil {
		return nil, apperr.ErrUnsupportedContent.Wrap(err)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, classify(err)
	}

	html := string(raw)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, apperr.ErrUnsupportedContent.Wrap(fmt.Errorf("failed to parse HTML: %w", err))
	}

	return &Document{
		URL:        urlStr,
		StatusCode: resp.StatusCode,
		HTML:       html,
		Doc:        doc,
	}, nil
}

// Probe checks that urlStr answers with a non-error status.
func (f *Fetcher) Probe(ctx context.Context, urlStr string) error {
	resp, err := f.get(ctx, urlStr)
	if err != nil {
		return apperr.ErrSiteUnreachable.Wrap(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))

	if resp.StatusCode >= 400 {
		return apperr.ErrBadStatusCode.WithMessage("site %s answered with status %d", urlStr, resp.StatusCode)
	}
	return nil
}

func (f *Fetcher) get(ctx context.Context, urlStr string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, apperr.ErrConnectionFailed.Wrap(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("User-Agent", f.userAgent)
	if f.referrer != "" {
		req.Header.Set("Referer", f.referrer)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	return resp, nil
}

func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperr.ErrFetchTimeout.Wrap(err)
	}
	return apperr.ErrConnectionFailed.Wrap(err)
}

// An absent Content-Type is treated as HTML.
func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
