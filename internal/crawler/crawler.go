// Package crawler walks the link graph of one site with a fixed pool of
// workers draining a shared frontier.
package crawler

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deidaraiorek/sitesearch/internal/config"
	"github.com/deidaraiorek/sitesearch/internal/fetcher"
	"github.com/deidaraiorek/sitesearch/internal/frontier"
	"github.com/deidaraiorek/sitesearch/internal/indexer"
	"github.com/deidaraiorek/sitesearch/internal/parser"
	"github.com/deidaraiorek/sitesearch/internal/storage"
)

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.Document, error)
}

type Crawler struct {
	config  config.CrawlerConfig
	fetcher Fetcher
	indexer *indexer.Indexer
	logger  *slog.Logger
}

// Stats counts what happened to the URLs of one crawl.
type Stats struct {
	Fetched int64
	Indexed int64
	Failed  int64
}

func New(cfg config.CrawlerConfig, f Fetcher, ix *indexer.Indexer, logger *slog.Logger) *Crawler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Crawler{
		config:  cfg,
		fetcher: f,
		indexer: ix,
		logger:  logger,
	}
}

// Crawl indexes every page reachable from site.URL that claims does not
// already hold. It returns ctx.Err() when stopped early and nil once the
// frontier is drained.
func (c *Crawler) Crawl(ctx context.Context, site *storage.Site, claims *frontier.Claims) (Stats, error) {
	var stats Stats
	fr := frontier.New(claims)
	if !fr.Push(parser.NormalizeURL(site.URL)) {
		c.logger.Warn("site root already claimed in this session", "site", site.URL)
	}

	c.logger.Info("starting crawl", "site", site.URL, "workers", c.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < c.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			c.worker(ctx, workerID, site, fr, &stats)
		}(i)
	}
	wg.Wait()

	c.logger.Info("crawl finished", "site", site.URL,
		"fetched", stats.Fetched, "indexed", stats.Indexed, "failed", stats.Failed,
		"drained", fr.IsEmpty(), "pending", fr.Size(), "cancelled", ctx.Err() != nil)

	return stats, ctx.Err()
}

func (c *Crawler) worker(ctx context.Context, workerID int, site *storage.Site, fr *frontier.Frontier, stats *Stats) {
	for {
		url, ok := fr.Next(ctx)
		if !ok {
			c.logger.Debug("worker exiting", "site", site.URL, "worker", workerID)
			return
		}
		c.visit(ctx, site, fr, url, stats)
		fr.Done()
	}
}

// visit handles one claimed URL. Any failure ends this branch of the link
// graph only.
func (c *Crawler) visit(ctx context.Context, site *storage.Site, fr *frontier.Frontier, url string, stats *Stats) {
	if ctx.Err() != nil {
		return
	}
	if !c.politenessDelay(ctx) {
		return
	}

	doc, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		atomic.AddInt64(&stats.Failed, 1)
		c.logger.Warn("fetch failed", "url", url, "error", err)
		return
	}
	atomic.AddInt64(&stats.Fetched, 1)

	if doc.StatusCode >= 400 {
		c.logger.Debug("skipping error page", "url", url, "status", doc.StatusCode)
		return
	}
	if ctx.Err() != nil {
		return
	}

	if _, err := c.indexer.IndexDocument(ctx, site, doc); err != nil {
		atomic.AddInt64(&stats.Failed, 1)
		c.logger.Warn("failed to index page", "url", url, "error", err)
		return
	}
	atomic.AddInt64(&stats.Indexed, 1)

	added := 0
	for _, link := range parser.Links(doc.Doc, url) {
		if ctx.Err() != nil {
			return
		}
		if !parser.IsEligible(link, site.URL) {
			continue
		}
		if fr.Push(parser.NormalizeURL(link)) {
			added++
		}
	}
	c.logger.Debug("page crawled", "url", url, "new_links", added)
}

// politenessDelay sleeps a random interval within the configured bounds and
// reports false if ctx ended first.
func (c *Crawler) politenessDelay(ctx context.Context) bool {
	delay := c.config.PolitenessMin
	if spread := c.config.PolitenessMax - c.config.PolitenessMin; spread > 0 {
		delay += time.Duration(rand.Int63n(int64(spread) + 1))
	}
	if delay <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
