// Package orchestrator runs crawl sessions over all configured sites and
// single-page reindexing.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/deidaraiorek/sitesearch/internal/apperr"
	"github.com/deidaraiorek/sitesearch/internal/config"
	"github.com/deidaraiorek/sitesearch/internal/crawler"
	"github.com/deidaraiorek/sitesearch/internal/fetcher"
	"github.com/deidaraiorek/sitesearch/internal/frontier"
	"github.com/deidaraiorek/sitesearch/internal/indexer"
	"github.com/deidaraiorek/sitesearch/internal/parser"
	"github.com/deidaraiorek/sitesearch/internal/storage"
)

const stoppedByUser = "indexing stopped by user"

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.Document, error)
	Probe(ctx context.Context, url string) error
}

type State int

const (
	Idle State = iota
	Running
	Cancelling
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Cancelling:
		return "cancelling"
	default:
		return "idle"
	}
}

// Session is one run over all configured sites. Its claim set is shared by
// every site crawl of the run and discarded with it.
type Session struct {
	ID      string
	Started time.Time
	Claims  *frontier.Claims

	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

type Orchestrator struct {
	sites   []config.Site
	config  config.CrawlerConfig
	fetcher Fetcher
	store   storage.Store
	indexer *indexer.Indexer
	crawler *crawler.Crawler
	pool    *ants.Pool
	logger  *slog.Logger

	mu      sync.Mutex
	session *Session
	// pages counts IndexPage calls in flight. A session cannot start while
	// any runs.
	pages int
}

func New(sites []config.Site, cfg config.CrawlerConfig, f Fetcher, store storage.Store, ix *indexer.Indexer, logger *slog.Logger) (*Orchestrator, error) {
	pool, err := ants.NewPool(runtime.NumCPU(), ants.WithPanicHandler(func(p any) {
		logger.Error("site job panicked", "panic", p)
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	return &Orchestrator{
		sites:   dedupeSites(sites),
		config:  cfg,
		fetcher: f,
		store:   store,
		indexer: ix,
		crawler: crawler.New(cfg, f, ix, logger),
		pool:    pool,
		logger:  logger,
	}, nil
}

func dedupeSites(sites []config.Site) []config.Site {
	seen := make(map[string]bool, len(sites))
	var out []config.Site
	for _, s := range sites {
		s.URL = config.NormalizeSiteURL(s.URL)
		if seen[s.URL] {
			continue
		}
		seen[s.URL] = true
		out = append(out, s)
	}
	return out
}

// StartIndexing launches a session and returns without waiting for it.
func (o *Orchestrator) StartIndexing(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session != nil || o.pages > 0 {
		return apperr.ErrIndexingInProgress
	}
	if len(o.sites) == 0 {
		return apperr.ErrEmptySiteList
	}

	// The session outlives the request that started it.
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		ID:      uuid.NewString(),
		Started: time.Now(),
		Claims:  frontier.NewClaims(),
		state:   Running,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	o.session = s

	o.logger.Info("indexing session started", "session", s.ID, "sites", len(o.sites))
	go o.run(sessionCtx, s)
	return nil
}

func (o *Orchestrator) run(ctx context.Context, s *Session) {
	var wg sync.WaitGroup
	for _, site := range o.sites {
		if ctx.Err() != nil {
			o.logger.Info("session stopped, site left untouched", "session", s.ID, "site", site.URL)
			continue
		}
		site := site
		wg.Add(1)
		err := o.pool.Submit(func() {
			defer wg.Done()
			// A job queued behind a full pool must not reset a site after stop.
			if ctx.Err() != nil {
				o.logger.Info("session stopped, site left untouched", "session", s.ID, "site", site.URL)
				return
			}
			o.indexSite(ctx, s, site)
		})
		if err != nil {
			wg.Done()
			o.logger.Error("failed to submit site job", "site", site.URL, "error", err)
		}
	}
	wg.Wait()
	s.cancel()

	o.mu.Lock()
	o.session = nil
	o.mu.Unlock()
	close(s.done)

	o.logger.Info("indexing session finished", "session", s.ID, "duration", time.Since(s.Started).String())
}

// indexSite resets one site and crawls it, recording the outcome on the site row.
func (o *Orchestrator) indexSite(ctx context.Context, s *Session, sc config.Site) {
	// Status writes must land even after the session is cancelled.
	dbCtx := context.WithoutCancel(ctx)

	site, err := o.indexer.ResetSite(dbCtx, sc.URL, sc.Name)
	if err != nil {
		o.logger.Error("failed to reset site", "site", sc.URL, "error", err)
		return
	}

	err = o.crawlSite(ctx, s, site)

	status, reason := storage.StatusIndexed, ""
	switch {
	case ctx.Err() != nil:
		status, reason = storage.StatusFailed, stoppedByUser
	case errors.Is(err, context.DeadlineExceeded):
		status, reason = storage.StatusFailed, fmt.Sprintf("indexing timed out after %s", o.config.SiteTimeout)
	case err != nil:
		status, reason = storage.StatusFailed, err.Error()
	}

	if err := o.store.UpdateSiteStatus(dbCtx, site.ID, status, reason); err != nil {
		o.logger.Error("failed to update site status", "site", site.URL, "error", err)
		return
	}
	o.logger.Info("site finished", "session", s.ID, "site", site.URL, "status", status, "reason", reason)
}

func (o *Orchestrator) crawlSite(ctx context.Context, s *Session, site *storage.Site) error {
	siteCtx, cancel := context.WithTimeout(ctx, o.config.SiteTimeout)
	defer cancel()

	if err := o.fetcher.Probe(siteCtx, site.URL); err != nil {
		return err
	}
	_, err := o.crawler.Crawl(siteCtx, site, s.Claims)
	return err
}

// StopIndexing cancels the running session and waits, bounded by ctx, for
// its site jobs to drain.
func (o *Orchestrator) StopIndexing(ctx context.Context) error {
	o.mu.Lock()
	s := o.session
	if s == nil || s.state != Running {
		o.mu.Unlock()
		return apperr.ErrIndexingNotStarted
	}
	s.state = Cancelling
	o.mu.Unlock()

	o.logger.Info("stopping indexing session", "session", s.ID)
	s.cancel()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the current session, if any, ends.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	s := o.session
	o.mu.Unlock()
	if s == nil {
		return nil
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return Idle
	}
	return o.session.state
}

func (o *Orchestrator) Indexing() bool {
	return o.State() != Idle
}

// IndexPage fetches one page of a configured site and replaces its stored
// copy. It is refused while a session runs.
func (o *Orchestrator) IndexPage(ctx context.Context, rawURL string) error {
	o.mu.Lock()
	if o.session != nil {
		o.mu.Unlock()
		return apperr.ErrIndexingInProgress
	}
	o.pages++
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.pages--
		o.mu.Unlock()
	}()

	pageURL := parser.NormalizeURL(strings.TrimSpace(rawURL))
	sc, ok := o.siteFor(pageURL)
	if !ok {
		return apperr.ErrPageOutOfScope.WithMessage("page %s is outside the configured sites", rawURL)
	}

	if err := o.fetcher.Probe(ctx, sc.URL); err != nil {
		return apperr.ErrSiteUnreachable.Wrap(err)
	}

	site, err := o.store.FindSiteByURL(ctx, sc.URL)
	if errors.Is(err, storage.ErrNotFound) {
		site, err = o.store.CreateSite(ctx, sc.URL, sc.Name, storage.StatusIndexed)
	}
	if err != nil {
		return fmt.Errorf("failed to load site %s: %w", sc.URL, err)
	}

	doc, err := o.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return err
	}
	if doc.StatusCode >= 400 {
		if err := o.indexer.RemovePage(ctx, site, parser.PathOf(pageURL, site.URL)); err != nil {
			return err
		}
		return apperr.ErrBadStatusCode.WithMessage("page %s answered with status %d", pageURL, doc.StatusCode)
	}

	if _, err := o.indexer.ReplaceDocument(ctx, site, doc); err != nil {
		return err
	}
	o.logger.Info("page indexed", "url", pageURL, "site", site.URL)
	return nil
}

func (o *Orchestrator) siteFor(pageURL string) (config.Site, bool) {
	if !strings.HasPrefix(pageURL, "http://") && !strings.HasPrefix(pageURL, "https://") {
		return config.Site{}, false
	}
	for _, s := range o.sites {
		if parser.InScope(pageURL, s.URL) {
			return s, true
		}
	}
	return config.Site{}, false
}

// Close stops a running session and releases the worker pool.
func (o *Orchestrator) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := o.StopIndexing(ctx); err != nil && !errors.Is(err, apperr.ErrIndexingNotStarted) {
		o.logger.Warn("session did not stop cleanly", "error", err)
	}
	o.pool.Release()
}
