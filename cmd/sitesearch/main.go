package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/urfave/cli/v2"

	"github.com/deidaraiorek/sitesearch/internal/api"
	"github.com/deidaraiorek/sitesearch/internal/config"
	"github.com/deidaraiorek/sitesearch/internal/fetcher"
	"github.com/deidaraiorek/sitesearch/internal/indexer"
	"github.com/deidaraiorek/sitesearch/internal/lemma"
	"github.com/deidaraiorek/sitesearch/internal/logging"
	"github.com/deidaraiorek/sitesearch/internal/orchestrator"
	"github.com/deidaraiorek/sitesearch/internal/search"
	"github.com/deidaraiorek/sitesearch/internal/snippet"
	"github.com/deidaraiorek/sitesearch/internal/statistics"
	"github.com/deidaraiorek/sitesearch/internal/storage"
)

const defaultConfigPath = "sitesearch.yaml"

func main() {
	app := &cli.App{
		Name:  "sitesearch",
		Usage: "Crawl configured sites and search them by lemma",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Value:   defaultConfigPath,
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Override the configured log level (debug, info, warn, error)",
			},
		},
		Before: setup,
		After: func(c *cli.Context) error {
			if cleanup, ok := c.App.Metadata["cleanup"].(func()); ok {
				cleanup()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serveCommand,
			},
			{
				Name:   "index",
				Usage:  "Crawl every configured site once and exit",
				Action: indexCommand,
			},
			{
				Name:      "index-page",
				Usage:     "Fetch and reindex a single page",
				ArgsUsage: "URL",
				Action:    indexPageCommand,
			},
			{
				Name:      "search",
				Usage:     "Query the index and print JSON results",
				ArgsUsage: "QUERY",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "site", Usage: "Restrict results to one site URL"},
					&cli.IntFlag{Name: "offset", Usage: "Number of results to skip"},
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of results", Value: 20},
				},
			},
			{
				Name:   "stats",
				Usage:  "Print index statistics as JSON",
				Action: statsCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"), c.IsSet("config"))
	if err != nil {
		return err
	}
	if level := c.String("log-level"); level != "" {
		cfg.Log.Level = level
	}

	logger, cleanup, err := logging.Setup(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	c.App.Metadata = map[string]any{
		"config":  cfg,
		"logger":  logger,
		"cleanup": cleanup,
	}
	return nil
}

// loadConfig reads path. A missing file is only an error when the path was
// given explicitly; otherwise defaults and environment overrides apply.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		return config.Parse(nil)
	}
	return nil, err
}

// components is the wired service. writer components hold the database
// lock file for their lifetime.
type components struct {
	config       *config.Config
	logger       *slog.Logger
	store        *storage.SQLiteStore
	lock         *flock.Flock
	orchestrator *orchestrator.Orchestrator
	search       *search.Engine
	statistics   *statistics.Service
}

func build(c *cli.Context, writer bool) (*components, error) {
	cfg := c.App.Metadata["config"].(*config.Config)
	logger := c.App.Metadata["logger"].(*slog.Logger)

	comp := &components{config: cfg, logger: logger}

	if writer {
		lock, err := storage.LockWriter(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		comp.lock = lock
	}

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		comp.close()
		return nil, err
	}
	comp.store = store

	extractor, err := lemma.New(cfg.Lemma)
	if err != nil {
		comp.close()
		return nil, err
	}

	ix := indexer.New(store, extractor, logger)
	orch, err := orchestrator.New(cfg.Sites, cfg.Crawler, fetcher.New(cfg.Fetch), store, ix, logger)
	if err != nil {
		comp.close()
		return nil, err
	}
	comp.orchestrator = orch
	comp.search = search.New(store, extractor, snippet.New(extractor), cfg.Search, logger)
	comp.statistics = statistics.New(store, orch)

	return comp, nil
}

func (comp *components) close() {
	if comp.orchestrator != nil {
		comp.orchestrator.Close()
	}
	if comp.store != nil {
		if err := comp.store.Close(); err != nil {
			comp.logger.Warn("failed to close database", "error", err)
		}
	}
	if comp.lock != nil {
		_ = comp.lock.Unlock()
	}
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func serveCommand(c *cli.Context) error {
	comp, err := build(c, true)
	if err != nil {
		return err
	}
	defer comp.close()

	ctx, stop := signalContext(c)
	defer stop()

	server := api.New(comp.orchestrator, comp.search, comp.statistics, comp.logger)
	return server.ListenAndServe(ctx, comp.config.Server.Addr)
}

func indexCommand(c *cli.Context) error {
	comp, err := build(c, true)
	if err != nil {
		return err
	}
	defer comp.close()

	ctx, stop := signalContext(c)
	defer stop()

	if err := comp.orchestrator.StartIndexing(ctx); err != nil {
		return err
	}

	if err := comp.orchestrator.Wait(ctx); err != nil {
		comp.logger.Info("interrupted, stopping indexing")
		if err := comp.orchestrator.StopIndexing(context.Background()); err != nil {
			return err
		}
	}

	stats, err := comp.statistics.Collect(context.Background())
	if err != nil {
		return err
	}
	return printJSON(stats.Detailed)
}

func indexPageCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("index-page requires exactly one URL", 2)
	}

	comp, err := build(c, true)
	if err != nil {
		return err
	}
	defer comp.close()

	ctx, stop := signalContext(c)
	defer stop()

	return comp.orchestrator.IndexPage(ctx, c.Args().First())
}

func searchCommand(c *cli.Context) error {
	comp, err := build(c, false)
	if err != nil {
		return err
	}
	defer comp.close()

	resp, err := comp.search.Search(c.Context, search.Query{
		Text:   c.Args().First(),
		Site:   c.String("site"),
		Offset: c.Int("offset"),
		Limit:  c.Int("limit"),
	})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func statsCommand(c *cli.Context) error {
	comp, err := build(c, false)
	if err != nil {
		return err
	}
	defer comp.close()

	stats, err := comp.statistics.Collect(c.Context)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
