// Package config loads the service configuration from YAML.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Sites   []Site        `yaml:"sites"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Crawler CrawlerConfig `yaml:"crawler"`
	Search  SearchConfig  `yaml:"search"`
	Lemma   LemmaConfig   `yaml:"lemma"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
}

// Site is one site to crawl.
type Site struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// FetchConfig is the identity and timeout used for every request.
type FetchConfig struct {
	UserAgent string        `yaml:"user_agent"`
	Referrer  string        `yaml:"referrer"`
	Timeout   time.Duration `yaml:"timeout"`
}

type CrawlerConfig struct {
	// Workers is the number of goroutines draining one site's worklist.
	Workers       int           `yaml:"workers"`
	PolitenessMin time.Duration `yaml:"politeness_min"`
	PolitenessMax time.Duration `yaml:"politeness_max"`
	SiteTimeout   time.Duration `yaml:"site_timeout"`
}

type SearchConfig struct {
	// CommonLemmaThreshold is the fraction of indexed sites above which a
	// lemma is dropped from queries.
	CommonLemmaThreshold float64 `yaml:"common_lemma_threshold"`
	DefaultLimit         int     `yaml:"default_limit"`
}

type LemmaConfig struct {
	// Languages are snowball stemmer names: english, russian, french, spanish...
	Languages      []string `yaml:"languages"`
	VocabularySize int      `yaml:"vocabulary_size"`
}

type StorageConfig struct {
	// Driver is "sqlite3" (mattn/go-sqlite3) or "sqlite" (modernc.org/sqlite).
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns a configuration with every default applied and no sites.
func Default() *Config {
	return &Config{
		Fetch: FetchConfig{
			UserAgent: "SiteSearchBot/1.0",
			Referrer:  "https://www.google.com",
			Timeout:   5 * time.Second,
		},
		Crawler: CrawlerConfig{
			Workers:       4,
			PolitenessMin: 500 * time.Millisecond,
			PolitenessMax: 5 * time.Second,
			SiteTimeout:   60 * time.Minute,
		},
		Search: SearchConfig{
			CommonLemmaThreshold: 0.8,
			DefaultLimit:         20,
		},
		Lemma: LemmaConfig{
			Languages:      []string{"english", "russian"},
			VocabularySize: 100000,
		},
		Storage: StorageConfig{
			Driver: "sqlite3",
			Path:   "sitesearch.db",
		},
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path, applies defaults for unset fields, environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML data on top of Default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SITESEARCH_DB"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("SITESEARCH_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("SITESEARCH_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks field ranges and normalizes site URLs in place.
func (c *Config) Validate() error {
	for i := range c.Sites {
		u, err := url.Parse(strings.TrimSpace(c.Sites[i].URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid site url %q", c.Sites[i].URL)
		}
		c.Sites[i].URL = NormalizeSiteURL(c.Sites[i].URL)
		if c.Sites[i].Name == "" {
			c.Sites[i].Name = u.Host
		}
	}
	if c.Search.CommonLemmaThreshold <= 0 || c.Search.CommonLemmaThreshold > 1 {
		return fmt.Errorf("search.common_lemma_threshold must be in (0, 1], got %v", c.Search.CommonLemmaThreshold)
	}
	if c.Crawler.PolitenessMin < 0 || c.Crawler.PolitenessMax < c.Crawler.PolitenessMin {
		return fmt.Errorf("crawler politeness bounds are invalid: [%s, %s]", c.Crawler.PolitenessMin, c.Crawler.PolitenessMax)
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be positive, got %d", c.Crawler.Workers)
	}
	if c.Crawler.SiteTimeout <= 0 {
		return fmt.Errorf("crawler.site_timeout must be positive")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be positive")
	}
	switch c.Storage.Driver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if len(c.Lemma.Languages) == 0 {
		return fmt.Errorf("lemma.languages must not be empty")
	}
	return nil
}

// NormalizeSiteURL lowercases scheme and host and strips the trailing slash,
// so that page paths can be cut from absolute URLs by prefix.
func NormalizeSiteURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimSuffix(raw, "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawQuery = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	return u.String()
}
