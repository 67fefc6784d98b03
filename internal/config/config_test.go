package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
sites:
  - url: https://Example.com/
    name: Example
  - url: http://blog.example.org
fetch:
  timeout: 3s
crawler:
  politeness_min: 0s
  politeness_max: 10ms
`))
	require.NoError(t, err)

	require.Len(t, cfg.Sites, 2)
	assert.Equal(t, "https://example.com", cfg.Sites[0].URL)
	assert.Equal(t, "Example", cfg.Sites[0].Name)
	assert.Equal(t, "blog.example.org", cfg.Sites[1].Name)

	assert.Equal(t, 3*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, "SiteSearchBot/1.0", cfg.Fetch.UserAgent)
	assert.Equal(t, 10*time.Millisecond, cfg.Crawler.PolitenessMax)
	assert.Equal(t, 60*time.Minute, cfg.Crawler.SiteTimeout)
	assert.Equal(t, 0.8, cfg.Search.CommonLemmaThreshold)
	assert.Equal(t, 20, cfg.Search.DefaultLimit)
	assert.Equal(t, "sqlite3", cfg.Storage.Driver)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad site url", "sites: [{url: 'ftp://example.com'}]"},
		{"threshold above one", "search: {common_lemma_threshold: 1.5}"},
		{"inverted politeness", "crawler: {politeness_min: 2s, politeness_max: 1s}"},
		{"unknown driver", "storage: {driver: postgres}"},
		{"no workers", "crawler: {workers: 0}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: {addr: ':9000'}\n"), 0o600))
	t.Setenv("SITESEARCH_DB", "/tmp/override.db")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "/tmp/override.db", cfg.Storage.Path)
}

func TestNormalizeSiteURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://Example.COM/", "https://example.com"},
		{"https://example.com/docs/", "https://example.com/docs"},
		{"http://example.com#top", "http://example.com"},
		{" https://example.com ", "https://example.com"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeSiteURL(tt.in), tt.in)
	}
}
