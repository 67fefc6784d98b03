package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/deidaraiorek/sitesearch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNewRespectsLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("shown", "site", "https://example.com")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"site":"https://example.com"`)
}

func TestSetupWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sitesearch.log")

	logger, cleanup, err := Setup(config.LogConfig{Level: "info", Format: "text", File: path})
	require.NoError(t, err)
	logger.Info("crawl started")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "crawl started")
}
