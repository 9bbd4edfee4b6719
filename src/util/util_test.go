package util

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Site struct {
		BaseURL string `mapstructure:"base_url"`
	} `mapstructure:"site"`
	Downloader struct {
		Timeout time.Duration `mapstructure:"timeout"`
		Retry   int           `mapstructure:"retry"`
	} `mapstructure:"downloader"`
}

var sampleDefaults = map[string]interface{}{
	"site.base_url":      "https://www.rp.pl",
	"downloader.timeout": 10 * time.Second,
	"downloader.retry":   3,
}

func TestReadConfigFileOverridesDefaults(t *testing.T) {
	fp := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(fp, []byte("downloader:\n  timeout: 3s\n"), 0o644))

	var cfg sample
	require.NoError(t, ReadConfig(fp, sampleDefaults, &cfg))

	assert.Equal(t, "https://www.rp.pl", cfg.Site.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Downloader.Timeout)
	assert.Equal(t, 3, cfg.Downloader.Retry)
}

func TestReadConfigEnvironmentWins(t *testing.T) {
	t.Setenv("NEWSRELAY_DOWNLOADER_RETRY", "7")

	var cfg sample
	require.NoError(t, ReadConfig("", sampleDefaults, &cfg))

	assert.Equal(t, 7, cfg.Downloader.Retry)
	assert.Equal(t, 10*time.Second, cfg.Downloader.Timeout)
}

func TestReadConfigMissingFile(t *testing.T) {
	var cfg sample
	assert.Error(t, ReadConfig(filepath.Join(t.TempDir(), "nope.yaml"), sampleDefaults, &cfg))
}

func TestResolveURL(t *testing.T) {
	assert.Equal(t, "https://www.rp.pl/ekonomia/art1", ResolveURL("https://www.rp.pl", "/ekonomia/art1"))
	assert.Equal(t, "https://cdn.example.com/a.jpg", ResolveURL("https://www.rp.pl", "https://cdn.example.com/a.jpg"))
	assert.Equal(t, "https://www.rp.pl/kraj", ResolveURL("https://www.rp.pl/", " kraj "))
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, SleepContext(context.Background(), time.Millisecond))
	assert.NoError(t, SleepContext(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "ekonomia/biznes", JoinPath([]string{"ekonomia", "", "/biznes/"}))
	assert.Equal(t, "", JoinPath(nil))
}
