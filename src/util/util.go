package util

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ReadConfig loads an optional .env file, then the config file at filePath,
// with environment variables (NEWSRELAY_SITE_BASE_URL style) taking precedence.
// An empty filePath reads defaults and environment only.
func ReadConfig(filePath string, defaults map[string]interface{}, out interface{}) error {
	_ = godotenv.Load() // .env is optional

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix("newsrelay")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // for nested structure
	v.AutomaticEnv()

	if filePath != "" {
		v.SetConfigFile(filePath)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}

	if err := v.Unmarshal(out); err != nil {
		return err
	}

	return nil
}

// ResolveURL resolves href against base the way a browser would.
// Unparseable input comes back unchanged.
func ResolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	h, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(h).String()
}

// JoinPath joins the non-empty segments of a category path with "/".
func JoinPath(segments []string) string {
	var parts []string
	for _, s := range segments {
		if s = strings.Trim(s, "/ "); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// SleepContext waits for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
