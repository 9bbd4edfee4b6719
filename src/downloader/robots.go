package downloader

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/temoto/robotstxt"
)

const maxRobotsBodyBytes = 512 * 1024

// RobotsGuard answers robots.txt checks with a per-host cache. A missing or
// unreadable robots.txt allows everything. Network errors and 5xx answers
// also allow, but are not cached, so the next check asks again.
type RobotsGuard struct {
	client    *http.Client
	userAgent string

	mu    sync.Mutex
	cache map[string]*robotstxt.RobotsData // nil entry: allow all
}

func NewRobotsGuard(client *http.Client, userAgent string) *RobotsGuard {
	if client == nil {
		client = http.DefaultClient
	}
	return &RobotsGuard{
		client:    client,
		userAgent: userAgent,
		cache:     make(map[string]*robotstxt.RobotsData),
	}
}

func (g *RobotsGuard) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}
	host := strings.ToLower(u.Host)

	g.mu.Lock()
	data, ok := g.cache[host]
	g.mu.Unlock()
	if !ok {
		var cacheable bool
		data, cacheable = g.fetch(ctx, u.Scheme, host)
		if cacheable {
			g.mu.Lock()
			g.cache[host] = data
			g.mu.Unlock()
		}
	}
	if data == nil {
		return true
	}
	return data.TestAgent(u.EscapedPath(), g.userAgent)
}

// fetch returns the parsed robots.txt (nil: allow all) and whether the
// answer may be cached.
func (g *RobotsGuard) fetch(ctx context.Context, scheme, host string) (*robotstxt.RobotsData, bool) {
	if scheme == "" {
		scheme = "https"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scheme+"://"+host+"/robots.txt", http.NoBody)
	if err != nil {
		return nil, true
	}
	req.Header.Set("User-Agent", g.userAgent)
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, false
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, true
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBodyBytes))
	if err != nil {
		return nil, false
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, true
	}
	return data, true
}
