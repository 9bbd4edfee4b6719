package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	neturl "net/url"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/andrewyi/newsrelay/src/enum"
	"github.com/andrewyi/newsrelay/src/util"
)

type Options struct {
	Timeout     time.Duration
	Delay       time.Duration // politeness pause before every attempt
	BackoffBase time.Duration
	Retry       int
	UserAgent   string
	// RateLimit caps requests per second across all callers; 0 disables it.
	RateLimit float64
	// Robots, when set, rejects URLs disallowed by the host's robots.txt.
	Robots    *RobotsGuard
	Transport http.RoundTripper
}

type SimpleDownloader struct {
	logger  *log.Logger
	client  *http.Client
	opts    Options
	limiter *rate.Limiter

	sleep func(context.Context, time.Duration) error
}

func NewSimpleDownloader(opts Options, logger *log.Logger) *SimpleDownloader {
	if opts.Timeout <= 0 {
		opts.Timeout = enum.DefaultRequestTimeout
	}
	if opts.Retry <= 0 {
		opts.Retry = enum.DefaultMaxRetries
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = enum.DefaultBackoffBase
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}

	s := &SimpleDownloader{
		logger: logger,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: opts.Transport,
		},
		opts:  opts,
		sleep: util.SleepContext,
	}
	if opts.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return s
}

// Download fetches url, retrying timeouts, connection errors and unexpected
// statuses with exponential backoff. 403 and 404 are returned immediately.
func (s *SimpleDownloader) Download(ctx context.Context, url string) (string, error) {
	logger := s.logger.WithField("url", url)

	if err := checkURL(url); err != nil {
		logger.WithError(err).Warn("invalid url")
		return "", &FetchError{URL: url, Kind: enum.FetchInvalid, Err: err}
	}
	if s.opts.Robots != nil && !s.opts.Robots.Allowed(ctx, url) {
		logger.Warn("url disallowed by robots.txt")
		return "", &FetchError{URL: url, Kind: enum.FetchTerminal, Err: ErrDisallowed}
	}

	var (
		lastErr    error
		lastStatus int
	)
	for attempt := 0; attempt < s.opts.Retry; attempt++ {
		if attempt > 0 {
			if err := s.sleep(ctx, s.backoff(attempt-1)); err != nil {
				return "", &FetchError{URL: url, Kind: enum.FetchTerminal, Attempts: attempt, Err: err}
			}
		}
		if err := s.sleep(ctx, s.opts.Delay); err != nil {
			return "", &FetchError{URL: url, Kind: enum.FetchTerminal, Attempts: attempt, Err: err}
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return "", &FetchError{URL: url, Kind: enum.FetchTerminal, Attempts: attempt, Err: err}
			}
		}

		body, status, err := s.get(ctx, url)
		switch {
		case err != nil:
			if isTimeout(err) {
				logger.WithError(err).WithField("attempt", attempt+1).Error("timeout while fetching")
			} else {
				logger.WithError(err).WithField("attempt", attempt+1).Error("fail to get page")
			}
			if ctx.Err() != nil {
				return "", &FetchError{URL: url, Kind: enum.FetchTerminal, Attempts: attempt + 1, Err: ctx.Err()}
			}
			lastErr, lastStatus = err, 0
			continue
		case status == http.StatusOK:
			return body, nil
		case status == http.StatusNotFound:
			logger.Error("page not found")
			return "", &FetchError{URL: url, Kind: enum.FetchTerminal, StatusCode: status, Attempts: attempt + 1, Err: ErrNotFound}
		case status == http.StatusForbidden:
			logger.Error("access forbidden")
			return "", &FetchError{URL: url, Kind: enum.FetchTerminal, StatusCode: status, Attempts: attempt + 1, Err: ErrForbidden}
		default:
			logger.WithField("status", status).WithField("attempt", attempt+1).Error("unexpected http status")
			lastErr, lastStatus = ErrUnexpectedStatus, status
		}
	}

	logger.WithField("retries", s.opts.Retry).Error("fail to fetch after all retries")
	return "", &FetchError{URL: url, Kind: enum.FetchExhausted, StatusCode: lastStatus, Attempts: s.opts.Retry, Err: lastErr}
}

// backoff is BackoffBase * 2^attempt.
func (s *SimpleDownloader) backoff(attempt int) time.Duration {
	return s.opts.BackoffBase << uint(attempt)
}

func (s *SimpleDownloader) get(ctx context.Context, url string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", 0, err
	}
	if s.opts.UserAgent != "" {
		req.Header.Set("User-Agent", s.opts.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", resp.StatusCode, nil
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return string(content), resp.StatusCode, nil
}

// checkURL accepts absolute http(s) URLs only.
func checkURL(raw string) error {
	u, err := neturl.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
