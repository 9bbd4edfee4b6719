package downloader

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrewyi/newsrelay/src/enum"
)

type Downloader interface {
	// Download returns the page body or a *FetchError.
	Download(ctx context.Context, url string) (string, error)
}

var (
	ErrNotFound         = errors.New("page not found")
	ErrForbidden        = errors.New("access forbidden")
	ErrDisallowed       = errors.New("disallowed by robots.txt")
	ErrUnexpectedStatus = errors.New("unexpected status code")
	ErrInvalidURL       = errors.New("invalid url")
)

// FetchError describes why a page could not be downloaded.
type FetchError struct {
	URL        string
	Kind       enum.FetchErrorKind
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s after %d attempt(s), status %d: %v", e.URL, e.Kind, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s after %d attempt(s): %v", e.URL, e.Kind, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsTerminal reports whether err is a fetch failure that retrying will not fix.
func IsTerminal(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && (fe.Kind == enum.FetchTerminal || fe.Kind == enum.FetchInvalid)
}
