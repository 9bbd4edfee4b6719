package enum

import "time"

const (
	// queues between the crawl pipeline, the relay and the delivery bot
	NewArticlesQueue    = "new_articles"
	ParsedArticlesQueue = "parsed_articles"

	// fetch
	DefaultRequestDelay   = time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultMaxRetries     = 3
	DefaultBackoffBase    = time.Second

	// crawl
	DefaultBatchLimit       = 5
	DefaultBatchConcurrency = 3
	StreamConcurrency       = 1
	DefaultMinTextLength    = 200

	// category tree
	MaxCategoryDepth = 3

	// publish pipeline
	DefaultPublishDelay  = 2 * time.Second
	DefaultCategoryDelay = 5 * time.Second
	DefaultCheckInterval = 1800 * time.Second
	CycleFailureBackoff  = 60 * time.Second

	// relay
	DefaultRelayInterval = 10 * time.Second
	MaxRelayBatch        = 10

	// queue connection
	DefaultConnectRetries = 10
	DefaultConnectDelay   = 5 * time.Second
)

// FetchErrorKind classifies why a fetch gave up.
type FetchErrorKind uint8

const (
	// FetchTerminal is an outcome that will not improve on retry (403, 404, robots).
	FetchTerminal FetchErrorKind = iota + 1
	// FetchExhausted means every attempt failed with a transient error.
	FetchExhausted
	// FetchInvalid means the url is not an absolute http(s) url; nothing was sent.
	FetchInvalid
)

func (k FetchErrorKind) String() string {
	switch k {
	case FetchTerminal:
		return "terminal"
	case FetchExhausted:
		return "exhausted"
	case FetchInvalid:
		return "invalid"
	}
	return "unknown"
}
