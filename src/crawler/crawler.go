package crawler

import (
	"context"
	"regexp"
	"strings"

	"github.com/andrewyi/newsrelay/src/entity"
)

type Crawler interface {
	// CrawlBatch extracts up to limit articles from the category page. A
	// listing failure is reported through the result's Error field.
	CrawlBatch(ctx context.Context, path []string, limit int) *entity.CrawlResult
	// CrawlStream emits articles one at a time in discovery order. The
	// channel is closed when the candidates run out, on listing failure, or
	// when ctx is cancelled.
	CrawlStream(ctx context.Context, path []string) <-chan entity.ArticleRecord
}

var (
	// every selector contributes, several templates can share one page
	blockSelectors = []string{
		"div[data-gtm-placement^='type:content/position:']",
		"div.content--block",
		"div[data-mrf-recirculation^='Category / ListOfArticles']",
	}

	linkSelectors = []string{
		"a.contentLink[href][data-gtm-trigger='title']",
		"a[href][cmp-ltrk^='Category / ListOfArticles']",
		"a[href][data-mrf-link]",
	}

	skippedFragments = []string{".jpg", ".pdf", ".png", ".xml", "rss", "feed"}

	specialSections = []string{
		"/logowanie",
		"/moj-profil",
		"/mapa-strony",
		"/regulamin",
		"/rodo",
	}

	reArticleID = regexp.MustCompile(`/art\d+`)
)

// IsValidArticleURL accepts site-relative links and absolute links under
// baseURL that carry an article id (/art<digits>). Media files, feeds and
// account or legal pages are rejected.
func IsValidArticleURL(baseURL, u string) bool {
	lower := strings.ToLower(strings.TrimSpace(u))
	if lower == "" {
		return false
	}

	base := strings.ToLower(strings.TrimRight(baseURL, "/"))
	switch {
	case strings.HasPrefix(lower, "//"): // protocol-relative, another host
		return false
	case strings.HasPrefix(lower, "/"):
	case base != "" && strings.HasPrefix(lower, base+"/"):
	default:
		return false
	}

	for _, f := range skippedFragments {
		if strings.Contains(lower, f) {
			return false
		}
	}
	for _, s := range specialSections {
		if strings.Contains(lower, s) {
			return false
		}
	}

	return reArticleID.MatchString(lower)
}
