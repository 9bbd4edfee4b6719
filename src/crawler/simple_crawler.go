package crawler

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"

	"github.com/andrewyi/newsrelay/src/analyzer"
	"github.com/andrewyi/newsrelay/src/downloader"
	"github.com/andrewyi/newsrelay/src/entity"
	"github.com/andrewyi/newsrelay/src/enum"
	"github.com/andrewyi/newsrelay/src/filestorage"
	"github.com/andrewyi/newsrelay/src/routingpool"
	"github.com/andrewyi/newsrelay/src/util"
)

type SimpleCrawler struct {
	logger      *log.Logger
	baseURL     string
	concurrency int

	downloader downloader.Downloader
	analyzer   analyzer.Analyzer
	sink       filestorage.FileStorage // nil: batch results are not written

	now func() time.Time
}

func NewSimpleCrawler(baseURL string, concurrency int, d downloader.Downloader, a analyzer.Analyzer,
	sink filestorage.FileStorage, logger *log.Logger) *SimpleCrawler {

	if concurrency <= 0 {
		concurrency = enum.DefaultBatchConcurrency
	}
	return &SimpleCrawler{
		logger:      logger,
		baseURL:     strings.TrimRight(baseURL, "/"),
		concurrency: concurrency,
		downloader:  d,
		analyzer:    a,
		sink:        sink,
		now:         time.Now,
	}
}

// CategoryURL is the listing page of the category at path.
func (c *SimpleCrawler) CategoryURL(path []string) string {
	return util.ResolveURL(c.baseURL+"/", util.JoinPath(path))
}

func (c *SimpleCrawler) CrawlBatch(ctx context.Context, path []string, limit int) *entity.CrawlResult {
	if limit <= 0 {
		limit = enum.DefaultBatchLimit
	}
	categoryPath := util.JoinPath(path)
	categoryURL := c.CategoryURL(path)
	logger := c.logger.WithField("category", categoryPath)

	urls, err := c.discover(ctx, categoryURL, limit)
	if err != nil {
		logger.WithError(err).WithField("url", categoryURL).Error("fail to retrieve category page")
		return &entity.CrawlResult{
			CategoryURL:  categoryURL,
			CategoryPath: categoryPath,
			Error:        "failed to retrieve category page: " + err.Error(),
			Path:         path,
		}
	}
	if len(urls) == 0 {
		logger.Warn("no articles found in category")
	}

	// each worker writes only its own slot, so discovery order survives
	// the concurrent fan-out
	records := make([]*entity.ArticleRecord, len(urls))
	indexes := make([]int, len(urls))
	for i := range indexes {
		indexes[i] = i
	}
	routingpool.Run(ctx, uint32(c.concurrency), indexes, func(ctx context.Context, i int) {
		records[i] = c.extract(ctx, urls[i])
	})

	articles := make([]entity.ArticleRecord, 0, len(records))
	for _, r := range records {
		if r != nil {
			articles = append(articles, *r)
		}
	}

	result := &entity.CrawlResult{
		CategoryURL:   categoryURL,
		ArticlesFound: len(articles),
		CategoryPath:  categoryPath,
		ParsedAt:      c.now(),
		Articles:      articles,
		Path:          path,
	}

	if c.sink != nil && len(articles) > 0 {
		fp, err := c.sink.Store(result)
		if err != nil {
			logger.WithError(err).Error("fail to store crawl result")
		} else {
			logger.WithField("file", fp).Info("articles saved")
		}
	}
	return result
}

func (c *SimpleCrawler) CrawlStream(ctx context.Context, path []string) <-chan entity.ArticleRecord {
	out := make(chan entity.ArticleRecord)

	go func() {
		defer close(out)

		categoryURL := c.CategoryURL(path)
		urls, err := c.discover(ctx, categoryURL, 0)
		if err != nil {
			c.logger.WithError(err).WithField("url", categoryURL).Error("fail to retrieve category page")
			return
		}

		routingpool.Run(ctx, enum.StreamConcurrency, urls, func(ctx context.Context, u string) {
			record := c.extract(ctx, u)
			if record == nil {
				return
			}
			select {
			case <-ctx.Done():
			case out <- *record:
			}
		})
	}()

	return out
}

// discover fetches the listing page and returns the unique valid article
// URLs in page order, at most limit of them when limit > 0.
func (c *SimpleCrawler) discover(ctx context.Context, categoryURL string, limit int) ([]string, error) {
	content, err := c.downloader.Download(ctx, categoryURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, err
	}

	var (
		urls []string
		seen = make(map[string]struct{})
	)
	for _, candidate := range c.candidates(doc) {
		if limit > 0 && len(urls) >= limit {
			break
		}
		if _, ok := seen[candidate.URL]; ok {
			continue
		}
		if !IsValidArticleURL(c.baseURL, candidate.URL) {
			continue
		}
		seen[candidate.URL] = struct{}{}
		urls = append(urls, candidate.URL)
	}

	c.logger.WithField("url", categoryURL).WithField("articles", len(urls)).Debug("category page analyzed")
	return urls, nil
}

// candidates lists every link matched by any link selector inside any
// block matched by any block selector, with hrefs that already pass the
// article URL check resolved against the base URL.
func (c *SimpleCrawler) candidates(doc *goquery.Document) []entity.CrawlCandidate {
	var found []entity.CrawlCandidate
	for _, blockSelector := range blockSelectors {
		doc.Find(blockSelector).Each(func(_ int, block *goquery.Selection) {
			for _, linkSelector := range linkSelectors {
				block.Find(linkSelector).Each(func(_ int, link *goquery.Selection) {
					href, _ := link.Attr("href")
					if !IsValidArticleURL(c.baseURL, href) {
						return
					}
					found = append(found, entity.CrawlCandidate{URL: util.ResolveURL(c.baseURL, href)})
				})
			}
		})
	}
	return found
}

// extract downloads and analyzes one article. Failures are logged and give nil.
func (c *SimpleCrawler) extract(ctx context.Context, url string) *entity.ArticleRecord {
	logger := c.logger.WithField("url", url)

	content, err := c.downloader.Download(ctx, url)
	if err != nil {
		logger.WithError(err).Error("fail to fetch article")
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		logger.WithError(err).Error("fail to parse article page")
		return nil
	}
	record, err := c.analyzer.Analyze(doc, url)
	if err != nil {
		logger.WithError(err).Error("fail to analyze article")
		return nil
	}
	return record
}
