// Package core drives the periodic crawl: every third level category is
// streamed, today's articles are kept and each one is published to the
// new articles queue.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/andrewyi/newsrelay/src/category"
	"github.com/andrewyi/newsrelay/src/entity"
	"github.com/andrewyi/newsrelay/src/enum"
	"github.com/andrewyi/newsrelay/src/util"
)

var ErrCycleFailed = errors.New("crawl cycle failed")

type StreamCrawler interface {
	CrawlStream(ctx context.Context, path []string) <-chan entity.ArticleRecord
}

type Publisher interface {
	Publish(ctx context.Context, queue string, message interface{}) error
}

type Options struct {
	CheckInterval time.Duration
	PublishDelay  time.Duration
	CategoryDelay time.Duration
}

type PublishPipeline struct {
	logger    *log.Logger
	tree      *category.Tree
	crawler   StreamCrawler
	publisher Publisher
	opts      Options

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func NewPublishPipeline(tree *category.Tree, crawler StreamCrawler, publisher Publisher, opts Options, logger *log.Logger) *PublishPipeline {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = enum.DefaultCheckInterval
	}
	if opts.PublishDelay < 0 {
		opts.PublishDelay = enum.DefaultPublishDelay
	}
	if opts.CategoryDelay < 0 {
		opts.CategoryDelay = enum.DefaultCategoryDelay
	}
	return &PublishPipeline{
		logger:    logger,
		tree:      tree,
		crawler:   crawler,
		publisher: publisher,
		opts:      opts,
		now:       time.Now,
		sleep:     util.SleepContext,
	}
}

// PublishedToday reports whether t falls on the same local calendar day as now.
func PublishedToday(t *time.Time, now time.Time) bool {
	if t == nil {
		return false
	}
	y1, m1, d1 := t.In(time.Local).Date()
	y2, m2, d2 := now.In(time.Local).Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// ProcessCategoryPath streams the category at path and publishes every
// article dated today. Publishing starts only after the stream is drained.
// It returns how many articles were published; the error reports failed
// publishes, the remaining articles are still attempted.
func (p *PublishPipeline) ProcessCategoryPath(ctx context.Context, path []string) (int, error) {
	categoryName := p.tree.DisplayName(path)
	logger := p.logger.WithField("category", categoryName)
	today := p.now()

	var fresh []entity.ArticleRecord
	for record := range p.crawler.CrawlStream(ctx, path) {
		if !record.Valid() {
			continue
		}
		if !PublishedToday(record.PublicationDate, today) {
			continue
		}
		fresh = append(fresh, record)
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if len(fresh) == 0 {
		logger.Debug("no new articles")
		return 0, nil
	}

	var published, failed int
	for i, record := range fresh {
		if i > 0 {
			if err := p.sleep(ctx, p.opts.PublishDelay); err != nil {
				return published, err
			}
		}
		msg := entity.NewArticleMessage{Article: record, CategoryName: categoryName}
		if err := p.publisher.Publish(ctx, enum.NewArticlesQueue, msg); err != nil {
			logger.WithError(err).WithField("url", record.URL).Error("fail to publish article")
			failed++
			continue
		}
		published++
	}
	logger.WithField("published", published).Info("new articles published")

	if failed > 0 {
		return published, fmt.Errorf("%d of %d articles not published", failed, len(fresh))
	}
	return published, nil
}

// ProcessAllCategories runs ProcessCategoryPath over every third level
// category in tree order, pausing CategoryDelay between categories.
// Category errors are logged and do not fail the cycle; only a cancelled ctx
// or a panic does.
func (p *PublishPipeline) ProcessAllCategories(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCycleFailed, r)
		}
	}()

	paths := p.tree.LeafPaths(enum.MaxCategoryDepth)
	if len(paths) == 0 {
		p.logger.Warn("no third level categories to check")
		return nil
	}

	var failed int
	for i, path := range paths {
		if i > 0 {
			if err := p.sleep(ctx, p.opts.CategoryDelay); err != nil {
				return err
			}
		}
		if _, err := p.ProcessCategoryPath(ctx, path); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.WithError(err).WithField("path", path).Error("fail to process category")
			failed++
		}
	}

	if failed > 0 {
		p.logger.WithField("failed", failed).WithField("total", len(paths)).Warn("some categories had errors")
	}
	return nil
}

// Run repeats ProcessAllCategories every CheckInterval until ctx is
// cancelled. A failed cycle is retried after a shorter back-off.
func (p *PublishPipeline) Run(ctx context.Context) error {
	p.logger.Info("publish pipeline started")
	for {
		p.logger.Info("starting news check cycle")
		wait := p.opts.CheckInterval
		if err := p.ProcessAllCategories(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.WithError(err).Error("news check cycle failed")
			wait = enum.CycleFailureBackoff
		} else {
			p.logger.WithField("next_in", wait).Info("news check complete")
		}

		if err := p.sleep(ctx, wait); err != nil {
			return nil
		}
	}
}
