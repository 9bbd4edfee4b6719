package controller

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/andrewyi/newsrelay/src/dbstorage"
	"github.com/andrewyi/newsrelay/src/entity"
	"github.com/andrewyi/newsrelay/src/enum"
	"github.com/andrewyi/newsrelay/src/mq"
	"github.com/andrewyi/newsrelay/src/util"
)

type Options struct {
	ChannelID    int64
	Interval     time.Duration
	BatchSize    int
	PublishDelay time.Duration
}

type SimpleController struct {
	logger *log.Logger
	store  Store
	queue  mq.Queue
	opts   Options

	sleep func(context.Context, time.Duration) error
}

func NewSimpleController(store Store, queue mq.Queue, opts Options, logger *log.Logger) *SimpleController {
	if opts.Interval <= 0 {
		opts.Interval = enum.DefaultRelayInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = enum.MaxRelayBatch
	}
	if opts.PublishDelay < 0 {
		opts.PublishDelay = enum.DefaultPublishDelay
	}
	return &SimpleController{
		logger: logger,
		store:  store,
		queue:  queue,
		opts:   opts,
		sleep:  util.SleepContext,
	}
}

// ProcessNewArticle stores one new-article message. Malformed messages,
// invalid articles and duplicates are logged and acknowledged; only a store
// failure is returned so the message is delivered again.
func (c *SimpleController) ProcessNewArticle(ctx context.Context, payload []byte) error {
	var msg entity.NewArticleMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.WithError(err).Error("drop undecodable article message")
		return nil
	}
	logger := c.logger.WithField("url", msg.Article.URL).WithField("category", msg.CategoryName)
	if msg.CategoryName == "" || msg.Article.URL == "" {
		logger.Warn("drop incomplete article message")
		return nil
	}

	saved, err := c.store.SaveIfNew(&msg.Article, msg.CategoryName)
	switch {
	case errors.Is(err, dbstorage.ErrInvalidArticle):
		logger.WithError(err).Warn("article rejected")
		return nil
	case err != nil:
		logger.WithError(err).Error("fail to save article")
		return err
	case saved:
		logger.WithField("title", msg.Article.Title).Info("article saved")
	default:
		logger.WithField("title", msg.Article.Title).Info("article already exists")
	}
	return nil
}

// DeliverPending forwards up to BatchSize unprocessed articles, oldest
// first, marking each one processed right after it is published. It stops at
// the first failure; the rest is picked up by the next call.
func (c *SimpleController) DeliverPending(ctx context.Context) (int, error) {
	articles, err := c.store.ListUnprocessed(c.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	var delivered int
	for i, article := range articles {
		if i > 0 {
			if err := c.sleep(ctx, c.opts.PublishDelay); err != nil {
				return delivered, err
			}
		}
		logger := c.logger.WithField("id", article.ID).WithField("url", article.URL)

		msg := entity.DeliveryMessage{
			ChannelID:    c.opts.ChannelID,
			Article:      article.ToMap(),
			CategoryName: article.CategoryName,
		}
		if err := c.queue.Publish(ctx, enum.ParsedArticlesQueue, msg); err != nil {
			logger.WithError(err).Error("fail to publish article for delivery")
			return delivered, err
		}
		if err := c.store.MarkProcessed(article.ID); err != nil {
			logger.WithError(err).Error("fail to mark article processed")
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

// Run consumes new articles and forwards stored ones every Interval until
// ctx is cancelled or the consumer cannot start.
func (c *SimpleController) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.queue.Consume(ctx, enum.NewArticlesQueue, c.ProcessNewArticle)
	})

	g.Go(func() error {
		for {
			n, err := c.DeliverPending(ctx)
			if err != nil && ctx.Err() == nil {
				c.logger.WithError(err).Error("fail to deliver pending articles")
			} else if n > 0 {
				c.logger.WithField("delivered", n).Info("articles forwarded for delivery")
			}
			if err := c.sleep(ctx, c.opts.Interval); err != nil {
				return nil
			}
		}
	})

	return g.Wait()
}
