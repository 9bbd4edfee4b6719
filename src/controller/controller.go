package controller

import (
	"context"

	"github.com/andrewyi/newsrelay/src/dbstorage/schema"
	"github.com/andrewyi/newsrelay/src/entity"
)

// Controller relays articles between the crawl pipeline and delivery: new
// articles are stored once per URL, stored articles are forwarded once.
type Controller interface {
	ProcessNewArticle(ctx context.Context, payload []byte) error
	DeliverPending(ctx context.Context) (int, error)
	Run(ctx context.Context) error
}

// Store is the part of dbstorage.SimpleDBStorage the relay uses.
type Store interface {
	SaveIfNew(record *entity.ArticleRecord, categoryName string) (bool, error)
	ListUnprocessed(limit int) ([]*schema.Article, error)
	MarkProcessed(id int64) error
}
