package filestorage

import (
	"github.com/andrewyi/newsrelay/src/entity"
)

type FileStorage interface {
	// Store writes result and returns the path of the written file.
	Store(result *entity.CrawlResult) (string, error)
}
