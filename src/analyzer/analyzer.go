package analyzer

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/andrewyi/newsrelay/src/entity"
)

type Analyzer interface {
	// Analyze extracts an article from a parsed page. Missing fields are left
	// empty; an error means the document itself could not be processed.
	Analyze(doc *goquery.Document, url string) (*entity.ArticleRecord, error)
}
