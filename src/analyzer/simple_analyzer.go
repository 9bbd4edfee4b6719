// Package analyzer turns article pages into structured records. Every field
// is looked up through its own ordered list of selectors; the first one that
// yields a non-empty value wins.
package analyzer

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"

	"github.com/andrewyi/newsrelay/src/entity"
	"github.com/andrewyi/newsrelay/src/enum"
	"github.com/andrewyi/newsrelay/src/util"
)

var (
	ErrNilDocument = errors.New("nil document")

	reWhitespace = regexp.MustCompile(`\s+`)
	reDate       = regexp.MustCompile(`\d{2}\.\d{2}\.\d{4}\s+\d{2}:\d{2}`)
)

type SimpleAnalyzer struct {
	logger        *log.Logger
	baseURL       string
	minTextLength int
}

func NewSimpleAnalyzer(baseURL string, minTextLength int, logger *log.Logger) *SimpleAnalyzer {
	if minTextLength <= 0 {
		minTextLength = enum.DefaultMinTextLength
	}
	return &SimpleAnalyzer{
		logger:        logger,
		baseURL:       baseURL,
		minTextLength: minTextLength,
	}
}

// AnalyzeHTML parses content and extracts the article from it.
func (a *SimpleAnalyzer) AnalyzeHTML(content, url string) (*entity.ArticleRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return a.Analyze(doc, url)
}

func (a *SimpleAnalyzer) Analyze(doc *goquery.Document, url string) (record *entity.ArticleRecord, err error) {
	if doc == nil || doc.Selection == nil {
		return nil, ErrNilDocument
	}
	defer func() {
		if r := recover(); r != nil {
			record, err = nil, fmt.Errorf("analyze %s: %v", url, r)
		}
	}()

	root := doc.Selection
	record = &entity.ArticleRecord{URL: url}

	a.field(url, "title", func() { record.Title = firstText(root, titleSelectors) })
	a.field(url, "subtitle", func() { record.Subtitle = firstText(root, subtitleSelectors) })
	a.field(url, "publication_date", func() { record.PublicationDate = ParseDate(firstText(root, publishedSelectors)) })
	a.field(url, "update_date", func() { record.UpdateDate = ParseDate(firstText(root, updatedSelectors)) })
	a.field(url, "image_url", func() { record.ImageURL = a.image(root) })
	a.field(url, "image_description", func() { record.ImageDescription = firstText(root, imageDescriptionSelectors) })
	a.field(url, "image_author", func() { record.ImageAuthor = firstText(root, imageAuthorSelectors) })
	a.field(url, "author", func() { record.Author = firstText(root, authorSelectors) })
	a.field(url, "breadcrumbs", func() { record.Breadcrumbs = a.breadcrumbs(root) })
	a.field(url, "intro_text", func() { record.IntroText = intro(root) })
	a.field(url, "full_text", func() { record.FullText = a.fullText(root) })

	return record, nil
}

// field runs one extraction step so that a failure leaves only that field empty.
func (a *SimpleAnalyzer) field(url, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.WithField("url", url).WithField("field", name).Errorf("fail to extract field: %v", r)
		}
	}()
	fn()
}

// ParseDate reads a "DD.MM.YYYY HH:MM" timestamp in local time. Anything
// else yields nil.
func ParseDate(s string) *time.Time {
	s = normalize(s)
	if s == "" {
		return nil
	}
	if t, err := time.ParseInLocation(dateLayout, s, time.Local); err == nil {
		return &t
	}
	m := reDate.FindString(s)
	if m == "" {
		return nil
	}
	t, err := time.ParseInLocation(dateLayout, normalize(m), time.Local)
	if err != nil {
		return nil
	}
	return &t
}

func normalize(s string) string {
	return strings.TrimSpace(reWhitespace.ReplaceAllString(s, " "))
}

// valueOf is the visible text of an element, or its content attribute for
// meta tags.
func valueOf(sel *goquery.Selection) string {
	if goquery.NodeName(sel) == "meta" {
		v, _ := sel.Attr("content")
		return normalize(v)
	}
	return normalize(sel.Text())
}

func firstText(root *goquery.Selection, selectors []string) string {
	for _, selector := range selectors {
		if v := valueOf(root.Find(selector).First()); v != "" {
			return v
		}
	}
	return ""
}

func (a *SimpleAnalyzer) image(root *goquery.Selection) string {
	for _, selector := range imageSelectors {
		var found string
		root.Find(selector).EachWithBreak(func(_ int, img *goquery.Selection) bool {
			for _, attr := range imageAttrs {
				if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
					found = util.ResolveURL(a.baseURL, v)
					return false
				}
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	return ""
}

func (a *SimpleAnalyzer) breadcrumbs(root *goquery.Selection) []entity.Breadcrumb {
	for _, selector := range breadcrumbSelectors {
		container := root.Find(selector).First()
		if container.Length() == 0 {
			continue
		}
		var crumbs []entity.Breadcrumb
		container.Find("li a").Each(func(_ int, link *goquery.Selection) {
			href, _ := link.Attr("href")
			crumbs = append(crumbs, entity.Breadcrumb{
				Text: normalize(link.Text()),
				URL:  util.ResolveURL(a.baseURL, href),
			})
		})
		if len(crumbs) > 0 {
			return crumbs
		}
	}
	return nil
}

func intro(root *goquery.Selection) string {
	for _, selector := range introSelectors {
		var parts []string
		root.Find(selector).Each(func(_ int, p *goquery.Selection) {
			if t := normalize(p.Text()); t != "" {
				parts = append(parts, t)
			}
		})
		if len(parts) > 0 {
			return strings.Join(parts, "\n")
		}
	}
	return ""
}

func (a *SimpleAnalyzer) fullText(root *goquery.Selection) string {
	for _, selector := range contentSelectors {
		container := root.Find(selector).First()
		if container.Length() == 0 {
			continue
		}
		return strings.Join(contentBlocks(container), "\n\n")
	}
	return strings.Join(a.longBlocks(root), "\n\n")
}

// contentBlocks collects the text blocks of container, skipping excluded
// regions and blocks already covered by an enclosing block.
func contentBlocks(container *goquery.Selection) []string {
	var parts []string
	container.Find(textBlockSelector).Each(func(_ int, block *goquery.Selection) {
		if block.Is(excludedSelector) {
			return
		}
		ancestors := block.ParentsUntilSelection(container)
		if ancestors.Filter(excludedSelector).Length() > 0 || ancestors.Filter(textBlockSelector).Length() > 0 {
			return
		}
		if t := normalize(block.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return parts
}

// longBlocks is the fallback when no content container matches: direct
// children of body whose text is long enough to be body copy.
func (a *SimpleAnalyzer) longBlocks(root *goquery.Selection) []string {
	var parts []string
	root.Find("body").Children().Each(func(_ int, block *goquery.Selection) {
		if block.Is("script, style, noscript, nav, header, footer") {
			return
		}
		t := normalize(block.Text())
		if utf8.RuneCountInString(t) > a.minTextLength {
			parts = append(parts, t)
		}
	})
	return parts
}
