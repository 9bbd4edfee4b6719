// Tables of the relay store. 1:N data (breadcrumbs) is kept JSON encoded in a
// text column.
package schema

import (
	"encoding/json"
	"time"

	"github.com/andrewyi/newsrelay/src/entity"
)

type Article struct {
	ID               int64      `xorm:"bigint pk autoincr 'id'"`
	Title            string     `xorm:"varchar(500) notnull 'title'"`
	Subtitle         string     `xorm:"text 'subtitle'"`
	URL              string     `xorm:"varchar(2048) notnull unique(uk_article_url) 'url'"`
	Content          string     `xorm:"text 'content'"`
	IntroText        string     `xorm:"text 'intro_text'"`
	CategoryName     string     `xorm:"varchar(200) notnull 'category_name'"`
	PublicationDate  time.Time  `xorm:"datetime notnull index 'publication_date'"`
	UpdateDate       *time.Time `xorm:"datetime null 'update_date'"`
	Processed        bool       `xorm:"bool notnull index 'processed'"`
	ImageURL         string     `xorm:"varchar(2048) 'image_url'"`
	ImageDescription string     `xorm:"text 'image_description'"`
	ImageAuthor      string     `xorm:"varchar(200) 'image_author'"`
	Author           string     `xorm:"varchar(200) 'author'"`
	Breadcrumbs      string     `xorm:"text 'breadcrumbs'"`
	CreatedAt        time.Time  `xorm:"created notnull 'created_at'"`
}

func (a *Article) TableName() string {
	return "articles"
}

// NewArticle copies record into a row. The caller has already checked that
// the record has a publication date.
func NewArticle(record *entity.ArticleRecord, categoryName string) (*Article, error) {
	crumbs := "[]"
	if len(record.Breadcrumbs) > 0 {
		data, err := json.Marshal(record.Breadcrumbs)
		if err != nil {
			return nil, err
		}
		crumbs = string(data)
	}
	a := &Article{
		Title:            record.Title,
		Subtitle:         record.Subtitle,
		URL:              record.URL,
		Content:          record.FullText,
		IntroText:        record.IntroText,
		CategoryName:     categoryName,
		ImageURL:         record.ImageURL,
		ImageDescription: record.ImageDescription,
		ImageAuthor:      record.ImageAuthor,
		Author:           record.Author,
		Breadcrumbs:      crumbs,
	}
	if record.PublicationDate != nil {
		a.PublicationDate = *record.PublicationDate
	}
	if record.UpdateDate != nil {
		updated := *record.UpdateDate
		a.UpdateDate = &updated
	}
	return a, nil
}

// ToMap is the flat JSON shape handed to the delivery side: ISO-8601 dates,
// null for empty optional strings.
func (a *Article) ToMap() map[string]interface{} {
	var crumbs []entity.Breadcrumb
	if err := json.Unmarshal([]byte(a.Breadcrumbs), &crumbs); err != nil || crumbs == nil {
		crumbs = []entity.Breadcrumb{}
	}
	return map[string]interface{}{
		"id":                a.ID,
		"title":             a.Title,
		"subtitle":          nullable(a.Subtitle),
		"url":               a.URL,
		"content":           nullable(a.Content),
		"intro_text":        nullable(a.IntroText),
		"category_name":     a.CategoryName,
		"publication_date":  entity.FormatISOTime(a.PublicationDate),
		"update_date":       nullableTime(a.UpdateDate),
		"processed":         a.Processed,
		"created_at":        entity.FormatISOTime(a.CreatedAt),
		"image_url":         nullable(a.ImageURL),
		"image_description": nullable(a.ImageDescription),
		"image_author":      nullable(a.ImageAuthor),
		"author":            nullable(a.Author),
		"breadcrumbs":       crumbs,
	}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return entity.FormatISOTime(*t)
}
