package entity

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Breadcrumb is one link of the article's navigation trail.
type Breadcrumb struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// ArticleRecord is the structured result of extracting one article page.
// Empty strings and nil dates mean the field could not be extracted.
type ArticleRecord struct {
	Title            string
	Subtitle         string
	URL              string
	PublicationDate  *time.Time
	UpdateDate       *time.Time
	ImageURL         string
	ImageDescription string
	ImageAuthor      string
	Author           string
	Breadcrumbs      []Breadcrumb
	IntroText        string
	FullText         string
}

// Valid reports whether the record carries both of its required fields.
func (a *ArticleRecord) Valid() bool {
	return strings.TrimSpace(a.Title) != "" && strings.TrimSpace(a.URL) != ""
}

type articleJSON struct {
	Title            *string      `json:"title"`
	Subtitle         *string      `json:"subtitle"`
	URL              *string      `json:"url"`
	PublicationDate  *string      `json:"publication_date"`
	UpdateDate       *string      `json:"update_date"`
	ImageURL         *string      `json:"image_url"`
	ImageDescription *string      `json:"image_description"`
	ImageAuthor      *string      `json:"image_author"`
	Author           *string      `json:"author"`
	Breadcrumbs      []Breadcrumb `json:"breadcrumbs"`
	IntroText        *string      `json:"intro_text"`
	FullText         *string      `json:"full_text"`
}

func (a ArticleRecord) MarshalJSON() ([]byte, error) {
	crumbs := a.Breadcrumbs
	if crumbs == nil {
		crumbs = []Breadcrumb{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(articleJSON{
		Title:            nullable(a.Title),
		Subtitle:         nullable(a.Subtitle),
		URL:              nullable(a.URL),
		PublicationDate:  nullableTime(a.PublicationDate),
		UpdateDate:       nullableTime(a.UpdateDate),
		ImageURL:         nullable(a.ImageURL),
		ImageDescription: nullable(a.ImageDescription),
		ImageAuthor:      nullable(a.ImageAuthor),
		Author:           nullable(a.Author),
		Breadcrumbs:      crumbs,
		IntroText:        nullable(a.IntroText),
		FullText:         nullable(a.FullText),
	})
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalJSON accepts the map produced by MarshalJSON. Dates that cannot be
// parsed are left nil instead of failing the whole record.
func (a *ArticleRecord) UnmarshalJSON(data []byte) error {
	var raw articleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = ArticleRecord{
		Title:            deref(raw.Title),
		Subtitle:         deref(raw.Subtitle),
		URL:              deref(raw.URL),
		ImageURL:         deref(raw.ImageURL),
		ImageDescription: deref(raw.ImageDescription),
		ImageAuthor:      deref(raw.ImageAuthor),
		Author:           deref(raw.Author),
		Breadcrumbs:      raw.Breadcrumbs,
		IntroText:        deref(raw.IntroText),
		FullText:         deref(raw.FullText),
	}
	if t, err := ParseISOTime(deref(raw.PublicationDate)); err == nil {
		a.PublicationDate = &t
	}
	if t, err := ParseISOTime(deref(raw.UpdateDate)); err == nil {
		a.UpdateDate = &t
	}
	return nil
}

// CrawlCandidate is a link found on a category page before it is validated.
type CrawlCandidate struct {
	URL string
}

// CrawlResult is the outcome of one batch crawl of a category page.
// A non-empty Error means the listing page could not be retrieved.
type CrawlResult struct {
	CategoryURL   string          `json:"category_url"`
	ArticlesFound int             `json:"articles_found"`
	CategoryPath  string          `json:"category_path"`
	ParsedAt      time.Time       `json:"parsed_at"`
	Articles      []ArticleRecord `json:"articles"`
	Error         string          `json:"error,omitempty"`

	Path []string `json:"-"`
}

func (r *CrawlResult) Failed() bool {
	return r.Error != ""
}

// NewArticleMessage is published by the crawl pipeline for every fresh article.
type NewArticleMessage struct {
	Article      ArticleRecord `json:"article"`
	CategoryName string        `json:"category_name"`
}

// DeliveryMessage is published by the relay for the delivery bot.
type DeliveryMessage struct {
	ChannelID    int64                  `json:"channel_id"`
	Article      map[string]interface{} `json:"article"`
	CategoryName string                 `json:"category_name"`
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := FormatISOTime(*t)
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
