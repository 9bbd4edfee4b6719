package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewyi/newsrelay/src/category"
	"github.com/andrewyi/newsrelay/src/entity"
	"github.com/andrewyi/newsrelay/src/enum"
)

const categories = `{
    "ekonomia": {"name": "Ekonomia", "subcategories": {
        "biznes": {"name": "Biznes", "subcategories": {
            "eksport": {"name": "Eksport", "subcategories": {}},
            "handel": {"name": "Handel", "subcategories": {}}
        }}
    }},
    "kraj": {"name": "Kraj", "subcategories": {
        "spoleczenstwo": {"name": "Społeczeństwo", "subcategories": {
            "zdrowie": {"subcategories": {}}
        }}
    }}
}`

type fakeCrawler struct {
	mu      sync.Mutex
	records map[string][]entity.ArticleRecord
	calls   [][]string
	panicOn string
}

func (f *fakeCrawler) CrawlStream(_ context.Context, path []string) <-chan entity.ArticleRecord {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	records := f.records[path[len(path)-1]]
	f.mu.Unlock()
	if path[len(path)-1] == f.panicOn {
		panic("broken category " + f.panicOn)
	}

	out := make(chan entity.ArticleRecord)
	go func() {
		defer close(out)
		for _, r := range records {
			out <- r
		}
	}()
	return out
}

type fakePublisher struct {
	err      error
	queues   []string
	messages []entity.NewArticleMessage
}

func (f *fakePublisher) Publish(_ context.Context, queue string, message interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.queues = append(f.queues, queue)
	f.messages = append(f.messages, message.(entity.NewArticleMessage))
	return nil
}

type sleepRecorder struct {
	slept []time.Duration
	// cancel is called once the number of sleeps reaches cancelAfter
	cancel      context.CancelFunc
	cancelAfter int
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	if s.cancel != nil && len(s.slept) >= s.cancelAfter {
		s.cancel()
	}
	return ctx.Err()
}

var now = time.Date(2025, 6, 5, 12, 0, 0, 0, time.Local)

func at(t time.Time) *time.Time { return &t }

func newTestPipeline(t *testing.T, crawler *fakeCrawler, publisher *fakePublisher) (*PublishPipeline, *sleepRecorder) {
	t.Helper()
	tree, err := category.Parse([]byte(categories))
	require.NoError(t, err)

	logger := log.New()
	logger.SetOutput(io.Discard)
	p := NewPublishPipeline(tree, crawler, publisher, Options{
		CheckInterval: time.Hour,
		PublishDelay:  2 * time.Second,
		CategoryDelay: 5 * time.Second,
	}, logger)

	rec := &sleepRecorder{}
	p.now = func() time.Time { return now }
	p.sleep = rec.sleep
	return p, rec
}

func TestPublishedToday(t *testing.T) {
	assert.True(t, PublishedToday(at(now.Add(-11*time.Hour)), now))
	assert.True(t, PublishedToday(at(now.Add(11*time.Hour)), now))
	assert.False(t, PublishedToday(at(now.Add(-24*time.Hour)), now))
	assert.False(t, PublishedToday(nil, now))
}

func TestProcessCategoryPathKeepsOnlyToday(t *testing.T) {
	crawler := &fakeCrawler{records: map[string][]entity.ArticleRecord{
		"eksport": {
			{Title: "Dzisiaj", URL: "https://www.rp.pl/a/art1", PublicationDate: at(now.Add(-time.Hour))},
			{Title: "Wczoraj", URL: "https://www.rp.pl/a/art2", PublicationDate: at(now.Add(-24 * time.Hour))},
			{Title: "Bez daty", URL: "https://www.rp.pl/a/art3"},
		},
	}}
	publisher := &fakePublisher{}
	p, rec := newTestPipeline(t, crawler, publisher)

	n, err := p.ProcessCategoryPath(context.Background(), []string{"ekonomia", "biznes", "eksport"})

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, publisher.messages, 1)
	assert.Equal(t, enum.NewArticlesQueue, publisher.queues[0])
	assert.Equal(t, "Dzisiaj", publisher.messages[0].Article.Title)
	assert.Equal(t, "Ekonomia > Biznes > Eksport", publisher.messages[0].CategoryName)
	assert.Empty(t, rec.slept)
}

func TestProcessCategoryPathDropsIncompleteRecordsAndSpacesPublishes(t *testing.T) {
	crawler := &fakeCrawler{records: map[string][]entity.ArticleRecord{
		"zdrowie": {
			{Title: "A", URL: "https://www.rp.pl/a/art1", PublicationDate: at(now)},
			{URL: "https://www.rp.pl/a/art2", PublicationDate: at(now)},
			{Title: "C", PublicationDate: at(now)},
			{Title: "D", URL: "https://www.rp.pl/a/art4", PublicationDate: at(now)},
			{Title: "E", URL: "https://www.rp.pl/a/art5", PublicationDate: at(now)},
		},
	}}
	publisher := &fakePublisher{}
	p, rec := newTestPipeline(t, crawler, publisher)

	n, err := p.ProcessCategoryPath(context.Background(), []string{"kraj", "spoleczenstwo", "zdrowie"})

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, rec.slept)
	// unnamed node falls back to its code
	assert.Equal(t, "Kraj > Społeczeństwo > zdrowie", publisher.messages[0].CategoryName)

	data, err := json.Marshal(publisher.messages[0])
	require.NoError(t, err)
	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Contains(t, wire, "article")
	assert.Contains(t, wire, "category_name")
}

func TestProcessCategoryPathReportsPublishFailures(t *testing.T) {
	crawler := &fakeCrawler{records: map[string][]entity.ArticleRecord{
		"eksport": {{Title: "A", URL: "https://www.rp.pl/a/art1", PublicationDate: at(now)}},
	}}
	p, _ := newTestPipeline(t, crawler, &fakePublisher{err: errors.New("queue down")})

	n, err := p.ProcessCategoryPath(context.Background(), []string{"ekonomia", "biznes", "eksport"})

	assert.Error(t, err)
	assert.Zero(t, n)
}

func TestProcessAllCategoriesVisitsThirdLevel(t *testing.T) {
	crawler := &fakeCrawler{records: map[string][]entity.ArticleRecord{
		"handel": {{Title: "H", URL: "https://www.rp.pl/a/art9", PublicationDate: at(now)}},
	}}
	publisher := &fakePublisher{}
	p, rec := newTestPipeline(t, crawler, publisher)

	require.NoError(t, p.ProcessAllCategories(context.Background()))

	assert.Equal(t, [][]string{
		{"ekonomia", "biznes", "eksport"},
		{"ekonomia", "biznes", "handel"},
		{"kraj", "spoleczenstwo", "zdrowie"},
	}, crawler.calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, rec.slept)
	require.Len(t, publisher.messages, 1)
	assert.Equal(t, "Ekonomia > Biznes > Handel", publisher.messages[0].CategoryName)
}

func TestProcessAllCategoriesWithoutCategories(t *testing.T) {
	logger := log.New()
	logger.SetOutput(io.Discard)
	crawler := &fakeCrawler{}
	p := NewPublishPipeline(category.NewTree(), crawler, &fakePublisher{}, Options{}, logger)

	assert.NoError(t, p.ProcessAllCategories(context.Background()))
	assert.Empty(t, crawler.calls)
}

func TestProcessAllCategoriesContinuesAfterPublishFailure(t *testing.T) {
	crawler := &fakeCrawler{records: map[string][]entity.ArticleRecord{
		"eksport": {{Title: "A", URL: "https://www.rp.pl/a/art1", PublicationDate: at(now)}},
	}}
	p, _ := newTestPipeline(t, crawler, &fakePublisher{err: errors.New("queue down")})

	require.NoError(t, p.ProcessAllCategories(context.Background()))
	assert.Len(t, crawler.calls, 3)
}

func TestProcessAllCategoriesRecoversPanic(t *testing.T) {
	crawler := &fakeCrawler{panicOn: "handel"}
	p, _ := newTestPipeline(t, crawler, &fakePublisher{})

	assert.ErrorIs(t, p.ProcessAllCategories(context.Background()), ErrCycleFailed)
}

func TestRunWaitsIntervalAndStopsOnCancel(t *testing.T) {
	p, rec := newTestPipeline(t, &fakeCrawler{}, &fakePublisher{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// two category pauses, then the interval wait ends the run
	rec.cancel, rec.cancelAfter = cancel, 3

	assert.NoError(t, p.Run(ctx))
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, time.Hour}, rec.slept)
}

func TestRunKeepsIntervalAfterPublishFailure(t *testing.T) {
	crawler := &fakeCrawler{records: map[string][]entity.ArticleRecord{
		"eksport": {{Title: "A", URL: "https://www.rp.pl/a/art1", PublicationDate: at(now)}},
	}}
	p, rec := newTestPipeline(t, crawler, &fakePublisher{err: errors.New("queue down")})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec.cancel, rec.cancelAfter = cancel, 3

	assert.NoError(t, p.Run(ctx))
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, time.Hour}, rec.slept)
}

func TestRunBacksOffAfterFailedCycle(t *testing.T) {
	crawler := &fakeCrawler{panicOn: "eksport"}
	p, rec := newTestPipeline(t, crawler, &fakePublisher{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec.cancel, rec.cancelAfter = cancel, 1

	assert.NoError(t, p.Run(ctx))
	assert.Equal(t, []time.Duration{enum.CycleFailureBackoff}, rec.slept)
}
