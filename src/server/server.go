package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/urfave/cli.v1"

	"github.com/andrewyi/newsrelay/src/analyzer"
	"github.com/andrewyi/newsrelay/src/category"
	"github.com/andrewyi/newsrelay/src/config"
	"github.com/andrewyi/newsrelay/src/controller"
	"github.com/andrewyi/newsrelay/src/core"
	"github.com/andrewyi/newsrelay/src/crawler"
	"github.com/andrewyi/newsrelay/src/dbstorage"
	"github.com/andrewyi/newsrelay/src/downloader"
	"github.com/andrewyi/newsrelay/src/filestorage"
	"github.com/andrewyi/newsrelay/src/mq"
	"github.com/andrewyi/newsrelay/src/util"
)

type Server struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *log.Logger
	config *config.Config

	tree *category.Tree
}

func NewServer() *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Server) initLog() {
	var logger = log.New()
	logger.SetFormatter(&log.TextFormatter{
		DisableColors: true,
		FullTimestamp: true,
	})
	logger.SetOutput(os.Stdout)

	if s.config.Log.Context {
		logger.SetReportCaller(true)
	}

	if logLevel, err := log.ParseLevel(s.config.Log.Level); err != nil {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(logLevel)
	}
	s.logger = logger
}

// prepare loads the config and the category tree shared by every command.
func (s *Server) prepare(ctx *cli.Context) error {
	configPath := ctx.GlobalString("config")
	if _, err := os.Stat(configPath); err != nil {
		configPath = "" // defaults and environment only
	}
	var cfg = &config.Config{}
	if err := util.ReadConfig(configPath, config.Defaults(), cfg); err != nil {
		return fmt.Errorf("fail to load config, err: %w", err)
	}
	s.config = cfg

	s.initLog()
	if configPath == "" {
		s.logger.WithField("path", ctx.GlobalString("config")).Warn("config file not found, using defaults")
	}

	s.tree = category.Load(cfg.Categories.Path, s.logger)
	return nil
}

func (s *Server) newCrawler(sink filestorage.FileStorage) *crawler.SimpleCrawler {
	cfg := s.config
	opts := downloader.Options{
		Timeout:     cfg.Downloader.Timeout,
		Delay:       cfg.Downloader.Delay,
		BackoffBase: cfg.Downloader.BackoffBase,
		Retry:       cfg.Downloader.Retry,
		UserAgent:   cfg.Site.UserAgent,
		RateLimit:   cfg.Downloader.RateLimit,
	}
	if cfg.Downloader.RespectRobots {
		opts.Robots = downloader.NewRobotsGuard(&http.Client{Timeout: cfg.Downloader.Timeout}, cfg.Site.UserAgent)
	}
	d := downloader.NewSimpleDownloader(opts, s.logger)
	a := analyzer.NewSimpleAnalyzer(cfg.Site.BaseURL, cfg.Crawler.MinTextLength, s.logger)
	return crawler.NewSimpleCrawler(cfg.Site.BaseURL, cfg.Crawler.Concurrency, d, a, sink, s.logger)
}

func (s *Server) connectQueue() (*mq.SimpleQueue, error) {
	cfg := s.config.Queue
	return mq.Connect(s.ctx, mq.Options{
		Addr:           cfg.Addr,
		Password:       cfg.Password,
		DB:             cfg.DB,
		Prefix:         cfg.Prefix,
		ConnectRetries: cfg.ConnectRetries,
		ConnectDelay:   cfg.ConnectDelay,
		BlockTimeout:   cfg.BlockTimeout,
		ClaimMinIdle:   cfg.ClaimMinIdle,
	}, s.logger)
}

// Crawl runs one batch crawl of the category given as path segments or,
// with --code, by its code alone.
func (s *Server) Crawl(ctx *cli.Context) error {
	if err := s.prepare(ctx); err != nil {
		return err
	}
	go s.wait()

	path := []string(ctx.Args())
	if code := ctx.String("code"); code != "" {
		found, ok := s.tree.FindPathToCode(code, 0)
		if !ok {
			return fmt.Errorf("unknown category code %q", code)
		}
		path = found
	}
	if len(path) == 0 {
		return fmt.Errorf("category path or --code is required")
	}
	if len(s.tree.TopLevel()) > 0 && !s.tree.IsValidTopLevel(path[0]) {
		return fmt.Errorf("unknown top level category %q", path[0])
	}

	var sink filestorage.FileStorage
	if !ctx.Bool("no-save") {
		sink = filestorage.NewSimpleFileStorage(s.config.Storage.Location)
	}
	limit := ctx.Int("limit")
	if limit <= 0 {
		limit = s.config.Crawler.Limit
	}

	result := s.newCrawler(sink).CrawlBatch(s.ctx, path, limit)
	if result.Failed() {
		return fmt.Errorf("crawl %s: %s", result.CategoryURL, result.Error)
	}

	fmt.Printf("Category: %s\n", s.tree.DisplayName(path))
	fmt.Printf("Category URL: %s\n", result.CategoryURL)
	fmt.Printf("Articles found: %d\n\n", result.ArticlesFound)
	for _, a := range result.Articles {
		fmt.Printf("Title: %s\n", a.Title)
		if a.Subtitle != "" {
			fmt.Printf("Subtitle: %s\n", a.Subtitle)
		}
		fmt.Printf("URL: %s\n\n", a.URL)
	}
	return nil
}

// Watch runs the publish pipeline until interrupted.
func (s *Server) Watch(ctx *cli.Context) error {
	if err := s.prepare(ctx); err != nil {
		return err
	}
	go s.wait()

	queue, err := s.connectQueue()
	if err != nil {
		s.logger.WithError(err).Fatal("fail to connect to queue")
	}
	defer queue.Close()

	pipeline := core.NewPublishPipeline(s.tree, s.newCrawler(nil), queue, core.Options{
		CheckInterval: s.config.Pipeline.CheckInterval,
		PublishDelay:  s.config.Pipeline.PublishDelay,
		CategoryDelay: s.config.Pipeline.CategoryDelay,
	}, s.logger)
	return pipeline.Run(s.ctx)
}

// Relay stores new articles and forwards them for delivery until interrupted.
func (s *Server) Relay(ctx *cli.Context) error {
	if err := s.prepare(ctx); err != nil {
		return err
	}
	go s.wait()

	var (
		store *dbstorage.SimpleDBStorage
		queue *mq.SimpleQueue
	)
	var g errgroup.Group
	g.Go(func() (err error) {
		store, err = dbstorage.NewSimpleDBStorage(s.config.Database.Driver, s.config.Database.URL)
		if err != nil {
			return err
		}
		if err = store.Ping(); err != nil {
			return err
		}
		return store.Sync()
	})
	g.Go(func() (err error) {
		queue, err = s.connectQueue()
		return err
	})
	if err := g.Wait(); err != nil {
		// nothing to relay without both ends
		s.logger.WithError(err).Fatal("fail to start relay")
	}
	defer store.Close()
	defer queue.Close()

	c := controller.NewSimpleController(store, queue, controller.Options{
		ChannelID:    s.config.Relay.ChannelID,
		Interval:     s.config.Relay.Interval,
		BatchSize:    s.config.Relay.BatchSize,
		PublishDelay: s.config.Relay.PublishDelay,
	}, s.logger)
	return c.Run(s.ctx)
}

// ListCategories prints the category tree, one indented line per category.
func (s *Server) ListCategories(ctx *cli.Context) error {
	if err := s.prepare(ctx); err != nil {
		return err
	}
	for _, top := range s.tree.TopLevel() {
		for _, path := range s.tree.AllLeafPaths(top) {
			name, _ := s.tree.Name(path...)
			fmt.Printf("%s%s  %s\n", strings.Repeat("    ", len(path)-1), path[len(path)-1], name)
		}
	}
	return nil
}

// AddCategory adds <code> <name> under --parent and saves the category file.
func (s *Server) AddCategory(ctx *cli.Context) error {
	if err := s.prepare(ctx); err != nil {
		return err
	}
	if ctx.NArg() < 2 {
		return fmt.Errorf("usage: categories add [--parent code] <code> <name>")
	}
	code, name := ctx.Args().Get(0), strings.Join(ctx.Args()[1:], " ")
	parent := ctx.String("parent")

	if !s.tree.AddUnder(parent, code, name) {
		return fmt.Errorf("fail to add category %q under %q", code, parent)
	}
	if err := s.tree.Save(s.config.Categories.Path); err != nil {
		return fmt.Errorf("fail to save categories: %w", err)
	}
	s.logger.WithField("code", code).WithField("parent", parent).Info("category added")
	return nil
}

func (s *Server) wait() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-c:
		s.logger.Warn("interrupt signal, server gonna stop")
		s.cancel()
	case <-s.ctx.Done():
	}
}

func (s *Server) Stop() {
	s.cancel()
}
