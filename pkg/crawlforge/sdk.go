// Package crawlforge provides a public SDK for embedding the orchestrator
// as a library, adapted from pkg/webstalk/sdk.go's OnHTML/Follow/Start/Wait
// surface but rebuilt around internal/orchestrator.Orchestrator,
// internal/router.Router, and internal/httpengine/internal/browserengine
// instead of the teacher's single concrete Engine type.
//
// Example usage:
//
//	crawler := crawlforge.NewCrawler(
//	    crawlforge.WithConcurrency(5),
//	    crawlforge.WithOutput("./output/items.jsonl"),
//	)
//
//	crawler.OnHTML("h1", func(e *crawlforge.Element) {
//	    e.Set("title", e.Text())
//	})
//
//	crawler.OnHTML("a[href]", func(e *crawlforge.Element) {
//	    e.Follow(e.Attr("href"), "")
//	})
//
//	crawler.Run(context.Background(), "https://example.com")
package crawlforge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/archenemy/crawlforge/internal/browserengine"
	"github.com/archenemy/crawlforge/internal/enginepool"
	"github.com/archenemy/crawlforge/internal/fetchengine"
	"github.com/archenemy/crawlforge/internal/httpengine"
	"github.com/archenemy/crawlforge/internal/itemtransform"
	"github.com/archenemy/crawlforge/internal/orchestrator"
	"github.com/archenemy/crawlforge/internal/router"
	"github.com/archenemy/crawlforge/internal/session"
	"github.com/archenemy/crawlforge/internal/sinks"
)

const defaultLabel = "default"

// HTMLCallback is invoked for each element matching a registered selector.
type HTMLCallback func(e *Element)

// Element represents one matched DOM element passed to an HTMLCallback.
type Element struct {
	Selection *goquery.Selection
	fields    map[string]any
	ctx       router.Context
}

// Text returns the element's text content.
func (e *Element) Text() string { return e.Selection.Text() }

// Attr returns the named attribute's value, or "" if absent.
func (e *Element) Attr(name string) string {
	v, _ := e.Selection.Attr(name)
	return v
}

// HTML returns the element's inner HTML.
func (e *Element) HTML() string {
	h, _ := e.Selection.Html()
	return h
}

// Set assigns a field on the item being built for the current page.
func (e *Element) Set(key string, value any) { e.fields[key] = value }

// URL returns the URL of the page this element was found on.
func (e *Element) URL() string { return e.ctx.URL() }

// Follow enqueues rawURL to be crawled under label (defaultLabel if empty).
func (e *Element) Follow(rawURL, label string) {
	if label == "" {
		label = defaultLabel
	}
	if _, err := e.ctx.Enqueue(rawURL, label, nil); err != nil {
		e.ctx.Log().Warn("follow enqueue failed", "url", rawURL, "error", err)
	}
}

// Option configures a Crawler.
type Option func(*options)

type options struct {
	concurrency      int
	requestsPerMin   int
	maxRetries       int
	delay            time.Duration
	outputPath       string
	statePath        string
	queuePath        string
	errorSnapshotDir string
	userAgents       []string
	proxyURLs        []string
	useBrowser       bool
	resume           bool
	verbose          bool
	sinks            []sinks.Sink
	transform        *itemtransform.Chain
}

func defaultOptions() *options {
	return &options{
		concurrency:      5,
		requestsPerMin:   120,
		maxRetries:       3,
		outputPath:       "./output/items.jsonl",
		statePath:        "./output/.state.json",
		queuePath:        "./output/.queue.jsonl",
		errorSnapshotDir: "./output/.errors",
		userAgents:       []string{"crawlforge/1.0"},
	}
}

// WithConcurrency sets the number of concurrent workers.
func WithConcurrency(n int) Option { return func(o *options) { o.concurrency = n } }

// WithRequestsPerMinute caps the crawl-wide request rate.
func WithRequestsPerMinute(n int) Option { return func(o *options) { o.requestsPerMin = n } }

// WithMaxRetries sets the retry budget per request.
func WithMaxRetries(n int) Option { return func(o *options) { o.maxRetries = n } }

// WithOutput sets the JSONL output path for pushed items.
func WithOutput(path string) Option { return func(o *options) { o.outputPath = path } }

// WithStatePaths overrides the crawl-state and queue checkpoint paths.
func WithStatePaths(statePath, queuePath string) Option {
	return func(o *options) { o.statePath, o.queuePath = statePath, queuePath }
}

// WithUserAgent sets a single custom User-Agent for the HTTP engine.
func WithUserAgent(ua string) Option { return func(o *options) { o.userAgents = []string{ua} } }

// WithProxy enables proxy rotation with the given proxy URLs.
func WithProxy(urls ...string) Option { return func(o *options) { o.proxyURLs = urls } }

// WithBrowser switches the engine from the default HTTP engine to the
// headless-browser reference engine.
func WithBrowser() Option { return func(o *options) { o.useBrowser = true } }

// WithResume resumes a previously-checkpointed crawl at the same paths.
func WithResume() Option { return func(o *options) { o.resume = true } }

// WithVerbose enables debug-level logging.
func WithVerbose() Option { return func(o *options) { o.verbose = true } }

// WithSinks fans every pushed item out to the given extra destinations.
func WithSinks(backends ...sinks.Sink) Option { return func(o *options) { o.sinks = backends } }

// WithTransform runs every pushed item's fields through chain before it is
// written anywhere.
func WithTransform(chain *itemtransform.Chain) Option {
	return func(o *options) { o.transform = chain }
}

// Crawler is the high-level embeddable API over orchestrator.Orchestrator.
type Crawler struct {
	opts      *options
	logger    *slog.Logger
	rt        *router.Router
	callbacks map[string]HTMLCallback
	orch      *orchestrator.Orchestrator
}

// NewCrawler constructs a Crawler with the given options.
func NewCrawler(opts ...Option) *Crawler {
	o := defaultOptions()
	for _, fn := range opts {
		fn(o)
	}

	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	return &Crawler{
		opts:      o,
		logger:    logger,
		rt:        router.New(),
		callbacks: make(map[string]HTMLCallback),
	}
}

// OnHTML registers a callback run against every match of selector within
// pages routed to the default handler: any label, defaultLabel included,
// with no handler registered through AddHandler.
func (c *Crawler) OnHTML(selector string, cb HTMLCallback) {
	c.callbacks[selector] = cb
}

// AddHandler registers a router.Handler for a specific label, for callers
// who need full control beyond the OnHTML convenience surface.
func (c *Crawler) AddHandler(label string, fn router.Handler) {
	c.rt.AddHandler(label, fn)
}

// Status reports the current queue depth, session pool health, and metrics
// snapshot of a running or completed crawl.
func (c *Crawler) Status() orchestrator.Status {
	if c.orch == nil {
		return orchestrator.Status{}
	}
	return c.orch.Status()
}

// Run builds the default HTML-callback handler (if any OnHTML rules were
// registered and no explicit default handler was set), constructs the
// Orchestrator, and blocks until the crawl of the given seed URLs completes.
func (c *Crawler) Run(ctx context.Context, seedURLs ...string) error {
	if len(c.callbacks) > 0 {
		c.rt.AddDefaultHandler(c.defaultHandler)
	}

	factory, err := c.engineFactory()
	if err != nil {
		return fmt.Errorf("crawlforge: build engine factory: %w", err)
	}

	c.orch = orchestrator.New(orchestrator.Config{
		MaxConcurrency:       c.opts.concurrency,
		MaxRequestsPerMinute: c.opts.requestsPerMin,
		MaxRetries:           c.opts.maxRetries,
		OutputPath:           c.opts.outputPath,
		StatePath:            c.opts.statePath,
		QueuePath:            c.opts.queuePath,
		ErrorSnapshotDir:     c.opts.errorSnapshotDir,
		MaxErrorSnapshots:    1000,
		SourceURL:            firstOrEmpty(seedURLs),
		Resume:               c.opts.resume,
		EngineFactory:        factory,
		Session:              session.Config{MaxPoolSize: c.opts.concurrency, DegradedAfterErrors: 3},
		Logger:               c.logger,
		Sinks:                c.opts.sinks,
		Transform:            c.opts.transform,
	}, c.rt)

	seeds := make([]orchestrator.Seed, 0, len(seedURLs))
	for _, u := range seedURLs {
		seeds = append(seeds, orchestrator.Seed{URL: u, Label: defaultLabel})
	}
	return c.orch.Run(ctx, seeds)
}

func (c *Crawler) engineFactory() (enginepool.Factory, error) {
	logger := c.logger
	if c.opts.useBrowser {
		cfg := browserengine.Config{}
		if len(c.opts.proxyURLs) > 0 {
			cfg.ProxyURL = c.opts.proxyURLs[0]
		}
		return func() (fetchengine.Engine, error) {
			return browserengine.New(cfg, logger)
		}, nil
	}
	cfg := httpengine.Config{UserAgents: c.opts.userAgents, ProxyURLs: c.opts.proxyURLs}
	return func() (fetchengine.Engine, error) {
		return httpengine.New(cfg, logger)
	}, nil
}

func (c *Crawler) defaultHandler(ctx router.Context) error {
	resp, err := ctx.FetchPage(fetchengine.FetchOptions{})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("crawlforge: fetch failed: %s", resp.Error)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.Content))
	if err != nil {
		return fmt.Errorf("crawlforge: parse response: %w", err)
	}

	for selector, cb := range c.callbacks {
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			el := &Element{Selection: sel, fields: make(map[string]any), ctx: ctx}
			cb(el)
			if len(el.fields) > 0 {
				if err := ctx.PushData(ctx.UniqueKey(), el.fields); err != nil {
					ctx.Log().Error("pushData failed", "error", err)
				}
			}
		})
	}
	return nil
}

func firstOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}
