// Package crawler implements the bounded, robots-aware BFS frontier.
// URLs discovered via sitemap and in-page links pass one shared filter,
// are deduplicated for the crawl's lifetime, and feed back through the
// scrape pipeline with a bounded worker pool.
package crawler

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/use-agent/harvest/cleaner"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/pipeline"
	"github.com/use-agent/harvest/robots"
	"github.com/use-agent/harvest/sitemap"
	"github.com/use-agent/harvest/webhook"
)

// Crawler owns the collaborators shared by all crawls.
type Crawler struct {
	orchestrator *pipeline.Orchestrator
	robotsEval   *robots.Evaluator
	sitemaps     *sitemap.Processor
	blocklist    *Blocklist

	concurrency  int
	checkRobots  bool
	robotsAgents []string
}

// New creates a Crawler.
func New(orc *pipeline.Orchestrator, re *robots.Evaluator, sp *sitemap.Processor, bl *Blocklist, cfg config.CrawlConfig) *Crawler {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Crawler{
		orchestrator: orc,
		robotsEval:   re,
		sitemaps:     sp,
		blocklist:    bl,
		concurrency:  concurrency,
		checkRobots:  cfg.CheckRobotsOnScrape,
		robotsAgents: cfg.UserAgents,
	}
}

type frontierItem struct {
	url   string
	depth int
}

// crawlState is the per-crawl frontier: the FIFO queue plus everything
// ever enqueued.
type crawlState struct {
	mu         sync.Mutex
	cond       *sync.Cond
	queue      []frontierItem
	discovered map[string]struct{}
	processed  int
	inFlight   int

	pages  []models.Document
	errors []models.CrawlPageError
}

// Crawl runs a complete bounded crawl and returns pages, per-URL
// errors, and stats. Only a denied or invalid seed fails the whole
// crawl.
func (c *Crawler) Crawl(ctx context.Context, rawURL string, opts models.CrawlOptions) (*models.CrawlResponse, error) {
	initial, err := url.Parse(rawURL)
	if err != nil || initial.Host == "" {
		return nil, &models.FieldError{Field: "url", Message: "must be a valid absolute URL"}
	}
	if initial.Scheme == "" {
		initial.Scheme = "http"
	}

	if c.blocklist != nil && c.blocklist.IsBlocked(initial.Hostname()) {
		return nil, models.NewHarvestError(models.ErrCodeCrawlDenied,
			"domain is blocklisted", nil)
	}

	jobID := uuid.New().String()
	logger := slog.Default().With("crawlId", jobID, "url", initial.String())

	filter := NewFilter(initial, opts, c.blocklist)
	state := &crawlState{discovered: make(map[string]struct{})}
	state.cond = sync.NewCond(&state.mu)

	// Seed the frontier.
	state.discovered[initial.String()] = struct{}{}
	state.queue = append(state.queue, frontierItem{url: initial.String(), depth: 0})

	// Sitemap discovery shares the in-page link filter.
	sitemapURL := (&url.URL{Scheme: initial.Scheme, Host: initial.Host, Path: "/sitemap.xml"}).String()
	if err := c.sitemaps.Walk(ctx, sitemapURL, func(urls []string) {
		state.mu.Lock()
		defer state.mu.Unlock()
		for _, u := range urls {
			c.enqueueLocked(ctx, state, filter, opts.Limit, u, 1)
		}
	}); err != nil {
		logger.Warn("sitemap discovery failed", "error", err)
	}

	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup

	for {
		state.mu.Lock()
		for len(state.queue) == 0 && state.inFlight > 0 && ctx.Err() == nil {
			state.cond.Wait()
		}
		if len(state.queue) == 0 || state.processed >= opts.Limit || ctx.Err() != nil {
			state.mu.Unlock()
			break
		}
		item := state.queue[0]
		state.queue = state.queue[1:]
		state.processed++
		state.inFlight++
		state.mu.Unlock()

		sem <- struct{}{}
		wg.Add(1)
		go func(it frontierItem) {
			defer wg.Done()
			defer func() { <-sem }()
			c.processOne(ctx, state, filter, opts, it)

			state.mu.Lock()
			state.inFlight--
			state.mu.Unlock()
			state.cond.Broadcast()
		}(item)
	}
	wg.Wait()

	state.mu.Lock()
	defer state.mu.Unlock()

	stats := models.CrawlStats{
		Discovered: len(state.discovered),
		Processed:  state.processed,
		Succeeded:  len(state.pages),
		Failed:     len(state.errors),
	}
	resp := &models.CrawlResponse{
		Success: true,
		Pages:   state.pages,
		Errors:  state.errors,
		Stats:   stats,
	}
	if resp.Pages == nil {
		resp.Pages = []models.Document{}
	}
	if resp.Errors == nil {
		resp.Errors = []models.CrawlPageError{}
	}

	logger.Info("crawl finished",
		"discovered", stats.Discovered,
		"processed", stats.Processed,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
	)

	if opts.WebhookURL != "" {
		webhook.DeliverAsync(opts.WebhookURL, opts.WebhookSecret, &webhook.Event{
			Type:  "crawl.completed",
			JobID: jobID,
			Data:  stats,
		})
	}
	return resp, nil
}

// processOne scrapes a single frontier item and feeds extracted links
// back through the filter.
func (c *Crawler) processOne(ctx context.Context, state *crawlState, filter *Filter, opts models.CrawlOptions, it frontierItem) {
	scrapeOpts := opts.ScrapeOptions
	scrapeOpts.Headers = mergeHeaders(opts.Headers, scrapeOpts.Headers)

	// rawHtml is always acquired so link extraction is possible; it is
	// stripped again below unless the caller asked for it.
	wantsRaw := scrapeOpts.WantsFormat(models.FormatRawHTML)
	if !wantsRaw {
		scrapeOpts.Formats = append(append([]models.Format{}, scrapeOpts.Formats...), models.FormatRawHTML)
	}

	doc, err := c.orchestrator.Scrape(ctx, it.url, scrapeOpts)
	if err != nil {
		state.mu.Lock()
		state.errors = append(state.errors, models.CrawlPageError{
			URL:     it.url,
			Code:    models.ErrorCode(err),
			Message: err.Error(),
		})
		state.mu.Unlock()
		return
	}

	if it.depth < opts.MaxDepth && looksLikeHTML(doc) {
		links := cleaner.ExtractLinks(doc.RawHTML, doc.Metadata.URL)
		state.mu.Lock()
		for _, link := range links {
			c.enqueueLocked(ctx, state, filter, opts.Limit, link, it.depth+1)
		}
		state.mu.Unlock()
	}

	if !wantsRaw {
		doc.RawHTML = ""
	}

	state.mu.Lock()
	state.pages = append(state.pages, *doc)
	state.mu.Unlock()
}

// enqueueLocked admits a URL to the frontier. Caller holds state.mu.
// The same URL never enters twice, and the queue never grows past the
// remaining limit.
func (c *Crawler) enqueueLocked(ctx context.Context, state *crawlState, filter *Filter, limit int, rawURL string, depth int) {
	if state.processed+len(state.queue) >= limit {
		return
	}
	if _, seen := state.discovered[rawURL]; seen {
		return
	}
	if !filter.Allow(rawURL) {
		return
	}
	if c.checkRobots && c.robotsEval != nil {
		if allowed, _ := c.robotsEval.Allowed(ctx, rawURL, c.robotsAgents); !allowed {
			return
		}
	}
	state.discovered[rawURL] = struct{}{}
	state.queue = append(state.queue, frontierItem{url: rawURL, depth: depth})
}

func looksLikeHTML(doc *models.Document) bool {
	ct := strings.ToLower(doc.Metadata.ContentType)
	if ct == "" {
		return doc.RawHTML != ""
	}
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

func mergeHeaders(base, override map[string]string) map[string]string {
	if len(base) == 0 {
		return override
	}
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
