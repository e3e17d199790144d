// Package pipeline implements the per-URL engine-fallback loop: feature
// detection, ordered engine attempts, gatekeeper evaluation, retries on
// feature escalation, and finalization into a document.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"

	"github.com/use-agent/harvest/cache"
	"github.com/use-agent/harvest/cleaner"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/dispatch"
	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/gatekeeper"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/robots"
)

// maxEscalationRounds bounds feature-escalation restarts of the engine
// list. The flag set only grows, so three rounds always suffice.
const maxEscalationRounds = 3

// Orchestrator drives a scrape end to end. One instance serves all
// requests; it owns the shared engines and caches.
type Orchestrator struct {
	dispatcher *dispatch.Dispatcher
	validators *cache.ValidatorCache
	gate       *gatekeeper.Gatekeeper
	robots     *robots.Evaluator
	md         *converter.Converter

	fetchEngine    *engine.FetchEngine
	browserEngine  *engine.BrowserEngine
	pdfEngine      *engine.PDFEngine
	documentEngine *engine.DocumentEngine

	defaultTimeout time.Duration
	maxTimeout     time.Duration
	checkRobots    bool
	robotsAgents   []string
}

// Options wires an Orchestrator.
type Options struct {
	Dispatcher *dispatch.Dispatcher
	Validators *cache.ValidatorCache
	Gatekeeper *gatekeeper.Gatekeeper
	Robots     *robots.Evaluator

	Browser config.BrowserConfig
	Scrape  config.ScrapeConfig
	Crawl   config.CrawlConfig
}

// New builds an Orchestrator and its engines.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		dispatcher:     opts.Dispatcher,
		validators:     opts.Validators,
		gate:           opts.Gatekeeper,
		robots:         opts.Robots,
		md:             cleaner.NewMarkdownConverter(),
		fetchEngine:    engine.NewFetchEngine(opts.Dispatcher, opts.Validators),
		pdfEngine:      engine.NewPDFEngine(opts.Dispatcher),
		documentEngine: engine.NewDocumentEngine(opts.Dispatcher),
		defaultTimeout: opts.Scrape.DefaultTimeout,
		maxTimeout:     opts.Scrape.MaxTimeout,
		checkRobots:    opts.Crawl.CheckRobotsOnScrape,
		robotsAgents:   opts.Crawl.UserAgents,
	}
	if opts.Browser.MicroserviceURL != "" {
		o.browserEngine = engine.NewBrowserEngine(opts.Browser.MicroserviceURL,
			opts.Browser.MaxConcurrent, opts.Browser.RetryAttempts)
	}
	return o
}

// Scrape acquires the URL and builds the requested document. The
// returned error always carries a stable code.
func (o *Orchestrator) Scrape(ctx context.Context, rawURL string, opts models.ScrapeOptions) (*models.Document, error) {
	meta, err := NewMeta(ctx, rawURL, opts, o.defaultTimeout, o.maxTimeout)
	if err != nil {
		return nil, err
	}
	defer meta.Close()

	if o.checkRobots && o.robots != nil {
		allowed, err := o.robots.Allowed(meta.Abort.Context(), meta.URL, o.robotsAgents)
		if err == nil && !allowed {
			return nil, models.NewHarvestError(models.ErrCodeCrawlDenied,
				"url disallowed by robots.txt", nil)
		}
	}

	return o.run(meta)
}

// run executes up to maxEscalationRounds passes over the engine list.
func (o *Orchestrator) run(meta *Meta) (*models.Document, error) {
	var lastErr error

	for round := 0; round < maxEscalationRounds; round++ {
		engines := o.engineList(meta.Features)
		escalated := false

		for _, eng := range engines {
			if cause := meta.Abort.Cause(); cause != nil {
				return nil, cause
			}

			meta.Logger.Debug("engine attempt", "engine", eng.Name(), "round", round)
			result, err := eng.Run(meta.Abort.Context(), meta.engineRequest())

			if err != nil {
				var esc *engine.EscalateError
				if errors.As(err, &esc) {
					for _, f := range esc.Features {
						meta.Features.Add(f)
					}
					meta.Logger.Info("feature escalation", "features", esc.Features)
					escalated = true
					break
				}
				if cause := meta.Abort.Cause(); cause != nil {
					return nil, cause
				}
				if models.IsCancellation(err) {
					return nil, err
				}
				meta.Logger.Warn("engine failed", "engine", eng.Name(), "error", err)
				lastErr = err
				continue
			}

			doc, ok := o.accept(meta, eng.Name(), result)
			if !ok {
				lastErr = models.NewHarvestError(models.ErrCodeEngineUnsuccessful,
					"engine returned no usable content: "+eng.Name(), nil)
				meta.Logger.Warn("engine unsuccessful", "engine", eng.Name())
				continue
			}
			return doc, nil
		}

		if !escalated {
			break
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, models.NewHarvestError(models.ErrCodeNoEnginesLeft, "all engines exhausted", nil)
}

// engineList builds the ordered attempt list from the feature flags.
// Construction is deterministic: specialty engine first, then browser
// when configured, then fetch.
func (o *Orchestrator) engineList(features engine.FeatureSet) []engine.Engine {
	var list []engine.Engine
	switch {
	case features.Has(engine.FeatureDocument):
		list = append(list, o.documentEngine)
	case features.Has(engine.FeaturePDF):
		list = append(list, o.pdfEngine)
	}
	if o.browserEngine != nil {
		list = append(list, o.browserEngine)
	}
	list = append(list, o.fetchEngine)
	return list
}

// accept applies the acceptance predicate and, when it passes,
// finalizes the result into a document.
func (o *Orchestrator) accept(meta *Meta, engineName string, result *engine.Result) (*models.Document, bool) {
	opts := meta.Options

	markdown := result.Markdown
	needMarkdown := opts.WantsFormat(models.FormatMarkdown)
	if needMarkdown && markdown == "" && result.HTML != "" {
		markdown = o.deriveMarkdown(meta, result)
	}

	// A definitive non-2xx is authoritatively answered and short-circuits
	// further fallback even with an empty body.
	authoritative := result.StatusCode != 0 &&
		(result.StatusCode < 200 || result.StatusCode > 299) &&
		result.StatusCode != 304

	hasContent := strings.TrimSpace(markdown) != "" || strings.TrimSpace(result.HTML) != ""
	if !hasContent && !authoritative {
		return nil, false
	}

	return o.finalize(meta, engineName, result, markdown), true
}

// deriveMarkdown cleans the HTML in main-content mode and converts it;
// if that yields nothing, it retries once without main-content
// extraction.
func (o *Orchestrator) deriveMarkdown(meta *Meta, result *engine.Result) string {
	opts := meta.Options
	cleanOpts := cleaner.CleanOptions{
		OnlyMainContent:    opts.OnlyMainContent == nil || *opts.OnlyMainContent,
		IncludeTags:        opts.IncludeTags,
		ExcludeTags:        opts.ExcludeTags,
		RemoveBase64Images: opts.RemoveBase64Images == nil || *opts.RemoveBase64Images,
		BaseURL:            result.FinalURL,
	}

	md := o.convert(meta, cleaner.Clean(result.HTML, cleanOpts))
	if strings.TrimSpace(md) == "" && cleanOpts.OnlyMainContent {
		cleanOpts.OnlyMainContent = false
		md = o.convert(meta, cleaner.Clean(result.HTML, cleanOpts))
	}
	return md
}

func (o *Orchestrator) convert(meta *Meta, htmlStr string) string {
	md, err := cleaner.ToMarkdown(o.md, htmlStr, meta.URL)
	if err != nil {
		meta.Logger.Warn("markdown conversion failed", "error", err)
		return ""
	}
	return md
}

// finalize builds the public document: metadata seeding, gatekeeper
// verdict, and the requested transformers in fixed order. Each
// transformer failure is logged without failing the request.
func (o *Orchestrator) finalize(meta *Meta, engineName string, result *engine.Result, markdown string) *models.Document {
	opts := meta.Options

	doc := &models.Document{
		Metadata: models.DocumentMetadata{
			SourceURL:    meta.OriginalURL,
			URL:          result.FinalURL,
			StatusCode:   result.StatusCode,
			ContentType:  result.ContentType,
			ProxyUsed:    result.ProxyUsed,
			RenderStatus: result.RenderStatus,
			NumPages:     result.NumPages,
			PDFTitle:     result.PDFTitle,
		},
	}

	isHTMLResult := engineName == "fetch" || engineName == "browser"

	if isHTMLResult && result.HTML != "" {
		verdict := o.gate.Evaluate(gatekeeper.Input{
			HTML:       result.HTML,
			StatusCode: result.StatusCode,
			FinalURL:   result.FinalURL,
		})
		verdict.Evidence = append(verdict.Evidence, result.Evidence...)
		doc.Metadata.Gatekeeper = verdict

		cleaner.ExtractMetadata(result.HTML, &doc.Metadata)
	}

	if opts.WantsFormat(models.FormatMarkdown) {
		doc.Markdown = markdown
	}
	if opts.WantsFormat(models.FormatHTML) && result.HTML != "" {
		doc.HTML = cleaner.Clean(result.HTML, cleaner.CleanOptions{
			OnlyMainContent:    opts.OnlyMainContent == nil || *opts.OnlyMainContent,
			IncludeTags:        opts.IncludeTags,
			ExcludeTags:        opts.ExcludeTags,
			RemoveBase64Images: opts.RemoveBase64Images == nil || *opts.RemoveBase64Images,
			BaseURL:            result.FinalURL,
		})
	}
	if opts.WantsFormat(models.FormatLinks) && isHTMLResult {
		doc.Links = cleaner.ExtractLinks(result.HTML, result.FinalURL)
	}
	if opts.WantsFormat(models.FormatImages) && isHTMLResult {
		doc.Images = cleaner.ExtractImages(result.HTML, result.FinalURL,
			opts.RemoveBase64Images == nil || *opts.RemoveBase64Images)
	}
	if opts.WantsFormat(models.FormatRawHTML) {
		doc.RawHTML = result.HTML
	}

	return doc
}
