package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/use-agent/harvest/cache"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/dispatch"
	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/gatekeeper"
	"github.com/use-agent/harvest/models"
)

func testOrchestrator(t *testing.T, browserURL string) *Orchestrator {
	t.Helper()
	d, err := dispatch.New(dispatch.Options{AllowLocal: true})
	if err != nil {
		t.Fatal(err)
	}
	return New(Options{
		Dispatcher: d,
		Validators: cache.New(100),
		Gatekeeper: gatekeeper.New(config.GatekeeperConfig{
			MinHTMLBytes:        1,
			MinVisibleTextChars: 1,
			MinMainContentChars: 1,
		}),
		Browser: config.BrowserConfig{MicroserviceURL: browserURL, MaxConcurrent: 2, RetryAttempts: 0},
		Scrape:  config.ScrapeConfig{DefaultTimeout: 30 * time.Second, MaxTimeout: 2 * time.Minute},
		Crawl:   config.CrawlConfig{CheckRobotsOnScrape: false},
	})
}

func opts(formats ...models.Format) models.ScrapeOptions {
	o := models.ScrapeOptions{Formats: formats}
	o.Defaults()
	return o
}

func TestScrape_MarkdownAndLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body><h1>Example</h1><a href="/about">About</a></body></html>`))
	}))
	defer srv.Close()

	doc, err := testOrchestrator(t, "").Scrape(context.Background(), srv.URL+"/",
		opts(models.FormatMarkdown, models.FormatLinks))
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(doc.Markdown, "# Example") {
		t.Errorf("markdown = %q, want heading", doc.Markdown)
	}
	if len(doc.Links) != 1 || doc.Links[0] != srv.URL+"/about" {
		t.Errorf("links = %v", doc.Links)
	}
	if doc.RawHTML != "" {
		t.Error("rawHtml present without being requested")
	}
	if doc.Metadata.StatusCode != 200 {
		t.Errorf("statusCode = %d", doc.Metadata.StatusCode)
	}
	if doc.Metadata.ProxyUsed != "basic" {
		t.Errorf("proxyUsed = %q", doc.Metadata.ProxyUsed)
	}
	if doc.Metadata.Gatekeeper == nil || doc.Metadata.Gatekeeper.ContentStatus != "usable" {
		t.Errorf("gatekeeper verdict missing or wrong: %+v", doc.Metadata.Gatekeeper)
	}
}

func TestScrape_FormatFidelity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><p>content</p><img src="/a.png"></body></html>`))
	}))
	defer srv.Close()

	orc := testOrchestrator(t, "")

	doc, err := orc.Scrape(context.Background(), srv.URL, opts(models.FormatRawHTML, models.FormatImages))
	if err != nil {
		t.Fatal(err)
	}
	if doc.RawHTML == "" {
		t.Error("rawHtml requested but absent")
	}
	if doc.Markdown != "" {
		t.Error("markdown present without being requested")
	}
	if len(doc.Images) != 1 {
		t.Errorf("images = %v", doc.Images)
	}
}

func TestScrape_AuthoritativeNonSuccessShortCircuits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	doc, err := testOrchestrator(t, "").Scrape(context.Background(), srv.URL, opts(models.FormatMarkdown))
	if err != nil {
		t.Fatalf("definitive 404 should still produce a document: %v", err)
	}
	if doc.Metadata.StatusCode != 404 {
		t.Errorf("statusCode = %d, want 404", doc.Metadata.StatusCode)
	}
}

func TestScrape_TimeoutSurfacesAsScrapeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	o := opts(models.FormatMarkdown)
	o.Timeout = 50 // ms

	_, err := testOrchestrator(t, "").Scrape(context.Background(), srv.URL, o)
	if models.ErrorCode(err) != models.ErrCodeScrapeTimeout {
		t.Errorf("error = %v, want SCRAPE_TIMEOUT", err)
	}
}

func TestScrape_PDFEscalationPassThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 fake body"))
	}))
	defer srv.Close()

	// The URL has an html-looking path; the sniffer escalates to the
	// pdf engine, which accepts the body in pass-through mode.
	doc, err := testOrchestrator(t, "").Scrape(context.Background(), srv.URL+"/page",
		opts(models.FormatMarkdown))
	if err != nil {
		t.Fatal(err)
	}
	if doc.Markdown == "" {
		t.Error("pass-through pdf should emit base64 markdown placeholder")
	}
	if !strings.HasPrefix(doc.Metadata.ContentType, "application/pdf") {
		t.Errorf("contentType = %q", doc.Metadata.ContentType)
	}
}

func TestScrape_BrowserEngine(t *testing.T) {
	target := "https://rendered.test/page"
	browser := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":"<html><body><h1>Rendered</h1><p>via browser</p></body></html>",` +
			`"pageStatusCode":200,"contentType":"text/html","render_status":"loaded","content_status":"usable"}`))
	}))
	defer browser.Close()

	doc, err := testOrchestrator(t, browser.URL).Scrape(context.Background(), target,
		opts(models.FormatMarkdown))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(doc.Markdown, "# Rendered") {
		t.Errorf("markdown = %q", doc.Markdown)
	}
	if doc.Metadata.RenderStatus != "loaded" {
		t.Errorf("renderStatus = %q", doc.Metadata.RenderStatus)
	}
}

func TestScrape_FallsBackToFetchWhenBrowserFails(t *testing.T) {
	browser := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer browser.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><h1>Direct</h1></body></html>`))
	}))
	defer srv.Close()

	doc, err := testOrchestrator(t, browser.URL).Scrape(context.Background(), srv.URL,
		opts(models.FormatMarkdown))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(doc.Markdown, "# Direct") {
		t.Errorf("fetch fallback did not run: %q", doc.Markdown)
	}
}

func TestScrape_InvalidURL(t *testing.T) {
	_, err := testOrchestrator(t, "").Scrape(context.Background(), "nota url with spaces", opts(models.FormatMarkdown))
	if err == nil {
		t.Error("expected a validation error")
	}
}

func TestEngineList_Order(t *testing.T) {
	orc := testOrchestrator(t, "http://browser.test")

	names := func(features ...engine.Feature) []string {
		list := orc.engineList(engine.NewFeatureSet(features...))
		out := make([]string, len(list))
		for i, e := range list {
			out[i] = e.Name()
		}
		return out
	}

	if got, want := names(), []string{"browser", "fetch"}; !equalStrings(got, want) {
		t.Errorf("base order = %v, want %v", got, want)
	}
	if got, want := names(engine.FeaturePDF), []string{"pdf", "browser", "fetch"}; !equalStrings(got, want) {
		t.Errorf("pdf order = %v, want %v", got, want)
	}
	if got, want := names(engine.FeaturePDF, engine.FeatureDocument), []string{"document", "browser", "fetch"}; !equalStrings(got, want) {
		t.Errorf("document order = %v, want %v", got, want)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
