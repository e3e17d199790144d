package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/use-agent/harvest/cache"
	"github.com/use-agent/harvest/dispatch"
	"github.com/use-agent/harvest/models"
)

const fetchUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// maxFetchBody caps how much of a response body is read.
const maxFetchBody = 32 << 20

// FetchEngine issues a single HTTP request with redirects followed.
// It keeps a process-wide conditional-GET cache so revisited URLs can
// be answered from a 304.
type FetchEngine struct {
	dispatcher *dispatch.Dispatcher
	validators *cache.ValidatorCache
}

// NewFetchEngine creates a FetchEngine on top of the secure dispatcher.
func NewFetchEngine(d *dispatch.Dispatcher, validators *cache.ValidatorCache) *FetchEngine {
	return &FetchEngine{dispatcher: d, validators: validators}
}

func (e *FetchEngine) Name() string { return "fetch" }

func (e *FetchEngine) Run(ctx context.Context, req *Request) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeEngine, "fetch: build request", err)
	}

	httpReq.Header.Set("User-Agent", fetchUA)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")
	httpReq.Header.Set("Accept-Encoding", "identity")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	// Attach stored validators unless the caller brought their own
	// conditional headers.
	cached, hasCached := e.validators.Get(req.URL)
	if hasCached && httpReq.Header.Get("If-None-Match") == "" && httpReq.Header.Get("If-Modified-Since") == "" {
		if cached.ETag != "" {
			httpReq.Header.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			httpReq.Header.Set("If-Modified-Since", cached.LastModified)
		}
	}

	client := e.dispatcher.Client(req.SkipTLS, false)
	resp, err := client.Do(httpReq)
	if err != nil {
		norm := dispatch.Normalize(err)
		if models.IsTransport(norm) {
			return nil, norm
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, models.NewHarvestError(models.ErrCodeEngine, "fetch: request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && hasCached && cached.Body != "" {
		return &Result{
			FinalURL:    resp.Request.URL.String(),
			HTML:        cached.Body,
			StatusCode:  cached.StatusCode,
			ContentType: cached.ContentType,
			Headers:     resp.Header,
			ProxyUsed:   "basic",
		}, nil
	}

	// Content-type based feature escalation happens before the body is
	// consumed; the specialty engine re-downloads on its own terms.
	if err := SniffSpecialty(resp.Header, req.Features); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, models.NewHarvestError(models.ErrCodeEngine, "fetch: read body", err)
	}

	body := decodeBody(raw)

	if etag, lm := resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"); etag != "" || lm != "" {
		e.validators.Set(req.URL, &cache.Entry{
			ETag:         etag,
			LastModified: lm,
			Body:         body,
			StatusCode:   resp.StatusCode,
			ContentType:  resp.Header.Get("Content-Type"),
		})
	}

	return &Result{
		FinalURL:    resp.Request.URL.String(),
		HTML:        body,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Headers:     resp.Header,
		ProxyUsed:   "basic",
	}, nil
}

var metaCharsetRe = regexp.MustCompile(`(?i)<meta[^>]+charset\s*=\s*["']?\s*([a-zA-Z0-9_\-]+)`)

// decodeBody decodes the raw bytes as UTF-8, then scans the first page
// for a meta charset hint; on a differing hint it re-decodes with that
// charset, falling back to UTF-8 when the charset is unknown.
func decodeBody(raw []byte) string {
	head := raw
	if len(head) > 4096 {
		head = head[:4096]
	}

	charset := ""
	if m := metaCharsetRe.FindSubmatch(head); m != nil {
		charset = strings.ToLower(string(m[1]))
	}
	if charset == "" || charset == "utf-8" || charset == "utf8" {
		return string(raw)
	}

	enc, err := htmlindex.Get(charset)
	if err != nil || enc == nil {
		return string(raw)
	}
	decoded, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(raw)))
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

// downloadBytes fetches a URL through the dispatcher and returns the
// raw body plus response metadata. Shared by the PDF and document
// engines.
func downloadBytes(ctx context.Context, d *dispatch.Dispatcher, req *Request, limit int64) ([]byte, *http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, nil, models.NewHarvestError(models.ErrCodeEngine, "download: build request", err)
	}
	httpReq.Header.Set("User-Agent", fetchUA)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := d.Client(req.SkipTLS, false).Do(httpReq)
	if err != nil {
		norm := dispatch.Normalize(err)
		if models.IsTransport(norm) {
			return nil, nil, norm
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, models.NewHarvestError(models.ErrCodeEngine, "download: request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, models.NewHarvestError(models.ErrCodeEngine,
			fmt.Sprintf("download: read body for %s", req.URL), err)
	}
	return body, resp, nil
}
