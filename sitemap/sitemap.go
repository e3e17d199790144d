// Package sitemap walks a site's sitemap graph iteratively, with cycle
// protection and a global visit bound. Strict XML parsing is tried
// first; malformed documents get a lenient second pass before being
// skipped.
package sitemap

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/use-agent/harvest/dispatch"
	"github.com/use-agent/harvest/engine"
)

// Limit bounds how many sitemap URLs one walk will visit.
const Limit = 5000

const maxSitemapBody = 32 << 20

type action int

const (
	actionRecurse action = iota
	actionProcess
)

// instruction is one step of the parse output: either more sitemaps to
// visit or page URLs to hand to the caller.
type instruction struct {
	action action
	urls   []string
}

// Fetcher is the slice of the fetch engine the processor needs.
type Fetcher interface {
	Run(ctx context.Context, req *engine.Request) (*engine.Result, error)
}

// Processor walks sitemap graphs. Plain sitemaps go through the scrape
// fetch engine so TLS and proxy rules apply; gzipped ones are
// downloaded raw and gunzipped.
type Processor struct {
	dispatcher *dispatch.Dispatcher
	fetcher    Fetcher
}

// NewProcessor creates a Processor.
func NewProcessor(d *dispatch.Dispatcher, f Fetcher) *Processor {
	return &Processor{dispatcher: d, fetcher: f}
}

// Walk visits the sitemap graph rooted at rootURL and calls handler for
// every batch of page URLs found. Already-visited sitemap URLs are
// skipped; the walk stops after Limit sitemaps.
func (p *Processor) Walk(ctx context.Context, rootURL string, handler func(urls []string)) error {
	queue := []string{rootURL}
	visited := make(map[string]struct{})

	for len(queue) > 0 && len(visited) < Limit {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		current := queue[0]
		queue = queue[1:]
		if _, seen := visited[current]; seen {
			continue
		}
		visited[current] = struct{}{}

		body, err := p.download(ctx, current)
		if err != nil {
			slog.Warn("sitemap fetch failed", "url", current, "error", err)
			continue
		}

		instructions, err := parse(body)
		if err != nil {
			slog.Warn("sitemap unparsable, skipping", "url", current, "error", err)
			continue
		}

		for _, ins := range instructions {
			switch ins.action {
			case actionRecurse:
				queue = append(queue, ins.urls...)
			case actionProcess:
				handler(ins.urls)
			}
		}
	}
	return nil
}

// download fetches one sitemap document.
func (p *Processor) download(ctx context.Context, rawURL string) ([]byte, error) {
	if strings.HasSuffix(strings.ToLower(rawURL), ".gz") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := p.dispatcher.Client(false, false).Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		compressed, err := io.ReadAll(io.LimitReader(resp.Body, maxSitemapBody))
		if err != nil {
			return nil, err
		}
		gz, err := gzip.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		return io.ReadAll(io.LimitReader(gz, maxSitemapBody))
	}

	result, err := p.fetcher.Run(ctx, &engine.Request{
		URL:      rawURL,
		Features: engine.NewFeatureSet(),
	})
	if err != nil {
		return nil, err
	}
	return []byte(result.HTML), nil
}

// sitemapIndex and urlset are the two strict sitemap schemas.
type sitemapIndex struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

type urlset struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

// parse extracts the instruction stream from a sitemap document,
// falling back to lenient XML querying when strict decoding fails.
func parse(body []byte) ([]instruction, error) {
	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		urls := make([]string, 0, len(index.Sitemaps))
		for _, s := range index.Sitemaps {
			if loc := strings.TrimSpace(s.Loc); loc != "" {
				urls = append(urls, loc)
			}
		}
		return []instruction{{action: actionRecurse, urls: urls}}, nil
	}

	var set urlset
	if err := xml.Unmarshal(body, &set); err == nil && len(set.URLs) > 0 {
		urls := make([]string, 0, len(set.URLs))
		for _, u := range set.URLs {
			if loc := strings.TrimSpace(u.Loc); loc != "" {
				urls = append(urls, loc)
			}
		}
		return []instruction{{action: actionProcess, urls: urls}}, nil
	}

	return parseLenient(body)
}

// parseLenient tolerates namespace and well-formedness quirks that the
// strict decoder rejects.
func parseLenient(body []byte) ([]instruction, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var instructions []instruction
	if nodes := xmlquery.Find(doc, "//sitemap/loc"); len(nodes) > 0 {
		urls := make([]string, 0, len(nodes))
		for _, n := range nodes {
			if loc := strings.TrimSpace(n.InnerText()); loc != "" {
				urls = append(urls, loc)
			}
		}
		instructions = append(instructions, instruction{action: actionRecurse, urls: urls})
	}
	if nodes := xmlquery.Find(doc, "//url/loc"); len(nodes) > 0 {
		urls := make([]string, 0, len(nodes))
		for _, n := range nodes {
			if loc := strings.TrimSpace(n.InnerText()); loc != "" {
				urls = append(urls, loc)
			}
		}
		instructions = append(instructions, instruction{action: actionProcess, urls: urls})
	}
	return instructions, nil
}
