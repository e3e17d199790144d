// Package robots fetches and evaluates robots.txt through the secure
// dispatcher. Missing or unreachable robots files allow everything; a
// per-host cache with TTL avoids refetching on every crawled URL.
package robots

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	robotstxt "github.com/temoto/robotstxt"

	"github.com/use-agent/harvest/dispatch"
)

// cacheTTL bounds how long a parsed robots.txt is reused.
const cacheTTL = 30 * time.Minute

type hostEntry struct {
	data      *robotstxt.RobotsData // nil means "no robots, allow all"
	expiresAt time.Time
}

// Evaluator resolves robots.txt allowance per host. Safe for concurrent
// use.
type Evaluator struct {
	dispatcher *dispatch.Dispatcher
	store      sync.Map // host (string) -> *hostEntry
}

// NewEvaluator creates an Evaluator on top of the secure dispatcher.
func NewEvaluator(d *dispatch.Dispatcher) *Evaluator {
	return &Evaluator{dispatcher: d}
}

// Allowed reports whether any of the user-agent tokens may fetch the
// URL. A URL with no robots data defaults to allow. When the URL does
// not end in "/", the trailing-slash form is also checked; an explicit
// disallow there blocks the original.
func (e *Evaluator) Allowed(ctx context.Context, rawURL string, agents []string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true, err
	}

	data, err := e.dataFor(ctx, u)
	if err != nil || data == nil {
		return true, nil
	}

	target := u.EscapedPath()
	if target == "" {
		target = "/"
	}
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}

	if !e.allowedPath(data, target, agents) {
		return false, nil
	}
	if !strings.HasSuffix(target, "/") && !e.allowedPath(data, target+"/", agents) {
		return false, nil
	}
	return true, nil
}

// allowedPath checks each agent token in order; any allow wins.
func (e *Evaluator) allowedPath(data *robotstxt.RobotsData, path string, agents []string) bool {
	if len(agents) == 0 {
		agents = []string{"*"}
	}
	for _, agent := range agents {
		if data.FindGroup(agent).Test(path) {
			return true
		}
	}
	return false
}

// dataFor returns the parsed robots.txt for the URL's host, fetching
// and caching it on first use.
func (e *Evaluator) dataFor(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	host := u.Scheme + "://" + u.Host

	if val, ok := e.store.Load(host); ok {
		entry := val.(*hostEntry)
		if time.Now().Before(entry.expiresAt) {
			return entry.data, nil
		}
		e.store.Delete(host)
	}

	data := e.fetch(ctx, u)
	e.store.Store(host, &hostEntry{data: data, expiresAt: time.Now().Add(cacheTTL)})
	return data, nil
}

// fetch downloads and parses robots.txt. 404s and network failures are
// treated as "no robots, allow all".
func (e *Evaluator) fetch(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	robotsURL := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil
	}

	resp, err := e.dispatcher.Client(false, false).Do(req)
	if err != nil {
		slog.Warn("robots.txt unreachable, allowing all", "host", u.Host, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		slog.Warn("robots.txt read failed, allowing all", "host", u.Host, "error", err)
		return nil
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		slog.Warn("robots.txt parse failed, allowing all", "host", u.Host, "error", err)
		return nil
	}
	return data
}
