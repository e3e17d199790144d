package crawler

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/use-agent/harvest/models"
)

// contentExtensions are file types still worth following on external
// hosts when external content links are allowed for documents only.
var contentExtensions = []string{".pdf", ".doc", ".docx", ".odt", ".rtf", ".xls", ".xlsx"}

// skipExtensions are non-HTML payloads the crawler never fetches,
// except for the extraction-targeted document types above.
var skipExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico", ".bmp",
	".mp4", ".webm", ".avi", ".mov", ".mkv", ".mp3", ".wav", ".ogg",
	".zip", ".tar", ".gz", ".bz2", ".7z", ".rar",
	".css", ".js", ".woff", ".woff2", ".ttf", ".eot",
}

// Filter decides which discovered links enter the frontier.
type Filter struct {
	initial     *url.URL
	includes    []*regexp.Regexp
	excludes    []*regexp.Regexp
	opts        models.CrawlOptions
	blocklist   *Blocklist
	initialPath string
}

// NewFilter compiles the crawl's link filter. Patterns are validated
// upstream; uncompilable ones are skipped defensively here.
func NewFilter(initial *url.URL, opts models.CrawlOptions, blocklist *Blocklist) *Filter {
	f := &Filter{
		initial:     initial,
		opts:        opts,
		blocklist:   blocklist,
		initialPath: initial.EscapedPath(),
	}
	for _, p := range opts.Includes {
		if re, err := regexp.Compile(p); err == nil {
			f.includes = append(f.includes, re)
		}
	}
	for _, p := range opts.Excludes {
		if re, err := regexp.Compile(p); err == nil {
			f.excludes = append(f.excludes, re)
		}
	}
	return f
}

// Allow applies the filter policy in order and reports whether the link
// may be enqueued.
func (f *Filter) Allow(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	target := rawURL
	if !f.opts.RegexOnFullURL {
		stripped := *u
		stripped.RawQuery = ""
		stripped.Fragment = ""
		target = stripped.String()
	}

	for _, re := range f.excludes {
		if re.MatchString(target) {
			return false
		}
	}
	if len(f.includes) > 0 {
		matched := false
		for _, re := range f.includes {
			if re.MatchString(target) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	sameHost := strings.EqualFold(u.Hostname(), f.initial.Hostname())
	if !sameHost {
		if f.opts.AllowSubdomains {
			if !sameRegisteredDomain(u.Hostname(), f.initial.Hostname()) {
				if !f.allowExternal(u) {
					return false
				}
			}
		} else if !f.allowExternal(u) {
			return false
		}
	}

	if !f.opts.AllowBackwardCrawling && sameHost {
		if !strings.HasPrefix(u.EscapedPath(), f.initialPath) {
			return false
		}
	}

	if isSkippedFile(u.EscapedPath()) {
		return false
	}

	if f.blocklist != nil && f.blocklist.IsBlocked(u.Hostname()) {
		return false
	}

	return true
}

// allowExternal handles links leaving the initial host: allowed
// wholesale when the policy says so, otherwise only for
// content-bearing document files.
func (f *Filter) allowExternal(u *url.URL) bool {
	if f.opts.AllowExternalContentLinks {
		return true
	}
	ext := strings.ToLower(path.Ext(u.EscapedPath()))
	for _, ce := range contentExtensions {
		if ext == ce {
			return true
		}
	}
	return false
}

func sameRegisteredDomain(a, b string) bool {
	da, errA := publicsuffix.EffectiveTLDPlusOne(a)
	db, errB := publicsuffix.EffectiveTLDPlusOne(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(a, b)
	}
	return strings.EqualFold(da, db)
}

// isSkippedFile rejects non-HTML payloads, keeping the document types
// targeted for extraction.
func isSkippedFile(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return false
	}
	for _, ce := range contentExtensions {
		if ext == ce {
			return false
		}
	}
	for _, se := range skipExtensions {
		if ext == se {
			return true
		}
	}
	return false
}
