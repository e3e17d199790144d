package models

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Format identifies one of the document outputs a caller can request.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatRawHTML  Format = "rawHtml"
	FormatLinks    Format = "links"
	FormatImages   Format = "images"
)

// UnmarshalJSON accepts both the shorthand string form ("markdown") and
// the object form ({"type":"markdown"}).
func (f *Format) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = Format(s)
		return nil
	}
	var obj struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("format must be a string or an object with a type field")
	}
	*f = Format(obj.Type)
	return nil
}

// PDFParser controls how PDF bodies are handled. The wire form is either
// the string "pdf" or {"type":"pdf","maxPages":N}.
type PDFParser struct {
	Type     string `json:"type"`
	MaxPages int    `json:"maxPages,omitempty"`
}

func (p *PDFParser) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.Type = s
		return nil
	}
	type alias PDFParser
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("parser must be a string or an object with a type field")
	}
	*p = PDFParser(a)
	return nil
}

// ScrapeOptions are the per-request scrape settings. Once Defaults() has
// run the struct is treated as immutable; the pipeline never mutates it.
type ScrapeOptions struct {
	// Formats lists the desired document outputs. Default: ["markdown"].
	Formats []Format `json:"formats,omitempty"`

	// OnlyMainContent strips navigational boilerplate before Markdown
	// conversion. Default: true.
	OnlyMainContent *bool `json:"onlyMainContent,omitempty"`

	// Headers are merged into every outbound request for this scrape.
	Headers map[string]string `json:"headers,omitempty"`

	// IncludeTags / ExcludeTags constrain the cleaned HTML by CSS selector.
	IncludeTags []string `json:"includeTags,omitempty"`
	ExcludeTags []string `json:"excludeTags,omitempty"`

	// Timeout bounds the total scrape, in milliseconds.
	Timeout int `json:"timeout,omitempty"`

	// WaitFor is how long the browser engine idles after load, in ms.
	WaitFor int `json:"waitFor,omitempty"`

	// Parsers controls PDF parsing vs pass-through.
	Parsers []PDFParser `json:"parsers,omitempty"`

	// SkipTLSVerification defaults to true unless the caller supplied
	// custom headers; authenticated calls assume hardened TLS.
	SkipTLSVerification *bool `json:"skipTlsVerification,omitempty"`

	// RemoveBase64Images strips data-URI images from transformer output.
	// Default: true.
	RemoveBase64Images *bool `json:"removeBase64Images,omitempty"`
}

// Defaults applies default values to unset fields.
func (o *ScrapeOptions) Defaults() {
	if len(o.Formats) == 0 {
		o.Formats = []Format{FormatMarkdown}
	}
	if o.OnlyMainContent == nil {
		t := true
		o.OnlyMainContent = &t
	}
	if o.RemoveBase64Images == nil {
		t := true
		o.RemoveBase64Images = &t
	}
	if o.SkipTLSVerification == nil {
		v := len(o.Headers) == 0
		o.SkipTLSVerification = &v
	}
}

// Validate returns a per-field error for the first out-of-range value.
func (o *ScrapeOptions) Validate() error {
	for _, f := range o.Formats {
		switch f {
		case FormatMarkdown, FormatHTML, FormatRawHTML, FormatLinks, FormatImages:
		default:
			return &FieldError{Field: "formats", Message: fmt.Sprintf("unknown format %q", f)}
		}
	}
	if o.Timeout < 0 {
		return &FieldError{Field: "timeout", Message: "must be >= 0"}
	}
	if o.WaitFor < 0 {
		return &FieldError{Field: "waitFor", Message: "must be >= 0"}
	}
	for _, p := range o.Parsers {
		if p.Type != "pdf" {
			return &FieldError{Field: "parsers", Message: fmt.Sprintf("unknown parser %q", p.Type)}
		}
		if p.MaxPages < 0 {
			return &FieldError{Field: "parsers", Message: "maxPages must be >= 0"}
		}
	}
	return nil
}

// WantsFormat reports whether the given output was requested.
func (o *ScrapeOptions) WantsFormat(f Format) bool {
	for _, w := range o.Formats {
		if w == f {
			return true
		}
	}
	return false
}

// PDFParsing returns whether PDF parsing is enabled and its page cap
// (0 means uncapped).
func (o *ScrapeOptions) PDFParsing() (bool, int) {
	for _, p := range o.Parsers {
		if p.Type == "pdf" {
			return true, p.MaxPages
		}
	}
	return false, 0
}

// CrawlOptions are the per-request crawl settings.
type CrawlOptions struct {
	// Limit caps the number of pages processed. Default 100, max 10000.
	Limit int `json:"limit,omitempty"`

	// MaxDepth caps crawl depth relative to the seed. Default 2, max 20.
	MaxDepth int `json:"maxDepth,omitempty"`

	// Includes / Excludes are regex patterns applied to discovered links.
	Includes []string `json:"includes,omitempty"`
	Excludes []string `json:"excludes,omitempty"`

	AllowBackwardCrawling     bool `json:"allowBackwardCrawling,omitempty"`
	AllowExternalContentLinks bool `json:"allowExternalContentLinks,omitempty"`
	AllowSubdomains           bool `json:"allowSubdomains,omitempty"`

	// RegexOnFullURL matches the include/exclude patterns against the
	// full URL instead of the query-stripped form.
	RegexOnFullURL bool `json:"regexOnFullURL,omitempty"`

	// Headers are merged into the scrape options of every page the crawl
	// processes. Sitemap and robots.txt fetches do not carry them.
	Headers map[string]string `json:"headers,omitempty"`

	// ScrapeOptions apply to every page the crawl processes.
	ScrapeOptions ScrapeOptions `json:"scrapeOptions,omitempty"`

	// WebhookURL, when set, receives a signed crawl.completed event.
	WebhookURL    string `json:"webhookUrl,omitempty"`
	WebhookSecret string `json:"webhookSecret,omitempty"`
}

// Defaults applies default values to unset fields.
func (o *CrawlOptions) Defaults() {
	if o.Limit == 0 {
		o.Limit = 100
	}
	if o.MaxDepth == 0 {
		o.MaxDepth = 2
	}
	o.ScrapeOptions.Defaults()
}

// Validate returns a per-field error for the first out-of-range value.
func (o *CrawlOptions) Validate() error {
	if o.Limit < 1 || o.Limit > 10000 {
		return &FieldError{Field: "limit", Message: "must be between 1 and 10000"}
	}
	if o.MaxDepth < 1 || o.MaxDepth > 20 {
		return &FieldError{Field: "maxDepth", Message: "must be between 1 and 20"}
	}
	for _, p := range o.Includes {
		if _, err := regexp.Compile(p); err != nil {
			return &FieldError{Field: "includes", Message: fmt.Sprintf("invalid pattern %q: %v", p, err)}
		}
	}
	for _, p := range o.Excludes {
		if _, err := regexp.Compile(p); err != nil {
			return &FieldError{Field: "excludes", Message: fmt.Sprintf("invalid pattern %q: %v", p, err)}
		}
	}
	if o.WebhookURL != "" {
		u, err := url.Parse(o.WebhookURL)
		if err != nil || !strings.HasPrefix(u.Scheme, "http") {
			return &FieldError{Field: "webhookUrl", Message: "must be an http(s) URL"}
		}
	}
	return o.ScrapeOptions.Validate()
}

// ScrapeRequest is the payload for POST /scrape.
type ScrapeRequest struct {
	URL string `json:"url"`
	ScrapeOptions
}

// CrawlRequest is the payload for POST /crawl.
type CrawlRequest struct {
	URL string `json:"url"`
	CrawlOptions
}
