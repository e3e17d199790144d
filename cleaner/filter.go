package cleaner

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// CleanOptions carries the content-shaping parameters for Clean.
type CleanOptions struct {
	// OnlyMainContent removes navigational boilerplate via readability
	// before any other filtering.
	OnlyMainContent bool

	// IncludeTags / ExcludeTags constrain the output by CSS selector.
	IncludeTags []string
	ExcludeTags []string

	// RemoveBase64Images strips data-URI image sources.
	RemoveBase64Images bool

	// BaseURL is the final URL; relative href/src values are rewritten
	// against it.
	BaseURL string
}

// Clean produces the cleaned HTML for an acquired page:
//
//  1. main-content extraction (when requested)
//  2. script/style/noscript removal
//  3. excludeTags removal, then includeTags restriction
//  4. base64 image stripping
//  5. relative URL rewriting against the final URL
func Clean(rawHTML string, opts CleanOptions) string {
	htmlStr := rawHTML
	if opts.OnlyMainContent {
		htmlStr, _ = MainContent(htmlStr, opts.BaseURL)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return htmlStr
	}

	doc.Find("script, style, noscript").Remove()

	for _, selector := range opts.ExcludeTags {
		doc.Find(selector).Remove()
	}

	if len(opts.IncludeTags) > 0 {
		rendered, err := doc.Html()
		if err == nil {
			if kept, err := ApplyCSSSelector(rendered, strings.Join(opts.IncludeTags, ", ")); err == nil {
				if redoc, err := goquery.NewDocumentFromReader(strings.NewReader(kept)); err == nil {
					doc = redoc
				}
			}
		}
	}

	if opts.RemoveBase64Images {
		doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
			if src, _ := s.Attr("src"); strings.HasPrefix(src, "data:") {
				s.RemoveAttr("src")
			}
		})
	}

	if base, err := url.Parse(opts.BaseURL); err == nil && base.IsAbs() {
		rewrite := func(sel *goquery.Selection, attr string) {
			v, ok := sel.Attr(attr)
			if !ok || v == "" || strings.HasPrefix(v, "data:") || strings.HasPrefix(v, "#") {
				return
			}
			resolved, err := base.Parse(v)
			if err != nil {
				return
			}
			sel.SetAttr(attr, resolved.String())
		}
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) { rewrite(s, "href") })
		doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) { rewrite(s, "src") })
		doc.Find("link[href]").Each(func(_ int, s *goquery.Selection) { rewrite(s, "href") })
	}

	result, err := doc.Html()
	if err != nil {
		return htmlStr
	}
	return result
}
