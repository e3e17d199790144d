package cleaner

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/harvest/models"
)

// ExtractLinks returns the ordered set of distinct absolute href values
// from <a> elements, resolved against the source URL. Dedup preserves
// first-seen document order.
func ExtractLinks(rawHTML string, sourceURL string) []string {
	base, err := url.Parse(sourceURL)
	if err != nil {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	links := make([]string, 0)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" || strings.HasPrefix(href, "#") {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		resolved.Fragment = ""
		abs := resolved.String()
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links
}

// ExtractImages returns distinct absolute <img> src values resolved
// against the source URL. data: URIs are omitted when removeBase64 is
// set; otherwise they are kept verbatim.
func ExtractImages(rawHTML string, sourceURL string, removeBase64 bool) []string {
	base, err := url.Parse(sourceURL)
	if err != nil {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	images := make([]string, 0)
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}
		if strings.HasPrefix(raw, "data:") {
			if removeBase64 {
				return
			}
			if _, ok := seen[raw]; !ok {
				seen[raw] = struct{}{}
				images = append(images, raw)
			}
			return
		}
		resolved, err := base.Parse(raw)
		if err != nil {
			return
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		abs := resolved.String()
		if _, ok := seen[abs]; !ok {
			seen[abs] = struct{}{}
			images = append(images, abs)
		}
	}

	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		add(s.AttrOr("src", ""))
	})
	return images
}

// ExtractMetadata parses page metadata from the raw HTML into the
// document metadata record. Fields already set by the engine (status,
// content type, proxy) are left untouched.
func ExtractMetadata(rawHTML string, meta *models.DocumentMetadata) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return
	}

	if meta.Title == "" {
		meta.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	meta.Description = doc.Find("meta[name=description]").AttrOr("content", "")
	meta.Keywords = doc.Find("meta[name=keywords]").AttrOr("content", "")
	if lang, ok := doc.Find("html").First().Attr("lang"); ok {
		meta.Language = lang
	}

	meta.OGTitle = doc.Find(`meta[property="og:title"]`).AttrOr("content", "")
	meta.OGDesc = doc.Find(`meta[property="og:description"]`).AttrOr("content", "")
	meta.OGImage = doc.Find(`meta[property="og:image"]`).AttrOr("content", "")
	meta.OGSiteName = doc.Find(`meta[property="og:site_name"]`).AttrOr("content", "")
}
