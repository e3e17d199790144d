package cleaner

import (
	"log/slog"
	nurl "net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// minContentLength is the minimum TextContent length (in characters)
// for readability output to be considered valid. Below this we assume
// the algorithm failed to locate the main content and fall back to the
// full HTML.
const minContentLength = 50

// MainContent runs the Mozilla Readability algorithm on rawHTML and
// returns the main-content HTML. The second return value reports
// whether extraction succeeded; on any failure the input is returned
// unchanged so downstream stages never see empty content just because
// readability choked.
func MainContent(rawHTML string, sourceURL string) (string, bool) {
	parsedURL, err := nurl.Parse(sourceURL)
	if err != nil {
		slog.Warn("readability: invalid source URL, using full HTML",
			"url", sourceURL, "error", err)
		return rawHTML, false
	}

	article, err := readability.FromReader(strings.NewReader(rawHTML), parsedURL)
	if err != nil {
		slog.Warn("readability: extraction failed, using full HTML",
			"url", sourceURL, "error", err)
		return rawHTML, false
	}

	if len(strings.TrimSpace(article.TextContent)) < minContentLength {
		slog.Debug("readability: extracted content too short, using full HTML",
			"url", sourceURL, "length", len(article.TextContent))
		return rawHTML, false
	}

	return article.Content, true
}
