package engine

import (
	"mime"
	"net/http"
	"strings"
)

// officeMIMEs are the content types handled by the document engine.
var officeMIMEs = []string{
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.oasis.opendocument.text",
	"application/vnd.ms-excel",
	"application/msword",
	"application/rtf",
	"text/rtf",
}

// SniffSpecialty inspects response headers for content types that need a
// specialty engine. When the content type calls for a feature the scrape
// does not carry yet, it returns an *EscalateError; the orchestrator adds
// the flag and restarts the fallback list.
func SniffSpecialty(headers http.Header, features FeatureSet) error {
	ct := headers.Get("Content-Type")
	if ct == "" {
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	}

	for _, m := range officeMIMEs {
		if strings.HasPrefix(mediaType, m) {
			if !features.Has(FeatureDocument) {
				return &EscalateError{Features: []Feature{FeatureDocument}}
			}
			return nil
		}
	}

	if mediaType == "application/pdf" && !features.Has(FeaturePDF) {
		return &EscalateError{Features: []Feature{FeaturePDF}}
	}
	return nil
}

// IsHTMLContentType returns true if the content type looks like HTML.
func IsHTMLContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}
