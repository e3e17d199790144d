// Package engine contains the acquisition engines: direct HTTP fetch,
// rendering-microservice delegation, and PDF/office-document download.
// Engines return typed errors; feature escalation is an *EscalateError
// value the orchestrator matches with errors.As.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/use-agent/harvest/models"
)

// Feature is an opaque marker influencing engine-list construction.
type Feature string

const (
	FeaturePDF      Feature = "pdf"
	FeatureDocument Feature = "document"
	FeatureWaitFor  Feature = "waitFor"
)

// FeatureSet is the per-scrape flag set. It is mutated only by the
// orchestrator between rounds.
type FeatureSet map[Feature]struct{}

func NewFeatureSet(features ...Feature) FeatureSet {
	fs := make(FeatureSet, len(features))
	for _, f := range features {
		fs[f] = struct{}{}
	}
	return fs
}

func (fs FeatureSet) Has(f Feature) bool {
	_, ok := fs[f]
	return ok
}

func (fs FeatureSet) Add(f Feature) {
	fs[f] = struct{}{}
}

func (fs FeatureSet) List() []Feature {
	out := make([]Feature, 0, len(fs))
	for _, f := range []Feature{FeaturePDF, FeatureDocument, FeatureWaitFor} {
		if fs.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// FeaturesFromURL derives the initial flag set from the URL path suffix.
func FeaturesFromURL(rawURL string) FeatureSet {
	fs := NewFeatureSet()
	lower := strings.ToLower(rawURL)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		fs.Add(FeaturePDF)
	case strings.HasSuffix(lower, ".docx"), strings.HasSuffix(lower, ".doc"),
		strings.HasSuffix(lower, ".odt"), strings.HasSuffix(lower, ".rtf"),
		strings.HasSuffix(lower, ".xlsx"), strings.HasSuffix(lower, ".xls"):
		fs.Add(FeatureDocument)
	}
	return fs
}

// Request contains everything an engine needs for one attempt.
type Request struct {
	URL     string
	Headers map[string]string
	SkipTLS bool

	// WaitFor is how long the browser engine idles after load.
	WaitFor time.Duration

	// Timeout is the remaining budget handed to the rendering service.
	Timeout time.Duration

	// PDFParse enables PDF text extraction; PDFMaxPages caps it (0 = all).
	PDFParse    bool
	PDFMaxPages int

	Features FeatureSet
}

// Result is the outcome of a successful engine attempt.
type Result struct {
	FinalURL    string
	HTML        string
	Markdown    string
	StatusCode  int
	ContentType string
	Headers     http.Header

	// ProxyUsed is "basic" or "stealth".
	ProxyUsed string

	// RenderStatus is loaded, timeout, or nav_error (browser engine only).
	RenderStatus string

	// Evidence is gatekeeper evidence supplied by the rendering service.
	Evidence []models.RuleEvidence

	// NumPages and PDFTitle are set by the PDF engine in parse mode.
	NumPages int
	PDFTitle string
}

// Engine acquires bytes for a URL.
type Engine interface {
	// Name returns the engine identifier ("fetch", "browser", "pdf",
	// "document").
	Name() string

	// Run performs one acquisition attempt.
	Run(ctx context.Context, req *Request) (*Result, error)
}

// EscalateError requests a new fallback round with additional features.
type EscalateError struct {
	Features []Feature
}

func (e *EscalateError) Error() string {
	return fmt.Sprintf("engine: escalate with features %v", e.Features)
}
