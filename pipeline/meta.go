package pipeline

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/models"
)

// Meta is the per-scrape working record. It is created at request
// entry, lives through all engine attempts, and is disposed when the
// pipeline returns, releasing timers and cancellation resources.
type Meta struct {
	ID          string
	OriginalURL string
	URL         string

	Options  models.ScrapeOptions
	Features engine.FeatureSet

	Logger *slog.Logger
	Abort  *AbortManager
}

// NewMeta canonicalizes the URL, derives the initial feature flags from
// its path suffix, and arms the abort manager.
func NewMeta(parent context.Context, rawURL string, opts models.ScrapeOptions, defaultTimeout, maxTimeout time.Duration) (*Meta, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &models.FieldError{Field: "url", Message: "must be a valid URL"}
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &models.FieldError{Field: "url", Message: "scheme must be http or https"}
	}
	if u.Host == "" {
		return nil, &models.FieldError{Field: "url", Message: "missing host"}
	}

	timeout := defaultTimeout
	if opts.Timeout > 0 {
		timeout = time.Duration(opts.Timeout) * time.Millisecond
	}
	if maxTimeout > 0 && timeout > maxTimeout {
		timeout = maxTimeout
	}

	id := uuid.New().String()
	features := engine.FeaturesFromURL(u.String())
	if opts.WaitFor > 0 {
		features.Add(engine.FeatureWaitFor)
	}

	return &Meta{
		ID:          id,
		OriginalURL: rawURL,
		URL:         u.String(),
		Options:     opts,
		Features:    features,
		Logger:      slog.Default().With("requestId", id, "url", u.String()),
		Abort:       NewAbortManager([]context.Context{parent}, timeout),
	}, nil
}

// Close releases the meta's cancellation resources.
func (m *Meta) Close() {
	m.Abort.Close()
}

// engineRequest builds the per-attempt request handed to engines.
func (m *Meta) engineRequest() *engine.Request {
	parse, maxPages := m.Options.PDFParsing()
	var remaining time.Duration
	if deadline, ok := m.Abort.Context().Deadline(); ok {
		remaining = time.Until(deadline)
	}
	return &engine.Request{
		URL:         m.URL,
		Headers:     m.Options.Headers,
		SkipTLS:     m.Options.SkipTLSVerification != nil && *m.Options.SkipTLSVerification,
		WaitFor:     time.Duration(m.Options.WaitFor) * time.Millisecond,
		Timeout:     remaining,
		PDFParse:    parse,
		PDFMaxPages: maxPages,
		Features:    m.Features,
	}
}
