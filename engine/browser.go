package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/use-agent/harvest/models"
)

// renderRequest is the JSON payload the rendering microservice accepts.
type renderRequest struct {
	URL                 string            `json:"url"`
	WaitAfterLoad       int64             `json:"wait_after_load"`
	Timeout             int64             `json:"timeout"`
	Headers             map[string]string `json:"headers,omitempty"`
	SkipTLSVerification bool              `json:"skip_tls_verification"`
	UseStealth          bool              `json:"use_stealth"`
}

// renderResponse is what the rendering microservice returns.
type renderResponse struct {
	Content        string                `json:"content"`
	PageStatusCode int                   `json:"pageStatusCode"`
	ContentType    string                `json:"contentType"`
	RenderStatus   string                `json:"render_status"`
	ContentStatus  string                `json:"content_status"`
	Evidence       []models.RuleEvidence `json:"evidence"`
	PageError      string                `json:"pageError"`
}

// BrowserEngine delegates acquisition to the rendering microservice.
// A bounded semaphore caps in-flight renders; on 401/403 or Set-Cookie
// responses the engine retries itself with stealth before giving up,
// reflecting challenge flows where the second hit with established
// cookies succeeds.
type BrowserEngine struct {
	endpoint string
	client   *http.Client
	sem      chan struct{}

	// RetryAttempts is how many extra attempts follow a 401/403 or
	// Set-Cookie response.
	RetryAttempts int
}

// NewBrowserEngine creates a BrowserEngine for the given endpoint.
func NewBrowserEngine(endpoint string, maxConcurrent, retryAttempts int) *BrowserEngine {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &BrowserEngine{
		endpoint:      endpoint,
		client:        &http.Client{Timeout: 3 * time.Minute},
		sem:           make(chan struct{}, maxConcurrent),
		RetryAttempts: retryAttempts,
	}
}

func (e *BrowserEngine) Name() string { return "browser" }

func (e *BrowserEngine) Run(ctx context.Context, req *Request) (*Result, error) {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	stealth := false
	var result *Result
	var err error
	for attempt := 0; attempt <= e.RetryAttempts; attempt++ {
		var retry bool
		result, retry, err = e.render(ctx, req, stealth)
		if err != nil || !retry {
			return result, err
		}
		stealth = true
	}
	return result, err
}

// render performs one microservice round trip. The second return value
// reports whether the retry policy applies to this response.
func (e *BrowserEngine) render(ctx context.Context, req *Request, stealth bool) (*Result, bool, error) {
	payload := renderRequest{
		URL:                 req.URL,
		WaitAfterLoad:       req.WaitFor.Milliseconds(),
		Timeout:             req.Timeout.Milliseconds(),
		Headers:             req.Headers,
		SkipTLSVerification: req.SkipTLS,
		UseStealth:          stealth,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, false, models.NewHarvestError(models.ErrCodeEngine, "browser: marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, models.NewHarvestError(models.ErrCodeEngine, "browser: build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, false, models.NewHarvestError(models.ErrCodeEngine, "browser: rendering service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, false, models.NewHarvestError(models.ErrCodeEngine,
			fmt.Sprintf("browser: rendering service returned %d", resp.StatusCode), nil)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return nil, false, models.NewHarvestError(models.ErrCodeEngine, "browser: read response", err)
	}

	var rr renderResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, false, models.NewHarvestError(models.ErrCodeEngine, "browser: decode response", err)
	}

	proxyUsed := "basic"
	if stealth {
		proxyUsed = "stealth"
	}
	result := &Result{
		FinalURL:     req.URL,
		HTML:         rr.Content,
		StatusCode:   rr.PageStatusCode,
		ContentType:  rr.ContentType,
		Headers:      resp.Header,
		ProxyUsed:    proxyUsed,
		RenderStatus: rr.RenderStatus,
		Evidence:     rr.Evidence,
	}

	retriable := rr.PageStatusCode == http.StatusUnauthorized ||
		rr.PageStatusCode == http.StatusForbidden ||
		len(resp.Header.Values("Set-Cookie")) > 0
	return result, retriable, nil
}
