package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/use-agent/harvest/dispatch"
	"github.com/use-agent/harvest/models"
)

const maxDocumentBody = 64 << 20

// DocumentEngine downloads office documents (docx, odt, rtf, xlsx, xls,
// msword) and returns their bytes; parsing is left to later stages that
// treat the payload as opaque.
type DocumentEngine struct {
	dispatcher *dispatch.Dispatcher
}

func NewDocumentEngine(d *dispatch.Dispatcher) *DocumentEngine {
	return &DocumentEngine{dispatcher: d}
}

func (e *DocumentEngine) Name() string { return "document" }

func (e *DocumentEngine) Run(ctx context.Context, req *Request) (*Result, error) {
	body, resp, err := downloadBytes(ctx, e.dispatcher, req, maxDocumentBody)
	if err != nil {
		return nil, err
	}

	ct := resp.Header.Get("Content-Type")
	if IsHTMLContentType(ct) {
		return nil, models.NewHarvestError(models.ErrCodeDocumentAntibot,
			"document: received html instead of a document body", nil)
	}
	if !isOfficeContentType(ct) && !req.Features.Has(FeatureDocument) {
		return nil, models.NewHarvestError(models.ErrCodeEngineUnsuccessful,
			fmt.Sprintf("document: unexpected content type %q", ct), nil)
	}

	encoded := base64.StdEncoding.EncodeToString(body)
	return &Result{
		FinalURL:    resp.Request.URL.String(),
		HTML:        encoded,
		Markdown:    encoded,
		StatusCode:  resp.StatusCode,
		ContentType: ct,
		Headers:     resp.Header,
		ProxyUsed:   "basic",
	}, nil
}

func isOfficeContentType(ct string) bool {
	lower := strings.ToLower(ct)
	for _, m := range officeMIMEs {
		if strings.HasPrefix(lower, m) {
			return true
		}
	}
	return false
}
