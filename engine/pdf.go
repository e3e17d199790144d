package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"os"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/use-agent/harvest/dispatch"
	"github.com/use-agent/harvest/models"
)

// pdfMsPerPage is the extraction budget assumed per page when deciding
// whether parsing can finish inside the remaining scrape budget.
const pdfMsPerPage = 150 * time.Millisecond

const maxPDFBody = 64 << 20

// PDFEngine downloads a PDF and either passes it through base64-encoded
// or extracts its text, depending on the request's parser settings.
type PDFEngine struct {
	dispatcher *dispatch.Dispatcher
}

func NewPDFEngine(d *dispatch.Dispatcher) *PDFEngine {
	return &PDFEngine{dispatcher: d}
}

func (e *PDFEngine) Name() string { return "pdf" }

func (e *PDFEngine) Run(ctx context.Context, req *Request) (*Result, error) {
	body, resp, err := downloadBytes(ctx, e.dispatcher, req, maxPDFBody)
	if err != nil {
		return nil, err
	}

	ct := resp.Header.Get("Content-Type")
	isPDF := strings.HasPrefix(strings.ToLower(ct), "application/pdf")

	if !req.PDFParse {
		// Pass-through: the base64 body stands in for html/markdown so
		// downstream emptiness checks see content.
		if !isPDF && !req.Features.Has(FeaturePDF) {
			return nil, models.NewHarvestError(models.ErrCodeEngineUnsuccessful,
				fmt.Sprintf("pdf: unexpected content type %q", ct), nil)
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

	// Parse mode. An HTML body here means an interstitial got in the way
	// of the file.
	if IsHTMLContentType(ct) {
		return nil, models.NewHarvestError(models.ErrCodePDFAntibot,
			"pdf: received html instead of a pdf body", nil)
	}

	tmp, err := os.CreateTemp("", "harvest-pdf-*.pdf")
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeEngine, "pdf: create temp file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return nil, models.NewHarvestError(models.ErrCodeEngine, "pdf: write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, models.NewHarvestError(models.ErrCodeEngine, "pdf: close temp file", err)
	}

	f, reader, err := pdf.Open(tmpPath)
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeEngineUnsuccessful, "pdf: parse failed", err)
	}
	defer f.Close()

	numPages := reader.NumPage()
	title := pdfTitle(reader)

	effectivePages := numPages
	if req.PDFMaxPages > 0 && req.PDFMaxPages < effectivePages {
		effectivePages = req.PDFMaxPages
	}

	if deadline, ok := ctx.Deadline(); ok {
		if time.Duration(effectivePages)*pdfMsPerPage > time.Until(deadline) {
			return nil, models.NewHarvestError(models.ErrCodePDFInsufficientTime,
				fmt.Sprintf("pdf: %d pages will not extract within the remaining budget", effectivePages), nil)
		}
	}

	var sb strings.Builder
	for i := 1; i <= effectivePages; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}

	escaped := html.EscapeString(strings.TrimSpace(sb.String()))
	return &Result{
		FinalURL:    resp.Request.URL.String(),
		HTML:        escaped,
		Markdown:    escaped,
		StatusCode:  resp.StatusCode,
		ContentType: ct,
		Headers:     resp.Header,
		ProxyUsed:   "basic",
		NumPages:    numPages,
		PDFTitle:    title,
	}, nil
}

// pdfTitle reads /Info /Title from the trailer; malformed trailers are
// common enough that any panic from the value API is swallowed.
func pdfTitle(r *pdf.Reader) (title string) {
	defer func() {
		if recover() != nil {
			title = ""
		}
	}()
	v := r.Trailer().Key("Info").Key("Title")
	if v.IsNull() {
		return ""
	}
	return strings.TrimSpace(v.Text())
}
