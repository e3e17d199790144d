package models

// Document is the public output of a successful scrape. Only the
// requested formats are populated; metadata is always present.
type Document struct {
	Markdown string   `json:"markdown,omitempty"`
	HTML     string   `json:"html,omitempty"`
	RawHTML  string   `json:"rawHtml,omitempty"`
	Links    []string `json:"links,omitempty"`
	Images   []string `json:"images,omitempty"`

	Metadata DocumentMetadata `json:"metadata"`
}

// DocumentMetadata carries everything known about the acquisition:
// where the bytes came from, how, and what the gatekeeper made of them.
type DocumentMetadata struct {
	SourceURL   string `json:"sourceURL"`
	URL         string `json:"url"`
	StatusCode  int    `json:"statusCode"`
	ContentType string `json:"contentType,omitempty"`
	ProxyUsed   string `json:"proxyUsed,omitempty"`

	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Language    string `json:"language,omitempty"`
	Keywords    string `json:"keywords,omitempty"`
	OGTitle     string `json:"ogTitle,omitempty"`
	OGDesc      string `json:"ogDescription,omitempty"`
	OGImage     string `json:"ogImage,omitempty"`
	OGSiteName  string `json:"ogSiteName,omitempty"`

	// NumPages and PDFTitle are set by the PDF engine in parse mode.
	NumPages int    `json:"numPages,omitempty"`
	PDFTitle string `json:"pdfTitle,omitempty"`

	// RenderStatus is reported by the browser engine: loaded, timeout,
	// or nav_error.
	RenderStatus string `json:"renderStatus,omitempty"`

	Gatekeeper *GatekeeperVerdict `json:"gatekeeper,omitempty"`
}

// BlockClass encodes why a response may be unusable.
type BlockClass string

const (
	BlockNone      BlockClass = "none"
	BlockThin      BlockClass = "thin"
	BlockChallenge BlockClass = "challenge"
	BlockLogin     BlockClass = "login"
	BlockSoftBlock BlockClass = "soft_block"
)

// ContentStatus is the user-visible projection of a BlockClass.
func (b BlockClass) ContentStatus() string {
	if b == BlockNone {
		return "usable"
	}
	return string(b)
}

// GatekeeperVerdict is the evidence record attached to every document
// that passed through the gatekeeper.
type GatekeeperVerdict struct {
	BlockClass    BlockClass     `json:"blockClass"`
	ContentStatus string         `json:"contentStatus"`
	Confidence    float64        `json:"confidence"`
	Evidence      []RuleEvidence `json:"evidence,omitempty"`
	Quality       QualityRecord  `json:"quality"`
	Thresholds    Thresholds     `json:"thresholds"`
}

// RuleEvidence records one fired rule and the signals that matched.
type RuleEvidence struct {
	RuleID     string     `json:"ruleId"`
	Signals    []string   `json:"signals"`
	BlockClass BlockClass `json:"blockClass"`
	Confidence float64    `json:"confidence"`
}

// QualityRecord holds the raw content measurements.
type QualityRecord struct {
	HTMLBytes         int  `json:"htmlBytes"`
	VisibleTextChars  int  `json:"visibleTextChars"`
	MainContentChars  int  `json:"mainContentChars"`
	HasStructuredData bool `json:"hasStructuredData"`
}

// Thresholds are the minimums applied when no rule fires.
type Thresholds struct {
	MinHTMLBytes          int  `json:"min_html_bytes"`
	MinVisibleTextChars   int  `json:"min_visible_text_chars"`
	MinMainContentChars   int  `json:"min_main_content_chars"`
	RequireStructuredData bool `json:"require_structured_data"`
}

// ScrapeResponse is the body for POST /scrape.
type ScrapeResponse struct {
	Success   bool         `json:"success"`
	RequestID string       `json:"requestId,omitempty"`
	Document  *Document    `json:"document,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
	Details   any          `json:"details,omitempty"`
}

// CrawlStats summarizes a finished crawl.
// succeeded + failed == processed, processed <= min(limit, discovered).
type CrawlStats struct {
	Discovered int `json:"discovered"`
	Processed  int `json:"processed"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
}

// CrawlPageError is a per-URL failure inside an otherwise successful crawl.
type CrawlPageError struct {
	URL     string `json:"url"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CrawlResponse is the body for POST /crawl.
type CrawlResponse struct {
	Success bool             `json:"success"`
	Pages   []Document       `json:"pages"`
	Errors  []CrawlPageError `json:"errors"`
	Stats   CrawlStats       `json:"stats"`
	Error   *ErrorDetail     `json:"error,omitempty"`
	Details any              `json:"details,omitempty"`
}

// HealthResponse is the body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
