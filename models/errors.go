package models

import (
	"errors"
	"fmt"
)

// Error codes used in API responses and internal error handling.
const (
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeInternal     = "INTERNAL_ERROR"

	// Transport errors; each advances the engine list.
	ErrCodeSSL                = "SSL_ERROR"
	ErrCodeDNSResolution      = "DNS_RESOLUTION_ERROR"
	ErrCodeInsecureConnection = "INSECURE_CONNECTION"
	ErrCodeProxySelection     = "PROXY_SELECTION_ERROR"
	ErrCodeEngine             = "ENGINE_ERROR"

	// Engine-domain errors.
	ErrCodeEngineUnsuccessful  = "ENGINE_UNSUCCESSFUL"
	ErrCodeNoEnginesLeft       = "NO_ENGINES_LEFT"
	ErrCodePDFInsufficientTime = "PDF_INSUFFICIENT_TIME"
	ErrCodePDFAntibot          = "PDF_ANTIBOT"
	ErrCodeDocumentAntibot     = "DOCUMENT_ANTIBOT"

	// Cancellation errors; terminal for the scrape.
	ErrCodeScrapeTimeout = "SCRAPE_TIMEOUT"
	ErrCodeAborted       = "REQUEST_ABORTED"

	// Policy denials.
	ErrCodeCrawlDenied = "CRAWL_DENIED"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HarvestError is the internal error type carrying an error code.
// It implements the error interface and supports wrapping via Unwrap.
type HarvestError struct {
	Code    string
	Message string
	Err     error
}

func (e *HarvestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *HarvestError) Unwrap() error {
	return e.Err
}

// NewHarvestError creates a new HarvestError.
func NewHarvestError(code, message string, err error) *HarvestError {
	return &HarvestError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *HarvestError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// ErrorCode extracts the code from any error, defaulting to INTERNAL_ERROR.
func ErrorCode(err error) string {
	var he *HarvestError
	if errors.As(err, &he) {
		return he.Code
	}
	return ErrCodeInternal
}

// IsTransport reports whether the error advances the engine list without
// aborting the scrape.
func IsTransport(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeSSL, ErrCodeDNSResolution, ErrCodeInsecureConnection,
		ErrCodeProxySelection, ErrCodeEngine:
		return true
	}
	return false
}

// IsCancellation reports whether the error is terminal for the scrape.
func IsCancellation(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeScrapeTimeout, ErrCodeAborted:
		return true
	}
	return false
}

// FieldError is a validation failure attributable to one request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
