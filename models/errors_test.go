package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCode(t *testing.T) {
	err := NewHarvestError(ErrCodeSSL, "cert expired", nil)
	if ErrorCode(err) != ErrCodeSSL {
		t.Errorf("got %q, want %q", ErrorCode(err), ErrCodeSSL)
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if ErrorCode(wrapped) != ErrCodeSSL {
		t.Errorf("wrapped code = %q, want %q", ErrorCode(wrapped), ErrCodeSSL)
	}

	if ErrorCode(errors.New("plain")) != ErrCodeInternal {
		t.Error("plain errors should map to INTERNAL_ERROR")
	}
}

func TestIsTransport(t *testing.T) {
	for _, code := range []string{ErrCodeSSL, ErrCodeDNSResolution, ErrCodeInsecureConnection, ErrCodeProxySelection, ErrCodeEngine} {
		if !IsTransport(NewHarvestError(code, "x", nil)) {
			t.Errorf("%s should be transport", code)
		}
	}
	if IsTransport(NewHarvestError(ErrCodeScrapeTimeout, "x", nil)) {
		t.Error("timeout is not transport")
	}
}

func TestIsCancellation(t *testing.T) {
	if !IsCancellation(NewHarvestError(ErrCodeScrapeTimeout, "x", nil)) {
		t.Error("scrape timeout is cancellation")
	}
	if !IsCancellation(NewHarvestError(ErrCodeAborted, "x", nil)) {
		t.Error("abort is cancellation")
	}
	if IsCancellation(NewHarvestError(ErrCodeEngine, "x", nil)) {
		t.Error("engine error is not cancellation")
	}
}

func TestHarvestErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := NewHarvestError(ErrCodeEngine, "outer", inner)
	if !errors.Is(err, inner) {
		t.Error("Unwrap should expose the inner error")
	}
}
