package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/use-agent/harvest/models"
)

func TestAbortManager_TimeoutTier(t *testing.T) {
	m := NewAbortManager(nil, 20*time.Millisecond)
	defer m.Close()

	select {
	case <-m.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("timeout tier never fired")
	}

	cause := m.Cause()
	if models.ErrorCode(cause) != models.ErrCodeScrapeTimeout {
		t.Errorf("cause = %v, want SCRAPE_TIMEOUT", cause)
	}
}

func TestAbortManager_ParentTier(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	m := NewAbortManager([]context.Context{parent}, time.Minute)
	defer m.Close()

	cancel()
	select {
	case <-m.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("parent abort never propagated")
	}

	cause := m.Cause()
	if models.ErrorCode(cause) != models.ErrCodeAborted {
		t.Errorf("cause = %v, want REQUEST_ABORTED", cause)
	}
}

func TestAbortManager_NoCauseWhileRunning(t *testing.T) {
	m := NewAbortManager(nil, time.Minute)
	defer m.Close()

	if cause := m.Cause(); cause != nil {
		t.Errorf("cause = %v, want nil while running", cause)
	}
	if _, ok := m.Context().Deadline(); !ok {
		t.Error("composite context should carry the scrape deadline")
	}
}

func TestAbortManager_CloseReleases(t *testing.T) {
	m := NewAbortManager([]context.Context{context.Background()}, time.Minute)
	m.Close()

	select {
	case <-m.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("close should cancel the composite context")
	}
}
