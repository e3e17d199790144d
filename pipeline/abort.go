package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/use-agent/harvest/models"
)

// AbortManager composes the caller-supplied cancellation tiers with the
// per-scrape timeout and exposes one composite context to engines. The
// first tier to fire is remembered so errors surface with the
// originating cause.
type AbortManager struct {
	ctx            context.Context
	cancel         context.CancelCauseFunc
	cancelDeadline context.CancelFunc
	done           chan struct{}
}

// NewAbortManager builds the composite signal. timeout <= 0 disables
// the scrape-timeout tier; parents may be empty.
func NewAbortManager(parents []context.Context, timeout time.Duration) *AbortManager {
	base, cancel := context.WithCancelCause(context.Background())
	m := &AbortManager{
		ctx:    base,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if timeout > 0 {
		m.ctx, m.cancelDeadline = context.WithDeadlineCause(base,
			time.Now().Add(timeout),
			models.NewHarvestError(models.ErrCodeScrapeTimeout,
				"scrape timed out", context.DeadlineExceeded))
	}

	for _, parent := range parents {
		go func(p context.Context) {
			select {
			case <-p.Done():
				cancel(models.NewHarvestError(models.ErrCodeAborted,
					"request aborted", p.Err()))
			case <-m.done:
			}
		}(parent)
	}
	return m
}

// Context returns the composite signal engines must honor.
func (m *AbortManager) Context() context.Context {
	return m.ctx
}

// Cause reports which tier fired, as a coded error, or nil if none has.
func (m *AbortManager) Cause() error {
	if m.ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(m.ctx)
	var he *models.HarvestError
	if errors.As(cause, &he) {
		return he
	}
	return models.NewHarvestError(models.ErrCodeAborted, "request aborted", cause)
}

// Close releases the timer and watcher goroutines. Always called when
// the pipeline returns, regardless of outcome.
func (m *AbortManager) Close() {
	close(m.done)
	if m.cancelDeadline != nil {
		m.cancelDeadline()
	}
	m.cancel(nil)
}
