package assessment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrBudgetExhausted is returned when the call budget for the current
// window is spent. The caller should defer the work until ResetAt.
var ErrBudgetExhausted = errors.New("assessment call budget exhausted")

// ExhaustedError carries the time the budget window resets.
type ExhaustedError struct {
	ResetAt time.Time
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s until %s", ErrBudgetExhausted, e.ResetAt.Format(time.RFC3339))
}

func (e *ExhaustedError) Unwrap() error { return ErrBudgetExhausted }

// Budget limits calls to the assessment service process-wide: at most
// Limit calls per fixed window, and at least MinInterval between calls.
type Budget struct {
	limit       int
	window      time.Duration
	minInterval time.Duration
	now         func() time.Time

	mu          sync.Mutex
	windowStart time.Time
	used        int
	next        time.Time
}

// NewBudget creates a budget. A limit of 0 means unlimited calls.
func NewBudget(limit int, window, minInterval time.Duration) *Budget {
	if window <= 0 {
		window = time.Hour
	}
	return &Budget{
		limit:       limit,
		window:      window,
		minInterval: minInterval,
		now:         time.Now,
	}
}

// Reserve takes one call from the budget, waiting out the inter-call
// delay if needed. It never waits for the window to reset: an exhausted
// budget returns an *ExhaustedError at once.
func (b *Budget) Reserve(ctx context.Context) error {
	b.mu.Lock()
	now := b.now()
	if b.windowStart.IsZero() || now.Sub(b.windowStart) >= b.window {
		b.windowStart = now.Truncate(b.window)
		b.used = 0
	}
	if b.limit > 0 && b.used >= b.limit {
		reset := b.windowStart.Add(b.window)
		b.mu.Unlock()
		return &ExhaustedError{ResetAt: reset}
	}
	b.used++

	wait := b.next.Sub(now)
	slot := now
	if wait > 0 {
		slot = b.next
	}
	b.next = slot.Add(b.minInterval)
	b.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		b.release()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// release returns an unused reservation to the window.
func (b *Budget) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used > 0 {
		b.used--
	}
}

// Remaining reports calls left in the current window, or -1 if unlimited.
func (b *Budget) Remaining() int {
	if b.limit <= 0 {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.windowStart.IsZero() || b.now().Sub(b.windowStart) >= b.window {
		return b.limit
	}
	return b.limit - b.used
}
