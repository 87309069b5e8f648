package remote

import (
	"context"
	"sync"
	"time"
)

// Budget is a fixed-window request budget: limit requests per window.
// When the budget is spent, Acquire sleeps until the window resets
// instead of issuing a call the remote API would reject.
type Budget struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	used    int
	started time.Time

	// now and after are swapped out by tests.
	now   func() time.Time
	after func(d time.Duration) <-chan time.Time
}

// NewBudget creates a budget of limit requests per window.
func NewBudget(limit int, window time.Duration) *Budget {
	return &Budget{
		limit:  limit,
		window: window,
		now:    time.Now,
		after:  time.After,
	}
}

// Acquire spends one request from the budget, blocking until the next
// window when the current one is exhausted. Returns an error only if
// ctx is cancelled while waiting.
func (b *Budget) Acquire(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := b.now()

		if b.started.IsZero() || now.Sub(b.started) >= b.window {
			b.started = now
			b.used = 0
		}

		if b.used < b.limit {
			b.used++
			b.mu.Unlock()
			return nil
		}

		wait := b.started.Add(b.window).Sub(now)
		b.mu.Unlock()

		select {
		case <-b.after(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Remaining reports how many requests are left in the current window.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started.IsZero() || b.now().Sub(b.started) >= b.window {
		return b.limit
	}
	return b.limit - b.used
}
