package broker

import (
	"context"
	"sync"
	"time"
)

// RateLimiter enforces a minimum gap between consecutive requests per
// account. It is a value owned by whoever constructs the client - not
// module-level state - so independent instances never cross-talk.
type RateLimiter struct {
	mu     sync.Mutex
	minGap time.Duration
	last   map[string]time.Time
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter builds a limiter with the given minimum inter-request
// gap. A non-positive gap disables limiting.
func NewRateLimiter(minGap time.Duration) *RateLimiter {
	return &RateLimiter{
		minGap: minGap,
		last:   make(map[string]time.Time),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Wait blocks until the account's next request slot, or returns the
// context error if cancelled first. The slot is claimed up front so
// concurrent callers for the same account still serialize correctly.
func (r *RateLimiter) Wait(ctx context.Context, accountID string) error {
	if r.minGap <= 0 {
		return ctx.Err()
	}

	r.mu.Lock()
	now := r.now()
	next := now
	if prev, ok := r.last[accountID]; ok {
		if earliest := prev.Add(r.minGap); earliest.After(now) {
			next = earliest
		}
	}
	r.last[accountID] = next
	r.mu.Unlock()

	if wait := next.Sub(now); wait > 0 {
		return r.sleep(ctx, wait)
	}
	return ctx.Err()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
