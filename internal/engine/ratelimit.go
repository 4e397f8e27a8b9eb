package engine

import (
	"context"
	"sync"
	"time"
)

const rateWindow = time.Minute

// RateLimiter grants at most limit admissions in any trailing 60 second
// window. Callers over the limit are suspended until the oldest grant
// ages out. The timestamp window is the only shared state and is only
// touched under the mutex; holding it across the wait also serializes
// concurrent callers, so grants stay consistent.
type RateLimiter struct {
	limit int

	mu     sync.Mutex
	grants []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter builds a limiter for perMinute admissions. A
// non-positive limit disables admission control.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		limit: perMinute,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Acquire blocks until an admission is available, then records it.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	if r.limit <= 0 {
		return ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.prune(now)

	if len(r.grants) >= r.limit {
		oldest := r.grants[0]
		wait := rateWindow - now.Sub(oldest) + 100*time.Millisecond
		if wait > 0 {
			if err := r.sleep(ctx, wait); err != nil {
				return err
			}
		}
		r.prune(r.now())
	}

	r.grants = append(r.grants, r.now())
	return nil
}

// prune drops grants older than the trailing window. Caller holds mu.
func (r *RateLimiter) prune(now time.Time) {
	keep := r.grants[:0]
	for _, t := range r.grants {
		if now.Sub(t) < rateWindow {
			keep = append(keep, t)
		}
	}
	r.grants = keep
}

// InFlight returns the number of grants still inside the window.
func (r *RateLimiter) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(r.now())
	return len(r.grants)
}
