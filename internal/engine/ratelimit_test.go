package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock drives the limiter deterministically: sleeps advance the
// clock instead of blocking.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.Advance(d)
	return nil
}

func newTestLimiter(perMinute int, clock *fakeClock) *RateLimiter {
	r := NewRateLimiter(perMinute)
	r.now = clock.Now
	r.sleep = clock.Sleep
	return r
}

func TestRateLimiterUnderLimitDoesNotWait(t *testing.T) {
	clock := newFakeClock()
	r := newTestLimiter(5, clock)

	start := clock.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Acquire(context.Background()))
	}
	require.Equal(t, start, clock.Now(), "no sleeping below the limit")
	require.Equal(t, 5, r.InFlight())
}

func TestRateLimiterSuspendsAtLimit(t *testing.T) {
	clock := newFakeClock()
	r := newTestLimiter(3, clock)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Acquire(context.Background()))
		clock.Advance(time.Second)
	}

	// Fourth admission has to wait for the first grant to leave the
	// 60s window: 60 - 3s elapsed + epsilon.
	before := clock.Now()
	require.NoError(t, r.Acquire(context.Background()))
	waited := clock.Now().Sub(before)
	require.GreaterOrEqual(t, waited, 57*time.Second)
}

func TestRateLimiterWindowNeverExceedsLimit(t *testing.T) {
	clock := newFakeClock()
	r := newTestLimiter(10, clock)

	var grants []time.Time
	for i := 0; i < 40; i++ {
		require.NoError(t, r.Acquire(context.Background()))
		grants = append(grants, clock.Now())
		clock.Advance(700 * time.Millisecond)
	}

	// No trailing 60s window may contain more than 10 grants.
	for i := range grants {
		count := 0
		for j := i; j < len(grants); j++ {
			if grants[j].Sub(grants[i]) < time.Minute {
				count++
			}
		}
		require.LessOrEqual(t, count, 10, "window starting at grant %d", i)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	r := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, r.Acquire(context.Background()))
	}
}

func TestRateLimiterHonorsContextCancellation(t *testing.T) {
	r := NewRateLimiter(1)
	require.NoError(t, r.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, r.Acquire(ctx))
}
