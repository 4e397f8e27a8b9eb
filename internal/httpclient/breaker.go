package httpclient

import (
	"errors"
	"net/http"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker is refusing requests.
var ErrCircuitOpen = errors.New("circuit breaker open")

const (
	defaultFailureThreshold = 5
	defaultCooldown         = 30 * time.Second
)

// CircuitBreaker trips after a run of consecutive transport failures and
// refuses further requests until the cooldown elapses. The first request
// after the cooldown probes the backend; success closes the circuit,
// failure reopens it.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	failures int
	openedAt time.Time

	now func() time.Time
}

// NewCircuitBreaker builds a breaker. Non-positive arguments fall back
// to the defaults (5 failures, 30s cooldown).
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a request may proceed.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.threshold {
		return nil
	}
	if b.now().Sub(b.openedAt) >= b.cooldown {
		// Half-open: let one probe through. A failure re-trips
		// immediately via record.
		b.failures = b.threshold - 1
		return nil
	}
	return ErrCircuitOpen
}

// record updates the failure run after a request completes.
func (b *CircuitBreaker) record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !failed {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures == b.threshold {
		b.openedAt = b.now()
	}
}

type breakerRoundTripper struct {
	base    http.RoundTripper
	breaker *CircuitBreaker
}

func (t *breakerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.breaker.Allow(); err != nil {
		return nil, err
	}
	resp, err := t.base.RoundTrip(req)
	t.breaker.record(err != nil || resp.StatusCode >= http.StatusInternalServerError)
	return resp, err
}
