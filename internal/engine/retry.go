package engine

import "time"

// RetryStrategy selects how the delay between attempts grows.
type RetryStrategy string

const (
	RetryNone        RetryStrategy = "none"
	RetryLinear      RetryStrategy = "linear"
	RetryExponential RetryStrategy = "exponential"
)

// RetryPolicy maps an attempt number to a backoff delay. It holds no
// mutable state, so one value is shared by every concurrent task.
type RetryPolicy struct {
	Strategy  RetryStrategy
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Delay returns how long to wait after the given zero-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	switch p.Strategy {
	case RetryNone:
		return 0
	case RetryLinear:
		return p.BaseDelay
	case RetryExponential:
		delay := p.BaseDelay
		for i := 0; i < attempt; i++ {
			delay *= 2
			if delay >= p.MaxDelay {
				return p.MaxDelay
			}
		}
		if delay > p.MaxDelay {
			return p.MaxDelay
		}
		return delay
	default:
		return p.BaseDelay
	}
}
