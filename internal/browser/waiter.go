package browser

import (
	"context"
	"time"

	"github.com/corradofrancolini/chatbot-tester/internal/logging"
)

// WaitState labels where the waiter is in its polling protocol.
type WaitState string

const (
	StateSent           WaitState = "sent"
	StatePolling        WaitState = "polling"
	StateLoading        WaitState = "loading"
	StateCountIncreased WaitState = "count_increased"
	StateStable         WaitState = "stable"
	StateTimeout        WaitState = "timeout"
)

// ResponseWaiter detects when an event-less chatbot UI has finished
// responding, by polling the DOM. Protocol:
//
//	SENT -> POLLING -> {LOADING, COUNT_INCREASED, STABLE, TIMEOUT}
//
// The baseline response count is captured when the message is sent; the
// waiter polls until the count rises above it, then re-reads the latest
// message text until it has been unchanged for the stability window.
// A count that never rises before the timeout is a valid outcome, not
// an error: the missing turn is judged downstream.
type ResponseWaiter struct {
	obs    Observer
	logger logging.Logger

	// PollInterval is the delay between DOM observations.
	PollInterval time.Duration
	// StabilityWindow is how long the text must stay unchanged before
	// the response is treated as final.
	StabilityWindow time.Duration
	// Timeout bounds the wait for the count to increase.
	Timeout time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	state WaitState
}

// NewResponseWaiter builds a waiter with the default 200ms poll, 1s
// stability window and 60s timeout.
func NewResponseWaiter(obs Observer, logger logging.Logger) *ResponseWaiter {
	return &ResponseWaiter{
		obs:             obs,
		logger:          logging.OrNop(logger),
		PollInterval:    200 * time.Millisecond,
		StabilityWindow: time.Second,
		Timeout:         60 * time.Second,
		now:             time.Now,
		sleep:           waiterSleep,
	}
}

func waiterSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the last state the waiter reached.
func (w *ResponseWaiter) State() WaitState { return w.state }

// Await polls until a new bot message appears relative to baseline and
// its text stabilizes. ok is false when the timeout elapsed with no new
// message; err is non-nil only on context cancellation.
func (w *ResponseWaiter) Await(ctx context.Context, baseline int) (text string, ok bool, err error) {
	w.state = StateSent
	deadline := w.now().Add(w.Timeout)

	w.state = StatePolling
	for w.now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}

		// The typing indicator is re-checked fresh every tick. While it
		// is visible we stay in LOADING and keep polling.
		if loading, err := w.obs.LoadingVisible(ctx); err == nil && loading {
			w.state = StateLoading
			if err := w.sleep(ctx, w.PollInterval); err != nil {
				return "", false, err
			}
			continue
		}
		w.state = StatePolling

		count, err := w.obs.ResponseCount(ctx)
		if err != nil {
			// Transient DOM flake: log and poll again.
			w.logger.Debug("response count read failed: %v", err)
			if err := w.sleep(ctx, w.PollInterval); err != nil {
				return "", false, err
			}
			continue
		}

		// A count at or below baseline is noise (flaky UIs sometimes
		// re-render and momentarily drop messages). Keep polling.
		if count > baseline {
			w.state = StateCountIncreased
			text, err := w.stabilize(ctx)
			if err != nil {
				return "", false, err
			}
			w.state = StateStable
			return text, true, nil
		}

		if err := w.sleep(ctx, w.PollInterval); err != nil {
			return "", false, err
		}
	}

	w.state = StateTimeout
	w.logger.Warn("no response before %s timeout", w.Timeout)
	return "", false, nil
}

// stabilize re-reads the latest message until the text is unchanged for
// the full stability window, then returns it.
func (w *ResponseWaiter) stabilize(ctx context.Context) (string, error) {
	lastText := ""
	var stableSince time.Time

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, err := w.obs.LatestResponseText(ctx)
		if err != nil {
			w.logger.Debug("latest text read failed: %v", err)
			return lastText, nil
		}

		if text == lastText {
			if stableSince.IsZero() {
				stableSince = w.now()
			} else if w.now().Sub(stableSince) >= w.StabilityWindow {
				return text, nil
			}
		} else {
			lastText = text
			stableSince = time.Time{}
		}

		if err := w.sleep(ctx, w.PollInterval); err != nil {
			return "", err
		}
	}
}
