package httpclient

import (
	"net/http"
	"time"

	"github.com/corradofrancolini/chatbot-tester/internal/logging"
)

// New builds an HTTP client with a request-logging transport and a
// circuit breaker. All SaaS calls made by the deciders go through here
// so latency shows up in the debug log and a dead backend stops eating
// a full timeout per request.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &breakerRoundTripper{
			breaker: NewCircuitBreaker(0, 0),
			base: &loggingRoundTripper{
				base:   http.DefaultTransport,
				logger: logging.OrNop(logger),
			},
		},
	}
}

type loggingRoundTripper struct {
	base   http.RoundTripper
	logger logging.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	elapsed := time.Since(start)
	if err != nil {
		t.logger.Warn("%s %s failed after %s: %v", req.Method, req.URL.Host, elapsed, err)
		return nil, err
	}
	t.logger.Debug("%s %s -> %d in %s", req.Method, req.URL.Host, resp.StatusCode, elapsed)
	return resp, nil
}
