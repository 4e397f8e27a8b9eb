package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corradofrancolini/chatbot-tester/internal/browser"
	"github.com/corradofrancolini/chatbot-tester/internal/logging"
)

func makeTests(n int) []TestCase {
	tests := make([]TestCase, n)
	for i := range tests {
		tests[i] = TestCase{
			ID:       fmt.Sprintf("case-%02d", i),
			Question: fmt.Sprintf("question %d", i),
			Category: "smoke",
		}
	}
	return tests
}

func TestRunAllPassSingleWorker(t *testing.T) {
	cfg := fastConfig(1)
	exec := NewParallelExecutor(cfg, "https://bot.example/chat", stubFactory(), followupDecider{}, logging.Nop())

	result, err := exec.Run(context.Background(), makeTests(3))
	require.NoError(t, err)
	require.Equal(t, 3, result.Total)
	require.Equal(t, 3, result.Completed)
	require.Equal(t, 3, result.Passed)
	require.Zero(t, result.Failed)
	require.Zero(t, result.Errors)
	require.NotEmpty(t, result.RunID)

	for _, r := range result.Results {
		require.Equal(t, OutcomePass, r.Outcome)
		require.Len(t, r.Conversation, 2, "one question, one reply")
		require.Equal(t, RoleUser, r.Conversation[0].Role)
		require.Equal(t, RoleAssistant, r.Conversation[1].Role)
	}
}

func TestRunFollowupsAlternateRoles(t *testing.T) {
	cfg := fastConfig(1)
	exec := NewParallelExecutor(cfg, "https://bot.example/chat", stubFactory(), followupDecider{}, logging.Nop())

	tests := []TestCase{{
		ID:        "multi-turn",
		Question:  "what plans do you offer?",
		Followups: []string{"and the cheapest?", "how do I cancel?"},
	}}
	result, err := exec.Run(context.Background(), tests)
	require.NoError(t, err)
	require.Equal(t, 1, result.Passed)

	conv := result.Results[0].Conversation
	require.Len(t, conv, 6)
	for i, turn := range conv {
		if i%2 == 0 {
			require.Equal(t, RoleUser, turn.Role, "turn %d", i)
		} else {
			require.Equal(t, RoleAssistant, turn.Role, "turn %d", i)
		}
	}
}

func TestRunParallelismBeatsSerialExecution(t *testing.T) {
	const tests = 5
	const workers = 2
	const turnDelay = 60 * time.Millisecond

	var active, maxActive int32
	factory := func(id int) (browser.Session, error) {
		return &stubSession{id: id, turnDelay: turnDelay, active: &active, maxActive: &maxActive}, nil
	}

	cfg := fastConfig(workers)
	exec := NewParallelExecutor(cfg, "https://bot.example/chat", factory, followupDecider{}, logging.Nop())

	result, err := exec.Run(context.Background(), makeTests(tests))
	require.NoError(t, err)
	require.Equal(t, tests, result.Passed)

	serial := time.Duration(tests) * turnDelay
	require.Less(t, result.Duration, serial, "5 tests on 2 workers must beat serial execution")
	require.Equal(t, int32(workers), maxActive, "both workers ran concurrently")
}

func TestRunNoResponseBecomesFailNotError(t *testing.T) {
	factory := func(id int) (browser.Session, error) {
		return &mutedSession{stubSession{id: id}}, nil
	}

	cfg := fastConfig(1)
	cfg.ResponseTimeout = 30 * time.Millisecond
	exec := NewParallelExecutor(cfg, "https://bot.example/chat", factory, followupDecider{}, logging.Nop())

	result, err := exec.Run(context.Background(), makeTests(1))
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed, "a silent bot is a reportable FAIL, not an execution error")
	require.Zero(t, result.Errors)

	r := result.Results[0]
	require.Equal(t, OutcomeFail, r.Outcome)
	require.Len(t, r.Conversation, 1, "the user turn stays, the reply is missing")
	require.Contains(t, r.Notes, "no response")
}

func TestRunRetriesTransientFailuresThenPasses(t *testing.T) {
	var failures int32 = 2
	factory := func(id int) (browser.Session, error) {
		return &stubSession{
			id: id,
			navErr: func() error {
				if atomic.AddInt32(&failures, -1) >= 0 {
					return fmt.Errorf("connection reset")
				}
				return nil
			},
		}, nil
	}

	cfg := fastConfig(1)
	cfg.MaxRetries = 2
	cfg.RetryStrategy = RetryExponential
	cfg.BaseDelay = 20 * time.Millisecond
	cfg.MaxDelay = 100 * time.Millisecond
	exec := NewParallelExecutor(cfg, "https://bot.example/chat", factory, followupDecider{}, logging.Nop())

	start := time.Now()
	result, err := exec.Run(context.Background(), makeTests(1))
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, 1, result.Passed)
	require.Equal(t, 2, result.Results[0].RetryCount)

	// Backoff after attempts 0 and 1: 20ms + 40ms.
	require.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
}

func TestRunRetriesExhaustedBecomesError(t *testing.T) {
	factory := func(id int) (browser.Session, error) {
		return &stubSession{
			id:     id,
			navErr: func() error { return fmt.Errorf("connection refused") },
		}, nil
	}

	cfg := fastConfig(1)
	cfg.MaxRetries = 1
	cfg.RetryStrategy = RetryLinear
	cfg.BaseDelay = 5 * time.Millisecond
	exec := NewParallelExecutor(cfg, "https://bot.example/chat", factory, followupDecider{}, logging.Nop())

	result, err := exec.Run(context.Background(), makeTests(1))
	require.NoError(t, err)
	require.Equal(t, 1, result.Errors)

	r := result.Results[0]
	require.Equal(t, OutcomeError, r.Outcome)
	require.Contains(t, r.Notes, "failed after 2 attempts")
	require.Contains(t, r.Notes, "connection refused")
}

func TestRunTotalInitFailureAbortsBatch(t *testing.T) {
	factory := func(id int) (browser.Session, error) {
		return nil, fmt.Errorf("no chrome binary")
	}

	cfg := fastConfig(2)
	cfg.MaxRetries = 3
	exec := NewParallelExecutor(cfg, "https://bot.example/chat", factory, followupDecider{}, logging.Nop())

	result, err := exec.Run(context.Background(), makeTests(4))
	require.Error(t, err)
	require.Equal(t, 4, result.Errors, "every test marked ERROR")

	note := result.Results[0].Notes
	for _, r := range result.Results {
		require.Equal(t, OutcomeError, r.Outcome)
		require.Equal(t, note, r.Notes, "one shared explanatory note")
		require.Zero(t, r.RetryCount, "no retries attempted")
	}
}

func TestRunProgressCallbackIsMonotonic(t *testing.T) {
	var mu sync.Mutex
	var seen []int

	cfg := fastConfig(3)
	exec := NewParallelExecutor(cfg, "https://bot.example/chat", stubFactory(), followupDecider{}, logging.Nop(),
		WithProgress(func(completed, total int, testID string) {
			mu.Lock()
			seen = append(seen, completed)
			mu.Unlock()
			require.Equal(t, 6, total)
			require.NotEmpty(t, testID)
		}))

	_, err := exec.Run(context.Background(), makeTests(6))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 6, "invoked once per completed test")
	for i, c := range seen {
		require.Equal(t, i+1, c, "completed count increases monotonically")
	}
}

type recordingSink struct {
	mu      sync.Mutex
	results []TestExecutionResult
}

func (s *recordingSink) Accept(r TestExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	return nil
}

func TestRunFeedsEveryResultToSinks(t *testing.T) {
	sink := &recordingSink{}
	cfg := fastConfig(2)
	exec := NewParallelExecutor(cfg, "https://bot.example/chat", stubFactory(), followupDecider{}, logging.Nop(),
		WithSink(sink))

	_, err := exec.Run(context.Background(), makeTests(4))
	require.NoError(t, err)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.results, 4)
}

type stubEvaluator struct {
	passed bool
	reason string
}

func (e stubEvaluator) Evaluate(context.Context, TestCase, []ConversationTurn) (bool, string, error) {
	return e.passed, e.reason, nil
}

func TestRunEvaluatorVerdictWins(t *testing.T) {
	cfg := fastConfig(1)
	exec := NewParallelExecutor(cfg, "https://bot.example/chat", stubFactory(), followupDecider{}, logging.Nop(),
		WithEvaluator(stubEvaluator{passed: false, reason: "answer off topic"}))

	result, err := exec.Run(context.Background(), makeTests(1))
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed)
	require.Equal(t, "answer off topic", result.Results[0].Notes)
}

func TestRunEmptyBatch(t *testing.T) {
	exec := NewParallelExecutor(fastConfig(2), "https://bot.example/chat", stubFactory(), followupDecider{}, logging.Nop())
	result, err := exec.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, result.Total)
	require.Empty(t, result.Results)
}

func TestRunMetricsCollected(t *testing.T) {
	metrics := NewMetricsCollector(nil)
	cfg := fastConfig(2)
	exec := NewParallelExecutor(cfg, "https://bot.example/chat", stubFactory(), followupDecider{}, logging.Nop(),
		WithMetrics(metrics))

	_, err := exec.Run(context.Background(), makeTests(3))
	require.NoError(t, err)

	summary := metrics.Summary()
	require.Equal(t, 3, summary.TotalTests)
	require.Greater(t, summary.AvgResponseWait, time.Duration(0))
}
