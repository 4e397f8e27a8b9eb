package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/corradofrancolini/chatbot-tester/internal/async"
	"github.com/corradofrancolini/chatbot-tester/internal/browser"
	enginerrors "github.com/corradofrancolini/chatbot-tester/internal/errors"
	"github.com/corradofrancolini/chatbot-tester/internal/logging"
)

// Decider picks the next user message given the conversation so far and
// the follow-ups not yet sent. Returning ok=false ends the conversation.
// Implementations are injected: pattern table, fixed follow-ups, or an
// LLM-backed variant.
type Decider interface {
	Next(ctx context.Context, conversation []ConversationTurn, followups []string) (msg string, ok bool, err error)
}

// Evaluator judges a finished conversation. Implementations live outside
// the engine; when nil, a test passes iff every user turn got a reply.
type Evaluator interface {
	Evaluate(ctx context.Context, test TestCase, conversation []ConversationTurn) (passed bool, reason string, err error)
}

// ParallelExecutor runs a batch of test cases over a worker pool with
// bounded concurrency, rate limiting and per-test retries. One test's
// failure never aborts its siblings; only total pool-initialization
// failure aborts the batch.
type ParallelExecutor struct {
	cfg        Config
	chatbotURL string
	factory    SessionFactory
	decider    Decider
	evaluator  Evaluator
	limiter    *RateLimiter
	policy     RetryPolicy
	metrics    *MetricsCollector
	progress   ProgressFunc
	sinks      []ResultSink
	logger     logging.Logger

	// sleep is swapped out in tests to keep backoff deterministic.
	sleep func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	completed int
}

// ExecutorOption tweaks an executor at construction time.
type ExecutorOption func(*ParallelExecutor)

// WithProgress registers the progress callback.
func WithProgress(fn ProgressFunc) ExecutorOption {
	return func(e *ParallelExecutor) { e.progress = fn }
}

// WithSink adds a result sink; sinks are invoked in registration order.
func WithSink(sink ResultSink) ExecutorOption {
	return func(e *ParallelExecutor) { e.sinks = append(e.sinks, sink) }
}

// WithEvaluator sets the external judge for finished conversations.
func WithEvaluator(ev Evaluator) ExecutorOption {
	return func(e *ParallelExecutor) { e.evaluator = ev }
}

// WithMetrics attaches a collector for per-phase timings.
func WithMetrics(m *MetricsCollector) ExecutorOption {
	return func(e *ParallelExecutor) { e.metrics = m }
}

// NewParallelExecutor wires an executor. The rate limiter and retry
// policy are built from cfg once per batch and shared by every task.
func NewParallelExecutor(cfg Config, chatbotURL string, factory SessionFactory, decider Decider, logger logging.Logger, opts ...ExecutorOption) *ParallelExecutor {
	e := &ParallelExecutor{
		cfg:        cfg,
		chatbotURL: chatbotURL,
		factory:    factory,
		decider:    decider,
		limiter:    NewRateLimiter(cfg.RateLimitPerMinute),
		policy: RetryPolicy{
			Strategy:  cfg.RetryStrategy,
			BaseDelay: cfg.BaseDelay,
			MaxDelay:  cfg.MaxDelay,
		},
		logger: logging.OrNop(logger),
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the batch and blocks until every test has a result.
func (e *ParallelExecutor) Run(ctx context.Context, tests []TestCase) (BatchResult, error) {
	result := BatchResult{
		RunID: uuid.NewString(),
		Total: len(tests),
	}
	if len(tests) == 0 {
		return result, nil
	}

	start := time.Now()

	poolSize := e.cfg.MaxWorkers
	if len(tests) < poolSize {
		poolSize = len(tests)
	}
	pool := NewWorkerPool(poolSize, e.factory, e.logger)

	if err := pool.Initialize(ctx); err != nil {
		// Zero workers started: the whole batch is dead on arrival.
		// Every test gets the same explanatory note, no retries.
		note := fmt.Sprintf("batch aborted: %v", err)
		for _, tc := range tests {
			result.Results = append(result.Results, TestExecutionResult{
				TestCase:     tc,
				Conversation: []ConversationTurn{},
				Outcome:      OutcomeError,
				Notes:        note,
			})
		}
		e.tally(&result, time.Since(start))
		return result, err
	}
	defer pool.Shutdown()

	e.mu.Lock()
	e.completed = 0
	e.mu.Unlock()

	sem := semaphore.NewWeighted(int64(e.cfg.MaxWorkers))
	results := make([]TestExecutionResult, len(tests))

	var wg sync.WaitGroup
	for i, tc := range tests {
		wg.Add(1)
		i, tc := i, tc
		async.Go(e.logger, fmt.Sprintf("executor.test.%s", tc.ID), func() {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = TestExecutionResult{
					TestCase:     tc,
					Conversation: []ConversationTurn{},
					Outcome:      OutcomeError,
					Notes:        fmt.Sprintf("not scheduled: %v", err),
				}
				e.finish(results[i], len(tests))
				return
			}
			defer sem.Release(1)

			results[i] = e.runTest(ctx, pool, tc)
			e.finish(results[i], len(tests))
		})
	}
	wg.Wait()

	result.Results = results
	result.Workers = pool.Stats()
	e.tally(&result, time.Since(start))
	return result, nil
}

// finish publishes one completed test: monotonic progress counter, then
// the sinks. Counter updates are serialized; sink calls happen outside
// the critical section.
func (e *ParallelExecutor) finish(res TestExecutionResult, total int) {
	e.mu.Lock()
	e.completed++
	if e.progress != nil {
		// Invoked under the lock so callers observe strictly
		// increasing counts. The callback contract is to return fast.
		e.progress(e.completed, total, res.TestCase.ID)
	}
	e.mu.Unlock()
	for _, sink := range e.sinks {
		if err := sink.Accept(res); err != nil {
			e.logger.Warn("sink rejected result for %s: %v", res.TestCase.ID, err)
		}
	}
}

func (e *ParallelExecutor) tally(result *BatchResult, elapsed time.Duration) {
	result.Duration = elapsed
	result.Completed = len(result.Results)
	for _, r := range result.Results {
		switch r.Outcome {
		case OutcomePass:
			result.Passed++
		case OutcomeFail:
			result.Failed++
		case OutcomeError:
			result.Errors++
		case OutcomeSkip:
			result.Skipped++
		}
	}
}

// runTest is the per-test retry loop. Every retry restarts the
// conversation from scratch: re-navigate, fresh turn sequence.
func (e *ParallelExecutor) runTest(ctx context.Context, pool *WorkerPool, tc TestCase) TestExecutionResult {
	var lastErr error

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		res, err := e.attempt(ctx, pool, tc, attempt)
		if err == nil {
			res.RetryCount = attempt
			return res
		}
		lastErr = err

		if enginerrors.IsEvaluation(err) {
			// Judgement failures are verdicts, not execution errors.
			return TestExecutionResult{
				TestCase:     tc,
				Conversation: res.Conversation,
				Outcome:      OutcomeFail,
				Duration:     res.Duration,
				RetryCount:   attempt,
				Notes:        err.Error(),
			}
		}
		if !enginerrors.IsTransient(err) {
			break
		}
		if attempt == e.cfg.MaxRetries {
			break
		}

		delay := e.policy.Delay(attempt)
		e.logger.Info("test %s: attempt %d failed (%v), retrying in %s", tc.ID, attempt, err, delay)
		if delay > 0 {
			if serr := e.sleep(ctx, delay); serr != nil {
				lastErr = serr
				break
			}
		}
	}

	return TestExecutionResult{
		TestCase:     tc,
		Conversation: []ConversationTurn{},
		Outcome:      OutcomeError,
		RetryCount:   e.cfg.MaxRetries,
		Notes:        fmt.Sprintf("failed after %d attempts: %v", e.cfg.MaxRetries+1, lastErr),
	}
}

// attempt drives one full conversation on a pool worker. The worker is
// released on every exit path.
func (e *ParallelExecutor) attempt(ctx context.Context, pool *WorkerPool, tc TestCase, attempt int) (TestExecutionResult, error) {
	if err := e.limiter.Acquire(ctx); err != nil {
		return TestExecutionResult{TestCase: tc}, err
	}

	worker, err := pool.Acquire(ctx, e.cfg.AcquireTimeout)
	if err != nil {
		return TestExecutionResult{TestCase: tc}, err
	}
	defer pool.Release(worker)

	worker.SetCurrentTest(tc.ID)
	if e.metrics != nil {
		e.metrics.TestStarted()
		defer e.metrics.TestFinished()
	}

	tctx, cancel := context.WithTimeout(ctx, e.cfg.TestTimeout)
	defer cancel()

	start := time.Now()
	timings := PhaseTimings{TestID: tc.ID, Retries: attempt}

	conversation, err := e.converse(tctx, worker, tc, &timings)
	if err != nil {
		return TestExecutionResult{TestCase: tc, Conversation: conversation, Duration: time.Since(start)},
			e.classify(ctx, tctx, tc, err)
	}

	res := TestExecutionResult{
		TestCase:     tc,
		Conversation: conversation,
		WorkerID:     worker.ID,
		Duration:     time.Since(start),
	}

	if e.cfg.ScreenshotDir != "" {
		ssStart := time.Now()
		path := filepath.Join(e.cfg.ScreenshotDir, tc.ID+".png")
		if err := worker.Session.TakeScreenshot(tctx, path); err != nil {
			e.logger.Warn("test %s: screenshot failed: %v", tc.ID, err)
		} else {
			res.ScreenshotPath = path
		}
		timings.Screenshot = time.Since(ssStart)
	}

	evStart := time.Now()
	outcome, notes, err := e.judge(tctx, tc, conversation)
	timings.Evaluation = time.Since(evStart)
	if err != nil {
		return res, err
	}
	res.Outcome = outcome
	res.Notes = notes
	res.Duration = time.Since(start)

	worker.MarkCompleted()

	timings.Total = res.Duration
	if e.metrics != nil {
		e.metrics.Record(timings, res.Outcome)
	}
	return res, nil
}

// converse sends the initial question and then follow-ups chosen by the
// decider until it declines, a response goes missing, or the turn cap is
// reached. Turns strictly alternate user/assistant.
func (e *ParallelExecutor) converse(ctx context.Context, worker *Worker, tc TestCase, timings *PhaseTimings) ([]ConversationTurn, error) {
	sess := worker.Session

	navStart := time.Now()
	if err := sess.Navigate(ctx, e.chatbotURL); err != nil {
		return nil, &enginerrors.ConnectionError{WorkerID: worker.ID, Op: "navigate", Err: err}
	}
	timings.Navigation = time.Since(navStart)

	conversation := make([]ConversationTurn, 0, 2*(len(tc.Followups)+1))

	reply, ok, err := e.exchange(ctx, worker, tc.ID, tc.Question, len(conversation)/2, timings)
	if err != nil {
		return conversation, err
	}
	conversation = append(conversation, userTurn(tc.Question))
	if !ok {
		return conversation, nil
	}
	conversation = append(conversation, assistantTurn(reply))

	if e.cfg.SingleTurn {
		return conversation, nil
	}

	remaining := append([]string(nil), tc.Followups...)
	for turn := 1; turn < e.cfg.MaxTurns; turn++ {
		next, more, err := e.decider.Next(ctx, conversation, remaining)
		if err != nil {
			return conversation, &enginerrors.EvaluationError{TestID: tc.ID, Reason: fmt.Sprintf("decider: %v", err)}
		}
		if !more || next == "" {
			break
		}
		remaining = removeFirst(remaining, next)

		reply, ok, err := e.exchange(ctx, worker, tc.ID, next, turn, timings)
		if err != nil {
			return conversation, err
		}
		conversation = append(conversation, userTurn(next))
		if !ok {
			break
		}
		conversation = append(conversation, assistantTurn(reply))
	}

	return conversation, nil
}

// exchange performs one send-and-wait. The baseline count is captured
// before the send so the waiter can spot the new message.
func (e *ParallelExecutor) exchange(ctx context.Context, worker *Worker, testID, msg string, turn int, timings *PhaseTimings) (string, bool, error) {
	sess := worker.Session

	baseline, err := sess.ResponseCount(ctx)
	if err != nil {
		return "", false, &enginerrors.ConnectionError{WorkerID: worker.ID, Op: "count", Err: err}
	}
	if err := sess.SendMessage(ctx, msg); err != nil {
		return "", false, &enginerrors.ConnectionError{WorkerID: worker.ID, Op: "send", Err: err}
	}

	waiter := e.newWaiter(sess)
	waitStart := time.Now()
	text, ok, err := waiter.Await(ctx, baseline)
	timings.ResponseWait += time.Since(waitStart)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", false, &enginerrors.ResponseTimeoutError{TestID: testID, Turn: turn, Elapsed: time.Since(waitStart)}
		}
		return "", false, err
	}
	return text, ok, nil
}

func (e *ParallelExecutor) newWaiter(obs browser.Observer) *browser.ResponseWaiter {
	w := browser.NewResponseWaiter(obs, e.logger)
	if e.cfg.PollInterval > 0 {
		w.PollInterval = e.cfg.PollInterval
	}
	if e.cfg.StabilityWindow > 0 {
		w.StabilityWindow = e.cfg.StabilityWindow
	}
	if e.cfg.ResponseTimeout > 0 {
		w.Timeout = e.cfg.ResponseTimeout
	}
	return w
}

// judge produces the verdict. With no evaluator configured a test passes
// iff every user turn received a reply.
func (e *ParallelExecutor) judge(ctx context.Context, tc TestCase, conversation []ConversationTurn) (Outcome, string, error) {
	if e.evaluator != nil {
		passed, reason, err := e.evaluator.Evaluate(ctx, tc, conversation)
		if err != nil {
			return OutcomeError, "", &enginerrors.EvaluationError{TestID: tc.ID, Reason: err.Error()}
		}
		if passed {
			return OutcomePass, reason, nil
		}
		return OutcomeFail, reason, nil
	}

	users, assistants := 0, 0
	for _, turn := range conversation {
		switch turn.Role {
		case RoleUser:
			users++
		case RoleAssistant:
			assistants++
		}
	}
	if users == 0 || assistants < users {
		return OutcomeFail, "no response from chatbot", nil
	}
	return OutcomePass, "", nil
}

// classify converts a mid-attempt failure into the taxonomy error the
// retry loop acts on. A dead per-test deadline counts as a timeout and
// stays retryable; a dead parent context aborts.
func (e *ParallelExecutor) classify(ctx, tctx context.Context, tc TestCase, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if tctx.Err() != nil && !enginerrors.IsTransient(err) {
		return &enginerrors.ResponseTimeoutError{TestID: tc.ID, Elapsed: e.cfg.TestTimeout}
	}
	return err
}

func userTurn(content string) ConversationTurn {
	return ConversationTurn{Role: RoleUser, Content: content, Timestamp: time.Now().UTC()}
}

func assistantTurn(content string) ConversationTurn {
	return ConversationTurn{Role: RoleAssistant, Content: content, Timestamp: time.Now().UTC()}
}

func removeFirst(list []string, v string) []string {
	for i, s := range list {
		if s == v {
			return append(append([]string(nil), list[:i]...), list[i+1:]...)
		}
	}
	return list
}
