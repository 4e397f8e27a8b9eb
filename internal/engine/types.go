package engine

import (
	"time"
)

// Outcome is the final verdict of one test case.
type Outcome string

const (
	OutcomePass  Outcome = "PASS"
	OutcomeFail  Outcome = "FAIL"
	OutcomeError Outcome = "ERROR"
	OutcomeSkip  Outcome = "SKIP"
)

// TestCase is one scripted conversation to run against the chatbot.
// Loaded by the caller and read-only to the engine.
type TestCase struct {
	ID        string   `json:"id" yaml:"id"`
	Question  string   `json:"question" yaml:"question"`
	Followups []string `json:"followups,omitempty" yaml:"followups,omitempty"`
	Category  string   `json:"category,omitempty" yaml:"category,omitempty"`
	Expected  string   `json:"expected,omitempty" yaml:"expected,omitempty"`
}

// Role tags one side of the conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one message in a conversation. Turns strictly
// alternate starting with the user; every retry starts a fresh sequence.
type ConversationTurn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// TestExecutionResult is the outcome of the final attempt of one test.
// Intermediate failed attempts are discarded except for their message.
type TestExecutionResult struct {
	TestCase       TestCase           `json:"test_case"`
	Conversation   []ConversationTurn `json:"conversation"`
	Outcome        Outcome            `json:"outcome"`
	Duration       time.Duration      `json:"duration"`
	RetryCount     int                `json:"retry_count"`
	Notes          string             `json:"notes,omitempty"`
	ScreenshotPath string             `json:"screenshot_path,omitempty"`
	WorkerID       int                `json:"worker_id"`
}

// WorkerStats is a point-in-time snapshot of one pool worker.
type WorkerStats struct {
	ID             int    `json:"id"`
	Busy           bool   `json:"busy"`
	TestsCompleted int    `json:"tests_completed"`
	CurrentTest    string `json:"current_test,omitempty"`
}

// BatchResult aggregates one full parallel run.
type BatchResult struct {
	RunID     string                `json:"run_id"`
	Total     int                   `json:"total"`
	Completed int                   `json:"completed"`
	Passed    int                   `json:"passed"`
	Failed    int                   `json:"failed"`
	Errors    int                   `json:"errors"`
	Skipped   int                   `json:"skipped"`
	Duration  time.Duration         `json:"duration"`
	Results   []TestExecutionResult `json:"results"`
	Workers   []WorkerStats         `json:"workers,omitempty"`
}

// ProgressFunc is invoked once per completed test with a monotonically
// increasing completed count. It must return quickly.
type ProgressFunc func(completed, total int, testID string)

// ResultSink receives each finished result for external persistence.
// Implementations live outside the engine.
type ResultSink interface {
	Accept(result TestExecutionResult) error
}

// Config tunes the parallel executor.
type Config struct {
	MaxWorkers         int           `json:"max_workers" yaml:"max_workers"`
	MaxRetries         int           `json:"max_retries" yaml:"max_retries"`
	RetryStrategy      RetryStrategy `json:"retry_strategy" yaml:"retry_strategy"`
	BaseDelay          time.Duration `json:"base_delay" yaml:"base_delay"`
	MaxDelay           time.Duration `json:"max_delay" yaml:"max_delay"`
	RateLimitPerMinute int           `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	AcquireTimeout     time.Duration `json:"acquire_timeout" yaml:"acquire_timeout"`
	TestTimeout        time.Duration `json:"test_timeout" yaml:"test_timeout"`
	MaxTurns           int           `json:"max_turns" yaml:"max_turns"`
	SingleTurn         bool          `json:"single_turn" yaml:"single_turn"`
	ScreenshotDir      string        `json:"screenshot_dir" yaml:"screenshot_dir"`

	// Waiter tuning. Zero values keep the waiter defaults
	// (200ms poll, 1s stability window, 60s response timeout).
	PollInterval    time.Duration `json:"poll_interval" yaml:"poll_interval"`
	StabilityWindow time.Duration `json:"stability_window" yaml:"stability_window"`
	ResponseTimeout time.Duration `json:"response_timeout" yaml:"response_timeout"`
}

// DefaultConfig mirrors the defaults used by the interactive runner.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:         3,
		MaxRetries:         2,
		RetryStrategy:      RetryExponential,
		BaseDelay:          time.Second,
		MaxDelay:           30 * time.Second,
		RateLimitPerMinute: 60,
		AcquireTimeout:     60 * time.Second,
		TestTimeout:        2 * time.Minute,
		MaxTurns:           10,
	}
}
