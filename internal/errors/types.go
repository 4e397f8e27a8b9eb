package errors

import (
	"errors"
	"fmt"
	"time"
)

// The engine classifies failures into a small taxonomy. Transient errors
// are retried according to the configured backoff; permanent ones abort
// immediately. Everything caught at the task boundary is folded into a
// test result, never propagated to sibling tasks.

// ConnectionError reports an unusable worker session (browser gone,
// navigation refused, send failed). Retried.
type ConnectionError struct {
	WorkerID int
	Op       string
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker %d: %s: %v", e.WorkerID, e.Op, e.Err)
	}
	return fmt.Sprintf("worker %d: %s failed", e.WorkerID, e.Op)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ResponseTimeoutError reports that a conversation turn exceeded its
// timeout budget. Retried; ERROR once attempts are exhausted.
type ResponseTimeoutError struct {
	TestID  string
	Turn    int
	Elapsed time.Duration
}

func (e *ResponseTimeoutError) Error() string {
	return fmt.Sprintf("test %s: turn %d timed out after %s", e.TestID, e.Turn, e.Elapsed)
}

// PoolExhaustedError reports that no worker became free within the
// acquire timeout. Transient: the caller backs off and retries.
type PoolExhaustedError struct {
	Waited time.Duration
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("no worker available after %s", e.Waited)
}

// FatalInitError reports that zero workers could be started. It aborts
// the whole batch, with no per-test retries.
type FatalInitError struct {
	Requested int
	Err       error
}

func (e *FatalInitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pool init failed: 0/%d workers started: %v", e.Requested, e.Err)
	}
	return fmt.Sprintf("pool init failed: 0/%d workers started", e.Requested)
}

func (e *FatalInitError) Unwrap() error { return e.Err }

// EvaluationError carries a judgement failure produced by an external
// collaborator. Surfaced as FAIL with the reason, never retried.
type EvaluationError struct {
	TestID string
	Reason string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("test %s: evaluation failed: %s", e.TestID, e.Reason)
}

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var conn *ConnectionError
	var rto *ResponseTimeoutError
	var pool *PoolExhaustedError
	return errors.As(err, &conn) || errors.As(err, &rto) || errors.As(err, &pool)
}

// IsFatal reports whether err must abort the whole batch.
func IsFatal(err error) bool {
	var fatal *FatalInitError
	return errors.As(err, &fatal)
}

// IsEvaluation reports whether err is a judgement failure rather than an
// execution failure.
func IsEvaluation(err error) bool {
	var eval *EvaluationError
	return errors.As(err, &eval)
}
