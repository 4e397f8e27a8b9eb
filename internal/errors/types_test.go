package errors

import (
	"fmt"
	"testing"
	"time"
)

func TestTransientClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		transient bool
	}{
		{"connection", &ConnectionError{WorkerID: 1, Op: "navigate"}, true},
		{"response timeout", &ResponseTimeoutError{TestID: "t1", Turn: 2, Elapsed: time.Minute}, true},
		{"pool exhausted", &PoolExhaustedError{Waited: 30 * time.Second}, true},
		{"fatal init", &FatalInitError{Requested: 3}, false},
		{"evaluation", &EvaluationError{TestID: "t1", Reason: "off topic"}, false},
		{"plain", fmt.Errorf("boom"), false},
		{"nil", nil, false},
	}

	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.transient {
			t.Errorf("%s: IsTransient = %v, want %v", tc.name, got, tc.transient)
		}
	}
}

func TestWrappedErrorsStillClassify(t *testing.T) {
	inner := &ConnectionError{WorkerID: 0, Op: "send", Err: fmt.Errorf("socket closed")}
	wrapped := fmt.Errorf("attempt 2: %w", inner)

	if !IsTransient(wrapped) {
		t.Error("wrapped ConnectionError should stay transient")
	}

	fatal := fmt.Errorf("run aborted: %w", &FatalInitError{Requested: 4})
	if !IsFatal(fatal) {
		t.Error("wrapped FatalInitError should stay fatal")
	}
	if IsTransient(fatal) {
		t.Error("FatalInitError must never be transient")
	}
}

func TestEvaluationErrorIsNotRetryable(t *testing.T) {
	err := &EvaluationError{TestID: "smoke-01", Reason: "missing citation"}
	if IsTransient(err) {
		t.Error("evaluation failures must not be retried")
	}
	if !IsEvaluation(err) {
		t.Error("IsEvaluation should match EvaluationError")
	}
}
