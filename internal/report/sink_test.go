package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corradofrancolini/chatbot-tester/internal/engine"
)

func sampleResult(id string, outcome engine.Outcome) engine.TestExecutionResult {
	return engine.TestExecutionResult{
		TestCase: engine.TestCase{ID: id, Question: "q", Category: "smoke"},
		Conversation: []engine.ConversationTurn{
			{Role: engine.RoleUser, Content: "q", Timestamp: time.Now()},
			{Role: engine.RoleAssistant, Content: "a", Timestamp: time.Now()},
		},
		Outcome:  outcome,
		Duration: 1500 * time.Millisecond,
	}
}

func TestJSONLSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.jsonl")
	sink, err := NewJSONLSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.Accept(sampleResult("a", engine.OutcomePass)))
	require.NoError(t, sink.Accept(sampleResult("b", engine.OutcomeFail)))
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r engine.TestExecutionResult
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		ids = append(ids, r.TestCase.ID)
	}
	require.Equal(t, []string{"a", "b"}, ids)
}

func TestCSVSinkWritesSummaryRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	sink, err := NewCSVSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.Accept(sampleResult("case-1", engine.OutcomePass)))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "test_id")
	require.Contains(t, lines[1], "case-1,smoke,PASS,1500,2,0")
}

type failingSink struct{ calls int }

func (s *failingSink) Accept(engine.TestExecutionResult) error {
	s.calls++
	return fmt.Errorf("disk full")
}

func TestMultiSinkFansOutDespiteErrors(t *testing.T) {
	bad := &failingSink{}
	good := &failingSink{}
	// good also errors here; the point is both get called and the
	// first error is reported.
	m := MultiSink{bad, good}

	err := m.Accept(sampleResult("x", engine.OutcomeError))
	require.Error(t, err)
	require.Equal(t, 1, bad.calls)
	require.Equal(t, 1, good.calls)
}
