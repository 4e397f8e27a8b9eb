// Package report persists finished test results locally. The engine
// only knows the ResultSink contract; everything about files and
// formats lives here.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/corradofrancolini/chatbot-tester/internal/engine"
)

// JSONLSink appends one JSON object per result, preserving the full
// conversation for later inspection.
type JSONLSink struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// NewJSONLSink creates or truncates path.
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create jsonl report: %w", err)
	}
	return &JSONLSink{f: f, enc: json.NewEncoder(f)}, nil
}

func (s *JSONLSink) Accept(result engine.TestExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(result)
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// CSVSink writes a one-row-per-test summary suitable for spreadsheets.
type CSVSink struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// NewCSVSink creates path and writes the header row.
func NewCSVSink(path string) (*CSVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create csv report: %w", err)
	}
	w := csv.NewWriter(f)
	header := []string{"test_id", "category", "outcome", "duration_ms", "turns", "retries", "notes", "screenshot"}
	if err := w.Write(header); err != nil {
		f.Close()
		return nil, err
	}
	return &CSVSink{f: f, w: w}, nil
}

func (s *CSVSink) Accept(result engine.TestExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := []string{
		result.TestCase.ID,
		result.TestCase.Category,
		string(result.Outcome),
		strconv.FormatInt(result.Duration.Milliseconds(), 10),
		strconv.Itoa(len(result.Conversation)),
		strconv.Itoa(result.RetryCount),
		result.Notes,
		result.ScreenshotPath,
	}
	if err := s.w.Write(row); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

// MultiSink fans one result out to several sinks. The first error wins
// but every sink still sees the result.
type MultiSink []engine.ResultSink

func (m MultiSink) Accept(result engine.TestExecutionResult) error {
	var first error
	for _, sink := range m {
		if err := sink.Accept(result); err != nil && first == nil {
			first = err
		}
	}
	return first
}
