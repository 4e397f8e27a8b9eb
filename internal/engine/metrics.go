package engine

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PhaseTimings breaks one test execution down by phase, for later
// bottleneck analysis.
type PhaseTimings struct {
	TestID       string        `json:"test_id"`
	Navigation   time.Duration `json:"navigation"`
	ResponseWait time.Duration `json:"response_wait"`
	Screenshot   time.Duration `json:"screenshot"`
	Evaluation   time.Duration `json:"evaluation"`
	Total        time.Duration `json:"total"`
	Retries      int           `json:"retries"`
}

// MetricsSummary aggregates a batch worth of phase timings.
type MetricsSummary struct {
	TotalTests      int           `json:"total_tests"`
	TotalDuration   time.Duration `json:"total_duration"`
	AvgDuration     time.Duration `json:"avg_duration"`
	MinDuration     time.Duration `json:"min_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
	TotalRetries    int           `json:"total_retries"`
	AvgNavigation   time.Duration `json:"avg_navigation"`
	AvgResponseWait time.Duration `json:"avg_response_wait"`
	AvgScreenshot   time.Duration `json:"avg_screenshot"`
	AvgEvaluation   time.Duration `json:"avg_evaluation"`
}

// MetricsCollector records per-phase timings and mirrors them to
// Prometheus instruments when a registry is supplied.
type MetricsCollector struct {
	mu      sync.Mutex
	entries []PhaseTimings

	outcomes  *prometheus.CounterVec
	durations prometheus.Histogram
	active    prometheus.Gauge
}

// NewMetricsCollector builds a collector. registry may be nil, in which
// case only the in-memory timings are kept.
func NewMetricsCollector(registry prometheus.Registerer) *MetricsCollector {
	c := &MetricsCollector{}
	if registry == nil {
		return c
	}

	c.outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatbot_tester",
		Name:      "tests_total",
		Help:      "Completed tests by outcome.",
	}, []string{"outcome"})
	c.durations = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chatbot_tester",
		Name:      "test_duration_seconds",
		Help:      "Wall-clock duration of one test execution.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})
	c.active = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatbot_tester",
		Name:      "active_tests",
		Help:      "Tests currently holding a worker.",
	})
	registry.MustRegister(c.outcomes, c.durations, c.active)
	return c
}

// TestStarted marks one test as holding a worker.
func (c *MetricsCollector) TestStarted() {
	if c.active != nil {
		c.active.Inc()
	}
}

// TestFinished releases the active-test gauge slot.
func (c *MetricsCollector) TestFinished() {
	if c.active != nil {
		c.active.Dec()
	}
}

// Record stores one test's timings.
func (c *MetricsCollector) Record(timings PhaseTimings, outcome Outcome) {
	c.mu.Lock()
	c.entries = append(c.entries, timings)
	c.mu.Unlock()

	if c.outcomes != nil {
		c.outcomes.WithLabelValues(string(outcome)).Inc()
	}
	if c.durations != nil {
		c.durations.Observe(timings.Total.Seconds())
	}
}

// Summary aggregates everything recorded so far.
func (c *MetricsCollector) Summary() MetricsSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := MetricsSummary{TotalTests: len(c.entries)}
	if len(c.entries) == 0 {
		return s
	}

	var nav, wait, ss, ev time.Duration
	s.MinDuration = c.entries[0].Total
	for _, e := range c.entries {
		s.TotalDuration += e.Total
		s.TotalRetries += e.Retries
		nav += e.Navigation
		wait += e.ResponseWait
		ss += e.Screenshot
		ev += e.Evaluation
		if e.Total < s.MinDuration {
			s.MinDuration = e.Total
		}
		if e.Total > s.MaxDuration {
			s.MaxDuration = e.Total
		}
	}
	n := time.Duration(len(c.entries))
	s.AvgDuration = s.TotalDuration / n
	s.AvgNavigation = nav / n
	s.AvgResponseWait = wait / n
	s.AvgScreenshot = ss / n
	s.AvgEvaluation = ev / n
	return s
}

// ExportCSV writes one row per recorded test.
func (c *MetricsCollector) ExportCSV(path string) error {
	c.mu.Lock()
	entries := append([]PhaseTimings(nil), c.entries...)
	c.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metrics csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{"test_id", "total_ms", "navigation_ms", "response_wait_ms", "screenshot_ms", "evaluation_ms", "retries"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, e := range entries {
		row := []string{
			e.TestID,
			strconv.FormatInt(e.Total.Milliseconds(), 10),
			strconv.FormatInt(e.Navigation.Milliseconds(), 10),
			strconv.FormatInt(e.ResponseWait.Milliseconds(), 10),
			strconv.FormatInt(e.Screenshot.Milliseconds(), 10),
			strconv.FormatInt(e.Evaluation.Milliseconds(), 10),
			strconv.Itoa(e.Retries),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}
