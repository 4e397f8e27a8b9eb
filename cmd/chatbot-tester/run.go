package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/corradofrancolini/chatbot-tester/internal/browser"
	"github.com/corradofrancolini/chatbot-tester/internal/config"
	"github.com/corradofrancolini/chatbot-tester/internal/decision"
	"github.com/corradofrancolini/chatbot-tester/internal/engine"
	"github.com/corradofrancolini/chatbot-tester/internal/logging"
	"github.com/corradofrancolini/chatbot-tester/internal/report"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		suitePath  string
		urlFlag    string
		workers    int
		singleTurn bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a test suite in parallel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if urlFlag != "" {
				cfg.ChatbotURL = urlFlag
			}
			if workers > 0 {
				cfg.Execution.MaxWorkers = workers
			}
			if singleTurn {
				cfg.Execution.SingleTurn = true
			}
			if suitePath == "" {
				suitePath = cfg.SuitePath
			}
			if suitePath == "" {
				return fmt.Errorf("no test suite: pass --suite or set suite_path in the config")
			}

			suite, err := config.LoadSuite(suitePath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runSuite(ctx, cfg, suite)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVarP(&suitePath, "suite", "s", "", "path to test suite file")
	cmd.Flags().StringVar(&urlFlag, "url", "", "chatbot URL (overrides config)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "parallel browser sessions (overrides config)")
	cmd.Flags().BoolVar(&singleTurn, "single-turn", false, "send only the initial question")
	return cmd
}

func runSuite(ctx context.Context, cfg *config.Config, suite *config.Suite) error {
	logger := logging.NewComponentLogger("runner")

	if err := os.MkdirAll(cfg.Report.Dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	engineCfg := cfg.EngineConfig()
	if cfg.Report.Screenshots {
		engineCfg.ScreenshotDir = filepath.Join(cfg.Report.Dir, "screenshots")
	}

	factory := sessionFactory(cfg, logger)
	decider, err := buildDecider(cfg, logger)
	if err != nil {
		return err
	}

	sinks, closers, err := buildSinks(cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	metrics := engine.NewMetricsCollector(prometheus.NewRegistry())

	opts := []engine.ExecutorOption{
		engine.WithMetrics(metrics),
		engine.WithProgress(func(completed, total int, testID string) {
			fmt.Printf("\r[%d/%d] %s        ", completed, total, testID)
		}),
	}
	for _, sink := range sinks {
		opts = append(opts, engine.WithSink(sink))
	}

	exec := engine.NewParallelExecutor(engineCfg, cfg.ChatbotURL, factory, decider, logger, opts...)

	fmt.Printf("Running %d tests with %d workers against %s\n", len(suite.Tests), engineCfg.MaxWorkers, cfg.ChatbotURL)
	result, err := exec.Run(ctx, suite.Tests)
	fmt.Println()
	if err != nil {
		color.Red("Batch aborted: %v", err)
	}

	printSummary(result)

	if cfg.Report.MetricsCSV {
		path := filepath.Join(cfg.Report.Dir, "metrics.csv")
		if err := metrics.ExportCSV(path); err != nil {
			logger.Warn("metrics export failed: %v", err)
		}
	}

	if result.Errors > 0 {
		return fmt.Errorf("%d tests ended in ERROR", result.Errors)
	}
	return nil
}

// sessionFactory gives every worker index its own Chrome profile
// directory so parallel sessions never share auth state or cookies.
func sessionFactory(cfg *config.Config, logger logging.Logger) engine.SessionFactory {
	base := cfg.WorkerDataDir
	if base == "" {
		base = filepath.Join(os.TempDir(), "chatbot-tester")
	}
	settings := cfg.BrowserSettings()
	selectors := cfg.ChatbotSelectors()

	return func(workerID int) (browser.Session, error) {
		s := settings
		s.UserDataDir = filepath.Join(base, fmt.Sprintf("worker_%d", workerID))
		return browser.NewChromeSession(s, selectors, logger), nil
	}
}

func buildDecider(cfg *config.Config, logger logging.Logger) (engine.Decider, error) {
	switch cfg.Decider.Kind {
	case "pattern":
		pairs := make([][2]string, 0, len(cfg.Decider.Patterns))
		for _, p := range cfg.Decider.Patterns {
			if len(p) != 2 {
				return nil, fmt.Errorf("decider.patterns entries must be [pattern, reply] pairs")
			}
			pairs = append(pairs, [2]string{p[0], p[1]})
		}
		return decision.NewPatternTable(pairs)
	case "ollama":
		return decision.NewOllamaDecider(cfg.OllamaConfig(), logger), nil
	default:
		return decision.FixedFollowup{}, nil
	}
}

type closer interface{ Close() error }

func buildSinks(cfg *config.Config) ([]engine.ResultSink, []closer, error) {
	var sinks []engine.ResultSink
	var closers []closer

	if cfg.Report.JSONL {
		s, err := report.NewJSONLSink(filepath.Join(cfg.Report.Dir, "results.jsonl"))
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, s)
		closers = append(closers, s)
	}
	if cfg.Report.CSV {
		s, err := report.NewCSVSink(filepath.Join(cfg.Report.Dir, "results.csv"))
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, s)
		closers = append(closers, s)
	}
	return sinks, closers, nil
}

func printSummary(result engine.BatchResult) {
	bold := color.New(color.Bold)
	bold.Printf("Run %s finished in %s\n", result.RunID, result.Duration.Round(10*time.Millisecond))
	fmt.Printf("  total: %d\n", result.Total)
	color.Green("  passed: %d", result.Passed)
	if result.Failed > 0 {
		color.Yellow("  failed: %d", result.Failed)
	} else {
		fmt.Printf("  failed: %d\n", result.Failed)
	}
	if result.Errors > 0 {
		color.Red("  errors: %d", result.Errors)
	} else {
		fmt.Printf("  errors: %d\n", result.Errors)
	}
	if result.Skipped > 0 {
		fmt.Printf("  skipped: %d\n", result.Skipped)
	}
}
