// Package config loads the runner configuration with viper: defaults,
// an optional YAML file, and CHATBOT_TESTER_* environment overrides
// layered in that order.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/corradofrancolini/chatbot-tester/internal/browser"
	"github.com/corradofrancolini/chatbot-tester/internal/decision"
	"github.com/corradofrancolini/chatbot-tester/internal/engine"
)

// Config is the fully resolved runner configuration.
type Config struct {
	ChatbotURL    string `mapstructure:"chatbot_url"`
	SuitePath     string `mapstructure:"suite_path"`
	WorkerDataDir string `mapstructure:"worker_data_dir"`

	Execution ExecutionConfig `mapstructure:"execution"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Selectors SelectorsConfig `mapstructure:"selectors"`
	Decider   DeciderConfig   `mapstructure:"decider"`
	Report    ReportConfig    `mapstructure:"report"`
}

// ExecutionConfig mirrors engine.Config with config-file key names.
type ExecutionConfig struct {
	MaxWorkers         int           `mapstructure:"max_workers"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryStrategy      string        `mapstructure:"retry_strategy"`
	BaseDelay          time.Duration `mapstructure:"base_delay"`
	MaxDelay           time.Duration `mapstructure:"max_delay"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	AcquireTimeout     time.Duration `mapstructure:"acquire_timeout"`
	TestTimeout        time.Duration `mapstructure:"test_timeout"`
	MaxTurns           int           `mapstructure:"max_turns"`
	SingleTurn         bool          `mapstructure:"single_turn"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	StabilityWindow    time.Duration `mapstructure:"stability_window"`
	ResponseTimeout    time.Duration `mapstructure:"response_timeout"`
}

type BrowserConfig struct {
	Headless       bool          `mapstructure:"headless"`
	ViewportWidth  int           `mapstructure:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height"`
	ActionTimeout  time.Duration `mapstructure:"action_timeout"`
}

type SelectorsConfig struct {
	Input            string `mapstructure:"input"`
	SendButton       string `mapstructure:"send_button"`
	BotMessages      string `mapstructure:"bot_messages"`
	LoadingIndicator string `mapstructure:"loading_indicator"`
	Inner            string `mapstructure:"inner"`
}

// DeciderConfig selects the follow-up strategy.
type DeciderConfig struct {
	Kind     string       `mapstructure:"kind"` // fixed | pattern | ollama
	Patterns [][]string   `mapstructure:"patterns"`
	Ollama   OllamaConfig `mapstructure:"ollama"`
}

type OllamaConfig struct {
	URL     string        `mapstructure:"url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ReportConfig struct {
	Dir         string `mapstructure:"dir"`
	JSONL       bool   `mapstructure:"jsonl"`
	CSV         bool   `mapstructure:"csv"`
	Screenshots bool   `mapstructure:"screenshots"`
	MetricsCSV  bool   `mapstructure:"metrics_csv"`
}

// Load resolves the configuration. path may be empty, in which case
// defaults plus environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHATBOT_TESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := engine.DefaultConfig()
	v.SetDefault("worker_data_dir", "")
	v.SetDefault("execution.max_workers", def.MaxWorkers)
	v.SetDefault("execution.max_retries", def.MaxRetries)
	v.SetDefault("execution.retry_strategy", string(def.RetryStrategy))
	v.SetDefault("execution.base_delay", def.BaseDelay)
	v.SetDefault("execution.max_delay", def.MaxDelay)
	v.SetDefault("execution.rate_limit_per_minute", def.RateLimitPerMinute)
	v.SetDefault("execution.acquire_timeout", def.AcquireTimeout)
	v.SetDefault("execution.test_timeout", def.TestTimeout)
	v.SetDefault("execution.max_turns", def.MaxTurns)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("browser.action_timeout", 30*time.Second)
	v.SetDefault("decider.kind", "fixed")
	v.SetDefault("decider.ollama.url", "http://localhost:11434")
	v.SetDefault("decider.ollama.model", "mistral")
	v.SetDefault("decider.ollama.timeout", 2*time.Minute)
	v.SetDefault("report.dir", "./reports")
	v.SetDefault("report.jsonl", true)
	v.SetDefault("report.csv", true)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.ChatbotURL == "" {
		return fmt.Errorf("chatbot_url is required")
	}
	if c.Selectors.Input == "" || c.Selectors.BotMessages == "" {
		return fmt.Errorf("selectors.input and selectors.bot_messages are required")
	}
	switch c.Decider.Kind {
	case "fixed", "pattern", "ollama":
	default:
		return fmt.Errorf("decider.kind %q is not one of fixed, pattern, ollama", c.Decider.Kind)
	}
	if c.Execution.MaxWorkers < 1 {
		return fmt.Errorf("execution.max_workers must be >= 1")
	}
	return nil
}

// EngineConfig converts to the engine's own config type.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		MaxWorkers:         c.Execution.MaxWorkers,
		MaxRetries:         c.Execution.MaxRetries,
		RetryStrategy:      engine.RetryStrategy(c.Execution.RetryStrategy),
		BaseDelay:          c.Execution.BaseDelay,
		MaxDelay:           c.Execution.MaxDelay,
		RateLimitPerMinute: c.Execution.RateLimitPerMinute,
		AcquireTimeout:     c.Execution.AcquireTimeout,
		TestTimeout:        c.Execution.TestTimeout,
		MaxTurns:           c.Execution.MaxTurns,
		SingleTurn:         c.Execution.SingleTurn,
		PollInterval:       c.Execution.PollInterval,
		StabilityWindow:    c.Execution.StabilityWindow,
		ResponseTimeout:    c.Execution.ResponseTimeout,
	}
}

// BrowserSettings converts to the browser package's settings.
func (c *Config) BrowserSettings() browser.Settings {
	return browser.Settings{
		Headless:       c.Browser.Headless,
		ViewportWidth:  c.Browser.ViewportWidth,
		ViewportHeight: c.Browser.ViewportHeight,
		ActionTimeout:  c.Browser.ActionTimeout,
	}
}

// ChatbotSelectors converts to the browser package's selector set.
func (c *Config) ChatbotSelectors() browser.ChatbotSelectors {
	return browser.ChatbotSelectors{
		Input:            c.Selectors.Input,
		SendButton:       c.Selectors.SendButton,
		BotMessages:      c.Selectors.BotMessages,
		LoadingIndicator: c.Selectors.LoadingIndicator,
		Inner:            c.Selectors.Inner,
	}
}

// OllamaConfig converts to the decision package's client config.
func (c *Config) OllamaConfig() decision.OllamaConfig {
	return decision.OllamaConfig{
		URL:     c.Decider.Ollama.URL,
		Model:   c.Decider.Ollama.Model,
		Timeout: c.Decider.Ollama.Timeout,
	}
}
