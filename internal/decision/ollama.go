package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/corradofrancolini/chatbot-tester/internal/engine"
	"github.com/corradofrancolini/chatbot-tester/internal/httpclient"
	"github.com/corradofrancolini/chatbot-tester/internal/logging"
)

const maxOllamaResponseBytes = 1 << 20

// OllamaConfig points at a local Ollama instance.
type OllamaConfig struct {
	URL     string        `json:"url" yaml:"url"`
	Model   string        `json:"model" yaml:"model"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultOllamaConfig matches a stock local install.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		URL:     "http://localhost:11434",
		Model:   "mistral",
		Timeout: 2 * time.Minute,
	}
}

// OllamaDecider asks a local LLM which follow-up fits the conversation
// best. The model answers with a 1-based index or DONE; anything it
// garbles falls back to the first unused follow-up, so a flaky model
// degrades to the fixed strategy instead of stalling the test.
type OllamaDecider struct {
	cfg    OllamaConfig
	client *http.Client
	logger logging.Logger
}

// NewOllamaDecider wires the decider with a logging HTTP client.
func NewOllamaDecider(cfg OllamaConfig, logger logging.Logger) *OllamaDecider {
	if cfg.URL == "" {
		cfg.URL = DefaultOllamaConfig().URL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaConfig().Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultOllamaConfig().Timeout
	}
	return &OllamaDecider{
		cfg:    cfg,
		client: httpclient.New(cfg.Timeout, logger),
		logger: logging.OrNop(logger),
	}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (d *OllamaDecider) Next(ctx context.Context, conversation []engine.ConversationTurn, followups []string) (string, bool, error) {
	if len(followups) == 0 {
		return "", false, nil
	}

	answer, err := d.generate(ctx, decidePrompt(conversation, followups))
	if err != nil {
		d.logger.Warn("ollama decide failed, falling back to first follow-up: %v", err)
		return followups[0], true, nil
	}

	answer = strings.ToUpper(strings.TrimSpace(answer))
	if answer == "DONE" {
		return "", false, nil
	}
	if idx, err := strconv.Atoi(answer); err == nil && idx >= 1 && idx <= len(followups) {
		return followups[idx-1], true, nil
	}
	return followups[0], true, nil
}

func (d *OllamaDecider) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  d.cfg.Model,
		Prompt: prompt,
		System: "You are driving a QA conversation with a chatbot. Answer ONLY with the requested token.",
		Stream: false,
		Options: map[string]any{
			"temperature": 0.3,
			"num_predict": 10,
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama returned %d", resp.StatusCode)
	}

	data, err := httpclient.ReadAllWithLimit(resp.Body, maxOllamaResponseBytes)
	if err != nil {
		return "", err
	}
	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	return out.Response, nil
}

func decidePrompt(conversation []engine.ConversationTurn, followups []string) string {
	var b strings.Builder
	b.WriteString("Current conversation:\n")
	for _, turn := range conversation {
		role := "USER"
		if turn.Role == engine.RoleAssistant {
			role = "BOT"
		}
		content := turn.Content
		if len(content) > 200 {
			content = content[:200]
		}
		fmt.Fprintf(&b, "%s: %s\n", role, content)
	}
	b.WriteString("\nAvailable follow-ups:\n")
	for i, f := range followups {
		fmt.Fprintf(&b, "%d. %s\n", i+1, f)
	}
	fmt.Fprintf(&b, "\nWhich follow-up fits best now? Answer ONLY with the number (1-%d) or \"DONE\".", len(followups))
	return b.String()
}
