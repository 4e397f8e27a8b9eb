package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/corradofrancolini/chatbot-tester/internal/logging"
)

// Settings configures one Chrome instance.
type Settings struct {
	Headless       bool          `json:"headless" yaml:"headless"`
	UserDataDir    string        `json:"user_data_dir,omitempty" yaml:"user_data_dir,omitempty"`
	ViewportWidth  int           `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int           `json:"viewport_height" yaml:"viewport_height"`
	ActionTimeout  time.Duration `json:"action_timeout" yaml:"action_timeout"`
}

// DefaultSettings returns the settings used when the config omits them.
func DefaultSettings() Settings {
	return Settings{
		Headless:       true,
		ViewportWidth:  1280,
		ViewportHeight: 900,
		ActionTimeout:  30 * time.Second,
	}
}

// ChromeSession drives one Chrome instance over the DevTools protocol.
// Each session gets its own user-data directory so concurrent sessions
// never share cookies or local storage.
type ChromeSession struct {
	settings  Settings
	selectors ChatbotSelectors
	logger    logging.Logger

	mu          sync.Mutex
	started     bool
	stopped     bool
	allocCancel context.CancelFunc
	browserCtx  context.Context
	ctxCancel   context.CancelFunc
}

// NewChromeSession builds a session; nothing is launched until Start.
func NewChromeSession(settings Settings, selectors ChatbotSelectors, logger logging.Logger) *ChromeSession {
	if settings.ActionTimeout <= 0 {
		settings.ActionTimeout = DefaultSettings().ActionTimeout
	}
	return &ChromeSession{
		settings:  settings,
		selectors: selectors,
		logger:    logging.OrNop(logger),
	}
}

// Start launches Chrome and waits for the DevTools connection.
func (s *ChromeSession) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.settings.Headless),
		chromedp.WindowSize(s.settings.ViewportWidth, s.settings.ViewportHeight),
	)
	if s.settings.UserDataDir != "" {
		if err := os.MkdirAll(s.settings.UserDataDir, 0o755); err != nil {
			return fmt.Errorf("create user data dir: %w", err)
		}
		opts = append(opts, chromedp.UserDataDir(s.settings.UserDataDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, ctxCancel := chromedp.NewContext(allocCtx)

	// Run an empty task list to force the browser to actually launch,
	// so a broken Chrome install surfaces here and not mid-test.
	if err := chromedp.Run(browserCtx); err != nil {
		ctxCancel()
		allocCancel()
		return fmt.Errorf("launch chrome: %w", err)
	}

	s.allocCancel = allocCancel
	s.browserCtx = browserCtx
	s.ctxCancel = ctxCancel
	s.started = true
	s.stopped = false
	s.logger.Info("chrome session started (data dir %q)", s.settings.UserDataDir)
	return nil
}

// Stop tears the browser down. Safe to call repeatedly.
func (s *ChromeSession) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		s.stopped = true
		return nil
	}
	s.ctxCancel()
	s.allocCancel()
	s.stopped = true
	s.started = false
	s.logger.Info("chrome session stopped")
	return nil
}

// run executes actions against the live browser with the action timeout
// applied, bailing out early if the caller's context is already gone.
func (s *ChromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	bctx := s.browserCtx
	started := s.started && !s.stopped
	s.mu.Unlock()

	if !started {
		return fmt.Errorf("session not started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(bctx, s.settings.ActionTimeout)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads the chatbot page and waits for the input to be usable.
func (s *ChromeSession) Navigate(ctx context.Context, url string) error {
	actions := []chromedp.Action{chromedp.Navigate(url)}
	if s.selectors.Input != "" {
		actions = append(actions, chromedp.WaitVisible(s.selectors.Input, chromedp.ByQuery))
	} else {
		actions = append(actions, chromedp.WaitReady("body", chromedp.ByQuery))
	}
	return s.run(ctx, actions...)
}

// SendMessage types text into the chat input and submits it.
func (s *ChromeSession) SendMessage(ctx context.Context, text string) error {
	actions := []chromedp.Action{
		chromedp.WaitVisible(s.selectors.Input, chromedp.ByQuery),
		chromedp.Click(s.selectors.Input, chromedp.ByQuery),
		chromedp.SendKeys(s.selectors.Input, text, chromedp.ByQuery),
	}
	if s.selectors.SendButton != "" {
		actions = append(actions, chromedp.Click(s.selectors.SendButton, chromedp.ByQuery))
	} else {
		actions = append(actions, chromedp.SendKeys(s.selectors.Input, kb.Enter, chromedp.ByQuery))
	}
	return s.run(ctx, actions...)
}

// ResponseCount counts bot messages currently rendered in the thread.
func (s *ChromeSession) ResponseCount(ctx context.Context) (int, error) {
	var count int
	script := fmt.Sprintf("document.querySelectorAll(%q).length", s.selectors.BotMessages)
	if err := s.run(ctx, chromedp.Evaluate(script, &count)); err != nil {
		return 0, err
	}
	return count, nil
}

// LatestResponseText extracts the text of the newest bot message,
// preferring the inner content selector when configured so feedback
// widgets attached to the message are excluded.
func (s *ChromeSession) LatestResponseText(ctx context.Context) (string, error) {
	var text string
	script := fmt.Sprintf(`(() => {
		const msgs = document.querySelectorAll(%q);
		if (msgs.length === 0) return "";
		const last = msgs[msgs.length - 1];
		const inner = %q ? last.querySelectorAll(%q) : [];
		if (inner.length > 0) {
			return Array.from(inner).map(e => e.textContent.trim()).join("\n");
		}
		return (last.textContent || "").trim();
	})()`, s.selectors.BotMessages, s.selectors.Inner, s.selectors.Inner)
	if err := s.run(ctx, chromedp.Evaluate(script, &text)); err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// LoadingVisible re-checks the typing indicator. Never cached: the
// waiter relies on a fresh read each poll tick.
func (s *ChromeSession) LoadingVisible(ctx context.Context) (bool, error) {
	if s.selectors.LoadingIndicator == "" {
		return false, nil
	}
	var visible bool
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		return !!(el && el.offsetParent !== null);
	})()`, s.selectors.LoadingIndicator)
	if err := s.run(ctx, chromedp.Evaluate(script, &visible)); err != nil {
		return false, err
	}
	return visible, nil
}

// TakeScreenshot captures the full page to path.
func (s *ChromeSession) TakeScreenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0o644)
}
