// Package browser drives one chatbot UI session at a time. A Session is
// the unit owned by a pool worker: it navigates, types, observes the DOM
// and captures screenshots. The target UI pushes no events, so response
// completion is detected by the polling ResponseWaiter.
package browser

import "context"

// Observer is the read side of a session: the DOM facts the response
// waiter polls. Split out so the waiter can be tested against a scripted
// fake without a real browser.
type Observer interface {
	// ResponseCount returns how many bot messages are currently in the
	// conversation thread.
	ResponseCount(ctx context.Context) (int, error)

	// LatestResponseText returns the text of the newest bot message.
	LatestResponseText(ctx context.Context) (string, error)

	// LoadingVisible reports whether the "bot is typing" indicator is
	// currently shown. Re-evaluated fresh on every call.
	LoadingVisible(ctx context.Context) (bool, error)
}

// Session is one isolated browser-automation channel. Implementations
// must tolerate Stop being called more than once.
type Session interface {
	Observer

	Start(ctx context.Context) error
	Stop() error

	Navigate(ctx context.Context, url string) error
	SendMessage(ctx context.Context, text string) error
	TakeScreenshot(ctx context.Context, path string) error
}

// ChatbotSelectors locates the pieces of the chatbot UI. Inner, when
// set, narrows text extraction to the content element inside a message
// so feedback forms and buttons are excluded.
type ChatbotSelectors struct {
	Input            string `json:"input" yaml:"input"`
	SendButton       string `json:"send_button,omitempty" yaml:"send_button,omitempty"`
	BotMessages      string `json:"bot_messages" yaml:"bot_messages"`
	LoadingIndicator string `json:"loading_indicator,omitempty" yaml:"loading_indicator,omitempty"`
	Inner            string `json:"inner,omitempty" yaml:"inner,omitempty"`
}
