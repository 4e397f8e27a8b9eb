package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corradofrancolini/chatbot-tester/internal/browser"
)

// stubSession is an in-memory Session: SendMessage "responds" after
// turnDelay by appending a bot message, which the real ResponseWaiter
// then observes. Counters shared via the factory let tests measure
// cross-worker parallelism.
type stubSession struct {
	id        int
	turnDelay time.Duration

	// navErr, when set, is consulted on every Navigate.
	navErr func() error

	// shared trackers, may be nil
	active    *int32
	maxActive *int32

	mu       sync.Mutex
	started  bool
	stops    int
	count    int
	lastText string
}

func (s *stubSession) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *stubSession) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.started = false
	return nil
}

func (s *stubSession) Navigate(context.Context, string) error {
	if s.navErr != nil {
		return s.navErr()
	}
	s.mu.Lock()
	s.count = 0
	s.lastText = ""
	s.mu.Unlock()
	return nil
}

func (s *stubSession) SendMessage(_ context.Context, text string) error {
	if s.active != nil {
		cur := atomic.AddInt32(s.active, 1)
		for {
			max := atomic.LoadInt32(s.maxActive)
			if cur <= max || atomic.CompareAndSwapInt32(s.maxActive, max, cur) {
				break
			}
		}
		defer atomic.AddInt32(s.active, -1)
	}

	if s.turnDelay > 0 {
		time.Sleep(s.turnDelay)
	}

	s.mu.Lock()
	s.count++
	s.lastText = "re: " + text
	s.mu.Unlock()
	return nil
}

func (s *stubSession) ResponseCount(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count, nil
}

func (s *stubSession) LatestResponseText(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastText, nil
}

func (s *stubSession) LoadingVisible(context.Context) (bool, error) {
	return false, nil
}

func (s *stubSession) TakeScreenshot(context.Context, string) error {
	return nil
}

// mutedSession never responds: the count stays at baseline forever.
type mutedSession struct {
	stubSession
}

func (s *mutedSession) SendMessage(context.Context, string) error {
	return nil
}

func stubFactory() SessionFactory {
	return func(id int) (browser.Session, error) {
		return &stubSession{id: id}, nil
	}
}

// followupDecider replays the remaining follow-ups in order.
type followupDecider struct{}

func (followupDecider) Next(_ context.Context, _ []ConversationTurn, followups []string) (string, bool, error) {
	if len(followups) == 0 {
		return "", false, nil
	}
	return followups[0], true, nil
}

// fastConfig keeps waiter polling and backoff tight so tests run in
// milliseconds.
func fastConfig(workers int) Config {
	return Config{
		MaxWorkers:      workers,
		MaxRetries:      0,
		RetryStrategy:   RetryNone,
		AcquireTimeout:  2 * time.Second,
		TestTimeout:     5 * time.Second,
		MaxTurns:        10,
		PollInterval:    2 * time.Millisecond,
		StabilityWindow: time.Millisecond,
		ResponseTimeout: 500 * time.Millisecond,
	}
}
