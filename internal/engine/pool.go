package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/corradofrancolini/chatbot-tester/internal/browser"
	enginerrors "github.com/corradofrancolini/chatbot-tester/internal/errors"
	"github.com/corradofrancolini/chatbot-tester/internal/logging"
)

// SessionFactory builds the isolated browser session for one worker
// index. Implementations must give each index its own resource identity
// (user-data directory) so concurrent sessions never collide.
type SessionFactory func(workerID int) (browser.Session, error)

// Worker is one pool slot: an exclusive browser session plus usage
// bookkeeping. Whoever holds it via Acquire owns it until Release.
type Worker struct {
	ID      int
	Session browser.Session

	mu             sync.Mutex
	busy           bool
	testsCompleted int
	currentTest    string
}

// SetCurrentTest records which test the worker is serving.
func (w *Worker) SetCurrentTest(id string) {
	w.mu.Lock()
	w.currentTest = id
	w.mu.Unlock()
}

// MarkCompleted bumps the completed counter.
func (w *Worker) MarkCompleted() {
	w.mu.Lock()
	w.testsCompleted++
	w.mu.Unlock()
}

func (w *Worker) stats() WorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerStats{
		ID:             w.ID,
		Busy:           w.busy,
		TestsCompleted: w.testsCompleted,
		CurrentTest:    w.currentTest,
	}
}

// WorkerPool owns a fixed set of browser sessions handed out one caller
// at a time. Exclusivity comes from the single free-list channel: a
// worker ID lives either in the channel or with exactly one caller.
type WorkerPool struct {
	size    int
	factory SessionFactory
	logger  logging.Logger

	mu       sync.Mutex
	workers  map[int]*Worker
	free     chan int
	started  bool
	shutdown bool
}

// NewWorkerPool builds a pool of the given size. Nothing starts until
// Initialize.
func NewWorkerPool(size int, factory SessionFactory, logger logging.Logger) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		factory: factory,
		logger:  logging.OrNop(logger),
		workers: make(map[int]*Worker),
		free:    make(chan int, size),
	}
}

// Initialize starts the sessions. Individual start failures are logged
// and skipped; the pool stays usable with fewer workers. Zero started
// workers is the only fatal case.
func (p *WorkerPool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	var lastErr error
	for i := 0; i < p.size; i++ {
		sess, err := p.factory(i)
		if err != nil {
			p.logger.Warn("worker %d: session build failed: %v", i, err)
			lastErr = err
			continue
		}
		if err := sess.Start(ctx); err != nil {
			p.logger.Warn("worker %d: session start failed: %v", i, err)
			lastErr = err
			continue
		}
		w := &Worker{ID: i, Session: sess}
		p.workers[i] = w
		p.free <- i
		p.logger.Info("worker %d ready", i)
	}

	if len(p.workers) == 0 {
		return &enginerrors.FatalInitError{Requested: p.size, Err: lastErr}
	}

	p.started = true
	p.logger.Info("pool initialized with %d/%d workers", len(p.workers), p.size)
	return nil
}

// Acquire blocks until a worker is free or the timeout elapses. Timeout
// surfaces as a transient PoolExhaustedError, never a crash.
func (p *WorkerPool) Acquire(ctx context.Context, timeout time.Duration) (*Worker, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case id := <-p.free:
		p.mu.Lock()
		w := p.workers[id]
		p.mu.Unlock()
		w.mu.Lock()
		w.busy = true
		w.mu.Unlock()
		return w, nil
	case <-timer.C:
		return nil, &enginerrors.PoolExhaustedError{Waited: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns the worker to the free set. Callers must pair every
// Acquire with a deferred Release so no exit path starves the pool.
func (p *WorkerPool) Release(w *Worker) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.busy = false
	w.currentTest = ""
	w.mu.Unlock()
	p.free <- w.ID
}

// Shutdown stops every session. Per-session failures are logged, never
// propagated.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shutdown {
		return
	}
	p.shutdown = true

	for id, w := range p.workers {
		if err := w.Session.Stop(); err != nil {
			p.logger.Warn("worker %d: stop failed: %v", id, err)
		}
	}
	p.logger.Info("pool shut down")
}

// ActiveWorkers returns how many sessions actually started.
func (p *WorkerPool) ActiveWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// FreeWorkers returns how many workers are currently available.
func (p *WorkerPool) FreeWorkers() int {
	return len(p.free)
}

// Stats snapshots every worker, ordered by ID.
func (p *WorkerPool) Stats() []WorkerStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]WorkerStats, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w.stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
