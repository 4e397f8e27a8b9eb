package async

import "runtime/debug"

// PanicLogger receives panic reports from background goroutines.
type PanicLogger interface {
	Error(format string, args ...any)
}

// Go spawns fn on its own goroutine with panic recovery. The name tags
// panic reports so concurrent workers can be told apart in the log.
func Go(logger PanicLogger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Recover logs a panic instead of crashing the process. Intended for use
// as a deferred call at goroutine entry points.
func Recover(logger PanicLogger, name string) {
	r := recover()
	if r == nil || logger == nil {
		return
	}
	if name == "" {
		logger.Error("goroutine panic: %v\n%s", r, debug.Stack())
		return
	}
	logger.Error("goroutine panic [%s]: %v\n%s", name, r, debug.Stack())
}
