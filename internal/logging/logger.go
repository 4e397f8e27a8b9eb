package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "?"
	}
}

// Logger is the minimal printf-style logging contract used across the
// engine. Components depend on this interface, never on the concrete
// file logger, so tests can pass Nop() or a capture logger.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards everything.
func Nop() Logger { return nopLogger{} }

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}

var (
	fileOnce   sync.Once
	fileShared *fileSink
)

// fileSink is the shared append-only debug log. All component loggers
// write through the same sink under one mutex.
type fileSink struct {
	mu     sync.Mutex
	file   *os.File
	logger *log.Logger
}

func sharedSink() *fileSink {
	fileOnce.Do(func() {
		fileShared = &fileSink{}
		home, err := os.UserHomeDir()
		if err != nil {
			log.Printf("logging: cannot resolve home dir: %v", err)
			return
		}
		dir := filepath.Join(home, ".chatbot-tester")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Printf("logging: cannot create %s: %v", dir, err)
			return
		}
		f, err := os.OpenFile(filepath.Join(dir, "debug.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Printf("logging: cannot open debug log: %v", err)
			return
		}
		fileShared.file = f
		fileShared.logger = log.New(f, "", 0)
	})
	return fileShared
}

// ComponentLogger writes leveled, component-tagged lines to the shared
// debug log file.
type ComponentLogger struct {
	sink      *fileSink
	component string
	level     Level
}

// NewComponentLogger returns a logger scoped to one component name.
func NewComponentLogger(component string) *ComponentLogger {
	return &ComponentLogger{sink: sharedSink(), component: component, level: DEBUG}
}

// SetLevel raises the minimum level emitted by this logger.
func (l *ComponentLogger) SetLevel(level Level) { l.level = level }

func (l *ComponentLogger) Debug(format string, args ...any) { l.emit(DEBUG, format, args...) }
func (l *ComponentLogger) Info(format string, args ...any)  { l.emit(INFO, format, args...) }
func (l *ComponentLogger) Warn(format string, args ...any)  { l.emit(WARN, format, args...) }
func (l *ComponentLogger) Error(format string, args ...any) { l.emit(ERROR, format, args...) }

func (l *ComponentLogger) emit(level Level, format string, args ...any) {
	if level < l.level || l.sink == nil || l.sink.logger == nil {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file, line = "???", 0
	}

	msg := fmt.Sprintf(format, args...)
	ts := time.Now().Format("2006-01-02 15:04:05.000")

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.component != "" {
		l.sink.logger.Printf("[%s] [%s] [%s] %s:%d %s", ts, level, l.component, file, line, msg)
	} else {
		l.sink.logger.Printf("[%s] [%s] %s:%d %s", ts, level, file, line, msg)
	}
}
