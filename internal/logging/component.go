package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level is the minimum severity a component logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(value string) Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}

// componentLogger writes leveled, component-prefixed lines through the shared
// stdlib logger.
type componentLogger struct {
	component string
	level     Level
}

var (
	defaultOut  = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
	defaultMu   sync.Mutex
	globalLevel = LevelInfo
)

// SetLevel sets the minimum level for loggers created by NewComponentLogger.
func SetLevel(level Level) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	globalLevel = level
}

// SetOutput redirects the default component logger output, mainly for tests.
func SetOutput(w io.Writer) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultOut = log.New(w, "", log.LstdFlags|log.Lmicroseconds)
}

// NewComponentLogger returns the default application logger scoped to a
// component, e.g. "engine" or "orchestrator".
func NewComponentLogger(component string) Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return &componentLogger{component: component, level: globalLevel}
}

func (l *componentLogger) log(level Level, format string, args ...any) {
	if level < l.level {
		return
	}
	defaultMu.Lock()
	out := defaultOut
	defaultMu.Unlock()
	out.Printf("[%s] [%s] %s", level, l.component, fmt.Sprintf(format, args...))
}

func (l *componentLogger) Debug(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

func (l *componentLogger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *componentLogger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *componentLogger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}
