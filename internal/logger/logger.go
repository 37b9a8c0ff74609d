// Package logger provides the leveled log sink shared by the server and
// client binaries. Output goes to a log file, to stderr, or to both; the
// zero-value global logs to stderr at info level until Init runs.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level orders log severities from most to least verbose.
type Level int

const (
	// LevelDebug logs everything, including per-frame traffic.
	LevelDebug Level = iota
	// LevelInfo logs lifecycle events and delivery outcomes.
	LevelInfo
	// LevelWarn logs recoverable problems such as rejected logins.
	LevelWarn
	// LevelError logs failures that drop a connection or a frame.
	LevelError
	// LevelNone suppresses all output.
	LevelNone
)

// String returns the uppercase tag used in log lines.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a configuration string to a Level. Unrecognized values
// fall back to info.
func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug
	case "info", "INFO":
		return LevelInfo
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn
	case "error", "ERROR":
		return LevelError
	case "none", "NONE":
		return LevelNone
	default:
		return LevelInfo
	}
}

// Logger is a leveled writer over a single destination.
type Logger struct {
	mu     sync.RWMutex
	level  Level
	out    *log.Logger
	prefix string
	file   *os.File
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// Init replaces the global logger with one writing to logPath at the given
// level. When console is true, lines are mirrored to stderr. An empty
// logPath logs to stderr only.
func Init(level Level, logPath string, console bool) error {
	l, err := New(level, logPath, console, "")
	if err != nil {
		return err
	}

	globalMu.Lock()
	old := globalLogger
	globalLogger = l
	globalMu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// New creates a logger. The log directory is created when missing and the
// file is opened in append mode so restarts extend the existing log.
func New(level Level, logPath string, console bool, prefix string) (*Logger, error) {
	l := &Logger{level: level, prefix: prefix}

	if level == LevelNone {
		l.out = log.New(io.Discard, "", 0)
		return l, nil
	}

	var writers []io.Writer
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = file
		writers = append(writers, file)
	}
	if console || logPath == "" {
		writers = append(writers, os.Stderr)
	}

	l.out = log.New(io.MultiWriter(writers...), "", 0)
	return l, nil
}

// Global returns the process-wide logger, creating a stderr logger on
// first use when Init has not run.
func Global() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = &Logger{
			level: LevelInfo,
			out:   log.New(os.Stderr, "", 0),
		}
	}
	return globalLogger
}

// WithPrefix returns a logger sharing this one's destination with an
// extra bracketed prefix on every line.
func (l *Logger) WithPrefix(prefix string) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	combined := prefix
	if l.prefix != "" {
		combined = l.prefix + ":" + prefix
	}
	return &Logger{
		level:  l.level,
		out:    l.out,
		prefix: combined,
		file:   l.file,
	}
}

// SetLevel changes the minimum severity this logger emits.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the minimum severity this logger emits.
func (l *Logger) GetLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

func (l *Logger) emit(level Level, format string, args ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if level < l.level || l.level == LevelNone {
		return
	}

	prefix := ""
	if l.prefix != "" {
		prefix = "[" + l.prefix + "] "
	}

	l.out.Printf("%s [%s] %s%s",
		time.Now().Format("2006-01-02 15:04:05.000"),
		level.String(), prefix, fmt.Sprintf(format, args...))
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.emit(LevelDebug, format, args...)
}

// Info logs at info level.
func (l *Logger) Info(format string, args ...interface{}) {
	l.emit(LevelInfo, format, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.emit(LevelWarn, format, args...)
}

// Error logs at error level.
func (l *Logger) Error(format string, args ...interface{}) {
	l.emit(LevelError, format, args...)
}

// Close releases the log file if this logger owns one.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Debug logs at debug level through the global logger.
func Debug(format string, args ...interface{}) {
	Global().Debug(format, args...)
}

// Info logs at info level through the global logger.
func Info(format string, args ...interface{}) {
	Global().Info(format, args...)
}

// Warn logs at warn level through the global logger.
func Warn(format string, args ...interface{}) {
	Global().Warn(format, args...)
}

// Error logs at error level through the global logger.
func Error(format string, args ...interface{}) {
	Global().Error(format, args...)
}
