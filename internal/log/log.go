package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// ParseLevel maps a config string ("debug", "info", ...) to a Level.
// Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger is a thin key/value wrapper over slog. Components receive a
// *Logger through their constructors; a nil *Logger discards everything.
type Logger struct {
	s     *slog.Logger
	level *slog.LevelVar
}

// New builds a Logger writing to w. format is "json" or "text".
func New(w io.Writer, level Level, format string) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(level.slog())
	opts := &slog.HandlerOptions{Level: lv}

	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return &Logger{s: slog.New(h), level: lv}
}

// Discard returns a Logger that drops every record.
func Discard() *Logger {
	return New(io.Discard, LevelError, "text")
}

// With returns a child logger that always carries kv.
func (l *Logger) With(kv ...any) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{s: l.s.With(kv...), level: l.level}
}

func (l *Logger) SetLevel(level Level) {
	if l == nil {
		return
	}
	l.level.Set(level.slog())
}

func (l *Logger) Debug(msg string, kv ...any) { l.log(slog.LevelDebug, msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.log(slog.LevelInfo, msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.log(slog.LevelWarn, msg, kv...) }

// Error logs msg with err prepended to the key/value list.
func (l *Logger) Error(msg string, err error, kv ...any) {
	extended := append([]any{"err", err}, kv...)
	l.log(slog.LevelError, msg, extended...)
}

func (l *Logger) log(level slog.Level, msg string, kv ...any) {
	if l == nil {
		return
	}
	l.s.Log(context.Background(), level, msg, kv...)
}

var (
	defaultLogger *Logger
	defaultOnce   sync.Once
)

// Default returns the process-wide logger (stderr, text, INFO unless
// reconfigured through Configure).
func Default() *Logger {
	defaultOnce.Do(func() {
		if defaultLogger == nil {
			defaultLogger = New(os.Stderr, LevelInfo, "text")
		}
	})
	return defaultLogger
}

// Configure replaces the process-wide logger. Call it once at startup.
func Configure(level Level, format string) *Logger {
	l := New(os.Stderr, level, format)
	defaultOnce.Do(func() {})
	defaultLogger = l
	return l
}

func SetLevel(l Level) {
	Default().SetLevel(l)
}

func Debug(msg string, kv ...any) {
	Default().Debug(msg, kv...)
}

func Info(msg string, kv ...any) {
	Default().Info(msg, kv...)
}

func Warn(msg string, kv ...any) {
	Default().Warn(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	Default().Error(msg, err, kv...)
}
