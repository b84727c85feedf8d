// Package logger wraps zerolog with printf-style messages, chained fields
// and a process-wide default instance.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levels = [...]struct {
	name string
	zl   zerolog.Level
}{
	LevelDebug: {"DEBUG", zerolog.DebugLevel},
	LevelInfo:  {"INFO", zerolog.InfoLevel},
	LevelWarn:  {"WARN", zerolog.WarnLevel},
	LevelError: {"ERROR", zerolog.ErrorLevel},
	LevelFatal: {"FATAL", zerolog.FatalLevel},
}

func (l Level) valid() bool { return l >= LevelDebug && l <= LevelFatal }

func (l Level) String() string {
	if !l.valid() {
		return "UNKNOWN"
	}
	return levels[l].name
}

func (l Level) zerolog() zerolog.Level {
	if !l.valid() {
		return zerolog.InfoLevel
	}
	return levels[l].zl
}

// ParseLevel accepts level names case-insensitively; unknown names mean info.
func ParseLevel(s string) Level {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "WARNING" {
		return LevelWarn
	}
	for l, def := range levels {
		if def.name == s {
			return Level(l)
		}
	}
	return LevelInfo
}

type ctxKey int

const (
	requestIDKey ctxKey = iota
	userIDKey
)

// ContextWithRequestID tags ctx so WithContext adds a request_id field.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// ContextWithUserID tags ctx so WithContext adds a user_id field.
func ContextWithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

type Config struct {
	Level   Level
	Output  io.Writer // stdout when nil
	Service string
	Pretty  bool // human-readable console output
}

// Logger is immutable; every With* call returns a derived copy.
type Logger struct {
	zl zerolog.Logger
}

const defaultService = "pattern-worker"

var (
	std     *Logger
	stdOnce sync.Once
)

// Init sets the process logger. Only the first call has effect.
func Init(cfg Config) {
	stdOnce.Do(func() { std = New(cfg) })
}

func Default() *Logger {
	Init(Config{Level: LevelInfo})
	return std
}

func New(cfg Config) *Logger {
	var w io.Writer = os.Stdout
	if cfg.Output != nil {
		w = cfg.Output
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	service := cfg.Service
	if service == "" {
		service = defaultService
	}

	return &Logger{zl: zerolog.New(w).
		Level(cfg.Level.zerolog()).
		With().Timestamp().Str("service", service).
		Logger()}
}

// Zerolog returns the underlying logger for components that log through zerolog.
func (l *Logger) Zerolog() zerolog.Logger { return l.zl }

func (l *Logger) derive(fn func(zerolog.Context) zerolog.Context) *Logger {
	return &Logger{zl: fn(l.zl.With()).Logger()}
}

func (l *Logger) WithField(key string, value any) *Logger {
	return l.derive(func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) })
}

func (l *Logger) WithFields(fields map[string]any) *Logger {
	if len(fields) == 0 {
		return l
	}
	return l.derive(func(c zerolog.Context) zerolog.Context { return c.Fields(fields) })
}

// WithContext copies request_id and user_id from ctx when present.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	return l.derive(func(c zerolog.Context) zerolog.Context {
		for key, field := range map[ctxKey]string{requestIDKey: "request_id", userIDKey: "user_id"} {
			if v, _ := ctx.Value(key).(string); v != "" {
				c = c.Str(field, v)
			}
		}
		return c
	})
}

func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.derive(func(c zerolog.Context) zerolog.Context { return c.Err(err) })
}

// WithDuration records d as fractional milliseconds.
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return l.derive(func(c zerolog.Context) zerolog.Context {
		return c.Float64("duration_ms", float64(d.Microseconds())/1000)
	})
}

func (l *Logger) emit(level Level, format string, args []any) {
	ev := l.zl.WithLevel(level.zerolog())
	if ev == nil {
		return
	}
	if level >= LevelError {
		ev = ev.Caller(2)
	}
	if len(args) == 0 {
		ev.Msg(format)
	} else {
		ev.Msg(fmt.Sprintf(format, args...))
	}
	if level == LevelFatal {
		os.Exit(1)
	}
}

func (l *Logger) Debug(format string, args ...any) { l.emit(LevelDebug, format, args) }
func (l *Logger) Info(format string, args ...any)  { l.emit(LevelInfo, format, args) }
func (l *Logger) Warn(format string, args ...any)  { l.emit(LevelWarn, format, args) }
func (l *Logger) Error(format string, args ...any) { l.emit(LevelError, format, args) }
func (l *Logger) Fatal(format string, args ...any) { l.emit(LevelFatal, format, args) }

func Debug(format string, args ...any) { Default().emit(LevelDebug, format, args) }
func Info(format string, args ...any)  { Default().emit(LevelInfo, format, args) }
func Warn(format string, args ...any)  { Default().emit(LevelWarn, format, args) }
func Error(format string, args ...any) { Default().emit(LevelError, format, args) }
func Fatal(format string, args ...any) { Default().emit(LevelFatal, format, args) }

func WithField(key string, value any) *Logger  { return Default().WithField(key, value) }
func WithFields(fields map[string]any) *Logger { return Default().WithFields(fields) }
func WithContext(ctx context.Context) *Logger  { return Default().WithContext(ctx) }
func WithError(err error) *Logger              { return Default().WithError(err) }
func WithDuration(d time.Duration) *Logger     { return Default().WithDuration(d) }
