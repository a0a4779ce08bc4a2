// Package slog wraps the standard structured logger with the extra verbosity
// levels used throughout the codebase.
package slog

import (
	"context"
	"log/slog"
)

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError

	// LevelExtraDebug sits between Debug and Trace: useful detail that would
	// drown out regular debugging, e.g. per-task dispatch chatter.
	LevelExtraDebug = slog.LevelDebug - 1

	// LevelTrace is the most verbose level, including cache hit/miss noise.
	LevelTrace = slog.LevelDebug - 2
)

type Level = slog.Level

// Logger wraps slog.Logger with the additional levels.
type Logger struct {
	*slog.Logger
}

func (l *Logger) With(args ...any) *Logger {
	return &Logger{l.Logger.With(args...)}
}

func (l *Logger) ExtraDebug(msg string, args ...any) {
	l.Log(context.Background(), LevelExtraDebug, msg, args...)
}

func (l *Logger) ExtraDebugContext(ctx context.Context, msg string, args ...any) {
	l.Log(ctx, LevelExtraDebug, msg, args...)
}

func (l *Logger) Trace(msg string, args ...any) {
	l.Log(context.Background(), LevelTrace, msg, args...)
}

func (l *Logger) TraceContext(ctx context.Context, msg string, args ...any) {
	l.Log(ctx, LevelTrace, msg, args...)
}

func Default() *Logger { return &Logger{slog.Default()} }

func New(h slog.Handler) *Logger { return &Logger{slog.New(h)} }

func With(args ...any) *Logger { return Default().With(args...) }

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }

func Info(msg string, args ...any) { Default().Info(msg, args...) }

func Warn(msg string, args ...any) { Default().Warn(msg, args...) }

func Error(msg string, args ...any) { Default().Error(msg, args...) }

func ExtraDebug(msg string, args ...any) { Default().ExtraDebug(msg, args...) }

func Trace(msg string, args ...any) { Default().Trace(msg, args...) }
