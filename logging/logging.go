// Package logging provides a tiny abstraction over slog so components can
// depend on a minimal Logger interface while callers plug in any structured
// backend. The live client takes a Logger at construction; everything it
// reports carries a "category" attribute identifying the event source.
package logging

import "log/slog"

// Logger is the minimal structured logging interface used across livecoach.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement Logger.
type SlogAdapter struct {
	*slog.Logger
}

// NewSlog creates a Logger from an existing *slog.Logger.
func NewSlog(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// Default returns a Logger backed by slog.Default().
func Default() Logger {
	return &SlogAdapter{Logger: slog.Default()}
}

// With returns a Logger that attaches the given attributes to every record.
// When the underlying logger is not slog-backed the attributes are prepended
// to each call's argument list instead.
func With(l Logger, args ...any) Logger {
	if len(args) == 0 {
		return l
	}
	if sa, ok := l.(*SlogAdapter); ok {
		return &SlogAdapter{Logger: sa.Logger.With(args...)}
	}
	return &withLogger{base: l, args: args}
}

type withLogger struct {
	base Logger
	args []any
}

func (w *withLogger) Debug(msg string, args ...any) {
	w.base.Debug(msg, append(w.args[:len(w.args):len(w.args)], args...)...)
}

func (w *withLogger) Info(msg string, args ...any) {
	w.base.Info(msg, append(w.args[:len(w.args):len(w.args)], args...)...)
}

func (w *withLogger) Warn(msg string, args ...any) {
	w.base.Warn(msg, append(w.args[:len(w.args):len(w.args)], args...)...)
}

func (w *withLogger) Error(msg string, args ...any) {
	w.base.Error(msg, append(w.args[:len(w.args):len(w.args)], args...)...)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a Logger that discards everything. Handy in tests.
func Nop() Logger {
	return nopLogger{}
}
