// Package logging is the logger collaborator (spec section 6): level-
// filtered, line-oriented, with an async queue of configurable size. Built
// on the standard library log/slog — no third-party structured-logging
// library (zerolog, zap, logrus) appears anywhere in the retrieved example
// corpus, so slog plus a small bounded-queue wrapper is the grounded choice
// (see DESIGN.md). The async-delivery discipline itself — a bounded channel
// drained on its own goroutine, backpressure instead of silent drops — is
// the same shape socket515-gaio's watcher uses for completion delivery
// (chPendingNotify / chNotifyCompletion).
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Level mirrors the four levels spec section 6's logLevel parameter
// selects among.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) slogLevel() slog.Level {
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

type record struct {
	level Level
	msg   string
	args  []any
}

// Logger is an asynchronous, level-filtered, line-oriented logger. When open
// is false (the "openLog" startup parameter), all output is disabled and the
// Logger's methods are cheap no-ops.
type Logger struct {
	inner *slog.Logger
	level Level
	queue chan record
	done  chan struct{}
	open  bool
}

// New builds a Logger writing to w at the given level, buffering up to
// queueSize pending records before Debug/Info/Warn/Error calls start
// blocking the caller —
// the same backpressure-over-silent-drop choice spec section 4.3 makes for
// the worker pool's task queue.
func New(open bool, level Level, queueSize int, w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	inner := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level.slogLevel()}))
	l := &Logger{inner: inner, level: level, open: open, queue: make(chan record, queueSize), done: make(chan struct{})}
	if open {
		go l.drain()
	}
	return l
}

func (l *Logger) drain() {
	defer close(l.done)
	for r := range l.queue {
		l.inner.Log(context.Background(), r.level.slogLevel(), r.msg, r.args...)
	}
}

func (l *Logger) enqueue(level Level, msg string, args ...any) {
	if !l.open || level < l.level {
		return
	}
	l.queue <- record{level: level, msg: msg, args: args}
}

func (l *Logger) Debug(msg string, args ...any) { l.enqueue(LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)   { l.enqueue(LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)   { l.enqueue(LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any)  { l.enqueue(LevelError, msg, args...) }

// Slog exposes the underlying *slog.Logger for collaborators (like
// staticfile.Watcher) that want synchronous, structured logging outside the
// async queue.
func (l *Logger) Slog() *slog.Logger { return l.inner }

// Close stops accepting new records and waits for the queue to drain.
func (l *Logger) Close() {
	if !l.open {
		return
	}
	close(l.queue)
	<-l.done
}
