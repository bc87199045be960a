// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package strophe

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mellium.im/strophe/internal/engine"
)

// LogLevel is the severity of a log message.
type LogLevel int

// A list of log levels.
const (
	LogDebug LogLevel = LogLevel(engine.LevelDebug) // debug
	LogInfo  LogLevel = LogLevel(engine.LevelInfo)  // info
	LogWarn  LogLevel = LogLevel(engine.LevelWarn)  // warn
	LogError LogLevel = LogLevel(engine.LevelError) // error
)

// LogHandler receives the messages logged by a Context.
// It is called from the goroutine logging the message, which is not always
// the one running the event loop, but calls are never concurrent.
type LogHandler func(level LogLevel, area, msg string)

// Logger is a log sink for a Context.
// A Logger is moved into the Context it is passed to and may not be reused.
type Logger struct {
	fn    LogHandler
	moved bool
}

// NewLogger returns a logger that calls fn for every message.
func NewLogger(fn LogHandler) *Logger {
	return &Logger{fn: fn}
}

// NewNullLogger returns a logger that discards everything.
func NewNullLogger() *Logger {
	return &Logger{}
}

// NewInternalLogger returns a logger that writes messages of at least the
// given level to stderr.
func NewInternalLogger(level LogLevel) *Logger {
	return newInternalLogger(level, zapcore.Lock(os.Stderr))
}

func newInternalLogger(level LogLevel, w zapcore.WriteSyncer) *Logger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		w,
		level.zap(),
	)
	l := zap.New(core)
	return NewLogger(func(lvl LogLevel, area, msg string) {
		logTo(l, lvl, area, msg)
	})
}

// NewDefaultLogger returns a logger that writes to the zap logger configured
// with SetLogger.
func NewDefaultLogger() *Logger {
	return NewLogger(func(level LogLevel, area, msg string) {
		logTo(zapLogger(), level, area, msg)
	})
}

func (l LogLevel) zap() zapcore.Level {
	switch l {
	case LogDebug:
		return zapcore.DebugLevel
	case LogInfo:
		return zapcore.InfoLevel
	case LogWarn:
		return zapcore.WarnLevel
	}
	return zapcore.ErrorLevel
}

func logTo(l *zap.Logger, level LogLevel, area, msg string) {
	if ce := l.Check(level.zap(), msg); ce != nil {
		ce.Write(zap.String("area", area))
	}
}

func (l *Logger) take(op string) engine.LogFunc {
	if l == nil {
		return nil
	}
	if l.moved {
		panic(misuse(op, ErrMoved))
	}
	l.moved = true
	fn := l.fn
	if fn == nil {
		return nil
	}
	return func(level engine.Level, area, msg string) {
		fn(LogLevel(level), area, msg)
	}
}

var (
	zapMu  sync.RWMutex
	zapLog *zap.Logger
)

func zapLogger() *zap.Logger {
	zapMu.RLock()
	l := zapLog
	zapMu.RUnlock()
	if l != nil {
		return l
	}
	zapMu.Lock()
	defer zapMu.Unlock()
	if zapLog == nil {
		zapLog = zap.NewNop()
	}
	return zapLog
}

// SetLogger configures the logger used by NewDefaultLogger.
// It uses a no-op logger by default.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	zapMu.Lock()
	zapLog = l
	zapMu.Unlock()
}
