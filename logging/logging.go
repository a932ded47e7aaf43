// Package logging provides the structured logger used throughout the
// capture, coordination and streaming components. It wraps zap the same
// way the rest of the pack does: a small named-logger interface backed by
// a SugaredLogger, so call sites never depend on zap directly.
package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger interface passed to every component.
// Nothing in this module reaches for the global logger; each pipeline,
// server and coordinator instance is handed its own (sub)logger at
// construction.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// CDebugw/CWarnw/CErrorw attach the message to a context, allowing a
	// future correlation ID (e.g. per-frame or per-connection) to be woven
	// in without changing every call site.
	CDebugw(ctx context.Context, msg string, keysAndValues ...interface{})
	CWarnw(ctx context.Context, msg string, keysAndValues ...interface{})
	CErrorw(ctx context.Context, msg string, keysAndValues ...interface{})

	// Sublogger returns a child logger namespaced under name, e.g.
	// logger.Sublogger("pipeline.A001").
	Sublogger(name string) Logger

	// Named returns the dotted name this logger was constructed or
	// subloggered with.
	Named() string
}

type impl struct {
	name   string
	sugar  *zap.SugaredLogger
}

// NewLogger returns a logger that emits Info+ logs.
func NewLogger(name string) Logger {
	return newWithLevel(name, zapcore.InfoLevel)
}

// NewDebugLogger returns a logger that emits Debug+ logs; the coordinator
// command uses it when run with --debug.
func NewDebugLogger(name string) Logger {
	return newWithLevel(name, zapcore.DebugLevel)
}

func newWithLevel(name string, level zapcore.Level) Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Config as constructed above cannot fail to build; if it ever
		// does, fall back to a no-frills logger rather than panicking
		// out of a constructor.
		z = zap.NewNop()
	}
	return &impl{name: name, sugar: z.Named(name).Sugar()}
}

func (l *impl) Debug(args ...interface{})                        { l.sugar.Debug(args...) }
func (l *impl) Debugf(template string, args ...interface{})      { l.sugar.Debugf(template, args...) }
func (l *impl) Debugw(msg string, kv ...interface{})             { l.sugar.Debugw(msg, kv...) }
func (l *impl) Info(args ...interface{})                         { l.sugar.Info(args...) }
func (l *impl) Infof(template string, args ...interface{})       { l.sugar.Infof(template, args...) }
func (l *impl) Infow(msg string, kv ...interface{})              { l.sugar.Infow(msg, kv...) }
func (l *impl) Warn(args ...interface{})                         { l.sugar.Warn(args...) }
func (l *impl) Warnf(template string, args ...interface{})       { l.sugar.Warnf(template, args...) }
func (l *impl) Warnw(msg string, kv ...interface{})              { l.sugar.Warnw(msg, kv...) }
func (l *impl) Error(args ...interface{})                        { l.sugar.Error(args...) }
func (l *impl) Errorf(template string, args ...interface{})      { l.sugar.Errorf(template, args...) }
func (l *impl) Errorw(msg string, kv ...interface{})             { l.sugar.Errorw(msg, kv...) }

func (l *impl) CDebugw(ctx context.Context, msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }
func (l *impl) CWarnw(ctx context.Context, msg string, kv ...interface{})  { l.sugar.Warnw(msg, kv...) }
func (l *impl) CErrorw(ctx context.Context, msg string, kv ...interface{}) { l.sugar.Errorw(msg, kv...) }

func (l *impl) Sublogger(name string) Logger {
	return &impl{name: l.name + "." + name, sugar: l.sugar.Named(name)}
}

func (l *impl) Named() string { return l.name }
