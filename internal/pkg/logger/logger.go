// Package logger provides structured logging for fleetd.
//
// A single zap logger is built at startup. Its level is an AtomicLevel so
// operators can change verbosity at runtime through LevelHandler.
// Request-scoped children travel in the context.
//
// Import Path: fleetd.io/fleetd/internal/pkg/logger
package logger

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	global      *zap.Logger
	atomicLevel = zap.NewAtomicLevel()
	once        sync.Once
)

type ctxKey struct{}

// Init builds the process logger. level is one of debug, info, warn or
// error; format is json (default) or console. Only the first call has an
// effect.
func Init(level, format string) error {
	var initErr error
	once.Do(func() {
		if err := atomicLevel.UnmarshalText([]byte(level)); err != nil {
			initErr = fmt.Errorf("parse log level %q: %w", level, err)
			return
		}

		cfg := zap.NewProductionConfig()
		if format == "console" {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		cfg.Level = atomicLevel
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

		l, err := cfg.Build(zap.AddCallerSkip(1), zap.Fields(zap.String("service", "fleetd")))
		if err != nil {
			initErr = fmt.Errorf("build logger: %w", err)
			return
		}
		global = l
	})
	return initErr
}

// SetLevel changes the level of every logger derived from Init.
func SetLevel(level string) error {
	return atomicLevel.UnmarshalText([]byte(level))
}

// Level returns the current log level.
func Level() zapcore.Level {
	return atomicLevel.Level()
}

// LevelHandler serves the current level on GET and changes it on PUT with
// a body of {"level":"debug"}.
func LevelHandler() http.Handler {
	return atomicLevel
}

// L returns the process logger. Panics if Init has not been called.
func L() *zap.Logger {
	if global == nil {
		panic("logger.Init() must be called before logger.L()")
	}
	return global
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

// With creates a child logger with additional fields.
func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}

// ForAction returns a child logger carrying the action fields, so one
// action can be traced across the dispatcher, the lock, the policy
// pipeline and the executor.
func ForAction(actionID, kind, target string) *zap.Logger {
	return L().With(
		zap.String("action_id", actionID),
		zap.String("kind", kind),
		zap.String("target", target),
	)
}

// WithContext returns a copy of ctx that carries l.
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored by WithContext, or the process
// logger.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return L()
}

// Sync flushes any buffered log entries.
func Sync() error {
	if global == nil {
		return nil
	}
	return global.Sync()
}
