// Package logging provides structured logging for the wallet analyzer,
// backed by zap.
package logging

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap sugared logger with a field-chaining API
type Logger struct {
	zl *zap.SugaredLogger
}

var (
	globalMu     sync.RWMutex
	globalLogger = newLogger(zapcore.InfoLevel, "json")
)

// contextKey is the type for context keys in this package
type contextKey struct{}

var loggerKey = contextKey{}

// Init configures the global logger from a level and format string.
// Unknown values fall back to info/json.
func Init(level, format string) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = newLogger(ParseLevel(level), format)
}

// ParseLevel converts a level string to a zap level, defaulting to info
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func newLogger(level zapcore.Level, format string) *Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if strings.ToLower(format) == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
	return &Logger{zl: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()}
}

// Global returns the process-wide logger
func Global() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Named returns a logger scoped to a component name
func Named(name string) *Logger {
	return &Logger{zl: Global().zl.Named(name)}
}

// Sync flushes buffered log entries
func Sync() {
	_ = Global().zl.Sync()
}

// WithField returns a logger with one additional field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zl: l.zl.With(key, value)}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{zl: l.zl.With(args...)}
}

// WithError returns a logger with the error attached
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zl: l.zl.With("error", err)}
}

// Named returns a child logger scoped to a component name
func (l *Logger) Named(name string) *Logger {
	return &Logger{zl: l.zl.Named(name)}
}

// Debug logs a message at debug level
func (l *Logger) Debug(msg string) { l.zl.Debug(msg) }

// Info logs a message at info level
func (l *Logger) Info(msg string) { l.zl.Info(msg) }

// Warn logs a message at warn level
func (l *Logger) Warn(msg string) { l.zl.Warn(msg) }

// Error logs a message at error level
func (l *Logger) Error(msg string) { l.zl.Error(msg) }

// Fatal logs a message at fatal level and exits
func (l *Logger) Fatal(msg string) { l.zl.Fatal(msg) }

// Package-level helpers using the global logger

// WithField returns the global logger with one additional field
func WithField(key string, value interface{}) *Logger {
	return Global().WithField(key, value)
}

// WithFields returns the global logger with additional fields
func WithFields(fields map[string]interface{}) *Logger {
	return Global().WithFields(fields)
}

// WithError returns the global logger with the error attached
func WithError(err error) *Logger {
	return Global().WithError(err)
}

// Debug logs at debug level on the global logger
func Debug(msg string) { Global().Debug(msg) }

// Info logs at info level on the global logger
func Info(msg string) { Global().Info(msg) }

// Warn logs at warn level on the global logger
func Warn(msg string) { Global().Warn(msg) }

// Error logs at error level on the global logger
func Error(msg string) { Global().Error(msg) }

// IntoContext stores a logger in the context
func IntoContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from the context, falling back to
// the global logger
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerKey).(*Logger); ok {
		return logger
	}
	return Global()
}
