// Package observability provides structured logging for the resilience layer.
package observability

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the interface for structured logging.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	With(fields ...Field) Logger
	WithContext(ctx context.Context) Logger
	Sync() error
}

// Field represents a log field.
type Field = zap.Field

// Field constructors for convenience.
var (
	String   = zap.String
	Int      = zap.Int
	Int64    = zap.Int64
	Float64  = zap.Float64
	Bool     = zap.Bool
	Error    = zap.Error
	Any      = zap.Any
	Duration = zap.Duration
	Time     = zap.Time
)

// LogConfig represents logging configuration.
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// DefaultLogConfig returns default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}
}

// NewLogger creates a new logger with the given configuration.
func NewLogger(cfg LogConfig) (Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Sampling = nil
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.MessageKey = "message"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder

	switch cfg.Format {
	case "", "json":
		zc.Encoding = "json"
	case "console":
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	switch cfg.Output {
	case "", "stdout":
		zc.OutputPaths = []string{"stdout"}
	case "stderr":
		zc.OutputPaths = []string{"stderr"}
	default:
		zc.OutputPaths = []string{cfg.Output}
	}

	z, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return &logger{z: z}, nil
}

// NopLogger returns a logger that discards all output.
func NopLogger() Logger {
	return &logger{z: zap.NewNop()}
}

// logger implements Logger on top of zap.
type logger struct {
	z *zap.Logger
}

func (l *logger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }
func (l *logger) Info(msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *logger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, fields...) }
func (l *logger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }
func (l *logger) Fatal(msg string, fields ...Field) { l.z.Fatal(msg, fields...) }

// With returns a logger with additional fields bound.
func (l *logger) With(fields ...Field) Logger {
	return &logger{z: l.z.With(fields...)}
}

// WithContext returns a logger carrying request-scoped fields from ctx.
func (l *logger) WithContext(ctx context.Context) Logger {
	if id := RequestIDFromContext(ctx); id != "" {
		return l.With(String("request_id", id))
	}
	return l
}

// Sync flushes any buffered log entries.
func (l *logger) Sync() error {
	return l.z.Sync()
}

type requestIDKeyType struct{}

var requestIDKey requestIDKeyType

// ContextWithRequestID adds a request ID to the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request ID from context, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

var globalLogger atomic.Value // Logger

// SetGlobalLogger sets the process-wide logger.
func SetGlobalLogger(l Logger) {
	globalLogger.Store(&l)
}

// GetGlobalLogger returns the process-wide logger, or a default-configured
// one when none has been set.
func GetGlobalLogger() Logger {
	if v := globalLogger.Load(); v != nil {
		return *v.(*Logger)
	}
	l, err := NewLogger(DefaultLogConfig())
	if err != nil {
		return NopLogger()
	}
	return l
}

// L returns the global logger (shorthand).
func L() Logger {
	return GetGlobalLogger()
}
