// Package logger provides a centralized logging facility for the sync agent.
// It wraps a zap logger and installs an slog bridge so that internal packages
// using log/slog share the same sink and encoding.
package logger

import (
	"context"
	"log/slog"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log *zap.SugaredLogger

// Initialize creates the global logger. Structured JSON output is used unless
// the UNSTRUCTURED_LOGS environment variable is set to "true", in which case a
// human-readable console encoder is used.
func Initialize() {
	if unstructuredLogs() {
		initUnstructuredLogs()
	} else {
		initStructuredLogs()
	}
}

func unstructuredLogs() bool {
	return os.Getenv("UNSTRUCTURED_LOGS") == "true"
}

func initStructuredLogs() {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if os.Getenv("DEBUG") != "" {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zl, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}
	log = zl.Sugar()
	slog.SetDefault(slog.New(newZapHandler(zl)))
}

func initUnstructuredLogs() {
	cfg := zap.NewDevelopmentConfig()
	if os.Getenv("DEBUG") != "" {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zl, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}
	log = zl.Sugar()
	slog.SetDefault(slog.New(newZapHandler(zl)))
}

func ensure() *zap.SugaredLogger {
	if log == nil {
		Initialize()
	}
	return log
}

// Debug logs at debug level.
func Debug(args ...any) { ensure().Debug(args...) }

// Info logs at info level.
func Info(args ...any) { ensure().Info(args...) }

// Warn logs at warn level.
func Warn(args ...any) { ensure().Warn(args...) }

// Error logs at error level.
func Error(args ...any) { ensure().Error(args...) }

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...any) { ensure().Debugf(format, args...) }

// Infof logs a formatted message at info level.
func Infof(format string, args ...any) { ensure().Infof(format, args...) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...any) { ensure().Warnf(format, args...) }

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...any) { ensure().Errorf(format, args...) }

// Fatalf logs a formatted message and exits.
func Fatalf(format string, args ...any) { ensure().Fatalf(format, args...) }

// zapHandler adapts an slog record stream onto the zap core. The zapslog
// bridge lives in a separate zap/exp module, so a minimal local adapter is
// used instead.
type zapHandler struct {
	zl    *zap.Logger
	attrs []slog.Attr
}

func newZapHandler(zl *zap.Logger) *zapHandler {
	return &zapHandler{zl: zl.WithOptions(zap.AddCallerSkip(2))}
}

func (h *zapHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.zl.Core().Enabled(zapLevel(level))
}

func (h *zapHandler) Handle(_ context.Context, record slog.Record) error {
	fields := make([]zap.Field, 0, len(h.attrs)+record.NumAttrs())
	for _, attr := range h.attrs {
		fields = append(fields, zap.Any(attr.Key, attr.Value.Any()))
	}
	record.Attrs(func(attr slog.Attr) bool {
		fields = append(fields, zap.Any(attr.Key, attr.Value.Any()))
		return true
	})
	if ce := h.zl.Check(zapLevel(record.Level), record.Message); ce != nil {
		ce.Write(fields...)
	}
	return nil
}

func (h *zapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &zapHandler{zl: h.zl, attrs: merged}
}

func (h *zapHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &zapHandler{zl: h.zl.Named(name), attrs: h.attrs}
}

func zapLevel(level slog.Level) zapcore.Level {
	switch {
	case level >= slog.LevelError:
		return zapcore.ErrorLevel
	case level >= slog.LevelWarn:
		return zapcore.WarnLevel
	case level >= slog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
