package utils

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides leveled, printf-style logging throughout the application.
// Entries are emitted as structured JSON by zap.
type Logger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a Logger writing JSON lines to stdout at the given level
// ("debug", "info", "warn", "error"). Unknown levels fall back to info.
func NewLogger(level string) *Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.OutputPaths = []string{"stdout"}
	cfg.Sampling = nil

	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		fmt.Printf("logger: falling back to development logger: %v\n", err)
		z = zap.NewExample()
	}
	return &Logger{sugar: z.Sugar()}
}

// NewNopLogger returns a Logger that discards everything. Used by tests.
func NewNopLogger() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *Logger) Info(format string, args ...any) {
	l.sugar.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.sugar.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.sugar.Errorf(format, args...)
}

func (l *Logger) Debug(format string, args ...any) {
	l.sugar.Debugf(format, args...)
}

// Sync flushes buffered entries. Call before exit.
func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}
