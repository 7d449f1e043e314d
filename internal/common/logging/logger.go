// Package logging provides structured logging using zap
package logging

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Options controls InitGlobalLogger
type Options struct {
	Level  string
	Format string // "json" or "console"
	// SecureLogFile receives full record payloads; empty disables the sink
	SecureLogFile string
}

// NewDefaultLogger creates a console logger at the LOG_LEVEL level
func NewDefaultLogger() Logger {
	logger, err := NewZapLogger(LogConfig{Level: ParseLevel(os.Getenv("LOG_LEVEL"))})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize default zap logger: %v", err))
	}
	return logger
}

// InitGlobalLogger replaces the global and secure loggers according to opts
func InitGlobalLogger(opts Options) error {
	level := ParseLevel(opts.Level)
	json := strings.EqualFold(opts.Format, "json")

	logger, err := NewZapLogger(LogConfig{Level: level, JSON: json})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	SetGlobalLogger(logger)

	if opts.SecureLogFile != "" {
		file, err := os.OpenFile(opts.SecureLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("failed to open secure log file %s: %w", opts.SecureLogFile, err)
		}
		secure, err := NewZapLogger(LogConfig{Level: DebugLevel, Output: file, JSON: true, Prefix: "secure"})
		if err != nil {
			return fmt.Errorf("failed to initialize secure logger: %w", err)
		}
		SetSecureLogger(secure)
	}

	logger.Info("Logger initialized",
		String("level", level.String()),
		Bool("json", json),
		Bool("secure_log", opts.SecureLogFile != ""),
	)
	return nil
}

// MustSync flushes any buffered log entries for zap loggers
// This should be called before application exit
func MustSync() {
	for _, logger := range []Logger{GetGlobalLogger(), GetSecureLogger()} {
		if zapLogger, ok := logger.(*ZapAdapter); ok {
			_ = zapLogger.Sync()
		}
	}
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() Logger {
	return &ZapAdapter{logger: zap.NewNop()}
}

// WithContext is a convenience function to add context to the global logger
func WithContext(ctx context.Context) Logger {
	return GetGlobalLogger().WithContext(ctx)
}

// WithFields is a convenience function to add fields to the global logger
func WithFields(fields ...Field) Logger {
	return GetGlobalLogger().WithFields(fields...)
}

// Strings creates a string slice field
func Strings(key string, values []string) Field {
	return Field{Key: key, Value: values}
}

// Err creates an error field with key "error"
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}
