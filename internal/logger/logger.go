// Package logger builds the zap loggers used across the sweeper.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig holds the configuration for logger creation.
type LoggerConfig struct {
	// Debug enables debug-level logging, which includes loop state changes.
	Debug bool
	// Console switches from JSON to the human-readable console encoder.
	Console bool
}

// NewLogger creates a production zap logger with ISO8601 timestamps.
func NewLogger(cfg *LoggerConfig, options ...zap.Option) (*zap.Logger, error) {
	mergedOptions := append([]zap.Option{zap.WithCaller(true)}, options...)

	c := zap.NewProductionConfig()
	c.EncoderConfig = zap.NewProductionEncoderConfig()
	c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Console {
		c.Encoding = "console"
		c.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	if cfg.Debug {
		c.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		c.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return c.Build(mergedOptions...)
}

// WithRun tags every entry of l with the run id.
func WithRun(l *zap.Logger, runID string) *zap.Logger {
	return l.With(zap.String("run_id", runID))
}
