// Package logger holds the process-wide zap logger and the field names used
// across lyric-studio log lines.
package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Standard field names for structured logging.
const (
	FieldJobID         = "job_id"
	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id"
	FieldClientIP      = "client_ip"
	FieldState         = "state"
	FieldAttempt       = "attempt"
	FieldError         = "error"
	FieldStatus        = "status"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldDurationMS    = "duration_ms"
	FieldCount         = "count"
	FieldAddress       = "address"
)

// Logger is the global logger. It is a no-op until Initialize runs.
var Logger *zap.SugaredLogger

func init() {
	Logger = zap.NewNop().Sugar()
}

// Initialize builds the global logger. jsonOutput selects the production
// encoder; otherwise a console encoder is used.
func Initialize(jsonOutput bool, level string) error {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	var cfg zap.Config
	if jsonOutput {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableStacktrace = true
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	zapLogger, err := cfg.Build()
	if err != nil {
		return err
	}
	Logger = zapLogger.Sugar()
	return nil
}

// ComponentLogger returns a named logger for a component.
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// Sync flushes buffered log entries.
func Sync() {
	_ = Logger.Sync()
}
