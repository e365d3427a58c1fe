// Package logger holds the process-wide zap logger.
package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// L is the shared logger. It is a no-op until Init is called so packages can log from tests.
var L = zap.NewNop()

// Init builds L for the given level ("debug", "info", "warn", "error") and format ("json" or "console").
func Init(level, format string) error {
	var cfg zap.Config
	if strings.ToLower(format) == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	L = l
	return nil
}

// Named returns a child of L tagged with a component name.
func Named(name string) *zap.Logger {
	return L.Named(name)
}

// Sync flushes buffered entries; errors from syncing a terminal are ignored.
func Sync() {
	_ = L.Sync()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
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
