package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/devrev/promptsource/internal/config"
)

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// initLogger builds the process logger. The returned level can be changed
// at runtime.
func initLogger(cfg config.LoggingConfig) (*zap.Logger, zap.AtomicLevel) {
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	zc.Level = level
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger, level
}
