package config

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the agent's zap.Logger from the UNIQD_LOG_LEVEL and
// UNIQD_LOG_TO_SCREEN environment variables.
func NewLogger() (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if v := os.Getenv("UNIQD_LOG_LEVEL"); v != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(v))); err != nil {
			return nil, err
		}
	}

	toScreen := true
	if v := os.Getenv("UNIQD_LOG_TO_SCREEN"); v != "" {
		toScreen = strings.EqualFold(v, "true") || v == "1"
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	if !toScreen {
		cfg.OutputPaths = []string{"uniqd.log"}
		cfg.ErrorOutputPaths = []string{"uniqd.log"}
	}
	return cfg.Build()
}
