// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
)

// Config selects the encoder preset and minimum level.
type Config struct {
	Development bool `mapstructure:"development"`
	// Level overrides the preset level: debug, info, warn or error.
	Level string `mapstructure:"level"`
}

// New builds a zap.Logger configured for development or production.
func New(cfg Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.DisableStacktrace = false
	}
	zc.EncoderConfig.TimeKey = "ts"
	if lvl := strings.TrimSpace(cfg.Level); lvl != "" {
		parsed, err := zapcore.ParseLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(parsed)
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// JobFields returns the fields every job-scoped log line carries.
func JobFields(key scrape.Key) []zap.Field {
	return []zap.Field{
		zap.String("country", key.Country),
		zap.String("store", key.Store),
		zap.String("product", key.Product),
	}
}
