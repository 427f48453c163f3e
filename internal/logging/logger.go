// Package logging builds the zap loggers shared by the API server and the CLI.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"

	defaultService = "entrada-api"
)

// Config selects the verbosity and encoding of the process logger.
type Config struct {
	Level   string
	Format  string
	Service string
}

// ParseLevel maps a configured level onto zap, treating blank as info.
func ParseLevel(raw string) (zapcore.Level, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	switch trimmed {
	case "":
		return zapcore.InfoLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	}
	level, err := zapcore.ParseLevel(trimmed)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("logging: unknown level %q", raw)
	}
	return level, nil
}

// NewLogger returns a structured logger tagged with the service name. Unknown
// levels fall back to info; unknown formats are rejected.
func NewLogger(cfg Config) (*zap.Logger, error) {
	var zapConfig zap.Config
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case FormatJSON, "":
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case FormatConsole:
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	service := strings.TrimSpace(cfg.Service)
	if service == "" {
		service = defaultService
	}
	zapConfig.InitialFields = map[string]interface{}{"service": service}

	return zapConfig.Build()
}
