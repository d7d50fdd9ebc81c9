// Package logging builds the process logger: zap for encoding, an optional
// rotating file sink, and a logr.Logger facade for the libraries.
package logging

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects level and sinks.
type Config struct {
	// Level is debug, info, warn or error. Verbosity V(n) maps to zap level
	// -n, so debug enables V(1).
	Level string `yaml:"level"`
	// File, when set, receives JSON logs with size-based rotation.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	// Development switches the console encoder to zap's development
	// settings.
	Development bool `yaml:"development"`
}

func DefaultConfig() Config {
	return Config{
		Level:      "info",
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 28,
	}
}

// New returns the logger and a function flushing and closing its sinks.
func New(cfg Config) (logr.Logger, func(), error) {
	level, err := zapcore.ParseLevel(orDefault(cfg.Level, "info"))
	if err != nil {
		return logr.Discard(), func() {}, fmt.Errorf("logging: %w", err)
	}
	// debug also enables V(2) detail.
	if level == zapcore.DebugLevel {
		level = zapcore.Level(-2)
	}
	enabler := zap.NewAtomicLevelAt(level)

	encCfg := zap.NewProductionEncoderConfig()
	if cfg.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), enabler),
	}

	var roller *lumberjack.Logger
	if cfg.File != "" {
		roller = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		fileEnc := zap.NewProductionEncoderConfig()
		fileEnc.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEnc), zapcore.AddSync(roller), enabler))
	}

	zl := zap.New(zapcore.NewTee(cores...))
	cleanup := func() {
		_ = zl.Sync()
		if roller != nil {
			_ = roller.Close()
		}
	}
	return zapr.NewLogger(zl), cleanup, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
