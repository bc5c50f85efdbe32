// Package logging builds the zap loggers used across keen.
//
// A logger has up to two sinks: a human-readable console sink on stderr and
// an appending JSON debug log file, typically .keen/logs/keen-debug.log in
// the repository.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects level and sinks.
type Config struct {
	// Level is a zap level name (debug, info, warn, error).
	Level string
	// File is the debug log path. Empty disables the file sink.
	File string
	// Console enables the stderr sink.
	Console bool
}

// New builds a logger from cfg. The returned close function syncs and
// closes the log file; it is safe to call when no file was opened.
func New(cfg Config) (*zap.Logger, func() error, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		l, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("parse log level: %w", err)
		}
		level = l
	}

	var cores []zapcore.Core
	closeFn := func() error { return nil }

	if cfg.Console {
		cores = append(cores, zapcore.NewCore(newEncoder("console"), zapcore.Lock(os.Stderr), level))
	}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		ws := zapcore.AddSync(f)
		cores = append(cores, zapcore.NewCore(newEncoder("json"), ws, level))
		closeFn = func() error {
			_ = ws.Sync()
			return f.Close()
		}
	}

	if len(cores) == 0 {
		return zap.NewNop(), closeFn, nil
	}

	logger := zap.New(zapcore.NewTee(cores...))
	if cfg.File != "" {
		logger.Debug("debug log opened", zap.String("path", cfg.File))
	}
	return logger, closeFn, nil
}

// ForRepo is New with a relative File resolved against repoPath.
func ForRepo(repoPath string, cfg Config) (*zap.Logger, func() error, error) {
	if cfg.File != "" && !filepath.IsAbs(cfg.File) {
		cfg.File = filepath.Join(repoPath, cfg.File)
	}
	return New(cfg)
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// newEncoder creates JSON or console encoder.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}
