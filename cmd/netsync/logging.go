package main

import (
	"log/slog"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vango-dev/netsync/internal/config"
	neterrors "github.com/vango-dev/netsync/internal/errors"
)

func newZap(level slog.Level, logPath string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel(level))
	cfg.OutputPaths = []string{"stderr"}
	if logPath != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, logPath)
	}
	return cfg.Build()
}

// zapLevel returns the zap level that passes slog records at l and above
// once logr has mapped them. logr has no warn level: warn records arrive as
// info, so "warn" logs like "info".
func zapLevel(l slog.Level) zapcore.Level {
	switch {
	case l < slog.LevelInfo:
		// slog debug (-4) becomes logr V(4), which zapr logs at zap level -4.
		return zapcore.Level(l)
	case l < slog.LevelError:
		return zapcore.InfoLevel
	default:
		return zapcore.ErrorLevel
	}
}

// newLogger builds the process logger from the config and flags and makes
// it the slog default. The returned func flushes it.
func newLogger(g *globals, cfg *config.Config) (*slog.Logger, func(), error) {
	name := cfg.Log.Level
	if g.logLevel != "" {
		name = g.logLevel
	}
	level, ok := config.ParseLevel(name)
	if !ok {
		return nil, nil, neterrors.New("E120").WithSubject("--log-level " + name)
	}
	path := cfg.Log.File
	if g.logFile != "" {
		path = g.logFile
	}

	zl, err := newZap(level, path)
	if err != nil {
		return nil, nil, neterrors.New("E120").WithSubject("--log-file " + path).Wrap(err)
	}
	logger := slog.New(logr.ToSlogHandler(zapr.NewLogger(zl)))
	slog.SetDefault(logger)
	return logger, func() { _ = zl.Sync() }, nil
}
