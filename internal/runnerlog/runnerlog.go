// Package runnerlog wraps log/slog the same way the teacher wires its
// global logger (a single *slog.Logger configured once at startup,
// narrowed with .With(...) per component), so every runner.Runner and
// its surrounding domain components share one structured logging story.
package runnerlog

import (
	"log/slog"
	"os"
)

// Config mirrors the teacher's LoggingConfig: level/format/output are the
// only knobs a deployed indexer needs to tune.
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// New builds a *slog.Logger from Config and installs it as slog's
// default, matching globals.InitLogger's behavior in the teacher repo.
func New(cfg Config) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// WithComponent narrows logger with a component tag and optional runner
// metadata, mirroring how the teacher tags "component" on every
// subsystem logger (scheduler, plugin_executor, batch writer, ...).
func WithComponent(logger *slog.Logger, component string, metadata map[string]string) *slog.Logger {
	l := logger.With("component", component)
	for k, v := range metadata {
		l = l.With(k, v)
	}
	return l
}
