// Package logger builds the process-wide slog.Logger from configuration.
package logger

import (
	"log/slog"
	"os"

	"github.com/golang-cz/devslog"
)

// Options selects the handler and verbosity.
type Options struct {
	Level         string
	Format        string
	IncludeCaller bool
}

// Setup creates a new logger based on configuration. Format "json" emits
// machine-readable lines, "pretty" a colored development view, anything else
// plain text.
func Setup(opts Options) *slog.Logger {
	var level slog.Level
	switch opts.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: opts.IncludeCaller,
	}

	var handler slog.Handler
	switch opts.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	case "pretty":
		handler = devslog.NewHandler(os.Stdout, &devslog.Options{
			HandlerOptions:    handlerOpts,
			MaxSlicePrintSize: 10,
			SortKeys:          true,
		})
	default:
		handler = slog.NewTextHandler(os.Stdout, handlerOpts)
	}

	return slog.New(handler)
}
