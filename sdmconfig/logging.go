package main

import (
	"fmt"
	"io"
	"log/slog"

	charmlog "github.com/charmbracelet/log"
)

// newLogHandler returns the slog handler for -log-format. Text output goes
// through charmbracelet/log; json uses the standard JSON handler.
func newLogHandler(w io.Writer, format string, level slog.Level) (slog.Handler, error) {
	switch format {
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}), nil
	case "text", "":
		logger := charmlog.NewWithOptions(w, charmlog.Options{
			Level:           charmlog.Level(level),
			ReportTimestamp: true,
		})
		return logger, nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", format)
	}
}
