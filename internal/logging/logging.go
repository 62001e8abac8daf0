// Package logging installs the process-wide slog default logger.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

var levels = map[string]slog.Level{
	"":         slog.LevelInfo,
	LevelDebug: slog.LevelDebug,
	LevelInfo:  slog.LevelInfo,
	LevelWarn:  slog.LevelWarn,
	LevelError: slog.LevelError,
}

// Configure installs a process-wide slog default logger writing text
// records to stderr. An empty level means info.
func Configure(level string) error {
	parsed, ok := levels[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		return fmt.Errorf("invalid log level %q", level)
	}

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parsed})
	slog.SetDefault(slog.New(h))
	return nil
}
