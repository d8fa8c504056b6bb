package logging

import (
	"fmt"
	"io"
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

// Options controls where and how Configure sends log output (spec §6.3:
// LOG_LEVEL, LOG_FILE, CLEAR_LOG).
type Options struct {
	Level string
	// File, if non-empty, is a path log output is written to in addition
	// to stderr. Clear truncates it first instead of appending.
	File  string
	Clear bool
}

// Configure installs a process-wide slog default logger.
//
// Supported levels: debug, info, warn, error.
func Configure(level string) error {
	return ConfigureWith(Options{Level: level})
}

// ConfigureWith installs a process-wide slog default logger per opts. When
// opts.File is set, log records go to both stderr and the file; CLEAR_LOG
// truncates the file on startup instead of appending to it.
func ConfigureWith(opts Options) error {
	parsed, err := parseLevel(opts.Level)
	if err != nil {
		return err
	}

	dest := io.Writer(os.Stderr)
	if opts.File != "" {
		flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
		if opts.Clear {
			flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		}
		f, err := os.OpenFile(opts.File, flags, 0o644)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", opts.File, err)
		}
		dest = io.MultiWriter(os.Stderr, f)
	}

	h := slog.NewTextHandler(dest, &slog.HandlerOptions{Level: parsed})
	slog.SetDefault(slog.New(h))
	return nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", LevelInfo:
		return slog.LevelInfo, nil
	case LevelDebug:
		return slog.LevelDebug, nil
	case LevelWarn:
		return slog.LevelWarn, nil
	case LevelError:
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", level)
	}
}
