package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the process logger: JSON lines to stderr and, when
// configured, to a rotating file.
func NewLogger(cfg *Config) (*slog.Logger, io.Closer) {
	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	if cfg.LogFile != "" {
		_ = os.MkdirAll(filepath.Dir(cfg.LogFile), 0755)

		rot := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    20, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
		}
		out = io.MultiWriter(os.Stderr, rot)
		closer = rot
	}

	h := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel, cfg.DebugMode)})
	return slog.New(h).With("component", "cartpilot"), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func parseLevel(level string, debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func accountLogger(log *slog.Logger, account string) *slog.Logger {
	if log == nil {
		log = discardLogger()
	}
	return log.With("account", account)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const staticTag = "cartpilot"

// FormatAccountResponse tags a user visible line with its account.
func FormatAccountResponse(account, format string, args ...any) string {
	if len(args) > 0 {
		format = fmt.Sprintf(format, args...)
	}
	return fmt.Sprintf("<%s> %s", account, format)
}

func FormatStaticResponse(format string, args ...any) string {
	return FormatAccountResponse(staticTag, format, args...)
}
