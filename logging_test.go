package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatResponses(t *testing.T) {
	assert.Equal(t, "<main> done", FormatAccountResponse("main", "done"))
	assert.Equal(t, "<main> 3 items", FormatAccountResponse("main", "%d items", 3))
	assert.Equal(t, "<cartpilot> 100% sure", FormatStaticResponse("100% sure"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("info", true))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING", false))
	assert.Equal(t, slog.LevelError, parseLevel("error", false))
	assert.Equal(t, slog.LevelInfo, parseLevel("", false))
}

func TestNewLoggerWritesFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogFile = filepath.Join(t.TempDir(), "logs", "cartpilot.log")
	cfg.LogLevel = "warn"

	log, closer := NewLogger(cfg)
	accountLogger(log, "main").Warn("empty response", "step", stepInitTransaction)
	log.Info("not written")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"account":"main"`)
	assert.Contains(t, lines[0], `"step":"initTransaction"`)
}
