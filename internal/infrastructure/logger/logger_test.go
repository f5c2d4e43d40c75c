package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
	assert.Equal(t, "stderr", cfg.ErrorOutput)
	assert.NotEmpty(t, cfg.TimeFormat)
}

func TestConfig_Merge(t *testing.T) {
	base := DefaultConfig()
	merged := base.Merge(Config{Format: "json", Output: "sfagent.log"})

	assert.Equal(t, "json", merged.Format)
	assert.Equal(t, "sfagent.log", merged.Output)
	assert.Equal(t, "info", merged.Level)
	assert.Equal(t, "stderr", merged.ErrorOutput)
	assert.Equal(t, base.TimeFormat, merged.TimeFormat)

	// base is left untouched
	assert.Equal(t, "console", base.Format)
	assert.Equal(t, "stdout", base.Output)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"unknown", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var lines []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		lines = append(lines, entry)
	}
	return lines
}

func TestNew_FileSinkAndErrorChannel(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "agent.log")
	errOut := filepath.Join(dir, "alerts.log")

	logger, err := New(&Config{
		Level:       "info",
		Format:      "json",
		Output:      out,
		ErrorOutput: errOut,
		TimeFormat:  "2006-01-02T15:04:05Z07:00",
		Host:        "erp-host-01",
	})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("cycle finished", zap.Int("inserted", 2))
	logger.Error("record failed", zap.String("external_id", "42"))
	require.NoError(t, Sync(logger))

	lines := readLines(t, out)
	require.Len(t, lines, 2)
	assert.Equal(t, "cycle finished", lines[0]["msg"])
	assert.Equal(t, "erp-host-01", lines[0]["host"])
	assert.EqualValues(t, 2, lines[0]["inserted"])
	assert.Equal(t, "record failed", lines[1]["msg"])

	alerts := readLines(t, errOut)
	require.Len(t, alerts, 1)
	assert.Equal(t, "record failed", alerts[0]["msg"])
	assert.Equal(t, "42", alerts[0]["external_id"])
}

func TestNew_FileIsAppended(t *testing.T) {
	out := filepath.Join(t.TempDir(), "agent.log")
	require.NoError(t, os.WriteFile(out, []byte(`{"msg":"previous run"}`+"\n"), 0644))

	logger, err := New(&Config{Level: "info", Format: "json", Output: out, ErrorOutput: "none"})
	require.NoError(t, err)
	logger.Info("service started")
	_ = logger.Sync()

	lines := readLines(t, out)
	require.Len(t, lines, 2)
	assert.Equal(t, "previous run", lines[0]["msg"])
	assert.Equal(t, "service started", lines[1]["msg"])
}

func TestNew_UnwritableFileFallsBack(t *testing.T) {
	logger, err := New(&Config{
		Level:       "info",
		Format:      "console",
		Output:      filepath.Join(t.TempDir(), "missing", "dir", "agent.log"),
		ErrorOutput: "none",
	})
	require.NoError(t, err)
	assert.NotPanics(t, func() { logger.Info("still logging") })
}

func TestNew_ExtraCores(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)

	logger, err := New(&Config{Level: "info", Format: "json", Output: "stdout", ErrorOutput: "none", Host: "h"}, core)
	require.NoError(t, err)

	logger.Info("teed")

	entries := observed.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "teed", entries[0].Message)
	assert.Equal(t, "h", entries[0].ContextMap()["host"])
}

func TestCreateErrorWriter(t *testing.T) {
	assert.Nil(t, createErrorWriter("none"))
	assert.Nil(t, createErrorWriter("NONE"))
	assert.NotNil(t, createErrorWriter(""))
	assert.NotNil(t, createErrorWriter("stderr"))
}
