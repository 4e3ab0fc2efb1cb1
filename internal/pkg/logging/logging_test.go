package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewJSONWithFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	l, err := New(Options{Level: "warn", Format: "json", File: path, Output: &buf})
	require.NoError(t, err)

	l.Info("dropped")
	l.Warn("kept", "service", "Paszporty")
	require.NoError(t, l.Close())

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "Paszporty", rec["service"])

	fromFile, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, buf.String(), string(fromFile))
}

func TestNewSetsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	_, err := New(Options{Output: &buf})
	require.NoError(t, err)

	slog.Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}
