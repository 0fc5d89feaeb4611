package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   LogLevel
		want slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{LevelError, slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, LevelInfo, cfg.Level)
	assert.Equal(t, FormatText, cfg.Format)
	assert.Equal(t, "stderr", cfg.Output)
}

func TestJSONFormatCarriesScanFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: LevelDebug, Format: FormatJSON}, &buf)

	l.WithScanID("scan-1").WithHost("10.0.0.5").Stage("ports", "count", 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "scan stage", entry["msg"])
	assert.Equal(t, "scan-1", entry["scan_id"])
	assert.Equal(t, "10.0.0.5", entry["host"])
	assert.Equal(t, "ports", entry["stage"])
	assert.EqualValues(t, 3, entry["count"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: LevelWarn}, &buf)

	l.Info("hidden")
	l.HostFailed("10.0.0.9", errors.New("reset"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "host processing failed")
	assert.Contains(t, out, "host=10.0.0.9")
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "netsentry.log")
	l, err := New(Config{Level: LevelInfo, Format: FormatText, Output: path})
	require.NoError(t, err)

	l.WithComponent("daemon").Info("started")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "component=daemon"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(logFilePerm), info.Mode().Perm())
}

func TestSetDefault(t *testing.T) {
	orig := Default()
	t.Cleanup(func() { SetDefault(orig) })

	var buf bytes.Buffer
	SetDefault(NewWithWriter(Config{Level: LevelDebug}, &buf))

	Debug("debug line")
	Warn("warn line")
	assert.Contains(t, buf.String(), "debug line")
	assert.Contains(t, buf.String(), "warn line")
}
