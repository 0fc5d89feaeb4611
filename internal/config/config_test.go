package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netsentry/internal/targets"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, targets.DefaultMaxTargets, cfg.Engine.MaxTargets)
	assert.Equal(t, ModeInProcess, cfg.Supervisor.Mode)
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		check   func(t *testing.T, cfg *Config)
		wantErr bool
	}{
		{
			name: "yaml overrides defaults",
			file: "netsentry.yaml",
			content: `
database:
  host: db.internal
  port: 5433
  database: netsentry
  username: scanner
engine:
  max_targets: 1024
  host_concurrency: 4
  liveness:
    timeout: 250ms
supervisor:
  mode: process
  max_concurrent_scans: 2
schedules:
  - name: nightly
    cron: "0 2 * * *"
    target: 10.0.0.0/24
    scan_type: full
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "db.internal", cfg.Database.Host)
				assert.Equal(t, 5433, cfg.Database.Port)
				assert.Equal(t, 1024, cfg.Engine.MaxTargets)
				assert.Equal(t, 4, cfg.Engine.HostConcurrency)
				assert.Equal(t, 250*time.Millisecond, cfg.Engine.Liveness.Timeout)
				assert.Equal(t, 64, cfg.Engine.Liveness.Concurrency, "unset keys keep defaults")
				assert.Equal(t, ModeProcess, cfg.Supervisor.Mode)
				require.Len(t, cfg.Schedules, 1)
				assert.Equal(t, "nightly", cfg.Schedules[0].Name)
			},
		},
		{
			name:    "json accepted",
			file:    "netsentry.json",
			content: `{"engine": {"max_targets": 16}, "logging": {"level": "debug", "format": "json"}}`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 16, cfg.Engine.MaxTargets)
				assert.Equal(t, "debug", string(cfg.Logging.Level))
			},
		},
		{
			name:    "invalid yaml syntax",
			file:    "bad.yaml",
			content: "database:\n  port: [nope\n",
			wantErr: true,
		},
		{
			name:    "zero max targets rejected",
			file:    "cap.yaml",
			content: "engine:\n  max_targets: 0\n",
			wantErr: true,
		},
		{
			name:    "bad backend",
			file:    "backend.yaml",
			content: "engine:\n  backend: masscan\n",
			wantErr: true,
		},
		{
			name:    "bad port list",
			file:    "ports.yaml",
			content: "engine:\n  ports:\n    quick: \"22,99999\"\n",
			wantErr: true,
		},
		{
			name:    "bad schedule",
			file:    "sched.yaml",
			content: "schedules:\n  - cron: \"not cron\"\n    target: 10.0.0.1\n",
			wantErr: true,
		},
		{
			name:    "bad schedule target",
			file:    "sched2.yaml",
			content: "schedules:\n  - cron: \"@hourly\"\n    target: nowhere\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.file, tt.content))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "netsentry.yaml")
	cfg := Default()
	cfg.Engine.MaxTargets = 64
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 64, loaded.Engine.MaxTargets)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing database host", func(c *Config) { c.Database.Host = "" }},
		{"database port", func(c *Config) { c.Database.Port = 0 }},
		{"host concurrency", func(c *Config) { c.Engine.HostConcurrency = 0 }},
		{"max sockets", func(c *Config) { c.Engine.MaxSockets = -1 }},
		{"negative probe rate", func(c *Config) { c.Engine.ProbeRate = -1 }},
		{"port timeout", func(c *Config) { c.Engine.Ports.Timeout = 0 }},
		{"supervisor mode", func(c *Config) { c.Supervisor.Mode = "fork" }},
		{"scan cap", func(c *Config) { c.Supervisor.MaxConcurrentScans = 0 }},
		{"lease ttl", func(c *Config) { c.Supervisor.LeaseTTL = time.Millisecond }},
		{"reaper schedule", func(c *Config) { c.Supervisor.ReaperSchedule = "every minute" }},
		{"api port", func(c *Config) { c.API.Port = 70000 }},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("api disabled skips api checks", func(t *testing.T) {
		cfg := Default()
		cfg.API.Enabled = false
		cfg.API.Port = 0
		assert.NoError(t, cfg.Validate())
	})
}

func TestPortsFor(t *testing.T) {
	cfg := Default()

	quick, err := cfg.Engine.PortsFor(ScanTypeQuick)
	require.NoError(t, err)
	full, err := cfg.Engine.PortsFor(ScanTypeFull)
	require.NoError(t, err)

	assert.Len(t, quick, 15)
	assert.Greater(t, len(full), len(quick))
	assert.Contains(t, full, targets.Port{Number: 161, Transport: targets.UDP})
	assert.True(t, IsValidScanType("quick"))
	assert.False(t, IsValidScanType("stealth"))
}
