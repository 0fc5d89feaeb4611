// Package config loads and validates the netsentry configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/netsentry/internal/db"
	"github.com/anstrom/netsentry/internal/logging"
	"github.com/anstrom/netsentry/internal/targets"
)

// Scan types accepted by the engine.
const (
	ScanTypeQuick = "quick"
	ScanTypeFull  = "full"
)

// Probe backends.
const (
	BackendConnect = "connect"
	BackendNmap    = "nmap"
)

// Supervisor launch modes.
const (
	ModeInProcess = "inprocess"
	ModeProcess   = "process"
)

const (
	configDirPerm  = 0750
	configFilePerm = 0600
)

// Config represents the complete netsentry configuration.
type Config struct {
	Daemon     DaemonConfig     `yaml:"daemon" json:"daemon"`
	Database   db.Config        `yaml:"database" json:"database"`
	Engine     EngineConfig     `yaml:"engine" json:"engine"`
	Supervisor SupervisorConfig `yaml:"supervisor" json:"supervisor"`
	API        APIConfig        `yaml:"api" json:"api"`
	Logging    logging.Config   `yaml:"logging" json:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
	Schedules  []ScheduleConfig `yaml:"schedules" json:"schedules"`
}

// DaemonConfig holds settings for the long-running serve process.
type DaemonConfig struct {
	PIDFile         string        `yaml:"pid_file" json:"pid_file"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// EngineConfig controls how a single scan probes the network.
type EngineConfig struct {
	// Upper bound on candidates produced by expanding a CIDR target.
	MaxTargets int `yaml:"max_targets" json:"max_targets"`

	// Hosts of one scan processed concurrently.
	HostConcurrency int `yaml:"host_concurrency" json:"host_concurrency"`

	// Process-wide ceiling on simultaneously open probe sockets.
	MaxSockets int `yaml:"max_sockets" json:"max_sockets"`

	// Probes per second across the process; 0 disables pacing.
	ProbeRate float64 `yaml:"probe_rate" json:"probe_rate"`

	// connect (native dialer) or nmap.
	Backend string `yaml:"backend" json:"backend"`

	// Replaces the built-in vulnerability rules when set.
	RulesFile string `yaml:"rules_file" json:"rules_file"`

	// Hard limit on a whole scan's runtime.
	ScanTimeout time.Duration `yaml:"scan_timeout" json:"scan_timeout"`

	Liveness  LivenessConfig  `yaml:"liveness" json:"liveness"`
	Ports     PortsConfig     `yaml:"ports" json:"ports"`
	Detection DetectionConfig `yaml:"detection" json:"detection"`
}

// LivenessConfig controls host-alive checks.
type LivenessConfig struct {
	Ports       string        `yaml:"ports" json:"ports"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	Concurrency int           `yaml:"concurrency" json:"concurrency"`
}

// PortsConfig controls port probing.
type PortsConfig struct {
	Quick       string        `yaml:"quick" json:"quick"`
	Full        string        `yaml:"full" json:"full"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	Concurrency int           `yaml:"concurrency" json:"concurrency"`
}

// DetectionConfig controls service refinement probes.
type DetectionConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	SNMPCommunity string        `yaml:"snmp_community" json:"snmp_community"`
}

// SupervisorConfig controls how scans are launched and watched.
type SupervisorConfig struct {
	Mode               string        `yaml:"mode" json:"mode"`
	MaxConcurrentScans int           `yaml:"max_concurrent_scans" json:"max_concurrent_scans"`
	LeaseTTL           time.Duration `yaml:"lease_ttl" json:"lease_ttl"`
	QueueTimeout       time.Duration `yaml:"queue_timeout" json:"queue_timeout"`
	PendingTimeout     time.Duration `yaml:"pending_timeout" json:"pending_timeout"`
	ReaperSchedule     string        `yaml:"reaper_schedule" json:"reaper_schedule"`

	// Binary re-executed in process mode; defaults to the running executable.
	WorkerBinary string `yaml:"worker_binary" json:"worker_binary"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	Host           string        `yaml:"host" json:"host"`
	Port           int           `yaml:"port" json:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes" json:"max_header_bytes"`
	MaxRequestSize int64         `yaml:"max_request_size" json:"max_request_size"`
	EnableCORS     bool          `yaml:"enable_cors" json:"enable_cors"`
	CORSOrigins    []string      `yaml:"cors_origins" json:"cors_origins"`

	// Per-client request rate; zero disables limiting.
	RateLimitRequests int           `yaml:"rate_limit_requests" json:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window" json:"rate_limit_window"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// ScheduleConfig describes a recurring scan.
type ScheduleConfig struct {
	Name     string `yaml:"name" json:"name"`
	Cron     string `yaml:"cron" json:"cron"`
	Target   string `yaml:"target" json:"target"`
	ScanType string `yaml:"scan_type" json:"scan_type"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			PIDFile:         "",
			ShutdownTimeout: 30 * time.Second,
		},
		Database: db.DefaultConfig(),
		Engine: EngineConfig{
			MaxTargets:      targets.DefaultMaxTargets,
			HostConcurrency: 16,
			MaxSockets:      512,
			ProbeRate:       0,
			Backend:         BackendConnect,
			ScanTimeout:     2 * time.Hour,
			Liveness: LivenessConfig{
				Ports:       "80,443,22,445,3389,139",
				Timeout:     time.Second,
				Concurrency: 64,
			},
			Ports: PortsConfig{
				Quick: "21,22,23,25,53,80,110,139,143,443,445,3306,3389,5432,8080",
				Full: "21-23,25,53,80,81,110,111,135,139,143,389,443,445,465,587,631,636,873," +
					"993,995,1080,1433,1521,1723,2049,2375,3000,3306,3389,5000,5432,5900,5984," +
					"6379,8000,8080,8081,8443,8888,9000,9090,9200,11211,27017,U:53,U:161",
				Timeout:     2 * time.Second,
				Concurrency: 32,
			},
			Detection: DetectionConfig{
				Enabled:       true,
				Timeout:       3 * time.Second,
				SNMPCommunity: "public",
			},
		},
		Supervisor: SupervisorConfig{
			Mode:               ModeInProcess,
			MaxConcurrentScans: 4,
			LeaseTTL:           30 * time.Second,
			QueueTimeout:       10 * time.Minute,
			PendingTimeout:     15 * time.Minute,
			ReaperSchedule:     "@every 1m",
		},
		API: APIConfig{
			Enabled:        true,
			Host:           "127.0.0.1",
			Port:           8080,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20,
			MaxRequestSize: 1 << 20,
			EnableCORS:     false,
			CORSOrigins:    []string{"*"},

			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
		},
		Logging: logging.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		return config, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// YAML is a superset of JSON, so one decoder covers both extensions.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(path), err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateSupervisor(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateSchedules()
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535")
	}
	return nil
}

func (c *Config) validateEngine() error {
	e := c.Engine
	if e.MaxTargets <= 0 {
		return fmt.Errorf("engine.max_targets must be positive")
	}
	if e.HostConcurrency <= 0 {
		return fmt.Errorf("engine.host_concurrency must be positive")
	}
	if e.MaxSockets <= 0 {
		return fmt.Errorf("engine.max_sockets must be positive")
	}
	if e.ProbeRate < 0 {
		return fmt.Errorf("engine.probe_rate must not be negative")
	}
	if e.Liveness.Concurrency <= 0 || e.Ports.Concurrency <= 0 {
		return fmt.Errorf("engine liveness and port concurrency must be positive")
	}
	if e.Liveness.Timeout <= 0 || e.Ports.Timeout <= 0 || e.Detection.Timeout <= 0 {
		return fmt.Errorf("engine probe timeouts must be positive")
	}

	validBackends := map[string]bool{
		BackendConnect: true,
		BackendNmap:    true,
	}
	if !validBackends[e.Backend] {
		return fmt.Errorf("invalid engine backend: %s", e.Backend)
	}

	for name, spec := range map[string]string{
		"engine.liveness.ports": e.Liveness.Ports,
		"engine.ports.quick":    e.Ports.Quick,
		"engine.ports.full":     e.Ports.Full,
	} {
		if _, err := targets.ParsePorts(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (c *Config) validateSupervisor() error {
	s := c.Supervisor
	validModes := map[string]bool{
		ModeInProcess: true,
		ModeProcess:   true,
	}
	if !validModes[s.Mode] {
		return fmt.Errorf("invalid supervisor mode: %s", s.Mode)
	}
	if s.MaxConcurrentScans <= 0 {
		return fmt.Errorf("supervisor.max_concurrent_scans must be positive")
	}
	if s.LeaseTTL < time.Second {
		return fmt.Errorf("supervisor.lease_ttl must be at least one second")
	}
	if s.ReaperSchedule != "" {
		if _, err := cron.ParseStandard(s.ReaperSchedule); err != nil {
			return fmt.Errorf("invalid supervisor.reaper_schedule: %w", err)
		}
	}
	return nil
}

func (c *Config) validateAPI() error {
	if !c.API.Enabled {
		return nil
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("API port must be between 1 and 65535")
	}
	if c.API.Host == "" {
		return fmt.Errorf("API host is required when API is enabled")
	}
	if c.API.RateLimitRequests > 0 && c.API.RateLimitWindow <= 0 {
		return fmt.Errorf("api.rate_limit_window must be positive when rate limiting is enabled")
	}
	return nil
}

func (c *Config) validateLogging() error {
	validLogLevels := map[logging.LogLevel]bool{
		logging.LevelDebug: true,
		logging.LevelInfo:  true,
		logging.LevelWarn:  true,
		logging.LevelError: true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[logging.LogFormat]bool{
		logging.FormatText: true,
		logging.FormatJSON: true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateSchedules() error {
	for i, s := range c.Schedules {
		if _, err := cron.ParseStandard(s.Cron); err != nil {
			return fmt.Errorf("schedules[%d]: invalid cron expression %q: %w", i, s.Cron, err)
		}
		if err := targets.Validate(s.Target); err != nil {
			return fmt.Errorf("schedules[%d]: %w", i, err)
		}
		if s.ScanType != "" && !IsValidScanType(s.ScanType) {
			return fmt.Errorf("schedules[%d]: invalid scan type %q", i, s.ScanType)
		}
	}
	return nil
}

// IsValidScanType reports whether t names a supported scan type.
func IsValidScanType(t string) bool {
	return t == ScanTypeQuick || t == ScanTypeFull
}

// PortsFor returns the configured port list for a scan type.
func (e EngineConfig) PortsFor(scanType string) ([]targets.Port, error) {
	if scanType == ScanTypeFull {
		return targets.ParsePorts(e.Ports.Full)
	}
	return targets.ParsePorts(e.Ports.Quick)
}

// GetAPIAddress returns the API listen address.
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}
