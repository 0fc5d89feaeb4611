// Package daemon provides the long-running serve process of netsentry.
// It connects to the database, wires the scan engine, supervisor, scheduler
// and API server together, and coordinates their shutdown.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/anstrom/netsentry/internal/api"
	"github.com/anstrom/netsentry/internal/config"
	"github.com/anstrom/netsentry/internal/db"
	"github.com/anstrom/netsentry/internal/engine"
	"github.com/anstrom/netsentry/internal/logging"
	"github.com/anstrom/netsentry/internal/metrics"
	"github.com/anstrom/netsentry/internal/scans"
	"github.com/anstrom/netsentry/internal/scheduler"
	"github.com/anstrom/netsentry/internal/supervisor"
)

const (
	healthCheckInterval   = 10 * time.Second
	systemMetricsInterval = 15 * time.Second
)

// File permission constants.
const (
	DefaultDirPermissions  = 0o750
	DefaultFilePermissions = 0o600
)

// Daemon represents the serve process.
type Daemon struct {
	config     *config.Config
	configPath string
	pidFile    string
	logger     *logging.Logger

	database     *db.DB
	repo         *db.ScanRepository
	metrics      *metrics.PrometheusMetrics
	orchestrator *engine.Orchestrator
	supervisor   *supervisor.Supervisor
	service      *scans.Service
	scheduler    *scheduler.Scheduler
	apiServer    *api.Server

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	apiDone   chan struct{}
	startedAt time.Time
	mu        sync.RWMutex
}

// New creates a new daemon instance. configPath is reloaded on SIGHUP and
// handed to worker processes.
func New(cfg *config.Config, configPath string, logger *logging.Logger) *Daemon {
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		config:     cfg,
		configPath: configPath,
		pidFile:    cfg.Daemon.PIDFile,
		logger:     logger.WithComponent("daemon"),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Start runs the daemon until it receives a termination signal or Stop is
// called.
func (d *Daemon) Start() error {
	d.logger.Info("Starting netsentry daemon")

	if err := d.config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := d.createPIDFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}

	d.setupSignalHandlers()

	database, err := d.initDatabase()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := d.wire(database); err != nil {
		d.closeDatabase()
		d.cleanup()
		return fmt.Errorf("failed to initialize components: %w", err)
	}

	d.logger.Info("Daemon started successfully", "pid", os.Getpid())
	return d.run()
}

// Stop asks the daemon to shut down and waits for it.
func (d *Daemon) Stop() error {
	d.logger.Info("Stopping daemon")
	d.cancel()

	select {
	case <-d.done:
		d.logger.Info("Daemon stopped gracefully")
	case <-time.After(d.config.Daemon.ShutdownTimeout):
		d.logger.Warn("Shutdown timeout reached")
	}
	return nil
}

// initDatabase connects and applies pending migrations.
func (d *Daemon) initDatabase() (*db.DB, error) {
	d.logger.Info("Connecting to database")

	database, err := db.ConnectAndMigrate(d.ctx, &d.config.Database)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	d.logger.Info("Database connection established")
	return database, nil
}

// wire builds every component on top of database.
func (d *Daemon) wire(database *db.DB) error {
	d.database = database
	d.repo = db.NewScanRepository(database)

	var recorder metrics.Recorder = metrics.Nop{}
	if d.config.Metrics.Enabled {
		d.metrics = metrics.NewPrometheusMetrics()
		recorder = d.metrics
	}

	orch, err := engine.FromConfig(d.config, d.repo, d.logger, recorder)
	if err != nil {
		return fmt.Errorf("scan engine: %w", err)
	}
	d.orchestrator = orch

	sup, err := supervisor.FromConfig(d.config.Supervisor, orch, d.repo, d.workerArgs(), d.logger, recorder)
	if err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	d.supervisor = sup

	d.service = scans.NewService(d.repo, sup, scans.Options{
		LivenessEstimate: d.config.Engine.Liveness.Timeout * time.Duration(livenessRounds),
	}, d.logger, recorder)

	sched, err := scheduler.FromConfig(d.config, d.repo, d.service, d.logger)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	d.scheduler = sched

	if !d.config.API.Enabled {
		d.logger.Info("API server disabled, skipping initialization")
		return nil
	}

	server, err := api.New(d.config, api.Dependencies{
		Service: d.service,
		Pinger:  database,
		Scans:   sup,
		Metrics: d.metrics,
		Logger:  d.logger,
	})
	if err != nil {
		return fmt.Errorf("API server creation failed: %w", err)
	}
	d.apiServer = server
	return nil
}

// livenessRounds approximates how many liveness timeouts a small scan
// spends in discovery.
const livenessRounds = 30

// workerArgs are the global flags a worker process needs to find the same
// configuration as this daemon.
func (d *Daemon) workerArgs() []string {
	if d.configPath == "" {
		return nil
	}
	return []string{"--config", d.configPath}
}

// createPIDFile creates the PID file.
func (d *Daemon) createPIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	dir := filepath.Dir(d.pidFile)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	if err := d.checkExistingPID(); err != nil {
		return err
	}

	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), DefaultFilePermissions); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	d.logger.Info("Created PID file", "path", d.pidFile, "pid", pid)
	return nil
}

// checkExistingPID refuses to start over a live process and removes stale
// PID files.
func (d *Daemon) checkExistingPID() error {
	data, err := os.ReadFile(d.pidFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read existing PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		_ = os.Remove(d.pidFile)
		return nil
	}

	if pid != os.Getpid() && isProcessRunning(pid) {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	_ = os.Remove(d.pidFile)
	return nil
}

// isProcessRunning checks if a process with the given PID is running.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// setupSignalHandlers sets up signal handling for graceful shutdown.
func (d *Daemon) setupSignalHandlers() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGTERM,
		syscall.SIGINT,
		syscall.SIGHUP,
		syscall.SIGUSR1,
	)

	go func() {
		defer signal.Stop(sigChan)
		for {
			select {
			case <-d.ctx.Done():
				return
			case sig := <-sigChan:
				d.logger.Info("Received signal", "signal", sig.String())
				switch sig {
				case syscall.SIGTERM, syscall.SIGINT:
					d.logger.Info("Initiating graceful shutdown")
					d.cancel()
					return
				case syscall.SIGHUP:
					if err := d.reloadConfiguration(); err != nil {
						d.logger.Error("Configuration reload failed", "error", err)
					}
				case syscall.SIGUSR1:
					d.dumpStatus()
				}
			}
		}
	}()
}

// run starts the serving components and blocks until the daemon context
// ends, then shuts everything down in order.
func (d *Daemon) run() error {
	defer close(d.done)
	d.startedAt = time.Now()

	if d.metrics != nil {
		go d.metrics.StartPeriodicUpdates(d.ctx, systemMetricsInterval)
	}

	if err := d.currentScheduler().Start(); err != nil {
		d.shutdown()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	if d.apiServer != nil {
		d.apiDone = make(chan struct{})
		go func() {
			defer close(d.apiDone)
			if err := d.apiServer.Start(d.ctx); err != nil {
				d.logger.Error("API server error", "error", err)
				d.cancel()
			}
		}()
	}

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Info("Shutdown signal received")
			d.shutdown()
			return nil
		case <-ticker.C:
			d.performHealthCheck()
		}
	}
}

// shutdown stops intake before execution: the API first, then the
// scheduler, then running scans, and finally the database.
func (d *Daemon) shutdown() {
	d.cancel()

	if d.apiDone != nil {
		<-d.apiDone
	}

	d.currentScheduler().Stop()

	ctx, cancel := context.WithTimeout(context.Background(), d.config.Daemon.ShutdownTimeout)
	defer cancel()
	if err := d.supervisor.Shutdown(ctx); err != nil {
		d.logger.Warn("Scans still running at shutdown", "error", err)
	}

	d.closeDatabase()
	d.cleanup()
}

func (d *Daemon) closeDatabase() {
	if d.database == nil {
		return
	}
	if err := d.database.Close(); err != nil {
		d.logger.ErrorDatabase("Error closing database", err)
	}
}

// performHealthCheck pings the database. The connection pool reconnects on
// its own; failures are only reported.
func (d *Daemon) performHealthCheck() {
	if d.database == nil {
		return
	}
	ctx, cancel := context.WithTimeout(d.ctx, healthCheckInterval/2)
	defer cancel()
	if err := d.database.Ping(ctx); err != nil && d.ctx.Err() == nil {
		d.logger.ErrorDatabase("Database health check failed", err)
	}
}

// cleanup removes the PID file.
func (d *Daemon) cleanup() {
	if d.pidFile == "" {
		return
	}
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("Error removing PID file", "path", d.pidFile, "error", err)
		return
	}
	d.logger.Info("Removed PID file", "path", d.pidFile)
}

func (d *Daemon) currentScheduler() *scheduler.Scheduler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.scheduler
}

// reloadConfiguration re-reads the configuration file and replaces the
// recurring scan schedule. Other settings take effect on restart.
func (d *Daemon) reloadConfiguration() error {
	d.logger.Info("Reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new configuration: %w", err)
	}
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("new configuration is invalid: %w", err)
	}

	sched, err := scheduler.FromConfig(newConfig, d.repo, d.service, d.logger)
	if err != nil {
		return fmt.Errorf("failed to build schedule: %w", err)
	}

	d.mu.Lock()
	old := d.scheduler
	d.scheduler = sched
	d.config.Schedules = newConfig.Schedules
	d.config.Supervisor.ReaperSchedule = newConfig.Supervisor.ReaperSchedule
	d.config.Supervisor.PendingTimeout = newConfig.Supervisor.PendingTimeout
	d.mu.Unlock()

	old.Stop()
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	d.logger.Info("Configuration reloaded", "schedules", len(newConfig.Schedules))
	return nil
}

// dumpStatus writes the current daemon status to the log.
func (d *Daemon) dumpStatus() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	dbStatus := "not configured"
	if d.database != nil {
		if err := d.database.Ping(d.ctx); err != nil {
			dbStatus = "disconnected"
		} else {
			dbStatus = "connected"
		}
	}

	apiStatus := "disabled"
	if d.apiServer != nil {
		apiStatus = d.apiServer.GetAddress()
	}

	var supervision []any
	if d.supervisor != nil {
		stats := d.supervisor.Stats()
		keys := make([]string, 0, len(stats))
		for k := range stats {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			supervision = append(supervision, k, stats[k])
		}
	}

	scheduled := 0
	if sched := d.currentScheduler(); sched != nil {
		scheduled = len(sched.GetJobs())
	}

	args := []any{
		"pid", os.Getpid(),
		"uptime", time.Since(d.startedAt).Round(time.Second).String(),
		"alloc_kb", m.Alloc / 1024,
		"sys_kb", m.Sys / 1024,
		"num_gc", m.NumGC,
		"goroutines", runtime.NumGoroutine(),
		"database", dbStatus,
		"api", apiStatus,
		"scheduled_jobs", scheduled,
	}
	d.logger.Info("Daemon status", append(args, supervision...)...)
}

// IsRunning checks if the daemon is running.
func (d *Daemon) IsRunning() bool {
	select {
	case <-d.ctx.Done():
		return false
	default:
		return true
	}
}

// GetContext returns the daemon's context.
func (d *Daemon) GetContext() context.Context {
	return d.ctx
}

// GetConfig returns the daemon configuration.
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}
