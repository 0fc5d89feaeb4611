package metrics

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace for all netsentry metrics
	namespace = "netsentry"

	// Subsystems
	subsystemScan     = "scan"
	subsystemHost     = "host"
	subsystemProbe    = "probe"
	subsystemDatabase = "database"
	subsystemSystem   = "system"
	subsystemAPI      = "api"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Scan metrics
	scansTotal      *prometheus.CounterVec
	scanDuration    *prometheus.HistogramVec
	scanErrors      *prometheus.CounterVec
	activeScans     prometheus.Gauge
	vulnerabilities *prometheus.CounterVec

	// Host pipeline metrics
	hostsProcessed *prometheus.CounterVec
	hostDuration   prometheus.Histogram
	portsObserved  *prometheus.CounterVec

	// Probe metrics
	stageDuration *prometheus.HistogramVec
	livenessTotal *prometheus.CounterVec

	// Database metrics
	dbQueries       *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
	uptime      prometheus.Gauge

	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initScanMetrics()
	pm.initHostMetrics()
	pm.initProbeMetrics()
	pm.initDatabaseMetrics()
	pm.initAPIMetrics()
	pm.initSystemMetrics()

	pm.registerMetrics()

	// Standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

func (pm *PrometheusMetrics) initScanMetrics() {
	pm.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Total number of scans finished by type and terminal status",
		},
		[]string{"scan_type", "status"},
	)

	pm.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Wall time of scans from lease claim to terminal status",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
		[]string{"scan_type"},
	)

	pm.scanErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "errors_total",
			Help:      "Total number of scan-level errors by error code",
		},
		[]string{"scan_type", "code"},
	)

	pm.activeScans = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "active",
			Help:      "Number of scans currently executing in this process",
		},
	)

	pm.vulnerabilities = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "vulnerabilities_total",
			Help:      "Total number of vulnerability findings by severity",
		},
		[]string{"severity"},
	)
}

func (pm *PrometheusMetrics) initHostMetrics() {
	pm.hostsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemHost,
			Name:      "processed_total",
			Help:      "Total number of hosts that left the per-host pipeline",
		},
		[]string{"status"},
	)

	pm.hostDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemHost,
			Name:      "duration_seconds",
			Help:      "Time spent scanning, fingerprinting and matching one host",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	pm.portsObserved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemHost,
			Name:      "ports_total",
			Help:      "Total number of port results by transport and state",
		},
		[]string{"transport", "state"},
	)
}

func (pm *PrometheusMetrics) initProbeMetrics() {
	pm.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages (liveness, ports, detection, matching)",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"stage"},
	)

	pm.livenessTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "liveness_hosts_total",
			Help:      "Hosts checked for liveness by backend and result",
		},
		[]string{"backend", "result"},
	)
}

func (pm *PrometheusMetrics) initDatabaseMetrics() {
	pm.dbQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "queries_total",
			Help:      "Total number of database queries by operation and status",
		},
		[]string{"operation", "status"},
	)

	pm.dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"operation"},
	)
}

func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
}

func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "memory_usage_bytes",
			Help:      "Current heap allocation in bytes",
		},
	)

	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Number of active goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
	)
}

func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(
		pm.scansTotal,
		pm.scanDuration,
		pm.scanErrors,
		pm.activeScans,
		pm.vulnerabilities,

		pm.hostsProcessed,
		pm.hostDuration,
		pm.portsObserved,

		pm.stageDuration,
		pm.livenessTotal,

		pm.dbQueries,
		pm.dbQueryDuration,

		pm.httpRequests,
		pm.httpDuration,

		pm.memoryUsage,
		pm.goroutines,
		pm.uptime,
	)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// ScanFinished increments the scan counter and observes its duration.
func (pm *PrometheusMetrics) ScanFinished(scanType, status string, duration time.Duration) {
	pm.scansTotal.WithLabelValues(scanType, status).Inc()
	pm.scanDuration.WithLabelValues(scanType).Observe(duration.Seconds())
}

// ScanError increments the scan error counter.
func (pm *PrometheusMetrics) ScanError(scanType, code string) {
	pm.scanErrors.WithLabelValues(scanType, code).Inc()
}

// SetActiveScans sets the number of active scans.
func (pm *PrometheusMetrics) SetActiveScans(count int) {
	pm.activeScans.Set(float64(count))
}

// HostProcessed counts a host and observes its pipeline duration.
func (pm *PrometheusMetrics) HostProcessed(status string, duration time.Duration) {
	pm.hostsProcessed.WithLabelValues(status).Inc()
	pm.hostDuration.Observe(duration.Seconds())
}

// PortsObserved adds count port results of one transport and state.
func (pm *PrometheusMetrics) PortsObserved(transport, state string, count int) {
	if count <= 0 {
		return
	}
	pm.portsObserved.WithLabelValues(transport, state).Add(float64(count))
}

// VulnerabilitiesFound adds count findings of one severity.
func (pm *PrometheusMetrics) VulnerabilitiesFound(severity string, count int) {
	if count <= 0 {
		return
	}
	pm.vulnerabilities.WithLabelValues(severity).Add(float64(count))
}

// StageDuration observes one pipeline stage.
func (pm *PrometheusMetrics) StageDuration(stage string, duration time.Duration) {
	pm.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// LivenessResult records alive and unresponsive hosts of one liveness pass.
func (pm *PrometheusMetrics) LivenessResult(backend string, candidates, alive int) {
	pm.livenessTotal.WithLabelValues(backend, "alive").Add(float64(alive))
	if down := candidates - alive; down > 0 {
		pm.livenessTotal.WithLabelValues(backend, "unresponsive").Add(float64(down))
	}
}

// DatabaseQuery counts a query and observes its duration.
func (pm *PrometheusMetrics) DatabaseQuery(operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	pm.dbQueries.WithLabelValues(operation, status).Inc()
	pm.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// HTTPRequest counts a request and observes its duration.
func (pm *PrometheusMetrics) HTTPRequest(method, path, status string, duration time.Duration) {
	pm.httpRequests.WithLabelValues(method, path, status).Inc()
	pm.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateSystemMetrics updates all system metrics with current values
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	pm.memoryUsage.Set(float64(memStats.Alloc))
	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())
	pm.lastUpdate = time.Now()
}

// GetUptime returns the application uptime
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// GetLastUpdate returns the last metrics update time
func (pm *PrometheusMetrics) GetLastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates refreshes system metrics every interval until ctx ends.
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}
