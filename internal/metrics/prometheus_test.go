package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics_InitializationAndUpdate(t *testing.T) {
	pm := NewPrometheusMetrics()
	require.NotNil(t, pm)
	require.NotNil(t, pm.GetRegistry())

	pm.UpdateSystemMetrics()
	before := pm.GetUptime()
	time.Sleep(10 * time.Millisecond)
	assert.Greater(t, pm.GetUptime(), before)
}

func TestPrometheusMetrics_HandlerServes(t *testing.T) {
	pm := NewPrometheusMetrics()
	pm.UpdateSystemMetrics()
	pm.ScanFinished("quick", "completed", 3*time.Second)

	rr := httptest.NewRecorder()
	pm.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "netsentry_system_uptime_seconds")
	assert.Contains(t, body, `netsentry_scan_total{scan_type="quick",status="completed"} 1`)
}

func TestPrometheusMetrics_ScanMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.ScanFinished("quick", "completed", 5*time.Second)
	pm.ScanFinished("quick", "completed", 3*time.Second)
	pm.ScanFinished("full", "failed", time.Second)
	assert.Equal(t, 2, testutil.CollectAndCount(pm.scansTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(pm.scansTotal.WithLabelValues("quick", "completed")))
	assert.Equal(t, 2, testutil.CollectAndCount(pm.scanDuration))

	pm.ScanError("full", "ORCHESTRATOR_FATAL")
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.scanErrors.WithLabelValues("full", "ORCHESTRATOR_FATAL")))

	pm.SetActiveScans(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(pm.activeScans))

	pm.VulnerabilitiesFound("high", 2)
	pm.VulnerabilitiesFound("low", 0)
	assert.Equal(t, 1, testutil.CollectAndCount(pm.vulnerabilities))
	assert.Equal(t, 2.0, testutil.ToFloat64(pm.vulnerabilities.WithLabelValues("high")))
}

func TestPrometheusMetrics_HostMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.HostProcessed("ok", 200*time.Millisecond)
	pm.HostProcessed("error", time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.hostsProcessed.WithLabelValues("ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.hostDuration))

	pm.PortsObserved("tcp", "open", 3)
	pm.PortsObserved("udp", "filtered", 1)
	pm.PortsObserved("tcp", "closed", 0)
	assert.Equal(t, 2, testutil.CollectAndCount(pm.portsObserved))
}

func TestPrometheusMetrics_ProbeMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.StageDuration("liveness", time.Second)
	pm.StageDuration("ports", 2*time.Second)
	assert.Equal(t, 2, testutil.CollectAndCount(pm.stageDuration))

	pm.LivenessResult("connect", 4, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.livenessTotal.WithLabelValues("connect", "alive")))
	assert.Equal(t, 3.0, testutil.ToFloat64(pm.livenessTotal.WithLabelValues("connect", "unresponsive")))
}

func TestPrometheusMetrics_DatabaseAndAPI(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.DatabaseQuery("update_progress", 5*time.Millisecond, true)
	pm.DatabaseQuery("update_progress", 5*time.Millisecond, false)
	assert.Equal(t, 2, testutil.CollectAndCount(pm.dbQueries))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.dbQueryDuration))

	pm.HTTPRequest("GET", "/api/v1/scans/{id}", "200", 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.httpRequests.WithLabelValues("GET", "/api/v1/scans/{id}", "200")))
}

func TestPrometheusMetrics_StartPeriodicUpdates(t *testing.T) {
	pm := NewPrometheusMetrics()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		pm.StartPeriodicUpdates(ctx, 20*time.Millisecond)
		close(done)
	}()
	<-done

	assert.False(t, pm.GetLastUpdate().IsZero())
	assert.Greater(t, testutil.ToFloat64(pm.goroutines), 0.0)
}

func TestNopAndOrNop(t *testing.T) {
	r := OrNop(nil)
	assert.IsType(t, Nop{}, r)
	r.ScanFinished("quick", "completed", time.Second)
	r.HTTPRequest("GET", "/", "200", time.Millisecond)

	pm := NewPrometheusMetrics()
	assert.Same(t, pm, OrNop(pm))

	timer := NewTimer()
	assert.GreaterOrEqual(t, timer.Elapsed(), time.Duration(0))
}
