// Package metrics provides Prometheus collectors for the scan engine and the
// Recorder interface the engine reports through.
package metrics

//go:generate mockgen -destination=mocks/mock_recorder.go -package=mocks . Recorder

import "time"

// Recorder receives engine and API measurements. Implementations must be
// safe for concurrent use.
type Recorder interface {
	// ScanFinished records a scan reaching a terminal status.
	ScanFinished(scanType, status string, duration time.Duration)

	// ScanError counts a scan-level failure by error code.
	ScanError(scanType, code string)

	// SetActiveScans reports the scans currently executing in this process.
	SetActiveScans(count int)

	// HostProcessed counts one host leaving the per-host pipeline.
	HostProcessed(status string, duration time.Duration)

	// PortsObserved counts port results by transport and state.
	PortsObserved(transport, state string, count int)

	// VulnerabilitiesFound counts findings of one severity.
	VulnerabilitiesFound(severity string, count int)

	// StageDuration records the time spent in one pipeline stage.
	StageDuration(stage string, duration time.Duration)

	// LivenessResult records a liveness pass: candidates probed and hosts alive.
	LivenessResult(backend string, candidates, alive int)

	// DatabaseQuery records a store round trip.
	DatabaseQuery(operation string, duration time.Duration, success bool)

	// HTTPRequest records a served API request.
	HTTPRequest(method, path, status string, duration time.Duration)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) ScanFinished(string, string, time.Duration)        {}
func (Nop) ScanError(string, string)                          {}
func (Nop) SetActiveScans(int)                                {}
func (Nop) HostProcessed(string, time.Duration)               {}
func (Nop) PortsObserved(string, string, int)                 {}
func (Nop) VulnerabilitiesFound(string, int)                  {}
func (Nop) StageDuration(string, time.Duration)               {}
func (Nop) LivenessResult(string, int, int)                   {}
func (Nop) DatabaseQuery(string, time.Duration, bool)         {}
func (Nop) HTTPRequest(string, string, string, time.Duration) {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}

// Timer measures one operation for a Recorder callback.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() Timer {
	return Timer{start: time.Now()}
}

// Elapsed returns the time since the timer started.
func (t Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Ensure the Prometheus implementation satisfies Recorder.
var (
	_ Recorder = (*PrometheusMetrics)(nil)
	_ Recorder = Nop{}
)
