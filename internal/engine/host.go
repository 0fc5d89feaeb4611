package engine

import (
	"context"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/netsentry/internal/db"
	"github.com/anstrom/netsentry/internal/errors"
	"github.com/anstrom/netsentry/internal/scanning"
	"github.com/anstrom/netsentry/internal/targets"
	"github.com/anstrom/netsentry/internal/vulns"
)

// Pipeline stages, used in logs, metrics and host errors.
const (
	stageExpand    = "expand"
	stageLiveness  = "liveness"
	stagePorts     = "ports"
	stageDetection = "detection"
	stageMatching  = "matching"
	stagePersist   = "persist"
	stageComplete  = "complete"
)

const hostJobType = "host"

// hostOutcome is what one host contributes to the scan aggregates. Only
// findings that reached the store are counted.
type hostOutcome struct {
	ports     []scanning.PortResult
	findings  []vulns.Finding
	openPort  int
	persisted bool
	err       error
}

// hostJob runs the per-host pipeline. It is executed by the worker pool and
// read by the collector only after its result arrives, so the outcome needs
// no locking.
type hostJob struct {
	o       *Orchestrator
	scanID  uuid.UUID
	host    db.Host
	addr    netip.Addr
	ports   []targets.Port
	outcome hostOutcome
}

func (j *hostJob) ID() string   { return j.addr.String() }
func (j *hostJob) Type() string { return hostJobType }

// Execute scans, fingerprints and matches one host and writes its rows.
// Failures of a stage are absorbed into the outcome; the returned error only
// reports that something went wrong and never stops the scan.
func (j *hostJob) Execute(ctx context.Context) error {
	o := j.o
	host := j.addr.String()

	start := time.Now()
	results, err := o.scanner.ScanHost(ctx, j.addr, j.ports)
	o.recorder.StageDuration(stagePorts, time.Since(start))
	if err != nil {
		j.fail(errors.NewHostError(host, stagePorts, err))
	}

	if o.detector != nil {
		start = time.Now()
		if err := o.detector.Detect(ctx, j.addr, results); err != nil {
			j.fail(errors.NewHostError(host, stageDetection, err))
		}
		o.recorder.StageDuration(stageDetection, time.Since(start))
	}

	start = time.Now()
	findings := o.matcher.Match(j.addr, results)
	o.recorder.StageDuration(stageMatching, time.Since(start))

	j.outcome.ports = results
	j.outcome.openPort = len(scanning.OpenPorts(results))

	// Rows are written even when the scan context ended so partial results
	// survive a cancelled or timed out scan.
	persistCtx := context.WithoutCancel(ctx)
	if err := j.persist(persistCtx, results, findings); err != nil {
		j.fail(errors.NewHostError(host, stagePersist, err))
	} else {
		j.outcome.findings = findings
		j.outcome.persisted = true
	}

	if err := o.store.CompleteHost(persistCtx, j.host.ID, j.outcome.openPort, j.errorMessage()); err != nil {
		j.fail(errors.NewHostError(host, stageComplete, err))
	}
	return j.outcome.err
}

func (j *hostJob) persist(ctx context.Context, results []scanning.PortResult, findings []vulns.Finding) error {
	rows := make([]db.PortFinding, 0, len(results))
	for _, r := range results {
		rows = append(rows, db.PortFinding{
			HostID:     j.host.ID,
			Port:       int(r.Port),
			Transport:  string(r.Transport),
			State:      r.State,
			Service:    r.Service,
			Product:    r.Product,
			Version:    r.Version,
			Banner:     r.Banner,
			TLSVersion: r.TLSVersion,
		})
	}
	if err := j.o.store.UpsertPortFindings(ctx, rows); err != nil {
		return err
	}

	vulnRows := make([]db.VulnerabilityFinding, 0, len(findings))
	for _, f := range findings {
		vulnRows = append(vulnRows, db.VulnerabilityFinding{
			ScanID:      j.scanID,
			HostID:      j.host.ID,
			Port:        int(f.Port),
			Transport:   string(f.Transport),
			RuleID:      f.RuleID,
			Severity:    f.Severity,
			Title:       f.Title,
			Description: f.Description,
			Service:     f.Service,
			Version:     f.Version,
		})
	}
	return j.o.store.InsertVulnerabilities(ctx, vulnRows)
}

// fail keeps the first error of the host.
func (j *hostJob) fail(err error) {
	if j.outcome.err == nil {
		j.outcome.err = err
	}
}

func (j *hostJob) errorMessage() *string {
	if j.outcome.err == nil {
		return nil
	}
	msg := j.outcome.err.Error()
	return &msg
}
