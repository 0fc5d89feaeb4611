package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/netip"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/netsentry/internal/db"
	"github.com/anstrom/netsentry/internal/discovery"
	"github.com/anstrom/netsentry/internal/errors"
	"github.com/anstrom/netsentry/internal/logging"
	"github.com/anstrom/netsentry/internal/metrics"
	"github.com/anstrom/netsentry/internal/scanning"
	"github.com/anstrom/netsentry/internal/targets"
	"github.com/anstrom/netsentry/internal/vulns"
	"github.com/anstrom/netsentry/internal/workers"
)

const (
	defaultLeaseTTL        = 30 * time.Second
	defaultHostConcurrency = 16
	releaseTimeout         = 10 * time.Second
)

// Components are the pipeline stages a scan runs through.
type Components struct {
	Liveness discovery.Prober
	Scanner  scanning.Scanner
	Detector ServiceDetector // optional
	Matcher  VulnerabilityMatcher
}

// Options tune one orchestrator.
type Options struct {
	// Owner identifies this orchestrator in scan leases. Defaults to
	// host:pid:random.
	Owner string

	LeaseTTL        time.Duration
	MaxTargets      int
	HostConcurrency int

	// Backend names the probing backend in metrics.
	Backend string

	// ScanTimeout bounds a whole scan; zero means no limit.
	ScanTimeout time.Duration

	// PortsFor resolves the port list of a scan type.
	PortsFor func(scanType string) ([]targets.Port, error)
}

// Orchestrator executes scans. One orchestrator can run several scans
// concurrently; each Run is independent.
type Orchestrator struct {
	store    Store
	liveness discovery.Prober
	scanner  scanning.Scanner
	detector ServiceDetector
	matcher  VulnerabilityMatcher
	options  Options
	logger   *logging.Logger
	recorder metrics.Recorder
}

// NewOrchestrator creates an orchestrator over store and components.
func NewOrchestrator(store Store, c Components, opts Options, logger *logging.Logger, recorder metrics.Recorder) *Orchestrator {
	if opts.Owner == "" {
		opts.Owner = DefaultOwner()
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = defaultLeaseTTL
	}
	if opts.MaxTargets <= 0 {
		opts.MaxTargets = targets.DefaultMaxTargets
	}
	if opts.HostConcurrency <= 0 {
		opts.HostConcurrency = defaultHostConcurrency
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Orchestrator{
		store:    store,
		liveness: c.Liveness,
		scanner:  c.Scanner,
		detector: c.Detector,
		matcher:  c.Matcher,
		options:  opts,
		logger:   logger.WithComponent("engine"),
		recorder: metrics.OrNop(recorder),
	}
}

// DefaultOwner builds a lease owner id unique to this process.
func DefaultOwner() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), uuid.NewString()[:8])
}

// Owner returns the lease owner id of this orchestrator.
func (o *Orchestrator) Owner() string {
	return o.options.Owner
}

// run is the state of one scan execution.
type run struct {
	scan   *db.Scan
	logger *logging.Logger
	start  time.Time

	// stopped is set once the persisted status left running.
	stopped atomic.Bool
	// leaseLost is set when another process took over the scan.
	leaseLost atomic.Bool
}

// Run executes the scan. It returns a LeaseHeld error without doing any work
// when the scan is not pending or another orchestrator owns it. Every other
// failure is recorded on the scan row; the returned error mirrors it.
func (o *Orchestrator) Run(ctx context.Context, scanID uuid.UUID) error {
	scan, err := o.store.ClaimScan(ctx, scanID, o.options.Owner, o.options.LeaseTTL)
	if err != nil {
		return err
	}

	r := &run{
		scan:   scan,
		logger: o.logger.WithScanID(scanID.String()).WithFields("target", scan.Target, "scan_type", scan.ScanType),
		start:  time.Now(),
	}
	r.logger.Stage("running", "owner", o.options.Owner)

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := o.store.ReleaseLease(releaseCtx, scanID, o.options.Owner); err != nil {
			r.logger.Warn("Failed to release scan lease", "error", err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if o.options.ScanTimeout > 0 {
		var timeoutCancel context.CancelFunc
		runCtx, timeoutCancel = context.WithTimeout(runCtx, o.options.ScanTimeout)
		defer timeoutCancel()
	}

	var keeper sync.WaitGroup
	keeperCtx, stopKeeper := context.WithCancel(runCtx)
	keeper.Add(1)
	go func() {
		defer keeper.Done()
		o.keepLease(keeperCtx, r, cancel)
	}()

	err = o.execute(runCtx, r)

	stopKeeper()
	keeper.Wait()
	return err
}

// keepLease renews the lease every third of its TTL and watches the
// persisted status. Losing the lease cancels the run.
func (o *Orchestrator) keepLease(ctx context.Context, r *run, cancelRun context.CancelFunc) {
	interval := o.options.LeaseTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := o.store.RenewLease(ctx, r.scan.ID, o.options.Owner, o.options.LeaseTTL); err != nil {
			if errors.IsCode(err, errors.CodeLeaseHeld) {
				r.logger.Error("Scan lease lost, stopping", "error", err)
				r.leaseLost.Store(true)
				cancelRun()
				return
			}
			r.logger.Warn("Failed to renew scan lease", "error", err)
		}
		o.checkStatus(ctx, r)
	}
}

// checkStatus reads the persisted status and flags the run as stopped when
// the scan is no longer running.
func (o *Orchestrator) checkStatus(ctx context.Context, r *run) bool {
	if r.stopped.Load() {
		return true
	}
	status, err := o.store.GetScanStatus(ctx, r.scan.ID)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("Failed to read scan status", "error", err)
		}
		return false
	}
	if status != db.ScanStatusRunning {
		if r.stopped.CompareAndSwap(false, true) {
			r.logger.Stage("stopping", "status", status)
		}
		return true
	}
	return false
}

func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	scan := r.scan

	addrs, err := targets.Expand(scan.Target, o.options.MaxTargets)
	if err != nil {
		return o.fail(ctx, r, errors.ErrOrchestratorFatal(stageExpand, err), nil)
	}
	if err := o.store.UpdatePlan(ctx, scan.ID, o.options.Owner, db.ScanPlan{
		TotalTargets: len(addrs),
		Message:      fmt.Sprintf("probing %d targets", len(addrs)),
	}); err != nil {
		return o.fail(ctx, r, errors.ErrOrchestratorFatal(stageExpand, err), nil)
	}
	r.logger.Stage(stageLiveness, "candidates", len(addrs))

	start := time.Now()
	alive, err := o.liveness.Probe(ctx, addrs)
	o.recorder.StageDuration(stageLiveness, time.Since(start))
	if err != nil {
		if r.leaseLost.Load() {
			return errors.NewScanError(errors.CodeLeaseHeld, "scan lease lost").WithContext("scan_id", scan.ID.String())
		}
		if o.checkStatus(context.WithoutCancel(ctx), r) {
			return o.finishStopped(ctx, r, newAggregate(0))
		}
		return o.fail(ctx, r, errors.ErrOrchestratorFatal(stageLiveness, err), nil)
	}
	o.recorder.LivenessResult(o.options.Backend, len(addrs), len(alive))
	slices.SortFunc(alive, func(a, b netip.Addr) int { return a.Compare(b) })

	if err := o.store.UpdatePlan(ctx, scan.ID, o.options.Owner, db.ScanPlan{
		TotalTargets: len(addrs),
		LiveHosts:    len(alive),
		Message:      fmt.Sprintf("scanning %d live hosts", len(alive)),
	}); err != nil {
		return o.fail(ctx, r, errors.ErrOrchestratorFatal(stageLiveness, err), nil)
	}

	jobs := make([]*hostJob, 0, len(alive))
	for _, addr := range alive {
		host := db.Host{ScanID: scan.ID, Address: addr.String(), Alive: true, LastSeen: time.Now().UTC()}
		if err := o.store.InsertHost(ctx, &host); err != nil {
			return o.fail(ctx, r, errors.ErrOrchestratorFatal(stagePersist, err), nil)
		}
		jobs = append(jobs, &hostJob{o: o, scanID: scan.ID, host: host, addr: addr})
	}

	agg := newAggregate(len(alive))
	if len(alive) == 0 {
		return o.complete(ctx, r, agg)
	}

	ports, err := o.portsFor(scan.ScanType)
	if err != nil {
		return o.fail(ctx, r, errors.ErrOrchestratorFatal(stagePorts, err), &agg.counts)
	}
	for _, j := range jobs {
		j.ports = ports
	}
	r.logger.Stage(stagePorts, "hosts", len(jobs), "ports", len(ports))

	o.processHosts(ctx, r, jobs, agg)

	switch {
	case r.leaseLost.Load():
		return errors.NewScanError(errors.CodeLeaseHeld, "scan lease lost").WithContext("scan_id", scan.ID.String())
	case r.stopped.Load():
		return o.finishStopped(ctx, r, agg)
	case ctx.Err() != nil:
		reason := "scan interrupted"
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = fmt.Sprintf("scan exceeded its time limit of %v", o.options.ScanTimeout)
		}
		return o.fail(ctx, r, errors.ErrOrchestratorFatal(stagePorts, fmt.Errorf("%s: %w", reason, ctx.Err())), &agg.counts)
	}
	return o.complete(ctx, r, agg)
}

// processHosts fans hosts out to the pool and collects their outcomes. It
// returns once every dispatched host has finished.
func (o *Orchestrator) processHosts(ctx context.Context, r *run, jobs []*hostJob, agg *aggregate) {
	pool := workers.New(workers.Config{
		Size:      o.options.HostConcurrency,
		QueueSize: 1,
	}, r.logger)
	pool.Start(ctx)

	go func() {
		defer pool.Close()
		for _, j := range jobs {
			if ctx.Err() != nil || o.checkStatus(ctx, r) {
				return
			}
			if err := pool.Submit(ctx, j); err != nil {
				return
			}
		}
	}()

	for res := range pool.Results() {
		o.collect(ctx, r, res, agg)
	}
}

// collect folds one host result into the aggregate and writes progress. It is
// the only writer of the scan row while hosts are processed.
func (o *Orchestrator) collect(ctx context.Context, r *run, res workers.Result, agg *aggregate) {
	job, ok := res.Job.(*hostJob)
	if !ok {
		return
	}
	out := job.outcome

	status := "ok"
	if res.Error != nil {
		status = "error"
		if out.err == nil {
			// Execute panicked before recording anything.
			out.err = errors.NewHostError(job.addr.String(), "panic", res.Error)
			msg := out.err.Error()
			if err := o.store.CompleteHost(context.WithoutCancel(ctx), job.host.ID, out.openPort, &msg); err != nil {
				r.logger.Warn("Failed to record host error", "host", job.addr.String(), "error", err)
			}
		}
		r.logger.HostFailed(job.addr.String(), out.err)
	}

	agg.add(out)
	o.recorder.HostProcessed(status, res.Duration)
	o.recordPorts(out)

	updated, err := o.store.UpdateProgress(context.WithoutCancel(ctx), r.scan.ID, o.options.Owner, agg.snapshot())
	if err != nil {
		r.logger.Warn("Failed to write scan progress", "hosts_processed", agg.processed, "error", err)
		return
	}
	if !updated {
		r.logger.Debug("Progress write skipped", "hosts_processed", agg.processed)
	}
}

func (o *Orchestrator) recordPorts(out hostOutcome) {
	type key struct{ transport, state string }
	counts := make(map[key]int)
	for _, p := range out.ports {
		counts[key{string(p.Transport), p.State}]++
	}
	for k, n := range counts {
		o.recorder.PortsObserved(k.transport, k.state, n)
	}
}

func (o *Orchestrator) complete(ctx context.Context, r *run, agg *aggregate) error {
	ok, err := o.store.CompleteScan(context.WithoutCancel(ctx), r.scan.ID, o.options.Owner, agg.counts)
	if err != nil {
		return o.fail(ctx, r, errors.ErrOrchestratorFatal(stageComplete, err), &agg.counts)
	}
	if !ok {
		// Cancelled between the last host and completion.
		return o.finishStopped(ctx, r, agg)
	}

	o.finished(r, db.ScanStatusCompleted, agg)
	r.logger.Stage(db.ScanStatusCompleted,
		"hosts", agg.live,
		"host_errors", agg.failed,
		"vulnerabilities", agg.counts.TotalVulnerabilities,
		"duration", time.Since(r.start))
	return nil
}

// finishStopped records the final counts of a scan an operator stopped.
func (o *Orchestrator) finishStopped(ctx context.Context, r *run, agg *aggregate) error {
	if err := o.store.RecordFinalCounts(context.WithoutCancel(ctx), r.scan.ID, agg.counts); err != nil {
		r.logger.ErrorDatabase("Failed to record final counts", err)
		return err
	}
	o.finished(r, db.ScanStatusCancelled, agg)
	r.logger.Stage(db.ScanStatusCancelled, "hosts_processed", agg.processed, "hosts", agg.live)
	return nil
}

// fail marks the scan failed with cause as its message.
func (o *Orchestrator) fail(ctx context.Context, r *run, cause error, counts *db.ScanCounts) error {
	r.logger.Error("Scan failed", "error", cause)
	o.recorder.ScanError(r.scan.ScanType, string(errors.GetCode(cause)))

	if err := o.store.FailScan(context.WithoutCancel(ctx), r.scan.ID, cause.Error(), counts); err != nil {
		r.logger.ErrorDatabase("Failed to mark scan failed", err)
	}
	o.recorder.ScanFinished(r.scan.ScanType, db.ScanStatusFailed, time.Since(r.start))
	return cause
}

func (o *Orchestrator) finished(r *run, status string, agg *aggregate) {
	o.recorder.ScanFinished(r.scan.ScanType, status, time.Since(r.start))
	for sev, n := range map[string]int{
		vulns.SeverityCritical: agg.counts.CriticalCount,
		vulns.SeverityHigh:     agg.counts.HighCount,
		vulns.SeverityMedium:   agg.counts.MediumCount,
		vulns.SeverityLow:      agg.counts.LowCount,
		vulns.SeverityInfo:     agg.counts.InfoCount,
	} {
		o.recorder.VulnerabilitiesFound(sev, n)
	}
}

func (o *Orchestrator) portsFor(scanType string) ([]targets.Port, error) {
	if o.options.PortsFor == nil {
		return nil, errors.ErrConfigMissing("engine.ports")
	}
	ports, err := o.options.PortsFor(scanType)
	if err != nil {
		return nil, err
	}
	if len(ports) == 0 {
		return nil, errors.ErrConfigMissing("engine.ports")
	}
	return ports, nil
}
