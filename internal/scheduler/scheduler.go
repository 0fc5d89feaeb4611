// Package scheduler runs the cron-driven housekeeping of the engine: the
// lease reaper that fails scans whose orchestrator disappeared, and the
// recurring scans declared in configuration.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anstrom/netsentry/internal/config"
	"github.com/anstrom/netsentry/internal/logging"
	"github.com/anstrom/netsentry/internal/scans"
)

const (
	reaperJobName         = "lease-reaper"
	defaultReaperSchedule = "@every 1m"
	defaultPendingTimeout = 10 * time.Minute
	jobTimeout            = 30 * time.Second
)

// Janitor is the persistence used by the reaper.
type Janitor interface {
	ReapExpiredLeases(ctx context.Context) ([]uuid.UUID, error)
	FailStalePending(ctx context.Context, maxAge time.Duration) ([]uuid.UUID, error)
}

// ScanStarter starts scans. *scans.Service implements it.
type ScanStarter interface {
	Start(ctx context.Context, req scans.Request) (*scans.StartResult, error)
}

// Options configure the reaper.
type Options struct {
	ReaperSchedule string
	PendingTimeout time.Duration
}

// ScheduledJob is a recurring scan registered with the scheduler.
type ScheduledJob struct {
	Name       string
	CronExpr   string
	CronID     cron.EntryID
	Request    scans.Request
	LastRun    time.Time
	NextRun    time.Time
	LastScanID uuid.UUID
	LastError  string
	Running    bool
}

// ReapResult reports what one reaper pass failed.
type ReapResult struct {
	ExpiredLeases []uuid.UUID
	StalePending  []uuid.UUID
}

// Scheduler owns the cron runner.
type Scheduler struct {
	janitor Janitor
	starter ScanStarter
	opts    Options
	cron    *cron.Cron
	jobs    map[string]*ScheduledJob
	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *logging.Logger
}

// NewScheduler creates a scheduler. starter may be nil when no recurring
// scans are configured.
func NewScheduler(janitor Janitor, starter ScanStarter, opts Options, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	if opts.ReaperSchedule == "" {
		opts.ReaperSchedule = defaultReaperSchedule
	}
	if opts.PendingTimeout <= 0 {
		opts.PendingTimeout = defaultPendingTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		janitor: janitor,
		starter: starter,
		opts:    opts,
		cron:    cron.New(),
		jobs:    make(map[string]*ScheduledJob),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.WithComponent("scheduler"),
	}
}

// FromConfig creates a scheduler with the reaper settings and the recurring
// scans of cfg.
func FromConfig(cfg *config.Config, janitor Janitor, starter ScanStarter, logger *logging.Logger) (*Scheduler, error) {
	s := NewScheduler(janitor, starter, Options{
		ReaperSchedule: cfg.Supervisor.ReaperSchedule,
		PendingTimeout: cfg.Supervisor.PendingTimeout,
	}, logger)

	for _, sc := range cfg.Schedules {
		name := sc.Name
		if name == "" {
			name = sc.Target
		}
		req := scans.Request{Target: sc.Target, ScanType: sc.ScanType, Name: name}
		if err := s.AddScanJob(name, sc.Cron, req); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Start registers the reaper and begins running jobs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	if _, err := s.cron.AddFunc(s.opts.ReaperSchedule, s.guarded(reaperJobName, s.reap)); err != nil {
		return fmt.Errorf("invalid reaper schedule %q: %w", s.opts.ReaperSchedule, err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started", "scan_jobs", len(s.jobs), "reaper_schedule", s.opts.ReaperSchedule)
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.cancel()

	s.logger.Info("Scheduler stopped")
}

// AddScanJob registers a recurring scan using a standard 5-field cron
// expression or a descriptor such as "@daily".
func (s *Scheduler) AddScanJob(name, cronExpr string, req scans.Request) error {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression for %q: %w", name, err)
	}
	if s.starter == nil {
		return fmt.Errorf("scan job %q needs a scan starter", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("scan job %q already exists", name)
	}

	cronID := s.cron.Schedule(schedule, cron.FuncJob(s.guarded(name, func() { s.executeScanJob(name) })))
	s.jobs[name] = &ScheduledJob{
		Name:     name,
		CronExpr: cronExpr,
		CronID:   cronID,
		Request:  req,
		NextRun:  schedule.Next(time.Now()),
	}

	s.logger.Info("Added scan job", "job", name, "schedule", cronExpr, "target", req.Target)
	return nil
}

// RemoveJob removes a recurring scan.
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[name]
	if !exists {
		return fmt.Errorf("scan job %q not found", name)
	}
	s.cron.Remove(job.CronID)
	delete(s.jobs, name)

	s.logger.Info("Removed scan job", "job", name)
	return nil
}

// GetJobs returns a snapshot of the recurring scans.
func (s *Scheduler) GetJobs() []ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		cp := *job
		if entry := s.cron.Entry(job.CronID); entry.Valid() && !entry.Next.IsZero() {
			cp.NextRun = entry.Next
		}
		jobs = append(jobs, cp)
	}
	return jobs
}

// executeScanJob starts one run of a recurring scan. A run is skipped while
// the previous one is still being submitted.
func (s *Scheduler) executeScanJob(name string) {
	job, ok := s.prepareJobExecution(name)
	if !ok {
		return
	}
	defer s.cleanupJobExecution(name)

	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	res, err := s.starter.Start(ctx, job.Request)

	s.mu.Lock()
	if current, exists := s.jobs[name]; exists {
		current.LastError = ""
		if res != nil {
			current.LastScanID = res.ScanID
		}
		if err != nil {
			current.LastError = err.Error()
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Scheduled scan failed to start", "job", name, "error", err)
		return
	}
	s.logger.Info("Scheduled scan started", "job", name, "scan_id", res.ScanID.String())
}

func (s *Scheduler) prepareJobExecution(name string) (ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[name]
	if !exists {
		return ScheduledJob{}, false
	}
	if job.Running {
		s.logger.Warn("Scan job is already running, skipping", "job", name)
		return ScheduledJob{}, false
	}
	job.Running = true
	job.LastRun = time.Now()
	return *job, true
}

func (s *Scheduler) cleanupJobExecution(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, exists := s.jobs[name]; exists {
		job.Running = false
	}
}

// guarded keeps a panicking job from taking down the cron runner.
func (s *Scheduler) guarded(name string, fn func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Scheduled job panicked", "job", name, "panic", fmt.Sprint(r))
			}
		}()
		fn()
	}
}

func (s *Scheduler) reap() {
	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()
	if _, err := s.Reap(ctx); err != nil {
		s.logger.Error("Lease reaper pass failed", "job", reaperJobName, "error", err)
	}
}

// Reap fails running scans whose lease expired and pending scans that were
// never picked up within the pending timeout.
func (s *Scheduler) Reap(ctx context.Context) (ReapResult, error) {
	var res ReapResult

	expired, err := s.janitor.ReapExpiredLeases(ctx)
	if err != nil {
		return res, fmt.Errorf("reap expired leases: %w", err)
	}
	res.ExpiredLeases = expired
	for _, id := range expired {
		s.logger.Warn("Scan failed after its lease expired", "scan_id", id.String())
	}

	stale, err := s.janitor.FailStalePending(ctx, s.opts.PendingTimeout)
	if err != nil {
		return res, fmt.Errorf("fail stale pending scans: %w", err)
	}
	res.StalePending = stale
	for _, id := range stale {
		s.logger.Warn("Scan failed after waiting too long to start", "scan_id", id.String(),
			"pending_timeout", s.opts.PendingTimeout)
	}
	return res, nil
}
