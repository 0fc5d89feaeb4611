// Package supervisor starts scan executions detached from the request that
// created them and enforces the global concurrent scan cap.
package supervisor

//go:generate mockgen -destination=mock_launcher_test.go -package=supervisor . Launcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/netsentry/internal/config"
	"github.com/anstrom/netsentry/internal/db"
	"github.com/anstrom/netsentry/internal/errors"
	"github.com/anstrom/netsentry/internal/logging"
	"github.com/anstrom/netsentry/internal/metrics"
)

const failTimeout = 10 * time.Second

// Runner executes one scan to completion. *engine.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, scanID uuid.UUID) error
}

// Store is what the supervisor needs from persistence.
type Store interface {
	FailScan(ctx context.Context, id uuid.UUID, reason string, counts *db.ScanCounts) error
	CountActiveScans(ctx context.Context) (int, error)
}

// Launcher starts the execution of a scan. Start must not block on the scan
// itself; done is called exactly once when the execution ends, and only
// when Start returned nil.
type Launcher interface {
	Start(ctx context.Context, scanID uuid.UUID, done func(error)) error
	Shutdown(ctx context.Context) error
}

type statsReporter interface {
	Stats() map[string]interface{}
}

// Supervisor launches scans and tracks the ones active in this process.
type Supervisor struct {
	launcher Launcher
	store    Store
	logger   *logging.Logger
	recorder metrics.Recorder

	mu     sync.Mutex
	active map[uuid.UUID]time.Time
}

// New creates a supervisor over launcher.
func New(launcher Launcher, store Store, logger *logging.Logger, recorder metrics.Recorder) *Supervisor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Supervisor{
		launcher: launcher,
		store:    store,
		logger:   logger.WithComponent("supervisor"),
		recorder: metrics.OrNop(recorder),
		active:   make(map[uuid.UUID]time.Time),
	}
}

// FromConfig builds a supervisor with the launcher selected by cfg.Mode.
// workerArgs are passed to worker processes ahead of the scan id.
func FromConfig(cfg config.SupervisorConfig, runner Runner, store Store, workerArgs []string,
	logger *logging.Logger, recorder metrics.Recorder) (*Supervisor, error) {
	if logger == nil {
		logger = logging.Default()
	}

	var launcher Launcher
	switch cfg.Mode {
	case config.ModeInProcess, "":
		launcher = NewInProcessLauncher(runner, NewFixedSlots(cfg.MaxConcurrentScans), cfg.QueueTimeout, logger)
	case config.ModeProcess:
		pl, err := NewProcessLauncher(cfg.WorkerBinary, workerArgs, store, cfg.MaxConcurrentScans, logger)
		if err != nil {
			return nil, err
		}
		launcher = pl
	default:
		return nil, errors.ErrConfigInvalid("supervisor.mode", cfg.Mode)
	}
	return New(launcher, store, logger, recorder), nil
}

// Launch starts scanID and returns without waiting for it. If execution
// cannot be started the scan is marked failed and a SupervisorStart error
// is returned; a scan is never left pending by a failed launch.
func (s *Supervisor) Launch(ctx context.Context, scanID uuid.UUID) error {
	log := s.logger.WithScanID(scanID.String())

	s.mu.Lock()
	if _, dup := s.active[scanID]; dup {
		s.mu.Unlock()
		return errors.NewScanError(errors.CodeConflict, "scan is already active").
			WithContext("scan_id", scanID.String())
	}
	s.active[scanID] = time.Now()
	s.recorder.SetActiveScans(len(s.active))
	s.mu.Unlock()

	err := s.launcher.Start(ctx, scanID, func(runErr error) {
		s.finished(scanID, runErr)
	})
	if err == nil {
		log.Info("Scan launched")
		return nil
	}

	s.forget(scanID)
	startErr := err
	if !errors.IsCode(err, errors.CodeSupervisorStart) {
		startErr = errors.ErrSupervisorStart("launcher refused the scan", err)
	}
	s.markFailed(ctx, scanID, startErr)
	return startErr
}

// finished is the done callback of every launched scan.
func (s *Supervisor) finished(scanID uuid.UUID, err error) {
	s.forget(scanID)
	log := s.logger.WithScanID(scanID.String())

	switch {
	case err == nil:
		log.Debug("Scan execution ended")
	case errors.IsCode(err, errors.CodeSupervisorStart):
		// The scan never started (queue timeout); nothing else recorded it.
		s.markFailed(context.Background(), scanID, err)
	case errors.IsCode(err, errors.CodeLeaseHeld):
		log.Info("Scan is owned by another orchestrator", "error", err)
	default:
		log.Warn("Scan execution ended with error", "error", err)
	}
}

func (s *Supervisor) markFailed(ctx context.Context, scanID uuid.UUID, cause error) {
	s.logger.Error("Failed to start scan", "scan_id", scanID.String(), "error", cause)
	s.recorder.ScanError("", string(errors.CodeSupervisorStart))

	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failTimeout)
	defer cancel()
	if err := s.store.FailScan(failCtx, scanID, cause.Error(), nil); err != nil {
		s.logger.ErrorDatabase("Failed to mark scan failed", err, "scan_id", scanID.String())
	}
}

func (s *Supervisor) forget(scanID uuid.UUID) {
	s.mu.Lock()
	delete(s.active, scanID)
	s.recorder.SetActiveScans(len(s.active))
	s.mu.Unlock()
}

// ActiveCount returns the number of scans launched here that are still active.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Shutdown stops accepting scans and waits for in-process executions.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down supervisor", "active_scans", s.ActiveCount())
	return s.launcher.Shutdown(ctx)
}

// Stats returns the active scan count merged with the launcher's own usage
// figures, when it reports any.
func (s *Supervisor) Stats() map[string]interface{} {
	stats := map[string]interface{}{"active_scans": s.ActiveCount()}
	if r, ok := s.launcher.(statsReporter); ok {
		for k, v := range r.Stats() {
			stats[k] = v
		}
	}
	return stats
}
