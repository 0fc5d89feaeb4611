package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/netsentry/internal/errors"
	"github.com/anstrom/netsentry/internal/logging"
)

const countTimeout = 5 * time.Second

// ProcessLauncher runs every scan in a separate worker process
// ("<binary> worker ... --scan-id <id>"). The worker claims the scan lease
// itself, so the capacity check uses the database count of running scans.
type ProcessLauncher struct {
	binary   string
	args     []string
	store    Store
	capacity int
	logger   *logging.Logger

	mu       sync.Mutex
	children map[uuid.UUID]*exec.Cmd
	closed   bool
	wg       sync.WaitGroup
}

// NewProcessLauncher creates a launcher that spawns binary. An empty binary
// means the running executable.
func NewProcessLauncher(binary string, args []string, store Store, capacity int,
	logger *logging.Logger) (*ProcessLauncher, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, errors.WrapConfigError(errors.CodeConfiguration, "cannot resolve worker binary", err)
		}
		binary = exe
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &ProcessLauncher{
		binary:   binary,
		args:     append([]string(nil), args...),
		store:    store,
		capacity: capacity,
		logger:   logger.WithComponent("launcher").WithFields("mode", "process"),
		children: make(map[uuid.UUID]*exec.Cmd),
	}, nil
}

// Start spawns a worker for scanID. It refuses when the number of running
// scans has reached capacity.
func (l *ProcessLauncher) Start(ctx context.Context, scanID uuid.UUID, done func(error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.ErrSupervisorStart("supervisor is shutting down", nil)
	}

	countCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), countTimeout)
	running, err := l.store.CountActiveScans(countCtx)
	cancel()
	if err != nil {
		return errors.ErrSupervisorStart("cannot count running scans", err)
	}
	if len(l.children) > running {
		running = len(l.children)
	}
	if running >= l.capacity {
		return errors.ErrSupervisorStart(
			fmt.Sprintf("concurrent scan limit of %d reached", l.capacity), nil)
	}

	args := append(append([]string{"worker"}, l.args...), "--scan-id", scanID.String())
	cmd := exec.Command(l.binary, args...) //nolint:gosec // binary and args come from configuration
	cmd.Env = os.Environ()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return errors.ErrSupervisorStart("failed to spawn worker process", err)
	}
	l.children[scanID] = cmd
	l.logger.Info("Worker process started", "scan_id", scanID.String(), "pid", cmd.Process.Pid)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		waitErr := cmd.Wait()

		l.mu.Lock()
		delete(l.children, scanID)
		l.mu.Unlock()

		if waitErr != nil {
			waitErr = fmt.Errorf("worker process for scan %s exited: %w", scanID, waitErr)
		}
		done(waitErr)
	}()
	return nil
}

// Stats reports the live worker processes for status output.
func (l *ProcessLauncher) Stats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return map[string]interface{}{
		"worker_processes": len(l.children),
		"worker_capacity":  l.capacity,
	}
}

// Shutdown refuses new scans and waits for workers until ctx ends. Workers
// still running are interrupted; their scans are failed by the worker's
// own signal handling or, failing that, by the lease reaper.
func (l *ProcessLauncher) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for id, cmd := range l.children {
			l.logger.Warn("Interrupting worker process", "scan_id", id.String(), "pid", cmd.Process.Pid)
			interrupt(cmd)
		}
		l.mu.Unlock()
		return ctx.Err()
	}
}
