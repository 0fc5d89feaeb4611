package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/netsentry/internal/errors"
	"github.com/anstrom/netsentry/internal/logging"
)

const defaultQueueTimeout = 30 * time.Second

// InProcessLauncher runs scans as goroutines of the current process. Scans
// run under the launcher's own context, never under the caller's.
type InProcessLauncher struct {
	runner       Runner
	slots        SlotManager
	queueTimeout time.Duration
	logger       *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewInProcessLauncher creates a launcher that bounds concurrency with slots.
// A scan that waits longer than queueTimeout for a slot fails to start.
func NewInProcessLauncher(runner Runner, slots SlotManager, queueTimeout time.Duration,
	logger *logging.Logger) *InProcessLauncher {
	if logger == nil {
		logger = logging.Default()
	}
	if queueTimeout <= 0 {
		queueTimeout = defaultQueueTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &InProcessLauncher{
		runner:       runner,
		slots:        slots,
		queueTimeout: queueTimeout,
		logger:       logger.WithComponent("launcher").WithFields("mode", "inprocess"),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start queues scanID for execution and returns immediately.
func (l *InProcessLauncher) Start(_ context.Context, scanID uuid.UUID, done func(error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.ErrSupervisorStart("supervisor is shutting down", nil)
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		done(l.execute(scanID))
	}()
	return nil
}

func (l *InProcessLauncher) execute(scanID uuid.UUID) error {
	id := scanID.String()

	waitCtx, cancel := context.WithTimeout(l.ctx, l.queueTimeout)
	err := l.slots.Acquire(waitCtx, id)
	cancel()
	if err != nil {
		return errors.ErrSupervisorStart("no scan slot became available", err)
	}
	defer l.slots.Release(id)

	l.logger.Debug("Scan slot acquired", "scan_id", id, "active", l.slots.Active())
	return l.runner.Run(l.ctx, scanID)
}

// Stats reports scan slot usage.
func (l *InProcessLauncher) Stats() map[string]interface{} {
	return l.slots.Stats()
}

// Shutdown refuses new scans and waits for running ones until ctx ends,
// after which they are cancelled.
func (l *InProcessLauncher) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	_ = l.slots.Close()

	finished := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		l.cancel()
		return nil
	case <-ctx.Done():
		l.logger.Warn("Shutdown timeout reached, cancelling running scans")
		l.cancel()
		<-finished
		return ctx.Err()
	}
}
