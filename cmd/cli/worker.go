package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/anstrom/netsentry/internal/db"
	"github.com/anstrom/netsentry/internal/engine"
	"github.com/anstrom/netsentry/internal/errors"
	"github.com/anstrom/netsentry/internal/logging"
	"github.com/anstrom/netsentry/internal/supervisor"
)

const workerFailTimeout = 10 * time.Second

var workerScanID string

// workerCmd executes one scan. The process-mode supervisor starts it; it is
// not meant to be run by hand.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Execute a single scan (started by the supervisor)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().StringVar(&workerScanID, "scan-id", "", "id of the pending scan to execute")
	_ = workerCmd.MarkFlagRequired("scan-id")
}

// workerStore is what the worker needs besides the orchestrator.
type workerStore interface {
	supervisor.Store
	GetScanStatus(ctx context.Context, id uuid.UUID) (string, error)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	id, err := parseScanID(workerScanID)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.Default().WithComponent("worker").WithScanID(id.String())

	database, err := db.Connect(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("worker database connection failed: %w", err)
	}
	defer func() { _ = database.Close() }()

	repo := db.NewScanRepository(database)
	orch, err := engine.FromConfig(cfg, repo, logger, nil)
	if err != nil {
		failUnstarted(repo, id, err, logger)
		return err
	}

	return executeScan(ctx, orch, repo, id, logger)
}

// executeScan runs one scan and makes sure a worker stopped by a signal
// never leaves it running.
func executeScan(ctx context.Context, runner supervisor.Runner, store workerStore, id uuid.UUID,
	logger *logging.Logger) error {
	logger.Info("Worker started", "pid", os.Getpid())

	err := runner.Run(ctx, id)
	switch {
	case errors.IsCode(err, errors.CodeLeaseHeld):
		logger.Info("Scan is owned elsewhere, nothing to do", "error", err)
		return nil
	case ctx.Err() != nil:
		logger.Warn("Worker interrupted", "error", ctx.Err())
		failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), workerFailTimeout)
		defer cancel()
		status, statusErr := store.GetScanStatus(failCtx, id)
		if statusErr == nil && !db.IsTerminalStatus(status) {
			if ferr := store.FailScan(failCtx, id, "scan worker terminated by signal", nil); ferr != nil {
				logger.ErrorDatabase("Failed to mark interrupted scan failed", ferr)
			}
		}
		return fmt.Errorf("scan worker interrupted: %w", ctx.Err())
	case err != nil:
		return err
	}

	logger.Info("Worker finished")
	return nil
}

// failUnstarted records that the scan could not be started in this worker.
func failUnstarted(store supervisor.Store, id uuid.UUID, cause error, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), workerFailTimeout)
	defer cancel()
	reason := errors.ErrSupervisorStart("scan worker could not be initialized", cause).Error()
	if err := store.FailScan(ctx, id, reason, nil); err != nil {
		logger.ErrorDatabase("Failed to mark scan failed", err)
	}
}

var _ workerStore = (*db.ScanRepository)(nil)
