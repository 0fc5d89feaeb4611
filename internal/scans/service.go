// Package scans is the operation surface of the engine: starting scans,
// reading their status and findings, cancelling and listing them. The HTTP
// API and the CLI are thin adapters over Service.
package scans

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/netsentry/internal/config"
	"github.com/anstrom/netsentry/internal/db"
	"github.com/anstrom/netsentry/internal/errors"
	"github.com/anstrom/netsentry/internal/logging"
	"github.com/anstrom/netsentry/internal/metrics"
	"github.com/anstrom/netsentry/internal/targets"
)

const (
	// estimateCeiling bounds the advisory estimate reported before the live
	// host count is known; real progress takes over from there.
	estimateCeiling = 9

	defaultLivenessEstimate = 30 * time.Second
)

// Store is the persistence the service reads and writes.
type Store interface {
	CreateScan(ctx context.Context, scan *db.Scan) error
	GetScan(ctx context.Context, id uuid.UUID) (*db.Scan, error)
	GetScanDetail(ctx context.Context, id uuid.UUID) (*db.ScanDetail, error)
	ListScans(ctx context.Context, limit, offset int) ([]*db.Scan, error)
	CancelScan(ctx context.Context, id uuid.UUID) (*db.Scan, error)
}

// Launcher starts a persisted pending scan. *supervisor.Supervisor implements it.
type Launcher interface {
	Launch(ctx context.Context, scanID uuid.UUID) error
}

var _ Store = (*db.ScanRepository)(nil)

// Request is an accepted scan request. It is immutable once accepted.
type Request struct {
	Target   string `json:"target" validate:"max=255"`
	ScanType string `json:"scan_type,omitempty" validate:"omitempty,oneof=quick full"`
	Name     string `json:"name,omitempty" validate:"max=255"`
}

// StartResult is returned by Start.
type StartResult struct {
	Success bool      `json:"success"`
	ScanID  uuid.UUID `json:"scan_id"`
}

// SeverityCounts breaks total_vulnerabilities down by severity.
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
}

// Status is the polling view of a scan. EstimatedProgress is advisory and
// only set while the host count is still unknown.
type Status struct {
	ScanID               uuid.UUID      `json:"scan_id"`
	Status               string         `json:"status"`
	Progress             int            `json:"progress"`
	EstimatedProgress    *int           `json:"estimated_progress,omitempty"`
	ProgressMessage      string         `json:"progress_message"`
	TotalHosts           int            `json:"total_hosts"`
	TotalVulnerabilities int            `json:"total_vulnerabilities"`
	SeverityCounts       SeverityCounts `json:"severity_counts"`
	ErrorMessage         *string        `json:"error_message,omitempty"`
	StartedAt            *time.Time     `json:"started_at,omitempty"`
	CompletedAt          *time.Time     `json:"completed_at,omitempty"`
}

// Options tune the service.
type Options struct {
	// LivenessEstimate is the expected duration of host discovery, used for
	// the advisory estimate.
	LivenessEstimate time.Duration
	DefaultScanType  string
}

// Service implements the scan operations.
type Service struct {
	store    Store
	launcher Launcher
	opts     Options
	logger   *logging.Logger
	recorder metrics.Recorder
	now      func() time.Time
}

// NewService creates a scan service.
func NewService(store Store, launcher Launcher, opts Options, logger *logging.Logger, recorder metrics.Recorder) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if opts.LivenessEstimate <= 0 {
		opts.LivenessEstimate = defaultLivenessEstimate
	}
	if opts.DefaultScanType == "" {
		opts.DefaultScanType = config.ScanTypeQuick
	}
	return &Service{
		store:    store,
		launcher: launcher,
		opts:     opts,
		logger:   logger.WithComponent("scans"),
		recorder: metrics.OrNop(recorder),
		now:      time.Now,
	}
}

// Start validates req, records a pending scan and hands it to the launcher
// without waiting for it. A malformed target creates no row. When the
// launcher cannot start execution the scan is already failed; the id is
// returned together with the error.
func (s *Service) Start(ctx context.Context, req Request) (*StartResult, error) {
	req.Target = strings.TrimSpace(req.Target)
	if req.Target == "" {
		return nil, errors.ErrInvalidTarget(req.Target)
	}
	if err := targets.Validate(req.Target); err != nil {
		return nil, err
	}
	if req.ScanType == "" {
		req.ScanType = s.opts.DefaultScanType
	}
	if !config.IsValidScanType(req.ScanType) {
		return nil, errors.NewScanError(errors.CodeValidation, "scan_type must be quick or full").
			WithContext("scan_type", req.ScanType)
	}

	scan := &db.Scan{
		Name:            req.Name,
		Target:          req.Target,
		ScanType:        req.ScanType,
		ProgressMessage: "queued",
	}
	if scan.Name == "" {
		scan.Name = req.ScanType + " scan of " + req.Target
	}
	if err := s.store.CreateScan(ctx, scan); err != nil {
		return nil, err
	}

	log := s.logger.WithScanID(scan.ID.String())
	log.Info("Scan accepted", "target", scan.Target, "scan_type", scan.ScanType)

	if err := s.launcher.Launch(ctx, scan.ID); err != nil {
		s.recorder.ScanError(scan.ScanType, string(errors.GetCode(err)))
		return &StartResult{Success: false, ScanID: scan.ID}, err
	}
	return &StartResult{Success: true, ScanID: scan.ID}, nil
}

// Status reads the current state of a scan.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (*Status, error) {
	scan, err := s.store.GetScan(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.statusOf(scan), nil
}

func (s *Service) statusOf(scan *db.Scan) *Status {
	st := &Status{
		ScanID:               scan.ID,
		Status:               scan.Status,
		Progress:             scan.Progress,
		ProgressMessage:      scan.ProgressMessage,
		TotalHosts:           scan.TotalHosts,
		TotalVulnerabilities: scan.TotalVulnerabilities,
		SeverityCounts: SeverityCounts{
			Critical: scan.CriticalCount,
			High:     scan.HighCount,
			Medium:   scan.MediumCount,
			Low:      scan.LowCount,
			Info:     scan.InfoCount,
		},
		ErrorMessage: scan.ErrorMessage,
		StartedAt:    scan.StartedAt,
		CompletedAt:  scan.CompletedAt,
	}
	if scan.Status == db.ScanStatusRunning && scan.LiveHosts == 0 && scan.HostsProcessed == 0 && scan.StartedAt != nil {
		est := EstimateProgress(s.now().Sub(*scan.StartedAt), s.opts.LivenessEstimate)
		if est > st.Progress {
			st.EstimatedProgress = &est
		}
	}
	return st
}

// EstimateProgress maps elapsed discovery time onto [0, estimateCeiling].
func EstimateProgress(elapsed, expected time.Duration) int {
	if elapsed <= 0 || expected <= 0 {
		return 0
	}
	est := int(float64(elapsed) / float64(expected) * estimateCeiling)
	if est > estimateCeiling {
		est = estimateCeiling
	}
	return est
}

// Detail returns the scan row with its hosts, port findings and
// vulnerability findings.
func (s *Service) Detail(ctx context.Context, id uuid.UUID) (*db.ScanDetail, error) {
	return s.store.GetScanDetail(ctx, id)
}

// Cancel flags a pending or running scan as cancelled. Terminal scans
// yield a Conflict error.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Status, error) {
	scan, err := s.store.CancelScan(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.WithScanID(id.String()).Info("Scan cancellation requested")
	return s.statusOf(scan), nil
}

// List returns recent scans, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*db.Scan, error) {
	if limit <= 0 {
		limit = db.DefaultListLimit
	}
	if limit > db.MaxListLimit {
		limit = db.MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListScans(ctx, limit, offset)
}
