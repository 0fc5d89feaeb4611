package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/netsentry/internal/errors"
)

const scanColumns = `id, name, target, scan_type, status, progress, progress_message,
	total_targets, live_hosts, hosts_processed, total_hosts, total_vulnerabilities,
	critical_count, high_count, medium_count, low_count, info_count, error_message,
	lease_owner, lease_expires_at, created_at, started_at, completed_at, updated_at`

// Default and maximum page sizes for ListScans.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ScanRepository persists scans and their findings.
type ScanRepository struct {
	db *DB
}

// NewScanRepository creates a new scan repository.
func NewScanRepository(db *DB) *ScanRepository {
	return &ScanRepository{db: db}
}

// CreateScan inserts a pending scan row.
func (r *ScanRepository) CreateScan(ctx context.Context, scan *Scan) error {
	if scan.ID == uuid.Nil {
		scan.ID = uuid.New()
	}
	scan.Status = ScanStatusPending

	query := `
		INSERT INTO scans (id, name, target, scan_type, status, progress_message)
		VALUES (:id, :name, :target, :scan_type, :status, :progress_message)
		RETURNING created_at, updated_at`

	rows, err := r.db.NamedQueryContext(ctx, query, scan)
	if err != nil {
		return sanitizeDBError("create scan", err)
	}
	defer func() { _ = rows.Close() }()

	if rows.Next() {
		if err := rows.Scan(&scan.CreatedAt, &scan.UpdatedAt); err != nil {
			return sanitizeDBError("create scan", err)
		}
	}
	return sanitizeDBError("create scan", rows.Err())
}

// GetScan returns a scan by id.
func (r *ScanRepository) GetScan(ctx context.Context, id uuid.UUID) (*Scan, error) {
	var scan Scan
	query := `SELECT ` + scanColumns + ` FROM scans WHERE id = $1`
	if err := r.db.GetContext(ctx, &scan, query, id); err != nil {
		if errors.IsNotFound(sanitizeDBError("get scan", err)) {
			return nil, errors.ErrScanNotFound(id.String())
		}
		return nil, sanitizeDBError("get scan", err)
	}
	return &scan, nil
}

// GetScanStatus returns only the status column, used for cancellation checks.
func (r *ScanRepository) GetScanStatus(ctx context.Context, id uuid.UUID) (string, error) {
	var status string
	if err := r.db.GetContext(ctx, &status, `SELECT status FROM scans WHERE id = $1`, id); err != nil {
		if errors.IsNotFound(sanitizeDBError("get scan status", err)) {
			return "", errors.ErrScanNotFound(id.String())
		}
		return "", sanitizeDBError("get scan status", err)
	}
	return status, nil
}

// ListScans returns scans newest first.
func (r *ScanRepository) ListScans(ctx context.Context, limit, offset int) ([]*Scan, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	var scans []*Scan
	query := `SELECT ` + scanColumns + ` FROM scans ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	if err := r.db.SelectContext(ctx, &scans, query, limit, offset); err != nil {
		return nil, sanitizeDBError("list scans", err)
	}
	return scans, nil
}

// ClaimScan moves a pending scan to running and takes its lease. It fails with
// CodeLeaseHeld when the scan is not pending, which is how a second
// orchestrator for the same scan is refused.
func (r *ScanRepository) ClaimScan(ctx context.Context, id uuid.UUID, owner string, ttl time.Duration) (*Scan, error) {
	query := `
		UPDATE scans
		SET status = 'running',
			lease_owner = $2,
			lease_expires_at = NOW() + ($3 * INTERVAL '1 millisecond'),
			started_at = COALESCE(started_at, NOW()),
			progress_message = 'starting',
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + scanColumns

	var scan Scan
	err := r.db.GetContext(ctx, &scan, query, id, owner, ttl.Milliseconds())
	if err == nil {
		return &scan, nil
	}

	if !errors.IsNotFound(sanitizeDBError("claim scan", err)) {
		return nil, sanitizeDBError("claim scan", err)
	}

	status, statusErr := r.GetScanStatus(ctx, id)
	if statusErr != nil {
		return nil, statusErr
	}
	return nil, errors.NewScanError(errors.CodeLeaseHeld, "scan is not pending").
		WithContext("scan_id", id.String()).WithContext("status", status)
}

// RenewLease extends the lease held by owner.
func (r *ScanRepository) RenewLease(ctx context.Context, id uuid.UUID, owner string, ttl time.Duration) error {
	query := `
		UPDATE scans
		SET lease_expires_at = NOW() + ($3 * INTERVAL '1 millisecond')
		WHERE id = $1 AND lease_owner = $2 AND status IN ('running', 'cancelled')`

	res, err := r.db.ExecContext(ctx, query, id, owner, ttl.Milliseconds())
	if err != nil {
		return sanitizeDBError("renew lease", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewScanError(errors.CodeLeaseHeld, "scan lease lost").WithContext("scan_id", id.String())
	}
	return nil
}

// ReleaseLease clears the lease if owner still holds it.
func (r *ScanRepository) ReleaseLease(ctx context.Context, id uuid.UUID, owner string) error {
	query := `UPDATE scans SET lease_owner = NULL, lease_expires_at = NULL WHERE id = $1 AND lease_owner = $2`
	_, err := r.db.ExecContext(ctx, query, id, owner)
	return sanitizeDBError("release lease", err)
}

// UpdatePlan records the candidate and live host totals.
func (r *ScanRepository) UpdatePlan(ctx context.Context, id uuid.UUID, owner string, plan ScanPlan) error {
	query := `
		UPDATE scans
		SET total_targets = $3, live_hosts = $4, total_hosts = $4, progress_message = $5, updated_at = NOW()
		WHERE id = $1 AND lease_owner = $2 AND status = 'running'`

	_, err := r.db.ExecContext(ctx, query, id, owner, plan.TotalTargets, plan.LiveHosts, plan.Message)
	return sanitizeDBError("update scan plan", err)
}

// UpdateProgress writes progress and running counts. The write only lands if
// it reports more processed hosts than the stored row, so a late or
// duplicated write can never move progress backwards. It reports whether
// the row was updated.
func (r *ScanRepository) UpdateProgress(ctx context.Context, id uuid.UUID, owner string, p ScanProgress) (bool, error) {
	query := `
		UPDATE scans
		SET hosts_processed = $3,
			progress = GREATEST(progress, $4),
			progress_message = $5,
			total_vulnerabilities = $6,
			critical_count = $7,
			high_count = $8,
			medium_count = $9,
			low_count = $10,
			info_count = $11,
			updated_at = NOW()
		WHERE id = $1 AND lease_owner = $2 AND status = 'running' AND hosts_processed < $3`

	c := p.Counts
	res, err := r.db.ExecContext(ctx, query, id, owner, p.HostsProcessed, p.Progress, p.Message,
		c.TotalVulnerabilities, c.CriticalCount, c.HighCount, c.MediumCount, c.LowCount, c.InfoCount)
	if err != nil {
		return false, sanitizeDBError("update scan progress", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, sanitizeDBError("update scan progress", err)
	}
	return n > 0, nil
}

// CompleteScan marks a running scan completed with its final counts. It
// reports false when the scan left the running state in the meantime.
func (r *ScanRepository) CompleteScan(ctx context.Context, id uuid.UUID, owner string, counts ScanCounts) (bool, error) {
	query := `
		UPDATE scans
		SET status = 'completed',
			progress = 100,
			progress_message = 'completed',
			total_hosts = $3,
			total_vulnerabilities = $4,
			critical_count = $5,
			high_count = $6,
			medium_count = $7,
			low_count = $8,
			info_count = $9,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND lease_owner = $2 AND status = 'running'`

	res, err := r.db.ExecContext(ctx, query, id, owner, counts.TotalHosts, counts.TotalVulnerabilities,
		counts.CriticalCount, counts.HighCount, counts.MediumCount, counts.LowCount, counts.InfoCount)
	if err != nil {
		return false, sanitizeDBError("complete scan", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, sanitizeDBError("complete scan", err)
	}
	return n > 0, nil
}

// RecordFinalCounts stores counts on a scan that already reached a terminal
// state through another path (operator cancel), without touching its status.
func (r *ScanRepository) RecordFinalCounts(ctx context.Context, id uuid.UUID, counts ScanCounts) error {
	query := `
		UPDATE scans
		SET total_hosts = $2,
			total_vulnerabilities = $3,
			critical_count = $4,
			high_count = $5,
			medium_count = $6,
			low_count = $7,
			info_count = $8,
			completed_at = COALESCE(completed_at, NOW()),
			updated_at = NOW()
		WHERE id = $1 AND status IN ('cancelled', 'failed')`

	_, err := r.db.ExecContext(ctx, query, id, counts.TotalHosts, counts.TotalVulnerabilities,
		counts.CriticalCount, counts.HighCount, counts.MediumCount, counts.LowCount, counts.InfoCount)
	return sanitizeDBError("record final counts", err)
}

// FailScan marks a pending or running scan failed. Counts, when given, are the
// partial aggregates known at the time of failure.
func (r *ScanRepository) FailScan(ctx context.Context, id uuid.UUID, reason string, counts *ScanCounts) error {
	var (
		query string
		args  []any
	)
	if counts == nil {
		query = `
			UPDATE scans
			SET status = 'failed', error_message = $2, progress_message = 'failed',
				completed_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status IN ('pending', 'running')`
		args = []any{id, reason}
	} else {
		query = `
			UPDATE scans
			SET status = 'failed', error_message = $2, progress_message = 'failed',
				total_hosts = $3, total_vulnerabilities = $4, critical_count = $5, high_count = $6,
				medium_count = $7, low_count = $8, info_count = $9,
				completed_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status IN ('pending', 'running')`
		args = []any{id, reason, counts.TotalHosts, counts.TotalVulnerabilities,
			counts.CriticalCount, counts.HighCount, counts.MediumCount, counts.LowCount, counts.InfoCount}
	}

	_, err := r.db.ExecContext(ctx, query, args...)
	return sanitizeDBError("fail scan", err)
}

// CancelScan flags a pending or running scan as cancelled. The orchestrator
// notices the flag between hosts.
func (r *ScanRepository) CancelScan(ctx context.Context, id uuid.UUID) (*Scan, error) {
	query := `
		UPDATE scans
		SET status = 'cancelled', progress_message = 'cancelled by operator', updated_at = NOW(),
			completed_at = CASE WHEN lease_owner IS NULL THEN NOW() ELSE completed_at END
		WHERE id = $1 AND status IN ('pending', 'running')
		RETURNING ` + scanColumns

	var scan Scan
	err := r.db.GetContext(ctx, &scan, query, id)
	if err == nil {
		return &scan, nil
	}
	if !errors.IsNotFound(sanitizeDBError("cancel scan", err)) {
		return nil, sanitizeDBError("cancel scan", err)
	}

	status, statusErr := r.GetScanStatus(ctx, id)
	if statusErr != nil {
		return nil, statusErr
	}
	return nil, errors.NewScanError(errors.CodeConflict, "scan already finished").
		WithContext("scan_id", id.String()).WithContext("status", status)
}

// CountActiveScans counts scans holding a live lease.
func (r *ScanRepository) CountActiveScans(ctx context.Context) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM scans WHERE status = 'running' AND lease_expires_at > NOW()`
	if err := r.db.GetContext(ctx, &n, query); err != nil {
		return 0, sanitizeDBError("count active scans", err)
	}
	return n, nil
}

// ReapExpiredLeases fails running scans whose orchestrator stopped renewing.
func (r *ScanRepository) ReapExpiredLeases(ctx context.Context) ([]uuid.UUID, error) {
	query := `
		UPDATE scans
		SET status = 'failed',
			error_message = 'orchestrator lease expired',
			progress_message = 'failed',
			lease_owner = NULL,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE status = 'running' AND lease_expires_at < NOW()
		RETURNING id`

	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, sanitizeDBError("reap expired leases", err)
	}
	return ids, nil
}

// FailStalePending fails scans that never left pending within maxAge.
func (r *ScanRepository) FailStalePending(ctx context.Context, maxAge time.Duration) ([]uuid.UUID, error) {
	query := `
		UPDATE scans
		SET status = 'failed',
			error_message = 'scan was never started',
			progress_message = 'failed',
			completed_at = NOW(),
			updated_at = NOW()
		WHERE status = 'pending' AND created_at < NOW() - ($1 * INTERVAL '1 millisecond')
		RETURNING id`

	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, query, maxAge.Milliseconds()); err != nil {
		return nil, sanitizeDBError("fail stale pending scans", err)
	}
	return ids, nil
}
