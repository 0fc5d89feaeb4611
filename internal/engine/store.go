// Package engine runs a scan end to end: target expansion, liveness,
// per-host port scanning, service detection and vulnerability matching,
// with a single goroutine owning every write to the scan row.
package engine

import (
	"context"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/netsentry/internal/db"
	"github.com/anstrom/netsentry/internal/scanning"
	"github.com/anstrom/netsentry/internal/vulns"
)

// Store is the persistence boundary of the orchestrator.
// *db.ScanRepository implements it.
type Store interface {
	GetScanStatus(ctx context.Context, id uuid.UUID) (string, error)
	ClaimScan(ctx context.Context, id uuid.UUID, owner string, ttl time.Duration) (*db.Scan, error)
	RenewLease(ctx context.Context, id uuid.UUID, owner string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, id uuid.UUID, owner string) error
	UpdatePlan(ctx context.Context, id uuid.UUID, owner string, plan db.ScanPlan) error
	UpdateProgress(ctx context.Context, id uuid.UUID, owner string, p db.ScanProgress) (bool, error)
	CompleteScan(ctx context.Context, id uuid.UUID, owner string, counts db.ScanCounts) (bool, error)
	RecordFinalCounts(ctx context.Context, id uuid.UUID, counts db.ScanCounts) error
	FailScan(ctx context.Context, id uuid.UUID, reason string, counts *db.ScanCounts) error

	InsertHost(ctx context.Context, host *db.Host) error
	CompleteHost(ctx context.Context, hostID uuid.UUID, openPorts int, hostErr *string) error
	UpsertPortFindings(ctx context.Context, findings []db.PortFinding) error
	InsertVulnerabilities(ctx context.Context, findings []db.VulnerabilityFinding) error
}

var _ Store = (*db.ScanRepository)(nil)

// ServiceDetector enriches open ports with service facts in place.
type ServiceDetector interface {
	Detect(ctx context.Context, addr netip.Addr, ports []scanning.PortResult) error
}

// VulnerabilityMatcher turns service facts into findings.
type VulnerabilityMatcher interface {
	Match(host netip.Addr, ports []scanning.PortResult) []vulns.Finding
}
