package db

import (
	"time"

	"github.com/google/uuid"
)

// Scan status constants.
const (
	ScanStatusPending   = "pending"
	ScanStatusRunning   = "running"
	ScanStatusCompleted = "completed"
	ScanStatusFailed    = "failed"
	ScanStatusCancelled = "cancelled"
)

// Port state constants.
const (
	PortStateOpen     = "open"
	PortStateClosed   = "closed"
	PortStateFiltered = "filtered"
)

// IsTerminalStatus reports whether a scan in status can no longer change state.
func IsTerminalStatus(status string) bool {
	switch status {
	case ScanStatusCompleted, ScanStatusFailed, ScanStatusCancelled:
		return true
	default:
		return false
	}
}

// ScanCounts are the aggregate result counters of a scan.
type ScanCounts struct {
	TotalHosts           int `db:"total_hosts" json:"total_hosts"`
	TotalVulnerabilities int `db:"total_vulnerabilities" json:"total_vulnerabilities"`
	CriticalCount        int `db:"critical_count" json:"critical_count"`
	HighCount            int `db:"high_count" json:"high_count"`
	MediumCount          int `db:"medium_count" json:"medium_count"`
	LowCount             int `db:"low_count" json:"low_count"`
	InfoCount            int `db:"info_count" json:"info_count"`
}

// SeveritySum adds up the per-severity counters.
func (c ScanCounts) SeveritySum() int {
	return c.CriticalCount + c.HighCount + c.MediumCount + c.LowCount + c.InfoCount
}

// Scan is the persisted aggregate root of one scan request.
type Scan struct {
	ID              uuid.UUID `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	Target          string    `db:"target" json:"target"`
	ScanType        string    `db:"scan_type" json:"scan_type"`
	Status          string    `db:"status" json:"status"`
	Progress        int       `db:"progress" json:"progress"`
	ProgressMessage string    `db:"progress_message" json:"progress_message"`
	TotalTargets    int       `db:"total_targets" json:"total_targets"`
	LiveHosts       int       `db:"live_hosts" json:"live_hosts"`
	HostsProcessed  int       `db:"hosts_processed" json:"hosts_processed"`
	ScanCounts
	ErrorMessage   *string    `db:"error_message" json:"error_message,omitempty"`
	LeaseOwner     *string    `db:"lease_owner" json:"-"`
	LeaseExpiresAt *time.Time `db:"lease_expires_at" json:"-"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	StartedAt      *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Host is a live address discovered during one scan.
type Host struct {
	ID            uuid.UUID `db:"id" json:"id"`
	ScanID        uuid.UUID `db:"scan_id" json:"scan_id"`
	Address       string    `db:"address" json:"address"`
	Alive         bool      `db:"alive" json:"alive"`
	OpenPortCount int       `db:"open_port_count" json:"open_port_count"`
	LastSeen      time.Time `db:"last_seen" json:"last_seen"`
	ErrorMessage  *string   `db:"error_message" json:"error_message,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// PortFinding is the observed state of one (host, port, transport).
type PortFinding struct {
	ID         uuid.UUID `db:"id" json:"id"`
	HostID     uuid.UUID `db:"host_id" json:"host_id"`
	Port       int       `db:"port" json:"port"`
	Transport  string    `db:"transport" json:"transport"`
	State      string    `db:"state" json:"state"`
	Service    string    `db:"service" json:"service"`
	Product    string    `db:"product" json:"product,omitempty"`
	Version    string    `db:"version" json:"version,omitempty"`
	Banner     string    `db:"banner" json:"banner,omitempty"`
	TLSVersion string    `db:"tls_version" json:"tls_version,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// VulnerabilityFinding is a matched rule on a host port. Rows are never updated.
type VulnerabilityFinding struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ScanID      uuid.UUID `db:"scan_id" json:"scan_id"`
	HostID      uuid.UUID `db:"host_id" json:"host_id"`
	Port        int       `db:"port" json:"port"`
	Transport   string    `db:"transport" json:"transport"`
	RuleID      string    `db:"rule_id" json:"rule_id"`
	Severity    string    `db:"severity" json:"severity"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Service     string    `db:"service" json:"service"`
	Version     string    `db:"version" json:"version,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// HostDetail groups a host with its findings.
type HostDetail struct {
	Host
	Ports           []PortFinding          `json:"ports"`
	Vulnerabilities []VulnerabilityFinding `json:"vulnerabilities"`
}

// ScanDetail is the full read model of a scan.
type ScanDetail struct {
	Scan  *Scan        `json:"scan"`
	Hosts []HostDetail `json:"hosts"`
}

// ScanPlan records the size of a scan once targets and liveness are known.
type ScanPlan struct {
	TotalTargets int
	LiveHosts    int
	Message      string
}

// ScanProgress is one monotonic progress write.
type ScanProgress struct {
	HostsProcessed int
	Progress       int
	Message        string
	Counts         ScanCounts
}
