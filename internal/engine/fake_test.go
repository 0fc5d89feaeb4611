package engine

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/netsentry/internal/db"
	"github.com/anstrom/netsentry/internal/errors"
	"github.com/anstrom/netsentry/internal/scanning"
	"github.com/anstrom/netsentry/internal/targets"
)

// memStore mimics the conditional updates of the PostgreSQL repository.
type memStore struct {
	mu       sync.Mutex
	scans    map[uuid.UUID]*db.Scan
	hosts    map[uuid.UUID]*db.Host
	ports    map[uuid.UUID][]db.PortFinding
	vulns    map[uuid.UUID][]db.VulnerabilityFinding
	progress map[uuid.UUID][]int
	finals   map[uuid.UUID]db.ScanCounts

	failPortWrites bool
}

func newMemStore() *memStore {
	return &memStore{
		scans:    make(map[uuid.UUID]*db.Scan),
		hosts:    make(map[uuid.UUID]*db.Host),
		ports:    make(map[uuid.UUID][]db.PortFinding),
		vulns:    make(map[uuid.UUID][]db.VulnerabilityFinding),
		progress: make(map[uuid.UUID][]int),
		finals:   make(map[uuid.UUID]db.ScanCounts),
	}
}

func (m *memStore) addScan(target, scanType string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.scans[id] = &db.Scan{ID: id, Target: target, ScanType: scanType, Status: db.ScanStatusPending, CreatedAt: time.Now()}
	return id
}

func (m *memStore) scan(id uuid.UUID) db.Scan {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.scans[id]
}

func (m *memStore) setStatus(id uuid.UUID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans[id].Status = status
}

func (m *memStore) hostsOf(id uuid.UUID) []db.Host {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Host
	for _, h := range m.hosts {
		if h.ScanID == id {
			out = append(out, *h)
		}
	}
	return out
}

func (m *memStore) vulnsOf(id uuid.UUID) []db.VulnerabilityFinding {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.VulnerabilityFinding
	for _, v := range m.vulns {
		for _, f := range v {
			if f.ScanID == id {
				out = append(out, f)
			}
		}
	}
	return out
}

func (m *memStore) progressOf(id uuid.UUID) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.progress[id]...)
}

func (m *memStore) owns(s *db.Scan, owner string) bool {
	return s.LeaseOwner != nil && *s.LeaseOwner == owner
}

func (m *memStore) GetScanStatus(_ context.Context, id uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scans[id]
	if !ok {
		return "", errors.ErrScanNotFound(id.String())
	}
	return s.Status, nil
}

func (m *memStore) ClaimScan(_ context.Context, id uuid.UUID, owner string, ttl time.Duration) (*db.Scan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scans[id]
	if !ok {
		return nil, errors.ErrScanNotFound(id.String())
	}
	if s.Status != db.ScanStatusPending {
		return nil, errors.NewScanError(errors.CodeLeaseHeld, "scan is not pending")
	}
	now := time.Now()
	expires := now.Add(ttl)
	s.Status = db.ScanStatusRunning
	s.LeaseOwner = &owner
	s.LeaseExpiresAt = &expires
	s.StartedAt = &now
	cp := *s
	return &cp, nil
}

func (m *memStore) RenewLease(_ context.Context, id uuid.UUID, owner string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.scans[id]
	if !m.owns(s, owner) {
		return errors.NewScanError(errors.CodeLeaseHeld, "scan lease lost")
	}
	expires := time.Now().Add(ttl)
	s.LeaseExpiresAt = &expires
	return nil
}

func (m *memStore) ReleaseLease(_ context.Context, id uuid.UUID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.scans[id]
	if m.owns(s, owner) {
		s.LeaseOwner = nil
		s.LeaseExpiresAt = nil
	}
	return nil
}

func (m *memStore) UpdatePlan(_ context.Context, id uuid.UUID, owner string, plan db.ScanPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.scans[id]
	if m.owns(s, owner) && s.Status == db.ScanStatusRunning {
		s.TotalTargets = plan.TotalTargets
		s.LiveHosts = plan.LiveHosts
		s.TotalHosts = plan.LiveHosts
		s.ProgressMessage = plan.Message
	}
	return nil
}

func (m *memStore) UpdateProgress(_ context.Context, id uuid.UUID, owner string, p db.ScanProgress) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.scans[id]
	if !m.owns(s, owner) || s.Status != db.ScanStatusRunning || s.HostsProcessed >= p.HostsProcessed {
		return false, nil
	}
	s.HostsProcessed = p.HostsProcessed
	if p.Progress > s.Progress {
		s.Progress = p.Progress
	}
	s.ProgressMessage = p.Message
	total := s.TotalHosts
	s.ScanCounts = p.Counts
	s.TotalHosts = total
	m.progress[id] = append(m.progress[id], s.Progress)
	return true, nil
}

func (m *memStore) CompleteScan(_ context.Context, id uuid.UUID, owner string, counts db.ScanCounts) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.scans[id]
	if !m.owns(s, owner) || s.Status != db.ScanStatusRunning {
		return false, nil
	}
	now := time.Now()
	s.Status = db.ScanStatusCompleted
	s.Progress = 100
	s.ScanCounts = counts
	s.CompletedAt = &now
	m.progress[id] = append(m.progress[id], 100)
	return true, nil
}

func (m *memStore) RecordFinalCounts(_ context.Context, id uuid.UUID, counts db.ScanCounts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.scans[id]
	if s.Status == db.ScanStatusCancelled || s.Status == db.ScanStatusFailed {
		s.ScanCounts = counts
		m.finals[id] = counts
	}
	return nil
}

func (m *memStore) FailScan(_ context.Context, id uuid.UUID, reason string, counts *db.ScanCounts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.scans[id]
	if s.Status != db.ScanStatusPending && s.Status != db.ScanStatusRunning {
		return nil
	}
	s.Status = db.ScanStatusFailed
	s.ErrorMessage = &reason
	if counts != nil {
		s.ScanCounts = *counts
	}
	return nil
}

func (m *memStore) InsertHost(_ context.Context, host *db.Host) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if host.ID == uuid.Nil {
		host.ID = uuid.New()
	}
	cp := *host
	m.hosts[host.ID] = &cp
	return nil
}

func (m *memStore) CompleteHost(_ context.Context, hostID uuid.UUID, openPorts int, hostErr *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.hosts[hostID]
	h.OpenPortCount = openPorts
	h.ErrorMessage = hostErr
	return nil
}

func (m *memStore) UpsertPortFindings(_ context.Context, findings []db.PortFinding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPortWrites {
		return errors.NewDatabaseError(errors.CodeDatabaseQuery, "write failed")
	}
	for _, f := range findings {
		m.ports[f.HostID] = append(m.ports[f.HostID], f)
	}
	return nil
}

func (m *memStore) InsertVulnerabilities(_ context.Context, findings []db.VulnerabilityFinding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range findings {
		m.vulns[f.HostID] = append(m.vulns[f.HostID], f)
	}
	return nil
}

// staticProber reports a fixed set of addresses alive.
type staticProber struct {
	alive map[netip.Addr]bool
	err   error
}

func aliveSet(addrs ...string) *staticProber {
	p := &staticProber{alive: make(map[netip.Addr]bool)}
	for _, a := range addrs {
		p.alive[netip.MustParseAddr(a)] = true
	}
	return p
}

func (p *staticProber) Probe(_ context.Context, candidates []netip.Addr) ([]netip.Addr, error) {
	if p.err != nil {
		return nil, p.err
	}
	var out []netip.Addr
	for _, c := range candidates {
		if p.alive[c] {
			out = append(out, c)
		}
	}
	return out, nil
}

// funcScanner delegates to a function.
type funcScanner func(ctx context.Context, addr netip.Addr, ports []targets.Port) ([]scanning.PortResult, error)

func (f funcScanner) ScanHost(ctx context.Context, addr netip.Addr, ports []targets.Port) ([]scanning.PortResult, error) {
	return f(ctx, addr, ports)
}

// openOn answers every requested port, opening the listed ones.
func openOn(open map[uint16]scanning.PortResult) funcScanner {
	return func(_ context.Context, _ netip.Addr, ports []targets.Port) ([]scanning.PortResult, error) {
		out := make([]scanning.PortResult, 0, len(ports))
		for _, p := range ports {
			if r, ok := open[p.Number]; ok && p.Transport == targets.TCP {
				r.Port = p.Number
				r.Transport = p.Transport
				r.State = scanning.StateOpen
				out = append(out, r)
				continue
			}
			out = append(out, scanning.PortResult{Port: p.Number, Transport: p.Transport, State: scanning.StateFiltered})
		}
		return out, nil
	}
}
