package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// InsertHost records a live host. Re-inserting the same address for a scan
// refreshes last_seen and returns the existing id.
func (r *ScanRepository) InsertHost(ctx context.Context, host *Host) error {
	if host.ID == uuid.Nil {
		host.ID = uuid.New()
	}

	query := `
		INSERT INTO scan_hosts (id, scan_id, address, alive, last_seen)
		VALUES (:id, :scan_id, :address, :alive, :last_seen)
		ON CONFLICT (scan_id, address) DO UPDATE SET alive = EXCLUDED.alive, last_seen = EXCLUDED.last_seen
		RETURNING id, created_at`

	rows, err := r.db.NamedQueryContext(ctx, query, host)
	if err != nil {
		return sanitizeDBError("insert host", err)
	}
	defer func() { _ = rows.Close() }()

	if rows.Next() {
		if err := rows.Scan(&host.ID, &host.CreatedAt); err != nil {
			return sanitizeDBError("insert host", err)
		}
	}
	return sanitizeDBError("insert host", rows.Err())
}

// CompleteHost stores the open port count and any absorbed processing error.
func (r *ScanRepository) CompleteHost(ctx context.Context, hostID uuid.UUID, openPorts int, hostErr *string) error {
	query := `UPDATE scan_hosts SET open_port_count = $2, error_message = $3, last_seen = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, hostID, openPorts, hostErr)
	return sanitizeDBError("complete host", err)
}

// UpsertPortFindings writes port results in one transaction. A finding for an
// existing (host, port, transport) replaces the stored observation.
func (r *ScanRepository) UpsertPortFindings(ctx context.Context, findings []PortFinding) error {
	if len(findings) == 0 {
		return nil
	}

	query := `
		INSERT INTO port_findings (id, host_id, port, transport, state, service, product, version, banner, tls_version)
		VALUES (:id, :host_id, :port, :transport, :state, :service, :product, :version, :banner, :tls_version)
		ON CONFLICT (host_id, port, transport) DO UPDATE SET
			state = EXCLUDED.state,
			service = EXCLUDED.service,
			product = EXCLUDED.product,
			version = EXCLUDED.version,
			banner = EXCLUDED.banner,
			tls_version = EXCLUDED.tls_version`

	return r.db.withTx(ctx, "upsert port findings", func(tx *sqlx.Tx) error {
		stmt, err := tx.PrepareNamedContext(ctx, query)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for i := range findings {
			if findings[i].ID == uuid.Nil {
				findings[i].ID = uuid.New()
			}
			if _, err := stmt.ExecContext(ctx, &findings[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertVulnerabilities writes vulnerability findings in one transaction.
// Duplicates of an existing (host, rule, port, transport) are ignored.
func (r *ScanRepository) InsertVulnerabilities(ctx context.Context, findings []VulnerabilityFinding) error {
	if len(findings) == 0 {
		return nil
	}

	query := `
		INSERT INTO vulnerability_findings
			(id, scan_id, host_id, port, transport, rule_id, severity, title, description, service, version)
		VALUES
			(:id, :scan_id, :host_id, :port, :transport, :rule_id, :severity, :title, :description, :service, :version)
		ON CONFLICT (host_id, rule_id, port, transport) DO NOTHING`

	return r.db.withTx(ctx, "insert vulnerability findings", func(tx *sqlx.Tx) error {
		stmt, err := tx.PrepareNamedContext(ctx, query)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for i := range findings {
			if findings[i].ID == uuid.Nil {
				findings[i].ID = uuid.New()
			}
			if _, err := stmt.ExecContext(ctx, &findings[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetScanDetail loads a scan with every host and finding it produced.
func (r *ScanRepository) GetScanDetail(ctx context.Context, id uuid.UUID) (*ScanDetail, error) {
	scan, err := r.GetScan(ctx, id)
	if err != nil {
		return nil, err
	}

	var hosts []Host
	hostQuery := `
		SELECT id, scan_id, host(address) AS address, alive, open_port_count, last_seen, error_message, created_at
		FROM scan_hosts WHERE scan_id = $1 ORDER BY scan_hosts.address`
	if err := r.db.SelectContext(ctx, &hosts, hostQuery, id); err != nil {
		return nil, sanitizeDBError("list scan hosts", err)
	}

	var ports []PortFinding
	portQuery := `
		SELECT p.id, p.host_id, p.port, p.transport, p.state, p.service, p.product, p.version,
			p.banner, p.tls_version, p.created_at
		FROM port_findings p JOIN scan_hosts h ON h.id = p.host_id
		WHERE h.scan_id = $1 ORDER BY p.transport, p.port`
	if err := r.db.SelectContext(ctx, &ports, portQuery, id); err != nil {
		return nil, sanitizeDBError("list port findings", err)
	}

	var vulns []VulnerabilityFinding
	vulnQuery := `
		SELECT id, scan_id, host_id, port, transport, rule_id, severity, title, description,
			service, version, created_at
		FROM vulnerability_findings WHERE scan_id = $1 ORDER BY port, transport, rule_id`
	if err := r.db.SelectContext(ctx, &vulns, vulnQuery, id); err != nil {
		return nil, sanitizeDBError("list vulnerability findings", err)
	}

	detail := &ScanDetail{Scan: scan, Hosts: make([]HostDetail, 0, len(hosts))}
	index := make(map[uuid.UUID]int, len(hosts))
	for _, h := range hosts {
		index[h.ID] = len(detail.Hosts)
		detail.Hosts = append(detail.Hosts, HostDetail{
			Host:            h,
			Ports:           []PortFinding{},
			Vulnerabilities: []VulnerabilityFinding{},
		})
	}
	for _, p := range ports {
		if i, ok := index[p.HostID]; ok {
			detail.Hosts[i].Ports = append(detail.Hosts[i].Ports, p)
		}
	}
	for _, v := range vulns {
		if i, ok := index[v.HostID]; ok {
			detail.Hosts[i].Vulnerabilities = append(detail.Hosts[i].Vulnerabilities, v)
		}
	}
	return detail, nil
}
