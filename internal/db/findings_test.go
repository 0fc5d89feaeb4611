package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netsentry/internal/errors"
)

func TestInsertHost(t *testing.T) {
	repo, mock := newMockRepo(t)
	existing := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("INSERT INTO scan_hosts").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(existing.String(), now))

	host := &Host{ScanID: uuid.New(), Address: "10.0.0.2", Alive: true, LastSeen: now}
	require.NoError(t, repo.InsertHost(context.Background(), host))
	assert.Equal(t, existing, host.ID, "conflicting insert returns the stored id")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPortFindings(t *testing.T) {
	repo, mock := newMockRepo(t)
	hostID := uuid.New()
	findings := []PortFinding{
		{HostID: hostID, Port: 22, Transport: "tcp", State: PortStateOpen, Service: "ssh", Product: "openssh", Version: "8.2p1"},
		{HostID: hostID, Port: 161, Transport: "udp", State: PortStateFiltered, Service: "snmp"},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO port_findings")
	prep.ExpectExec().
		WithArgs(sqlmock.AnyArg(), hostID, 22, "tcp", "open", "ssh", "openssh", "8.2p1", "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs(sqlmock.AnyArg(), hostID, 161, "udp", "filtered", "snmp", "", "", "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.UpsertPortFindings(context.Background(), findings))
	for _, f := range findings {
		assert.NotEqual(t, uuid.Nil, f.ID)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPortFindingsEmpty(t *testing.T) {
	repo, mock := newMockRepo(t)
	require.NoError(t, repo.UpsertPortFindings(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertVulnerabilitiesRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)
	findings := []VulnerabilityFinding{
		{ScanID: uuid.New(), HostID: uuid.New(), Port: 21, Transport: "tcp", RuleID: "vsftpd-backdoor",
			Severity: "critical", Title: "vsftpd 2.3.4 backdoor", Service: "ftp", Version: "2.3.4"},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO vulnerability_findings")
	prep.ExpectExec().WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	err := repo.InsertVulnerabilities(context.Background(), findings)
	require.Error(t, err)
	assert.Equal(t, errors.CodeDatabaseQuery, errors.GetCode(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetScanDetail(t *testing.T) {
	repo, mock := newMockRepo(t)
	scanID := uuid.New()
	hostA, hostB := uuid.New(), uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM scans WHERE id").
		WithArgs(scanID).
		WillReturnRows(scanRows(scanID, ScanStatusCompleted, 100))
	mock.ExpectQuery("FROM scan_hosts WHERE scan_id").
		WithArgs(scanID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "scan_id", "address", "alive", "open_port_count", "last_seen", "error_message", "created_at",
		}).
			AddRow(hostA.String(), scanID.String(), "10.0.0.1", true, 1, now, nil, now).
			AddRow(hostB.String(), scanID.String(), "10.0.0.2", true, 0, now, "detection panicked", now))
	mock.ExpectQuery("FROM port_findings p JOIN scan_hosts h").
		WithArgs(scanID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "host_id", "port", "transport", "state", "service", "product", "version", "banner", "tls_version", "created_at",
		}).AddRow(uuid.NewString(), hostA.String(), 21, "tcp", "open", "ftp", "vsftpd", "2.3.4", "220 (vsFTPd 2.3.4)", "", now))
	mock.ExpectQuery("FROM vulnerability_findings WHERE scan_id").
		WithArgs(scanID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "scan_id", "host_id", "port", "transport", "rule_id", "severity", "title", "description",
			"service", "version", "created_at",
		}).AddRow(uuid.NewString(), scanID.String(), hostA.String(), 21, "tcp", "vsftpd-backdoor", "critical",
			"vsftpd 2.3.4 backdoor", "", "ftp", "2.3.4", now))

	detail, err := repo.GetScanDetail(context.Background(), scanID)
	require.NoError(t, err)
	require.Len(t, detail.Hosts, 2)

	assert.Equal(t, "10.0.0.1", detail.Hosts[0].Address)
	require.Len(t, detail.Hosts[0].Ports, 1)
	assert.Equal(t, "vsftpd", detail.Hosts[0].Ports[0].Product)
	require.Len(t, detail.Hosts[0].Vulnerabilities, 1)

	assert.Empty(t, detail.Hosts[1].Ports)
	assert.NotNil(t, detail.Hosts[1].Ports, "empty slices serialise as []")
	require.NotNil(t, detail.Hosts[1].ErrorMessage)
	assert.Equal(t, "detection panicked", *detail.Hosts[1].ErrorMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}
