package db

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netsentry/internal/logging"
)

func newTestMigrator(t *testing.T, files fstest.MapFS) (*Migrator, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	m := NewMigrator(sqlx.NewDb(sqlDB, "postgres"))
	m.files = files
	m.logger = logging.NewDefault()
	return m, mock
}

func TestEmbeddedMigrations(t *testing.T) {
	m := NewMigrator(nil)
	files, err := m.migrationFileNames()
	require.NoError(t, err)
	assert.Contains(t, files, "001_initial_schema.sql")
}

func TestMigratorUp(t *testing.T) {
	files := fstest.MapFS{
		"001_initial.sql": {Data: []byte("CREATE TABLE a (id INT);")},
		"002_second.sql":  {Data: []byte("CREATE TABLE b (id INT);")},
		"README.md":       {Data: []byte("ignored")},
	}
	m, mock := newTestMigrator(t, files)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, name, applied_at, checksum FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "applied_at", "checksum"}).
			AddRow(1, "001_initial", time.Now(), checksum([]byte("CREATE TABLE a (id INT);"))))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").
		WithArgs("002_second", checksum([]byte("CREATE TABLE b (id INT);"))).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	applied, err := m.Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigratorStatusDetectsModifiedFiles(t *testing.T) {
	files := fstest.MapFS{
		"001_initial.sql": {Data: []byte("CREATE TABLE a (id INT, extra TEXT);")},
		"002_second.sql":  {Data: []byte("CREATE TABLE b (id INT);")},
	}
	m, mock := newTestMigrator(t, files)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "applied_at", "checksum"}).
			AddRow(1, "001_initial", time.Now(), checksum([]byte("CREATE TABLE a (id INT);"))))

	status, err := m.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, status, 2)
	assert.True(t, status[0].Applied)
	assert.True(t, status[0].Modified)
	assert.False(t, status[1].Applied)
}
