//go:build integration

// Package helpers provides database utilities for netsentry integration tests.
package helpers

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/anstrom/netsentry/internal/db"
)

const (
	defaultPostgreSQLPort = 5432
	dbConnectionTimeout   = 30 * time.Second
)

// TestDatabaseConfigs returns the database configurations to try, the
// dedicated test database first and the development database second.
func TestDatabaseConfigs() []db.Config {
	test := db.DefaultConfig()
	test.Host = getEnvOrDefault("TEST_DB_HOST", "localhost")
	test.Port = getEnvIntOrDefault("TEST_DB_PORT", defaultPostgreSQLPort)
	test.Database = getEnvOrDefault("TEST_DB_NAME", "netsentry_test")
	test.Username = getEnvOrDefault("TEST_DB_USER", "test_user")
	test.Password = getEnvOrDefault("TEST_DB_PASSWORD", "test_password")
	test.MaxOpenConns = 5
	test.MaxIdleConns = 2

	dev := db.DefaultConfig()
	dev.Host = getEnvOrDefault("DEV_DB_HOST", "localhost")
	dev.Port = getEnvIntOrDefault("DEV_DB_PORT", defaultPostgreSQLPort)
	dev.Database = getEnvOrDefault("DEV_DB_NAME", "netsentry_dev")
	dev.Username = getEnvOrDefault("DEV_DB_USER", "netsentry_dev")
	dev.Password = getEnvOrDefault("DEV_DB_PASSWORD", "dev_password")
	dev.MaxOpenConns = 5
	dev.MaxIdleConns = 2

	return []db.Config{test, dev}
}

// ConnectToTestDatabase connects to the first reachable test database and
// applies the schema migrations.
func ConnectToTestDatabase(ctx context.Context) (*db.DB, error) {
	var lastErr error
	for _, cfg := range TestDatabaseConfigs() {
		cfg := cfg
		database, err := db.ConnectAndMigrate(ctx, &cfg)
		if err == nil {
			return database, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to connect to any test database: %w", lastErr)
}

// SetupTestDB returns a migrated database or skips the test when none is
// reachable. The connection is closed when the test ends.
func SetupTestDB(t testing.TB) *db.DB {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), dbConnectionTimeout)
	defer cancel()

	database, err := ConnectToTestDatabase(ctx)
	if err != nil {
		t.Skipf("no test database available: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

// CleanupScans removes the given scans. Hosts and findings go with them
// through ON DELETE CASCADE.
func CleanupScans(ctx context.Context, database *db.DB, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	if _, err := database.ExecContext(ctx, "DELETE FROM scans WHERE id = ANY($1::uuid[])", pq.Array(raw)); err != nil {
		return fmt.Errorf("failed to clean scans: %w", err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
