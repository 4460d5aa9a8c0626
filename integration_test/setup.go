//go:build integration

package integration

import (
	"database/sql"
	"os"
	"testing"

	pgstore "github.com/getpup/failover-manager/store/postgres"
	_ "github.com/lib/pq"
)

// getTestDB returns a database connection for integration tests.
// It reads the DATABASE_URL environment variable and skips the test if not set.
func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	return db
}

// setupTables creates the failover units table for config.
func setupTables(t *testing.T, db *sql.DB, config pgstore.TableConfig) {
	t.Helper()

	if _, err := db.Exec(pgstore.MigrationUp(config)); err != nil {
		t.Fatalf("failed to create tables: %v", err)
	}
}

// cleanupTables truncates the failover units table to clean up test data.
// Errors are logged but don't fail the test (cleanup is best-effort).
func cleanupTables(t *testing.T, db *sql.DB, config pgstore.TableConfig) {
	t.Helper()

	if _, err := db.Exec("TRUNCATE " + config.FailoverUnitsTable); err != nil {
		t.Logf("warning: failed to truncate failover units table: %v", err)
	}
}

// teardownTables drops the failover units table.
// Errors are logged but don't fail the test.
func teardownTables(t *testing.T, db *sql.DB, config pgstore.TableConfig) {
	t.Helper()

	if _, err := db.Exec(pgstore.MigrationDown(config)); err != nil {
		t.Logf("warning: failed to drop tables: %v", err)
	}
}
