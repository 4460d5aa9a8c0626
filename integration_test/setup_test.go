//go:build integration

package integration

import (
	"testing"

	pgstore "github.com/getpup/failover-manager/store/postgres"
)

// TestSetupHelpers validates that the integration test helper functions work correctly.
// This test requires a PostgreSQL database to be available via DATABASE_URL.
func TestSetupHelpers(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	config := pgstore.TableConfig{FailoverUnitsTable: "setup_helpers_units"}

	setupTables(t, db, config)

	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM setup_helpers_units").Scan(&count)
	if err != nil {
		t.Fatalf("failed to query failover units table: %v", err)
	}

	_, err = db.Exec("INSERT INTO setup_helpers_units (id, service_name, version, state) VALUES ('ft-1', 'svc', 1, '{}')")
	if err != nil {
		t.Fatalf("failed to insert row: %v", err)
	}

	cleanupTables(t, db, config)

	err = db.QueryRow("SELECT COUNT(*) FROM setup_helpers_units").Scan(&count)
	if err != nil {
		t.Fatalf("failed to query failover units table after cleanup: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 rows after cleanup, got %d", count)
	}

	teardownTables(t, db, config)

	// This should fail since the table no longer exists
	err = db.QueryRow("SELECT COUNT(*) FROM setup_helpers_units").Scan(&count)
	if err == nil {
		t.Error("expected error querying dropped table, but got none")
	}
}
