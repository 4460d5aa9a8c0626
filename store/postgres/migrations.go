package postgres

import "fmt"

// TableConfig configures the table name used by the store.
type TableConfig struct {
	// FailoverUnitsTable is the name of the table storing failover units.
	FailoverUnitsTable string
}

// DefaultTableConfig returns the default table configuration.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		FailoverUnitsTable: "failover_units",
	}
}

// MigrationUp returns the SQL to create the failover units table and its
// service name index.
func MigrationUp(config TableConfig) string {
	return fmt.Sprintf(`-- Create %s table
CREATE TABLE %s (
    id TEXT PRIMARY KEY,
    service_name TEXT NOT NULL,
    version BIGINT NOT NULL DEFAULT 1,
    state JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Index for listing the units of a service
CREATE INDEX idx_%s_service_name ON %s(service_name);
`, config.FailoverUnitsTable, config.FailoverUnitsTable, config.FailoverUnitsTable, config.FailoverUnitsTable)
}

// MigrationDown returns the SQL to drop the failover units table.
func MigrationDown(config TableConfig) string {
	return fmt.Sprintf(`-- Drop %s table
DROP TABLE IF EXISTS %s;
`, config.FailoverUnitsTable, config.FailoverUnitsTable)
}
