package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// validateIdentifier ensures an identifier contains only safe characters for SQL.
// Returns an error if the identifier contains characters that could be used for SQL injection.
func validateIdentifier(name, fieldName string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("%s must start with a letter and contain only letters, numbers, and underscores (got: %s)", fieldName, name)
	}
	return nil
}

// validateConfig validates all configuration values to prevent SQL injection.
func validateConfig(config *Config) error {
	if err := validateIdentifier(config.SchemaName, "SchemaName"); err != nil {
		return err
	}
	if err := validateIdentifier(config.FailoverUnitsTable, "FailoverUnitsTable"); err != nil {
		return err
	}
	return nil
}

// Dialect selects the SQL flavour of a generated migration.
type Dialect string

const (
	// DialectPostgres targets PostgreSQL.
	DialectPostgres Dialect = "postgres"

	// DialectMySQL targets MySQL and MariaDB.
	DialectMySQL Dialect = "mysql"

	// DialectSQLite targets SQLite.
	DialectSQLite Dialect = "sqlite"
)

// Config configures migration generation for failover unit persistence.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// SchemaName is the database schema name (PostgreSQL) or database name (MySQL)
	// For SQLite, it is used as a table name prefix (e.g., failover_failover_units)
	SchemaName string

	// FailoverUnitsTable is the name of the failover units table
	FailoverUnitsTable string
}

// DefaultConfig returns the default configuration for failover manager migrations.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:       "migrations",
		OutputFilename:     fmt.Sprintf("%s_init_failover_units.sql", timestamp),
		SchemaName:         "failover",
		FailoverUnitsTable: "failover_units",
	}
}

// QualifiedTable returns the table name the store should be configured with
// for a migration generated with config in the given dialect.
func QualifiedTable(config *Config, dialect Dialect) string {
	if dialect == DialectSQLite {
		return config.SchemaName + "_" + config.FailoverUnitsTable
	}
	return config.SchemaName + "." + config.FailoverUnitsTable
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return Generate(config, DialectPostgres)
}

// GenerateMySQL generates a MySQL/MariaDB migration file.
func GenerateMySQL(config *Config) error {
	return Generate(config, DialectMySQL)
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return Generate(config, DialectSQLite)
}

// Generate writes the migration for dialect to OutputFolder/OutputFilename.
func Generate(config *Config, dialect Dialect) error {
	sql, err := GenerateSQL(config, dialect)
	if err != nil {
		return err
	}

	// Ensure output folder exists
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}

	return nil
}

// GenerateSQL returns the migration for dialect without writing it.
func GenerateSQL(config *Config, dialect Dialect) (string, error) {
	// Validate configuration to prevent SQL injection
	if err := validateConfig(config); err != nil {
		return "", fmt.Errorf("invalid configuration: %w", err)
	}

	generated := time.Now().Format(time.RFC3339)
	switch dialect {
	case DialectPostgres:
		return fmt.Sprintf(postgresTemplate, generated, config.SchemaName, config.FailoverUnitsTable), nil
	case DialectMySQL:
		return fmt.Sprintf(mysqlTemplate, generated, config.SchemaName, config.FailoverUnitsTable), nil
	case DialectSQLite:
		return fmt.Sprintf(sqliteTemplate, generated, QualifiedTable(config, DialectSQLite), config.FailoverUnitsTable), nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", dialect)
	}
}

// Templates take the generation time, the schema (or prefixed table for SQLite)
// and the table name.
const postgresTemplate = `-- Failover Unit Persistence Migration
-- Generated: %[1]s
-- Database: PostgreSQL

CREATE SCHEMA IF NOT EXISTS %[2]s;

-- One row per failover unit. The full unit is stored as JSON in state;
-- version is incremented on every update for optimistic concurrency
CREATE TABLE IF NOT EXISTS %[2]s.%[3]s (
    id TEXT PRIMARY KEY,
    service_name TEXT NOT NULL,
    version BIGINT NOT NULL DEFAULT 1 CHECK (version > 0),
    state JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Index for listing the units of a service
CREATE INDEX IF NOT EXISTS idx_%[3]s_service_name
    ON %[2]s.%[3]s (service_name);

-- Index for finding recently changed units
CREATE INDEX IF NOT EXISTS idx_%[3]s_updated
    ON %[2]s.%[3]s (updated_at DESC);
`

const mysqlTemplate = `-- Failover Unit Persistence Migration
-- Generated: %[1]s
-- Database: MySQL/MariaDB

-- In MySQL, we use a separate database instead of schema
CREATE DATABASE IF NOT EXISTS %[2]s
    DEFAULT CHARACTER SET utf8mb4
    DEFAULT COLLATE utf8mb4_unicode_ci;

USE %[2]s;

-- One row per failover unit. The full unit is stored as JSON in state;
-- version is incremented on every update for optimistic concurrency
CREATE TABLE IF NOT EXISTS %[3]s (
    id VARCHAR(255) PRIMARY KEY,
    service_name VARCHAR(255) NOT NULL,
    version BIGINT NOT NULL DEFAULT 1,
    state JSON NOT NULL,
    updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),

    CHECK (version > 0)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

-- Index for listing the units of a service
CREATE INDEX idx_%[3]s_service_name
    ON %[3]s (service_name);

-- Index for finding recently changed units
CREATE INDEX idx_%[3]s_updated
    ON %[3]s (updated_at DESC);
`

const sqliteTemplate = `-- Failover Unit Persistence Migration
-- Generated: %[1]s
-- Database: SQLite

-- SQLite has no schemas, so the table name carries the schema as a prefix.
-- One row per failover unit. The full unit is stored as JSON text in state;
-- version is incremented on every update for optimistic concurrency
CREATE TABLE IF NOT EXISTS %[2]s (
    id TEXT PRIMARY KEY,
    service_name TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1 CHECK (version > 0),
    state TEXT NOT NULL CHECK (json_valid(state)),
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Index for listing the units of a service
CREATE INDEX IF NOT EXISTS idx_%[3]s_service_name
    ON %[2]s (service_name);

-- Index for finding recently changed units
CREATE INDEX IF NOT EXISTS idx_%[3]s_updated
    ON %[2]s (updated_at DESC);
`
