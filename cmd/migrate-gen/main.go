// Command migrate-gen generates SQL migration files for failover unit persistence.
//
// Usage:
//
//	go run github.com/getpup/failover-manager/cmd/migrate-gen -output migrations -filename init.sql
//
// Or with go generate:
//
//	//go:generate go run github.com/getpup/failover-manager/cmd/migrate-gen -output migrations
//
// Generate migrations for different database adapters:
//
//	go run github.com/getpup/failover-manager/cmd/migrate-gen -adapter postgres -output migrations
//	go run github.com/getpup/failover-manager/cmd/migrate-gen -adapter mysql -output migrations
//	go run github.com/getpup/failover-manager/cmd/migrate-gen -adapter sqlite -output migrations
//
// Customize names:
//
//	go run github.com/getpup/failover-manager/cmd/migrate-gen -schema failover -table units -output migrations
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/getpup/failover-manager/pkg/migrations"
)

func main() {
	var (
		adapter        = flag.String("adapter", "postgres", "Database adapter: postgres, mysql, or sqlite")
		outputFolder   = flag.String("output", "migrations", "Output folder for migration file")
		outputFilename = flag.String("filename", "", "Output filename (default: timestamp-based)")
		schemaName     = flag.String("schema", "failover", "Schema name (PostgreSQL), database name (MySQL) or table prefix (SQLite)")
		table          = flag.String("table", "failover_units", "Name of failover units table")
	)

	flag.Parse()

	config := migrations.DefaultConfig()
	config.OutputFolder = *outputFolder
	config.SchemaName = *schemaName
	config.FailoverUnitsTable = *table

	if *outputFilename != "" {
		config.OutputFilename = *outputFilename
	}

	dialect := migrations.Dialect(*adapter)
	switch dialect {
	case migrations.DialectPostgres, migrations.DialectMySQL, migrations.DialectSQLite:
	default:
		fmt.Fprintf(os.Stderr, "Error: unsupported adapter '%s'. Supported adapters are: postgres, mysql, sqlite\n", *adapter)
		os.Exit(1)
	}

	if err := migrations.Generate(&config, dialect); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s migration: %s/%s\n", *adapter, config.OutputFolder, config.OutputFilename)
	fmt.Printf("Configure the store with table %s\n", migrations.QualifiedTable(&config, dialect))
}
