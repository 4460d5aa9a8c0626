// Package migrations generates the SQL migrations for failover unit persistence.
// It emits the failover units table for PostgreSQL, MySQL/MariaDB, and SQLite databases.
package migrations
