// Package database opens the configured lake storage backend.
//
// Backends:
//   - duckdb: local database file, optionally with a DuckLake catalog attached
//   - postgres: a pgx connection pool shared by every lake table
//   - memory: in-process tables for tests and dry runs
package database
