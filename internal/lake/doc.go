// Package lake is the narrow contract between the ingestion core and the
// lakehouse table engine.
//
// Operations:
//   - ReadAll: every row of a table plus the table version it was read at
//   - Append: add rows
//   - OverwriteTable: replace all rows, only if the table version is unchanged
//   - OverwritePartition: replace the rows matching an equality predicate
//
// Every mutation bumps the table version. OverwriteTable fails with
// ErrConflict when another writer got there first; callers wrap the
// read-modify-write cycle in RetryConflicts.
//
// Backends:
//   - DuckDB (optionally a DuckLake catalog): local or object-store lakehouse
//   - PostgreSQL: shared catalog for multi-host deployments
//   - Memory: tests and dry runs
package lake
