// Package parse reads bronze files into typed market-data rows.
//
// CSV files (optionally gzip-compressed) are read by header name, so column
// order does not matter and unknown columns are ignored. Parquet files are
// read with parquet-go into row structs tagged with the same column names.
// Timestamps are integer microseconds since the epoch.
package parse
