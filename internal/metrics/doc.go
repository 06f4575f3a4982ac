// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Files by terminal outcome and data type
//   - Rows committed per silver table and rows dropped by reason
//   - Lake write conflicts retried per operation
//   - Per-file processing latency
//   - Reference-data sync outcomes
//
// All recording methods are safe on a nil *Metrics.
package metrics
