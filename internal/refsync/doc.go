// Package refsync implements the periodic reference-data sync.
//
// The Poller:
//   - Fetches a full snapshot from a refsource.Source every interval
//   - Applies it to the symbol version store at the fetch time
//   - Records sync outcomes in Prometheus metrics
//   - Reports health from the outcome of the last cycle
package refsync
