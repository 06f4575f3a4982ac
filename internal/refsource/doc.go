// Package refsource reads reference-data inputs for the symbol version
// store.
//
// Snapshots and history rows come from flat files (CSV, gzipped CSV or
// Parquet) keyed by venue_id and venue_symbol, or from a vendor's JSON
// instrument listing over HTTP. Every source yields full snapshots: an
// instrument absent from a snapshot is treated as delisted downstream, so
// a source fails rather than returning a partial listing.
package refsource
