// Package ledger is the ingestion ledger: a durable record of every bronze
// file ever seen, keyed by content identity, with its lifecycle state.
//
// A file's strict identity is (vendor, data_type, relative_path,
// content_hash). Before a hash is computed, (size, mtime) stand in for it.
//
// File ids come from Counter, a 4-byte little-endian int32 in
// <state_dir>/<table>.file_id guarded by <table>.file_id.lock, shared by
// every process pointed at the same state directory. Ids are monotonic and
// never reused; an id minted by a process that then loses a race to
// persist the same identity is left as a gap.
//
// Lifecycle: pending -> success | failed | quarantined. Failed and
// quarantined files may be retried under the same id; success is final.
package ledger
