// Package ingest moves bronze files into silver tables.
//
// Each file runs start to finish on one worker:
//
//	discovered -> skip (already success)
//	           -> pending -> quarantined | failed | success
//
// A file is quarantined when reference data does not cover its time range,
// fails when it cannot be parsed or every row is filtered, and succeeds
// once its rows are committed. Rows are committed with a partition
// overwrite on (exchange, date, file_id) before the ledger is marked, so a
// crash between the two leaves the file pending and the retry rewrites the
// same partition.
package ingest
