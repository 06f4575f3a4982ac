// Package discovery finds bronze files under a Hive-partitioned root:
//
//	<root>/vendor=<v>/data_type=<t>/exchange=<e>/symbol=<s>/date=<YYYY-MM-DD>/<file>
//
// Files ending in .csv, .csv.gz or .parquet are candidates. Anything else,
// and any file whose path does not carry all five partitions, is skipped.
package discovery
