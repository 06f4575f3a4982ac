// Package model defines shared data types used across the market-data lakehouse.
//
// Conventions:
//   - Timestamps: int64 microseconds since Unix epoch
//   - Validity intervals: half-open [ValidFrom, ValidUntil), ValidUntil = OpenValidUntil while current
//   - Silver prices: integer ticks (price / tick_size), sizes: integer lots (qty / lot_size)
//   - File ids: int32 minted by the ingestion ledger, never reused
package model
