// Package database provides the PostgreSQL connection pool and schema for
// recorded order book data.
//
// Tables:
//   - book_deltas: one row per price level change
//   - book_snapshots: one row per full book snapshot
package database
