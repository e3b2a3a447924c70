// Package writer implements batch writers for order book data.
//
// Tables:
//   - book_deltas: one row per price level change, snapshots included
//   - book_snapshots: one summary row per snapshot (levels as JSONB, best bid/ask)
//
// All writers use append-only semantics (never update, only insert).
// Timestamps are stored as int64 microseconds since the Unix epoch.
package writer
