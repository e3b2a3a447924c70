package writer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// WriterConfig contains configuration for batch writers.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     1000,
		FlushInterval: 5 * time.Second,
	}
}

// batchSender is the part of *pgxpool.Pool the writers use.
type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// bookDeltaRow represents a row for the book_deltas table.
type bookDeltaRow struct {
	ExchangeTs int64 // Microseconds
	ReceivedAt int64 // Microseconds
	Instrument string
	Side       bool   // TRUE = bid, FALSE = ask
	Action     string // new, change, delete
	Price      float64
	Amount     float64
	ChangeID   int64
	Snapshot   bool
	Gap        bool
}

// bookSnapshotRow represents a row for the book_snapshots table.
type bookSnapshotRow struct {
	ExchangeTs int64 // Microseconds
	ReceivedAt int64 // Microseconds
	Instrument string
	ChangeID   int64
	Bids       []byte // JSONB: [{price, amount}, ...]
	Asks       []byte // JSONB
	BestBid    float64
	BestAsk    float64
	Spread     float64
}

// BookWriterMetrics holds metrics for the book writer.
type BookWriterMetrics struct {
	DeltaInserts    int64
	DeltaConflicts  int64
	DeltaErrors     int64
	SnapshotInserts int64
	SnapshotErrors  int64
	PolledSnapshots int64
	ChangeGaps      int64
	Flushes         int64
}
