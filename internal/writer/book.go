package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/deribit-data/internal/router"
)

// flushTimeout caps one database round trip from the background loops.
const flushTimeout = 30 * time.Second

// BookWriter consumes BookMsg from the router buffer and writes to the
// book_deltas and book_snapshots tables.
type BookWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from Message Router
	input *router.GrowableBuffer[router.BookMsg]

	// Database (*pgxpool.Pool)
	db batchSender

	// Batching (separate batches for deltas and snapshots)
	deltaBatch    []bookDeltaRow
	snapshotBatch []bookSnapshotRow
	batchMu       sync.Mutex
	flushMu       sync.Mutex // Serializes flushes
	flushTicker   *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics BookWriterMetrics
}

// NewBookWriter creates a new BookWriter. db is normally a *pgxpool.Pool.
func NewBookWriter(
	cfg WriterConfig,
	input *router.GrowableBuffer[router.BookMsg],
	db batchSender,
	logger *slog.Logger,
) *BookWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &BookWriter{
		cfg:           cfg,
		input:         input,
		db:            db,
		logger:        logger,
		deltaBatch:    make([]bookDeltaRow, 0, cfg.BatchSize),
		snapshotBatch: make([]bookSnapshotRow, 0, 100), // Snapshots are rare after subscribe
	}
}

// Start begins consuming messages and writing to the database.
func (w *BookWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("book writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains the input buffer and writes what is left. ctx bounds both the
// wait and the final flush.
func (w *BookWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping book writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("book writer stop timed out")
		return ctx.Err()
	}

	for _, msg := range w.input.DrainTo(0) {
		w.handleMessage(ctx, msg)
	}
	w.flush(ctx)

	w.logger.Info("book writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *BookWriter) Stats() BookWriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop wakes on buffer activity and accumulates batches.
func (w *BookWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.input.Ready():
			ctx, cancel := w.writeContext()
			for _, msg := range w.input.DrainTo(w.cfg.BatchSize) {
				w.handleMessage(ctx, msg)
			}
			cancel()
		}
	}
}

// flushLoop periodically flushes the batches.
func (w *BookWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			ctx, cancel := w.writeContext()
			w.flush(ctx)
			cancel()
		}
	}
}

// writeContext bounds a background write. Rows taken out of a batch are gone
// from it, so shutdown must not cancel the write that carries them.
func (w *BookWriter) writeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(w.ctx), flushTimeout)
}

// handleMessage turns one book message into rows.
func (w *BookWriter) handleMessage(ctx context.Context, msg router.BookMsg) {
	if msg.ChangeGap {
		w.logger.Warn("writing after change_id gap",
			"instrument", msg.Instrument,
			"change_id", msg.ChangeID,
			"prev_change_id", msg.PrevChangeID,
		)
	}

	deltas := w.transformDeltas(msg)

	w.batchMu.Lock()
	if msg.ChangeGap {
		w.metrics.ChangeGaps++
	}
	if msg.Snapshot {
		w.snapshotBatch = append(w.snapshotBatch, w.transformSnapshot(msg))
	}
	w.deltaBatch = append(w.deltaBatch, deltas...)
	shouldFlush := len(w.deltaBatch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(ctx)
	}
}

// HandleSnapshot queues a polled book as a snapshot row only. Polled books
// are not part of the change_id stream, so they produce no delta rows.
func (w *BookWriter) HandleSnapshot(msg router.BookMsg) error {
	row := w.transformSnapshot(msg)

	w.batchMu.Lock()
	w.snapshotBatch = append(w.snapshotBatch, row)
	w.metrics.PolledSnapshots++
	w.batchMu.Unlock()

	return nil
}

// transformDeltas flattens both sides of a message into one row per level.
func (w *BookWriter) transformDeltas(msg router.BookMsg) []bookDeltaRow {
	rows := make([]bookDeltaRow, 0, len(msg.Bids)+len(msg.Asks))

	base := bookDeltaRow{
		ExchangeTs: msToMicro(msg.ExchangeTs),
		ReceivedAt: msg.ReceivedAt.UnixMicro(),
		Instrument: msg.Instrument,
		ChangeID:   msg.ChangeID,
		Snapshot:   msg.Snapshot,
		Gap:        msg.ChangeGap,
	}

	for _, d := range msg.Bids {
		row := base
		row.Side = true
		row.Action = string(d.Action)
		row.Price = d.Price
		row.Amount = d.Amount
		rows = append(rows, row)
	}
	for _, d := range msg.Asks {
		row := base
		row.Side = false
		row.Action = string(d.Action)
		row.Price = d.Price
		row.Amount = d.Amount
		rows = append(rows, row)
	}

	return rows
}

// transformSnapshot summarizes a snapshot message.
func (w *BookWriter) transformSnapshot(msg router.BookMsg) bookSnapshotRow {
	bid := bestBid(msg.Bids)
	ask := bestAsk(msg.Asks)

	var spread float64
	if bid > 0 && ask > 0 {
		spread = ask - bid
	}

	return bookSnapshotRow{
		ExchangeTs: msToMicro(msg.ExchangeTs),
		ReceivedAt: msg.ReceivedAt.UnixMicro(),
		Instrument: msg.Instrument,
		ChangeID:   msg.ChangeID,
		Bids:       levelsToJSONB(msg.Bids),
		Asks:       levelsToJSONB(msg.Asks),
		BestBid:    bid,
		BestAsk:    ask,
		Spread:     spread,
	}
}

// flush writes both batches to the database.
func (w *BookWriter) flush(ctx context.Context) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.batchMu.Lock()
	deltaBatch := w.deltaBatch
	snapshotBatch := w.snapshotBatch
	w.deltaBatch = make([]bookDeltaRow, 0, w.cfg.BatchSize)
	w.snapshotBatch = make([]bookSnapshotRow, 0, 100)
	w.batchMu.Unlock()

	if len(deltaBatch) == 0 && len(snapshotBatch) == 0 {
		return
	}

	start := time.Now()

	if len(deltaBatch) > 0 {
		conflicts, err := w.batchInsertDeltas(ctx, deltaBatch)
		w.batchMu.Lock()
		if err != nil {
			w.metrics.DeltaErrors++
		} else {
			w.metrics.DeltaInserts += int64(len(deltaBatch) - conflicts)
			w.metrics.DeltaConflicts += int64(conflicts)
		}
		w.batchMu.Unlock()
		if err != nil {
			w.logger.Error("delta batch insert failed", "error", err, "count", len(deltaBatch))
		}
	}

	if len(snapshotBatch) > 0 {
		err := w.batchInsertSnapshots(ctx, snapshotBatch)
		w.batchMu.Lock()
		if err != nil {
			w.metrics.SnapshotErrors++
		} else {
			w.metrics.SnapshotInserts += int64(len(snapshotBatch))
		}
		w.batchMu.Unlock()
		if err != nil {
			w.logger.Error("snapshot batch insert failed", "error", err, "count", len(snapshotBatch))
		}
	}

	w.batchMu.Lock()
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed book",
		"deltas", len(deltaBatch),
		"snapshots", len(snapshotBatch),
		"duration", time.Since(start),
	)
}

const insertDeltaSQL = `
	INSERT INTO book_deltas (exchange_ts, received_at, instrument, side, action, price, amount, change_id, is_snapshot, gap)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (instrument, change_id, side, price) DO NOTHING
`

const insertSnapshotSQL = `
	INSERT INTO book_snapshots (exchange_ts, received_at, instrument, change_id, bids, asks, best_bid, best_ask, spread)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (instrument, change_id) DO NOTHING
`

// batchInsertDeltas inserts delta rows with ON CONFLICT DO NOTHING.
func (w *BookWriter) batchInsertDeltas(ctx context.Context, rows []bookDeltaRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertDeltaSQL,
			r.ExchangeTs, r.ReceivedAt, r.Instrument, r.Side, r.Action,
			r.Price, r.Amount, r.ChangeID, r.Snapshot, r.Gap,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}

// batchInsertSnapshots inserts snapshot rows with ON CONFLICT DO NOTHING.
func (w *BookWriter) batchInsertSnapshots(ctx context.Context, rows []bookSnapshotRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertSnapshotSQL,
			r.ExchangeTs, r.ReceivedAt, r.Instrument, r.ChangeID,
			r.Bids, r.Asks, r.BestBid, r.BestAsk, r.Spread,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}

	return nil
}
