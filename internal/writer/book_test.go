package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/deribit-data/internal/channel"
	"github.com/rickgao/deribit-data/internal/router"
)

// fakeDB records batches instead of talking to Postgres.
type fakeDB struct {
	mu       sync.Mutex
	batches  []*pgx.Batch
	affected []int64 // RowsAffected per Exec, in order; 1 when exhausted
	err      error
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b)
	return &fakeResults{db: f}
}

func (f *fakeDB) queued() []*pgx.QueuedQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*pgx.QueuedQuery
	for _, b := range f.batches {
		out = append(out, b.QueuedQueries...)
	}
	return out
}

type fakeResults struct {
	db *fakeDB
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if r.db.err != nil {
		return pgconn.CommandTag{}, r.db.err
	}
	n := int64(1)
	if len(r.db.affected) > 0 {
		n = r.db.affected[0]
		r.db.affected = r.db.affected[1:]
	}
	return pgconn.NewCommandTag(fmt.Sprintf("INSERT 0 %d", n)), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row { return nil }
func (r *fakeResults) Close() error { return nil }

func testBookMsg(snapshot bool) router.BookMsg {
	msg := router.BookMsg{
		Channel:    "book.BTC-PERPETUAL.100ms",
		Instrument: "BTC-PERPETUAL",
		Interval:   "100ms",
		ChangeID:   297218,
		Snapshot:   snapshot,
		ExchangeTs: 1554373962454,
		ReceivedAt: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
		Bids: []channel.BookDelta{
			{Action: channel.ActionNew, Price: 5042.34, Amount: 30},
			{Action: channel.ActionNew, Price: 5041.94, Amount: 20},
		},
		Asks: []channel.BookDelta{
			{Action: channel.ActionNew, Price: 5042.64, Amount: 40},
		},
	}
	if !snapshot {
		msg.PrevChangeID = 297217
	}
	return msg
}

func TestBookWriter_TransformDeltas(t *testing.T) {
	w := NewBookWriter(DefaultWriterConfig(), router.NewGrowableBuffer[router.BookMsg](10), nil, nil)

	msg := testBookMsg(false)
	msg.ChangeGap = true
	msg.Asks[0].Action = channel.ActionDelete
	msg.Asks[0].Amount = 0

	rows := w.transformDeltas(msg)

	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}

	bid := rows[0]
	if bid.ExchangeTs != 1554373962454000 {
		t.Errorf("ExchangeTs = %d, want 1554373962454000", bid.ExchangeTs)
	}
	if bid.ReceivedAt != msg.ReceivedAt.UnixMicro() {
		t.Errorf("ReceivedAt = %d, want %d", bid.ReceivedAt, msg.ReceivedAt.UnixMicro())
	}
	if bid.Instrument != "BTC-PERPETUAL" {
		t.Errorf("Instrument = %s, want BTC-PERPETUAL", bid.Instrument)
	}
	if !bid.Side {
		t.Error("Side = false, want true for bid")
	}
	if bid.Price != 5042.34 || bid.Amount != 30 {
		t.Errorf("bid = {%v, %v}, want {5042.34, 30}", bid.Price, bid.Amount)
	}
	if bid.ChangeID != 297218 {
		t.Errorf("ChangeID = %d, want 297218", bid.ChangeID)
	}
	if !bid.Gap {
		t.Error("Gap = false, want true")
	}

	ask := rows[2]
	if ask.Side {
		t.Error("Side = true, want false for ask")
	}
	if ask.Action != "delete" {
		t.Errorf("Action = %s, want delete", ask.Action)
	}
}

func TestBookWriter_TransformSnapshot(t *testing.T) {
	w := NewBookWriter(DefaultWriterConfig(), router.NewGrowableBuffer[router.BookMsg](10), nil, nil)

	row := w.transformSnapshot(testBookMsg(true))

	if row.BestBid != 5042.34 {
		t.Errorf("BestBid = %v, want 5042.34", row.BestBid)
	}
	if row.BestAsk != 5042.64 {
		t.Errorf("BestAsk = %v, want 5042.64", row.BestAsk)
	}
	if spread := row.Spread; spread < 0.2999 || spread > 0.3001 {
		t.Errorf("Spread = %v, want 0.3", spread)
	}

	var bids []levelJSON
	if err := json.Unmarshal(row.Bids, &bids); err != nil {
		t.Fatalf("failed to unmarshal Bids: %v", err)
	}
	if len(bids) != 2 {
		t.Fatalf("Bids has %d levels, want 2", len(bids))
	}
	if bids[1].Price != 5041.94 || bids[1].Amount != 20 {
		t.Errorf("Bids[1] = %+v, want {5041.94, 20}", bids[1])
	}
}

func TestBookWriter_TransformSnapshot_Empty(t *testing.T) {
	w := NewBookWriter(DefaultWriterConfig(), router.NewGrowableBuffer[router.BookMsg](10), nil, nil)

	row := w.transformSnapshot(router.BookMsg{Instrument: "EMPTY", Snapshot: true, ReceivedAt: time.Now()})

	if row.BestBid != 0 || row.BestAsk != 0 || row.Spread != 0 {
		t.Errorf("empty book = {%v, %v, %v}, want zeros", row.BestBid, row.BestAsk, row.Spread)
	}
	if string(row.Bids) != "[]" {
		t.Errorf("Bids = %s, want []", row.Bids)
	}
}

func TestBookWriter_Flush(t *testing.T) {
	db := &fakeDB{}
	w := NewBookWriter(DefaultWriterConfig(), router.NewGrowableBuffer[router.BookMsg](10), db, nil)
	ctx := context.Background()

	w.handleMessage(ctx, testBookMsg(true))
	w.handleMessage(ctx, testBookMsg(false))
	w.flush(ctx)

	queries := db.queued()
	var deltas, snapshots int
	for _, q := range queries {
		switch {
		case strings.Contains(q.SQL, "INSERT INTO book_deltas"):
			deltas++
			if len(q.Arguments) != 10 {
				t.Errorf("delta args = %d, want 10", len(q.Arguments))
			}
		case strings.Contains(q.SQL, "INSERT INTO book_snapshots"):
			snapshots++
		}
	}
	if deltas != 6 {
		t.Errorf("delta inserts = %d, want 6", deltas)
	}
	if snapshots != 1 {
		t.Errorf("snapshot inserts = %d, want 1", snapshots)
	}

	m := w.Stats()
	if m.DeltaInserts != 6 || m.SnapshotInserts != 1 || m.Flushes != 1 {
		t.Errorf("metrics = %+v", m)
	}

	// Empty flush is a no-op.
	w.flush(ctx)
	if w.Stats().Flushes != 1 {
		t.Error("empty flush should not count")
	}
}

func TestBookWriter_CountsConflicts(t *testing.T) {
	db := &fakeDB{affected: []int64{1, 0, 1}}
	w := NewBookWriter(DefaultWriterConfig(), router.NewGrowableBuffer[router.BookMsg](10), db, nil)
	ctx := context.Background()

	w.handleMessage(ctx, testBookMsg(false))
	w.flush(ctx)

	m := w.Stats()
	if m.DeltaInserts != 2 {
		t.Errorf("DeltaInserts = %d, want 2", m.DeltaInserts)
	}
	if m.DeltaConflicts != 1 {
		t.Errorf("DeltaConflicts = %d, want 1", m.DeltaConflicts)
	}
}

func TestBookWriter_InsertError(t *testing.T) {
	db := &fakeDB{err: errors.New("connection refused")}
	w := NewBookWriter(DefaultWriterConfig(), router.NewGrowableBuffer[router.BookMsg](10), db, nil)
	ctx := context.Background()

	w.handleMessage(ctx, testBookMsg(true))
	w.flush(ctx)

	m := w.Stats()
	if m.DeltaErrors != 1 {
		t.Errorf("DeltaErrors = %d, want 1", m.DeltaErrors)
	}
	if m.SnapshotErrors != 1 {
		t.Errorf("SnapshotErrors = %d, want 1", m.SnapshotErrors)
	}
	if m.DeltaInserts != 0 {
		t.Errorf("DeltaInserts = %d, want 0", m.DeltaInserts)
	}
}

func TestBookWriter_FlushOnBatchSize(t *testing.T) {
	db := &fakeDB{}
	cfg := WriterConfig{BatchSize: 3, FlushInterval: time.Hour}
	w := NewBookWriter(cfg, router.NewGrowableBuffer[router.BookMsg](10), db, nil)

	// 3 levels reach the batch size without waiting for the ticker.
	w.handleMessage(context.Background(), testBookMsg(false))

	if got := len(db.queued()); got != 3 {
		t.Errorf("queued = %d, want 3", got)
	}
}

func TestBookWriter_CountsGaps(t *testing.T) {
	w := NewBookWriter(DefaultWriterConfig(), router.NewGrowableBuffer[router.BookMsg](10), &fakeDB{}, nil)

	msg := testBookMsg(false)
	msg.ChangeGap = true
	w.handleMessage(context.Background(), msg)

	if w.Stats().ChangeGaps != 1 {
		t.Errorf("ChangeGaps = %d, want 1", w.Stats().ChangeGaps)
	}
}

func TestBookWriter_Lifecycle(t *testing.T) {
	db := &fakeDB{}
	cfg := WriterConfig{
		BatchSize:     100,
		FlushInterval: 20 * time.Millisecond,
	}
	input := router.NewGrowableBuffer[router.BookMsg](10)
	w := NewBookWriter(cfg, input, db, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	input.Send(testBookMsg(false))

	// The ticker flushes without reaching the batch size.
	deadline := time.Now().Add(time.Second)
	for len(db.queued()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("queued = %d, want 3", len(db.queued()))
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := w.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestBookWriter_StopDrainsInput(t *testing.T) {
	db := &fakeDB{}
	cfg := WriterConfig{BatchSize: 100, FlushInterval: time.Hour}
	input := router.NewGrowableBuffer[router.BookMsg](10)
	w := NewBookWriter(cfg, input, db, nil)

	input.Send(testBookMsg(true))
	input.Send(testBookMsg(false))

	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := len(db.queued()); got != 7 {
		t.Errorf("queued = %d, want 7 (6 deltas + 1 snapshot)", got)
	}
	if input.Len() != 0 {
		t.Errorf("input.Len() = %d, want 0", input.Len())
	}
}

func TestBookWriter_HandleSnapshot(t *testing.T) {
	db := &fakeDB{}
	w := NewBookWriter(DefaultWriterConfig(), router.NewGrowableBuffer[router.BookMsg](10), db, nil)

	if err := w.HandleSnapshot(testBookMsg(true)); err != nil {
		t.Fatalf("HandleSnapshot() error = %v", err)
	}
	w.flush(context.Background())

	queries := db.queued()
	if len(queries) != 1 {
		t.Fatalf("queued = %d, want 1 snapshot only", len(queries))
	}
	if !strings.Contains(queries[0].SQL, "INSERT INTO book_snapshots") {
		t.Errorf("SQL = %s, want book_snapshots insert", queries[0].SQL)
	}

	m := w.Stats()
	if m.PolledSnapshots != 1 || m.SnapshotInserts != 1 || m.DeltaInserts != 0 {
		t.Errorf("metrics = %+v", m)
	}
}

// blockingDB holds the first batch until released, then fails it if its
// context was cancelled meanwhile.
type blockingDB struct {
	fakeDB
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingDB) SendBatch(ctx context.Context, batch *pgx.Batch) pgx.BatchResults {
	b.once.Do(func() { close(b.started) })
	<-b.release
	if err := ctx.Err(); err != nil {
		return &fakeResults{db: &fakeDB{err: err}}
	}
	return b.fakeDB.SendBatch(ctx, batch)
}

func TestBookWriter_InFlightFlushSurvivesShutdown(t *testing.T) {
	db := &blockingDB{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	cfg := WriterConfig{BatchSize: 100, FlushInterval: 10 * time.Millisecond}
	input := router.NewGrowableBuffer[router.BookMsg](10)
	w := NewBookWriter(cfg, input, db, nil)

	runCtx, cancelRun := context.WithCancel(context.Background())
	if err := w.Start(runCtx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	input.Send(testBookMsg(false))

	select {
	case <-db.started:
	case <-time.After(time.Second):
		t.Fatal("flush did not start")
	}

	// Shutdown arrives while the batch is on the wire.
	cancelRun()
	close(db.release)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	stats := w.Stats()
	if stats.DeltaErrors != 0 {
		t.Errorf("DeltaErrors = %d, want 0", stats.DeltaErrors)
	}
	if stats.DeltaInserts != 3 {
		t.Errorf("DeltaInserts = %d, want 3", stats.DeltaInserts)
	}
	if got := len(db.queued()); got != 3 {
		t.Errorf("queued = %d, want 3", got)
	}
}
