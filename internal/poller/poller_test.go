package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/deribit-data/internal/api"
	"github.com/rickgao/deribit-data/internal/channel"
	"github.com/rickgao/deribit-data/internal/router"
)

// fakeFetcher serves fixed books and can fail or slow down requests.
type fakeFetcher struct {
	delay time.Duration
	fail  map[string]bool

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	mu     sync.Mutex
	depths []int
}

func (f *fakeFetcher) GetOrderBook(ctx context.Context, instrument string, depth int) (*api.OrderBook, error) {
	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)

	// Track max concurrent requests.
	for {
		old := f.maxInFlight.Load()
		if current <= old || f.maxInFlight.CompareAndSwap(old, current) {
			break
		}
	}

	f.mu.Lock()
	f.depths = append(f.depths, depth)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.fail[instrument] {
		return nil, fmt.Errorf("public/get_order_book: %w", &errInstrument{instrument})
	}

	return &api.OrderBook{
		InstrumentName: instrument,
		Timestamp:      1550757626706,
		ChangeID:       474988,
		Bids:           [][2]float64{{3955.75, 30}, {3940.75, 102020}},
		Asks:           [][2]float64{{3956.25, 10}},
	}, nil
}

type errInstrument struct{ name string }

func (e *errInstrument) Error() string { return "instrument not found: " + e.name }

func TestPoller_PollAll(t *testing.T) {
	fetcher := &fakeFetcher{fail: map[string]bool{"BAD-INSTRUMENT": true}}

	var mu sync.Mutex
	var snapshots []router.BookMsg
	handler := SnapshotHandlerFunc(func(s router.BookMsg) error {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, s)
		return nil
	})

	cfg := Config{
		Interval:    time.Hour, // Long interval, we'll trigger manually.
		Concurrency: 10,
		Timeout:     5 * time.Second,
		Depth:       20,
	}

	p := New(cfg, fetcher, []string{"BTC-PERPETUAL", "ETH-PERPETUAL", "BAD-INSTRUMENT"}, handler, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p.ctx = ctx

	p.pollAll()

	if len(snapshots) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snapshots))
	}

	stats := p.Stats()
	if stats.Cycles != 1 || stats.Fetched != 2 || stats.Errors != 1 {
		t.Errorf("Stats() = %+v, want {1 2 1}", stats)
	}

	for _, d := range fetcher.depths {
		if d != 20 {
			t.Errorf("depth = %d, want 20", d)
		}
	}
}

func TestToBookMsg(t *testing.T) {
	book := &api.OrderBook{
		InstrumentName: "BTC-PERPETUAL",
		Timestamp:      1550757626706,
		ChangeID:       474988,
		Bids:           [][2]float64{{3955.75, 30}},
		Asks:           [][2]float64{{3956.25, 10}, {3957, 5}},
	}
	received := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	msg := toBookMsg(book, received)

	if !msg.Snapshot {
		t.Error("Snapshot = false, want true")
	}
	if msg.Instrument != "BTC-PERPETUAL" || msg.ChangeID != 474988 || msg.ExchangeTs != 1550757626706 {
		t.Errorf("msg = %+v", msg)
	}
	if !msg.ReceivedAt.Equal(received) {
		t.Errorf("ReceivedAt = %v, want %v", msg.ReceivedAt, received)
	}
	if len(msg.Asks) != 2 || msg.Asks[1] != (channel.BookDelta{Action: channel.ActionNew, Price: 3957, Amount: 5}) {
		t.Errorf("Asks = %+v", msg.Asks)
	}
	if len(msg.Bids) != 1 || msg.Bids[0].Price != 3955.75 {
		t.Errorf("Bids = %+v", msg.Bids)
	}
}

func TestPoller_HandlerError(t *testing.T) {
	handler := SnapshotHandlerFunc(func(s router.BookMsg) error {
		return errors.New("buffer closed")
	})

	p := New(Config{Interval: time.Hour, Concurrency: 1, Timeout: time.Second}, &fakeFetcher{}, []string{"BTC-PERPETUAL"}, handler, nil)
	p.ctx = context.Background()

	p.pollAll()

	if got := p.Stats().Errors; got != 1 {
		t.Errorf("Errors = %d, want 1", got)
	}
}

func TestPoller_StartStop(t *testing.T) {
	var called atomic.Bool
	handler := SnapshotHandlerFunc(func(s router.BookMsg) error {
		called.Store(true)
		return nil
	})

	cfg := Config{
		Interval:    100 * time.Millisecond,
		Concurrency: 10,
		Timeout:     5 * time.Second,
	}

	p := New(cfg, &fakeFetcher{}, []string{"BTC-PERPETUAL"}, handler, nil)

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Wait for at least one poll.
	time.Sleep(150 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if !called.Load() {
		t.Error("handler was never called")
	}
	if p.Stats().Cycles < 1 {
		t.Error("no poll cycle recorded")
	}
}

func TestPoller_StopCancelsInFlight(t *testing.T) {
	fetcher := &fakeFetcher{delay: time.Hour}
	p := New(Config{Interval: time.Hour, Concurrency: 1, Timeout: time.Hour}, fetcher, []string{"BTC-PERPETUAL"}, nil, nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestPoller_Concurrency(t *testing.T) {
	fetcher := &fakeFetcher{delay: 50 * time.Millisecond}

	// Create 20 instruments.
	var instruments []string
	for i := 0; i < 20; i++ {
		instruments = append(instruments, fmt.Sprintf("BTC-%d", i))
	}

	cfg := Config{
		Interval:    time.Hour,
		Concurrency: 5, // Limit to 5 concurrent.
		Timeout:     5 * time.Second,
	}

	p := New(cfg, fetcher, instruments, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	p.ctx = ctx

	p.pollAll()

	if got := fetcher.maxInFlight.Load(); got > 5 {
		t.Errorf("maxInFlight = %d, want <= 5", got)
	}
	if got := p.Stats().Fetched; got != 20 {
		t.Errorf("Fetched = %d, want 20", got)
	}
}
