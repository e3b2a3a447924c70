package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/deribit-data/internal/api"
	"github.com/rickgao/deribit-data/internal/channel"
	"github.com/rickgao/deribit-data/internal/router"
)

// BookFetcher fetches a full order book. *api.Client satisfies it.
type BookFetcher interface {
	GetOrderBook(ctx context.Context, instrument string, depth int) (*api.OrderBook, error)
}

// SnapshotHandler receives fetched snapshots.
type SnapshotHandler interface {
	HandleSnapshot(snapshot router.BookMsg) error
}

// SnapshotHandlerFunc is a function adapter for SnapshotHandler.
type SnapshotHandlerFunc func(router.BookMsg) error

func (f SnapshotHandlerFunc) HandleSnapshot(s router.BookMsg) error {
	return f(s)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 15m)
	Concurrency int           // Max concurrent requests (default: 5)
	Timeout     time.Duration // Per-request timeout (default: 10s)
	Depth       int           // Levels per side, 0 = server default
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    15 * time.Minute,
		Concurrency: 5,
		Timeout:     10 * time.Second,
	}
}

// Stats counts poll outcomes.
type Stats struct {
	Cycles  int64
	Fetched int64
	Errors  int64
}

// Poller periodically fetches order book snapshots over the RPC connection.
type Poller struct {
	cfg         Config
	client      BookFetcher
	instruments []string
	handler     SnapshotHandler
	logger      *slog.Logger

	cycles  atomic.Int64
	fetched atomic.Int64
	errors  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, client BookFetcher, instruments []string, handler SnapshotHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Poller{
		cfg:         cfg,
		client:      client,
		instruments: instruments,
		handler:     handler,
		logger:      logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("snapshot poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
		"instruments", len(p.instruments),
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("snapshot poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns poll counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Cycles:  p.cycles.Load(),
		Fetched: p.fetched.Load(),
		Errors:  p.errors.Load(),
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.pollAll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

// pollAll fetches every instrument's book with bounded concurrency.
func (p *Poller) pollAll() {
	start := time.Now()
	p.cycles.Add(1)

	if len(p.instruments) == 0 {
		p.logger.Debug("no instruments to poll")
		return
	}

	var fetched, failed atomic.Int64

	g, ctx := errgroup.WithContext(p.ctx)
	g.SetLimit(p.cfg.Concurrency)

	for _, instrument := range p.instruments {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := p.pollInstrument(ctx, instrument); err != nil {
				p.logger.Warn("failed to poll instrument",
					"instrument", instrument,
					"err", err,
				)
				failed.Add(1)
				return nil
			}
			fetched.Add(1)
			return nil
		})
	}

	g.Wait()

	p.fetched.Add(fetched.Load())
	p.errors.Add(failed.Load())

	p.logger.Info("poll cycle complete",
		"instruments", len(p.instruments),
		"fetched", fetched.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
}

// pollInstrument fetches and handles a single instrument's book.
func (p *Poller) pollInstrument(ctx context.Context, instrument string) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	book, err := p.client.GetOrderBook(ctx, instrument, p.cfg.Depth)
	if err != nil {
		return err
	}

	if p.handler != nil {
		return p.handler.HandleSnapshot(toBookMsg(book, time.Now()))
	}
	return nil
}

// toBookMsg converts a fetched book to the snapshot form the writer stores.
func toBookMsg(book *api.OrderBook, receivedAt time.Time) router.BookMsg {
	return router.BookMsg{
		Instrument: book.InstrumentName,
		ChangeID:   book.ChangeID,
		Snapshot:   true,
		ExchangeTs: book.Timestamp,
		ReceivedAt: receivedAt,
		Bids:       toLevels(book.Bids),
		Asks:       toLevels(book.Asks),
	}
}

func toLevels(levels [][2]float64) []channel.BookDelta {
	out := make([]channel.BookDelta, 0, len(levels))
	for _, l := range levels {
		out = append(out, channel.BookDelta{Action: channel.ActionNew, Price: l[0], Amount: l[1]})
	}
	return out
}
