package router

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rickgao/deribit-data/internal/api"
	"github.com/rickgao/deribit-data/internal/channel"
	"github.com/rickgao/deribit-data/internal/connection"
)

// Router parses subscription notifications and routes them to Writers.
type Router interface {
	// Start begins routing notifications from the input channel.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the router.
	Stop(ctx context.Context) error

	// Done is closed when the input channel has closed or Stop was called.
	Done() <-chan struct{}

	// Buffers returns output buffers for writers to consume.
	Buffers() RouterBuffers

	// Stats returns current router statistics.
	Stats() RouterStats
}

// RouterBuffers provides access to output buffers for writers.
type RouterBuffers struct {
	Book *GrowableBuffer[BookMsg]
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived int64
	MessagesRouted   int64
	ParseErrors      int64
	UnknownMessages  int64
	ChangeGaps       int64
	Heartbeats       int64
	HeartbeatErrors  int64
	BookBuffer       BufferStats
}

// router is the internal implementation.
type router struct {
	cfg       RouterConfig
	logger    *slog.Logger
	responder Responder

	// Input from the subscription
	input <-chan connection.Notification

	// Output to Writers
	bookBuf *GrowableBuffer[BookMsg]

	// Last change_id per channel, owned by routeLoop
	lastChangeID map[string]int64

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	loopDone chan struct{}

	mu              sync.RWMutex
	received        int64
	routed          int64
	parseErrors     int64
	unknownMessages int64
	changeGaps      int64
	heartbeats      int64
	heartbeatErrors int64
}

// NewRouter creates a new Message Router. responder may be nil, in which
// case heartbeat test requests are only logged.
func NewRouter(cfg RouterConfig, input <-chan connection.Notification, responder Responder, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &router{
		cfg:          cfg,
		logger:       logger,
		responder:    responder,
		input:        input,
		bookBuf:      NewGrowableBuffer[BookMsg](cfg.BookBufferSize),
		lastChangeID: make(map[string]int64),
		loopDone:     make(chan struct{}),
	}
}

// Start begins routing messages.
func (r *router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("message router started",
		"book_buffer", r.cfg.BookBufferSize,
	)

	return nil
}

// Stop gracefully shuts down the router.
func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping message router")

	if r.cancel != nil {
		r.cancel()
	}

	// Wait for the loop and any in-flight heartbeat replies
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("message router stopped")
	case <-ctx.Done():
		r.logger.Warn("message router stop timed out")
	}

	r.bookBuf.Close()

	return nil
}

// Done is closed when routeLoop exits.
func (r *router) Done() <-chan struct{} {
	return r.loopDone
}

// Buffers returns output buffers for writers.
func (r *router) Buffers() RouterBuffers {
	return RouterBuffers{
		Book: r.bookBuf,
	}
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RouterStats{
		MessagesReceived: r.received,
		MessagesRouted:   r.routed,
		ParseErrors:      r.parseErrors,
		UnknownMessages:  r.unknownMessages,
		ChangeGaps:       r.changeGaps,
		Heartbeats:       r.heartbeats,
		HeartbeatErrors:  r.heartbeatErrors,
		BookBuffer:       r.bookBuf.Stats(),
	}
}

// routeLoop is the main routing goroutine.
func (r *router) routeLoop() {
	defer r.wg.Done()
	defer close(r.loopDone)

	for {
		select {
		case <-r.ctx.Done():
			return
		case note, ok := <-r.input:
			if !ok {
				r.logger.Info("subscription ended")
				return
			}
			r.route(note)
		}
	}
}

// route dispatches a single notification by method.
func (r *router) route(note connection.Notification) {
	r.count(&r.received)

	switch note.Method {
	case "subscription":
		r.routeSubscription(note)
	case "heartbeat":
		r.handleHeartbeat(note)
	default:
		r.logger.Debug("skipping notification", "method", note.Method)
		r.count(&r.unknownMessages)
	}
}

// routeSubscription parses channel data. Only book channels are routed.
func (r *router) routeSubscription(note connection.Notification) {
	name := note.Params.Channel
	if !channel.IsBookChannel(name) {
		r.logger.Debug("skipping channel", "channel", name)
		r.count(&r.unknownMessages)
		return
	}

	instrument, interval, err := channel.ParseBookChannel(name)
	if err != nil {
		r.logger.Warn("failed to parse channel name", "error", err)
		r.count(&r.parseErrors)
		return
	}

	book, err := channel.ParseBookMessage(note.Params.Data)
	if err != nil {
		r.logger.Warn("failed to parse book message", "channel", name, "error", err)
		r.count(&r.parseErrors)
		return
	}

	msg := BookMsg{
		Channel:    name,
		Instrument: instrument,
		Interval:   interval,
		ChangeID:   book.ChangeID,
		Snapshot:   book.IsSnapshot(),
		ExchangeTs: int64(book.Timestamp),
		ReceivedAt: note.ReceivedAt,
		Bids:       book.Bids,
		Asks:       book.Asks,
	}

	if book.PrevChangeID != nil {
		msg.PrevChangeID = *book.PrevChangeID
		if last, seen := r.lastChangeID[name]; seen && last != msg.PrevChangeID {
			msg.ChangeGap = true
			r.logger.Warn("change_id gap detected",
				"channel", name,
				"expected_prev", last,
				"prev_change_id", msg.PrevChangeID,
			)
			r.count(&r.changeGaps)
		}
	}
	r.lastChangeID[name] = book.ChangeID

	if r.bookBuf.Send(msg) {
		r.count(&r.routed)
	}
}

// handleHeartbeat answers test_request heartbeats. The reply is sent from its
// own goroutine: the router must keep draining the subscription while the
// call is in flight.
func (r *router) handleHeartbeat(note connection.Notification) {
	r.count(&r.heartbeats)

	if note.Params.Type != "test_request" {
		return
	}
	if r.responder == nil {
		r.logger.Warn("heartbeat test_request with no responder")
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(r.ctx, r.cfg.HeartbeatTimeout)
		defer cancel()

		if _, err := r.responder.Test(ctx, api.TestRequest{}); err != nil {
			r.logger.Warn("heartbeat reply failed", "error", err)
			r.count(&r.heartbeatErrors)
			return
		}
		r.logger.Debug("heartbeat answered")
	}()
}

func (r *router) count(n *int64) {
	r.mu.Lock()
	*n++
	r.mu.Unlock()
}
