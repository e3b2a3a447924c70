package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// RPCClient issues requests over a connection and waits for the correlated
// responses. It is safe for concurrent use; responses are routed by id, so
// they may arrive in any order.
type RPCClient struct {
	logger   *slog.Logger
	observer Observer
	limiter  *rate.Limiter // nil = unlimited

	writer        frameWriter
	registrations chan<- registration
	done          <-chan struct{}
	errFn         func() error

	nextID atomic.Int64

	// Guards registrations against a concurrent close.
	closeMu sync.RWMutex
	closed  bool
}

func newRPCClient(w frameWriter, registrations chan<- registration, m *mux, cfg Config, logger *slog.Logger) *RPCClient {
	c := &RPCClient{
		logger:        logger,
		observer:      cfg.Observer,
		writer:        w,
		registrations: registrations,
		done:          m.Done(),
		errFn:         m.Err,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

// Call sends method with params and waits for its response. The returned
// error is an *RPCError when the server rejected this call, or wraps
// ErrConnectionClosed when the connection ended first. Cancelling ctx stops
// the wait; the server is not told and a late response is discarded.
func (c *RPCClient) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	resp, err := c.CallResponse(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// CallResponse is Call, returning the whole response envelope including the
// server timestamps.
func (c *RPCClient) CallResponse(ctx context.Context, method string, params any) (*Response, error) {
	c.observer.CallStarted(method)

	resp, err := c.call(ctx, method, params)
	c.observer.CallFinished(method, err)
	return resp, err
}

func (c *RPCClient) call(ctx context.Context, method string, params any) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit %s: %w", method, err)
		}
	}

	id := c.nextID.Add(1)
	data, err := json.Marshal(Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	// Register before writing so the response cannot beat its waiter.
	waiter := make(chan result, 1)
	if err := c.register(ctx, registration{id: id, waiter: waiter}); err != nil {
		return nil, err
	}

	if err := c.writer.WriteText(data); err != nil {
		// A half-written frame leaves the stream unusable. Closing the
		// socket ends the read pump, which stops the multiplexer.
		c.writer.Close()
		select {
		case <-c.done:
		case <-ctx.Done():
		}
		return nil, fmt.Errorf("%w: send %s: %w", ErrConnectionClosed, method, err)
	}

	c.logger.Debug("request sent", "id", id, "method", method)

	select {
	case res := <-waiter:
		return res.unwrap()
	case <-c.done:
		// The multiplexer fails every waiter before it finishes.
		select {
		case res := <-waiter:
			return res.unwrap()
		default:
		}
		return nil, c.errFn()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// register hands the waiter to the multiplexer, blocking while the
// registration queue is full.
func (c *RPCClient) register(ctx context.Context, reg registration) error {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()

	if c.closed {
		return fmt.Errorf("%w: %w", ErrConnectionClosed, errClientClosed)
	}

	// A dead multiplexer can leave room in the queue, so check done first
	// or the send below may win and the request go out on a closed socket.
	select {
	case <-c.done:
		return c.errFn()
	default:
	}

	select {
	case c.registrations <- reg:
		return nil
	case <-c.done:
		return c.errFn()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the connection has ended.
func (c *RPCClient) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is up.
func (c *RPCClient) Err() error {
	return c.errFn()
}

// Close ends the connection: pending calls fail with ErrConnectionClosed and
// the subscription stream is closed. It waits for the multiplexer to stop.
func (c *RPCClient) Close() error {
	c.closeMu.Lock()
	if !c.closed {
		c.closed = true
		close(c.registrations)
	}
	c.closeMu.Unlock()

	<-c.done
	return nil
}
