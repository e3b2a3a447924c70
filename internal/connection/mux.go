package connection

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// result completes a single call.
type result struct {
	resp *Response
	err  error
}

func (r result) unwrap() (*Response, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.resp, nil
}

// registration asks the multiplexer to route the response for id to waiter.
type registration struct {
	id     int64
	waiter chan<- result // cap 1, written at most once
}

// mux is the only reader of a connection. It owns the waiter registry and is
// the only writer to the subscription queue; the registry is never touched by
// any other goroutine.
type mux struct {
	logger      *slog.Logger
	observer    Observer
	pushTimeout time.Duration

	frames        <-chan frame
	registrations <-chan registration
	events        chan<- Notification
	closer        io.Closer

	waiters map[int64]chan<- result

	done chan struct{}
	err  error // Set before done is closed
}

func newMux(
	frames <-chan frame,
	registrations <-chan registration,
	events chan<- Notification,
	closer io.Closer,
	cfg Config,
	logger *slog.Logger,
) *mux {
	return &mux{
		logger:        logger,
		observer:      cfg.Observer,
		pushTimeout:   cfg.PushTimeout,
		frames:        frames,
		registrations: registrations,
		events:        events,
		closer:        closer,
		waiters:       make(map[int64]chan<- result),
		done:          make(chan struct{}),
	}
}

// Done is closed once the multiplexer has stopped.
func (m *mux) Done() <-chan struct{} {
	return m.done
}

// Err returns the termination error, or nil while running. It always wraps
// ErrConnectionClosed.
func (m *mux) Err() error {
	select {
	case <-m.done:
		return m.err
	default:
		return nil
	}
}

// run is the multiplexer goroutine.
func (m *mux) run() {
	m.shutdown(m.loop())
}

func (m *mux) loop() error {
	for {
		select {
		case f := <-m.frames:
			// A caller enqueues its registration before writing the request,
			// so anything it can be answering is already queued here.
			closed, err := m.drainRegistrations()
			if err != nil {
				return err
			}
			if err := m.handleFrame(f); err != nil {
				return err
			}
			if closed {
				return errClientClosed
			}

		case reg, ok := <-m.registrations:
			if !ok {
				return errClientClosed
			}
			if err := m.register(reg); err != nil {
				return err
			}
		}
	}
}

// drainRegistrations applies every queued registration without blocking.
func (m *mux) drainRegistrations() (closed bool, err error) {
	for {
		select {
		case reg, ok := <-m.registrations:
			if !ok {
				return true, nil
			}
			if err := m.register(reg); err != nil {
				return false, err
			}
		default:
			return false, nil
		}
	}
}

func (m *mux) register(reg registration) error {
	if _, exists := m.waiters[reg.id]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateID, reg.id)
	}
	m.waiters[reg.id] = reg.waiter
	m.observer.PendingWaiters(len(m.waiters))
	return nil
}

func (m *mux) handleFrame(f frame) error {
	if f.err != nil {
		return fmt.Errorf("read frame: %w", f.err)
	}

	switch f.messageType {
	case websocket.TextMessage:
		resp, note, err := decodeFrame(f.data, f.receivedAt)
		if err != nil {
			m.logger.Error("cannot decode frame", "error", err, "bytes", len(f.data))
			return err
		}
		if resp != nil {
			m.observer.FrameReceived("response")
			return m.fulfill(resp)
		}
		m.observer.FrameReceived("notification")
		return m.push(note)

	default:
		m.observer.FrameReceived("binary")
		m.logger.Debug("ignoring non-text frame", "type", f.messageType, "bytes", len(f.data))
		return nil
	}
}

// fulfill hands a response to its waiter. The waiter is buffered, so a caller
// that stopped waiting never blocks the loop.
func (m *mux) fulfill(resp *Response) error {
	waiter, ok := m.waiters[resp.ID]
	if !ok {
		m.logger.Error("response without pending request", "id", resp.ID)
		return fmt.Errorf("%w: %d", ErrUnmatchedResponse, resp.ID)
	}
	delete(m.waiters, resp.ID)
	m.observer.PendingWaiters(len(m.waiters))

	res := result{resp: resp}
	if resp.Error != nil {
		res = result{err: resp.Error}
	}

	select {
	case waiter <- res:
	default:
	}
	return nil
}

// push forwards a notification, waiting at most pushTimeout for room.
func (m *mux) push(note *Notification) error {
	select {
	case m.events <- *note:
		m.observer.PushDelivered(note.Method)
		return nil
	default:
	}

	timer := time.NewTimer(m.pushTimeout)
	defer timer.Stop()

	select {
	case m.events <- *note:
		m.observer.PushDelivered(note.Method)
		return nil
	case <-timer.C:
		m.logger.Error("subscriber stalled, dropping connection",
			"channel", note.Params.Channel,
			"timeout", m.pushTimeout,
		)
		return fmt.Errorf("%w: blocked for %v", ErrSubscriptionBackpressure, m.pushTimeout)
	}
}

// shutdown closes the transport and releases everyone still waiting.
func (m *mux) shutdown(cause error) {
	if err := m.closer.Close(); err != nil {
		m.logger.Debug("close transport", "error", err)
	}

	err := fmt.Errorf("%w: %w", ErrConnectionClosed, cause)
	if errors.Is(cause, errClientClosed) {
		m.logger.Info("connection closed by client", "pending", len(m.waiters))
	} else {
		m.logger.Error("connection terminated", "error", cause, "pending", len(m.waiters))
	}

	m.err = err
	close(m.done)

	for id, waiter := range m.waiters {
		select {
		case waiter <- result{err: err}:
		default:
		}
		delete(m.waiters, id)
	}
	m.observer.PendingWaiters(0)

	close(m.events)
	m.observer.Terminated(cause)
}
