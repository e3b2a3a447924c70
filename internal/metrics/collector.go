package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/deribit-data/internal/connection"
)

// Namespace prefixes every metric name.
const Namespace = "deribit"

// Collector records connection events. It satisfies connection.Observer.
type Collector struct {
	frames       *prometheus.CounterVec
	pushes       *prometheus.CounterVec
	started      *prometheus.CounterVec
	calls        *prometheus.CounterVec
	terminations *prometheus.CounterVec
	pending      prometheus.Gauge
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "connection",
			Name:      "frames_received_total",
			Help:      "Counter of inbound frames by kind.",
		}, []string{"kind"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "connection",
			Name:      "push_delivered_total",
			Help:      "Counter of server notifications handed to the subscriber.",
		}, []string{"method"}),
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "connection",
			Name:      "calls_started_total",
			Help:      "Counter of RPC calls issued by method.",
		}, []string{"method"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "connection",
			Name:      "calls_total",
			Help:      "Counter of finished RPC calls by method and outcome.",
		}, []string{"method", "outcome"}),
		terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "connection",
			Name:      "terminations_total",
			Help:      "Counter of connection shutdowns by reason.",
		}, []string{"reason"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "connection",
			Name:      "pending_waiters",
			Help:      "Gauge of requests awaiting a response.",
		}),
	}

	for _, m := range []prometheus.Collector{c.frames, c.pushes, c.started, c.calls, c.terminations, c.pending} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) FrameReceived(kind string) {
	c.frames.WithLabelValues(kind).Inc()
}

func (c *Collector) PushDelivered(method string) {
	c.pushes.WithLabelValues(method).Inc()
}

func (c *Collector) PendingWaiters(n int) {
	c.pending.Set(float64(n))
}

func (c *Collector) CallStarted(method string) {
	c.started.WithLabelValues(method).Inc()
}

func (c *Collector) CallFinished(method string, err error) {
	c.calls.WithLabelValues(method, callOutcome(err)).Inc()
}

func (c *Collector) Terminated(cause error) {
	c.terminations.WithLabelValues(terminationReason(cause)).Inc()
}

var _ connection.Observer = (*Collector)(nil)

func callOutcome(err error) string {
	var rpcErr *connection.RPCError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &rpcErr):
		return "rpc_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, connection.ErrConnectionClosed):
		return "closed"
	default:
		return "error"
	}
}

func terminationReason(cause error) string {
	switch {
	case connection.ClosedByClient(cause):
		return "client_closed"
	case errors.Is(cause, connection.ErrDecode):
		return "decode"
	case errors.Is(cause, connection.ErrUnmatchedResponse):
		return "unmatched_response"
	case errors.Is(cause, connection.ErrDuplicateID):
		return "duplicate_id"
	case errors.Is(cause, connection.ErrSubscriptionBackpressure):
		return "backpressure"
	default:
		return "transport"
	}
}
