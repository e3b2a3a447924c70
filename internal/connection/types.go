package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrConnectionClosed         = errors.New("connection closed")
	ErrDecode                   = errors.New("malformed frame")
	ErrUnmatchedResponse        = errors.New("response for unknown request id")
	ErrDuplicateID              = errors.New("request id already pending")
	ErrSubscriptionBackpressure = errors.New("subscription queue full")
	ErrInvalidEndpoint          = errors.New("invalid endpoint")
)

// errClientClosed is the termination cause after RPCClient.Close.
var errClientClosed = errors.New("rpc client closed")

// ClosedByClient reports whether err comes from RPCClient.Close rather than
// a connection failure.
func ClosedByClient(err error) bool {
	return errors.Is(err, errClientClosed)
}

// Fixed Deribit endpoints.
const (
	MainnetURL = "wss://www.deribit.com/ws/api/v2"
	TestnetURL = "wss://test.deribit.com/ws/api/v2"
)

// Request is an outbound JSON-RPC request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// RPCError is the error payload of a failed call. It only affects the call
// that carried its id.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Response is a correlated reply to a Request.
type Response struct {
	ID      int64
	Result  json.RawMessage
	Error   *RPCError
	UsIn    int64 // Server receive time (µs)
	UsOut   int64 // Server send time (µs)
	Testnet bool
}

// Notification is an unsolicited push message (no id).
type Notification struct {
	Method     string             `json:"method"` // "subscription" or "heartbeat"
	Params     NotificationParams `json:"params"`
	ReceivedAt time.Time          `json:"-"`
}

// NotificationParams carries the channel payload of a push message.
type NotificationParams struct {
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Type    string          `json:"type,omitempty"` // heartbeat only: "heartbeat" or "test_request"
}

// inboundWire is the union of every field an inbound frame may carry.
type inboundWire struct {
	ID      *int64             `json:"id"`
	Method  string             `json:"method"`
	Result  json.RawMessage    `json:"result"`
	Error   *RPCError          `json:"error"`
	Params  NotificationParams `json:"params"`
	UsIn    int64              `json:"usIn"`
	UsOut   int64              `json:"usOut"`
	Testnet bool               `json:"testnet"`
}

// decodeFrame decodes one text frame into exactly one of a Response or a
// Notification. Frames with an id are responses; frames without one must
// name a method.
func decodeFrame(data []byte, receivedAt time.Time) (*Response, *Notification, error) {
	var w inboundWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	if w.ID != nil {
		return &Response{
			ID:      *w.ID,
			Result:  w.Result,
			Error:   w.Error,
			UsIn:    w.UsIn,
			UsOut:   w.UsOut,
			Testnet: w.Testnet,
		}, nil, nil
	}

	if w.Method == "" {
		return nil, nil, fmt.Errorf("%w: neither id nor method present", ErrDecode)
	}

	return nil, &Notification{
		Method:     w.Method,
		Params:     w.Params,
		ReceivedAt: receivedAt,
	}, nil
}

// Endpoints are the two fixed addresses a connection can target.
type Endpoints struct {
	Mainnet string
	Testnet string
}

// DefaultEndpoints returns the public Deribit endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Mainnet: MainnetURL,
		Testnet: TestnetURL,
	}
}

// Config configures Connect.
type Config struct {
	Testnet            bool          // Select Endpoints.Testnet instead of Endpoints.Mainnet
	Endpoints          Endpoints     // Empty fields fall back to DefaultEndpoints
	HandshakeTimeout   time.Duration // WebSocket handshake deadline
	WriteTimeout       time.Duration // Write deadline for request frames
	RegistrationBuffer int           // Capacity of the waiter registration queue
	SubscriptionBuffer int           // Capacity of the push event queue
	PushTimeout        time.Duration // Max wait on a full push queue before the connection fails
	RateLimit          float64       // Requests per second (0 = unlimited)
	RateBurst          int           // Burst for RateLimit
	Observer           Observer      // Optional instrumentation (nil = none)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Endpoints:          DefaultEndpoints(),
		HandshakeTimeout:   10 * time.Second,
		WriteTimeout:       5 * time.Second,
		RegistrationBuffer: 10,
		SubscriptionBuffer: 100,
		PushTimeout:        5 * time.Millisecond,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Endpoints.Mainnet == "" {
		c.Endpoints.Mainnet = d.Endpoints.Mainnet
	}
	if c.Endpoints.Testnet == "" {
		c.Endpoints.Testnet = d.Endpoints.Testnet
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.RegistrationBuffer < 1 {
		c.RegistrationBuffer = d.RegistrationBuffer
	}
	if c.SubscriptionBuffer < 1 {
		c.SubscriptionBuffer = d.SubscriptionBuffer
	}
	if c.PushTimeout == 0 {
		c.PushTimeout = d.PushTimeout
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	return c
}

// URL returns the endpoint selected by Testnet.
func (c Config) URL() string {
	if c.Testnet {
		return c.Endpoints.Testnet
	}
	return c.Endpoints.Mainnet
}

// Observer receives connection events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	FrameReceived(kind string) // "response", "notification", "binary"
	PushDelivered(method string)
	PendingWaiters(n int)
	CallStarted(method string)
	CallFinished(method string, err error) // Every started call finishes exactly once
	Terminated(cause error)
}

type nopObserver struct{}

func (nopObserver) FrameReceived(string) {}
func (nopObserver) PushDelivered(string) {}
func (nopObserver) PendingWaiters(int) {}
func (nopObserver) CallStarted(string) {}
func (nopObserver) CallFinished(string, error) {}
func (nopObserver) Terminated(error) {}
