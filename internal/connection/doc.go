// Package connection implements the Deribit JSON-RPC WebSocket connector.
//
// One connection carries:
//   - Concurrent request/response calls (RPCClient), correlated by integer id
//   - Unsolicited push notifications (Subscription), delivered in wire order
//
// A single multiplexer goroutine owns the receive side and the table of
// pending calls. Any decode error, unmatched response id, stalled subscriber
// or transport failure ends the connection and fails every pending call with
// ErrConnectionClosed. There is no reconnection; callers dial again.
package connection
