package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/rickgao/deribit-data/internal/connection"
)

// Deribit error codes that are safe to retry.
const (
	codeTooManyRequests = 10028
	codeRetry           = 10040
	codeTimedOut        = 13888
)

// Caller issues a single JSON-RPC call. *connection.RPCClient satisfies it.
type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Client provides typed access to the Deribit JSON-RPC API.
type Client struct {
	caller Caller
	logger *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new API client over caller.
func NewClient(caller Caller, opts ...ClientOption) *Client {
	c := &Client{
		caller:       caller,
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithRetries sets the retry configuration for rate-limited calls.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// IsRetryable reports whether err is a server rejection worth retrying.
// Connection failures are never retryable; the connection is gone.
func IsRetryable(err error) bool {
	var rpcErr *connection.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	switch rpcErr.Code {
	case codeTooManyRequests, codeRetry, codeTimedOut:
		return true
	}
	return false
}

// callWithRetry performs a call with exponential backoff on retryable errors.
func (c *Client) callWithRetry(ctx context.Context, method string, params any) (json.RawMessage, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			c.logger.Debug("retrying call",
				"attempt", attempt,
				"backoff", jitter,
				"method", method,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		raw, err := c.caller.Call(ctx, method, params)
		if err == nil {
			return raw, nil
		}

		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// call performs method and decodes the result into result (if non-nil).
func (c *Client) call(ctx context.Context, method string, params, result any) error {
	raw, err := c.callWithRetry(ctx, method, params)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("%s: unmarshal response: %w", method, err)
	}

	return nil
}
