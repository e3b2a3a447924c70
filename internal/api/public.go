package api

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MinHeartbeatInterval is the shortest interval the server accepts.
const MinHeartbeatInterval = 10 * time.Second

// ErrHeartbeatInterval is returned by SetHeartbeat before any call is made.
var ErrHeartbeatInterval = errors.New("heartbeat interval below 10s")

// GetTime returns the server time in milliseconds since the Unix epoch.
func (c *Client) GetTime(ctx context.Context) (int64, error) {
	var ms int64
	if err := c.call(ctx, "public/get_time", nil, &ms); err != nil {
		return 0, err
	}
	return ms, nil
}

// Hello introduces the client to the server.
func (c *Client) Hello(ctx context.Context, req HelloRequest) (*HelloResponse, error) {
	var resp HelloResponse
	if err := c.call(ctx, "public/hello", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Test checks the connection. It is also the required answer to a
// heartbeat test_request.
func (c *Client) Test(ctx context.Context, req TestRequest) (*TestResponse, error) {
	var resp TestResponse
	if err := c.call(ctx, "public/test", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Subscribe subscribes to channels and returns the ones the server accepted.
func (c *Client) Subscribe(ctx context.Context, channels []string) ([]string, error) {
	var subscribed []string
	if err := c.call(ctx, "public/subscribe", channelsParams{Channels: channels}, &subscribed); err != nil {
		return nil, err
	}

	if len(subscribed) != len(channels) {
		c.logger.Warn("partial subscription",
			"requested", len(channels),
			"subscribed", len(subscribed),
		)
	}

	return subscribed, nil
}

// Unsubscribe removes channels and returns the ones still subscribed.
func (c *Client) Unsubscribe(ctx context.Context, channels []string) ([]string, error) {
	var remaining []string
	if err := c.call(ctx, "public/unsubscribe", channelsParams{Channels: channels}, &remaining); err != nil {
		return nil, err
	}
	return remaining, nil
}

// SetHeartbeat asks the server to send heartbeats every interval. The server
// follows each missed reply with a test_request; unanswered, it closes the
// connection.
func (c *Client) SetHeartbeat(ctx context.Context, interval time.Duration) error {
	if interval < MinHeartbeatInterval {
		return fmt.Errorf("public/set_heartbeat: %w: %v", ErrHeartbeatInterval, interval)
	}
	params := heartbeatParams{Interval: int(interval / time.Second)}
	return c.call(ctx, "public/set_heartbeat", params, nil)
}

// DisableHeartbeat stops server heartbeats.
func (c *Client) DisableHeartbeat(ctx context.Context) error {
	return c.call(ctx, "public/disable_heartbeat", nil, nil)
}

// Auth authenticates the connection. params is usually built by the auth
// package.
func (c *Client) Auth(ctx context.Context, params any) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.call(ctx, "public/auth", params, &resp); err != nil {
		return nil, err
	}

	c.logger.Info("authenticated",
		"scope", resp.Scope,
		"expires_in", resp.ExpiresIn,
	)

	return &resp, nil
}
