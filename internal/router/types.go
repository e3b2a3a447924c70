package router

import (
	"context"
	"time"

	"github.com/rickgao/deribit-data/internal/api"
	"github.com/rickgao/deribit-data/internal/channel"
)

// RouterConfig holds configuration for the Message Router.
type RouterConfig struct {
	BookBufferSize   int           // Default: 5000
	HeartbeatTimeout time.Duration // Deadline for answering a test_request. Default: 5s
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		BookBufferSize:   5000,
		HeartbeatTimeout: 5 * time.Second,
	}
}

// Responder answers server heartbeat test requests. *api.Client satisfies it.
type Responder interface {
	Test(ctx context.Context, req api.TestRequest) (*api.TestResponse, error)
}

// BookMsg is one parsed order book notification.
type BookMsg struct {
	Channel    string
	Instrument string
	Interval   string

	ChangeID     int64
	PrevChangeID int64 // 0 for snapshots
	Snapshot     bool

	ExchangeTs int64 // Milliseconds
	ReceivedAt time.Time

	// ChangeGap is set when PrevChangeID does not match the last ChangeID
	// seen on this channel: at least one update was lost.
	ChangeGap bool

	Bids []channel.BookDelta
	Asks []channel.BookDelta
}
