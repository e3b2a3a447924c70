package config

import (
	"time"

	"github.com/rickgao/deribit-data/internal/auth"
)

// Default values for optional configuration fields.
const (
	DefaultMainnetURL         = "wss://www.deribit.com/ws/api/v2"
	DefaultTestnetURL         = "wss://test.deribit.com/ws/api/v2"
	DefaultMaxRetries         = 3
	DefaultGrantType          = auth.GrantClientSignature
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultRegistrationBuffer = 10
	DefaultSubscriptionBuffer = 100
	DefaultPushTimeout        = 5 * time.Millisecond
	DefaultRateBurst          = 20
	DefaultBookInterval       = "100ms"
	DefaultHeartbeatInterval  = 30 * time.Second
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultBookBufferSize     = 5000
	DefaultHeartbeatTimeout   = 5 * time.Second
	DefaultBatchSize          = 1000
	DefaultFlushInterval      = 1 * time.Second
	DefaultPollInterval       = 15 * time.Minute
	DefaultPollConcurrency    = 5
	DefaultPollTimeout        = 10 * time.Second
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
)

func (c *GathererConfig) applyDefaults() {
	// Deribit defaults
	if c.Deribit.MainnetURL == "" {
		c.Deribit.MainnetURL = DefaultMainnetURL
	}
	if c.Deribit.TestnetURL == "" {
		c.Deribit.TestnetURL = DefaultTestnetURL
	}
	if c.Deribit.MaxRetries == nil {
		retries := DefaultMaxRetries
		c.Deribit.MaxRetries = &retries
	}
	if c.Deribit.GrantType == "" {
		c.Deribit.GrantType = DefaultGrantType
	}

	// Connection defaults
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.RegistrationBuffer == 0 {
		c.Connection.RegistrationBuffer = DefaultRegistrationBuffer
	}
	if c.Connection.SubscriptionBuffer == 0 {
		c.Connection.SubscriptionBuffer = DefaultSubscriptionBuffer
	}
	if c.Connection.PushTimeout == 0 {
		c.Connection.PushTimeout = DefaultPushTimeout
	}
	if c.Connection.RateLimit > 0 && c.Connection.RateBurst == 0 {
		c.Connection.RateBurst = DefaultRateBurst
	}

	// Subscription defaults
	if c.Subscriptions.Interval == "" {
		c.Subscriptions.Interval = DefaultBookInterval
	}
	if c.Subscriptions.HeartbeatInterval == 0 {
		c.Subscriptions.HeartbeatInterval = DefaultHeartbeatInterval
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}
	if c.Database.ApplicationName == "" {
		c.Database.ApplicationName = c.Instance.ID
	}

	// Router defaults
	if c.Router.BookBufferSize == 0 {
		c.Router.BookBufferSize = DefaultBookBufferSize
	}
	if c.Router.HeartbeatTimeout == 0 {
		c.Router.HeartbeatTimeout = DefaultHeartbeatTimeout
	}

	// Writers defaults
	if c.Writers.BatchSize == 0 {
		c.Writers.BatchSize = DefaultBatchSize
	}
	if c.Writers.FlushInterval == 0 {
		c.Writers.FlushInterval = DefaultFlushInterval
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
