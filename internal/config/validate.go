package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rickgao/deribit-data/internal/auth"
)

// Validate checks that all required fields are set and values are valid.
func (c *GathererConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := validateEndpoint("deribit.mainnet_url", c.Deribit.MainnetURL); err != nil {
		return err
	}
	if err := validateEndpoint("deribit.testnet_url", c.Deribit.TestnetURL); err != nil {
		return err
	}
	if c.Deribit.ClientID != "" && c.Deribit.ClientSecret == "" {
		return errors.New("deribit.client_secret is required when client_id is set")
	}
	switch c.Deribit.GrantType {
	case auth.GrantClientSignature, auth.GrantClientCredentials:
	default:
		return fmt.Errorf("deribit.grant_type must be %s or %s, got %q",
			auth.GrantClientSignature, auth.GrantClientCredentials, c.Deribit.GrantType)
	}
	if c.Deribit.Retries() < 0 {
		return errors.New("deribit.max_retries must be >= 0")
	}

	if c.Connection.RegistrationBuffer < 1 {
		return errors.New("connection.registration_buffer must be >= 1")
	}
	if c.Connection.SubscriptionBuffer < 1 {
		return errors.New("connection.subscription_buffer must be >= 1")
	}
	if c.Connection.PushTimeout <= 0 {
		return errors.New("connection.push_timeout must be > 0")
	}
	if c.Connection.RateLimit < 0 {
		return errors.New("connection.rate_limit must be >= 0")
	}

	if len(c.Subscriptions.Instruments) == 0 {
		return errors.New("subscriptions.instruments must not be empty")
	}
	if c.Subscriptions.HeartbeatInterval < 10*time.Second {
		return fmt.Errorf("subscriptions.heartbeat_interval must be >= 10s, got %v", c.Subscriptions.HeartbeatInterval)
	}

	if err := c.Database.validate("database"); err != nil {
		return err
	}

	if c.Router.BookBufferSize < 1 {
		return errors.New("router.book_buffer_size must be >= 1")
	}

	if c.Writers.BatchSize < 1 {
		return errors.New("writers.batch_size must be >= 1")
	}
	if c.Writers.FlushInterval <= 0 {
		return errors.New("writers.flush_interval must be > 0")
	}

	if c.Poller.Enabled {
		if c.Poller.Interval <= 0 {
			return errors.New("poller.interval must be > 0")
		}
		if c.Poller.Concurrency < 1 {
			return errors.New("poller.concurrency must be >= 1")
		}
		if c.Poller.Depth < 0 {
			return errors.New("poller.depth must be >= 0")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func validateEndpoint(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%s must be a ws:// or wss:// URL, got %q", field, raw)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
