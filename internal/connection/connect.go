package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/uuid"
)

// Connect dials the endpoint selected by cfg.Testnet and starts the
// multiplexer. The multiplexer outlives ctx, which only bounds the handshake;
// the connection ends on a fatal error or RPCClient.Close.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*RPCClient, *Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	endpoint := cfg.URL()
	if err := validateEndpoint(endpoint); err != nil {
		return nil, nil, err
	}

	logger = logger.With("session", uuid.NewString())
	logger.Info("connecting", "url", endpoint, "testnet", cfg.Testnet)

	t, err := dial(ctx, endpoint, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	frames := make(chan frame)
	registrations := make(chan registration, cfg.RegistrationBuffer)
	events := make(chan Notification, cfg.SubscriptionBuffer)

	m := newMux(frames, registrations, events, t, cfg, logger)
	go t.readPump(frames, m.Done())
	go m.run()

	client := newRPCClient(t, registrations, m, cfg, logger)
	sub := &Subscription{
		events: events,
		done:   m.Done(),
		errFn:  m.Err,
	}

	return client, sub, nil
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidEndpoint, endpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: %q: scheme must be ws or wss", ErrInvalidEndpoint, endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %q: missing host", ErrInvalidEndpoint, endpoint)
	}
	return nil
}
