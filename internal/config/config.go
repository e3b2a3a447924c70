package config

import "time"

// GathererConfig is the root configuration for a gatherer instance.
type GathererConfig struct {
	Instance      InstanceConfig      `yaml:"instance"`
	Deribit       DeribitConfig       `yaml:"deribit"`
	Connection    ConnectionConfig    `yaml:"connection"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
	Database      DBConfig            `yaml:"database"`
	Router        RouterConfig        `yaml:"router"`
	Writers       WritersConfig       `yaml:"writers"`
	Poller        PollerConfig        `yaml:"poller"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// InstanceConfig identifies this gatherer.
type InstanceConfig struct {
	ID string `yaml:"id"`
	AZ string `yaml:"az"`
}

// DeribitConfig holds Deribit API settings.
type DeribitConfig struct {
	Testnet          bool   `yaml:"testnet"`
	MainnetURL       string `yaml:"mainnet_url"`
	TestnetURL       string `yaml:"testnet_url"`
	ClientID         string `yaml:"client_id"`
	ClientSecret     string `yaml:"client_secret"`
	ClientSecretPath string `yaml:"client_secret_path"` // Read when client_secret is empty
	GrantType        string `yaml:"grant_type"`         // client_signature or client_credentials
	MaxRetries       *int   `yaml:"max_retries"`        // nil = default, 0 = no retries
}

// Retries returns the configured retry count, or the default when unset.
func (d DeribitConfig) Retries() int {
	if d.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *d.MaxRetries
}

// HasCredentials reports whether public/auth should be called.
func (d DeribitConfig) HasCredentials() bool {
	return d.ClientID != "" && (d.ClientSecret != "" || d.ClientSecretPath != "")
}

// ConnectionConfig holds WebSocket multiplexer settings.
type ConnectionConfig struct {
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	RegistrationBuffer int           `yaml:"registration_buffer"`
	SubscriptionBuffer int           `yaml:"subscription_buffer"`
	PushTimeout        time.Duration `yaml:"push_timeout"`
	RateLimit          float64       `yaml:"rate_limit"` // Requests per second, 0 = unlimited
	RateBurst          int           `yaml:"rate_burst"`
}

// SubscriptionsConfig selects the order book channels to record.
type SubscriptionsConfig struct {
	Instruments       []string      `yaml:"instruments"`
	Interval          string        `yaml:"interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`

	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ApplicationName string        `yaml:"application_name"` // Defaults to instance.id
}

// RouterConfig holds message router settings.
type RouterConfig struct {
	BookBufferSize   int           `yaml:"book_buffer_size"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
}

// WritersConfig holds batch writer settings.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// PollerConfig holds snapshot poller settings.
type PollerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
	Depth       int           `yaml:"depth"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
