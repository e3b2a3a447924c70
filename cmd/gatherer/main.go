package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/deribit-data/internal/api"
	"github.com/rickgao/deribit-data/internal/auth"
	"github.com/rickgao/deribit-data/internal/channel"
	"github.com/rickgao/deribit-data/internal/config"
	"github.com/rickgao/deribit-data/internal/connection"
	"github.com/rickgao/deribit-data/internal/database"
	"github.com/rickgao/deribit-data/internal/metrics"
	"github.com/rickgao/deribit-data/internal/poller"
	"github.com/rickgao/deribit-data/internal/router"
	"github.com/rickgao/deribit-data/internal/version"
	"github.com/rickgao/deribit-data/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/gatherer.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting gatherer",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"testnet", cfg.Deribit.Testnet,
		"instruments", len(cfg.Subscriptions.Instruments),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("gatherer failed", "error", err)
		os.Exit(1)
	}

	logger.Info("gatherer stopped")
}

// run wires the pipeline and blocks until ctx is cancelled or the
// connection dies. A dead connection is returned as an error so the process
// supervisor restarts the gatherer.
func run(ctx context.Context, cfg *config.GathererConfig, logger *slog.Logger) error {
	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := database.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	logger.Info("database connected")

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		return err
	}

	// Connect to Deribit
	rpc, sub, err := connection.Connect(ctx, connectionConfig(cfg, collector), logger)
	if err != nil {
		return err
	}
	defer rpc.Close()

	client := api.NewClient(rpc,
		api.WithLogger(logger),
		api.WithRetries(cfg.Deribit.Retries(), time.Second),
	)

	hello, err := client.Hello(ctx, api.HelloRequest{
		ClientName:    "deribit-data",
		ClientVersion: version.Version,
	})
	if err != nil {
		return err
	}
	logger.Info("connected to deribit", "api_version", hello.Version)

	if err := verifyNetwork(ctx, rpc, cfg.Deribit.Testnet, logger); err != nil {
		return err
	}

	if cfg.Deribit.HasCredentials() {
		creds, err := auth.LoadCredentials(cfg.Deribit.ClientID, cfg.Deribit.ClientSecret)
		if err != nil {
			return err
		}
		params, err := creds.Params(cfg.Deribit.GrantType, cfg.Instance.ID)
		if err != nil {
			return err
		}
		if _, err := client.Auth(ctx, params); err != nil {
			return err
		}
		logger.Info("authenticated", "grant_type", cfg.Deribit.GrantType)
	}

	if err := client.SetHeartbeat(ctx, cfg.Subscriptions.HeartbeatInterval); err != nil {
		return err
	}

	// The router must be draining the subscription before any channel is
	// subscribed.
	rtr := router.NewRouter(router.RouterConfig{
		BookBufferSize:   cfg.Router.BookBufferSize,
		HeartbeatTimeout: cfg.Router.HeartbeatTimeout,
	}, sub.Events(), client, logger)
	if err := rtr.Start(ctx); err != nil {
		return err
	}

	bookWriter := writer.NewBookWriter(writer.WriterConfig{
		BatchSize:     cfg.Writers.BatchSize,
		FlushInterval: cfg.Writers.FlushInterval,
	}, rtr.Buffers().Book, pool, logger)
	if err := bookWriter.Start(ctx); err != nil {
		return err
	}

	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		rpc.Close()
		if err := rtr.Stop(shutdownCtx); err != nil {
			logger.Warn("router stop", "error", err)
		}
		if err := bookWriter.Stop(shutdownCtx); err != nil {
			logger.Warn("book writer stop", "error", err)
		}
	}()

	stats := metrics.StatsSource{
		Router: rtr.Stats,
		Writer: bookWriter.Stats,
		Pool:   pool.Stat,
	}

	if cfg.Poller.Enabled {
		snapshotPoller := poller.New(poller.Config{
			Interval:    cfg.Poller.Interval,
			Concurrency: cfg.Poller.Concurrency,
			Timeout:     cfg.Poller.Timeout,
			Depth:       cfg.Poller.Depth,
		}, client, cfg.Subscriptions.Instruments, bookWriter, logger)
		if err := snapshotPoller.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			snapshotPoller.Stop(stopCtx)
		}()
		stats.Poller = snapshotPoller.Stats
	}

	if err := metrics.RegisterPipeline(reg, stats); err != nil {
		return err
	}

	channels := make([]string, 0, len(cfg.Subscriptions.Instruments))
	for _, inst := range cfg.Subscriptions.Instruments {
		channels = append(channels, channel.BookChannel(inst, cfg.Subscriptions.Interval))
	}
	if _, err := client.Subscribe(ctx, channels); err != nil {
		return err
	}

	server := metrics.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, reg, logger)
	server.Handle("/health", createHealthHandler(pool, rpc, rtr))

	logger.Info("gatherer running",
		"instance_id", cfg.Instance.ID,
		"channels", len(channels),
		"metrics_port", cfg.Metrics.Port,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-rpc.Done():
			return rpc.Err()
		}
	})

	err = g.Wait()
	logger.Info("shutting down...")

	if err == nil {
		unsubCtx, unsubCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, uerr := client.Unsubscribe(unsubCtx, channels); uerr != nil {
			logger.Warn("unsubscribe failed", "error", uerr)
		}
		unsubCancel()
	}
	return err
}

func connectionConfig(cfg *config.GathererConfig, observer connection.Observer) connection.Config {
	return connection.Config{
		Testnet: cfg.Deribit.Testnet,
		Endpoints: connection.Endpoints{
			Mainnet: cfg.Deribit.MainnetURL,
			Testnet: cfg.Deribit.TestnetURL,
		},
		HandshakeTimeout:   cfg.Connection.HandshakeTimeout,
		WriteTimeout:       cfg.Connection.WriteTimeout,
		RegistrationBuffer: cfg.Connection.RegistrationBuffer,
		SubscriptionBuffer: cfg.Connection.SubscriptionBuffer,
		PushTimeout:        cfg.Connection.PushTimeout,
		RateLimit:          cfg.Connection.RateLimit,
		RateBurst:          cfg.Connection.RateBurst,
		Observer:           observer,
	}
}

// verifyNetwork checks that the server agrees with the configured network.
func verifyNetwork(ctx context.Context, rpc *connection.RPCClient, testnet bool, logger *slog.Logger) error {
	sent := time.Now()
	resp, err := rpc.CallResponse(ctx, "public/test", nil)
	if err != nil {
		return err
	}
	if resp.Testnet != testnet {
		return fmt.Errorf("endpoint reports testnet=%v, config has testnet=%v", resp.Testnet, testnet)
	}
	logger.Info("network verified",
		"testnet", resp.Testnet,
		"rtt", time.Since(sent),
		"server_time", time.Duration(resp.UsOut-resp.UsIn)*time.Microsecond,
	)
	return nil
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(pool *pgxpool.Pool, rpc *connection.RPCClient, rtr router.Router) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		// Check database
		if err := pool.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["database"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["database"] = "connected"
		}

		// Check websocket
		if err := rpc.Err(); err != nil {
			health.Status = "unhealthy"
			health.Components["deribit"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["deribit"] = "connected"
		}

		stats := rtr.Stats()
		health.Components["router"] = map[string]any{
			"received":    stats.MessagesReceived,
			"routed":      stats.MessagesRouted,
			"change_gaps": stats.ChangeGaps,
			"buffered":    stats.BookBuffer.Count,
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})
}
