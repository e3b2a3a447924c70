// streamtest connects to the Deribit WebSocket API and prints order book
// updates to the console.
// Usage: go run ./cmd/streamtest --testnet --instruments BTC-PERPETUAL,ETH-PERPETUAL
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/deribit-data/internal/api"
	"github.com/rickgao/deribit-data/internal/channel"
	"github.com/rickgao/deribit-data/internal/connection"
	"github.com/rickgao/deribit-data/internal/router"
	"github.com/rickgao/deribit-data/internal/version"
)

func main() {
	testnet := flag.Bool("testnet", false, "connect to test.deribit.com")
	instruments := flag.String("instruments", "BTC-PERPETUAL", "comma-separated instrument names")
	interval := flag.String("interval", channel.Interval100ms, "book update interval (raw, 100ms, agg2)")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	cfg := connection.DefaultConfig()
	cfg.Testnet = *testnet

	rpc, sub, err := connection.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	defer rpc.Close()

	client := api.NewClient(rpc, api.WithLogger(logger))

	serverTime, err := client.GetTime(ctx)
	if err != nil {
		logger.Error("public/get_time failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server time",
		"time", time.UnixMilli(serverTime).UTC(),
		"skew", time.Since(time.UnixMilli(serverTime)),
	)

	hello, err := client.Hello(ctx, api.HelloRequest{ClientName: "streamtest", ClientVersion: version.Version})
	if err != nil {
		logger.Error("public/hello failed", "error", err)
		os.Exit(1)
	}
	sent := time.Now()
	resp, err := rpc.CallResponse(ctx, "public/test", nil)
	if err != nil {
		logger.Error("public/test failed", "error", err)
		os.Exit(1)
	}
	logger.Info("connected",
		"api_version", hello.Version,
		"testnet", resp.Testnet,
		"rtt", time.Since(sent),
		"server_time", time.Duration(resp.UsOut-resp.UsIn)*time.Microsecond,
	)

	if err := client.SetHeartbeat(ctx, 30*time.Second); err != nil {
		logger.Error("public/set_heartbeat failed", "error", err)
		os.Exit(1)
	}

	rtr := router.NewRouter(router.DefaultRouterConfig(), sub.Events(), client, logger)
	if err := rtr.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}

	var channels []string
	for _, inst := range strings.Split(*instruments, ",") {
		if inst = strings.TrimSpace(inst); inst != "" {
			channels = append(channels, channel.BookChannel(inst, *interval))
		}
	}
	subscribed, err := client.Subscribe(ctx, channels)
	if err != nil {
		logger.Error("public/subscribe failed", "error", err)
		os.Exit(1)
	}
	logger.Info("streaming started - press Ctrl+C to stop", "channels", subscribed)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return printBook(gctx, rtr.Buffers().Book, *verbose)
	})
	g.Go(func() error {
		printStats(gctx, rtr, logger)
		return nil
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

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	rpc.Close()
	rtr.Stop(shutdownCtx)

	if err != nil {
		logger.Error("stream ended", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func printBook(ctx context.Context, buf *router.GrowableBuffer[router.BookMsg], verbose bool) error {
	for {
		msg, err := buf.Receive(ctx)
		if err != nil {
			if errors.Is(err, router.ErrBufferClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		if verbose {
			data, _ := json.MarshalIndent(msg, "", "  ")
			fmt.Printf("[BOOK] %s\n", data)
			continue
		}

		kind := "DELTA"
		if msg.Snapshot {
			kind = "SNAPSHOT"
		}
		fmt.Printf("[BOOK %s] instrument=%s change_id=%d bids=%d asks=%d gap=%t\n",
			kind, msg.Instrument, msg.ChangeID, len(msg.Bids), len(msg.Asks), msg.ChangeGap)
	}
}

func printStats(ctx context.Context, rtr router.Router, logger *slog.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := rtr.Stats()
			logger.Info("stats",
				"router_received", stats.MessagesReceived,
				"router_routed", stats.MessagesRouted,
				"parse_errors", stats.ParseErrors,
				"change_gaps", stats.ChangeGaps,
				"heartbeats", stats.Heartbeats,
				"book_buf", stats.BookBuffer.Count,
			)
		}
	}
}
