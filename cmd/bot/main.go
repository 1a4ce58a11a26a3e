// Arbitrage engine — detects and executes mispriced combinations of
// outcomes across related Polymarket prediction markets.
//
// Architecture:
//
//	main.go                    — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go           — orchestrator: wires every subsystem and runs the hot-path event loop
//	exchange/fetcher.go        — polls the Gamma API for the tradeable market universe
//	market/filter.go           — narrows the universe by volume, liquidity, spread, outcome count
//	registry/registry.go       — market/token lookup used by every downstream component
//	scoring/scoring.go         — ranks candidate tokens for the subscription budget
//	submgr/submgr.go           — active-subscription budget with a queued backlog
//	connpool/connpool.go       — sharded, deduplicated WebSocket order book feed
//	strategy/*.go              — detection strategies (single-condition, rebalancing, combinatorial)
//	risk/manager.go            — exposure limits, profit floor, slippage, circuit breaker
//	executor/executor.go       — concurrent multi-leg order submission and fill reconciliation
//	governor/governor.go       — latency-driven subscription scaling recommendations
//	clustercache/clustercache.go — unions inferred relations into tradeable market clusters
//	inference/*.go             — rule-based and LLM-based relation discovery
//	notifier/notifier.go       — lifecycle event fan-out to file and metrics sinks
//	store/store.go             — JSON file persistence for positions and relations
//	exchange/client.go         — REST client for the CLOB API (place/cancel orders, fetch book)
//	exchange/auth.go           — L1 (EIP-712) and L2 (HMAC) authentication
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"arbengine/internal/config"
	"arbengine/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ARB_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
