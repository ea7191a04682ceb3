// Command trader is an automated trading agent for binary prediction
// markets. It streams live order books over the venue's WebSocket feed,
// evaluates entries and exits through a pluggable strategy, and routes
// orders through a risk-gated executor.
//
// Architecture:
//
//	main.go                  — entry point: loads config, starts the engine, waits for SIGINT/SIGTERM
//	internal/engine          — orchestrator: one cooperative event loop wiring every component
//	internal/exchange        — RSA-PSS REST client, rate limiter, and WebSocket stream client
//	internal/market          — local order book mirror + entry-candidate filter
//	internal/strategy        — signal generation and periodic exit evaluation (timeout, market close)
//	internal/risk            — pre-trade validation gate and the four circuit breakers
//	internal/order           — order lifecycle tracking, dedup on both client and venue IDs
//	internal/position        — open position bookkeeping, realized P&L on close
//	internal/account         — balance, exposure, and daily P&L accounting
//	internal/executor        — entry/exit state machine; runs against either the real venue or a paper matcher
//	internal/store           — sqlite persistence for trades, account snapshots, and logs
//	internal/notify          — email alerts on breaker trips, disconnects, and daily summaries
//	internal/api             — control-surface HTTP/WebSocket server (/status, /control, /ws)
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"predmarket-trader/internal/config"
	"predmarket-trader/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("TRADER_CONFIG"); p != "" {
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

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — orders are matched against a simulated book, not the venue")
	}
	if cfg.Dashboard.Enabled {
		logger.Info("control surface started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	logger.Info("trading agent started",
		"max_positions", cfg.Risk.MaxPositions,
		"max_exposure_pct", cfg.Risk.MaxExposurePct,
		"dry_run", cfg.DryRun,
	)

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
