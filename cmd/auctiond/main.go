package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/artsfund/auction-engine/internal/api"
	"github.com/artsfund/auction-engine/internal/auction"
	"github.com/artsfund/auction-engine/internal/clock"
	"github.com/artsfund/auction-engine/internal/config"
	"github.com/artsfund/auction-engine/internal/health"
	"github.com/artsfund/auction-engine/internal/leader"
	"github.com/artsfund/auction-engine/internal/money"
	"github.com/artsfund/auction-engine/internal/realtime"
	"github.com/artsfund/auction-engine/internal/store"
	"github.com/artsfund/auction-engine/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/artsfund/auction-engine/internal/store/entstore"
	_ "github.com/artsfund/auction-engine/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load configuration.
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup telemetry.
	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	// Open store using the configured driver (sqlx or ent).
	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "connected to database", slog.String("driver", cfg.Database.Driver))

	// Fan-out hub doubles as the engine's broadcaster.
	hub := realtime.NewHub(logger)
	defer hub.Close()

	fees := money.DefaultFeeSchedule()
	if cfg.Auction.FeeMinimum > 0 {
		fees.Minimum = decimal.NewFromFloat(cfg.Auction.FeeMinimum)
	}
	mgr := auction.NewManager(repos, hub, auction.ManagerConfig{
		Increments:            money.DefaultIncrementSchedule(),
		Fees:                  fees,
		BidRetries:            cfg.Auction.BidRetries,
		DefaultExtendWindow:   cfg.Auction.AutoExtendWindow,
		DefaultExtendDuration: cfg.Auction.AutoExtendDuration,
	}, logger, tp.TracerProvider, clk)
	defer mgr.Shutdown()

	// Setup health checks.
	healthHandler := health.NewHandler(clk,
		health.Checker{
			Name:  "database",
			Check: repos.Ping,
		},
	)

	wsHandler := realtime.NewHandler(hub, mgr, logger)
	adminHandler := api.NewHandler(mgr, logger)

	r := chi.NewRouter()
	r.Get("/healthz", healthHandler.LivenessHandler())
	r.Get("/readyz", healthHandler.ReadinessHandler())
	r.Get("/ws/auctions/{id}", wsHandler.ServeHTTP)
	adminHandler.Routes(r)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
		}
	}()

	// startEngine is the core work that only the leader should run: recover
	// live auctions and own their close timers.
	startEngine := func(ctx context.Context) {
		if n, recoverErr := mgr.RecoverLiveAuctions(ctx); recoverErr != nil {
			logger.ErrorContext(ctx, "auction recovery failed", slog.Any("error", recoverErr))
		} else if n > 0 {
			logger.InfoContext(ctx, "recovered live auctions", slog.Int("count", n))
		}

		healthHandler.SetReady(true)
		healthHandler.SetLeader(true)
		logger.InfoContext(ctx, "auction engine is running (leader)", slog.String("version", version))

		// Block until leadership is lost or process is shutting down.
		<-ctx.Done()

		healthHandler.SetReady(false)
		healthHandler.SetLeader(false)
		mgr.Shutdown()
	}

	if cfg.LeaderElection.Enabled {
		logger.InfoContext(ctx, "leader election enabled, waiting for leadership...")

		if leaderErr := leader.Run(ctx, cfg.LeaderElection, logger, startEngine, func() {
			logger.Info("lost leadership, shutting down...")
			cancel()
		}); leaderErr != nil {
			return fmt.Errorf("leader election: %w", leaderErr)
		}
	} else {
		// Single replica, no leader election.
		if n, recoverErr := mgr.RecoverLiveAuctions(ctx); recoverErr != nil {
			logger.ErrorContext(ctx, "auction recovery failed", slog.Any("error", recoverErr))
		} else if n > 0 {
			logger.InfoContext(ctx, "recovered live auctions", slog.Int("count", n))
		}

		healthHandler.SetReady(true)
		logger.InfoContext(ctx, "auction engine is running", slog.String("version", version))

		// Wait for shutdown signal.
		<-ctx.Done()
		logger.Info("shutting down...")

		healthHandler.SetReady(false)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}
