package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mcoot/playhub/internal/api"
	"github.com/mcoot/playhub/internal/config"
	"github.com/mcoot/playhub/internal/factory"
	"github.com/mcoot/playhub/internal/web"
	"github.com/mcoot/playhub/internal/web/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		slog.Error("invalid log level", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Set up logging with JSON output
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := factory.New(ctx, factory.ConfigFromEnv(cfg, logger))
	if err != nil {
		logger.Error("failed to create application", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("failed to close application", slog.String("error", err.Error()))
		}
	}()

	scheduler, err := app.NewScheduler(cfg.SweepInterval, cfg.HealthCheckInterval)
	if err != nil {
		logger.Error("failed to create scheduler", slog.String("error", err.Error()))
		os.Exit(1)
	}
	scheduler.Start()

	gateway := ws.NewGateway(ws.Config{
		Logger:   logger,
		Sessions: app.AuthService,
		Tracker:  app.Presence,
		Gate:     app.Gate,
		Bus:      app.Bus,
	})

	apiRouter := api.NewRouter(api.RouterConfig{
		Logger:      logger,
		AuthService: app.AuthService,
		Presence:    app.Presence,
		Ledger:      app.Ledger,
		Matchmaking: app.Matchmaking,
		Verifier:    app.Verifier,
		Roster:      app.Roster,
		Gate:        app.Gate,
	})

	handler := web.NewRouter(web.RouterConfig{
		Logger:  logger,
		API:     apiRouter,
		Gateway: gateway,
	})

	serverConfig := api.DefaultServerConfig()
	serverConfig.Addr = cfg.ListenAddr()
	server := api.NewServer(handler, serverConfig, logger)
	server.OnShutdown(gateway.Close)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("server started",
		slog.String("addr", server.Addr()),
		slog.String("storage", cfg.StorageType),
		slog.Any("jobs", scheduler.JobNames()),
	)

	exitCode := 0
	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			exitCode = 1
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		if err := server.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
			exitCode = 1
		}
	}

	if err := scheduler.Shutdown(); err != nil {
		logger.Error("scheduler shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
	if exitCode != 0 {
		stop()
		_ = app.Close()
		os.Exit(exitCode)
	}
}
