package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"beergame/internal/api"
	"beergame/internal/auth"
	"beergame/internal/config"
	"beergame/internal/events"
	"beergame/internal/game"
	"beergame/internal/notify"
	"beergame/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	backend, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("store open failed", "store", cfg.Store, "err", err)
		os.Exit(1)
	}
	defer backend.Close()

	gate, err := auth.NewInstructorGate(cfg.InstructorPassword)
	if err != nil {
		logger.Error("instructor gate init failed", "err", err)
		os.Exit(1)
	}

	broker := events.NewBroker(logger)
	defer broker.Close()
	gameSvc := game.NewService(backend.Store, cfg.Game, logger, broker)

	if backend.Pool != nil {
		bridge := events.NewBridge(backend.Pool, cfg.DatabaseURL, broker, logger)
		gameSvc.AddObserver(bridge)
		go func() {
			if err := bridge.Run(ctx); err != nil {
				logger.Error("event bridge stopped", "err", err)
			}
		}()
	}
	if cfg.DiscordToken != "" {
		discord, err := notify.NewDiscord(cfg.DiscordToken, cfg.DiscordChannelID, logger)
		if err != nil {
			logger.Error("discord init failed", "err", err)
			os.Exit(1)
		}
		gameSvc.AddObserver(discord)
	}

	if err := gameSvc.EnsureSeeded(ctx); err != nil {
		logger.Error("seed game failed", "err", err)
		os.Exit(1)
	}

	server := api.New(cfg, logger, gate, gameSvc, broker)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		// Hijacked websocket connections are not closed by Shutdown.
		broker.Close()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("beergame api listening",
		"addr", cfg.Addr,
		"store", cfg.Store,
		"teams", len(cfg.Game.Teams),
		"lead_time", cfg.Game.LeadTime,
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
