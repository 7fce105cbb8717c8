package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

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
	if cfg.Store == config.StoreMemory {
		logger.Error("worker needs a shared store, BEERGAME_STORE=memory is process local")
		os.Exit(1)
	}
	backend, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("store open failed", "store", cfg.Store, "err", err)
		os.Exit(1)
	}
	defer backend.Close()

	svc := game.NewService(backend.Store, cfg.Game, logger)
	if backend.Pool != nil {
		// No local subscribers; the bridge only forwards to API processes.
		svc.AddObserver(events.NewBridge(backend.Pool, cfg.DatabaseURL, events.NewBroker(logger), logger))
	}
	if cfg.DiscordToken != "" {
		discord, err := notify.NewDiscord(cfg.DiscordToken, cfg.DiscordChannelID, logger)
		if err != nil {
			logger.Error("discord init failed", "err", err)
			os.Exit(1)
		}
		svc.AddObserver(discord)
	}
	if err := svc.EnsureSeeded(ctx); err != nil {
		logger.Error("seed game failed", "err", err)
		os.Exit(1)
	}

	if cfg.WorkerRunOnce {
		if err := advanceActive(ctx, svc, logger); err != nil {
			logger.Error("advance failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}
	if cfg.AdvanceEvery <= 0 {
		logger.Error("BEERGAME_ADVANCE_EVERY must be set for a long-running worker")
		os.Exit(1)
	}

	ticker := time.NewTicker(cfg.AdvanceEvery)
	defer ticker.Stop()

	logger.Info("worker started", "advance_every", cfg.AdvanceEvery.String(), "teams", len(cfg.Game.Teams))
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			if err := advanceActive(ctx, svc, logger); err != nil {
				logger.Error("timed advance failed", "err", err)
				continue
			}
		}
	}
}

// advanceActive force-resolves every team's current week while the game is
// open. A closed game is left alone.
func advanceActive(ctx context.Context, svc *game.Service, logger *slog.Logger) error {
	settings, err := svc.GetSettings(ctx)
	if err != nil {
		return err
	}
	if !settings.Active {
		logger.Info("game inactive, skipping timed advance")
		return nil
	}
	results, err := svc.AdvanceAll(ctx)
	for _, res := range results {
		logger.Info("timed advance", "team", res.Team, "week", res.Week, "status", string(res.Status))
	}
	return err
}
