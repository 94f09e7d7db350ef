package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-meal-tracker/internal/app"
	"ai-meal-tracker/internal/clipper"
	"ai-meal-tracker/internal/config"
	"ai-meal-tracker/internal/logging"
	"ai-meal-tracker/internal/telegram"
)

func main() {
	logging.Setup()

	// 1. Load Configuration
	cfg, err := config.NewFromEnv()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logging.SetupWithLevel(logging.LevelFromString(cfg.LogLevel))

	ctx := context.Background()

	// 2. Initialize Services
	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	// 3. Initialize Telegram Bot
	bot, err := telegram.NewBot(cfg, telegram.Deps{
		Meals:    application.Meals,
		Goals:    application.Profiles,
		Clipper:  clipper.NewClipper(nil),
		Usage:    application.MetricsStore,
		Sessions: telegram.NewSessionRepository(application.DB.SQL),
	})
	if err != nil {
		slog.Error("Failed to initialize Telegram Bot", "error", err)
		application.Close()
		os.Exit(1)
	}

	// 4. Start Server with Graceful Shutdown
	mux := http.NewServeMux()
	bot.RegisterHandlers(mux)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Telegram Bot Server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server exiting")
}
