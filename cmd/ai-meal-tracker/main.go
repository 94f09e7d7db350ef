package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ai-meal-tracker/internal/app"
	"ai-meal-tracker/internal/auth"
	"ai-meal-tracker/internal/config"
	"ai-meal-tracker/internal/logging"
)

func main() {
	logging.Setup()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()

	cfg, err := config.NewFromEnv()
	if err != nil {
		fatal("Failed to load configuration", err)
	}
	logging.SetupWithLevel(logging.LevelFromString(cfg.LogLevel))

	application, err := app.New(ctx, cfg)
	if err != nil {
		fatal("Failed to initialize application", err)
	}
	defer application.Close()

	switch os.Args[1] {
	case "serve":
		err = serve(application)
	case "analyze":
		err = analyze(ctx, application, os.Args[2:])
	case "token":
		err = token(application, os.Args[2:])
	case "export":
		err = export(ctx, application, os.Args[2:])
	case "metrics-cleanup":
		cleanupCmd := flag.NewFlagSet("metrics-cleanup", flag.ExitOnError)
		days := cleanupCmd.Int("days", 30, "Keep records for the last N days")
		cleanupCmd.Parse(os.Args[2:])

		var affected int64
		affected, err = application.MetricsStore.Cleanup(ctx, *days)
		if err == nil {
			fmt.Printf("Successfully removed %d old metric records.\n", affected)
		}
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		application.Close()
		os.Exit(1)
	}

	if err != nil {
		application.Close()
		fatal(os.Args[1]+" failed", err)
	}
}

func serve(a *app.App) error {
	srv := &http.Server{
		Addr:              ":" + a.Config.Port,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "port", a.Config.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}
	slog.Info("Shutting down server...")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	slog.Info("Server exiting")
	return nil
}

func analyze(ctx context.Context, a *app.App, args []string) error {
	description := strings.Join(args, " ")
	analysis, err := a.Meals.Analyze(ctx, description)
	if err != nil {
		return err
	}

	out := struct {
		Source string `json:"source"`
		Fault  string `json:"fallbackReason,omitempty"`
		Result any    `json:"result"`
	}{Source: string(analysis.Source), Result: analysis.Result}
	if analysis.Fault != nil {
		out.Fault = string(analysis.Fault.Reason)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func token(a *app.App, args []string) error {
	if a.JWT == nil {
		return errors.New("tokens can only be issued in jwt auth mode")
	}
	if len(args) < 1 {
		return errors.New("usage: token <uid> [email]")
	}
	p := auth.Principal{UID: args[0]}
	if len(args) > 1 {
		p.Email = args[1]
	}
	tok, err := a.JWT.Generate(p)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func export(ctx context.Context, a *app.App, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: export <uid>")
	}
	data, filename, err := a.Meals.Export(ctx, args[0])
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	fmt.Printf("Exported %d meals to %s\n", len(data.Meals), filename)
	return nil
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func printUsage() {
	fmt.Println("Usage: ai-meal-tracker <command> [arguments]")
	fmt.Println("\nCommands:")
	fmt.Println("  serve                  Run the HTTP API")
	fmt.Println("  analyze <text>         Analyze a meal description and print the result")
	fmt.Println("  token <uid> [email]    Issue an API token (jwt auth mode)")
	fmt.Println("  export <uid>           Write today's meals of a user to a JSON file")
	fmt.Println("  metrics-cleanup        Remove old metric records (-days N)")
}
