// Package app wires configuration into the services shared by the HTTP
// server, the Telegram bot and the command-line tools.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"ai-meal-tracker/internal/api"
	"ai-meal-tracker/internal/auth"
	"ai-meal-tracker/internal/cloudstore"
	"ai-meal-tracker/internal/config"
	"ai-meal-tracker/internal/database"
	"ai-meal-tracker/internal/llm"
	"ai-meal-tracker/internal/meal"
	"ai-meal-tracker/internal/metrics"
	"ai-meal-tracker/internal/nutrition"
	"ai-meal-tracker/internal/profile"

	firebase "firebase.google.com/go/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App holds the application's dependencies.
type App struct {
	Config       *config.Config
	DB           *database.DB
	TextGen      llm.TextGenerator
	Analyzer     *nutrition.Analyzer
	Meals        *meal.Service
	Profiles     *profile.Service
	MetricsStore *metrics.Store
	Analyses     *metrics.Analyses
	Registry     *prometheus.Registry
	Verifier     auth.Verifier
	// JWT is set in jwt auth mode and issues tokens for the CLI.
	JWT *auth.JWTManager

	closers []func() error
}

// New creates and initializes a new App instance. The SQLite database always
// backs metrics and bot sessions; meals and profiles live in the configured
// storage backend.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: db}

	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	textGen, err := newTextGenerator(ctx, cfg)
	if err != nil {
		return err
	}
	a.TextGen = textGen
	if c, ok := textGen.(llm.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	a.Analyzer = nutrition.NewAnalyzer(textGen)

	var fbApp *firebase.App
	if cfg.StorageBackend == config.StorageFirestore || cfg.AuthMode == config.AuthFirebase {
		fbApp, err = firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.GoogleProject})
		if err != nil {
			return fmt.Errorf("failed to init firebase: %w", err)
		}
	}

	clock := meal.NewClock(cfg.Location)
	var (
		mealStore    meal.Store
		profileStore profile.Store
	)
	switch cfg.StorageBackend {
	case config.StorageFirestore:
		client, err := fbApp.Firestore(ctx)
		if err != nil {
			return fmt.Errorf("failed to init firestore: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		mealStore = cloudstore.NewMealStore(client, clock)
		profileStore = cloudstore.NewProfileStore(client)
	default:
		mealStore = meal.NewRepository(a.DB.SQL, clock)
		profileStore = profile.NewRepository(a.DB.SQL)
	}

	switch cfg.AuthMode {
	case config.AuthFirebase:
		v, err := auth.NewFirebaseVerifier(ctx, fbApp)
		if err != nil {
			return err
		}
		a.Verifier = v
	default:
		a.JWT = auth.NewJWTManager(cfg.JWTSecret, cfg.JWTTTL)
		a.Verifier = a.JWT
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.MetricsStore = metrics.NewStore(a.DB.SQL)
	a.Analyses = metrics.NewAnalyses(a.Registry, a.MetricsStore)

	a.Profiles = profile.NewService(profileStore)
	a.Meals = meal.NewService(mealStore, a.Analyzer, a.Profiles, clock, a.Analyses)

	slog.Info("App initialized",
		"ai_provider", cfg.AIProvider,
		"ai_enabled", textGen != nil,
		"storage", cfg.StorageBackend,
		"auth", cfg.AuthMode,
	)
	return nil
}

// newTextGenerator returns nil when the selected provider has no key, which
// routes every analysis to the offline analyzer.
func newTextGenerator(ctx context.Context, cfg *config.Config) (llm.TextGenerator, error) {
	if cfg.AIKey() == "" {
		slog.Warn("AI credential not configured, meals are analyzed offline", "provider", cfg.AIProvider)
		return nil, nil
	}

	switch cfg.AIProvider {
	case config.ProviderGroq:
		return llm.NewGroqClient(cfg.GroqAPIKey, cfg.GroqAPIURL, cfg.GroqModel), nil
	default:
		client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if errors.Is(err, llm.ErrMissingCredential) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to init gemini: %w", err)
		}
		return client, nil
	}
}

// Router returns the HTTP API.
func (a *App) Router() http.Handler {
	return api.NewRouter(api.Deps{
		Meals:    a.Meals,
		Profiles: a.Profiles,
		Verifier: a.Verifier,
		Metrics:  promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}),
		Health:   a.Health,
	})
}

// Health reports whether the database answers.
func (a *App) Health(ctx context.Context) error {
	return a.DB.SQL.PingContext(ctx)
}

// Close releases every resource in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	errs = append(errs, a.DB.Close())
	return errors.Join(errs...)
}
