package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderGemini = "gemini"
	ProviderGroq   = "groq"

	StorageSQLite    = "sqlite"
	StorageFirestore = "firestore"

	AuthJWT      = "jwt"
	AuthFirebase = "firebase"
)

// Config holds the configuration for the application.
type Config struct {
	// AI provider. An empty key for the selected provider is valid and
	// routes every analysis to the offline fallback.
	AIProvider   string
	GeminiAPIKey string
	GeminiModel  string
	GroqAPIKey   string
	GroqModel    string
	GroqAPIURL   string

	StorageBackend string
	DatabasePath   string
	GoogleProject  string

	AuthMode  string
	JWTSecret string
	JWTTTL    time.Duration

	Port     string
	Location *time.Location
	LogLevel string

	// Telegram Config
	TelegramBotToken       string
	TelegramWebhookURL     string
	TelegramAllowedUserIDs []int64
	AdminTelegramID        int64
}

// NewFromEnv creates a new Config object from environment variables.
// A .env file in the working directory is loaded first when present.
func NewFromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg := &Config{
		AIProvider:     strings.ToLower(getEnv("AI_PROVIDER", ProviderGemini)),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GroqAPIKey:     os.Getenv("GROQ_API_KEY"),
		GroqModel:      getEnv("GROQ_MODEL", "llama-3.3-70b-versatile"),
		GroqAPIURL:     getEnv("GROQ_API_URL", "https://api.groq.com/openai/v1/chat/completions"),
		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", StorageSQLite)),
		DatabasePath:   getEnv("DATABASE_PATH", "data/meal-tracker.db"),
		GoogleProject:  os.Getenv("GOOGLE_CLOUD_PROJECT"),
		AuthMode:       strings.ToLower(getEnv("AUTH_MODE", AuthJWT)),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		Port:           getEnv("PORT", "8080"),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),

		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramWebhookURL: os.Getenv("TELEGRAM_WEBHOOK_URL"),
	}

	// The placeholder key from sample env files counts as absent.
	if cfg.GeminiAPIKey == "your_gemini_api_key_here" {
		cfg.GeminiAPIKey = ""
	}

	switch cfg.AIProvider {
	case ProviderGemini, ProviderGroq:
	default:
		return nil, fmt.Errorf("unsupported AI_PROVIDER %q", cfg.AIProvider)
	}

	switch cfg.StorageBackend {
	case StorageSQLite:
	case StorageFirestore:
		if cfg.GoogleProject == "" {
			return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT environment variable not set")
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	switch cfg.AuthMode {
	case AuthJWT:
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("JWT_SECRET environment variable not set")
		}
	case AuthFirebase:
		if cfg.GoogleProject == "" {
			return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT environment variable not set")
		}
	default:
		return nil, fmt.Errorf("unsupported AUTH_MODE %q", cfg.AuthMode)
	}

	ttl, err := time.ParseDuration(getEnv("JWT_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_TTL: %w", err)
	}
	cfg.JWTTTL = ttl

	loc, err := time.LoadLocation(getEnv("TIMEZONE", "Local"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	cfg.Location = loc

	ids, err := parseIDList(os.Getenv("TELEGRAM_ALLOWED_USER_IDS"))
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_ALLOWED_USER_IDS: %w", err)
	}
	cfg.TelegramAllowedUserIDs = ids

	if v := os.Getenv("ADMIN_TELEGRAM_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
		cfg.AdminTelegramID = id
	}

	return cfg, nil
}

// AIKey returns the credential of the selected provider.
func (c *Config) AIKey() string {
	if c.AIProvider == ProviderGroq {
		return c.GroqAPIKey
	}
	return c.GeminiAPIKey
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseIDList(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
