package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewFromEnv_LogLevelFromDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("LOG_LEVEL=DEBUG\n"), 0o600); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}
	t.Chdir(dir)
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("LOG_LEVEL", "")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := NewFromEnv()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected LogLevel from .env to be 'debug', got '%s'", cfg.LogLevel)
	}
}

func TestNewFromEnv(t *testing.T) {
	// Helper function to set environment variables for a test
	setEnv := func(key, value string) {
		t.Helper()
		t.Setenv(key, value)
	}

	t.Run("Defaults", func(t *testing.T) {
		setEnv("JWT_SECRET", "secret")
		setEnv("GEMINI_API_KEY", "")
		setEnv("AI_PROVIDER", "")
		setEnv("STORAGE_BACKEND", "")
		setEnv("AUTH_MODE", "")
		setEnv("TIMEZONE", "UTC")

		cfg, err := NewFromEnv()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if cfg.AIProvider != ProviderGemini {
			t.Errorf("Expected AIProvider to be 'gemini', got '%s'", cfg.AIProvider)
		}
		if cfg.AIKey() != "" {
			t.Errorf("Expected empty AI key, got '%s'", cfg.AIKey())
		}
		if cfg.StorageBackend != StorageSQLite {
			t.Errorf("Expected StorageBackend to be 'sqlite', got '%s'", cfg.StorageBackend)
		}
		if cfg.JWTTTL != 24*time.Hour {
			t.Errorf("Expected JWTTTL to be 24h, got %v", cfg.JWTTTL)
		}
		if cfg.Location != time.UTC {
			t.Errorf("Expected UTC location, got %v", cfg.Location)
		}
		if cfg.Port != "8080" {
			t.Errorf("Expected Port to be '8080', got '%s'", cfg.Port)
		}
	})

	t.Run("GroqProvider", func(t *testing.T) {
		setEnv("JWT_SECRET", "secret")
		setEnv("AI_PROVIDER", "groq")
		setEnv("GROQ_API_KEY", "groq_key")

		cfg, err := NewFromEnv()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if cfg.AIKey() != "groq_key" {
			t.Errorf("Expected AIKey to be 'groq_key', got '%s'", cfg.AIKey())
		}
	})

	t.Run("PlaceholderKeyIsAbsent", func(t *testing.T) {
		setEnv("JWT_SECRET", "secret")
		setEnv("AI_PROVIDER", "gemini")
		setEnv("GEMINI_API_KEY", "your_gemini_api_key_here")

		cfg, err := NewFromEnv()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if cfg.GeminiAPIKey != "" {
			t.Errorf("Expected placeholder key to be dropped, got '%s'", cfg.GeminiAPIKey)
		}
	})

	t.Run("MissingJWTSecret", func(t *testing.T) {
		setEnv("AUTH_MODE", "jwt")
		setEnv("JWT_SECRET", "")

		_, err := NewFromEnv()
		if err == nil {
			t.Fatal("Expected an error for missing JWT_SECRET, got nil")
		}
		expectedError := "JWT_SECRET environment variable not set"
		if err.Error() != expectedError {
			t.Errorf("Expected error '%s', got '%s'", expectedError, err.Error())
		}
	})

	t.Run("FirestoreNeedsProject", func(t *testing.T) {
		setEnv("JWT_SECRET", "secret")
		setEnv("STORAGE_BACKEND", "firestore")
		setEnv("GOOGLE_CLOUD_PROJECT", "")

		_, err := NewFromEnv()
		if err == nil {
			t.Fatal("Expected an error for missing GOOGLE_CLOUD_PROJECT, got nil")
		}
		expectedError := "GOOGLE_CLOUD_PROJECT environment variable not set"
		if err.Error() != expectedError {
			t.Errorf("Expected error '%s', got '%s'", expectedError, err.Error())
		}
	})

	t.Run("AllowedUserIDs", func(t *testing.T) {
		setEnv("JWT_SECRET", "secret")
		setEnv("STORAGE_BACKEND", "sqlite")
		setEnv("TELEGRAM_ALLOWED_USER_IDS", "12, 34,")
		setEnv("ADMIN_TELEGRAM_ID", "12")

		cfg, err := NewFromEnv()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if len(cfg.TelegramAllowedUserIDs) != 2 || cfg.TelegramAllowedUserIDs[1] != 34 {
			t.Errorf("Expected [12 34], got %v", cfg.TelegramAllowedUserIDs)
		}
		if cfg.AdminTelegramID != 12 {
			t.Errorf("Expected AdminTelegramID 12, got %d", cfg.AdminTelegramID)
		}
	})

	t.Run("UnsupportedProvider", func(t *testing.T) {
		setEnv("JWT_SECRET", "secret")
		setEnv("STORAGE_BACKEND", "sqlite")
		setEnv("AI_PROVIDER", "mystery")

		if _, err := NewFromEnv(); err == nil {
			t.Fatal("Expected an error for unsupported provider, got nil")
		}
	})
}
