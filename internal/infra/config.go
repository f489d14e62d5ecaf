package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	// Custom model / training provider (prediction API).
	PredictionBaseURL string
	PredictionAPIKey  string

	// Direct diffusion engine.
	DiffusionBaseURL string
	DiffusionAPIKey  string
	DiffusionEngine  string

	// External imagine bot.
	BotBaseURL string
	BotAPIKey  string

	// Blob storage.
	StorageEndpoint string
	StoragePath     string

	// Polling.
	PollInterval    time.Duration
	BotPollInterval time.Duration
	PollMaxDuration time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              getEnv("PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		PredictionBaseURL: getEnv("PREDICTION_BASE_URL", "https://api.replicate.com/v1"),
		PredictionAPIKey:  os.Getenv("PREDICTION_API_KEY"),
		DiffusionBaseURL:  getEnv("DIFFUSION_BASE_URL", "https://api.stability.ai"),
		DiffusionAPIKey:   os.Getenv("DIFFUSION_API_KEY"),
		DiffusionEngine:   getEnv("DIFFUSION_ENGINE", "stable-diffusion-xl-1024-v1-0"),
		BotBaseURL:        getEnv("BOT_BASE_URL", "https://api.imaginepro.ai/api/v1"),
		BotAPIKey:         os.Getenv("BOT_API_KEY"),
		StorageEndpoint:   os.Getenv("STORAGE_ENDPOINT"),
		StoragePath:       getEnv("STORAGE_PATH", "./storage"),
		PollInterval:      time.Millisecond * time.Duration(getEnvInt("POLL_INTERVAL_MS", 1000)),
		BotPollInterval:   time.Millisecond * time.Duration(getEnvInt("BOT_POLL_INTERVAL_MS", 5000)),
		PollMaxDuration:   time.Second * time.Duration(getEnvInt("POLL_MAX_DURATION_SECONDS", 300)),
		HTTPReadTimeout:   time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:  time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:   time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:   getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
