package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Config struct {
	DBPath     string
	ServerPort string
	LogLevel   string

	// Outbound chat delivery. ChannelWebhookURL receives shared announcements,
	// DMWebhookURL receives per-player messages addressed by chat user id.
	ChannelWebhookURL string
	DMWebhookURL      string

	// Analytics (optional, disabled when the secret is empty).
	AnalyticsMeasurementID string
	AnalyticsAPISecret     string

	ReadyCheckTTL   time.Duration
	DeclineCooldown time.Duration
	FeedInterval    time.Duration
	PrefsCacheTTL   time.Duration
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		DBPath:                 getEnv("DB_PATH", "coordinator.db"),
		ServerPort:             getEnv("SERVER_PORT", "8080"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		ChannelWebhookURL:      getEnv("CHANNEL_WEBHOOK_URL", ""),
		DMWebhookURL:           getEnv("DM_WEBHOOK_URL", ""),
		AnalyticsMeasurementID: getEnv("GA_MEASUREMENT_ID", ""),
		AnalyticsAPISecret:     getEnv("GA_API_SECRET", ""),
		ReadyCheckTTL:          getDurationEnv("READY_CHECK_TTL", 90*time.Second),
		DeclineCooldown:        getDurationEnv("DECLINE_COOLDOWN", 5*time.Minute),
		FeedInterval:           getDurationEnv("FEED_INTERVAL", 500*time.Millisecond),
		PrefsCacheTTL:          getDurationEnv("PREFS_CACHE_TTL", 5*time.Minute),
	}

	if cfg.ChannelWebhookURL == "" {
		return nil, fmt.Errorf("CHANNEL_WEBHOOK_URL is required")
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Dur("ready_check_ttl", cfg.ReadyCheckTTL).
		Dur("decline_cooldown", cfg.DeclineCooldown).
		Dur("feed_interval", cfg.FeedInterval).
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
