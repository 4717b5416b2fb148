package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL   string
	HTTPAddr      string
	SessionPepper string

	// Automation webhook shared token; empty disables the ingest route.
	AutomationWebhookToken string

	// Queue-consumer provider: "postgres" | "redis" | "" (disabled).
	IngestProvider string
	IngestChannel  string
	RedisURL       string

	SSEHeartbeatSeconds   int
	SSEIdleTimeoutSeconds int
	SSEMaxStreamsPerUser  int

	AutomationTickSeconds int
}

func Load() (Config, error) {
	// Optional: load local .env for development. Missing file is fine.
	_ = godotenv.Load()

	heartbeat := getenvIntDefault("SUPPORTHUB_SSE_HEARTBEAT_SECONDS", 30)
	if heartbeat < 1 {
		heartbeat = 1
	}
	idle := getenvIntDefault("SUPPORTHUB_SSE_IDLE_TIMEOUT_SECONDS", 120)
	if idle <= heartbeat {
		idle = heartbeat * 4
	}
	maxStreams := getenvIntDefault("SUPPORTHUB_SSE_MAX_STREAMS_PER_USER", 0)
	if maxStreams < 0 {
		maxStreams = 0
	}

	tick := getenvIntDefault("SUPPORTHUB_AUTOMATION_TICK_SECONDS", 5)
	if tick < 1 {
		tick = 1
	}

	provider := strings.ToLower(strings.TrimSpace(os.Getenv("SUPPORTHUB_INGEST_PROVIDER")))
	switch provider {
	case "", "postgres", "redis":
	default:
		return Config{}, errors.New("SUPPORTHUB_INGEST_PROVIDER must be postgres, redis, or empty")
	}

	cfg := Config{
		DatabaseURL:   strings.TrimSpace(os.Getenv("SUPPORTHUB_DATABASE_URL")),
		HTTPAddr:      getenvDefault("SUPPORTHUB_HTTP_ADDR", ":8080"),
		SessionPepper: os.Getenv("SUPPORTHUB_SESSION_PEPPER"),

		AutomationWebhookToken: os.Getenv("SUPPORTHUB_AUTOMATION_WEBHOOK_TOKEN"),

		IngestProvider: provider,
		IngestChannel:  getenvDefault("SUPPORTHUB_INGEST_CHANNEL", "supporthub_events"),
		RedisURL:       strings.TrimSpace(os.Getenv("SUPPORTHUB_REDIS_URL")),

		SSEHeartbeatSeconds:   heartbeat,
		SSEIdleTimeoutSeconds: idle,
		SSEMaxStreamsPerUser:  maxStreams,

		AutomationTickSeconds: tick,
	}

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("SUPPORTHUB_DATABASE_URL is required")
	}
	if cfg.SessionPepper == "" {
		return Config{}, errors.New("SUPPORTHUB_SESSION_PEPPER is required")
	}
	if cfg.IngestProvider == "redis" && cfg.RedisURL == "" {
		return Config{}, errors.New("SUPPORTHUB_REDIS_URL is required when SUPPORTHUB_INGEST_PROVIDER=redis")
	}

	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func getenvIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
