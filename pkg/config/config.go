package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration, loaded once at startup.
type Config struct {
	Telegram      TelegramConfig
	Provider      ProviderConfig
	Database      DatabaseConfig
	Server        ServerConfig
	Reconcile     ReconcileConfig
	Sweep         SweepConfig
	Observability ObservabilityConfig
}

type TelegramConfig struct {
	BotToken string
	// AdminIDs are chat identities allowed into the admin panel.
	AdminIDs []int64
	// ChannelInviteURL is attached to successful-payment notifications.
	ChannelInviteURL string
}

type ProviderConfig struct {
	AccessToken string
	// Receiver is the wallet number payments are addressed to.
	Receiver string
	BaseURL  string
	// HistoryRatePerSecond caps operation-history queries across all
	// in-flight reconciliation attempts.
	HistoryRatePerSecond float64
	HistoryRateBurst     int
}

type DatabaseConfig struct {
	URL string
}

// DSN returns the connection string for pgx.
func (d DatabaseConfig) DSN() string { return d.URL }

type ServerConfig struct {
	Addr               string
	RateLimitPerSecond int
	RateLimitBurst     int
}

type ReconcileConfig struct {
	MaxAttempts  int
	PollInterval time.Duration
}

// MaxWait is the total polling window, derived so it stays consistent
// when either constant is overridden.
func (r ReconcileConfig) MaxWait() time.Duration {
	return time.Duration(r.MaxAttempts) * r.PollInterval
}

type SweepConfig struct {
	Interval         time.Duration
	ErrorBackoff     time.Duration
	WarningThreshold time.Duration
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	LogLevel       string
}

// Load reads .env (if present) and the environment, validates required
// values and returns the assembled configuration.
func Load() (*Config, error) {
	// Missing .env is fine in containerized deployments.
	_ = godotenv.Load()

	cfg := &Config{
		Telegram: TelegramConfig{
			BotToken:         os.Getenv("BOT_TOKEN"),
			AdminIDs:         parseInt64List(os.Getenv("ADMIN_IDS")),
			ChannelInviteURL: os.Getenv("CHANNEL_INVITE_URL"),
		},
		Provider: ProviderConfig{
			AccessToken:          os.Getenv("YOOMONEY_ACCESS_TOKEN"),
			Receiver:             os.Getenv("YOOMONEY_RECEIVER"),
			BaseURL:              envOr("YOOMONEY_BASE_URL", "https://yoomoney.ru"),
			HistoryRatePerSecond: envFloat("PROVIDER_HISTORY_RATE", 5),
			HistoryRateBurst:     envInt("PROVIDER_HISTORY_BURST", 10),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Server: ServerConfig{
			Addr:               envOr("HTTP_ADDR", ":8080"),
			RateLimitPerSecond: envInt("HTTP_RATE_LIMIT_PER_SECOND", 20),
			RateLimitBurst:     envInt("HTTP_RATE_LIMIT_BURST", 40),
		},
		Reconcile: ReconcileConfig{
			MaxAttempts:  envInt("RECONCILE_MAX_ATTEMPTS", 30),
			PollInterval: envDuration("RECONCILE_POLL_INTERVAL", 20*time.Second),
		},
		Sweep: SweepConfig{
			Interval:         envDuration("SWEEP_INTERVAL", 5*time.Minute),
			ErrorBackoff:     envDuration("SWEEP_ERROR_BACKOFF", time.Minute),
			WarningThreshold: envDuration("SWEEP_WARNING_THRESHOLD", time.Hour),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: envBool("METRICS_ENABLED", true),
			LogLevel:       envOr("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN is required")
	}
	if c.Provider.AccessToken == "" {
		return fmt.Errorf("YOOMONEY_ACCESS_TOKEN is required")
	}
	if c.Provider.Receiver == "" {
		return fmt.Errorf("YOOMONEY_RECEIVER is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Reconcile.MaxAttempts <= 0 {
		return fmt.Errorf("RECONCILE_MAX_ATTEMPTS must be positive")
	}
	if c.Reconcile.PollInterval <= 0 {
		return fmt.Errorf("RECONCILE_POLL_INTERVAL must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func parseInt64List(raw string) []int64 {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if id, err := strconv.ParseInt(p, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}
