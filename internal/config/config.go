// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Settlement gateway
	SettlementProvider string // "paystack" or "stripe"
	PaystackSecretKey  string
	PaystackBaseURL    string // Override for tests; empty uses the production API
	StripeAPIKey       string

	// Webhook ingestion
	WebhookSecret string // Shared HMAC-SHA512 key for inbound gateway events

	// Escrow lifecycle
	GraceDays        int    // Days a hold stays HELD before auto-release
	ReminderDays     []int  // Day marks for release reminders
	AutoReleaseAt    string // Daily UTC run time "15:04"
	RemindersAt      string
	ReconciliationAt string

	// Notifications
	MailEndpoint string // HTTP mail provider; empty logs instead of sending
	MailAPIKey   string
	MailFrom     string

	// Security
	AdminSecret  string // Admin API secret
	RateLimitRPS int

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint; empty disables tracing
}

const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultProvider         = "paystack"
	DefaultGraceDays        = 14
	DefaultAutoReleaseAt    = "02:00"
	DefaultRemindersAt      = "09:00"
	DefaultReconciliationAt = "04:00"
	DefaultRateLimit        = 100
	DefaultMailFrom         = "no-reply@perks.app"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		SettlementProvider: getEnv("SETTLEMENT_PROVIDER", DefaultProvider),
		PaystackSecretKey:  os.Getenv("PAYSTACK_SECRET_KEY"),
		PaystackBaseURL:    os.Getenv("PAYSTACK_BASE_URL"),
		StripeAPIKey:       os.Getenv("STRIPE_API_KEY"),
		WebhookSecret:      os.Getenv("WEBHOOK_SECRET"),
		GraceDays:          int(getEnvInt64("ESCROW_GRACE_DAYS", DefaultGraceDays)),
		ReminderDays:       getEnvInts("ESCROW_REMINDER_DAYS", []int{7, 12}),
		AutoReleaseAt:      getEnv("AUTO_RELEASE_AT", DefaultAutoReleaseAt),
		RemindersAt:        getEnv("REMINDERS_AT", DefaultRemindersAt),
		ReconciliationAt:   getEnv("RECONCILIATION_AT", DefaultReconciliationAt),
		MailEndpoint:       os.Getenv("MAIL_ENDPOINT"),
		MailAPIKey:         os.Getenv("MAIL_API_KEY"),
		MailFrom:           getEnv("MAIL_FROM", DefaultMailFrom),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:       int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required")
	}

	switch c.SettlementProvider {
	case "paystack":
		if c.PaystackSecretKey == "" {
			return fmt.Errorf("PAYSTACK_SECRET_KEY is required for the paystack provider")
		}
	case "stripe":
		if c.StripeAPIKey == "" {
			return fmt.Errorf("STRIPE_API_KEY is required for the stripe provider")
		}
	default:
		return fmt.Errorf("SETTLEMENT_PROVIDER must be paystack or stripe, got %q", c.SettlementProvider)
	}

	if c.GraceDays <= 0 {
		return fmt.Errorf("ESCROW_GRACE_DAYS must be positive")
	}
	for _, d := range c.ReminderDays {
		if d <= 0 || d >= c.GraceDays {
			return fmt.Errorf("ESCROW_REMINDER_DAYS entries must be between 1 and %d", c.GraceDays-1)
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvInts parses a comma-separated list of integers.
func getEnvInts(key string, defaultValue []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []int
	for _, part := range strings.Split(value, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return defaultValue
		}
		out = append(out, i)
	}
	return out
}
