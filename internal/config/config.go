// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

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

	// Encryption
	EncryptionSecret string // Required. Key material for the crypto vault.

	// Admin access
	AdminIPs         []string // Allowlist of admin source addresses. Empty = no allowlist.
	MaxLoginAttempts int
	LockoutDuration  time.Duration
	SweepInterval    time.Duration // How often failure counters are reset

	// Fraud detection
	FraudDetectionEnabled bool

	// Transfers
	MinimumTransferAmount float64
	DailyTransferCap      float64
	NetMarginRate         float64 // Share of gross order revenue counted as earnings
	TransferTimeout       time.Duration

	// Payment rail
	StripeSecretKey string // Optional. Simulated rail is used when unset.

	// Admin notifications
	AdminWebhookURL    string // Optional. High-severity events are POSTed here.
	AdminWebhookSecret string // HMAC secret for notification signing.

	// Rate limiting
	RateLimitRPM int

	// Tracing
	OTLPEndpoint string
}

// Defaults mirroring the production policy.
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultMaxLoginAttempts = 5
	DefaultLockoutMinutes   = 15
	DefaultSweepMinutes     = 5
	DefaultMinimumTransfer  = 100
	DefaultDailyCap         = 5000
	DefaultNetMarginRate    = 0.7
	DefaultRateLimitRPM     = 60
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:           os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		EncryptionSecret:      os.Getenv("ENCRYPTION_SECRET"),
		AdminIPs:              splitList(os.Getenv("ADMIN_IPS")),
		MaxLoginAttempts:      getEnvInt("MAX_LOGIN_ATTEMPTS", DefaultMaxLoginAttempts),
		LockoutDuration:       time.Duration(getEnvInt("LOCKOUT_MINUTES", DefaultLockoutMinutes)) * time.Minute,
		SweepInterval:         time.Duration(getEnvInt("SWEEP_MINUTES", DefaultSweepMinutes)) * time.Minute,
		FraudDetectionEnabled: getEnvBool("FRAUD_DETECTION_ENABLED", true),
		MinimumTransferAmount: getEnvFloat("MINIMUM_TRANSFER_AMOUNT", DefaultMinimumTransfer),
		DailyTransferCap:      getEnvFloat("DAILY_TRANSFER_CAP", DefaultDailyCap),
		NetMarginRate:         getEnvFloat("NET_MARGIN_RATE", DefaultNetMarginRate),
		TransferTimeout:       time.Duration(getEnvInt("TRANSFER_TIMEOUT_SECONDS", 30)) * time.Second,
		StripeSecretKey:       os.Getenv("STRIPE_SECRET_KEY"),
		AdminWebhookURL:       os.Getenv("ADMIN_WEBHOOK_URL"),
		AdminWebhookSecret:    os.Getenv("ADMIN_WEBHOOK_SECRET"),
		RateLimitRPM:          getEnvInt("RATE_LIMIT_RPM", DefaultRateLimitRPM),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.EncryptionSecret == "" {
		return fmt.Errorf("ENCRYPTION_SECRET is required")
	}
	if len(c.EncryptionSecret) < 16 {
		return fmt.Errorf("ENCRYPTION_SECRET must be at least 16 characters")
	}
	if c.MaxLoginAttempts <= 0 {
		return fmt.Errorf("MAX_LOGIN_ATTEMPTS must be positive")
	}
	if c.MinimumTransferAmount < 0 {
		return fmt.Errorf("MINIMUM_TRANSFER_AMOUNT must not be negative")
	}
	if c.DailyTransferCap < c.MinimumTransferAmount {
		return fmt.Errorf("DAILY_TRANSFER_CAP must be at least MINIMUM_TRANSFER_AMOUNT")
	}
	if c.NetMarginRate <= 0 || c.NetMarginRate > 1 {
		return fmt.Errorf("NET_MARGIN_RATE must be in (0, 1]")
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

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
