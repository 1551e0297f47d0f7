// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// KYC enforcement policies for the fund operation.
const (
	KYCPolicyOff   = "off"   // no KYC check
	KYCPolicyWarn  = "warn"  // log unverified parties, allow funding
	KYCPolicyBlock = "block" // reject funding from unverified parties
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Settlement settings
	FundingWindow  time.Duration // counterparty confirmation deadline after first leg funds
	SweepInterval  time.Duration // deadline monitor tick
	SweepBatchSize int           // max escrows per sweep

	// KYC enforcement
	KYCPolicy string // off | warn | block

	// Rate limiting
	RateLimitRPS int
}

// Defaults.
const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultFundingWindow = 24 * time.Hour
	DefaultSweepInterval = 30 * time.Second
	DefaultSweepBatch    = 100
	DefaultRateLimit     = 100
)

// Load reads configuration from environment variables.
// It loads .env first if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", DefaultPort),
		Env:            getEnv("ENV", DefaultEnv),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		FundingWindow:  getEnvDuration("FUNDING_WINDOW", DefaultFundingWindow),
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		SweepBatchSize: getEnvInt("SWEEP_BATCH_SIZE", DefaultSweepBatch),
		KYCPolicy:      getEnv("KYC_POLICY", KYCPolicyOff),
		RateLimitRPS:   getEnvInt("RATE_LIMIT_RPS", DefaultRateLimit),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent.
func (c *Config) Validate() error {
	switch c.KYCPolicy {
	case KYCPolicyOff, KYCPolicyWarn, KYCPolicyBlock:
	default:
		return fmt.Errorf("KYC_POLICY must be one of off, warn, block (got %q)", c.KYCPolicy)
	}

	if c.FundingWindow <= 0 {
		return fmt.Errorf("FUNDING_WINDOW must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.SweepBatchSize <= 0 {
		return fmt.Errorf("SWEEP_BATCH_SIZE must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
