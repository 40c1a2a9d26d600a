package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

var knownClassifierProviders = []string{"", "none", "anthropic", "openai"}

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"false"`
	Environment string `env:"APP_ENV" envDefault:"development"`

	// Hex-encoded 32 byte key used to encrypt protocol credentials at rest.
	EncryptionKey string `env:"ENCRYPTION_KEY"`

	GatewayURLs        []string `env:"PROTOCOL_GATEWAY_URLS" envSeparator:"," envDefault:"ws://localhost:3001"`
	DefaultCountryCode string   `env:"DEFAULT_COUNTRY_CODE" envDefault:"55"`
	Timezone           string   `env:"TIMEZONE" envDefault:"America/Sao_Paulo"`

	SendTimeoutSeconds int     `env:"SEND_TIMEOUT_SECONDS" envDefault:"15"`
	SendRatePerSec     float64 `env:"SEND_RATE_PER_SEC" envDefault:"1"`
	SendBurst          int     `env:"SEND_BURST" envDefault:"5"`

	RecoveryDelayMillis int `env:"RECOVERY_DELAY_MS" envDefault:"2000"`
	RecoveryWaitSeconds int `env:"RECOVERY_WAIT_SECONDS" envDefault:"20"`
	LeaseTTLSeconds     int `env:"LEASE_TTL_SECONDS" envDefault:"30"`

	SweepIntervalMinutes int `env:"SWEEP_INTERVAL_MINUTES" envDefault:"10"`
	SweepBatchSize       int `env:"SWEEP_BATCH_SIZE" envDefault:"200"`
	StaleProcessingMins  int `env:"STALE_PROCESSING_MINUTES" envDefault:"15"`
	MaxAttempts          int `env:"MAX_ATTEMPTS" envDefault:"3"`
	RetentionDays        int `env:"RETENTION_DAYS" envDefault:"30"`

	ClassifierProvider       string `env:"CLASSIFIER_PROVIDER" envDefault:"none"`
	ClassifierModel          string `env:"CLASSIFIER_MODEL"`
	ClassifierAPIKey         string `env:"CLASSIFIER_API_KEY"`
	ClassifierBaseURL        string `env:"CLASSIFIER_BASE_URL"`
	ClassifierTimeoutSeconds int    `env:"CLASSIFIER_TIMEOUT_SECONDS" envDefault:"8"`

	PublicRateLimitPerMin int `env:"PUBLIC_RATE_LIMIT_PER_MIN" envDefault:"120"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

func (c *Config) RecoveryDelay() time.Duration {
	return time.Duration(c.RecoveryDelayMillis) * time.Millisecond
}

func (c *Config) RecoveryWait() time.Duration {
	return time.Duration(c.RecoveryWaitSeconds) * time.Second
}

func (c *Config) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

func (c *Config) StaleProcessingAfter() time.Duration {
	return time.Duration(c.StaleProcessingMins) * time.Minute
}

func (c *Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.ClassifierTimeoutSeconds) * time.Second
}

// Location resolves TIMEZONE, falling back to UTC when the zone is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", c.Timezone).Msg("unknown timezone, using UTC")
		return time.UTC
	}
	return loc
}

func (c *Config) Validate() error {
	if len(c.GatewayURLs) == 0 {
		return fmt.Errorf("PROTOCOL_GATEWAY_URLS must list at least one gateway")
	}
	for _, u := range c.GatewayURLs {
		if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			return fmt.Errorf("PROTOCOL_GATEWAY_URLS entry %q must use ws:// or wss://", u)
		}
	}

	if c.EncryptionKey != "" {
		key, err := hex.DecodeString(c.EncryptionKey)
		if err != nil || len(key) != 32 {
			return fmt.Errorf("ENCRYPTION_KEY must be 64 hex characters (generate with: openssl rand -hex 32)")
		}
	} else {
		log.Warn().Msg("ENCRYPTION_KEY is empty: protocol credentials will be stored unencrypted")
	}

	provider := strings.ToLower(c.ClassifierProvider)
	known := false
	for _, p := range knownClassifierProviders {
		if provider == p {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("CLASSIFIER_PROVIDER must be one of none, anthropic, openai")
	}
	if provider != "" && provider != "none" && c.ClassifierAPIKey == "" {
		return fmt.Errorf("CLASSIFIER_API_KEY is required when CLASSIFIER_PROVIDER=%s", provider)
	}

	if c.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be at least 1")
	}
	if c.SweepIntervalMinutes < 1 {
		return fmt.Errorf("SWEEP_INTERVAL_MINUTES must be at least 1")
	}

	return nil
}

// Load reads an optional .env file and then parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded .env file")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
