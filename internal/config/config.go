package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/subbot-linker/internal/util"
)

type Config struct {
	Port                   int    `env:"PORT" envDefault:"8080"`
	DatabaseURL            string `env:"DATABASE_URL,required"`
	RedisURL               string `env:"REDIS_URL"`
	APIToken               string `env:"API_TOKEN"`
	EncryptionKey          string `env:"ENCRYPTION_KEY"`
	LogLevel               string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile                string `env:"LOG_FILE"`
	SessionTTLSeconds      int    `env:"SESSION_TTL_SECONDS" envDefault:"600"`
	SweepIntervalSeconds   int    `env:"SWEEP_INTERVAL_SECONDS" envDefault:"300"`
	PairingMaxAttempts     int    `env:"PAIRING_MAX_ATTEMPTS" envDefault:"3"`
	PairingRetryDelayMs    int    `env:"PAIRING_RETRY_DELAY_MS" envDefault:"2000"`
	PairingTimeoutSeconds  int    `env:"PAIRING_TIMEOUT_SECONDS" envDefault:"30"`
	PairingKeysWaitSeconds int    `env:"PAIRING_KEYS_WAIT_SECONDS" envDefault:"10"`
	CreateLimitPerMin      int    `env:"CREATE_LIMIT_PER_MIN" envDefault:"5"`
	DeviceDisplayName      string `env:"DEVICE_DISPLAY_NAME" envDefault:"Chrome (Linux)"`
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c *Config) PairingRetryDelay() time.Duration {
	return time.Duration(c.PairingRetryDelayMs) * time.Millisecond
}

func (c *Config) PairingTimeout() time.Duration {
	return time.Duration(c.PairingTimeoutSeconds) * time.Second
}

func (c *Config) PairingKeysWait() time.Duration {
	return time.Duration(c.PairingKeysWaitSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.SessionTTLSeconds <= 0 {
		return fmt.Errorf("SESSION_TTL_SECONDS must be positive")
	}
	if c.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_SECONDS must be positive")
	}
	if c.PairingMaxAttempts <= 0 {
		return fmt.Errorf("PAIRING_MAX_ATTEMPTS must be positive")
	}
	if c.PairingTimeoutSeconds <= 0 {
		return fmt.Errorf("PAIRING_TIMEOUT_SECONDS must be positive")
	}
	if c.EncryptionKey != "" {
		if err := util.ValidateKey(c.EncryptionKey); err != nil {
			return fmt.Errorf("ENCRYPTION_KEY: %w", err)
		}
	}

	if isProduction {
		if c.APIToken == "" {
			log.Warn().Msg("API_TOKEN is empty in production: session API is unauthenticated")
		}
		if c.EncryptionKey == "" {
			log.Warn().Msg("ENCRYPTION_KEY is empty in production: auth material will not be encrypted at rest")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
