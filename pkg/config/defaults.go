package config

import (
	"time"

	"github.com/photosync-io/photosync/internal/bytesize"
)

// Defaults applied for fields the file and environment leave unset.
const (
	DefaultPort            = 3000
	DefaultHTTPSPort       = 3443
	DefaultBcryptRounds    = 10
	DefaultRateLimitWindow = int64(15 * 60 * 1000) // 15 minutes in ms
	DefaultRateLimitMax    = 30
	DefaultGraceDays       = 3
	DefaultTrialDays       = 7
)

// DefaultQuotaMarginBytes is the fixed per-tenant overhead (50 MiB).
const DefaultQuotaMarginBytes = bytesize.ByteSize(50 * 1024 * 1024)

// GetDefaultConfig returns a fully populated default configuration.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.HTTPSPort == 0 {
		cfg.Server.HTTPSPort = DefaultHTTPSPort
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = DefaultJWTSecret
	}
	if cfg.Auth.BcryptRounds == 0 {
		cfg.Auth.BcryptRounds = DefaultBcryptRounds
	}
	if cfg.Auth.RateLimitWindowMs == 0 {
		cfg.Auth.RateLimitWindowMs = DefaultRateLimitWindow
	}
	if cfg.Auth.RateLimitMax == 0 {
		cfg.Auth.RateLimitMax = DefaultRateLimitMax
	}

	if cfg.Quota.MarginBytes == 0 {
		cfg.Quota.MarginBytes = DefaultQuotaMarginBytes
	}

	if cfg.Subscription.GraceDays == 0 {
		cfg.Subscription.GraceDays = DefaultGraceDays
	}
	if cfg.Subscription.TrialDays == 0 {
		cfg.Subscription.TrialDays = DefaultTrialDays
	}
}
