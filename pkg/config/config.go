// Package config loads the server configuration from file, environment
// and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/photosync-io/photosync/internal/bytesize"
)

// Config represents the PhotoSync server configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (PHOTOSYNC_* or the legacy unprefixed names)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains the HTTP/HTTPS listener configuration
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Auth contains session signing and login throttling configuration
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`

	// Storage contains data layout overrides
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Quota contains the reservation core configuration
	Quota QuotaConfig `mapstructure:"quota" yaml:"quota"`

	// Subscription contains lifecycle windows and the webhook secret
	Subscription SubscriptionConfig `mapstructure:"subscription" yaml:"subscription"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
}

// ServerConfig contains the listener configuration.
type ServerConfig struct {
	// Port is the plain HTTP listen port
	Port int `mapstructure:"port" validate:"required,gt=0,lte=65535" yaml:"port"`

	// EnableHTTPS starts a TLS listener alongside (or instead of) HTTP
	EnableHTTPS bool `mapstructure:"enable_https" yaml:"enable_https"`

	// HTTPSPort is the TLS listen port
	HTTPSPort int `mapstructure:"https_port" validate:"omitempty,gt=0,lte=65535" yaml:"https_port"`

	// TLSKeyPath and TLSCertPath locate the PEM key pair
	TLSKeyPath  string `mapstructure:"tls_key_path" yaml:"tls_key_path"`
	TLSCertPath string `mapstructure:"tls_cert_path" yaml:"tls_cert_path"`

	// ForceHTTPSRedirect makes the HTTP listener answer 301 to the TLS port
	ForceHTTPSRedirect bool `mapstructure:"force_https_redirect" yaml:"force_https_redirect"`

	// CORSOrigin is the allowed origin; empty allows any
	CORSOrigin string `mapstructure:"cors_origin" yaml:"cors_origin"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// AuthConfig contains session signing and login throttling configuration.
type AuthConfig struct {
	// JWTSecret signs session tokens. The shipped default is refused
	// outside development; see UsingDefaultJWTSecret.
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32" yaml:"jwt_secret"`

	// BcryptRounds is the password hash cost
	BcryptRounds int `mapstructure:"bcrypt_rounds" validate:"required,gte=4,lte=31" yaml:"bcrypt_rounds"`

	// RateLimitWindowMs and RateLimitMax bound login/register attempts
	// per client IP
	RateLimitWindowMs int64 `mapstructure:"rate_limit_window_ms" validate:"required,gt=0" yaml:"rate_limit_window_ms"`
	RateLimitMax      int   `mapstructure:"rate_limit_max" validate:"required,gt=0" yaml:"rate_limit_max"`
}

// RateLimitWindow returns the throttle window as a duration.
func (a AuthConfig) RateLimitWindow() time.Duration {
	return time.Duration(a.RateLimitWindowMs) * time.Millisecond
}

// StorageConfig carries the data layout overrides. Empty fields use the
// layout package's resolution chain.
type StorageConfig struct {
	DataDir          string `mapstructure:"data_dir" yaml:"data_dir"`
	UploadDir        string `mapstructure:"upload_dir" yaml:"upload_dir"`
	DBPath           string `mapstructure:"db_path" yaml:"db_path"`
	CloudDir         string `mapstructure:"cloud_dir" yaml:"cloud_dir"`
	CapacityJSONPath string `mapstructure:"capacity_json_path" yaml:"capacity_json_path"`
}

// QuotaConfig configures the reservation core.
type QuotaConfig struct {
	// MarginBytes is the fixed overhead granted on top of the plan
	MarginBytes bytesize.ByteSize `mapstructure:"margin_bytes" yaml:"margin_bytes"`

	// EnableUploadLock serializes reservations per tenant. Disabling it
	// restores the racy pre-reservation behavior; compat switch only.
	// Pointer so an explicit false survives defaulting.
	EnableUploadLock *bool `mapstructure:"enable_upload_lock" yaml:"enable_upload_lock"`
}

// UploadLockEnabled reports the effective lock setting (default true).
func (q QuotaConfig) UploadLockEnabled() bool {
	return q.EnableUploadLock == nil || *q.EnableUploadLock
}

// SubscriptionConfig configures the plan lifecycle.
type SubscriptionConfig struct {
	GraceDays int `mapstructure:"grace_days" validate:"required,gt=0" yaml:"grace_days"`
	TrialDays int `mapstructure:"trial_days" validate:"required,gt=0" yaml:"trial_days"`

	// RevenueCatWebhookSecret authenticates billing webhooks; empty
	// disables the endpoint
	RevenueCatWebhookSecret string `mapstructure:"revenuecat_webhook_secret" yaml:"revenuecat_webhook_secret"`
}

// DefaultJWTSecret is the development-only signing key. Production
// deployments must override it.
const DefaultJWTSecret = "photosync-development-secret-change-me!"

// UsingDefaultJWTSecret reports whether the shipped signing key is still
// in use. The start command refuses it unless explicitly allowed and
// logs a warning either way.
func (c *Config) UsingDefaultJWTSecret() bool {
	return c.Auth.JWTSecret == DefaultJWTSecret
}

// legacyEnvAliases maps config keys to the unprefixed environment names
// recognized for compatibility with older deployments.
var legacyEnvAliases = map[string][]string{
	"server.port":                           {"PORT"},
	"server.enable_https":                   {"ENABLE_HTTPS"},
	"server.https_port":                     {"HTTPS_PORT"},
	"server.tls_key_path":                   {"TLS_KEY_PATH"},
	"server.tls_cert_path":                  {"TLS_CERT_PATH"},
	"server.force_https_redirect":           {"FORCE_HTTPS_REDIRECT"},
	"auth.jwt_secret":                       {"JWT_SECRET"},
	"auth.bcrypt_rounds":                    {"BCRYPT_ROUNDS"},
	"auth.rate_limit_window_ms":             {"AUTH_RATE_LIMIT_WINDOW_MS"},
	"auth.rate_limit_max":                   {"AUTH_RATE_LIMIT_MAX"},
	"storage.data_dir":                      {"PHOTOSYNC_DATA_DIR"},
	"storage.upload_dir":                    {"UPLOAD_DIR"},
	"storage.db_path":                       {"DB_PATH"},
	"storage.cloud_dir":                     {"CLOUD_DIR"},
	"storage.capacity_json_path":            {"CAPACITY_JSON_PATH"},
	"quota.margin_bytes":                    {"USER_QUOTA_MARGIN_BYTES"},
	"quota.enable_upload_lock":              {"ENABLE_CLOUD_UPLOAD_LOCK"},
	"subscription.grace_days":               {"SUBSCRIPTION_GRACE_DAYS"},
	"subscription.trial_days":               {"TRIAL_DAYS"},
	"subscription.revenuecat_webhook_secret": {"REVENUECAT_WEBHOOK_SECRET"},
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration against its struct tags.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// SaveConfig writes the configuration as YAML. Restricted permissions
// because the file holds the JWT and webhook secrets.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	// PHOTOSYNC_SERVER_PORT style overrides plus the legacy bare names.
	v.SetEnvPrefix("PHOTOSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, aliases := range legacyEnvAliases {
		names := append([]string{key}, aliases...)
		_ = v.BindEnv(names...)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// configDecodeHooks returns a combined decode hook for ByteSize and
// time.Duration values.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "photosync")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "photosync")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
