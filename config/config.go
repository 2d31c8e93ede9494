// Package config provides client configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.corpora/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - Backend: base URL and per-request timeout
//   - Credential: inline API key or credential file location
//   - Rate limiting: fallback cool-down window, optional outbound pacing
//   - Localization: language of user-facing messages
//   - Observability: logging and OTLP tracing
//
// Security: the API key is never logged; MarshalJSON and String mask it.
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidBaseURL indicates the backend base URL is invalid.
	ErrInvalidBaseURL = errors.New("invalid base URL")

	// ErrInvalidTimeout indicates the request timeout is out of range.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidLanguage indicates the language is not supported.
	ErrInvalidLanguage = errors.New("unsupported language")

	// ErrInvalidRetryAfter indicates the fallback cool-down is out of range.
	ErrInvalidRetryAfter = errors.New("invalid retry-after fallback")

	// ErrInvalidRequestRate indicates the outbound request rate is invalid.
	ErrInvalidRequestRate = errors.New("invalid request rate")

	// ErrInvalidRequestBurst indicates the outbound burst size is invalid.
	ErrInvalidRequestBurst = errors.New("invalid request burst")

	// ErrInvalidLogLevel indicates the log level is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")

	// ErrInvalidTracingEndpoint indicates tracing is enabled without an endpoint.
	ErrInvalidTracingEndpoint = errors.New("invalid tracing endpoint")

	// ErrInvalidSampleRate indicates the trace sample rate is out of range.
	ErrInvalidSampleRate = errors.New("invalid trace sample rate")
)

const (
	// DefaultBaseURL is the production backend.
	DefaultBaseURL = "https://api.corpora.ai"

	// DefaultTimeoutSeconds is the per-request timeout.
	DefaultTimeoutSeconds = 30

	// MaxTimeoutSeconds is the upper bound for the per-request timeout.
	MaxTimeoutSeconds = 600

	// DefaultRetryAfterSeconds is the cool-down applied when a 429
	// response carries no usable Retry-After value.
	DefaultRetryAfterSeconds = 60

	// MaxRetryAfterSeconds is the upper bound for the fallback cool-down.
	MaxRetryAfterSeconds = 3600
)

// Config stores client configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (API keys, tokens), update MarshalJSON.
type Config struct {
	// Backend connection
	BaseURL        string `mapstructure:"base_url" json:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" json:"timeout_seconds"`

	// Credential. APIKey set here seeds the credential store on first
	// use; CredentialFile overrides where the store persists it
	// (empty = ~/.corpora/credentials).
	APIKey         string `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON
	CredentialFile string `mapstructure:"credential_file" json:"credential_file"`

	// Language of user-facing messages ("fr" or "en")
	Language string `mapstructure:"language" json:"language"`

	// Rate limiting. RetryAfterSeconds is the fallback window after a
	// 429 without a usable Retry-After header. RequestRate throttles
	// outbound requests per second when positive (0 = disabled).
	RetryAfterSeconds int     `mapstructure:"retry_after_seconds" json:"retry_after_seconds"`
	RequestRate       float64 `mapstructure:"request_rate" json:"request_rate"`
	RequestBurst      int     `mapstructure:"request_burst" json:"request_burst"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`

	// Observability (see observability.go for type definitions)
	MetricsEnabled bool          `mapstructure:"metrics_enabled" json:"metrics_enabled"`
	Tracing        TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// Load loads configuration from ~/.corpora/config.yaml, overridden by
// CORPORA_* environment variables.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	return LoadFrom(filepath.Join(home, ".corpora"))
}

// LoadFrom loads configuration with configDir as the config file
// location. Used directly in tests; production code calls Load.
func LoadFrom(configDir string) (*Config, error) {
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	// One viper instance per load: the client is embedded in host
	// applications and must not touch the global viper they may use.
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_path", configDir,
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns the default configuration, the one Load produces
// when no file and no environment overrides exist.
func Default() *Config {
	return &Config{
		BaseURL:           DefaultBaseURL,
		TimeoutSeconds:    DefaultTimeoutSeconds,
		Language:          "fr",
		RetryAfterSeconds: DefaultRetryAfterSeconds,
		RequestBurst:      1,
		LogLevel:          "info",
		Tracing:           defaultTracing(),
	}
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("base_url", DefaultBaseURL)
	v.SetDefault("timeout_seconds", DefaultTimeoutSeconds)

	v.SetDefault("api_key", "")
	v.SetDefault("credential_file", "")

	v.SetDefault("language", "fr")

	v.SetDefault("retry_after_seconds", DefaultRetryAfterSeconds)
	v.SetDefault("request_rate", 0.0)
	v.SetDefault("request_burst", 1)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	v.SetDefault("metrics_enabled", false)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.environment", "dev")
	v.SetDefault("tracing.service_name", "corpora-client")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.insecure", true)
}

// bindEnvVariables binds environment variables explicitly. No
// AutomaticEnv: only the documented CORPORA_* names are read.
func bindEnvVariables(v *viper.Viper) {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail)
	// If this panics, it's a BUG in our code, not a runtime error
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("api_key", "CORPORA_API_KEY")
	mustBind("base_url", "CORPORA_BASE_URL")
	mustBind("credential_file", "CORPORA_CREDENTIAL_FILE")
	mustBind("language", "CORPORA_LANG")
	mustBind("timeout_seconds", "CORPORA_TIMEOUT_SECONDS")
	mustBind("log_level", "CORPORA_LOG_LEVEL")
	mustBind("tracing.enabled", "CORPORA_TRACING_ENABLED")
	mustBind("tracing.endpoint", "CORPORA_TRACING_ENDPOINT")
}

// Timeout returns the per-request timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DefaultRetryAfter returns the fallback cool-down as a duration.
func (c *Config) DefaultRetryAfter() time.Duration {
	return time.Duration(c.RetryAfterSeconds) * time.Second
}

// SlogLevel maps LogLevel to a slog level. Unknown values map to Info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid accidental substring matches against the
// real secret.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of 8
// characters or fewer are fully masked; longer ones keep the first and
// last 2 characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}

	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field
// masking. When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.APIKey = maskSecret(a.APIKey)

	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}

	return string(data)
}
