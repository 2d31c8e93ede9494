package config

import (
	"fmt"
	"net/url"
	"slices"

	"github.com/corpora-ai/corpora-go/internal/i18n"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// Backend connection. The API key is deliberately not required:
	// requests without a credential are legal, the backend answers 401
	// when it wants one.
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base_url cannot be empty", ErrInvalidBaseURL)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidBaseURL, c.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q must use http or https", ErrInvalidBaseURL, c.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %q has no host", ErrInvalidBaseURL, c.BaseURL)
	}

	if c.TimeoutSeconds < 1 || c.TimeoutSeconds > MaxTimeoutSeconds {
		return fmt.Errorf("%w: must be between 1 and %d seconds, got %d",
			ErrInvalidTimeout, MaxTimeoutSeconds, c.TimeoutSeconds)
	}

	if !i18n.IsLanguageSupported(c.Language) {
		return fmt.Errorf("%w: %q, must be one of: %v",
			ErrInvalidLanguage, c.Language, i18n.SupportedLanguages())
	}

	if c.RetryAfterSeconds < 1 || c.RetryAfterSeconds > MaxRetryAfterSeconds {
		return fmt.Errorf("%w: must be between 1 and %d seconds, got %d",
			ErrInvalidRetryAfter, MaxRetryAfterSeconds, c.RetryAfterSeconds)
	}

	if c.RequestRate < 0 {
		return fmt.Errorf("%w: cannot be negative, got %.2f", ErrInvalidRequestRate, c.RequestRate)
	}
	if c.RequestRate > 0 && c.RequestBurst < 1 {
		return fmt.Errorf("%w: must be at least 1 when request_rate is set, got %d",
			ErrInvalidRequestBurst, c.RequestBurst)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, c.LogLevel) {
		return fmt.Errorf("%w: %q, must be one of: %v", ErrInvalidLogLevel, c.LogLevel, validLevels)
	}

	if c.Tracing.Enabled {
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("%w: endpoint cannot be empty when tracing is enabled",
				ErrInvalidTracingEndpoint)
		}
		if c.Tracing.SampleRate < 0.0 || c.Tracing.SampleRate > 1.0 {
			return fmt.Errorf("%w: must be between 0.0 and 1.0, got %.2f",
				ErrInvalidSampleRate, c.Tracing.SampleRate)
		}
	}

	return nil
}
