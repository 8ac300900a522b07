package config

import (
	"fmt"
	"strings"
	"time"
)

// validLogLevels and validLogFormats enumerate the accepted logging values.
var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"auto", "text", "json"}
)

// Validate checks structural validity: parseable durations, sane numeric
// ranges, known enum values. Credential presence is checked separately by
// ValidateAuth because some commands (version) run without credentials.
func Validate(cfg *Config) error {
	if cfg.Backup.Destination == "" {
		return fmt.Errorf("backup.destination must not be empty")
	}

	if cfg.Transfers.Concurrency < 1 {
		return fmt.Errorf("transfers.concurrency must be at least 1, got %d", cfg.Transfers.Concurrency)
	}

	if cfg.Transfers.MaxRetries < 1 {
		return fmt.Errorf("transfers.max_retries must be at least 1, got %d", cfg.Transfers.MaxRetries)
	}

	if cfg.Transfers.RetryBackoff < 1 {
		return fmt.Errorf("transfers.retry_backoff must be at least 1, got %g", cfg.Transfers.RetryBackoff)
	}

	if _, err := cfg.ParsedRequestDelay(); err != nil {
		return err
	}

	if _, err := cfg.ParsedRetryDelay(); err != nil {
		return err
	}

	if !contains(validLogLevels, cfg.Logging.LogLevel) {
		return fmt.Errorf("logging.log_level must be one of %s, got %q",
			strings.Join(validLogLevels, ", "), cfg.Logging.LogLevel)
	}

	if !contains(validLogFormats, cfg.Logging.LogFormat) {
		return fmt.Errorf("logging.log_format must be one of %s, got %q",
			strings.Join(validLogFormats, ", "), cfg.Logging.LogFormat)
	}

	// Remote root is either empty (account root) or an absolute Dropbox path.
	if rr := cfg.Backup.RemoteRoot; rr != "" && !strings.HasPrefix(rr, "/") {
		return fmt.Errorf("backup.remote_root must start with %q, got %q", "/", rr)
	}

	return nil
}

// ValidateAuth checks that the credentials needed for a backup run are
// present: a refresh token plus the app key/secret to exchange it.
func ValidateAuth(cfg *Config) error {
	if cfg.Auth.RefreshToken == "" {
		return fmt.Errorf("auth.refresh_token is required (or set %s)", EnvRefreshToken)
	}

	if cfg.Auth.AppKey == "" {
		return fmt.Errorf("auth.app_key is required (or set %s)", EnvAppKey)
	}

	if cfg.Auth.AppSecret == "" {
		return fmt.Errorf("auth.app_secret is required (or set %s)", EnvAppSecret)
	}

	return nil
}

// ParsedRequestDelay returns transfers.request_delay as a duration.
func (c *Config) ParsedRequestDelay() (time.Duration, error) {
	d, err := time.ParseDuration(c.Transfers.RequestDelay)
	if err != nil {
		return 0, fmt.Errorf("transfers.request_delay: invalid duration %q: %w", c.Transfers.RequestDelay, err)
	}

	if d < 0 {
		return 0, fmt.Errorf("transfers.request_delay must be non-negative, got %s", d)
	}

	return d, nil
}

// ParsedRetryDelay returns transfers.retry_delay as a duration.
func (c *Config) ParsedRetryDelay() (time.Duration, error) {
	d, err := time.ParseDuration(c.Transfers.RetryDelay)
	if err != nil {
		return 0, fmt.Errorf("transfers.retry_delay: invalid duration %q: %w", c.Transfers.RetryDelay, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("transfers.retry_delay must be positive, got %s", d)
	}

	return d, nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}

	return false
}
