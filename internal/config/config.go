// Package config implements TOML configuration loading for dropbox-backup
// with a three-layer override chain: defaults -> config file -> environment.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Auth      AuthConfig      `toml:"auth"`
	Backup    BackupConfig    `toml:"backup"`
	Transfers TransfersConfig `toml:"transfers"`
	Logging   LoggingConfig   `toml:"logging"`
	Ledger    LedgerConfig    `toml:"ledger"`
}

// AuthConfig holds the Dropbox app credentials and token pair. The token
// file, when set, persists rotated tokens across runs and takes precedence
// over the static tokens here.
type AuthConfig struct {
	AppKey       string `toml:"app_key"`
	AppSecret    string `toml:"app_secret"`
	AccessToken  string `toml:"access_token"`
	RefreshToken string `toml:"refresh_token"`
	TokenFile    string `toml:"token_file"`
}

// BackupConfig controls what is mirrored and where.
type BackupConfig struct {
	Destination string `toml:"destination"`
	RemoteRoot  string `toml:"remote_root"`
}

// TransfersConfig controls request concurrency, pacing, and the retry policy.
type TransfersConfig struct {
	Concurrency  int     `toml:"concurrency"`
	RequestDelay string  `toml:"request_delay"`
	MaxRetries   int     `toml:"max_retries"`
	RetryDelay   string  `toml:"retry_delay"`
	RetryBackoff float64 `toml:"retry_backoff"`
}

// LoggingConfig controls log output: level and format.
// Format "auto" picks text on a terminal and JSON otherwise.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// LedgerConfig controls the diagnostic run ledger. An empty path disables it.
type LedgerConfig struct {
	Path string `toml:"path"`
}

// Default values, the "layer 0" of the override chain.
const (
	defaultDestination  = "./backup"
	defaultConcurrency  = 30
	defaultRequestDelay = "500ms"
	defaultMaxRetries   = 10
	defaultRetryDelay   = "2s"
	defaultRetryBackoff = 2.0
	defaultLogLevel     = "info"
	defaultLogFormat    = "auto"
)

// DefaultConfig returns a Config populated with all default values. Used as
// the starting point for TOML decoding so unset fields retain defaults, and
// as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Backup: BackupConfig{
			Destination: defaultDestination,
		},
		Transfers: TransfersConfig{
			Concurrency:  defaultConcurrency,
			RequestDelay: defaultRequestDelay,
			MaxRetries:   defaultMaxRetries,
			RetryDelay:   defaultRetryDelay,
			RetryBackoff: defaultRetryBackoff,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
