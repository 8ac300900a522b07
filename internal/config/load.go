package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file and validates it.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with default values so the tool runs on environment
// variables alone.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables. The resolved config is
// re-validated so an env override cannot smuggle in an invalid value.
func Resolve(path string, env EnvOverrides) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	if env.ConfigPath != "" {
		path = env.ConfigPath
	}

	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg, env)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultConfigPath returns the conventional config location:
// $XDG_CONFIG_HOME/dropbox-backup/config.toml, falling back to
// ~/.config/dropbox-backup/config.toml.
func DefaultConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return xdg + "/dropbox-backup/config.toml"
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}

	return home + "/.config/dropbox-backup/config.toml"
}

// applyEnvOverrides copies any set environment values over the file values.
func applyEnvOverrides(cfg *Config, env EnvOverrides) {
	if env.AppKey != "" {
		cfg.Auth.AppKey = env.AppKey
	}

	if env.AppSecret != "" {
		cfg.Auth.AppSecret = env.AppSecret
	}

	if env.AccessToken != "" {
		cfg.Auth.AccessToken = env.AccessToken
	}

	if env.RefreshToken != "" {
		cfg.Auth.RefreshToken = env.RefreshToken
	}

	if env.Destination != "" {
		cfg.Backup.Destination = env.Destination
	}
}
