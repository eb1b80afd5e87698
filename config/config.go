// Package config loads and validates the engine configuration from a JSON
// file, falling back to embedded defaults for anything unset.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	configSubdir   = "config"
	configFileName = "usdcflow_config.json"
)

//go:embed default_config.json
var defaultConfigJSON []byte

func validateConfig(cfg *Config) error {
	// Validate log level
	if cfg.LogLevel < 0 || cfg.LogLevel > 5 {
		return fmt.Errorf("log level must be between 0 and 5")
	}

	// Validate log format
	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	// Set defaults for the polling cadence
	if cfg.ShortPollIntervalSeconds == 0 {
		cfg.ShortPollIntervalSeconds = 15
	}
	if cfg.LongPollIntervalSeconds == 0 {
		cfg.LongPollIntervalSeconds = 30
	}
	if cfg.SlowPollThreshold == 0 {
		cfg.SlowPollThreshold = 10
	}
	if cfg.ShortPollIntervalSeconds > cfg.LongPollIntervalSeconds {
		return fmt.Errorf("short poll interval must not exceed long poll interval")
	}

	// Set defaults for timeouts and caching
	if cfg.DefaultPollTimeoutSeconds == 0 {
		cfg.DefaultPollTimeoutSeconds = 1800
	}
	if cfg.StatusCacheTTLSeconds == 0 {
		cfg.StatusCacheTTLSeconds = 3600
	}

	// Set defaults for registration fallbacks and storage
	if cfg.FallbackNamadaChain == "" {
		cfg.FallbackNamadaChain = "housefire-alpaca.cc0d3e0c033be"
	}
	if cfg.FallbackEVMChain == "" {
		cfg.FallbackEVMChain = "11155111"
	}
	if cfg.TransactionsStorageKey == "" {
		cfg.TransactionsStorageKey = "usdc_flow_transactions"
	}
	if cfg.RetentionPeriodSeconds == 0 {
		cfg.RetentionPeriodSeconds = 30 * 24 * 3600
	}

	return nil
}

// Save writes the given config to <basePath>/config/usdcflow_config.json.
func Save(cfg *Config, basePath string) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	configDir := filepath.Join(basePath, configSubdir)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := filepath.Join(configDir, configFileName)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads and validates the config from
// <basePath>/config/usdcflow_config.json.
func Load(basePath string) (*Config, error) {
	configFile := filepath.Join(basePath, configSubdir, configFileName)
	data, err := os.ReadFile(filepath.Clean(configFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadDefaultConfig loads the default configuration from embedded JSON.
func LoadDefaultConfig() (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfigJSON, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid default config: %w", err)
	}
	return &cfg, nil
}
