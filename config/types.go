package config

import (
	"time"
)

// Config holds engine-wide configuration. Zero values are filled with
// defaults by validateConfig, so a partially-populated file (or none at
// all) is always usable.
type Config struct {
	// Log Config
	LogLevel   int    `json:"log_level"`   // e.g., 0 = debug, 1 = info, etc.
	LogFormat  string `json:"log_format"`  // "json" or "console"
	LogSampler bool   `json:"log_sampler"` // if true, samples logs (e.g., 1 in 5)

	// Poller cadence: short interval for the first SlowPollThreshold polls,
	// then the long interval.
	ShortPollIntervalSeconds int `json:"short_poll_interval_seconds"` // default: 15
	LongPollIntervalSeconds  int `json:"long_poll_interval_seconds"`  // default: 30
	SlowPollThreshold        int `json:"slow_poll_threshold"`         // polls before slowing down (default: 10)

	// Per-flow polling timeout. Zero in StartPolling falls back to this.
	DefaultPollTimeoutSeconds int `json:"default_poll_timeout_seconds"` // default: 1800

	// Flow-status cache retention.
	StatusCacheTTLSeconds int `json:"status_cache_ttl_seconds"` // default: 3600

	// Destination chain fallbacks used during flow registration when the
	// chain configuration service cannot supply a chain.
	FallbackNamadaChain string `json:"fallback_namada_chain"` // default: housefire testnet
	FallbackEVMChain    string `json:"fallback_evm_chain"`    // default: sepolia

	// Storage key for the persisted transaction collection blob.
	TransactionsStorageKey string `json:"transactions_storage_key"` // default: "usdc_flow_transactions"

	// Terminal transaction retention used by explicit pruning.
	RetentionPeriodSeconds int `json:"retention_period_seconds"` // default: 30 days
}

// ShortPollInterval returns the fast polling cadence as a duration.
func (c *Config) ShortPollInterval() time.Duration {
	return time.Duration(c.ShortPollIntervalSeconds) * time.Second
}

// LongPollInterval returns the slow polling cadence as a duration.
func (c *Config) LongPollInterval() time.Duration {
	return time.Duration(c.LongPollIntervalSeconds) * time.Second
}

// DefaultPollTimeout returns the default per-flow timeout as a duration.
func (c *Config) DefaultPollTimeout() time.Duration {
	return time.Duration(c.DefaultPollTimeoutSeconds) * time.Second
}

// StatusCacheTTL returns the flow-status cache retention as a duration.
func (c *Config) StatusCacheTTL() time.Duration {
	return time.Duration(c.StatusCacheTTLSeconds) * time.Second
}

// RetentionPeriod returns the terminal transaction retention as a duration.
func (c *Config) RetentionPeriod() time.Duration {
	return time.Duration(c.RetentionPeriodSeconds) * time.Second
}
