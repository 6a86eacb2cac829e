// Package config loads engine configuration from a YAML file with
// environment overrides for secrets. Everything is validated once at
// startup: missing required settings are a fatal ConfigurationError, never
// a runtime retry condition.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// EnvRelayerKeys overrides the relayer_keys file setting so private keys
// never have to live in the config file. Comma-separated hex keys.
const EnvRelayerKeys = "MERIDIAN_RELAYER_KEYS"

// ConfigurationError reports bad or missing startup configuration.
// Configuration errors are fatal: they surface at load or on first use and
// are never retried.
type ConfigurationError struct {
	Setting string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("configuration: %s: %s", e.Setting, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the cause to errors.Is/As.
func (e *ConfigurationError) Unwrap() error { return e.Err }

// Duration is a time.Duration that unmarshals from YAML strings like
// "5s" or "750ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// RetryConfig are the executor parameters for network-facing steps.
type RetryConfig struct {
	Attempts  int      `yaml:"attempts"`
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
	Timeout   Duration `yaml:"timeout"`
}

// Config is the full engine configuration.
type Config struct {
	DatabasePath string `yaml:"database_path"`

	SourceRPCURL     string `yaml:"source_rpc_url"`
	SourceChainID    int64  `yaml:"source_chain_id"`
	MinConfirmations uint64 `yaml:"min_confirmations"`

	DestinationRPCURL string `yaml:"destination_rpc_url"`
	SignerURL         string `yaml:"signer_url"`
	TokenContract     string `yaml:"token_contract"`

	// RelayerKeys holds comma-separated hex private keys. Normally left
	// empty in the file and supplied via MERIDIAN_RELAYER_KEYS.
	RelayerKeys string `yaml:"relayer_keys"`

	BalanceCacheTTL Duration `yaml:"balance_cache_ttl"`
	MutexTTL        Duration `yaml:"mutex_ttl"`

	Retry RetryConfig `yaml:"retry"`

	// ReserveAttempts bounds the relayer selection loop; contention uses
	// a short fixed backoff, not the exponential executor.
	ReserveAttempts int      `yaml:"reserve_attempts"`
	ReserveBackoff  Duration `yaml:"reserve_backoff"`

	// LargeAmountThreshold flags records as "large" in the audit trail.
	// Annotation only - it never gates settlement. Smallest units;
	// empty disables the flag.
	LargeAmountThreshold string `yaml:"large_amount_threshold"`
}

// Defaults applied by Load for unset optional settings.
const (
	DefaultMinConfirmations = uint64(2)
	DefaultBalanceCacheTTL  = 5 * time.Second
	DefaultMutexTTL         = 30 * time.Second
	DefaultReserveAttempts  = 3
	DefaultReserveBackoff   = 300 * time.Millisecond
)

// Load reads, overrides and validates configuration from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Setting: "config file", Message: "cannot read " + path, Err: err}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigurationError{Setting: "config file", Message: "cannot parse " + path, Err: err}
	}

	if keys := os.Getenv(EnvRelayerKeys); keys != "" {
		cfg.RelayerKeys = keys
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MinConfirmations == 0 {
		c.MinConfirmations = DefaultMinConfirmations
	}
	if c.BalanceCacheTTL == 0 {
		c.BalanceCacheTTL = Duration(DefaultBalanceCacheTTL)
	}
	if c.MutexTTL == 0 {
		c.MutexTTL = Duration(DefaultMutexTTL)
	}
	if c.ReserveAttempts == 0 {
		c.ReserveAttempts = DefaultReserveAttempts
	}
	if c.ReserveBackoff == 0 {
		c.ReserveBackoff = Duration(DefaultReserveBackoff)
	}
}

// Validate checks the required settings. Retry parameters are optional
// (the executor has its own documented defaults).
func (c *Config) Validate() error {
	required := []struct {
		setting string
		ok      bool
	}{
		{"database_path", c.DatabasePath != ""},
		{"source_rpc_url", c.SourceRPCURL != ""},
		{"source_chain_id", c.SourceChainID != 0},
		{"destination_rpc_url", c.DestinationRPCURL != ""},
		{"signer_url", c.SignerURL != ""},
		{"token_contract", c.TokenContract != ""},
		{"relayer_keys", strings.TrimSpace(c.RelayerKeys) != ""},
	}
	for _, r := range required {
		if !r.ok {
			return &ConfigurationError{Setting: r.setting, Message: "required"}
		}
	}

	if c.LargeAmountThreshold != "" {
		if _, err := decimal.NewFromString(c.LargeAmountThreshold); err != nil {
			return &ConfigurationError{Setting: "large_amount_threshold", Message: "not a decimal", Err: err}
		}
	}
	return nil
}

// RelayerKeyList splits the comma-separated key setting, trimming blanks.
func (c *Config) RelayerKeyList() []string {
	parts := strings.Split(c.RelayerKeys, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}

// LargeThreshold returns the parsed threshold, or false when disabled.
// Validate has already checked the format.
func (c *Config) LargeThreshold() (decimal.Decimal, bool) {
	if c.LargeAmountThreshold == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(c.LargeAmountThreshold)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
