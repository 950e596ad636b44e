package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Keys understood by Load. Flags and env vars bind to these names.
const (
	KeyDataDir             = "data_dir"
	KeyChain               = "chain"
	KeyLogEnv              = "log.env"
	KeyPollInterval        = "device.poll_interval"
	KeyMaxPinLength        = "secret.max_pin_length"
	KeyBootstrapPassphrase = "signing.bootstrap_passphrase"
	KeyWatchInterval       = "signing.watch_interval"
	KeyConcurrency         = "signing.concurrency"
	KeyMetricsAddr         = "metrics.addr"
	KeyCurrentAddress      = "wallet.current_address"
)

const (
	DefaultPollInterval        = time.Second
	DefaultMaxPinLength        = 10
	DefaultBootstrapPassphrase = "default"
	DefaultWatchInterval       = 2 * time.Second
	DefaultConcurrency         = 4
)

// Config is the resolved runtime configuration.
type Config struct {
	DataDir string
	Chain   string
	LogEnv  string

	PollInterval time.Duration
	MaxPinLength int

	BootstrapPassphrase string
	WatchInterval       time.Duration
	Concurrency         int

	MetricsAddr    string
	CurrentAddress string
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyDataDir, DefaultDataDir())
	v.SetDefault(KeyChain, "ethereum")
	v.SetDefault(KeyLogEnv, "development")
	v.SetDefault(KeyPollInterval, DefaultPollInterval)
	v.SetDefault(KeyMaxPinLength, DefaultMaxPinLength)
	v.SetDefault(KeyBootstrapPassphrase, DefaultBootstrapPassphrase)
	v.SetDefault(KeyWatchInterval, DefaultWatchInterval)
	v.SetDefault(KeyConcurrency, DefaultConcurrency)
}

// Load reads and validates the configuration from v.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{
		DataDir:             v.GetString(KeyDataDir),
		Chain:               v.GetString(KeyChain),
		LogEnv:              v.GetString(KeyLogEnv),
		PollInterval:        v.GetDuration(KeyPollInterval),
		MaxPinLength:        v.GetInt(KeyMaxPinLength),
		BootstrapPassphrase: v.GetString(KeyBootstrapPassphrase),
		WatchInterval:       v.GetDuration(KeyWatchInterval),
		Concurrency:         v.GetInt(KeyConcurrency),
		MetricsAddr:         v.GetString(KeyMetricsAddr),
		CurrentAddress:      v.GetString(KeyCurrentAddress),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%s is required", KeyDataDir)
	}
	if c.Chain == "" {
		return fmt.Errorf("%s is required", KeyChain)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%s must be positive, got %s", KeyPollInterval, c.PollInterval)
	}
	if c.MaxPinLength < 1 || c.MaxPinLength > 50 {
		return fmt.Errorf("%s must be between 1 and 50, got %d", KeyMaxPinLength, c.MaxPinLength)
	}
	if c.WatchInterval <= 0 {
		return fmt.Errorf("%s must be positive, got %s", KeyWatchInterval, c.WatchInterval)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", KeyConcurrency, c.Concurrency)
	}
	return nil
}

// DefaultDataDir returns $HOME/.hwsign, or .hwsign when the home directory
// cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hwsign"
	}
	return filepath.Join(home, ".hwsign")
}
