// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-secretvault.
//
// go-secretvault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML support for strings like "30s"
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the complete client configuration
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Keystore KeystoreConfig `yaml:"keystore"`
	Sync     SyncConfig     `yaml:"sync"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// StorageConfig controls where local vault state lives
type StorageConfig struct {
	// Backend selects the local storage backend: file or memory
	Backend string `yaml:"backend"`

	// DataDir is the root directory for file storage
	DataDir string `yaml:"data_dir"`
}

// KeystoreConfig controls where the identity secret key is held
type KeystoreConfig struct {
	// Backend selects the keystore: keyring, file, or memory. The
	// keyring backend uses the OS-native keychain where available.
	Backend string `yaml:"backend"`

	// ServiceName namespaces keyring entries
	ServiceName string `yaml:"service_name"`

	// FileDir is the fallback directory for the file keyring backend
	FileDir string `yaml:"file_dir"`
}

// SyncConfig controls replication of shared vaults
type SyncConfig struct {
	// Strategy is cached-replica or remote-only. A per-platform choice:
	// remote-only is the fallback where the replica mechanism is
	// unreliable.
	Strategy string `yaml:"strategy"`

	// RemoteDir is a shared directory (typically a network mount) used
	// as the remote row store. Sync is disabled when empty.
	RemoteDir string `yaml:"remote_dir"`

	// RetryBudget bounds retries of a transient remote failure
	RetryBudget uint64 `yaml:"retry_budget"`

	// InitialInterval is the first backoff interval
	InitialInterval Duration `yaml:"initial_interval"`

	// MaxInterval caps the backoff interval
	MaxInterval Duration `yaml:"max_interval"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls sync telemetry collection
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the configuration used when no config file exists
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dataDir := filepath.Join(home, ".secretvault")
	return &Config{
		Storage: StorageConfig{
			Backend: "file",
			DataDir: dataDir,
		},
		Keystore: KeystoreConfig{
			Backend:     "keyring",
			ServiceName: "go-secretvault",
			FileDir:     filepath.Join(dataDir, "keyring"),
		},
		Sync: SyncConfig{
			Strategy:        "cached-replica",
			RetryBudget:     5,
			InitialInterval: Duration(500 * time.Millisecond),
			MaxInterval:     Duration(30 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a YAML file and applies environment
// variable overrides. A missing file yields the defaults with overrides
// applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// #nosec G304 - Config file path is provided by the user
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults plus env
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if backend := os.Getenv("SECRETVAULT_STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if dataDir := os.Getenv("SECRETVAULT_DATA_DIR"); dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if backend := os.Getenv("SECRETVAULT_KEYSTORE_BACKEND"); backend != "" {
		cfg.Keystore.Backend = backend
	}
	if strategy := os.Getenv("SECRETVAULT_SYNC_STRATEGY"); strategy != "" {
		cfg.Sync.Strategy = strategy
	}
	if remoteDir := os.Getenv("SECRETVAULT_SYNC_REMOTE_DIR"); remoteDir != "" {
		cfg.Sync.RemoteDir = remoteDir
	}
	if budget := os.Getenv("SECRETVAULT_SYNC_RETRY_BUDGET"); budget != "" {
		if n, err := strconv.ParseUint(budget, 10, 64); err == nil {
			cfg.Sync.RetryBudget = n
		}
	}
	if level := os.Getenv("SECRETVAULT_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("SECRETVAULT_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "file", "memory":
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}
	if c.Storage.Backend == "file" && c.Storage.DataDir == "" {
		return fmt.Errorf("storage data_dir is required for the file backend")
	}

	switch c.Keystore.Backend {
	case "keyring", "file", "memory":
	default:
		return fmt.Errorf("unknown keystore backend: %s", c.Keystore.Backend)
	}

	switch c.Sync.Strategy {
	case "cached-replica", "remote-only":
	default:
		return fmt.Errorf("unknown sync strategy: %s", c.Sync.Strategy)
	}
	if c.Sync.RetryBudget == 0 {
		return fmt.Errorf("sync retry_budget must be at least 1")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format: %s", c.Logging.Format)
	}
	return nil
}
