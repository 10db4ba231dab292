// Package config provides configuration management for caskyd.
package config

import (
	"encoding/json"
	"os"
)

// Config holds the caskyd daemon configuration.
type Config struct {
	// Server settings
	Addr    string `json:"addr"`
	DataDir string `json:"data_dir"`

	// Logging
	LogLevel string `json:"log_level"`

	// Performance / connection handling
	MaxClients int `json:"max_clients"`

	// Engine policy
	SyncOnWrite bool `json:"sync_on_write"`
	ThreadSafe  bool `json:"thread_safe"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:        ":5050",
		DataDir:     "data",
		LogLevel:    "info",
		MaxClients:  1000,
		SyncOnWrite: false,
		ThreadSafe:  true,
	}
}

// Load loads configuration from a JSON file. A missing file is not an
// error: it yields DefaultConfig() unchanged, so callers can always call
// Load unconditionally before applying flag/env overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a JSON file.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
