// Package config provides configuration loading and management for
// prairiestack. It handles loading configuration from YAML files and
// provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Selection parameters
	Selection struct {
		// Plane is the optical plane index to reassemble, -1 to default
		// to the sole plane of a single-plane acquisition
		Plane int `yaml:"plane"`

		// Channel is the detection channel to reassemble, -1 to default
		// to the sole channel of a single-channel acquisition
		Channel int `yaml:"channel"`
	} `yaml:"selection"`

	// Output parameters
	Output struct {
		// Dir is the directory output stacks are written to
		Dir string `yaml:"dir"`

		// Prefix overrides the output name stem; empty uses the common
		// prefix of the source file names
		Prefix string `yaml:"prefix"`

		// Overwrite regenerates output that already exists
		Overwrite bool `yaml:"overwrite"`

		// GBPerFile splits legacy-layout output into parts of roughly
		// this many gigabytes; 0 disables splitting
		GBPerFile float64 `yaml:"gbPerFile"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Selections default to "unset" so single-plane, single-channel
	// acquisitions work without flags.
	cfg.Selection.Plane = -1
	cfg.Selection.Channel = -1

	cfg.Output.Dir = "."
	cfg.Output.Prefix = ""
	cfg.Output.Overwrite = false
	cfg.Output.GBPerFile = 0

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// SplitBytes converts the configured gigabytes-per-file limit to bytes.
func (c *Config) SplitBytes() int64 {
	return int64(c.Output.GBPerFile * 1024 * 1024 * 1024)
}
