package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a YAML config file: read the file, unmarshal
// over the defaults, then validate the invariants the rest of the core
// assumes hold.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the invariants the rest of the core assumes hold.
func (c *Config) Validate() error {
	if c.Storage.Size <= 0 {
		return fmt.Errorf("storage.size must be positive")
	}
	if c.Storage.Mode != ModeListing && c.Storage.Mode != ModeSampling {
		return fmt.Errorf("storage.mode must be %q or %q, got %q", ModeListing, ModeSampling, c.Storage.Mode)
	}
	if c.Eviction.SoftLimit <= 0 || c.Eviction.SoftLimit >= 1 {
		return fmt.Errorf("eviction.soft_limit must be in (0,1), got %v", c.Eviction.SoftLimit)
	}
	if c.Eviction.HardLimit <= c.Eviction.SoftLimit || c.Eviction.HardLimit >= 1 {
		return fmt.Errorf("eviction.hard_limit must be in (soft_limit,1), got %v", c.Eviction.HardLimit)
	}
	for _, r := range c.Rules {
		if r.Path == "" {
			return fmt.Errorf("rules: a rule with an empty path is not allowed")
		}
	}
	return nil
}
