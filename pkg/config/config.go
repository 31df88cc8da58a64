package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// PreviewLength returns the configured preview length or the default.
func (c *Config) PreviewLength() int {
	if c.Notify.PreviewLength > 0 {
		return c.Notify.PreviewLength
	}
	return 50
}

// QueueCapacity returns the configured intake queue capacity or the default.
func (c *Config) QueueCapacity() int {
	if c.Notify.QueueCapacity > 0 {
		return c.Notify.QueueCapacity
	}
	return 4096
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEffective loads config from the given path (file) and applies
// environment overrides. It returns the effective config and a boolean
// indicating whether env vars were used.
func LoadEffective(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err != nil {
		cfg = &Config{}
	}
	envUsed := LoadEnvOverrides(cfg)
	return cfg, envUsed, nil
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and the environment variable `BEACONBOND_CONFIG` when the flag was
// not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("BEACONBOND_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
