// Package config handles mcpd configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./mcpd.yaml, ~/.config/mcpd/mcpd.yaml, /etc/mcpd/mcpd.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"mcpd.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mcpd", "mcpd.yaml"))
	}

	paths = append(paths, "/etc/mcpd/mcpd.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all mcpd configuration.
type Config struct {
	// DataDir is the base directory for state files (service registry,
	// usage database). Relative paths in the other fields are resolved
	// against it.
	DataDir string `yaml:"data_dir"`

	// ServicesFile is the persisted MCP service registry (JSON).
	ServicesFile string `yaml:"services_file"`

	// UsageDB is the SQLite database for tool-call accounting.
	// Empty disables usage recording.
	UsageDB string `yaml:"usage_db"`

	// HealthCheckIntervalSec is the liveness probe interval in seconds.
	HealthCheckIntervalSec int `yaml:"health_check_interval_sec"`

	LogLevel string `yaml:"log_level"`
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	return &Config{
		DataDir:                ".",
		ServicesFile:           "mcp_services.json",
		UsageDB:                "",
		HealthCheckIntervalSec: 60,
		LogLevel:               "info",
	}
}

// Load reads and parses the config file at path. Missing fields fall
// back to Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = "."
	}
	if cfg.ServicesFile == "" {
		cfg.ServicesFile = "mcp_services.json"
	}
	if cfg.HealthCheckIntervalSec <= 0 {
		cfg.HealthCheckIntervalSec = 60
	}

	return cfg, nil
}

// ServicesPath returns the service registry path resolved against DataDir.
func (c *Config) ServicesPath() string {
	return c.resolve(c.ServicesFile)
}

// UsagePath returns the usage database path resolved against DataDir,
// or "" if usage recording is disabled.
func (c *Config) UsagePath() string {
	if c.UsageDB == "" {
		return ""
	}
	return c.resolve(c.UsageDB)
}

// HealthCheckInterval returns the probe interval as a duration.
func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalSec) * time.Second
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}
