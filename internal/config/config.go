// Package config loads and validates the core's startup configuration:
// thread pool sizes, cache TTLs, and the per-backend module list (spec.md
// §6). It mirrors objectfs's internal/config nesting and multi-source
// precedence (defaults < file < environment) scaled down to what the core
// actually consumes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// ModuleConfig describes one backend module entry under modules[].
type ModuleConfig struct {
	ModuleName string `yaml:"module_name"`
	ModulePath string `yaml:"module_path"`
	ConfigData string `yaml:"config_data"`
}

// GlobalConfig carries the ambient settings that aren't part of the VFS
// core's own enumerated options but every deployment still needs: log
// level/output and the metrics listener.
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	MetricsPort int    `yaml:"metrics_port"`
}

// Configuration is the root configuration object, populated by NewDefault
// and then optionally overridden by LoadFromFile and LoadFromEnv in that
// order.
type Configuration struct {
	Global             GlobalConfig   `yaml:"global"`
	CoreThreads        int            `yaml:"core_threads"`
	DelegationThreads  int            `yaml:"delegation_threads"`
	CacheTTL           time.Duration  `yaml:"cache_ttl"`
	MaxFDs             int            `yaml:"max_fds"`
	Modules            []ModuleConfig `yaml:"modules"`
}

// NewDefault returns the configuration spec.md §6 documents as defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFile:     "",
			MetricsPort: 9100,
		},
		CoreThreads:       16,
		DelegationThreads: 64,
		CacheTTL:          60 * time.Second,
		MaxFDs:            1024,
		Modules:           nil,
	}
}

// LoadFromFile loads configuration from a YAML file, overlaying onto
// whatever values c already holds (call NewDefault first).
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv overlays environment variables on top of c, taking
// precedence over both defaults and a loaded file.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("VFSCORE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("VFSCORE_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("VFSCORE_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.MetricsPort = port
		}
	}
	if val := os.Getenv("VFSCORE_CORE_THREADS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.CoreThreads = n
		}
	}
	if val := os.Getenv("VFSCORE_DELEGATION_THREADS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.DelegationThreads = n
		}
	}
	if val := os.Getenv("VFSCORE_CACHE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.CacheTTL = d
		} else if secs, err := strconv.Atoi(val); err == nil {
			c.CacheTTL = time.Duration(secs) * time.Second
		}
	}
	if val := os.Getenv("VFSCORE_MAX_FDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.MaxFDs = n
		}
	}

	return nil
}

// SaveToFile writes the configuration out as YAML, creating the parent
// directory if necessary.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var validLogLevels = []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

// Validate checks the loaded configuration for internal consistency before
// the core starts its worker pools.
func (c *Configuration) Validate() error {
	if c.CoreThreads <= 0 {
		return fmt.Errorf("core_threads must be greater than 0")
	}
	if c.DelegationThreads <= 0 {
		return fmt.Errorf("delegation_threads must be greater than 0")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl cannot be negative")
	}
	if c.MaxFDs <= 0 {
		return fmt.Errorf("max_fds must be greater than 0")
	}

	levelValid := false
	for _, level := range validLogLevels {
		if strings.EqualFold(c.Global.LogLevel, level) {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	seen := make(map[string]bool, len(c.Modules))
	for _, m := range c.Modules {
		if m.ModuleName == "" {
			return fmt.Errorf("modules[]: module_name cannot be empty")
		}
		if seen[m.ModuleName] {
			return fmt.Errorf("modules[]: duplicate module_name %q", m.ModuleName)
		}
		seen[m.ModuleName] = true
	}

	return nil
}
