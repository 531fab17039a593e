// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	App     AppConfig     `yaml:"app"`
	Storage StorageConfig `yaml:"storage"`
	Modules ModulesConfig `yaml:"modules"`
	Admin   AdminConfig   `yaml:"admin"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// AppConfig configures application-wide behavior.
type AppConfig struct {
	// Locales lists the locales documents may carry localized values for.
	Locales []string `yaml:"locales"`

	// Locale is the default locale; must be one of Locales.
	Locale string `yaml:"locale"`

	Debug bool `yaml:"debug"`

	// Realm enables tenant scoping on every call.
	Realm bool `yaml:"realm"`
}

// StorageConfig configures the document store.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	Path   string `yaml:"path"`   // database file for sqlite
}

// ModulesConfig configures declarative module loading.
type ModulesConfig struct {
	// Dir points at a directory of YAML module manifests, loaded
	// recursively at startup. Empty disables manifest loading.
	Dir string `yaml:"dir"`
}

// AdminConfig configures the first-run administrator account.
type AdminConfig struct {
	Name     string `yaml:"name"`
	Password string `yaml:"password,omitempty"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Addr    string `yaml:"addr"`    // Listen address (default: :9464)
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// This is useful for container deployments where no config file is needed.
//
// Environment variables:
//
//	DOCBASE_LOCALES          - Comma-separated locale list (default: en_US)
//	DOCBASE_LOCALE           - Default locale (default: first of locales)
//	DOCBASE_DEBUG            - Enable debug behavior (default: false)
//	DOCBASE_REALM            - Enable tenant scoping (default: false)
//	DOCBASE_STORAGE_DRIVER   - Storage driver: sqlite or memory (default: sqlite)
//	DOCBASE_STORAGE_PATH     - Database path (default: docbase.db)
//	DOCBASE_MODULES_DIR      - Directory of YAML module manifests
//	DOCBASE_ADMIN_NAME       - Admin account name for first-run bootstrap
//	DOCBASE_ADMIN_PASSWORD   - Admin password for first-run bootstrap
//	DOCBASE_LOG_LEVEL        - Log level: debug, info, warn, error (default: info)
//	DOCBASE_LOG_FORMAT       - Log format: json or console (default: json)
//	DOCBASE_METRICS_ENABLED  - Enable /metrics endpoint (default: false)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment
// variables, and finally to defaults.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies DOCBASE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// App configuration
	if v := os.Getenv("DOCBASE_LOCALES"); v != "" {
		cfg.App.Locales = splitList(v)
	}
	if v := os.Getenv("DOCBASE_LOCALE"); v != "" {
		cfg.App.Locale = v
	}
	if v := os.Getenv("DOCBASE_DEBUG"); v != "" {
		cfg.App.Debug = parseBool(v)
	}
	if v := os.Getenv("DOCBASE_REALM"); v != "" {
		cfg.App.Realm = parseBool(v)
	}

	// Storage configuration
	if v := os.Getenv("DOCBASE_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("DOCBASE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}

	// Module manifests
	if v := os.Getenv("DOCBASE_MODULES_DIR"); v != "" {
		cfg.Modules.Dir = v
	}

	// Admin bootstrap
	if v := os.Getenv("DOCBASE_ADMIN_NAME"); v != "" {
		cfg.Admin.Name = v
	}
	if v := os.Getenv("DOCBASE_ADMIN_PASSWORD"); v != "" {
		cfg.Admin.Password = v
	}

	// Logging configuration
	if v := os.Getenv("DOCBASE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DOCBASE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("DOCBASE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("DOCBASE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("DOCBASE_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setDefaults(cfg *Config) {
	if len(cfg.App.Locales) == 0 {
		cfg.App.Locales = []string{"en_US"}
	}
	if cfg.App.Locale == "" {
		cfg.App.Locale = cfg.App.Locales[0]
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "docbase.db"
	}

	if cfg.Admin.Name == "" {
		cfg.Admin.Name = "admin"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9464"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	validDrivers := map[string]bool{"sqlite": true, "memory": true}
	if !validDrivers[cfg.Storage.Driver] {
		return fmt.Errorf("storage.driver must be 'sqlite' or 'memory', got %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Driver == "sqlite" && cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is required when storage.driver is 'sqlite'")
	}

	found := false
	for _, loc := range cfg.App.Locales {
		if loc == cfg.App.Locale {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("app.locale %q is not in app.locales", cfg.App.Locale)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	return nil
}
