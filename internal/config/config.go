// Package config loads skillroute settings from config.yaml, .env files,
// and SKILLROUTE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/skillroute/internal/adjust"
	"github.com/nvandessel/skillroute/internal/classify"
	"github.com/nvandessel/skillroute/internal/detector"
	"github.com/nvandessel/skillroute/internal/executor"
	"github.com/nvandessel/skillroute/internal/sanitize"
	"github.com/nvandessel/skillroute/internal/store"
)

// FileName is the config file looked up inside the data directory.
const FileName = "config.yaml"

// Config is the full skillroute configuration.
type Config struct {
	// DataDir holds conversations.json, satisfaction_feedback.json and config.yaml.
	DataDir string `yaml:"data_dir"`

	// CatalogPath points at the tool/skill JSON. Empty uses built-in defaults.
	CatalogPath string `yaml:"catalog_path"`

	// ModelPrefix is the artifact path prefix for the trained classifier.
	ModelPrefix string `yaml:"model_prefix"`

	Store      StoreConfig     `yaml:"store"`
	Logging    LoggingConfig   `yaml:"logging"`
	Classifier classify.Config `yaml:"classifier"`
	Adjuster   adjust.Config   `yaml:"adjuster"`
	Executor   executor.Config `yaml:"executor"`
	Detector   detector.Config `yaml:"detector"`
	Server     ServerConfig    `yaml:"server"`
}

// StoreConfig selects the ledger backend.
type StoreConfig struct {
	// Backend is "json" (default) or "sqlite".
	Backend string `yaml:"backend"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig holds settings for the long-running mcp-server mode.
type ServerConfig struct {
	// MetricsAddr serves Prometheus metrics when non-empty (e.g. ":9464").
	MetricsAddr string `yaml:"metrics_addr"`

	// AnalyzeSchedule is a cron spec for sweeping pending follow-ups.
	AnalyzeSchedule string `yaml:"analyze_schedule"`

	// WatchCatalog reloads the catalog when its file changes.
	WatchCatalog bool `yaml:"watch_catalog"`
}

// Default returns the built-in configuration rooted at dataDir.
func Default(dataDir string) *Config {
	return &Config{
		DataDir: dataDir,
		Store:   StoreConfig{Backend: store.BackendJSON},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
		Classifier: classify.DefaultConfig(),
		Adjuster:   adjust.DefaultConfig(),
		Executor:   executor.DefaultConfig(),
		Detector:   detector.DefaultConfig(),
		Server: ServerConfig{
			AnalyzeSchedule: "@every 1m",
			WatchCatalog:    true,
		},
	}
}

// Load builds a Config from defaults, the config file (if present), and
// environment overrides. If path is empty, <dataDir>/config.yaml is used.
func Load(dataDir, path string) (*Config, error) {
	cfg := Default(dataDir)

	if path == "" && dataDir != "" {
		path = filepath.Join(dataDir, FileName)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// Defaults only
		default:
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	if dataDir != "" && cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}
	cfg.DataDir = sanitize.SanitizeFilePath(cfg.DataDir)
	cfg.CatalogPath = sanitize.SanitizeFilePath(cfg.CatalogPath)
	cfg.ModelPrefix = sanitize.SanitizeFilePath(cfg.ModelPrefix)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the
// process environment. Missing files are ignored; existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SKILLROUTE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("SKILLROUTE_CATALOG"); v != "" {
		c.CatalogPath = v
	}
	if v := os.Getenv("SKILLROUTE_MODEL_PREFIX"); v != "" {
		c.ModelPrefix = v
	}
	if v := os.Getenv("SKILLROUTE_STORE"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("SKILLROUTE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the policy knobs for consistency.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	switch c.Store.Backend {
	case store.BackendJSON, store.BackendSQLite:
	default:
		return fmt.Errorf("unknown store backend %q (want %q or %q)", c.Store.Backend, store.BackendJSON, store.BackendSQLite)
	}
	if err := c.Classifier.Validate(); err != nil {
		return fmt.Errorf("classifier: %w", err)
	}
	if err := c.Adjuster.Validate(); err != nil {
		return fmt.Errorf("adjuster: %w", err)
	}
	if c.Executor.Timeout <= 0 {
		return fmt.Errorf("executor: timeout must be positive")
	}
	return nil
}

// Save writes the configuration as YAML to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
