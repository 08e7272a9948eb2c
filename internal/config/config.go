// Package config provides YAML configuration with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/airq-visualizer/backend/internal/quality"
	"github.com/airq-visualizer/backend/internal/view/mapview"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// AppConfig is the root configuration.
type AppConfig struct {
	Server     ServerConfig        `yaml:"server" mapstructure:"server"`
	Snapshot   SnapshotConfig      `yaml:"snapshot" mapstructure:"snapshot"`
	Thresholds quality.Thresholds  `yaml:"thresholds" mapstructure:"thresholds"`
	Refresh    RefreshConfig       `yaml:"refresh" mapstructure:"refresh"`
	Map        mapview.ImageConfig `yaml:"map" mapstructure:"map"`
	Display    DisplayConfig       `yaml:"display" mapstructure:"display"`
	Sessions   SessionsConfig      `yaml:"sessions" mapstructure:"sessions"`
	History    HistoryConfig       `yaml:"history" mapstructure:"history"`
	Logging    LoggingConfig       `yaml:"logging" mapstructure:"logging"`

	// ConfigDir is the directory of the loaded file; relative paths resolve
	// against it.
	ConfigDir string `yaml:"-" mapstructure:"-"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port              int    `yaml:"port" mapstructure:"port"`
	BindAddress       string `yaml:"bind_address" mapstructure:"bind_address"`
	EnableCORS        bool   `yaml:"enable_cors" mapstructure:"enable_cors"`
	AllowOrigins      string `yaml:"allow_origins" mapstructure:"allow_origins"`
	ReadTimeout       int    `yaml:"read_timeout_seconds" mapstructure:"read_timeout_seconds"`
	WriteTimeout      int    `yaml:"write_timeout_seconds" mapstructure:"write_timeout_seconds"`
	IdleTimeout       int    `yaml:"idle_timeout_seconds" mapstructure:"idle_timeout_seconds"`
	RequestTimeout    int    `yaml:"request_timeout_seconds" mapstructure:"request_timeout_seconds"`
	BodyLimit         string `yaml:"body_limit" mapstructure:"body_limit"`
	EnableCompression bool   `yaml:"enable_compression" mapstructure:"enable_compression"`
	CompressionLevel  int    `yaml:"compression_level" mapstructure:"compression_level"`
}

// SnapshotConfig says where the snapshot resource lives.
type SnapshotConfig struct {
	// URL is an http(s) URL or a file path, relative to the config directory.
	URL            string `yaml:"url" mapstructure:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// RefreshConfig holds the polling period of each view.
type RefreshConfig struct {
	DashboardIntervalMS int `yaml:"dashboard_interval_ms" mapstructure:"dashboard_interval_ms"`
	MapIntervalMS       int `yaml:"map_interval_ms" mapstructure:"map_interval_ms"`
}

// DisplayConfig controls labels and timestamp rendering.
type DisplayConfig struct {
	Locale   string `yaml:"locale" mapstructure:"locale"`
	Timezone string `yaml:"timezone" mapstructure:"timezone"`
}

// SessionsConfig controls dashboard session lifetime.
type SessionsConfig struct {
	TimeoutMinutes         int `yaml:"timeout_minutes" mapstructure:"timeout_minutes"`
	CleanupIntervalMinutes int `yaml:"cleanup_interval_minutes" mapstructure:"cleanup_interval_minutes"`
	MaxSessions            int `yaml:"max_sessions" mapstructure:"max_sessions"`
}

// HistoryConfig controls the in-memory history index.
type HistoryConfig struct {
	Enabled             bool `yaml:"enabled" mapstructure:"enabled"`
	QueryTimeoutSeconds int  `yaml:"query_timeout_seconds" mapstructure:"query_timeout_seconds"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level                string `yaml:"level" mapstructure:"level"`
	File                 string `yaml:"file" mapstructure:"file"`
	Format               string `yaml:"format" mapstructure:"format"`
	EnableRequestLogging bool   `yaml:"enable_request_logging" mapstructure:"enable_request_logging"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:              8089,
			BindAddress:       "0.0.0.0",
			EnableCORS:        true,
			AllowOrigins:      "*",
			ReadTimeout:       30,
			WriteTimeout:      30,
			IdleTimeout:       120,
			RequestTimeout:    30,
			BodyLimit:         "1M",
			EnableCompression: true,
			CompressionLevel:  5,
		},
		Snapshot: SnapshotConfig{
			URL:            "data.json",
			TimeoutSeconds: 10,
		},
		Thresholds: quality.DefaultThresholds(),
		Refresh: RefreshConfig{
			DashboardIntervalMS: 30000,
			MapIntervalMS:       60000,
		},
		Map: mapview.ImageConfig{
			URL:    "plan.png",
			Width:  1366,
			Height: 768,
		},
		Display: DisplayConfig{
			Locale:   "en",
			Timezone: "UTC",
		},
		Sessions: SessionsConfig{
			TimeoutMinutes:         30,
			CleanupIntervalMinutes: 5,
			MaxSessions:            256,
		},
		History: HistoryConfig{
			Enabled:             true,
			QueryTimeoutSeconds: 5,
		},
		Logging: LoggingConfig{
			Level:                "info",
			Format:               "auto",
			EnableRequestLogging: true,
		},
	}
}

// envBindings maps config keys to environment variables. When several
// variables are listed the first one set wins.
var envBindings = map[string][]string{
	"server.port":                   {"PORT"},
	"snapshot.url":                  {"SNAPSHOT_URL"},
	"thresholds.co2_good":           {"CO2_GOOD_THRESHOLD"},
	"thresholds.co2_moderate":       {"CO2_MODERATE_THRESHOLD"},
	"thresholds.tvoc_good":          {"TVOC_GOOD_THRESHOLD"},
	"thresholds.tvoc_moderate":      {"TVOC_MODERATE_THRESHOLD"},
	"refresh.dashboard_interval_ms": {"DASHBOARD_REFRESH_INTERVAL_MS", "REFRESH_INTERVAL_MS"},
	"refresh.map_interval_ms":       {"MAP_REFRESH_INTERVAL_MS", "REFRESH_INTERVAL_MS"},
	"display.locale":                {"DISPLAY_LOCALE"},
	"display.timezone":              {"DISPLAY_TIMEZONE"},
	"logging.level":                 {"LOG_LEVEL"},
	"logging.file":                  {"LOG_FILE"},
}

// LoadConfig loads configuration from a YAML file, creating it with defaults
// on first run.
func LoadConfig(configPath string) (*AppConfig, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := DefaultConfig().Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := setDefaults(v, DefaultConfig()); err != nil {
		return nil, err
	}
	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		absPath = configPath
	}
	cfg.resolvePaths(filepath.Dir(absPath))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every leaf of def as a viper default so that env
// bindings and partial files both resolve.
func setDefaults(v *viper.Viper, def *AppConfig) error {
	raw, err := yaml.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("failed to read defaults: %w", err)
	}
	var walk func(prefix string, node map[string]interface{})
	walk = func(prefix string, node map[string]interface{}) {
		for k, val := range node {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if child, ok := val.(map[string]interface{}); ok {
				walk(key, child)
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", tree)
	return nil
}

// Save saves the configuration to a YAML file
func (c *AppConfig) Save(configPath string) error {
	output, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	header := []byte("# Air Quality Visualizer Configuration\n# This file is auto-generated on first run\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate rejects settings the service cannot run with.
func (c *AppConfig) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if c.Refresh.DashboardIntervalMS <= 0 {
		return fmt.Errorf("dashboard refresh interval must be positive, got %d ms", c.Refresh.DashboardIntervalMS)
	}
	if c.Refresh.MapIntervalMS <= 0 {
		return fmt.Errorf("map refresh interval must be positive, got %d ms", c.Refresh.MapIntervalMS)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Snapshot.URL) == "" {
		return fmt.Errorf("snapshot url is empty")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	c.ConfigDir = configDir
	if c.Logging.File != "" && !filepath.IsAbs(c.Logging.File) {
		c.Logging.File = filepath.Join(configDir, c.Logging.File)
	}
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// DashboardInterval returns the dashboard polling period.
func (c *AppConfig) DashboardInterval() time.Duration {
	return time.Duration(c.Refresh.DashboardIntervalMS) * time.Millisecond
}

// MapInterval returns the map polling period.
func (c *AppConfig) MapInterval() time.Duration {
	return time.Duration(c.Refresh.MapIntervalMS) * time.Millisecond
}

// SnapshotTimeout bounds a single fetch.
func (c *AppConfig) SnapshotTimeout() time.Duration {
	return time.Duration(c.Snapshot.TimeoutSeconds) * time.Second
}

// SessionTimeout is how long an idle dashboard session lives.
func (c *AppConfig) SessionTimeout() time.Duration {
	return time.Duration(c.Sessions.TimeoutMinutes) * time.Minute
}

// CleanupInterval is how often idle sessions are swept.
func (c *AppConfig) CleanupInterval() time.Duration {
	return time.Duration(c.Sessions.CleanupIntervalMinutes) * time.Minute
}

// Location returns the display time zone.
func (c *AppConfig) Location() (*time.Location, error) {
	if c.Display.Timezone == "" || strings.EqualFold(c.Display.Timezone, "UTC") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Display.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid display timezone %q: %w", c.Display.Timezone, err)
	}
	return loc, nil
}
