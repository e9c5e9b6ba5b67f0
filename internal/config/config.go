package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 4678
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Env  string `yaml:"env"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// RetentionConfig controls the periodic sweep that deletes old rows.
type RetentionConfig struct {
	ActiveMaxAge   time.Duration `yaml:"active_max_age"`
	ArchivedMaxAge time.Duration `yaml:"archived_max_age"`
	HistoryMaxAge  time.Duration `yaml:"history_max_age"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// ReconcileConfig controls comparison of stored sessions against tmux.
type ReconcileConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

type ClientConfig struct {
	URL string `yaml:"url"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	Retention RetentionConfig `yaml:"retention"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Client    ClientConfig    `yaml:"client"`

	path string
}

// Default returns a config with every field set to its default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
			Env:  "development",
		},
		Database: DatabaseConfig{Path: defaultDBPath()},
		Log:      LogConfig{Level: "info"},
		Retention: RetentionConfig{
			ActiveMaxAge:   24 * time.Hour,
			ArchivedMaxAge: 30 * 24 * time.Hour,
			HistoryMaxAge:  7 * 24 * time.Hour,
			SweepInterval:  time.Hour,
		},
		Reconcile: ReconcileConfig{
			Interval:   30 * time.Second,
			StaleAfter: 24 * time.Hour,
		},
		Client: ClientConfig{URL: fmt.Sprintf("http://%s:%d", DefaultHost, DefaultPort)},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/crabdash/config.yaml, falling back to
// ~/.config/crabdash/config.yaml.
func DefaultPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "crabdash", "config.yaml")
}

func defaultDBPath() string {
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "crabdash.db"
		}
		stateHome = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(stateHome, "crabdash", "state.db")
}

// Load reads the config file at path (DefaultPath when empty) on top of the
// defaults, then applies CRABDASH_* environment overrides. A missing file is
// not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	cfg.path = path

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.Validate()
	return cfg, nil
}

// Path is the file the config was loaded from.
func (c *Config) Path() string {
	return c.path
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("CRABDASH_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("CRABDASH_PORT", c.Server.Port)
	c.Server.Env = getEnv("CRABDASH_ENV", c.Server.Env)
	c.Database.Path = getEnv("CRABDASH_DB", c.Database.Path)
	c.Log.Level = getEnv("CRABDASH_LOG_LEVEL", c.Log.Level)
	c.Client.URL = getEnv("CRABDASH_URL", c.Client.URL)
}

// Validate replaces missing or non-positive values with defaults.
func (c *Config) Validate() {
	d := Default()

	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.Env == "" {
		c.Server.Env = d.Server.Env
	}
	if c.Database.Path == "" {
		c.Database.Path = d.Database.Path
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Client.URL == "" {
		c.Client.URL = d.Client.URL
	}

	positive := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	positive(&c.Retention.ActiveMaxAge, d.Retention.ActiveMaxAge)
	positive(&c.Retention.ArchivedMaxAge, d.Retention.ArchivedMaxAge)
	positive(&c.Retention.HistoryMaxAge, d.Retention.HistoryMaxAge)
	positive(&c.Retention.SweepInterval, d.Retention.SweepInterval)
	positive(&c.Reconcile.Interval, d.Reconcile.Interval)
	positive(&c.Reconcile.StaleAfter, d.Reconcile.StaleAfter)
}

// Addr is the host:port the agent listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
