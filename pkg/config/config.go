// Package config loads socrate settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all socrate configuration.
type Config struct {
	ListenAddr string        `yaml:"listen_addr"`
	Gateway    GatewayConfig `yaml:"gateway"`
	Store      StoreConfig   `yaml:"store"`
	Diary      DiaryConfig   `yaml:"diary"`
	Log        LogConfig     `yaml:"log"`
}

// GatewayConfig configures how prompts reach the model.
type GatewayConfig struct {
	// URL of a remote proxy. Empty means call the vendor directly with APIKey.
	URL     string        `yaml:"url"`
	Model   string        `yaml:"model"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// StoreConfig configures the in-process session store.
type StoreConfig struct {
	Driver     string        `yaml:"driver"` // memory, sqlite
	Name       string        `yaml:"name"`
	Capacity   int           `yaml:"capacity"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	SweepEvery time.Duration `yaml:"sweep_every"`
}

type DiaryConfig struct {
	Timezone string `yaml:"timezone"`
	Layout   string `yaml:"layout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ListenAddr: ":8080",
		Gateway: GatewayConfig{
			Model:   "gemini-1.5-flash",
			Timeout: 60 * time.Second,
		},
		Store: StoreConfig{
			Driver:     "memory",
			Name:       "socrate",
			Capacity:   1024,
			SessionTTL: 2 * time.Hour,
			SweepEvery: 5 * time.Minute,
		},
		Diary: DiaryConfig{
			Layout: "02/01/2006, 15:04:05",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path (if non-empty) over the defaults, then applies env overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnvOverrides() {
	c.ListenAddr = getenv("SOCRATE_LISTEN_ADDR", c.ListenAddr)
	c.Gateway.URL = getenv("SOCRATE_GATEWAY_URL", c.Gateway.URL)
	c.Gateway.Model = getenv("SOCRATE_MODEL", c.Gateway.Model)
	c.Gateway.APIKey = getenv("GEMINI_API_KEY", c.Gateway.APIKey)
	c.Gateway.Timeout = getenvDuration("SOCRATE_GATEWAY_TIMEOUT", c.Gateway.Timeout)
	c.Store.Driver = getenv("SOCRATE_STORE", c.Store.Driver)
	c.Store.Capacity = getenvInt("SOCRATE_STORE_CAPACITY", c.Store.Capacity)
	c.Store.SessionTTL = getenvDuration("SOCRATE_SESSION_TTL", c.Store.SessionTTL)
	c.Store.SweepEvery = getenvDuration("SOCRATE_SWEEP_EVERY", c.Store.SweepEvery)
	c.Diary.Timezone = getenv("SOCRATE_DIARY_TZ", c.Diary.Timezone)
	c.Log.Level = getenv("SOCRATE_LOG_LEVEL", c.Log.Level)
	c.Log.File = getenv("SOCRATE_LOG_FILE", c.Log.File)
}

// Validate checks values that would otherwise fail later at startup.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("store.driver must be memory or sqlite, got %q", c.Store.Driver))
	}
	if c.Store.SessionTTL <= 0 {
		errs = append(errs, errors.New("store.session_ttl must be positive"))
	}
	if c.Store.SweepEvery <= 0 {
		errs = append(errs, errors.New("store.sweep_every must be positive"))
	}
	if c.Gateway.Timeout < 0 {
		errs = append(errs, errors.New("gateway.timeout must not be negative"))
	}
	if c.Diary.Timezone != "" {
		if _, err := time.LoadLocation(c.Diary.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("diary.timezone: %w", err))
		}
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location resolves the diary time zone, defaulting to the local zone.
func (d DiaryConfig) Location() *time.Location {
	if d.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// SlogLevel parses the configured level name.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
