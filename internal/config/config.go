// Package config loads settings for the draftsync command line tools.
//
// Values come from, in increasing precedence: built-in defaults, an optional
// YAML file, .env.local/.env files and DRAFTSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jdziat/simple-draft-sync/pkg/schedule"
)

// Store drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Push modes
const (
	PushNone      = "none"
	PushSSE       = "sse"
	PushWebSocket = "websocket"
)

// Config holds client and dev server settings.
type Config struct {
	BaseURL       string        `yaml:"base_url"`
	Token         string        `yaml:"token"`
	Push          string        `yaml:"push"`
	PushReconnect time.Duration `yaml:"push_reconnect"`
	Debounce      time.Duration `yaml:"debounce"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	JobTimeout    time.Duration `yaml:"job_timeout"`
	FlushSchedule string        `yaml:"flush_schedule"`
	Store         StoreConfig   `yaml:"store"`
	Backoff       BackoffConfig `yaml:"backoff"`
	Server        ServerConfig  `yaml:"server"`
}

// StoreConfig selects where offline edits are kept.
type StoreConfig struct {
	Driver    string `yaml:"driver"`
	DSN       string `yaml:"dsn"`
	Namespace string `yaml:"namespace"` // redis key prefix
}

// BackoffConfig configures offline replay.
type BackoffConfig struct {
	Base        time.Duration `yaml:"base"`
	Max         time.Duration `yaml:"max"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// ServerConfig configures the dev server.
type ServerConfig struct {
	Addr    string        `yaml:"addr"`
	Token   string        `yaml:"token"`
	AutoRun bool          `yaml:"auto_run"`
	Step    time.Duration `yaml:"step"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		BaseURL:       "http://127.0.0.1:8080",
		Push:          PushSSE,
		PushReconnect: 5 * time.Second,
		Debounce:      2 * time.Second,
		PollInterval:  2 * time.Second,
		JobTimeout:    30 * time.Minute,
		FlushSchedule: "@every 30s",
		Store: StoreConfig{
			Driver:    DriverSQLite,
			DSN:       "draftsync.db",
			Namespace: "draftsync:",
		},
		Backoff: BackoffConfig{
			Base:        time.Second,
			Max:         32 * time.Second,
			MaxAttempts: 8,
		},
		Server: ServerConfig{
			Addr: ":8080",
			Step: 500 * time.Millisecond,
		},
	}
}

// Load reads path (when non-empty), then the environment, and validates the
// result.
func Load(path string) (*Config, error) {
	loadEnvFile()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFile() {
	for _, name := range []string{".env.local", ".env"} {
		if _, err := os.Stat(name); err == nil {
			_ = godotenv.Load(name)
			continue
		}
		cwd, err := os.Getwd()
		if err != nil {
			continue
		}
		parent := filepath.Dir(cwd)
		if parent == "" || parent == cwd {
			continue
		}
		_ = godotenv.Load(filepath.Join(parent, name))
	}
}

func (c *Config) applyEnv() error {
	c.BaseURL = getEnv("DRAFTSYNC_BASE_URL", c.BaseURL)
	c.Token = getEnv("DRAFTSYNC_TOKEN", c.Token)
	c.Push = getEnv("DRAFTSYNC_PUSH", c.Push)
	c.FlushSchedule = getEnv("DRAFTSYNC_FLUSH_SCHEDULE", c.FlushSchedule)
	c.Store.Driver = getEnv("DRAFTSYNC_STORE_DRIVER", c.Store.Driver)
	c.Store.DSN = getEnv("DRAFTSYNC_STORE_DSN", c.Store.DSN)
	c.Store.Namespace = getEnv("DRAFTSYNC_STORE_NAMESPACE", c.Store.Namespace)
	c.Server.Addr = getEnv("DRAFTSYNC_SERVER_ADDR", c.Server.Addr)
	c.Server.Token = getEnv("DRAFTSYNC_SERVER_TOKEN", c.Server.Token)

	var errs []error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"DRAFTSYNC_PUSH_RECONNECT", &c.PushReconnect},
		{"DRAFTSYNC_DEBOUNCE", &c.Debounce},
		{"DRAFTSYNC_POLL_INTERVAL", &c.PollInterval},
		{"DRAFTSYNC_JOB_TIMEOUT", &c.JobTimeout},
		{"DRAFTSYNC_BACKOFF_BASE", &c.Backoff.Base},
		{"DRAFTSYNC_BACKOFF_MAX", &c.Backoff.Max},
		{"DRAFTSYNC_SERVER_STEP", &c.Server.Step},
	}
	for _, d := range durations {
		if err := getEnvAsDuration(d.key, d.dst); err != nil {
			errs = append(errs, err)
		}
	}
	if err := getEnvAsInt("DRAFTSYNC_BACKOFF_MAX_ATTEMPTS", &c.Backoff.MaxAttempts); err != nil {
		errs = append(errs, err)
	}
	if err := getEnvAsBool("DRAFTSYNC_SERVER_AUTORUN", &c.Server.AutoRun); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate rejects settings the tools cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url %q must be an absolute http(s) URL", c.BaseURL)
	}
	switch c.Push {
	case PushNone, PushSSE, PushWebSocket:
	default:
		return fmt.Errorf("push %q must be one of none, sse, websocket", c.Push)
	}
	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres, DriverRedis:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("store.driver %q must be one of sqlite, postgres, redis, memory", c.Store.Driver)
	}
	for name, d := range map[string]time.Duration{
		"debounce":       c.Debounce,
		"poll_interval":  c.PollInterval,
		"job_timeout":    c.JobTimeout,
		"push_reconnect": c.PushReconnect,
		"backoff.base":   c.Backoff.Base,
		"backoff.max":    c.Backoff.Max,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.Backoff.MaxAttempts < 1 {
		return fmt.Errorf("backoff.max_attempts must be at least 1, got %d", c.Backoff.MaxAttempts)
	}
	if _, err := schedule.Parse(c.FlushSchedule); err != nil {
		return fmt.Errorf("flush_schedule: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, dst *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func getEnvAsInt(key string, dst *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func getEnvAsBool(key string, dst *bool) error {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
