// Package config handles loading and managing noticevault configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that decodes from TOML strings like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents the noticevault configuration.
type Config struct {
	Data   DataConfig   `toml:"data"`
	Server ServerConfig `toml:"server"`
	Cache  CacheConfig  `toml:"cache"`
	Sync   SyncConfig   `toml:"sync"`
	Feed   FeedConfig   `toml:"feed"`

	// Computed paths (not from config file)
	HomeDir    string `toml:"-"`
	configPath string
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir     string `toml:"data_dir"`
	DatabaseURL string `toml:"database_url"` // postgres:// URL or SQLite path
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	APIPort        int      `toml:"api_port"`        // HTTP server port (default: 8080)
	BindAddr       string   `toml:"bind_addr"`       // Listen address (default: 127.0.0.1)
	APIKey         string   `toml:"api_key"`         // API authentication key
	CORSOrigins    []string `toml:"cors_origins"`    // Allowed CORS origins
	RateLimitRPS   float64  `toml:"rate_limit_rps"`  // Per-IP requests per second
	RateLimitBurst int      `toml:"rate_limit_burst"` // Per-IP burst
}

// CacheConfig selects and tunes the result cache.
type CacheConfig struct {
	Backend      string   `toml:"backend"`       // "memory" or "redis"
	RedisURL     string   `toml:"redis_url"`     // redis://host:6379/0
	KeyPrefix    string   `toml:"key_prefix"`    // Redis key namespace
	QueryTTL     Duration `toml:"query_ttl"`     // Query result lifetime (default: 10m)
	AggregateTTL Duration `toml:"aggregate_ttl"` // New-count and date-set lifetime (default: 5m)
}

// StageConfig describes one upstream feed stage.
type StageConfig struct {
	Name   string `toml:"name"`   // Display name, used in logs and sync events
	Code   string `toml:"code"`   // Stage code passed to the feed
	Source string `toml:"source"` // Source system the stage writes (G2B or K-APT)
	URL    string `toml:"url"`    // Feed endpoint
}

// SyncConfig holds scheduled and manual sync configuration.
type SyncConfig struct {
	Schedule     string        `toml:"schedule"`       // Cron expression for trigger times
	PollInterval Duration      `toml:"poll_interval"`  // How often the trigger is re-evaluated
	MinSyncDate  string        `toml:"min_sync_date"`  // Earliest date a manual sync may start
	MaxRangeDays int           `toml:"max_range_days"` // Manual range limit, exclusive
	Stages       []StageConfig `toml:"stages"`
}

// FeedConfig holds upstream HTTP client settings.
type FeedConfig struct {
	SecondaryURL      string   `toml:"secondary_url"`       // K-APT complex detail endpoint
	ServiceKey        string   `toml:"service_key"`         // Public data portal key
	RequestsPerSecond float64  `toml:"requests_per_second"` // Client-side throttle
	Concurrency       int      `toml:"concurrency"`         // Parallel page fetches per stage
	Timeout           Duration `toml:"timeout"`             // Per-request timeout
}

// DefaultSchedule fires at 08:00, 12:00 and 19:00.
const DefaultSchedule = "0 8,12,19 * * *"

// DefaultHome returns the default noticevault home directory.
// Respects NOTICEVAULT_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("NOTICEVAULT_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".noticevault"
	}
	return filepath.Join(home, ".noticevault")
}

// Default returns a configuration with every default applied.
func Default(homeDir string) *Config {
	return &Config{
		HomeDir: homeDir,
		Data: DataConfig{
			DataDir: homeDir,
		},
		Server: ServerConfig{
			APIPort:        8080,
			BindAddr:       "127.0.0.1",
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		Cache: CacheConfig{
			Backend:      "memory",
			KeyPrefix:    "noticevault",
			QueryTTL:     Duration{10 * time.Minute},
			AggregateTTL: Duration{5 * time.Minute},
		},
		Sync: SyncConfig{
			Schedule:     DefaultSchedule,
			PollInterval: Duration{30 * time.Second},
			MinSyncDate:  "2025-12-01",
			MaxRangeDays: 92,
			Stages: []StageConfig{
				{Name: "G2B", Code: "g2b", Source: "G2B"},
				{Name: "K-APT", Code: "kapt", Source: "K-APT"},
			},
		},
		Feed: FeedConfig{
			RequestsPerSecond: 5,
			Concurrency:       4,
			Timeout:           Duration{30 * time.Second},
		},
	}
}

// Load reads the configuration from the specified file.
// If path is empty, uses <home>/config.toml. homeOverride, when set,
// replaces the default home directory.
func Load(path, homeOverride string) (*Config, error) {
	homeDir := DefaultHome()
	if homeOverride != "" {
		homeDir = expandPath(homeOverride)
	}

	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := Default(homeDir)
	cfg.configPath = path

	// Config file is optional - use defaults if not present
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Expand ~ in paths
	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)
	if cfg.Data.DataDir == "" {
		cfg.Data.DataDir = homeDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that cannot be repaired with a default.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "", "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			return errors.New("cache.redis_url is required when cache.backend = \"redis\"")
		}
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}
	if c.Sync.MaxRangeDays < 1 {
		return fmt.Errorf("sync.max_range_days must be positive, got %d", c.Sync.MaxRangeDays)
	}
	if c.Sync.PollInterval.Duration <= 0 {
		return errors.New("sync.poll_interval must be positive")
	}
	if _, err := c.MinSyncDate(); err != nil {
		return err
	}
	seen := make(map[string]bool)
	for i, st := range c.Sync.Stages {
		if st.Name == "" {
			return fmt.Errorf("sync.stages[%d]: name is required", i)
		}
		if seen[st.Name] {
			return fmt.Errorf("sync.stages[%d]: duplicate stage %q", i, st.Name)
		}
		seen[st.Name] = true
	}
	return nil
}

// MinSyncDate returns the parsed sync.min_sync_date, or the zero time when
// it is unset.
func (c *Config) MinSyncDate() (time.Time, error) {
	if c.Sync.MinSyncDate == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation("2006-01-02", c.Sync.MinSyncDate, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("sync.min_sync_date: %w", err)
	}
	return t, nil
}

// ValidateSecure refuses to expose the API on a non-loopback address
// without an API key.
func (s ServerConfig) ValidateSecure() error {
	if s.APIKey != "" {
		return nil
	}
	if isLoopback(s.BindAddr) {
		return nil
	}
	return fmt.Errorf("refusing to bind API server to %s without [server] api_key", s.BindAddr)
}

func isLoopback(addr string) bool {
	if addr == "" || addr == "localhost" {
		return true
	}
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}

// ConfigFilePath returns the path the configuration was loaded from.
func (c *Config) ConfigFilePath() string {
	if c.configPath != "" {
		return c.configPath
	}
	return filepath.Join(c.HomeDir, "config.toml")
}

// EnsureHomeDir creates the home and data directories.
func (c *Config) EnsureHomeDir() error {
	if err := os.MkdirAll(c.HomeDir, 0700); err != nil {
		return err
	}
	if c.Data.DataDir != "" && c.Data.DataDir != c.HomeDir {
		return os.MkdirAll(c.Data.DataDir, 0700)
	}
	return nil
}

// DatabaseDSN returns the PostgreSQL URL when configured, otherwise the
// path to the SQLite database.
func (c *Config) DatabaseDSN() string {
	if c.Data.DatabaseURL != "" {
		return expandPath(c.Data.DatabaseURL)
	}
	return filepath.Join(c.Data.DataDir, "noticevault.db")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
