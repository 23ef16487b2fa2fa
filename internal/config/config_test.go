package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	// Create a temp dir without a config file
	tmpDir := t.TempDir()
	t.Setenv("NOTICEVAULT_HOME", tmpDir)

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.APIPort != 8080 {
		t.Errorf("Server.APIPort = %d, want 8080", cfg.Server.APIPort)
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("Cache.Backend = %q, want memory", cfg.Cache.Backend)
	}
	if cfg.Cache.QueryTTL.Duration != 10*time.Minute {
		t.Errorf("Cache.QueryTTL = %v, want 10m", cfg.Cache.QueryTTL)
	}
	if cfg.Cache.AggregateTTL.Duration != 5*time.Minute {
		t.Errorf("Cache.AggregateTTL = %v, want 5m", cfg.Cache.AggregateTTL)
	}
	if cfg.Sync.Schedule != DefaultSchedule {
		t.Errorf("Sync.Schedule = %q, want %q", cfg.Sync.Schedule, DefaultSchedule)
	}
	if cfg.Sync.PollInterval.Duration != 30*time.Second {
		t.Errorf("Sync.PollInterval = %v, want 30s", cfg.Sync.PollInterval)
	}
	if cfg.Sync.MaxRangeDays != 92 {
		t.Errorf("Sync.MaxRangeDays = %d, want 92", cfg.Sync.MaxRangeDays)
	}
	if len(cfg.Sync.Stages) != 2 {
		t.Errorf("Sync.Stages = %v, want 2 default stages", cfg.Sync.Stages)
	}
	if got, want := cfg.DatabaseDSN(), filepath.Join(tmpDir, "noticevault.db"); got != want {
		t.Errorf("DatabaseDSN() = %q, want %q", got, want)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("NOTICEVAULT_HOME", tmpDir)

	configContent := `
[server]
api_port = 9090
api_key = "test-secret-key"
bind_addr = "0.0.0.0"

[cache]
backend = "redis"
redis_url = "redis://localhost:6379/2"
query_ttl = "2m"

[sync]
schedule = "0 9 * * 1-5"
poll_interval = "10s"
max_range_days = 31

[[sync.stages]]
name = "delivery"
code = "dlvr"
source = "G2B"
url = "https://feed.example/dlvr"

[feed]
service_key = "k"
timeout = "5s"
`
	configPath := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(configPath, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.APIPort != 9090 {
		t.Errorf("Server.APIPort = %d, want 9090", cfg.Server.APIPort)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.RedisURL != "redis://localhost:6379/2" {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.Cache.QueryTTL.Duration != 2*time.Minute {
		t.Errorf("Cache.QueryTTL = %v, want 2m", cfg.Cache.QueryTTL)
	}
	// Unset values keep their defaults.
	if cfg.Cache.AggregateTTL.Duration != 5*time.Minute {
		t.Errorf("Cache.AggregateTTL = %v, want 5m", cfg.Cache.AggregateTTL)
	}
	if cfg.Sync.PollInterval.Duration != 10*time.Second {
		t.Errorf("Sync.PollInterval = %v, want 10s", cfg.Sync.PollInterval)
	}
	if len(cfg.Sync.Stages) != 1 || cfg.Sync.Stages[0].Code != "dlvr" {
		t.Errorf("Sync.Stages = %+v, want one dlvr stage", cfg.Sync.Stages)
	}
	if cfg.Feed.Timeout.Duration != 5*time.Second {
		t.Errorf("Feed.Timeout = %v, want 5s", cfg.Feed.Timeout)
	}
	if cfg.ConfigFilePath() != configPath {
		t.Errorf("ConfigFilePath() = %q, want %q", cfg.ConfigFilePath(), configPath)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad duration", "[sync]\npoll_interval = \"soon\"\n", ""},
		{"redis without url", "[cache]\nbackend = \"redis\"\n", "redis_url"},
		{"unknown backend", "[cache]\nbackend = \"memcached\"\n", "unknown cache.backend"},
		{"bad min date", "[sync]\nmin_sync_date = \"12/01/2025\"\n", "min_sync_date"},
		{"duplicate stage", "[[sync.stages]]\nname = \"a\"\n[[sync.stages]]\nname = \"a\"\n", "duplicate stage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			path := filepath.Join(tmpDir, "config.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path, tmpDir)
			if err == nil {
				t.Fatal("Load() error = nil, want error")
			}
			if tt.wantErr != "" && !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestHomeOverride(t *testing.T) {
	t.Setenv("NOTICEVAULT_HOME", t.TempDir())
	override := t.TempDir()

	cfg, err := Load("", override)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HomeDir != override {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, override)
	}
	if cfg.ConfigFilePath() != filepath.Join(override, "config.toml") {
		t.Errorf("ConfigFilePath() = %q", cfg.ConfigFilePath())
	}
}

func TestDatabaseDSNPostgres(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.Data.DatabaseURL = "postgres://user@localhost/notices"
	if got := cfg.DatabaseDSN(); got != "postgres://user@localhost/notices" {
		t.Errorf("DatabaseDSN() = %q", got)
	}
}

func TestValidateSecure(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"loopback without key", ServerConfig{BindAddr: "127.0.0.1"}, false},
		{"empty bind without key", ServerConfig{}, false},
		{"localhost without key", ServerConfig{BindAddr: "localhost"}, false},
		{"ipv6 loopback", ServerConfig{BindAddr: "::1"}, false},
		{"public without key", ServerConfig{BindAddr: "0.0.0.0"}, true},
		{"public with key", ServerConfig{BindAddr: "0.0.0.0", APIKey: "k"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.ValidateSecure()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSecure() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMinSyncDate(t *testing.T) {
	cfg := Default(t.TempDir())
	d, err := cfg.MinSyncDate()
	if err != nil {
		t.Fatalf("MinSyncDate() error = %v", err)
	}
	if d.Format("2006-01-02") != "2025-12-01" {
		t.Errorf("MinSyncDate() = %s, want 2025-12-01", d.Format("2006-01-02"))
	}

	cfg.Sync.MinSyncDate = ""
	d, err = cfg.MinSyncDate()
	if err != nil || !d.IsZero() {
		t.Errorf("MinSyncDate() with empty value = (%v, %v), want zero, nil", d, err)
	}
}
