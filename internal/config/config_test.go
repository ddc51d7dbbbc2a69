package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

// isolate points the env file at a missing path so a stray .env does not
// leak into the test.
func isolate(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func TestDefaultPath(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")

		path := DefaultPath()

		expected := "/custom/config/streamwatch/config.toml"
		if path != expected {
			t.Errorf("DefaultPath() = %q, want %q", path, expected)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")

		path := DefaultPath()

		if !strings.HasSuffix(path, filepath.Join(".config", "streamwatch", "config.toml")) {
			t.Errorf("DefaultPath() = %q, want suffix .config/streamwatch/config.toml", path)
		}
	})
}

func TestDefaultCacheDir(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/custom/cache")

	if got := DefaultCacheDir(); got != "/custom/cache/streamwatch" {
		t.Errorf("DefaultCacheDir() = %q", got)
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"), false)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.Store.Driver != DriverSQLite {
		t.Errorf("Store.Driver = %q, want %q", cfg.Store.Driver, DriverSQLite)
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Errorf("Retry.MaxRetries = %d, want 3", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.ChallengeTimeout != 2*time.Minute {
		t.Errorf("Retry.ChallengeTimeout = %v, want 2m", cfg.Retry.ChallengeTimeout)
	}
	if cfg.Queue.Concurrency != 1 {
		t.Errorf("Queue.Concurrency = %d, want 1", cfg.Queue.Concurrency)
	}
}

func TestLoad_MissingRequiredFile(t *testing.T) {
	isolate(t)

	if _, err := Load(filepath.Join(t.TempDir(), "none.toml"), true); err == nil {
		t.Error("Load() error = nil, want error for missing --config file")
	}
}

func TestLoad_File(t *testing.T) {
	isolate(t)
	path := writeFile(t, "config.toml", `
[store]
driver = "xlsx"
path = "/data/streams.xlsx"

[sweep]
collections = ["Streams", "Backup"]
freshness = "90s"
interval = "10m"

[queue]
pace = "2s"

[platforms.twitch]
client_id = "abc"
token = "secret"
`)

	cfg, err := Load(path, true)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Store.Driver != DriverXLSX || cfg.Store.Path != "/data/streams.xlsx" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if got := strings.Join(cfg.Sweep.Collections, ","); got != "Streams,Backup" {
		t.Errorf("Sweep.Collections = %q", got)
	}
	if cfg.Sweep.Freshness != 90*time.Second {
		t.Errorf("Sweep.Freshness = %v, want 90s", cfg.Sweep.Freshness)
	}
	if cfg.Queue.Pace != 2*time.Second {
		t.Errorf("Queue.Pace = %v, want 2s", cfg.Queue.Pace)
	}
	// Untouched keys keep their defaults.
	if cfg.Sweep.Archive != "Expired" {
		t.Errorf("Sweep.Archive = %q, want Expired", cfg.Sweep.Archive)
	}
	if !cfg.Platforms.Twitch.Enabled || cfg.Platforms.Twitch.ClientID != "abc" {
		t.Errorf("Platforms.Twitch = %+v", cfg.Platforms.Twitch)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	isolate(t)
	path := writeFile(t, "config.toml", `
[sweep]
collections = ["FromFile"]
interval = "10m"
`)
	t.Setenv("STREAMWATCH_SWEEP_COLLECTIONS", "A, B")
	t.Setenv("STREAMWATCH_SWEEP_INTERVAL", "120")
	t.Setenv("STREAMWATCH_QUEUE_CONCURRENCY", "2")
	t.Setenv("STREAMWATCH_FACEBOOK_ENABLED", "false")

	cfg, err := Load(path, true)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := strings.Join(cfg.Sweep.Collections, ","); got != "A,B" {
		t.Errorf("Sweep.Collections = %q, want A,B", got)
	}
	if cfg.Sweep.Interval != 2*time.Minute {
		t.Errorf("Sweep.Interval = %v, want 2m", cfg.Sweep.Interval)
	}
	if cfg.Queue.Concurrency != 2 {
		t.Errorf("Queue.Concurrency = %d, want 2", cfg.Queue.Concurrency)
	}
	if cfg.Platforms.Facebook.Enabled {
		t.Error("Platforms.Facebook.Enabled = true, want false")
	}
}

func TestLoad_EnvFile(t *testing.T) {
	t.Setenv("ENV_FILE", writeFile(t, "test.env", "STREAMWATCH_YOUTUBE_API_KEY=from-dotenv\nSTREAMWATCH_LOG_LEVEL=debug\n"))
	t.Setenv("STREAMWATCH_LOG_LEVEL", "warn")
	// Variables set by godotenv outlive the test; t.Setenv restores them.
	t.Setenv("STREAMWATCH_YOUTUBE_API_KEY", "")
	os.Unsetenv("STREAMWATCH_YOUTUBE_API_KEY")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"), false)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Platforms.YouTube.APIKey != "from-dotenv" {
		t.Errorf("YouTube.APIKey = %q, want from-dotenv", cfg.Platforms.YouTube.APIKey)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want the environment to win over .env", cfg.Log.Level)
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	isolate(t)
	t.Setenv("STREAMWATCH_QUEUE_CONCURRENCY", "many")

	_, err := Load(filepath.Join(t.TempDir(), "none.toml"), false)
	if err == nil || !strings.Contains(err.Error(), "STREAMWATCH_QUEUE_CONCURRENCY") {
		t.Errorf("Load() error = %v, want it to name the variable", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "postgres" }, "unknown driver"},
		{"no collections", func(c *Config) { c.Sweep.Collections = nil }, "sweep.collections"},
		{"zero concurrency", func(c *Config) { c.Queue.Concurrency = 0 }, "queue.concurrency"},
		{"bad timezone", func(c *Config) { c.Store.Timezone = "Mars/Olympus" }, "store.timezone"},
		{"negative pace", func(c *Config) { c.Queue.Pace = -time.Second }, "queue.pace"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}
