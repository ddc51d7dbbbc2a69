// Package config loads streamwatch settings from defaults, a TOML file,
// .env files and STREAMWATCH_* environment variables, in that order of
// increasing precedence. Command-line flags are applied on top by cmd.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverXLSX   = "xlsx"
)

// Config holds application configuration.
type Config struct {
	Store     StoreConfig     `toml:"store"`
	Sweep     SweepConfig     `toml:"sweep"`
	Queue     QueueConfig     `toml:"queue"`
	Retry     RetryConfig     `toml:"retry"`
	Platforms PlatformsConfig `toml:"platforms"`
	Session   SessionConfig   `toml:"session"`
	HTTP      HTTPConfig      `toml:"http"`
	Log       LogConfig       `toml:"log"`
}

type StoreConfig struct {
	Driver   string `toml:"driver" env:"STREAMWATCH_STORE_DRIVER"`
	Path     string `toml:"path" env:"STREAMWATCH_STORE_PATH"`
	Timezone string `toml:"timezone" env:"STREAMWATCH_STORE_TIMEZONE"`
}

type SweepConfig struct {
	Collections []string      `toml:"collections" env:"STREAMWATCH_SWEEP_COLLECTIONS"`
	Archive     string        `toml:"archive" env:"STREAMWATCH_SWEEP_ARCHIVE"`
	Freshness   time.Duration `toml:"freshness" env:"STREAMWATCH_SWEEP_FRESHNESS"`
	Expiry      time.Duration `toml:"expiry" env:"STREAMWATCH_SWEEP_EXPIRY"`
	Interval    time.Duration `toml:"interval" env:"STREAMWATCH_SWEEP_INTERVAL"`
}

type QueueConfig struct {
	Concurrency int           `toml:"concurrency" env:"STREAMWATCH_QUEUE_CONCURRENCY"`
	Pace        time.Duration `toml:"pace" env:"STREAMWATCH_QUEUE_PACE"`
}

type RetryConfig struct {
	MaxRetries        int           `toml:"max_retries" env:"STREAMWATCH_RETRY_MAX_RETRIES"`
	Backoff           time.Duration `toml:"backoff" env:"STREAMWATCH_RETRY_BACKOFF"`
	RateLimitCooldown time.Duration `toml:"rate_limit_cooldown" env:"STREAMWATCH_RETRY_RATE_LIMIT_COOLDOWN"`
	ChallengeDelay    time.Duration `toml:"challenge_delay" env:"STREAMWATCH_RETRY_CHALLENGE_DELAY"`
	ChallengeTimeout  time.Duration `toml:"challenge_timeout" env:"STREAMWATCH_RETRY_CHALLENGE_TIMEOUT"`
}

type PlatformsConfig struct {
	UserAgent      string          `toml:"user_agent" env:"STREAMWATCH_USER_AGENT"`
	RequestTimeout time.Duration   `toml:"request_timeout" env:"STREAMWATCH_REQUEST_TIMEOUT"`
	YouTube        YouTubeConfig   `toml:"youtube"`
	Twitch         TwitchConfig    `toml:"twitch"`
	Facebook       FacebookConfig  `toml:"facebook"`
	Periscope      PeriscopeConfig `toml:"periscope"`
	Instagram      InstagramConfig `toml:"instagram"`
}

// YouTubeConfig enables the YouTube strategy when APIKey is set.
type YouTubeConfig struct {
	APIKey string `toml:"api_key" env:"STREAMWATCH_YOUTUBE_API_KEY"`
}

type TwitchConfig struct {
	Enabled  bool   `toml:"enabled" env:"STREAMWATCH_TWITCH_ENABLED"`
	ClientID string `toml:"client_id" env:"STREAMWATCH_TWITCH_CLIENT_ID"`
	Token    string `toml:"token" env:"STREAMWATCH_TWITCH_TOKEN"`
	// EmbedParent is the site host embedding the Twitch player.
	EmbedParent string `toml:"embed_parent" env:"STREAMWATCH_TWITCH_EMBED_PARENT"`
}

type FacebookConfig struct {
	Enabled bool `toml:"enabled" env:"STREAMWATCH_FACEBOOK_ENABLED"`
}

type PeriscopeConfig struct {
	Enabled bool `toml:"enabled" env:"STREAMWATCH_PERISCOPE_ENABLED"`
}

type InstagramConfig struct {
	Enabled bool `toml:"enabled" env:"STREAMWATCH_INSTAGRAM_ENABLED"`
}

type SessionConfig struct {
	Dir string `toml:"dir" env:"STREAMWATCH_SESSION_DIR"`
}

type HTTPConfig struct {
	// Addr is the listen address of the status server; empty disables it.
	Addr string `toml:"addr" env:"STREAMWATCH_HTTP_ADDR"`
}

type LogConfig struct {
	Level string `toml:"level" env:"STREAMWATCH_LOG_LEVEL"`
}

// DefaultCacheDir returns the streamwatch directory under XDG_CACHE_HOME.
func DefaultCacheDir() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "streamwatch")
}

// DefaultPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "streamwatch", "config.toml")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:   DriverSQLite,
			Path:     filepath.Join(DefaultCacheDir(), "streams.db"),
			Timezone: "America/Chicago",
		},
		Sweep: SweepConfig{
			Collections: []string{"Streams"},
			Archive:     "Expired",
			Freshness:   5 * time.Minute,
			Expiry:      7 * 24 * time.Hour,
			Interval:    5 * time.Minute,
		},
		Queue: QueueConfig{
			Concurrency: 1,
			Pace:        5 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:        3,
			Backoff:           5 * time.Second,
			RateLimitCooldown: 10 * time.Second,
			ChallengeDelay:    5 * time.Second,
			ChallengeTimeout:  2 * time.Minute,
		},
		Platforms: PlatformsConfig{
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			RequestTimeout: 30 * time.Second,
			Twitch:         TwitchConfig{Enabled: true},
			Facebook:       FacebookConfig{Enabled: true},
			Periscope:      PeriscopeConfig{Enabled: true},
		},
		Session: SessionConfig{Dir: filepath.Join(DefaultCacheDir(), "sessions")},
		Log:     LogConfig{Level: "info"},
	}
}

// Load builds the configuration. A missing file at path is only an error
// when required is set, which is the case for an explicit --config.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !errors.Is(err, os.ErrNotExist) || required {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := loadEnvFile(); err != nil {
		return nil, err
	}
	if err := applyEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFile reads ENV_FILE, or .env in the working directory. Variables
// already set in the environment win.
func loadEnvFile() error {
	path := ".env"
	if p := os.Getenv("ENV_FILE"); p != "" {
		path = p
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

var durationType = reflect.TypeFor[time.Duration]()

func applyEnv(v reflect.Value) error {
	t := v.Type()
	for i := range v.NumField() {
		field := v.Field(i)
		if field.Kind() == reflect.Struct {
			if err := applyEnv(field); err != nil {
				return err
			}
			continue
		}

		name := t.Field(i).Tag.Get("env")
		if name == "" {
			continue
		}
		val, ok := os.LookupEnv(name)
		if !ok || val == "" {
			continue
		}
		if err := setField(field, val); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func setField(field reflect.Value, val string) error {
	switch {
	case field.Type() == durationType:
		d, err := parseDuration(val)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
	case field.Kind() == reflect.String:
		field.SetString(val)
	case field.Kind() == reflect.Int:
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		field.SetInt(int64(n))
	case field.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		var parts []string
		for p := range strings.SplitSeq(val, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

// parseDuration accepts Go durations and bare numbers of seconds.
func parseDuration(val string) (time.Duration, error) {
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(val)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite, DriverXLSX:
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	if c.Store.Path == "" {
		return errors.New("store.path is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if len(c.Sweep.Collections) == 0 {
		return errors.New("sweep.collections must not be empty")
	}
	if c.Sweep.Archive == "" {
		return errors.New("sweep.archive is required")
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("queue.concurrency must be positive, got %d", c.Queue.Concurrency)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries)
	}
	for name, d := range map[string]time.Duration{
		"sweep.freshness":         c.Sweep.Freshness,
		"sweep.expiry":            c.Sweep.Expiry,
		"sweep.interval":          c.Sweep.Interval,
		"queue.pace":              c.Queue.Pace,
		"retry.backoff":           c.Retry.Backoff,
		"retry.challenge_timeout": c.Retry.ChallengeTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}

// Location loads the store timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Store.Timezone)
	if err != nil {
		return nil, fmt.Errorf("store.timezone: %w", err)
	}
	return loc, nil
}
