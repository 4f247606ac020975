// Package config loads scouter settings from defaults, an optional TOML
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Storage   StorageConfig   `toml:"storage"`
	Progress  ProgressConfig  `toml:"progress"`
	Capture   CaptureConfig   `toml:"capture"`
	Copy      CopyConfig      `toml:"copy"`
	Retention RetentionConfig `toml:"retention"`
	Log       LogConfig       `toml:"log"`
}

type ServerConfig struct {
	Port           int           `toml:"port"`
	PublicURL      string        `toml:"public_url"`
	CaptureTimeout time.Duration `toml:"capture_timeout"`
	EnhanceTimeout time.Duration `toml:"enhance_timeout"`
	StreamTimeout  time.Duration `toml:"stream_timeout"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// Storage backends.
const (
	StorageLocal = "local"
	StorageGCS   = "gcs"
)

type StorageConfig struct {
	Backend string `toml:"backend"`
	Dir     string `toml:"dir"`
	Bucket  string `toml:"bucket"`
}

// Progress backends.
const (
	ProgressMemory  = "memory"
	ProgressDurable = "durable"
)

type ProgressConfig struct {
	Backend      string        `toml:"backend"`
	PollInterval time.Duration `toml:"poll_interval"`
}

type CaptureConfig struct {
	ChromePath        string        `toml:"chrome_path"`
	UserAgent         string        `toml:"user_agent"`
	NavigationTimeout time.Duration `toml:"navigation_timeout"`
	ActionTimeout     time.Duration `toml:"action_timeout"`
	MaxInteriorPages  int           `toml:"max_interior_pages"`
	FetchTimeout      time.Duration `toml:"fetch_timeout"`
}

type CopyConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float64 `toml:"temperature"`
}

// RetentionConfig controls the expiry sweeper. A zero MaxAge disables it.
type RetentionConfig struct {
	MaxAge    time.Duration `toml:"max_age"`
	Interval  time.Duration `toml:"interval"`
	BatchSize int           `toml:"batch_size"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfigPath returns the config file path under XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "scouter", "config.toml")
}

// DefaultDBPath returns the default database path using XDG_CACHE_HOME.
func DefaultDBPath() string {
	return filepath.Join(cacheDir(), "scouter", "jobs.db")
}

// DefaultAssetDir returns the default local asset directory.
func DefaultAssetDir() string {
	return filepath.Join(cacheDir(), "scouter", "assets")
}

func cacheDir() string {
	dir := os.Getenv("XDG_CACHE_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".cache")
	}
	return dir
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           3000,
			CaptureTimeout: 3 * time.Minute,
			EnhanceTimeout: 3 * time.Minute,
			StreamTimeout:  5 * time.Minute,
		},
		Database: DatabaseConfig{Path: DefaultDBPath()},
		Storage:  StorageConfig{Backend: StorageLocal, Dir: DefaultAssetDir()},
		Progress: ProgressConfig{Backend: ProgressMemory, PollInterval: 500 * time.Millisecond},
		Capture: CaptureConfig{
			NavigationTimeout: 30 * time.Second,
			ActionTimeout:     15 * time.Second,
			MaxInteriorPages:  5,
			FetchTimeout:      30 * time.Second,
		},
		Copy: CopyConfig{
			Model:       "claude-3-5-haiku-latest",
			MaxTokens:   500,
			Temperature: 0.7,
		},
		Retention: RetentionConfig{Interval: time.Hour, BatchSize: 50},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration. An explicit path must exist; otherwise the
// default config file is read only when present.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// applyEnv overrides settings from SCOUTER_* variables and ANTHROPIC_API_KEY.
func (c *Config) applyEnv(getenv func(string) string) {
	if port := getenv("SCOUTER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if v := getenv("SCOUTER_PUBLIC_URL"); v != "" {
		c.Server.PublicURL = v
	}
	if v := getenv("SCOUTER_DB"); v != "" {
		c.Database.Path = v
	}
	if v := getenv("SCOUTER_STORAGE"); v != "" {
		c.Storage.Backend = v
	}
	if v := getenv("SCOUTER_ASSET_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := getenv("SCOUTER_GCS_BUCKET"); v != "" {
		c.Storage.Bucket = v
	}
	if v := getenv("SCOUTER_PROGRESS"); v != "" {
		c.Progress.Backend = v
	}
	if v := getenv("SCOUTER_CHROME_PATH"); v != "" {
		c.Capture.ChromePath = v
	}
	if v := getenv("SCOUTER_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Copy.APIKey = v
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.Dir == "" {
			return errors.New("storage.dir is required for the local backend")
		}
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q: want %q or %q", c.Storage.Backend, StorageLocal, StorageGCS)
	}
	switch c.Progress.Backend {
	case ProgressMemory:
	case ProgressDurable:
		if c.Progress.PollInterval <= 0 {
			return errors.New("progress.poll_interval must be positive")
		}
	default:
		return fmt.Errorf("progress.backend %q: want %q or %q", c.Progress.Backend, ProgressMemory, ProgressDurable)
	}
	if c.Retention.MaxAge > 0 && c.Retention.Interval <= 0 {
		return errors.New("retention.interval must be positive")
	}
	return nil
}

// Addr returns the listen address for the configured port.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
