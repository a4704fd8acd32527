package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// LocalConfigName is the per-directory config file searched upwards from cwd
const LocalConfigName = ".twmd-batch.toml"

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Downloader    DownloaderConfig    `toml:"downloader"`
	Pacing        PacingConfig        `toml:"pacing"`
	Policy        PolicyConfig        `toml:"policy"`
	Log           LogConfig           `toml:"log"`
	Notifications NotificationsConfig `toml:"notifications"`
	History       HistoryConfig       `toml:"history"`
	Watch         WatchConfig         `toml:"watch"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	WorkDir        string   `toml:"work_dir"`
	SkipDirs       []string `toml:"skip_dirs"`
	Shuffle        bool     `toml:"shuffle"`
	IgnoreTempSkip bool     `toml:"ignore_temp_skip"`
}

// DownloaderConfig describes the external downloader
type DownloaderConfig struct {
	Binary  string   `toml:"binary"`
	NoLogin bool     `toml:"no_login"`
	Timeout Duration `toml:"timeout"` // bound on waiting for exit once output closes
	MaxRun  Duration `toml:"max_run"` // ceiling for a whole run, zero disables
}

// PacingConfig controls the delay between targets
type PacingConfig struct {
	Interval          Duration `toml:"interval"`
	RateLimitFactor   int      `toml:"rate_limit_factor"`
	RateLimitCooldown Duration `toml:"rate_limit_cooldown"`
}

// PolicyConfig holds post-run policy settings
type PolicyConfig struct {
	TempSkipWindow Duration `toml:"temp_skip_window"`
}

// LogConfig holds structured logging settings
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// HistoryConfig holds run history settings
type HistoryConfig struct {
	Enabled      bool   `toml:"enabled"`
	DatabasePath string `toml:"database_path"`
}

// WatchConfig holds settings for the watch command
type WatchConfig struct {
	Cron         string `toml:"cron"`
	WatchNewDirs bool   `toml:"watch_new_dirs"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			WorkDir:  ".",
			SkipDirs: []string{"script"},
			Shuffle:  true,
		},
		Downloader: DownloaderConfig{
			Binary:  "twmd",
			Timeout: Duration(5 * time.Minute),
			MaxRun:  Duration(2 * time.Hour),
		},
		Pacing: PacingConfig{
			Interval:        Duration(15 * time.Second),
			RateLimitFactor: 30,
		},
		Policy: PolicyConfig{
			TempSkipWindow: Duration(24 * time.Hour),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		History: HistoryConfig{
			Enabled:      true,
			DatabasePath: filepath.Join(home, ".local", "share", "twmd-batch", "history.db"),
		},
		Watch: WatchConfig{
			Cron:         "0 */6 * * *",
			WatchNewDirs: true,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.expand()
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expand()
	return cfg, nil
}

// LoadWithLocalFallback loads the explicit path if given, else the nearest
// local config, else the user config
func LoadWithLocalFallback(explicit string) (*Config, error) {
	if explicit != "" {
		return Load(explicit)
	}
	if local := FindLocalConfig(); local != "" {
		return Load(local)
	}
	return Load(DefaultConfigPath())
}

// FindLocalConfig walks up from the current directory looking for
// LocalConfigName. Returns "" when none is found.
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ApplyEnv loads a .env file from the work dir (if present) and applies
// TWMD_BATCH_* overrides
func (c *Config) ApplyEnv() error {
	envFile := filepath.Join(c.General.WorkDir, ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("loading %s: %w", envFile, err)
	}

	if v := os.Getenv("TWMD_BATCH_WORK_DIR"); v != "" {
		c.General.WorkDir = ExpandPath(v)
	}
	if v := os.Getenv("TWMD_BATCH_BINARY"); v != "" {
		c.Downloader.Binary = v
	}
	if v := os.Getenv("TWMD_BATCH_SLACK_WEBHOOK"); v != "" {
		c.Notifications.SlackWebhook = v
	}
	if v := os.Getenv("TWMD_BATCH_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	var errs []error
	if c.General.WorkDir == "" {
		errs = append(errs, errors.New("general.work_dir is required"))
	}
	if c.Downloader.Binary == "" {
		errs = append(errs, errors.New("downloader.binary is required"))
	}
	if c.Downloader.Timeout <= 0 {
		errs = append(errs, errors.New("downloader.timeout must be positive"))
	}
	if c.Downloader.MaxRun < 0 {
		errs = append(errs, errors.New("downloader.max_run must not be negative"))
	}
	if c.Pacing.Interval < 0 {
		errs = append(errs, errors.New("pacing.interval must not be negative"))
	}
	if c.Pacing.RateLimitFactor < 0 || c.Pacing.RateLimitCooldown < 0 {
		errs = append(errs, errors.New("pacing rate limit settings must not be negative"))
	}
	if c.Policy.TempSkipWindow <= 0 {
		errs = append(errs, errors.New("policy.temp_skip_window must be positive"))
	}
	if c.Watch.Cron != "" {
		if _, err := cron.ParseStandard(c.Watch.Cron); err != nil {
			errs = append(errs, fmt.Errorf("watch.cron: %w", err))
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// RateLimitCooldown returns the pause after a rate-limited run
func (c *Config) RateLimitCooldown() time.Duration {
	if c.Pacing.RateLimitCooldown > 0 {
		return c.Pacing.RateLimitCooldown.Std()
	}
	return time.Duration(c.Pacing.RateLimitFactor) * c.Pacing.Interval.Std()
}

// Save writes the configuration as TOML
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) expand() {
	c.General.WorkDir = ExpandPath(c.General.WorkDir)
	c.History.DatabasePath = ExpandPath(c.History.DatabasePath)
	c.Log.File = ExpandPath(c.Log.File)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "twmd-batch", "config.toml")
}
