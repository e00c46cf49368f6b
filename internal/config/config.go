// Package config loads todosync settings from a config file, environment
// variables and command-line flags.
//
// Precedence follows viper: flags override environment variables
// (TODOSYNC_REMOTE_URL, TODOSYNC_DATA_FORMAT, ...), which override the
// config file, which overrides the defaults below.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/todosync/todosync/internal/persist"
	"github.com/todosync/todosync/internal/reconcile"
	"github.com/todosync/todosync/internal/remote"
)

// EnvPrefix is prepended to every environment variable the config reads.
const EnvPrefix = "TODOSYNC"

// FileName is the config file name without extension.
const FileName = "todosync"

// Config is the complete set of settings.
type Config struct {
	Data      DataConfig      `mapstructure:"data"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
}

// DataConfig locates the local snapshot.
type DataConfig struct {
	Dir    string `mapstructure:"dir"`
	Name   string `mapstructure:"name"`
	Format string `mapstructure:"format"`
}

// RemoteConfig describes the list service. An empty URL runs offline.
type RemoteConfig struct {
	URL      string        `mapstructure:"url"`
	Token    string        `mapstructure:"token"`
	ClientID string        `mapstructure:"client_id"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type SyncConfig struct {
	Strategy string `mapstructure:"strategy"`
}

type DaemonConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	Debounce        time.Duration `mapstructure:"debounce"`
}

type DashboardConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig controls where log output goes. With no file, logs go to
// stderr when Verbose is set and are discarded otherwise.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Verbose    bool   `mapstructure:"verbose"`
}

// Dir returns the directory holding the config file and, by default, the
// snapshot.
func Dir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, FileName)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, FileName)
	}
	return filepath.Join(".", "."+FileName)
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Data: DataConfig{
			Dir:    Dir(),
			Name:   "TodoItems",
			Format: string(persist.FormatJSON),
		},
		Remote: RemoteConfig{
			ClientID: remote.DefaultClientID,
			Timeout:  remote.DefaultTimeout,
		},
		Sync:      SyncConfig{Strategy: reconcile.RemoteAuthoritative{}.Name()},
		Daemon:    DaemonConfig{Debounce: 200 * time.Millisecond},
		Dashboard: DashboardConfig{Addr: "127.0.0.1:8080"},
		Log:       LogConfig{MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28},
	}
}

// NewViper returns a viper instance with defaults and environment binding
// set up. Callers bind their flags to it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	d := Default()

	v.SetDefault("data.dir", d.Data.Dir)
	v.SetDefault("data.name", d.Data.Name)
	v.SetDefault("data.format", d.Data.Format)
	v.SetDefault("remote.url", d.Remote.URL)
	v.SetDefault("remote.token", d.Remote.Token)
	v.SetDefault("remote.client_id", d.Remote.ClientID)
	v.SetDefault("remote.timeout", d.Remote.Timeout)
	v.SetDefault("sync.strategy", d.Sync.Strategy)
	v.SetDefault("daemon.refresh_interval", d.Daemon.RefreshInterval)
	v.SetDefault("daemon.debounce", d.Daemon.Debounce)
	v.SetDefault("dashboard.addr", d.Dashboard.Addr)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.verbose", d.Log.Verbose)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file at path, or todosync.{toml,yaml,json} from
// Dir() when path is empty, and decodes the merged settings. A missing
// default config file is not an error; a missing explicit one is.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(Dir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later and further from
// their source.
func (c *Config) Validate() error {
	if _, err := persist.ParseFormat(c.Data.Format); err != nil {
		return fmt.Errorf("invalid data.format: %w", err)
	}
	if strings.TrimSpace(c.Data.Name) == "" {
		return fmt.Errorf("data.name cannot be empty")
	}
	if _, err := reconcile.ParseStrategy(c.Sync.Strategy); err != nil {
		return fmt.Errorf("invalid sync.strategy: %w", err)
	}
	if c.Remote.URL != "" {
		u, err := url.Parse(c.Remote.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid remote.url %q: must be an http or https URL", c.Remote.URL)
		}
	}
	if c.Remote.Timeout < 0 || c.Daemon.RefreshInterval < 0 || c.Daemon.Debounce < 0 {
		return fmt.Errorf("durations cannot be negative")
	}
	return nil
}

// Offline reports whether no remote is configured.
func (c *Config) Offline() bool {
	return c.Remote.URL == ""
}

// fileConfig mirrors Config for writing. Durations are strings so the file
// reads "10s" rather than a nanosecond count.
type fileConfig struct {
	Data struct {
		Dir    string `toml:"dir"`
		Name   string `toml:"name"`
		Format string `toml:"format"`
	} `toml:"data"`
	Remote struct {
		URL      string `toml:"url"`
		Token    string `toml:"token"`
		ClientID string `toml:"client_id"`
		Timeout  string `toml:"timeout"`
	} `toml:"remote"`
	Sync struct {
		Strategy string `toml:"strategy"`
	} `toml:"sync"`
	Daemon struct {
		RefreshInterval string `toml:"refresh_interval"`
		Debounce        string `toml:"debounce"`
	} `toml:"daemon"`
	Dashboard struct {
		Addr string `toml:"addr"`
	} `toml:"dashboard"`
	Log struct {
		File       string `toml:"file"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
		MaxAgeDays int    `toml:"max_age_days"`
		Verbose    bool   `toml:"verbose"`
	} `toml:"log"`
}

// Write encodes c as TOML at path. An existing file is only replaced when
// force is set.
func Write(c Config, path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var fc fileConfig
	fc.Data.Dir = c.Data.Dir
	fc.Data.Name = c.Data.Name
	fc.Data.Format = c.Data.Format
	fc.Remote.URL = c.Remote.URL
	fc.Remote.Token = c.Remote.Token
	fc.Remote.ClientID = c.Remote.ClientID
	fc.Remote.Timeout = c.Remote.Timeout.String()
	fc.Sync.Strategy = c.Sync.Strategy
	fc.Daemon.RefreshInterval = c.Daemon.RefreshInterval.String()
	fc.Daemon.Debounce = c.Daemon.Debounce.String()
	fc.Dashboard.Addr = c.Dashboard.Addr
	fc.Log.File = c.Log.File
	fc.Log.MaxSizeMB = c.Log.MaxSizeMB
	fc.Log.MaxBackups = c.Log.MaxBackups
	fc.Log.MaxAgeDays = c.Log.MaxAgeDays
	fc.Log.Verbose = c.Log.Verbose

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(fc); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return f.Close()
}
