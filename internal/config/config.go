// Package config loads taskwire configuration from file, environment,
// and defaults, and owns the daemon's rotating log file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config is the resolved taskwire configuration.
type Config struct {
	Remote struct {
		// URL is the remote table API root, e.g.
		// https://example.supabase.co/rest/v1
		URL string `mapstructure:"url"`
		// APIKey authenticates requests; empty disables auth headers.
		APIKey string `mapstructure:"api_key"`
		// Timeout bounds each remote call.
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"remote"`

	Store struct {
		// Path to the local SQLite store.
		Path string `mapstructure:"path"`
	} `mapstructure:"store"`

	Sync struct {
		// Debounce is the auto-sync delay after ordinary mutations.
		Debounce time.Duration `mapstructure:"debounce"`
		// DeleteGrace is the longer delay after deletes, leaving room
		// for an undo before the tombstone is pushed.
		DeleteGrace time.Duration `mapstructure:"delete_grace"`
	} `mapstructure:"sync"`

	Connectivity struct {
		// ProbeInterval between reachability checks in the daemon.
		ProbeInterval time.Duration `mapstructure:"probe_interval"`
	} `mapstructure:"connectivity"`

	Daemon struct {
		// DashboardPort for the status WebSocket server; 0 disables it.
		DashboardPort int `mapstructure:"dashboard_port"`
	} `mapstructure:"daemon"`

	Log struct {
		// File receives daemon logs; empty logs to stderr.
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size"`
		MaxBackups int    `mapstructure:"max_backups"`
	} `mapstructure:"log"`
}

// DefaultDir returns the taskwire home directory (~/.taskwire).
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskwire"
	}
	return filepath.Join(home, ".taskwire")
}

func setDefaults(v *viper.Viper) {
	dir := DefaultDir()
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.timeout", 15*time.Second)
	v.SetDefault("store.path", filepath.Join(dir, "taskwire.db"))
	v.SetDefault("sync.debounce", 700*time.Millisecond)
	v.SetDefault("sync.delete_grace", 5*time.Second)
	v.SetDefault("connectivity.probe_interval", 30*time.Second)
	v.SetDefault("daemon.dashboard_port", 0)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_backups", 3)
}

// Load reads configuration from the given file (or ~/.taskwire/config.yaml
// when empty), overlaid with TASKWIRE_* environment variables. A missing
// config file is not an error; defaults apply.
//
// The returned viper instance is kept so Watch can observe file changes.
func Load(file string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultDir())
	}

	v.SetEnvPrefix("TASKWIRE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, v, nil
}

// Watch re-reads the config file on change and hands the fresh Config to
// the callback. The daemon uses this to pick up settings edits live.
func Watch(v *viper.Viper, logger *log.Logger, onChange func(Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Printf("config changed: %s", e.Name)
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			logger.Printf("ignoring config change, decode failed: %v", err)
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

// NewLogger builds the daemon logger. With a log file configured it
// writes through a size-rotated file, otherwise to stderr.
func NewLogger(cfg *Config, prefix string) (*log.Logger, io.Closer) {
	if cfg.Log.File == "" {
		return log.New(os.Stderr, prefix, log.LstdFlags), nopCloser{}
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}
	return log.New(rotator, prefix, log.LstdFlags), rotator
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
