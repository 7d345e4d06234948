// Package config loads runtime configuration for taskflow from TOML
// files and environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultListenAddr = "127.0.0.1:7440"
	DefaultDBFileName = ".taskflow.db"

	DefaultRateMaxCalls              = 30
	DefaultRateWindowSeconds         = 60
	DefaultNotificationTTLHours      = 168
	DefaultEscalateBlockedAfterHours = 24

	configPathEnvKey = "TASKFLOW_CONFIG"
	dbPathEnvKey     = "TASKFLOW_DB"
	listenEnvKey     = "TASKFLOW_LISTEN"
	logLevelEnvKey   = "TASKFLOW_LOG_LEVEL"
)

// EngineConfig defines tunables for the workflow engine.
type EngineConfig struct {
	RateMaxCalls              int `toml:"rate_max_calls"`
	RateWindowSeconds         int `toml:"rate_window_seconds"`
	NotificationTTLHours      int `toml:"notification_ttl_hours"`
	EscalateBlockedAfterHours int `toml:"escalate_blocked_after_hours"`
}

// Config defines runtime configuration for taskflow.
type Config struct {
	ListenAddr string       `toml:"listen_addr"`
	DBPath     string       `toml:"db_path"`
	LogLevel   string       `toml:"log_level"`
	Engine     EngineConfig `toml:"engine"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		ListenAddr: DefaultListenAddr,
		DBPath:     "",
		LogLevel:   "info",
		Engine: EngineConfig{
			RateMaxCalls:              DefaultRateMaxCalls,
			RateWindowSeconds:         DefaultRateWindowSeconds,
			NotificationTTLHours:      DefaultNotificationTTLHours,
			EscalateBlockedAfterHours: DefaultEscalateBlockedAfterHours,
		},
	}
}

func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return true, nil
}

// Load reads config from the override file or the default locations and
// applies env overrides. Missing files are not an error.
func Load() (*Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv(configPathEnvKey)); path != "" {
		if _, err := loadFileIfExists(path, &cfg); err != nil {
			return nil, err
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			if _, err := loadFileIfExists(filepath.Join(home, ".taskflow.toml"), &cfg); err != nil {
				return nil, err
			}
		}
		if cwd, err := os.Getwd(); err == nil {
			if _, err := loadFileIfExists(filepath.Join(cwd, ".taskflow.toml"), &cfg); err != nil {
				return nil, err
			}
		}
	}

	if cfg.DBPath == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.DBPath = filepath.Join(cwd, DefaultDBFileName)
		}
	}

	if addr := os.Getenv(listenEnvKey); addr != "" {
		cfg.ListenAddr = addr
	}
	if dbPath := os.Getenv(dbPathEnvKey); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if level := os.Getenv(logLevelEnvKey); level != "" {
		cfg.LogLevel = level
	}

	cfg.normalizeEngineDefaults()

	return &cfg, nil
}

func (c *Config) normalizeEngineDefaults() {
	if c.Engine.RateMaxCalls <= 0 {
		c.Engine.RateMaxCalls = DefaultRateMaxCalls
	}
	if c.Engine.RateWindowSeconds <= 0 {
		c.Engine.RateWindowSeconds = DefaultRateWindowSeconds
	}
	if c.Engine.NotificationTTLHours < 0 {
		c.Engine.NotificationTTLHours = DefaultNotificationTTLHours
	}
	if c.Engine.EscalateBlockedAfterHours < 0 {
		c.Engine.EscalateBlockedAfterHours = DefaultEscalateBlockedAfterHours
	}
}

// ParseLogLevel maps a config string to a numeric comparison helper used
// by the CLI when building the slog handler.
func ParseLogLevel(level string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "info", "warn", "error":
		return strings.ToLower(strings.TrimSpace(level)), nil
	case "":
		return "info", nil
	default:
		return "", fmt.Errorf("unknown log level %q", level)
	}
}

// Get returns the value of a config key, for the CLI config command.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "listen_addr":
		return c.ListenAddr, nil
	case "db_path":
		return c.DBPath, nil
	case "log_level":
		return c.LogLevel, nil
	case "engine.rate_max_calls":
		return strconv.Itoa(c.Engine.RateMaxCalls), nil
	case "engine.rate_window_seconds":
		return strconv.Itoa(c.Engine.RateWindowSeconds), nil
	case "engine.notification_ttl_hours":
		return strconv.Itoa(c.Engine.NotificationTTLHours), nil
	case "engine.escalate_blocked_after_hours":
		return strconv.Itoa(c.Engine.EscalateBlockedAfterHours), nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}
