package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
)

// CurrentVersion is the expected config file version.
const CurrentVersion = 1

// Config represents the entire application configuration.
type Config struct {
	// Version of the config file.
	Version    int        `koanf:"version"`
	Debug      Debug      `koanf:"debug"`
	Server     Server     `koanf:"server"`
	PostgreSQL PostgreSQL `koanf:"postgresql"`
	Redis      Redis      `koanf:"redis"`
	Cache      Cache      `koanf:"cache"`
	Feed       Feed       `koanf:"feed"`
	Profile    Profile    `koanf:"profile"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Directory for log files; empty logs to stderr only.
	LogDir string `koanf:"log_dir"`
}

// Server contains HTTP server configuration.
type Server struct {
	// Listen host.
	Host string `koanf:"host"`
	// Listen port.
	Port int `koanf:"port"`
	// Per-request timeout in milliseconds.
	RequestTimeout int `koanf:"request_timeout"`
}

// PostgreSQL contains database connection configuration.
type PostgreSQL struct {
	// Database hostname.
	Host string `koanf:"host"`
	// Database port.
	Port int `koanf:"port"`
	// Database username.
	User string `koanf:"user"`
	// Database password.
	Password string `koanf:"password"`
	// Database name.
	DBName string `koanf:"db_name"`
	// Maximum open connections.
	MaxOpenConns int `koanf:"max_open_conns"`
	// Maximum idle connections.
	MaxIdleConns int `koanf:"max_idle_conns"`
	// Connection lifetime in minutes.
	MaxLifetime int `koanf:"max_lifetime"`
	// Idle timeout in minutes.
	MaxIdleTime int `koanf:"max_idle_time"`
}

// Redis contains Redis connection configuration.
type Redis struct {
	// Redis hostname.
	Host string `koanf:"host"`
	// Redis port.
	Port int `koanf:"port"`
	// Redis username.
	Username string `koanf:"username"`
	// Redis password.
	Password string `koanf:"password"`
}

// Cache contains friend-list cache configuration.
type Cache struct {
	// Friend list entry lifetime in seconds.
	FriendListTTL int `koanf:"friend_list_ttl"`
}

// Feed contains feed aggregation tunables.
type Feed struct {
	// Default page size when the caller does not specify one.
	DefaultPageSize int `koanf:"default_page_size"`
	// Upper bound on the requested page size.
	MaxPageSize int `koanf:"max_page_size"`
	// Maximum friend partitions queried per feed request. Friends beyond
	// this cap do not contribute items, an accepted approximation.
	FanoutLimit int `koanf:"fanout_limit"`
	// Maximum concurrent fan-out queries.
	MaxConcurrent int `koanf:"max_concurrent"`
}

// Profile contains profile service configuration.
type Profile struct {
	// Base URL of the internal profile service.
	BaseURL string `koanf:"base_url"`
	// Lookup timeout in milliseconds.
	Timeout int `koanf:"timeout"`
}

// LoadConfig loads the configuration from the first config.toml found in the
// search paths. Returns the config along with the used config directory.
func LoadConfig() (*Config, string, error) {
	k := koanf.New(".")

	// Get user's home directory
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get home directory: %w", err)
	}

	// List search paths
	configPaths := []string{
		".bramble",
		homeDir + "/.bramble/config",
		"/etc/bramble/config",
		"/app/config",
		"config",
		".",
	}

	var usedConfigPath string
	for _, path := range configPaths {
		configPath := fmt.Sprintf("%s/config.toml", path)
		if err := k.Load(file.Provider(configPath), toml.Parser()); err == nil {
			usedConfigPath = path
			break
		}
	}

	if usedConfigPath == "" {
		return nil, "", fmt.Errorf("%w: config.toml", ErrConfigFileNotFound)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Version == 0 {
		return nil, "", fmt.Errorf("%w: config.toml", ErrConfigVersionMissing)
	}

	if config.Version != CurrentVersion {
		return nil, "", fmt.Errorf("%w: config.toml (got: %d, expected: %d)",
			ErrConfigVersionMismatch, config.Version, CurrentVersion)
	}

	applyDefaults(&config)

	return &config, usedConfigPath, nil
}

// applyDefaults fills zero values with safe defaults.
func applyDefaults(config *Config) {
	if config.Cache.FriendListTTL == 0 {
		config.Cache.FriendListTTL = 300
	}
	if config.Feed.DefaultPageSize == 0 {
		config.Feed.DefaultPageSize = 20
	}
	if config.Feed.MaxPageSize == 0 {
		config.Feed.MaxPageSize = 100
	}
	if config.Feed.FanoutLimit == 0 {
		config.Feed.FanoutLimit = 25
	}
	if config.Feed.MaxConcurrent == 0 {
		config.Feed.MaxConcurrent = 8
	}
	if config.Server.RequestTimeout == 0 {
		config.Server.RequestTimeout = 10000
	}
	if config.Profile.Timeout == 0 {
		config.Profile.Timeout = 2000
	}
}
