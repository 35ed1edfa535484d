// Package config loads query metrics settings from the environment and an
// optional config file.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// QUERY_METRICS_OBSERVE_DUPLICATE_QUERIES.
const EnvPrefix = "QUERY_METRICS"

// Keys understood by Load.
const (
	KeyObserveDuplicateQueries = "observe_duplicate_queries"
	KeyPrintDuplicateQueries   = "print_duplicate_queries"
	KeyLogLevel                = "log_level"
	KeyLogPretty               = "log_pretty"
	KeyListenAddr              = "listen_addr"
	KeyDatabaseDSN             = "database_dsn"
	KeyRedisURL                = "redis_url"
	KeyAppVersion              = "app_version"
)

// Config holds the settings consumed by the middleware and the demo server.
type Config struct {
	// ObserveDuplicateQueries enables duplicate query metrics.
	ObserveDuplicateQueries bool `mapstructure:"observe_duplicate_queries"`

	// PrintDuplicateQueries logs every duplicate query at warn level.
	PrintDuplicateQueries bool `mapstructure:"print_duplicate_queries"`

	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`

	ListenAddr  string `mapstructure:"listen_addr"`
	DatabaseDSN string `mapstructure:"database_dsn"`

	// RedisURL is optional; empty disables the redis query source.
	RedisURL string `mapstructure:"redis_url"`

	AppVersion string `mapstructure:"app_version"`
}

// Default returns the configuration used when nothing is set.
// Both duplicate toggles default to off.
func Default() Config {
	return Config{
		LogLevel:    "info",
		ListenAddr:  ":8080",
		DatabaseDSN: "file::memory:?cache=shared",
		AppVersion:  "dev",
	}
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	d := Default()

	v.SetDefault(KeyObserveDuplicateQueries, d.ObserveDuplicateQueries)
	v.SetDefault(KeyPrintDuplicateQueries, d.PrintDuplicateQueries)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyLogPretty, d.LogPretty)
	v.SetDefault(KeyListenAddr, d.ListenAddr)
	v.SetDefault(KeyDatabaseDSN, d.DatabaseDSN)
	v.SetDefault(KeyRedisURL, d.RedisURL)
	v.SetDefault(KeyAppVersion, d.AppVersion)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads configFile (if non-empty) on top of defaults and environment
// variables held by v, and decodes the result.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if cfg.ListenAddr == "" {
		return Config{}, fmt.Errorf("%s is required", KeyListenAddr)
	}
	if cfg.DatabaseDSN == "" {
		return Config{}, fmt.Errorf("%s is required", KeyDatabaseDSN)
	}

	return cfg, nil
}
