// Package config loads engine configuration from an optional file plus
// BETHUB_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete engine configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Sweep   SweepConfig   `mapstructure:"sweep"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig holds database and cache configuration. An empty
// DatabaseURL selects the in-memory store; an empty RedisURL disables
// the cache layer.
type StorageConfig struct {
	DatabaseURL string        `mapstructure:"database_url"`
	RedisURL    string        `mapstructure:"redis_url"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

// KafkaConfig holds the event publisher configuration. Empty brokers
// disable eventing.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

// SweepConfig holds the background sweeper schedules.
type SweepConfig struct {
	// ExpiryInterval is how often expired markets are looked for.
	ExpiryInterval time.Duration `mapstructure:"expiry_interval"`
	// ExpiryGrace is how long after its end time an OPEN market may wait
	// for a declared result before being voided.
	ExpiryGrace time.Duration `mapstructure:"expiry_grace"`
	// DefaultInterval is how often overdue loans are flagged.
	DefaultInterval time.Duration `mapstructure:"default_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from an optional file and environment
// variables. A missing file is fine; env and defaults still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BETHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("storage.database_url", "")
	v.SetDefault("storage.redis_url", "")
	v.SetDefault("storage.cache_ttl", "30s")

	v.SetDefault("kafka.brokers", []string{})

	v.SetDefault("sweep.expiry_interval", "1m")
	v.SetDefault("sweep.expiry_grace", "4h")
	v.SetDefault("sweep.default_interval", "10m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Storage.CacheTTL < time.Second {
		return fmt.Errorf("storage.cache_ttl must be at least 1 second")
	}
	if c.Sweep.ExpiryInterval < time.Second {
		return fmt.Errorf("sweep.expiry_interval must be at least 1 second")
	}
	if c.Sweep.ExpiryGrace < 0 {
		return fmt.Errorf("sweep.expiry_grace must not be negative")
	}
	if c.Sweep.DefaultInterval < time.Second {
		return fmt.Errorf("sweep.default_interval must be at least 1 second")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	return nil
}
