// Package config loads modkit configuration from YAML and MODKIT_* environment
// variables using koanf.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/knadh/koanf/v2"

	"github.com/centraunit/modkit/internal/logging"
)

// Config is the full modkit configuration.
type Config struct {
	Logging    logging.Config   `koanf:"logging"`
	Bus        BusConfig        `koanf:"bus"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	NATS       NATSConfig       `koanf:"nats"`
	Repository RepositoryConfig `koanf:"repository"`
	HTTP       HTTPConfig       `koanf:"http"`

	settings *koanf.Koanf
}

// BusConfig configures the event bus.
type BusConfig struct {
	MaxPublishDepth int `koanf:"max_publish_depth"`
}

// MetricsConfig configures Prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Namespace string `koanf:"namespace"`
}

// NATSConfig configures the NATS bridge. An empty URL disables it.
type NATSConfig struct {
	URL           string        `koanf:"url"`
	SubjectPrefix string        `koanf:"subject_prefix"`
	Timeout       time.Duration `koanf:"timeout"`
}

// RepositoryConfig selects the repository backend.
type RepositoryConfig struct {
	Driver    string `koanf:"driver"` // memory, postgres, redis
	DSN       string `koanf:"dsn"`
	Table     string `koanf:"table"`
	RedisAddr string `koanf:"redis_addr"`
	KeyPrefix string `koanf:"key_prefix"`
}

// HTTPConfig configures the introspection server.
type HTTPConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// Addr returns host:port.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// Settings returns the free-form `settings` section, readable by services.
func (c *Config) Settings() *Settings {
	if c.settings == nil {
		return &Settings{k: koanf.New(".")}
	}
	return &Settings{k: c.settings}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if c.Bus.MaxPublishDepth < 1 {
		errs = append(errs, fmt.Errorf("bus.max_publish_depth must be positive, got %d", c.Bus.MaxPublishDepth))
	}
	switch c.Repository.Driver {
	case "memory":
	case "postgres":
		if c.Repository.DSN == "" {
			errs = append(errs, errors.New("repository.dsn is required for the postgres driver"))
		}
	case "redis":
		if c.Repository.RedisAddr == "" {
			errs = append(errs, errors.New("repository.redis_addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("repository.driver must be memory, postgres or redis, got %q", c.Repository.Driver))
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port out of range: %d", c.HTTP.Port))
	}
	return errors.Join(errs...)
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Fields == nil {
		cfg.Logging.Fields = map[string]string{"service": "modkit"}
	}
	if cfg.Bus.MaxPublishDepth == 0 {
		cfg.Bus.MaxPublishDepth = 16
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "modkit"
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "modkit"
	}
	if cfg.NATS.Timeout == 0 {
		cfg.NATS.Timeout = 5 * time.Second
	}
	if cfg.Repository.Driver == "" {
		cfg.Repository.Driver = "memory"
	}
	if cfg.Repository.Table == "" {
		cfg.Repository.Table = "modkit_kv"
	}
	if cfg.Repository.KeyPrefix == "" {
		cfg.Repository.KeyPrefix = "modkit:"
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "127.0.0.1"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 9410
	}
}
