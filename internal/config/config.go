// Package config loads runtime configuration from environment variables,
// with a YAML defaults file supplying the tuning knobs the reference
// implementation leaves hardcoded.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of settings needed to run either the API server
// or a worker process.
type Config struct {
	// Required external dependencies (spec §6).
	RedisHost   string
	RedisPort   string
	DatabaseURL string
	SecretKey   string

	// Worker tuning, not named in the spec's required env vars but needed
	// to run a real dispatch loop; all have defaults matching the
	// reference implementation.
	Worker WorkerConfig `mapstructure:"worker"`

	// HTTP server tuning.
	Server ServerConfig `mapstructure:"server"`
}

// WorkerConfig tunes the dispatch loop's timing.
type WorkerConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	BlockTimeout    time.Duration `mapstructure:"block_timeout"`
	ReclaimIdle     time.Duration `mapstructure:"reclaim_idle"`
	ReclaimInterval time.Duration `mapstructure:"reclaim_interval"`
	ErrorBackoff    time.Duration `mapstructure:"error_backoff"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

// ServerConfig tunes the HTTP control plane.
type ServerConfig struct {
	Port        int `mapstructure:"port"`
	MetricsPort int `mapstructure:"metrics_port"`
}

// Load reads defaults from an optional YAML file and overlays required
// environment variables, matching the env-var surface spec §6 names:
// REDIS_HOST, REDIS_PORT, DATABASE_URL, SECRET_KEY.
func Load(defaultsPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.block_timeout", 2*time.Second)
	v.SetDefault("worker.reclaim_idle", 30*time.Minute)
	v.SetDefault("worker.reclaim_interval", 30*time.Second)
	v.SetDefault("worker.error_backoff", time.Second)
	v.SetDefault("worker.poll_interval", 2*time.Second)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)

	if defaultsPath != "" {
		v.SetConfigFile(defaultsPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: read defaults file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("")
	v.AutomaticEnv()
	_ = v.BindEnv("redis_host", "REDIS_HOST")
	_ = v.BindEnv("redis_port", "REDIS_PORT")
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("secret_key", "SECRET_KEY")

	v.SetDefault("redis_host", "localhost")
	v.SetDefault("redis_port", "6379")
	v.SetDefault("secret_key", "supersecretkey")

	var cfg Config
	cfg.RedisHost = v.GetString("redis_host")
	cfg.RedisPort = v.GetString("redis_port")
	cfg.DatabaseURL = v.GetString("database_url")
	cfg.SecretKey = v.GetString("secret_key")

	if err := v.UnmarshalKey("worker", &cfg.Worker); err != nil {
		return nil, fmt.Errorf("config: unmarshal worker config: %w", err)
	}
	if err := v.UnmarshalKey("server", &cfg.Server); err != nil {
		return nil, fmt.Errorf("config: unmarshal server config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}

	return &cfg, nil
}

// RedisAddr formats the host/port pair for the redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}
