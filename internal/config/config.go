// Package config loads application configuration from a YAML file with
// environment variable overrides for deployment secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the retention engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Retention RetentionConfig `yaml:"retention"`
	PII       PIIConfig       `yaml:"pii"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis settings. An empty URL disables Redis; send
// counting and sweep locking then fall back to Postgres.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// KafkaConfig holds the audit event stream settings. Disabled when no
// brokers are configured.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// RetentionConfig tunes the scoring batches and the sweep worker.
type RetentionConfig struct {
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`
	BatchSize            int `yaml:"batch_size"`
	Workers              int `yaml:"workers"`
	BatchDeadlineSeconds int `yaml:"batch_deadline_seconds"`
}

// SweepInterval returns the sweep interval as a duration.
func (r RetentionConfig) SweepInterval() time.Duration {
	return time.Duration(r.SweepIntervalMinutes) * time.Minute
}

// BatchDeadline returns the per-batch soft deadline as a duration.
func (r RetentionConfig) BatchDeadline() time.Duration {
	return time.Duration(r.BatchDeadlineSeconds) * time.Second
}

// PIIConfig holds the contact encryption key. The key is hex-encoded and
// only ever supplied via environment.
type PIIConfig struct {
	EncryptionKeyHex string `yaml:"-"`
}

// Load reads the YAML file at path and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads the YAML file (if present) and applies environment
// overrides. A .env file in the working directory is honored first.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := Load(path)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitComma(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("PII_ENCRYPTION_KEY"); v != "" {
		cfg.PII.EncryptionKeyHex = v
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "retention.executions"
	}
	if c.Retention.SweepIntervalMinutes == 0 {
		c.Retention.SweepIntervalMinutes = 15
	}
	if c.Retention.BatchSize == 0 {
		c.Retention.BatchSize = 500
	}
	if c.Retention.Workers == 0 {
		c.Retention.Workers = 8
	}
	if c.Retention.BatchDeadlineSeconds == 0 {
		c.Retention.BatchDeadlineSeconds = 30
	}
}

func splitComma(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
