package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/fitflow
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "postgres://localhost/fitflow", cfg.Database.URL)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, "retention.executions", cfg.Kafka.Topic)
	assert.Equal(t, 15*time.Minute, cfg.Retention.SweepInterval())
	assert.Equal(t, 30*time.Second, cfg.Retention.BatchDeadline())
	assert.Equal(t, 500, cfg.Retention.BatchSize)
}

func TestLoad_ExplicitValues(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 127.0.0.1
  port: 9090
redis:
  url: redis://localhost:6379
kafka:
  brokers: [broker-1:9092, broker-2:9092]
  topic: custom.topic
retention:
  sweep_interval_minutes: 5
  batch_size: 100
  workers: 4
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "custom.topic", cfg.Kafka.Topic)
	assert.Equal(t, 5*time.Minute, cfg.Retention.SweepInterval())
	assert.Equal(t, 100, cfg.Retention.BatchSize)
	assert.Equal(t, 4, cfg.Retention.Workers)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-host/fitflow")
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("PII_ENCRYPTION_KEY", "deadbeef")

	cfg, err := LoadFromEnv("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://env-host/fitflow", cfg.Database.URL)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "deadbeef", cfg.PII.EncryptionKeyHex)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
