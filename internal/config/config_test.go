package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "soar-events", cfg.EventLog.Topic)
	assert.Equal(t, "soar:jobs", cfg.JobQueue.KeyPrefix)
	assert.Equal(t, 7*24*time.Hour, cfg.Dedup.TTL)
	assert.InDelta(t, 0.65, cfg.Correlation.Coordinator.ConfidenceThreshold, 1e-9)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soar.yaml")
	doc := `
server:
  http_port: 9090
event_log:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
  topic: prod-events
job_queue:
  max_attempts: 3
correlation:
  enabled: true
  coordinator:
    confidence_threshold: 0.8
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.EventLog.Brokers)
	assert.Equal(t, "prod-events", cfg.EventLog.Topic)
	assert.Equal(t, 3, cfg.JobQueue.MaxAttempts)
	assert.InDelta(t, 0.8, cfg.Correlation.Coordinator.ConfidenceThreshold, 1e-9)

	// Untouched sections keep their defaults.
	assert.Equal(t, "soar-events-dlq", cfg.EventLog.DeadLetterTopic)
	assert.Equal(t, 8, cfg.Trigger.Workers)
}

func TestLoadFileRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soar.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: -1\n"), 0o600))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SOAR_HTTP_PORT", "7070")
	t.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092")
	t.Setenv("REDIS_ADDR", "redis-prod:6379")
	t.Setenv("CLICKHOUSE_PASSWORD", "hunter2")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.EventLog.Brokers)
	assert.Equal(t, "redis-prod:6379", cfg.Dedup.Addr)
	assert.Equal(t, "hunter2", cfg.Storage.ClickHouse.Password)
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroCorrelationWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Correlation.Temporal.TimeWindowHours = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Correlation.Graph.TimeWindowHours = 0
	assert.Error(t, cfg.Validate())

	// Disabled correlation skips the correlator checks.
	cfg = DefaultConfig()
	cfg.Correlation.Enabled = false
	cfg.Correlation.Temporal.TimeWindowHours = 0
	assert.NoError(t, cfg.Validate())
}
