package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cascade.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "worker_id: w-1\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "w-1", cfg.WorkerID)
	assert.Equal(t, "gochannel", cfg.Broker)
	assert.Equal(t, "memory", cfg.DatabaseURL)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
broker: kafka
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
  consumer_group: cascade-prod
database_url: postgres://cascade:secret@db:5432/cascade
log_level: debug
log_format: json
trigger_types: ["form.submitted", "contact.tag.applied"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "kafka", cfg.Broker)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "cascade-prod", cfg.Kafka.ConsumerGroup)
	assert.Len(t, cfg.TriggerTypes, 2)
}

func TestLoadRejectsUnknownBroker(t *testing.T) {
	path := writeConfig(t, "broker: rabbitmq\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
