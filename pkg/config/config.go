// Package config loads worker configuration from a YAML file. Flags
// and environment variables override file values in the binaries.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// WorkerConfig is the full configuration of a cascade worker process.
type WorkerConfig struct {
	WorkerID string `yaml:"worker_id"`

	// Broker selects the transport: gochannel, redis or kafka.
	Broker string `yaml:"broker" validate:"omitempty,oneof=gochannel redis kafka"`

	Kafka KafkaConfig `yaml:"kafka"`
	Redis RedisConfig `yaml:"redis"`

	// DatabaseURL selects persistence. postgres:// URLs use the
	// Postgres store; "memory" keeps everything in process.
	DatabaseURL string `yaml:"database_url"`

	LogLevel  string `yaml:"log_level"  validate:"omitempty,oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=text json"`

	// TracingEndpoint is the OTLP HTTP endpoint for span export.
	// Empty disables tracing.
	TracingEndpoint string `yaml:"tracing_endpoint"`

	// TriggerTypes are the trigger topics the dispatcher consumes.
	TriggerTypes []string `yaml:"trigger_types"`

	StepTimeout time.Duration `yaml:"step_timeout"`
}

// KafkaConfig configures the Kafka transport.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// RedisConfig configures the Redis transport.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// Defaults returns a config with the development defaults applied.
func Defaults() WorkerConfig {
	return WorkerConfig{
		Broker:      "gochannel",
		DatabaseURL: "memory",
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// Load reads the YAML file at path and validates it. Missing fields
// keep their defaults.
func Load(path string) (WorkerConfig, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config in %s: %w", path, err)
	}

	return cfg, nil
}
