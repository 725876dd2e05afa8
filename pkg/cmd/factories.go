// Package cmd holds the shared wiring used by the cascade binaries:
// transport, persistence and registry construction from configuration.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/cascadehq/cascade/pkg/actions"
	"github.com/cascadehq/cascade/pkg/config"
	"github.com/cascadehq/cascade/pkg/persistence"
	"github.com/cascadehq/cascade/pkg/queue"
	"github.com/cascadehq/cascade/pkg/registry"
)

// NewQueue builds the message queue selected by cfg.Broker.
func NewQueue(logger *slog.Logger, cfg config.WorkerConfig) (queue.MessageQueue, error) {
	switch cfg.Broker {
	case "", "gochannel":
		logger.Info("using in-process transport")

		return queue.NewGoChannelQueue(logger, queue.GoChannelConfig{}), nil
	case "redis":
		if cfg.Redis.URL == "" {
			return nil, fmt.Errorf("redis broker requires a redis url")
		}

		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}

		logger.Info("using redis transport", "addr", opts.Addr)

		return queue.NewRedisQueue(logger, redis.NewClient(opts), queue.RedisConfig{}), nil
	case "kafka":
		logger.Info("using kafka transport", "brokers", cfg.Kafka.Brokers)

		return queue.NewKafkaQueue(logger, queue.KafkaConfig{
			Brokers:       cfg.Kafka.Brokers,
			ConsumerGroup: cfg.Kafka.ConsumerGroup,
		})
	default:
		return nil, fmt.Errorf("unknown broker type %q", cfg.Broker)
	}
}

// NewPersistence builds the store selected by the database URL.
// postgres:// and postgresql:// URLs use Postgres; "memory" or an
// empty URL keeps executions in process.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch {
	case databaseURL == "" || databaseURL == "memory":
		logger.Info("using in-memory persistence")

		return persistence.NewMemoryPersistence(), nil
	case strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://"):
		logger.Info("using postgres persistence")

		return persistence.NewPostgresPersistence(ctx, logger, databaseURL)
	default:
		return nil, fmt.Errorf("unsupported database url scheme in %q", databaseURL)
	}
}

// NewRegistry builds an action registry with the default executors
// installed. A nil sender logs outbound messages instead of
// delivering them.
func NewRegistry(logger *slog.Logger, sender actions.MessageSender) *registry.Registry {
	reg := registry.NewRegistry(logger)
	actions.RegisterDefaults(reg, logger, sender)

	return reg
}
