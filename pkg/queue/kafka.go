package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
)

// KafkaQueue is the brokered transport for multi-node deployments.
// Kafka has no native delayed delivery, so scheduled and recurring
// messages run through the in-memory scheduler; deployments that need
// durable scheduling pair Kafka delivery with the Redis transport.
type KafkaQueue struct {
	logger     *slog.Logger
	publisher  *kafka.Publisher
	subscriber *kafka.Subscriber
	scheduler  *memoryScheduler
}

// KafkaConfig configures the brokered transport.
type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	PollInterval  time.Duration
}

func NewKafkaQueue(logger *slog.Logger, cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka queue requires at least one broker")
	}

	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "cascade-workers"
	}

	watermillLogger := watermill.NewSlogLogger(logger)

	saramaSubscriberConfig := kafka.DefaultSaramaSubscriberConfig()
	saramaSubscriberConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	subscriber, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               cfg.Brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: saramaSubscriberConfig,
			ConsumerGroup:         cfg.ConsumerGroup,
		},
		watermillLogger,
	)
	if err != nil {
		return nil, fmt.Errorf("creating kafka subscriber: %w", err)
	}

	saramaPublisherConfig := sarama.NewConfig()
	saramaPublisherConfig.Producer.Return.Successes = true

	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               cfg.Brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: saramaPublisherConfig,
		},
		watermillLogger,
	)
	if err != nil {
		return nil, fmt.Errorf("creating kafka publisher: %w", err)
	}

	q := &KafkaQueue{
		logger:     logger.With("module", "queue"),
		publisher:  publisher,
		subscriber: subscriber,
	}

	q.scheduler = newMemoryScheduler(q.logger, cfg.PollInterval, q.Publish)

	return q, nil
}

func (q *KafkaQueue) Publish(_ context.Context, topic string, payload []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)

	return q.publisher.Publish(topic, msg)
}

func (q *KafkaQueue) Subscribe(ctx context.Context, topic string, handler Handler) error {
	messages, err := q.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			if err := handler(ctx, msg.Payload); err != nil {
				q.logger.Error("message handler failed",
					"topic", topic,
					"message_id", msg.UUID,
					"error", err,
				)
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func (q *KafkaQueue) ScheduleDelayed(ctx context.Context, topic string, payload []byte, delay time.Duration) error {
	return q.scheduler.ScheduleDelayed(ctx, topic, payload, delay)
}

func (q *KafkaQueue) ScheduleRecurring(ctx context.Context, topic string, payload []byte, interval time.Duration, opts RecurringOptions) (string, error) {
	return q.scheduler.ScheduleRecurring(ctx, topic, payload, interval, opts)
}

func (q *KafkaQueue) CancelRecurring(ctx context.Context, scheduleID string) error {
	return q.scheduler.CancelRecurring(ctx, scheduleID)
}

func (q *KafkaQueue) Close() error {
	q.scheduler.Close()

	if err := q.publisher.Close(); err != nil {
		return err
	}

	return q.subscriber.Close()
}
