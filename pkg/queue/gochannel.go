package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// GoChannelQueue is the in-process transport for single-node
// deployments and tests. Delayed and recurring delivery live in
// memory and do not survive restarts.
type GoChannelQueue struct {
	logger    *slog.Logger
	pubsub    *gochannel.GoChannel
	scheduler *memoryScheduler
}

// GoChannelConfig tunes the in-process transport. The zero value is
// usable.
type GoChannelConfig struct {
	// PollInterval is how often scheduled messages are checked for
	// due delivery. Defaults to one second.
	PollInterval time.Duration
}

func NewGoChannelQueue(logger *slog.Logger, cfg GoChannelConfig) *GoChannelQueue {
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermill.NewSlogLogger(logger),
	)

	q := &GoChannelQueue{
		logger: logger.With("module", "queue"),
		pubsub: pubsub,
	}

	q.scheduler = newMemoryScheduler(q.logger, cfg.PollInterval, q.Publish)

	return q
}

func (q *GoChannelQueue) Publish(_ context.Context, topic string, payload []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)

	return q.pubsub.Publish(topic, msg)
}

func (q *GoChannelQueue) Subscribe(ctx context.Context, topic string, handler Handler) error {
	messages, err := q.pubsub.Subscribe(ctx, topic)
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

func (q *GoChannelQueue) ScheduleDelayed(ctx context.Context, topic string, payload []byte, delay time.Duration) error {
	return q.scheduler.ScheduleDelayed(ctx, topic, payload, delay)
}

func (q *GoChannelQueue) ScheduleRecurring(ctx context.Context, topic string, payload []byte, interval time.Duration, opts RecurringOptions) (string, error) {
	return q.scheduler.ScheduleRecurring(ctx, topic, payload, interval, opts)
}

func (q *GoChannelQueue) CancelRecurring(ctx context.Context, scheduleID string) error {
	return q.scheduler.CancelRecurring(ctx, scheduleID)
}

func (q *GoChannelQueue) Close() error {
	q.scheduler.Close()

	return q.pubsub.Close()
}
