package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	scheduledMessagesKey  = "scheduled:messages"
	recurringSchedulesKey = "scheduled:recurring"
	priorityKeyPrefix     = "priority:"

	scheduledBatchSize = 100

	// handlerRetryDelay spaces out redelivery of messages whose
	// handler returned an error. Pub/sub itself has no redelivery, so
	// failed messages go back through the scheduled sorted set.
	handlerRetryDelay = time.Second
)

// RedisQueue is the durable transport. Immediate delivery rides Redis
// pub/sub; delayed delivery is a sorted set scored by ready time that
// a poller drains about once a second; recurring schedules live in a
// hash the same poller advances.
type RedisQueue struct {
	logger *slog.Logger
	client *redis.Client

	pollInterval time.Duration
	done         chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup
}

// RedisConfig tunes the Redis transport. The zero value polls every
// second.
type RedisConfig struct {
	PollInterval time.Duration
}

func NewRedisQueue(logger *slog.Logger, client *redis.Client, cfg RedisConfig) *RedisQueue {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	q := &RedisQueue{
		logger:       logger.With("module", "queue"),
		client:       client,
		pollInterval: cfg.PollInterval,
		done:         make(chan struct{}),
	}

	q.wg.Add(1)

	go q.poll()

	return q
}

func (q *RedisQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	return q.client.Publish(ctx, topic, payload).Err()
}

func (q *RedisQueue) Subscribe(ctx context.Context, topic string, handler Handler) error {
	pubsub := q.client.Subscribe(ctx, topic)

	// Force the subscription to be established before returning so
	// messages published right after Subscribe are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	go func() {
		defer func() { _ = pubsub.Close() }()

		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				if err := handler(ctx, []byte(msg.Payload)); err != nil {
					q.logger.Error("message handler failed, requeueing",
						"topic", topic,
						"error", err,
					)

					// Handlers return errors only on transient
					// conditions (busy claims, store failures), so
					// the message is redelivered after a short delay
					// instead of being dropped.
					if requeueErr := q.ScheduleDelayed(ctx, topic, []byte(msg.Payload), handlerRetryDelay); requeueErr != nil {
						q.logger.Error("failed to requeue message",
							"topic", topic,
							"error", requeueErr,
						)
					}
				}
			}
		}
	}()

	return nil
}

func (q *RedisQueue) ScheduleDelayed(ctx context.Context, topic string, payload []byte, delay time.Duration) error {
	msg := delayedMessage{
		ID:      uuid.New().String(),
		Topic:   topic,
		Payload: payload,
		ReadyAt: time.Now().Add(delay),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return q.client.ZAdd(ctx, scheduledMessagesKey, redis.Z{
		Score:  float64(msg.ReadyAt.UnixMilli()),
		Member: data,
	}).Err()
}

func (q *RedisQueue) ScheduleRecurring(ctx context.Context, topic string, payload []byte, interval time.Duration, opts RecurringOptions) (string, error) {
	next := time.Now().Add(interval)
	if !opts.StartAt.IsZero() && opts.StartAt.After(time.Now()) {
		next = opts.StartAt
	}

	schedule := recurringSchedule{
		ID:       uuid.New().String(),
		Topic:    topic,
		Payload:  payload,
		Interval: interval,
		Options:  opts,
		NextRun:  next,
	}

	data, err := json.Marshal(schedule)
	if err != nil {
		return "", err
	}

	if err := q.client.HSet(ctx, recurringSchedulesKey, schedule.ID, data).Err(); err != nil {
		return "", err
	}

	return schedule.ID, nil
}

func (q *RedisQueue) CancelRecurring(ctx context.Context, scheduleID string) error {
	return q.client.HDel(ctx, recurringSchedulesKey, scheduleID).Err()
}

// PushPriority enqueues onto a per-topic sorted set. The score folds
// the priority rank with an enqueue timestamp so equal priorities pop
// in FIFO order.
func (q *RedisQueue) PushPriority(ctx context.Context, topic string, payload []byte, priority Priority) error {
	score := priority.Score()*1e15 + float64(time.Now().UnixMicro())

	return q.client.ZAdd(ctx, priorityKeyPrefix+topic, redis.Z{
		Score:  score,
		Member: payload,
	}).Err()
}

func (q *RedisQueue) PopPriority(ctx context.Context, topic string) ([]byte, error) {
	items, err := q.client.ZPopMin(ctx, priorityKeyPrefix+topic, 1).Result()
	if err != nil {
		return nil, err
	}

	if len(items) == 0 {
		return nil, ErrQueueEmpty
	}

	member, ok := items[0].Member.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected member type %T in priority queue %s", items[0].Member, topic)
	}

	return []byte(member), nil
}

func (q *RedisQueue) Close() error {
	q.closeOnce.Do(func() {
		close(q.done)
	})
	q.wg.Wait()

	return nil
}

func (q *RedisQueue) poll() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.done:
			return
		case now := <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), q.pollInterval)
			q.deliverDelayed(ctx, now)
			q.deliverRecurring(ctx, now)
			cancel()
		}
	}
}

func (q *RedisQueue) deliverDelayed(ctx context.Context, now time.Time) {
	members, err := q.client.ZRangeByScore(ctx, scheduledMessagesKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: scheduledBatchSize,
	}).Result()
	if err != nil {
		q.logger.Error("failed to read scheduled messages", "error", err)

		return
	}

	for _, member := range members {
		// Claim before publishing so concurrent pollers deliver each
		// message once.
		removed, err := q.client.ZRem(ctx, scheduledMessagesKey, member).Result()
		if err != nil || removed == 0 {
			continue
		}

		var msg delayedMessage
		if err := json.Unmarshal([]byte(member), &msg); err != nil {
			q.logger.Error("discarding malformed scheduled message", "error", err)

			continue
		}

		if err := q.Publish(ctx, msg.Topic, msg.Payload); err != nil {
			q.logger.Error("failed to deliver scheduled message",
				"topic", msg.Topic,
				"error", err,
			)
		}
	}
}

func (q *RedisQueue) deliverRecurring(ctx context.Context, now time.Time) {
	entries, err := q.client.HGetAll(ctx, recurringSchedulesKey).Result()
	if err != nil {
		q.logger.Error("failed to read recurring schedules", "error", err)

		return
	}

	for id, raw := range entries {
		var schedule recurringSchedule
		if err := json.Unmarshal([]byte(raw), &schedule); err != nil {
			q.logger.Error("discarding malformed recurring schedule", "schedule_id", id, "error", err)
			q.client.HDel(ctx, recurringSchedulesKey, id)

			continue
		}

		if schedule.NextRun.After(now) {
			continue
		}

		if !schedule.Options.EndAt.IsZero() && now.After(schedule.Options.EndAt) {
			q.client.HDel(ctx, recurringSchedulesKey, id)

			continue
		}

		if err := q.Publish(ctx, schedule.Topic, schedule.Payload); err != nil {
			q.logger.Error("failed to deliver recurring message",
				"topic", schedule.Topic,
				"schedule_id", id,
				"error", err,
			)

			continue
		}

		schedule.Executions++
		schedule.NextRun = now.Add(schedule.Interval)

		if schedule.Options.MaxExecutions > 0 && schedule.Executions >= schedule.Options.MaxExecutions {
			q.client.HDel(ctx, recurringSchedulesKey, id)

			continue
		}

		data, err := json.Marshal(schedule)
		if err != nil {
			continue
		}

		q.client.HSet(ctx, recurringSchedulesKey, id, data)
	}
}
