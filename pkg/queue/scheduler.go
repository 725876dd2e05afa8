package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type delayedMessage struct {
	ID      string
	Topic   string
	Payload []byte
	ReadyAt time.Time
}

type recurringSchedule struct {
	ID         string
	Topic      string
	Payload    []byte
	Interval   time.Duration
	Options    RecurringOptions
	NextRun    time.Time
	Executions int
}

// memoryScheduler provides delayed and recurring delivery for
// transports without native support, polling its stores on a fixed
// interval and handing due messages to the publish callback. State is
// lost on process exit.
type memoryScheduler struct {
	logger  *slog.Logger
	publish func(ctx context.Context, topic string, payload []byte) error

	mu        sync.Mutex
	delayed   []delayedMessage
	recurring map[string]*recurringSchedule

	pollInterval time.Duration
	done         chan struct{}
	closeOnce    sync.Once
}

func newMemoryScheduler(logger *slog.Logger, pollInterval time.Duration, publish func(ctx context.Context, topic string, payload []byte) error) *memoryScheduler {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	s := &memoryScheduler{
		logger:       logger,
		publish:      publish,
		recurring:    make(map[string]*recurringSchedule),
		pollInterval: pollInterval,
		done:         make(chan struct{}),
	}

	go s.run()

	return s
}

func (s *memoryScheduler) ScheduleDelayed(_ context.Context, topic string, payload []byte, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.delayed = append(s.delayed, delayedMessage{
		ID:      uuid.New().String(),
		Topic:   topic,
		Payload: payload,
		ReadyAt: time.Now().Add(delay),
	})

	return nil
}

func (s *memoryScheduler) ScheduleRecurring(_ context.Context, topic string, payload []byte, interval time.Duration, opts RecurringOptions) (string, error) {
	next := time.Now().Add(interval)
	if !opts.StartAt.IsZero() && opts.StartAt.After(time.Now()) {
		next = opts.StartAt
	}

	schedule := &recurringSchedule{
		ID:       uuid.New().String(),
		Topic:    topic,
		Payload:  payload,
		Interval: interval,
		Options:  opts,
		NextRun:  next,
	}

	s.mu.Lock()
	s.recurring[schedule.ID] = schedule
	s.mu.Unlock()

	return schedule.ID, nil
}

func (s *memoryScheduler) CancelRecurring(_ context.Context, scheduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.recurring, scheduleID)

	return nil
}

func (s *memoryScheduler) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *memoryScheduler) run() {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.deliverDue(now)
		}
	}
}

func (s *memoryScheduler) deliverDue(now time.Time) {
	ctx := context.Background()

	s.mu.Lock()

	var due []delayedMessage

	remaining := s.delayed[:0]

	for _, msg := range s.delayed {
		if !msg.ReadyAt.After(now) {
			due = append(due, msg)
		} else {
			remaining = append(remaining, msg)
		}
	}

	s.delayed = remaining

	for id, schedule := range s.recurring {
		if schedule.NextRun.After(now) {
			continue
		}

		if !schedule.Options.EndAt.IsZero() && now.After(schedule.Options.EndAt) {
			delete(s.recurring, id)

			continue
		}

		due = append(due, delayedMessage{ID: id, Topic: schedule.Topic, Payload: schedule.Payload})

		schedule.Executions++
		schedule.NextRun = now.Add(schedule.Interval)

		if schedule.Options.MaxExecutions > 0 && schedule.Executions >= schedule.Options.MaxExecutions {
			delete(s.recurring, id)
		}
	}

	s.mu.Unlock()

	for _, msg := range due {
		if err := s.publish(ctx, msg.Topic, msg.Payload); err != nil {
			s.logger.Error("failed to deliver scheduled message",
				"topic", msg.Topic,
				"error", err,
			)
		}
	}
}
