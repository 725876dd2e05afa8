// Package queue defines the message transport used to drive workflow
// executions: immediate publish/subscribe, delayed delivery for waits
// and retries, and recurring delivery for interval triggers.
package queue

import (
	"context"
	"errors"
	"time"
)

// Topics carrying execution lifecycle messages. Wait resumption and
// wait timeout are separate topics so a timed-out wait can be routed
// differently from a normal wake-up.
const (
	TopicExecutionStart  = "workflow:execution:start"
	TopicExecutionResume = "workflow:execution:resume"
	TopicWaitResume      = "workflow:wait:resume"
	TopicWaitTimeout     = "workflow:wait:timeout"
)

// EventTopic is the topic carrying outbound lifecycle events of the
// given type.
func EventTopic(eventType string) string {
	return "workflow:event:" + eventType
}

// TriggerTopic is the topic carrying inbound trigger events of the
// given type.
func TriggerTopic(triggerType string) string {
	return "trigger:" + triggerType
}

// Handler processes one message. Returning an error nacks the message
// so the transport can redeliver it.
type Handler func(ctx context.Context, payload []byte) error

// RecurringOptions bound a recurring schedule. Zero values mean
// unbounded.
type RecurringOptions struct {
	StartAt       time.Time `json:"start_at,omitempty"`
	EndAt         time.Time `json:"end_at,omitempty"`
	MaxExecutions int       `json:"max_executions,omitempty"`
}

// MessageQueue is the transport contract the engine runs on. Delayed
// and recurring delivery survive process restarts on durable
// implementations; the in-process implementation keeps them in memory.
type MessageQueue interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// ScheduleDelayed delivers the payload on the topic after the
	// delay elapses.
	ScheduleDelayed(ctx context.Context, topic string, payload []byte, delay time.Duration) error

	// ScheduleRecurring delivers the payload on the topic every
	// interval until the options say otherwise. Returns the schedule
	// ID for cancellation.
	ScheduleRecurring(ctx context.Context, topic string, payload []byte, interval time.Duration, opts RecurringOptions) (string, error)

	// CancelRecurring stops a recurring schedule by ID.
	CancelRecurring(ctx context.Context, scheduleID string) error

	Close() error
}

// Priority orders messages within a priority queue. Lower score pops
// first.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Score maps a priority to its ordering rank.
func (p Priority) Score() float64 {
	switch p {
	case PriorityUrgent:
		return 1
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 3
	case PriorityLow:
		return 4
	default:
		return 3
	}
}

// PriorityQueue dequeues messages in priority order, FIFO within a
// priority.
type PriorityQueue interface {
	PushPriority(ctx context.Context, topic string, payload []byte, priority Priority) error
	PopPriority(ctx context.Context, topic string) ([]byte, error)
}

// ErrQueueEmpty is returned by PopPriority when nothing is queued.
var ErrQueueEmpty = errors.New("queue is empty")
