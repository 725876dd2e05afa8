// Package mocks provides testify mock implementations of the cascade
// interfaces for use in tests.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/cascadehq/cascade/pkg/queue"
)

// MockQueue is a mock implementation of the queue.MessageQueue
// interface.
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	args := m.Called(ctx, topic, payload)

	return args.Error(0)
}

func (m *MockQueue) Subscribe(ctx context.Context, topic string, handler queue.Handler) error {
	args := m.Called(ctx, topic, handler)

	return args.Error(0)
}

func (m *MockQueue) ScheduleDelayed(ctx context.Context, topic string, payload []byte, delay time.Duration) error {
	args := m.Called(ctx, topic, payload, delay)

	return args.Error(0)
}

func (m *MockQueue) ScheduleRecurring(ctx context.Context, topic string, payload []byte, interval time.Duration, opts queue.RecurringOptions) (string, error) {
	args := m.Called(ctx, topic, payload, interval, opts)

	return args.String(0), args.Error(1)
}

func (m *MockQueue) CancelRecurring(ctx context.Context, scheduleID string) error {
	args := m.Called(ctx, scheduleID)

	return args.Error(0)
}

func (m *MockQueue) Close() error {
	args := m.Called()

	return args.Error(0)
}
