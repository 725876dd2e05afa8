package queue

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *GoChannelQueue {
	t.Helper()

	q := NewGoChannelQueue(slog.Default(), GoChannelConfig{PollInterval: 10 * time.Millisecond})
	t.Cleanup(func() { _ = q.Close() })

	return q
}

func collect(t *testing.T, q *GoChannelQueue, topic string) func() []string {
	t.Helper()

	var (
		mu       sync.Mutex
		received []string
	)

	err := q.Subscribe(context.Background(), topic, func(_ context.Context, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, string(payload))

		return nil
	})
	require.NoError(t, err)

	return func() []string {
		mu.Lock()
		defer mu.Unlock()

		return append([]string(nil), received...)
	}
}

func TestGoChannelQueue_PublishSubscribe(t *testing.T) {
	q := newTestQueue(t)
	got := collect(t, q, TopicExecutionStart)

	require.NoError(t, q.Publish(context.Background(), TopicExecutionStart, []byte("exec-1")))
	require.NoError(t, q.Publish(context.Background(), TopicExecutionStart, []byte("exec-2")))

	assert.Eventually(t, func() bool {
		return len(got()) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestGoChannelQueue_ScheduleDelayed(t *testing.T) {
	q := newTestQueue(t)
	got := collect(t, q, TopicWaitResume)

	require.NoError(t, q.ScheduleDelayed(context.Background(), TopicWaitResume, []byte("exec-1"), 50*time.Millisecond))

	assert.Empty(t, got(), "message must not arrive before the delay")

	assert.Eventually(t, func() bool {
		return len(got()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"exec-1"}, got())
}

func TestGoChannelQueue_ScheduleRecurringMaxExecutions(t *testing.T) {
	q := newTestQueue(t)
	got := collect(t, q, "trigger:interval")

	_, err := q.ScheduleRecurring(context.Background(), "trigger:interval", []byte("tick"), 20*time.Millisecond, RecurringOptions{
		MaxExecutions: 3,
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(got()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, got(), 3, "schedule stops after max executions")
}

func TestGoChannelQueue_CancelRecurring(t *testing.T) {
	q := newTestQueue(t)
	got := collect(t, q, "trigger:interval")

	id, err := q.ScheduleRecurring(context.Background(), "trigger:interval", []byte("tick"), time.Hour, RecurringOptions{})
	require.NoError(t, err)

	require.NoError(t, q.CancelRecurring(context.Background(), id))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, got())
}

func TestTopicHelpers(t *testing.T) {
	assert.Equal(t, "workflow:event:execution.completed", EventTopic("execution.completed"))
	assert.Equal(t, "trigger:form.submitted", TriggerTopic("form.submitted"))
}

func TestPriorityScores(t *testing.T) {
	assert.Less(t, PriorityUrgent.Score(), PriorityHigh.Score())
	assert.Less(t, PriorityHigh.Score(), PriorityMedium.Score())
	assert.Less(t, PriorityMedium.Score(), PriorityLow.Score())
	assert.Equal(t, PriorityMedium.Score(), Priority("unknown").Score())
}
