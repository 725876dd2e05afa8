package waits

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadehq/cascade/pkg/models"
	"github.com/cascadehq/cascade/pkg/queue"
)

type scheduledCall struct {
	topic   string
	payload []byte
	delay   time.Duration
}

type recurringCall struct {
	topic    string
	payload  []byte
	interval time.Duration
}

// fakeQueue records scheduling calls without a transport.
type fakeQueue struct {
	delayed   []scheduledCall
	recurring []recurringCall
	cancelled []string
}

func (f *fakeQueue) Publish(context.Context, string, []byte) error { return nil }

func (f *fakeQueue) Subscribe(context.Context, string, queue.Handler) error { return nil }

func (f *fakeQueue) ScheduleDelayed(_ context.Context, topic string, payload []byte, delay time.Duration) error {
	f.delayed = append(f.delayed, scheduledCall{topic: topic, payload: payload, delay: delay})

	return nil
}

func (f *fakeQueue) ScheduleRecurring(_ context.Context, topic string, payload []byte, interval time.Duration, _ queue.RecurringOptions) (string, error) {
	f.recurring = append(f.recurring, recurringCall{topic: topic, payload: payload, interval: interval})

	return "sched-1", nil
}

func (f *fakeQueue) CancelRecurring(_ context.Context, scheduleID string) error {
	f.cancelled = append(f.cancelled, scheduleID)

	return nil
}

func (f *fakeQueue) Close() error { return nil }

func newExecution() *models.WorkflowExecution {
	return &models.WorkflowExecution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		ContactID:  "c-1",
		Status:     models.ExecutionRunning,
		Context: models.ExecutionContext{
			Contact: models.ContactSnapshot{
				ID: "c-1",
				CustomFields: map[string]any{
					"renewal_date": "2031-02-03T10:00:00Z",
				},
			},
		},
	}
}

func waitAction(config map[string]any) *models.WorkflowAction {
	return &models.WorkflowAction{
		ID:     "wait-1",
		Type:   models.ActionWait,
		Config: config,
	}
}

func decodeResume(t *testing.T, payload []byte) ResumeMessage {
	t.Helper()

	var msg ResumeMessage
	require.NoError(t, json.Unmarshal(payload, &msg))

	return msg
}

func TestSchedule_Duration(t *testing.T) {
	q := &fakeQueue{}
	scheduler := NewScheduler(slog.Default(), q)
	execution := newExecution()

	result, err := scheduler.Schedule(context.Background(), execution, waitAction(map[string]any{
		"wait_type": "duration",
		"duration":  map[string]any{"amount": 2, "unit": "hours"},
	}))
	require.NoError(t, err)

	require.Len(t, q.delayed, 1)
	assert.Equal(t, queue.TopicWaitResume, q.delayed[0].topic)
	assert.Equal(t, 2*time.Hour, q.delayed[0].delay)

	msg := decodeResume(t, q.delayed[0].payload)
	assert.Equal(t, "exec-1", msg.ExecutionID)
	assert.Equal(t, "wait-1", msg.StepID)

	assert.Equal(t, models.ExecutionWaiting, execution.Status)
	require.NotNil(t, execution.State.WaitingUntil)
	require.NotNil(t, result.ResumeAt)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), *result.ResumeAt, time.Minute)
}

func TestSchedule_UntilDateLiteral(t *testing.T) {
	q := &fakeQueue{}
	scheduler := NewScheduler(slog.Default(), q)
	execution := newExecution()

	target := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)

	result, err := scheduler.Schedule(context.Background(), execution, waitAction(map[string]any{
		"wait_type":  "until_date",
		"wait_until": target.Format(time.RFC3339),
	}))
	require.NoError(t, err)

	require.Len(t, q.delayed, 1)
	assert.InDelta(t, (24 * time.Hour).Seconds(), q.delayed[0].delay.Seconds(), 60)
	require.NotNil(t, result.ResumeAt)
	assert.True(t, result.ResumeAt.Equal(target))
}

func TestSchedule_UntilDateFieldReference(t *testing.T) {
	q := &fakeQueue{}
	scheduler := NewScheduler(slog.Default(), q)
	execution := newExecution()

	result, err := scheduler.Schedule(context.Background(), execution, waitAction(map[string]any{
		"wait_type":  "until_date",
		"wait_until": "{{contact.custom_fields.renewal_date}}",
	}))
	require.NoError(t, err)
	require.NotNil(t, result.ResumeAt)
	assert.Equal(t, 2031, result.ResumeAt.Year())
}

func TestSchedule_UntilDateInPastResumesImmediately(t *testing.T) {
	q := &fakeQueue{}
	scheduler := NewScheduler(slog.Default(), q)

	_, err := scheduler.Schedule(context.Background(), newExecution(), waitAction(map[string]any{
		"wait_type":  "until_date",
		"wait_until": "2020-01-01T00:00:00Z",
	}))
	require.NoError(t, err)

	require.Len(t, q.delayed, 1)
	assert.Equal(t, time.Duration(0), q.delayed[0].delay)
}

func TestSchedule_UntilCondition(t *testing.T) {
	q := &fakeQueue{}
	scheduler := NewScheduler(slog.Default(), q)
	execution := newExecution()

	result, err := scheduler.Schedule(context.Background(), execution, waitAction(map[string]any{
		"wait_type": "until_condition",
		"condition": models.AllOf(models.Leaf("contact.tags", models.OpIncludes, "replied")),
		"max_wait_duration": map[string]any{
			"amount": 3,
			"unit":   "days",
		},
	}))
	require.NoError(t, err)
	assert.Equal(t, "sched-1", result.ScheduleID)

	require.Len(t, q.recurring, 1)
	assert.Equal(t, queue.TopicWaitResume, q.recurring[0].topic)

	require.Len(t, q.delayed, 1, "max wait enqueues a timeout")
	assert.Equal(t, queue.TopicWaitTimeout, q.delayed[0].topic)
	assert.Equal(t, 3*24*time.Hour, q.delayed[0].delay)

	msg := decodeResume(t, q.delayed[0].payload)
	assert.Equal(t, "sched-1", msg.ScheduleID, "timeout carries the poll schedule for cancellation")

	require.NoError(t, scheduler.CancelPoll(context.Background(), result.ScheduleID))
	assert.Equal(t, []string{"sched-1"}, q.cancelled)
}

func TestSchedule_ConditionWaitRequiresCondition(t *testing.T) {
	scheduler := NewScheduler(slog.Default(), &fakeQueue{})

	_, err := scheduler.Schedule(context.Background(), newExecution(), waitAction(map[string]any{
		"wait_type": "until_condition",
	}))
	require.Error(t, err)
}
