package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/cascadehq/cascade/pkg/actions"
	"github.com/cascadehq/cascade/pkg/events"
	"github.com/cascadehq/cascade/pkg/models"
	"github.com/cascadehq/cascade/pkg/otelhelper"
	"github.com/cascadehq/cascade/pkg/persistence"
	"github.com/cascadehq/cascade/pkg/protocol"
	"github.com/cascadehq/cascade/pkg/queue"
	"github.com/cascadehq/cascade/pkg/registry"
	"github.com/cascadehq/cascade/pkg/stepexec"
	"github.com/cascadehq/cascade/pkg/waits"
)

func newTestEngine(t *testing.T) (*Engine, *persistence.MemoryPersistence, queue.MessageQueue, *registry.Registry) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.NewGoChannelQueue(logger, queue.GoChannelConfig{PollInterval: 10 * time.Millisecond})
	t.Cleanup(func() { _ = q.Close() })

	store := persistence.NewMemoryPersistence()
	reg := registry.NewRegistry(logger)
	actions.RegisterDefaults(reg, logger, nil)

	eng, err := NewEngine(Config{
		WorkerID:    "worker-test",
		Logger:      logger,
		Queue:       q,
		Persistence: store,
		Registry:    reg,
	})
	require.NoError(t, err)

	return eng, store, q, reg
}

func activeWorkflow(id string, workflowActions ...*models.WorkflowAction) *models.Workflow {
	return &models.Workflow{
		ID:      id,
		Name:    "Test workflow " + id,
		Status:  models.WorkflowStatusActive,
		Trigger: models.TriggerDefinition{Type: models.TriggerFormSubmitted},
		Actions: workflowActions,
		Version: 1,
	}
}

func triggerFor(contactID string) *models.TriggerEvent {
	return &models.TriggerEvent{
		ID:        uuid.New().String(),
		Type:      models.TriggerFormSubmitted,
		ContactID: contactID,
		Contact: models.ContactSnapshot{
			ID:         contactID,
			Email:      contactID + "@example.com",
			CapturedAt: time.Now().UTC(),
		},
		Payload:    map[string]any{"form_id": "signup"},
		OccurredAt: time.Now().UTC(),
	}
}

func pendingExecution(workflow *models.Workflow, contactID string) *models.WorkflowExecution {
	firstID := ""
	if len(workflow.Actions) > 0 {
		firstID = workflow.Actions[0].ID
	}

	return &models.WorkflowExecution{
		ID:         uuid.New().String(),
		WorkflowID: workflow.ID,
		ContactID:  contactID,
		Status:     models.ExecutionPending,
		State:      models.WorkflowState{CurrentNodeID: firstID},
		Context: models.ExecutionContext{
			Contact: models.ContactSnapshot{
				ID:         contactID,
				Email:      contactID + "@example.com",
				CapturedAt: time.Now().UTC(),
			},
		},
		EnrolledAt: time.Now().UTC(),
	}
}

// eventRecorder collects emitted lifecycle events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) listen(_ context.Context, event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
}

func (r *eventRecorder) ofType(eventType events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []events.Event

	for _, event := range r.events {
		if event.GetType() == eventType {
			out = append(out, event)
		}
	}

	return out
}

func TestEngineRunsWorkflowToCompletion(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	workflow := activeWorkflow("wf-welcome",
		&models.WorkflowAction{
			ID:   "send-email",
			Type: models.ActionSendEmail,
			Config: map[string]any{
				"to":      []string{"new@example.com"},
				"subject": "Welcome aboard",
				"body":    "Glad to have you",
			},
			OnSuccess: []string{"pause"},
		},
		&models.WorkflowAction{
			ID:   "pause",
			Type: models.ActionWait,
			Config: map[string]any{
				"wait_type": "duration",
				"duration":  map[string]any{"amount": 0, "unit": "minutes"},
			},
			OnSuccess: []string{"tag"},
		},
		&models.WorkflowAction{
			ID:     "tag",
			Type:   models.ActionAddTag,
			Config: map[string]any{"tag": "welcomed"},
		},
	)
	require.NoError(t, store.SaveWorkflow(ctx, workflow))
	require.NoError(t, eng.Start(ctx))

	executions, err := eng.InitiateFromTrigger(ctx, triggerFor("contact-1"))
	require.NoError(t, err)
	require.Len(t, executions, 1)

	executionID := executions[0].ID

	require.Eventually(t, func() bool {
		execution, err := store.ExecutionByID(ctx, executionID)

		return err == nil && execution.Status == models.ExecutionCompleted
	}, 5*time.Second, 20*time.Millisecond)

	execution, err := store.ExecutionByID(ctx, executionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"send-email", "pause", "tag"}, execution.State.VisitedNodes)
	assert.Contains(t, execution.Context.Contact.Tags, "welcomed")
	assert.NotNil(t, execution.StartedAt)
	assert.NotNil(t, execution.CompletedAt)
	assert.Equal(t, 3, execution.State.StepResults.Len())

	stored, err := store.WorkflowByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Stats.TotalEnrollments)
	assert.Equal(t, int64(1), stored.Stats.CompletedEnrollments)
	assert.Equal(t, int64(0), stored.Stats.ActiveEnrollments)
}

func TestEnrollmentEligibility(t *testing.T) {
	ctx := context.Background()

	t.Run("already enrolled", func(t *testing.T) {
		eng, store, _, _ := newTestEngine(t)

		workflow := activeWorkflow("wf-single",
			&models.WorkflowAction{ID: "tag", Type: models.ActionAddTag, Config: map[string]any{"tag": "x"}},
		)
		require.NoError(t, store.SaveWorkflow(ctx, workflow))

		running := pendingExecution(workflow, "contact-1")
		running.Status = models.ExecutionRunning
		require.NoError(t, store.CreateExecution(ctx, running))

		_, err := eng.Enroll(ctx, workflow, triggerFor("contact-1"))
		require.ErrorIs(t, err, ErrEnrollmentBlocked)
		assert.Contains(t, err.Error(), "already_enrolled")
	})

	t.Run("enrollment limit reached", func(t *testing.T) {
		eng, store, _, _ := newTestEngine(t)

		workflow := activeWorkflow("wf-limited",
			&models.WorkflowAction{ID: "tag", Type: models.ActionAddTag, Config: map[string]any{"tag": "x"}},
		)
		workflow.Enrollment = models.EnrollmentSettings{
			AllowMultipleEnrollments: true,
			EnrollmentLimit:          1,
		}
		require.NoError(t, store.SaveWorkflow(ctx, workflow))

		done := pendingExecution(workflow, "contact-1")
		done.Status = models.ExecutionCompleted
		require.NoError(t, store.CreateExecution(ctx, done))

		_, err := eng.Enroll(ctx, workflow, triggerFor("contact-1"))
		require.ErrorIs(t, err, ErrEnrollmentBlocked)
		assert.Contains(t, err.Error(), "enrollment_limit_reached")
	})

	t.Run("re-enrollment delay", func(t *testing.T) {
		eng, store, _, _ := newTestEngine(t)

		workflow := activeWorkflow("wf-delayed",
			&models.WorkflowAction{ID: "tag", Type: models.ActionAddTag, Config: map[string]any{"tag": "x"}},
		)
		workflow.Enrollment = models.EnrollmentSettings{
			AllowMultipleEnrollments: true,
			ReEnrollmentDelay:        &models.TimeAmount{Amount: 1, Unit: models.UnitHours},
		}
		require.NoError(t, store.SaveWorkflow(ctx, workflow))

		recent := pendingExecution(workflow, "contact-1")
		recent.Status = models.ExecutionCompleted
		recent.EnrolledAt = time.Now().UTC().Add(-2 * time.Hour)
		completedAt := time.Now().UTC().Add(-10 * time.Minute)
		recent.CompletedAt = &completedAt
		require.NoError(t, store.CreateExecution(ctx, recent))

		_, err := eng.Enroll(ctx, workflow, triggerFor("contact-1"))
		require.ErrorIs(t, err, ErrEnrollmentBlocked)
		assert.Contains(t, err.Error(), "re_enrollment_delay")
	})

	t.Run("re-enrollment allowed once the delay elapses", func(t *testing.T) {
		eng, store, _, _ := newTestEngine(t)

		workflow := activeWorkflow("wf-delayed-ok",
			&models.WorkflowAction{ID: "tag", Type: models.ActionAddTag, Config: map[string]any{"tag": "x"}},
		)
		workflow.Enrollment = models.EnrollmentSettings{
			AllowMultipleEnrollments: true,
			ReEnrollmentDelay:        &models.TimeAmount{Amount: 1, Unit: models.UnitHours},
		}
		require.NoError(t, store.SaveWorkflow(ctx, workflow))

		old := pendingExecution(workflow, "contact-1")
		old.Status = models.ExecutionCompleted
		old.EnrolledAt = time.Now().UTC().Add(-3 * time.Hour)
		completedAt := time.Now().UTC().Add(-90 * time.Minute)
		old.CompletedAt = &completedAt
		require.NoError(t, store.CreateExecution(ctx, old))

		_, err := eng.Enroll(ctx, workflow, triggerFor("contact-1"))
		require.NoError(t, err)
	})

	t.Run("blocked contact may enroll in another workflow", func(t *testing.T) {
		eng, store, _, _ := newTestEngine(t)

		blocked := activeWorkflow("wf-blocked",
			&models.WorkflowAction{ID: "tag", Type: models.ActionAddTag, Config: map[string]any{"tag": "x"}},
		)
		require.NoError(t, store.SaveWorkflow(ctx, blocked))

		running := pendingExecution(blocked, "contact-1")
		running.Status = models.ExecutionRunning
		require.NoError(t, store.CreateExecution(ctx, running))

		other := activeWorkflow("wf-open",
			&models.WorkflowAction{ID: "tag", Type: models.ActionAddTag, Config: map[string]any{"tag": "y"}},
		)
		require.NoError(t, store.SaveWorkflow(ctx, other))

		_, err := eng.Enroll(ctx, blocked, triggerFor("contact-1"))
		require.ErrorIs(t, err, ErrEnrollmentBlocked)

		execution, err := eng.Enroll(ctx, other, triggerFor("contact-1"))
		require.NoError(t, err)
		assert.Equal(t, other.ID, execution.WorkflowID)
	})

	t.Run("entry conditions not met", func(t *testing.T) {
		eng, store, _, _ := newTestEngine(t)

		workflow := activeWorkflow("wf-gated",
			&models.WorkflowAction{ID: "tag", Type: models.ActionAddTag, Config: map[string]any{"tag": "x"}},
		)
		workflow.Enrollment = models.EnrollmentSettings{
			EntryConditions: &models.ConditionGroup{
				Operator: models.GroupAnd,
				Conditions: []models.ConditionNode{
					models.Leaf("contact.tags", models.OpIncludes, "qualified"),
				},
			},
		}
		require.NoError(t, store.SaveWorkflow(ctx, workflow))

		_, err := eng.Enroll(ctx, workflow, triggerFor("contact-1"))
		require.ErrorIs(t, err, ErrEnrollmentBlocked)
		assert.Contains(t, err.Error(), "entry_conditions_not_met")
	})
}

func TestGoalExitShortCircuitsExecution(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	recorder := &eventRecorder{}
	eng.AddListener(recorder.listen)

	workflow := activeWorkflow("wf-goal",
		&models.WorkflowAction{
			ID:        "tag-vip",
			Type:      models.ActionAddTag,
			Config:    map[string]any{"tag": "vip"},
			OnSuccess: []string{"email"},
		},
		&models.WorkflowAction{
			ID:   "email",
			Type: models.ActionSendEmail,
			Config: map[string]any{
				"to":      []string{"someone@example.com"},
				"subject": "Should never send",
				"body":    "n/a",
			},
		},
	)
	workflow.Goals = []*models.WorkflowGoal{{
		ID:   "goal-vip",
		Name: "Became VIP",
		Conditions: models.ConditionGroup{
			Operator: models.GroupAnd,
			Conditions: []models.ConditionNode{
				models.Leaf("contact.tags", models.OpIncludes, "vip"),
			},
		},
		OnAchievement: models.GoalExit,
	}}
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	execution := pendingExecution(workflow, "contact-9")
	require.NoError(t, store.CreateExecution(ctx, execution))
	require.NoError(t, eng.ExecuteWorkflow(ctx, execution.ID))

	stored, err := store.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, stored.Status)
	assert.Equal(t, []string{"tag-vip"}, stored.State.VisitedNodes)
	assert.Contains(t, stored.GoalsAchieved, "goal-vip")

	completions := recorder.ofType(events.ExecutionCompletedEvent)
	require.Len(t, completions, 1)

	completed, ok := completions[0].(events.ExecutionCompleted)
	require.True(t, ok)
	assert.Equal(t, "goal_achieved", completed.Reason)

	achievements := recorder.ofType(events.GoalAchievedEvent)
	require.Len(t, achievements, 1)
}

func TestEngineRetriesFailedStep(t *testing.T) {
	eng, store, _, reg := newTestEngine(t)
	ctx := context.Background()

	var attempts atomic.Int32

	reg.Register(models.ActionTrackEvent, protocol.ExecutorFunc(
		func(context.Context, *models.WorkflowAction, *models.ExecutionContext) (any, error) {
			if attempts.Add(1) < 3 {
				return nil, stepexec.NewCodedError("503", "upstream unavailable")
			}

			return map[string]any{"tracked": true}, nil
		},
	))

	workflow := activeWorkflow("wf-retry",
		&models.WorkflowAction{
			ID:   "track",
			Type: models.ActionTrackEvent,
			RetryConfig: &models.RetryConfig{
				Enabled:         true,
				MaxAttempts:     3,
				BackoffStrategy: models.BackoffFixed,
				Delay:           models.RetryDelay{InitialMs: 10},
			},
		},
	)
	require.NoError(t, store.SaveWorkflow(ctx, workflow))
	require.NoError(t, eng.Start(ctx))

	execution := pendingExecution(workflow, "contact-3")
	require.NoError(t, store.CreateExecution(ctx, execution))
	require.NoError(t, eng.ExecuteWorkflow(ctx, execution.ID))

	require.Eventually(t, func() bool {
		stored, err := store.ExecutionByID(ctx, execution.ID)

		return err == nil && stored.Status == models.ExecutionCompleted
	}, 5*time.Second, 20*time.Millisecond)

	stored, err := store.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, 0, stored.RetryCount)
	assert.Len(t, stored.Errors, 2)

	result, ok := stored.State.StepResults.Get("track")
	require.True(t, ok)
	assert.Equal(t, models.StepCompleted, result.Status)
}

func TestResumeSkipsCompletedSteps(t *testing.T) {
	eng, store, _, reg := newTestEngine(t)
	ctx := context.Background()

	var firstStepRuns atomic.Int32

	reg.Register(models.ActionTrackEvent, protocol.ExecutorFunc(
		func(context.Context, *models.WorkflowAction, *models.ExecutionContext) (any, error) {
			firstStepRuns.Add(1)

			return nil, nil
		},
	))

	workflow := activeWorkflow("wf-replay",
		&models.WorkflowAction{ID: "step1", Type: models.ActionTrackEvent, OnSuccess: []string{"step2"}},
		&models.WorkflowAction{ID: "step2", Type: models.ActionAddTag, Config: map[string]any{"tag": "resumed"}},
	)
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	execution := pendingExecution(workflow, "contact-5")
	completedAt := time.Now().UTC()
	execution.State.StepResults.Set("step1", models.StepResult{
		Status:      models.StepCompleted,
		StartedAt:   completedAt.Add(-time.Second),
		CompletedAt: &completedAt,
	})
	require.NoError(t, store.CreateExecution(ctx, execution))
	require.NoError(t, eng.ExecuteWorkflow(ctx, execution.ID))

	stored, err := store.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, stored.Status)
	assert.Equal(t, int32(0), firstStepRuns.Load())
	assert.Contains(t, stored.Context.Contact.Tags, "resumed")
}

func TestGotoJumpsToTargetStep(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	workflow := activeWorkflow("wf-goto",
		&models.WorkflowAction{
			ID:        "first",
			Type:      models.ActionAddTag,
			Config:    map[string]any{"tag": "started"},
			OnSuccess: []string{"jump"},
		},
		&models.WorkflowAction{
			ID:     "jump",
			Type:   models.ActionGoto,
			Config: map[string]any{"target_step_id": "finish"},
		},
		&models.WorkflowAction{ID: "skipped", Type: models.ActionAddTag, Config: map[string]any{"tag": "never"}},
		&models.WorkflowAction{ID: "finish", Type: models.ActionEndWorkflow},
	)
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	execution := pendingExecution(workflow, "contact-7")
	require.NoError(t, store.CreateExecution(ctx, execution))
	require.NoError(t, eng.ExecuteWorkflow(ctx, execution.ID))

	stored, err := store.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, stored.Status)
	assert.Equal(t, []string{"first", "jump", "finish"}, stored.State.VisitedNodes)
	assert.NotContains(t, stored.Context.Contact.Tags, "never")
}

func TestConditionWaitResumesWhenConditionHolds(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	workflow := activeWorkflow("wf-reply",
		&models.WorkflowAction{
			ID:   "hold",
			Type: models.ActionWait,
			Config: map[string]any{
				"wait_type": "until_condition",
				"condition": map[string]any{
					"operator": "AND",
					"conditions": []any{
						map[string]any{"field": "variable.replied", "operator": "equals", "value": true},
					},
				},
			},
			OnSuccess: []string{"tag"},
		},
		&models.WorkflowAction{ID: "tag", Type: models.ActionAddTag, Config: map[string]any{"tag": "replied"}},
	)
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	execution := pendingExecution(workflow, "contact-11")
	require.NoError(t, store.CreateExecution(ctx, execution))
	require.NoError(t, eng.ExecuteWorkflow(ctx, execution.ID))

	waiting, err := store.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionWaiting, waiting.Status)
	require.NotEmpty(t, waiting.Metadata[waitScheduleKey])

	// Condition unmet: the poll fires but the execution keeps waiting.
	msg := &waits.ResumeMessage{ExecutionID: execution.ID, StepID: "hold"}
	require.NoError(t, eng.resumeFromWait(ctx, msg, false))

	still, err := store.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionWaiting, still.Status)

	// The contact replies: flip the variable and poll again.
	still.Context.SetVariable("replied", true)
	require.NoError(t, store.UpdateExecution(ctx, still))
	require.NoError(t, eng.resumeFromWait(ctx, msg, false))

	done, err := store.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, done.Status)
	assert.Contains(t, done.Context.Contact.Tags, "replied")
	assert.NotContains(t, done.Metadata, waitScheduleKey)
}

func TestCancelExecution(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	workflow := activeWorkflow("wf-cancel",
		&models.WorkflowAction{ID: "tag", Type: models.ActionAddTag, Config: map[string]any{"tag": "x"}},
	)
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	execution := pendingExecution(workflow, "contact-13")
	execution.Status = models.ExecutionWaiting
	require.NoError(t, store.CreateExecution(ctx, execution))

	require.NoError(t, eng.Cancel(ctx, execution.ID, "contact unsubscribed"))

	stored, err := store.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCancelled, stored.Status)
	assert.NotNil(t, stored.CompletedAt)

	err = eng.Cancel(ctx, execution.ID, "again")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already")
}

func TestExecutionProducesSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.NewGoChannelQueue(logger, queue.GoChannelConfig{PollInterval: 10 * time.Millisecond})
	t.Cleanup(func() { _ = q.Close() })

	store := persistence.NewMemoryPersistence()
	reg := registry.NewRegistry(logger)
	actions.RegisterDefaults(reg, logger, nil)

	eng, err := NewEngine(Config{
		WorkerID:    "worker-test",
		Logger:      logger,
		Queue:       q,
		Persistence: store,
		Registry:    reg,
		Tracer:      provider.Tracer("engine-test"),
	})
	require.NoError(t, err)

	ctx := context.Background()

	workflow := activeWorkflow("wf-traced",
		&models.WorkflowAction{ID: "tag", Type: models.ActionAddTag, Config: map[string]any{"tag": "traced"}},
	)
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	execution := pendingExecution(workflow, "contact-14")
	require.NoError(t, store.CreateExecution(ctx, execution))

	require.NoError(t, eng.ExecuteWorkflow(ctx, execution.ID))

	spans := recorder.Ended()

	names := make([]string, 0, len(spans))
	for _, span := range spans {
		names = append(names, span.Name())

		if span.Name() == "engine.step" {
			assert.Contains(t, span.Attributes(), attribute.String(otelhelper.StepIDKey, "tag"))
		}
	}

	assert.Contains(t, names, "engine.run")
	assert.Contains(t, names, "engine.step")
}
