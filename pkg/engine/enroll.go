package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cascadehq/cascade/pkg/conditions"
	"github.com/cascadehq/cascade/pkg/events"
	"github.com/cascadehq/cascade/pkg/models"
	"github.com/cascadehq/cascade/pkg/queue"
)

// ErrEnrollmentBlocked is wrapped by enrollment rejections; the reason
// is in the error message and the emitted EnrollmentBlocked event.
var ErrEnrollmentBlocked = errors.New("enrollment blocked")

// InitiateFromTrigger enrolls the contact into every active workflow
// whose trigger matches the event. Workflows that reject the
// enrollment are skipped, not fatal: one contact event can legally
// enroll in some workflows and be blocked from others.
func (e *Engine) InitiateFromTrigger(ctx context.Context, trigger *models.TriggerEvent) ([]*models.WorkflowExecution, error) {
	if err := e.validate.Struct(trigger); err != nil {
		return nil, fmt.Errorf("invalid trigger event: %w", err)
	}

	workflows, err := e.store.WorkflowsByTrigger(ctx, trigger.Type)
	if err != nil {
		return nil, fmt.Errorf("loading workflows for trigger %s: %w", trigger.Type, err)
	}

	var enrolled []*models.WorkflowExecution

	for _, workflow := range workflows {
		execution, err := e.Enroll(ctx, workflow, trigger)
		if err != nil {
			if errors.Is(err, ErrEnrollmentBlocked) {
				e.logger.Info("enrollment blocked",
					"workflow_id", workflow.ID,
					"contact_id", trigger.ContactID,
					"reason", err.Error(),
				)

				continue
			}

			return enrolled, err
		}

		enrolled = append(enrolled, execution)
	}

	return enrolled, nil
}

// Enroll creates an execution for the contact in the workflow after
// checking entry conditions and enrollment eligibility, then publishes
// the start message.
func (e *Engine) Enroll(ctx context.Context, workflow *models.Workflow, trigger *models.TriggerEvent) (*models.WorkflowExecution, error) {
	execCtx := models.ExecutionContext{
		Contact:     trigger.Contact,
		TriggerData: trigger.Payload,
	}

	if execCtx.Contact.ID == "" {
		execCtx.Contact.ID = trigger.ContactID
	}

	if execCtx.Contact.CapturedAt.IsZero() {
		execCtx.Contact.CapturedAt = time.Now().UTC()
	}

	matched, err := conditions.Evaluate(workflow.Enrollment.EntryConditions, &execCtx)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: evaluating entry conditions: %w", workflow.ID, err)
	}

	if !matched {
		return nil, e.blockEnrollment(ctx, workflow, trigger, "entry_conditions_not_met")
	}

	if reason, err := e.checkEligibility(ctx, workflow, trigger.ContactID); err != nil {
		return nil, err
	} else if reason != "" {
		return nil, e.blockEnrollment(ctx, workflow, trigger, reason)
	}

	firstActionID, err := workflow.FirstActionID()
	if err != nil {
		return nil, err
	}

	execution := &models.WorkflowExecution{
		ID:              uuid.New().String(),
		WorkflowID:      workflow.ID,
		WorkflowVersion: workflow.Version,
		ContactID:       trigger.ContactID,
		OrganizationID:  workflow.OrganizationID,
		Status:          models.ExecutionPending,
		State: models.WorkflowState{
			CurrentNodeID: firstActionID,
		},
		Context:    execCtx,
		EnrolledAt: time.Now().UTC(),
	}

	if err := e.store.CreateExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("creating execution for workflow %s: %w", workflow.ID, err)
	}

	e.updateStats(ctx, workflow.ID, func(stats *models.WorkflowStats) {
		stats.TotalEnrollments++
		stats.ActiveEnrollments++
	})

	e.metrics.RecordEnrollment(ctx, workflow.ID)

	created := events.ExecutionCreated{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCreatedEvent, workflow.ID),
		ExecutionID: execution.ID,
		ContactID:   execution.ContactID,
		TriggerType: trigger.Type,
	}
	created.WorkerID = e.workerID
	e.emit(ctx, created)

	payload, err := json.Marshal(StartMessage{ExecutionID: execution.ID})
	if err != nil {
		return nil, err
	}

	if err := e.queue.Publish(ctx, queue.TopicExecutionStart, payload); err != nil {
		return nil, fmt.Errorf("publishing start for execution %s: %w", execution.ID, err)
	}

	return execution, nil
}

// checkEligibility applies the enrollment rules in precedence order:
// multiple-enrollment restriction first, then the total enrollment
// limit, then the re-enrollment delay. The returned reason is empty
// when the contact may enroll.
func (e *Engine) checkEligibility(ctx context.Context, workflow *models.Workflow, contactID string) (string, error) {
	history, err := e.store.ExecutionsByContact(ctx, workflow.ID, contactID, nil)
	if err != nil {
		return "", fmt.Errorf("loading enrollment history: %w", err)
	}

	if len(history) == 0 {
		return "", nil
	}

	settings := workflow.Enrollment

	if !settings.AllowMultipleEnrollments {
		for _, execution := range history {
			if !execution.Status.IsTerminal() {
				return "already_enrolled", nil
			}
		}
	}

	if settings.EnrollmentLimit > 0 && len(history) >= settings.EnrollmentLimit {
		return "enrollment_limit_reached", nil
	}

	if settings.ReEnrollmentDelay != nil {
		var lastCompleted time.Time

		// The delay counts from when the previous run finished, not
		// from when it was enrolled.
		for _, execution := range history {
			if !execution.Status.IsTerminal() || execution.CompletedAt == nil {
				continue
			}

			if execution.CompletedAt.After(lastCompleted) {
				lastCompleted = *execution.CompletedAt
			}
		}

		if !lastCompleted.IsZero() && time.Since(lastCompleted) < settings.ReEnrollmentDelay.ToDuration() {
			return "re_enrollment_delay", nil
		}
	}

	return "", nil
}

func (e *Engine) blockEnrollment(ctx context.Context, workflow *models.Workflow, trigger *models.TriggerEvent, reason string) error {
	e.metrics.RecordEnrollmentBlocked(ctx, workflow.ID, reason)

	blocked := events.EnrollmentBlocked{
		BaseEvent:   events.NewBaseEvent(events.EnrollmentBlockedEvent, workflow.ID),
		ContactID:   trigger.ContactID,
		TriggerType: trigger.Type,
		Reason:      reason,
	}
	blocked.WorkerID = e.workerID
	e.emit(ctx, blocked)

	return fmt.Errorf("workflow %s contact %s: %s: %w", workflow.ID, trigger.ContactID, reason, ErrEnrollmentBlocked)
}

// updateStats applies a read-modify-write on the workflow's aggregate
// counters. Counter races between workers are tolerated; the numbers
// are informational.
func (e *Engine) updateStats(ctx context.Context, workflowID string, apply func(*models.WorkflowStats)) {
	workflow, err := e.store.WorkflowByID(ctx, workflowID)
	if err != nil {
		e.logger.Warn("failed to load workflow for stats update", "workflow_id", workflowID, "error", err)

		return
	}

	apply(&workflow.Stats)

	if err := e.store.SaveWorkflow(ctx, workflow); err != nil {
		e.logger.Warn("failed to save workflow stats", "workflow_id", workflowID, "error", err)
	}
}
