// Package waits schedules the resumption of executions suspended on
// wait actions.
package waits

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cascadehq/cascade/pkg/conditions"
	"github.com/cascadehq/cascade/pkg/models"
	"github.com/cascadehq/cascade/pkg/queue"
)

const defaultConditionPollInterval = time.Minute

// ResumeMessage rides the wait resume and timeout topics.
type ResumeMessage struct {
	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	Reason      string `json:"reason"`

	// ScheduleID is set for recurring condition polls so the consumer
	// can cancel the poll once the condition holds.
	ScheduleID string `json:"schedule_id,omitempty"`
}

// Result describes the scheduled wake-up. ResumeAt is nil for
// condition waits without a max wait, which only poll.
type Result struct {
	ResumeAt   *time.Time
	Reason     string
	ScheduleID string
}

// Scheduler turns wait actions into delayed or recurring resume
// messages on the transport.
type Scheduler struct {
	logger       *slog.Logger
	queue        queue.MessageQueue
	pollInterval time.Duration
}

func NewScheduler(logger *slog.Logger, q queue.MessageQueue) *Scheduler {
	return &Scheduler{
		logger:       logger.With("module", "waits"),
		queue:        q,
		pollInterval: defaultConditionPollInterval,
	}
}

// Schedule suspends the execution on the wait action: it records the
// wait on the execution state and enqueues the wake-up. The caller
// persists the execution afterwards.
func (s *Scheduler) Schedule(ctx context.Context, execution *models.WorkflowExecution, action *models.WorkflowAction) (*Result, error) {
	config, err := models.DecodeConfig[models.WaitConfig](action)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", action.ID, err)
	}

	switch config.WaitType {
	case models.WaitDuration:
		return s.scheduleDuration(ctx, execution, action, &config)
	case models.WaitUntilDate:
		return s.scheduleUntilDate(ctx, execution, action, &config)
	case models.WaitUntilCondition:
		return s.scheduleUntilCondition(ctx, execution, action, &config)
	default:
		return nil, fmt.Errorf("action %s: unknown wait type %q", action.ID, config.WaitType)
	}
}

func (s *Scheduler) scheduleDuration(ctx context.Context, execution *models.WorkflowExecution, action *models.WorkflowAction, config *models.WaitConfig) (*Result, error) {
	if config.Duration == nil {
		return nil, fmt.Errorf("action %s: duration wait without a duration", action.ID)
	}

	delay := config.Duration.ToDuration()
	if delay < 0 {
		delay = 0
	}

	resumeAt := time.Now().Add(delay)
	reason := fmt.Sprintf("wait %d %s", config.Duration.Amount, config.Duration.Unit)

	if err := s.enqueueResume(ctx, queue.TopicWaitResume, execution, action, reason, "", delay); err != nil {
		return nil, err
	}

	s.markWaiting(execution, action, reason, &resumeAt)

	return &Result{ResumeAt: &resumeAt, Reason: reason}, nil
}

func (s *Scheduler) scheduleUntilDate(ctx context.Context, execution *models.WorkflowExecution, action *models.WorkflowAction, config *models.WaitConfig) (*Result, error) {
	resumeAt, err := s.resolveWaitUntil(config.WaitUntil, &execution.Context)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", action.ID, err)
	}

	// Dates already in the past resume immediately instead of
	// stalling the execution.
	delay := time.Until(resumeAt)
	if delay < 0 {
		delay = 0
	}

	reason := "wait until " + resumeAt.Format(time.RFC3339)

	if err := s.enqueueResume(ctx, queue.TopicWaitResume, execution, action, reason, "", delay); err != nil {
		return nil, err
	}

	s.markWaiting(execution, action, reason, &resumeAt)

	return &Result{ResumeAt: &resumeAt, Reason: reason}, nil
}

func (s *Scheduler) scheduleUntilCondition(ctx context.Context, execution *models.WorkflowExecution, action *models.WorkflowAction, config *models.WaitConfig) (*Result, error) {
	if config.Condition == nil {
		return nil, fmt.Errorf("action %s: condition wait without a condition", action.ID)
	}

	reason := "wait for condition"

	payload, err := json.Marshal(ResumeMessage{
		ExecutionID: execution.ID,
		StepID:      action.ID,
		Reason:      reason,
	})
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", action.ID, err)
	}

	scheduleID, err := s.queue.ScheduleRecurring(ctx, queue.TopicWaitResume, payload, s.pollInterval, queue.RecurringOptions{})
	if err != nil {
		return nil, fmt.Errorf("action %s: scheduling condition poll: %w", action.ID, err)
	}

	result := &Result{Reason: reason, ScheduleID: scheduleID}

	if config.MaxWaitDuration != nil {
		maxWait := config.MaxWaitDuration.ToDuration()
		deadline := time.Now().Add(maxWait)

		if err := s.enqueueResume(ctx, queue.TopicWaitTimeout, execution, action, "wait timed out", scheduleID, maxWait); err != nil {
			return nil, err
		}

		result.ResumeAt = &deadline
	}

	s.markWaiting(execution, action, reason, result.ResumeAt)

	return result, nil
}

// CancelPoll stops the recurring condition poll once the wait ends.
func (s *Scheduler) CancelPoll(ctx context.Context, scheduleID string) error {
	if scheduleID == "" {
		return nil
	}

	return s.queue.CancelRecurring(ctx, scheduleID)
}

func (s *Scheduler) enqueueResume(ctx context.Context, topic string, execution *models.WorkflowExecution, action *models.WorkflowAction, reason, scheduleID string, delay time.Duration) error {
	payload, err := json.Marshal(ResumeMessage{
		ExecutionID: execution.ID,
		StepID:      action.ID,
		Reason:      reason,
		ScheduleID:  scheduleID,
	})
	if err != nil {
		return fmt.Errorf("action %s: %w", action.ID, err)
	}

	if err := s.queue.ScheduleDelayed(ctx, topic, payload, delay); err != nil {
		return fmt.Errorf("action %s: scheduling resume: %w", action.ID, err)
	}

	return nil
}

func (s *Scheduler) markWaiting(execution *models.WorkflowExecution, action *models.WorkflowAction, reason string, resumeAt *time.Time) {
	execution.Status = models.ExecutionWaiting
	execution.State.WaitingUntil = resumeAt
	execution.State.WaitReason = reason

	s.logger.Info("execution waiting",
		"execution_id", execution.ID,
		"step_id", action.ID,
		"reason", reason,
	)
}

// resolveWaitUntil parses a literal RFC3339 timestamp or resolves a
// "{{field}}" reference against the execution context.
func (s *Scheduler) resolveWaitUntil(value string, execCtx *models.ExecutionContext) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("until_date wait without a date")
	}

	if strings.HasPrefix(value, "{{") && strings.HasSuffix(value, "}}") {
		field := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(value, "{{"), "}}"))

		resolved, ok := conditions.Resolve(field, execCtx)
		if !ok {
			return time.Time{}, fmt.Errorf("field %q is not set", field)
		}

		str, ok := resolved.(string)
		if !ok {
			return time.Time{}, fmt.Errorf("field %q does not hold a date string", field)
		}

		value = str
	}

	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed, nil
	}

	if parsed, err := time.Parse("2006-01-02", value); err == nil {
		return parsed, nil
	}

	return time.Time{}, fmt.Errorf("cannot parse %q as a date", value)
}
