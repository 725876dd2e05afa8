package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cascadehq/cascade/pkg/conditions"
	"github.com/cascadehq/cascade/pkg/events"
	"github.com/cascadehq/cascade/pkg/models"
	"github.com/cascadehq/cascade/pkg/persistence"
	"github.com/cascadehq/cascade/pkg/otelhelper"
	"github.com/cascadehq/cascade/pkg/queue"
	"github.com/cascadehq/cascade/pkg/stepexec"
	"github.com/cascadehq/cascade/pkg/waits"
)

// maxStepsPerRun bounds a single execution loop. Goto cycles without an
// intervening wait would otherwise spin forever.
const maxStepsPerRun = 1000

// earlyWakeTolerance absorbs clock skew between the scheduler and the
// worker when a resume message arrives ahead of its waiting-until time.
const earlyWakeTolerance = time.Second

// waitScheduleKey is the execution metadata key holding the recurring
// poll schedule id of an active condition wait.
const waitScheduleKey = "wait_schedule_id"

// ExecuteWorkflow loads the execution and advances it until it
// completes, fails, or suspends on a wait or retry. It is safe to call
// with stale or duplicate messages: terminal executions and executions
// claimed by another worker are dropped without error.
func (e *Engine) ExecuteWorkflow(ctx context.Context, executionID string) error {
	// A busy claim means this worker is still looping the execution.
	// Returning an error nacks the message so it redelivers once the
	// loop suspends or finishes.
	if !e.claim(executionID) {
		return fmt.Errorf("execution %s is busy on this worker", executionID)
	}
	defer e.release(executionID)

	execution, err := e.store.ExecutionByID(ctx, executionID)
	if err != nil {
		if errors.Is(err, persistence.ErrExecutionNotFound) {
			e.logger.Error("dropping start message for unknown execution", "execution_id", executionID)

			return nil
		}

		return fmt.Errorf("loading execution %s: %w", executionID, err)
	}

	if execution.Status.IsTerminal() {
		e.logger.Debug("ignoring start message for terminal execution",
			"execution_id", executionID, "status", execution.Status)

		return nil
	}

	// A replayed message can arrive before the execution's scheduled
	// wake-up, e.g. after a consumer group rebalance. Push it back out
	// instead of running early.
	if execution.Status == models.ExecutionWaiting && execution.State.WaitingUntil != nil {
		if remaining := time.Until(*execution.State.WaitingUntil); remaining > earlyWakeTolerance {
			payload, err := json.Marshal(StartMessage{ExecutionID: execution.ID})
			if err != nil {
				return err
			}

			e.logger.Debug("rescheduling early resume", "execution_id", executionID, "remaining", remaining)

			return e.queue.ScheduleDelayed(ctx, queue.TopicExecutionResume, payload, remaining)
		}
	}

	return e.run(ctx, execution)
}

// resumeFromWait handles wait resume and timeout messages. Condition
// waits re-evaluate their condition here; an unmet condition simply
// lets the recurring poll fire again, unless the max wait timed out.
func (e *Engine) resumeFromWait(ctx context.Context, msg *waits.ResumeMessage, timedOut bool) error {
	if !e.claim(msg.ExecutionID) {
		return fmt.Errorf("execution %s is busy on this worker", msg.ExecutionID)
	}
	defer e.release(msg.ExecutionID)

	execution, err := e.store.ExecutionByID(ctx, msg.ExecutionID)
	if err != nil {
		if errors.Is(err, persistence.ErrExecutionNotFound) {
			e.logger.Error("dropping resume message for unknown execution", "execution_id", msg.ExecutionID)

			return nil
		}

		return fmt.Errorf("loading execution %s: %w", msg.ExecutionID, err)
	}

	if execution.Status.IsTerminal() {
		// A poll can still fire against an execution that finished
		// through a goal or cancellation.
		e.cancelStoredPoll(ctx, execution)

		if msg.ScheduleID != "" {
			if err := e.waits.CancelPoll(ctx, msg.ScheduleID); err != nil {
				e.logger.Warn("failed to cancel stale poll", "schedule_id", msg.ScheduleID, "error", err)
			}
		}

		return nil
	}

	if execution.Status != models.ExecutionWaiting {
		e.logger.Debug("ignoring resume for execution that is not waiting",
			"execution_id", execution.ID, "status", execution.Status)

		return nil
	}

	if msg.StepID != "" {
		workflow, err := e.store.WorkflowByID(ctx, execution.WorkflowID)
		if err != nil {
			return fmt.Errorf("loading workflow %s: %w", execution.WorkflowID, err)
		}

		action, ok := workflow.ActionByID(msg.StepID)
		if ok && action.Type.IsWait() {
			config, err := models.DecodeConfig[models.WaitConfig](action)
			if err != nil {
				e.cancelStoredPoll(ctx, execution)
				e.failExecution(ctx, execution, err)

				return nil
			}

			if config.WaitType == models.WaitUntilCondition && config.Condition != nil {
				if !timedOut {
					matched, err := conditions.Evaluate(config.Condition, &execution.Context)
					if err != nil {
						e.cancelStoredPoll(ctx, execution)
						e.failExecution(ctx, execution, fmt.Errorf("wait condition on action %s: %w", action.ID, err))

						return nil
					}

					if !matched {
						return nil
					}
				}

				e.cancelStoredPoll(ctx, execution)
			}
		}
	}

	return e.run(ctx, execution)
}

// run transitions the execution to running and drives the step loop.
// Version conflicts on the claiming update mean another worker holds
// the execution; the message is dropped silently.
func (e *Engine) run(ctx context.Context, execution *models.WorkflowExecution) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.run",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.WorkflowIDKey, execution.WorkflowID),
		attribute.String(otelhelper.ContactIDKey, execution.ContactID),
		attribute.String(otelhelper.WorkerIDKey, e.workerID),
	)
	defer span.End()

	workflow, err := e.store.WorkflowByID(ctx, execution.WorkflowID)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			cause := fmt.Errorf("workflow %s no longer exists", execution.WorkflowID)
			otelhelper.SetError(span, cause)
			e.failExecution(ctx, execution, cause)

			return nil
		}

		return fmt.Errorf("loading workflow %s: %w", execution.WorkflowID, err)
	}

	firstRun := execution.StartedAt == nil
	if firstRun {
		now := time.Now().UTC()
		execution.StartedAt = &now
	}

	execution.Status = models.ExecutionRunning
	execution.State.WaitingUntil = nil
	execution.State.WaitReason = ""
	delete(execution.Metadata, waitScheduleKey)

	if err := e.store.UpdateExecution(ctx, execution); err != nil {
		if errors.Is(err, persistence.ErrVersionConflict) {
			e.logger.Debug("execution claimed by another worker", "execution_id", execution.ID)

			return nil
		}

		return fmt.Errorf("claiming execution %s: %w", execution.ID, err)
	}

	if firstRun {
		started := events.ExecutionStarted{
			BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent, workflow.ID),
			ExecutionID: execution.ID,
			ContactID:   execution.ContactID,
		}
		started.WorkerID = e.workerID
		e.emit(ctx, started)
	}

	if err := e.runLoop(ctx, workflow, execution); err != nil {
		if errors.Is(err, persistence.ErrVersionConflict) {
			e.logger.Debug("lost execution to another worker mid-run", "execution_id", execution.ID)

			return nil
		}

		otelhelper.SetError(span, err)
		e.failExecution(ctx, execution, err)
	}

	return nil
}

// runLoop advances the execution one action at a time until it reaches
// the end of the graph, suspends, or fails. State is persisted after
// every step so a crashed worker resumes exactly where it stopped.
func (e *Engine) runLoop(ctx context.Context, workflow *models.Workflow, execution *models.WorkflowExecution) error {
	// Steps already completed before this run are skipped until the
	// first fresh execution; afterwards goto loops revisit them fully.
	replaying := true

	for range maxStepsPerRun {
		currentID := execution.State.CurrentNodeID
		if currentID == "" {
			return e.completeExecution(ctx, workflow, execution, "completed")
		}

		action, ok := workflow.ActionByID(currentID)
		if !ok {
			return fmt.Errorf("workflow %s references unknown action %s", workflow.ID, currentID)
		}

		if replaying {
			if prior, ok := execution.State.StepResults.Get(action.ID); ok && prior.Status == models.StepCompleted {
				execution.State.CurrentNodeID = firstOf(action.OnSuccess)

				continue
			}
		}

		replaying = false

		switch {
		case action.Type.IsBranching():
			if err := e.runBranch(execution, action); err != nil {
				return err
			}

		case action.Type.IsWait():
			return e.suspendOnWait(ctx, workflow, execution, action)

		case action.Type == models.ActionGoto:
			if err := e.runGoto(workflow, execution, action); err != nil {
				return err
			}

		case action.Type == models.ActionEndWorkflow:
			e.recordStep(execution, action, completedResult(time.Now().UTC(), nil))

			return e.completeExecution(ctx, workflow, execution, "end_workflow")

		default:
			suspended, err := e.runStep(ctx, workflow, execution, action)
			if err != nil {
				return err
			}

			if suspended {
				return nil
			}
		}

		done, err := e.afterStep(ctx, workflow, execution)
		if err != nil {
			return err
		}

		if done {
			return nil
		}
	}

	return fmt.Errorf("execution %s exceeded %d steps without completing", execution.ID, maxStepsPerRun)
}

func (e *Engine) runBranch(execution *models.WorkflowExecution, action *models.WorkflowAction) error {
	startedAt := time.Now().UTC()

	branch, err := e.branching.Execute(action, execution)
	if err != nil {
		return err
	}

	e.recordStep(execution, action, completedResult(startedAt, map[string]any{
		"branch_id":     branch.BranchID,
		"branch_name":   branch.BranchName,
		"reason":        branch.Reason,
		"selected_path": branch.SelectedPath,
	}))

	if len(branch.SelectedPath) > 0 {
		execution.State.ActiveBranches = []string{branch.BranchID}
		execution.State.CurrentNodeID = branch.SelectedPath[0]
	} else {
		execution.State.CurrentNodeID = firstOf(action.OnSuccess)
	}

	return nil
}

func (e *Engine) runGoto(workflow *models.Workflow, execution *models.WorkflowExecution, action *models.WorkflowAction) error {
	config, err := models.DecodeConfig[models.GotoConfig](action)
	if err != nil {
		return err
	}

	if config.TargetStepID == "" {
		return fmt.Errorf("goto action %s has no target step", action.ID)
	}

	if _, ok := workflow.ActionByID(config.TargetStepID); !ok {
		return fmt.Errorf("goto action %s targets unknown action %s", action.ID, config.TargetStepID)
	}

	e.recordStep(execution, action, completedResult(time.Now().UTC(), map[string]any{
		"target_step_id": config.TargetStepID,
	}))

	execution.State.CurrentNodeID = config.TargetStepID

	return nil
}

// suspendOnWait schedules the wake-up, records the wait step and
// persists the suspended execution. The resume picks up at the step
// after the wait.
func (e *Engine) suspendOnWait(ctx context.Context, workflow *models.Workflow, execution *models.WorkflowExecution, action *models.WorkflowAction) error {
	startedAt := time.Now().UTC()

	result, err := e.waits.Schedule(ctx, execution, action)
	if err != nil {
		return err
	}

	output := map[string]any{"wait_reason": result.Reason}
	if result.ResumeAt != nil {
		output["resume_at"] = result.ResumeAt
	}

	e.recordStep(execution, action, completedResult(startedAt, output))
	execution.State.CurrentNodeID = firstOf(action.OnSuccess)

	if result.ScheduleID != "" {
		if execution.Metadata == nil {
			execution.Metadata = make(map[string]any)
		}

		execution.Metadata[waitScheduleKey] = result.ScheduleID
	}

	if err := e.store.UpdateExecution(ctx, execution); err != nil {
		return err
	}

	waiting := events.ExecutionWaiting{
		BaseEvent:   events.NewBaseEvent(events.ExecutionWaitingEvent, workflow.ID),
		ExecutionID: execution.ID,
		StepID:      action.ID,
		WaitReason:  result.Reason,
		ResumeAt:    result.ResumeAt,
	}
	waiting.WorkerID = e.workerID
	e.emit(ctx, waiting)

	e.logger.Info("execution waiting",
		"execution_id", execution.ID, "step_id", action.ID, "reason", result.Reason)

	return nil
}

// runStep executes one ordinary action. It returns suspended=true when
// the step failed and a retry was scheduled.
func (e *Engine) runStep(ctx context.Context, workflow *models.Workflow, execution *models.WorkflowExecution, action *models.WorkflowAction) (bool, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.step",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.StepIDKey, action.ID),
		attribute.String(otelhelper.StepTypeKey, string(action.Type)),
	)
	defer span.End()

	started := events.StepStarted{
		BaseEvent:   events.NewBaseEvent(events.StepStartedEvent, workflow.ID),
		ExecutionID: execution.ID,
		StepID:      action.ID,
		StepType:    action.Type,
	}
	started.WorkerID = e.workerID
	e.emit(ctx, started)

	result, err := e.steps.ExecuteStep(ctx, execution, action)
	if err != nil {
		otelhelper.SetError(span, err)

		return false, err
	}

	e.recordStep(execution, action, result)
	e.metrics.RecordStep(ctx, workflow.ID, action.Type, result.Status, time.Duration(result.DurationMs)*time.Millisecond)

	if result.Status != models.StepFailed {
		completed := events.StepCompleted{
			BaseEvent:   events.NewBaseEvent(events.StepCompletedEvent, workflow.ID),
			ExecutionID: execution.ID,
			StepID:      action.ID,
			StepType:    action.Type,
			Status:      result.Status,
			DurationMs:  result.DurationMs,
		}
		completed.WorkerID = e.workerID
		e.emit(ctx, completed)

		execution.RetryCount = 0
		execution.State.CurrentNodeID = firstOf(action.OnSuccess)

		return false, nil
	}

	if result.Error != nil {
		execution.Errors = append(execution.Errors, *result.Error)
		otelhelper.SetError(span, errors.New(result.Error.Message),
			attribute.String(otelhelper.StepIDKey, action.ID),
		)
	}

	failed := events.StepFailed{
		BaseEvent:   events.NewBaseEvent(events.StepFailedEvent, workflow.ID),
		ExecutionID: execution.ID,
		StepID:      action.ID,
		StepType:    action.Type,
		RetryCount:  execution.RetryCount,
	}
	if result.Error != nil {
		failed.Error = result.Error.Message
		failed.ErrorCode = result.Error.ErrorCode
		failed.Retryable = result.Error.Retryable
	}

	failed.WorkerID = e.workerID
	e.emit(ctx, failed)

	if stepexec.ShouldRetry(action, result, execution.RetryCount) {
		return true, e.suspendForRetry(ctx, workflow, execution, action)
	}

	if len(action.OnFailure) > 0 {
		e.logger.Warn("step failed, taking failure path",
			"execution_id", execution.ID, "step_id", action.ID, "next", action.OnFailure[0])

		execution.RetryCount = 0
		execution.State.CurrentNodeID = action.OnFailure[0]

		return false, nil
	}

	message := "step failed"
	if result.Error != nil {
		message = result.Error.Message
	}

	return false, fmt.Errorf("step %s: %s", action.ID, message)
}

// suspendForRetry parks the execution and schedules a delayed resume
// per the action's backoff policy. The failed step result stays
// recorded so the resume re-executes the same step.
func (e *Engine) suspendForRetry(ctx context.Context, workflow *models.Workflow, execution *models.WorkflowExecution, action *models.WorkflowAction) error {
	delay := action.RetryConfig.Backoff(execution.RetryCount)
	execution.RetryCount++

	resumeAt := time.Now().UTC().Add(delay)
	execution.Status = models.ExecutionWaiting
	execution.State.WaitingUntil = &resumeAt
	execution.State.WaitReason = "retry"

	if err := e.store.UpdateExecution(ctx, execution); err != nil {
		return err
	}

	payload, err := json.Marshal(StartMessage{ExecutionID: execution.ID})
	if err != nil {
		return err
	}

	if err := e.queue.ScheduleDelayed(ctx, queue.TopicExecutionResume, payload, delay); err != nil {
		return fmt.Errorf("scheduling retry for execution %s: %w", execution.ID, err)
	}

	e.metrics.RecordRetry(ctx, workflow.ID, action.Type)

	waiting := events.ExecutionWaiting{
		BaseEvent:   events.NewBaseEvent(events.ExecutionWaitingEvent, workflow.ID),
		ExecutionID: execution.ID,
		StepID:      action.ID,
		WaitReason:  "retry",
		ResumeAt:    &resumeAt,
	}
	waiting.WorkerID = e.workerID
	e.emit(ctx, waiting)

	e.logger.Info("step retry scheduled",
		"execution_id", execution.ID, "step_id", action.ID,
		"attempt", execution.RetryCount, "delay", delay)

	return nil
}

// afterStep persists the advanced state, then applies goal routing and
// workflow exit conditions. It returns done=true when the execution
// reached a terminal state.
func (e *Engine) afterStep(ctx context.Context, workflow *models.Workflow, execution *models.WorkflowExecution) (bool, error) {
	if err := e.store.UpdateExecution(ctx, execution); err != nil {
		return false, err
	}

	routing, err := e.goals.Evaluate(workflow, execution)
	if err != nil {
		return false, err
	}

	for _, achievement := range routing.Achieved {
		goalAction := models.GoalContinue
		if goal, ok := workflow.GoalByID(achievement.GoalID); ok {
			goalAction = goal.OnAchievement
		}

		achieved := events.GoalAchieved{
			BaseEvent:   events.NewBaseEvent(events.GoalAchievedEvent, workflow.ID),
			ExecutionID: execution.ID,
			ContactID:   execution.ContactID,
			GoalID:      achievement.GoalID,
			GoalName:    achievement.GoalName,
			Action:      goalAction,
		}
		achieved.WorkerID = e.workerID
		e.emit(ctx, achieved)

		e.metrics.RecordGoal(ctx, workflow.ID, achievement.GoalID)
	}

	if count := len(routing.Achieved); count > 0 {
		e.updateStats(ctx, workflow.ID, func(stats *models.WorkflowStats) {
			stats.GoalAchievements += int64(count)
		})
	}

	removeOnGoal := len(routing.Achieved) > 0 && workflow.Enrollment.RemoveOnGoalAchievement

	switch {
	case routing.Action == models.GoalExit || removeOnGoal:
		return true, e.completeExecution(ctx, workflow, execution, "goal_achieved")
	case routing.Action == models.GoalGoto:
		execution.State.CurrentNodeID = routing.TargetStepID
	}

	if workflow.Enrollment.ExitConditions != nil {
		matched, err := conditions.Evaluate(workflow.Enrollment.ExitConditions, &execution.Context)
		if err != nil {
			return false, fmt.Errorf("exit conditions: %w", err)
		}

		if matched {
			return true, e.completeExecution(ctx, workflow, execution, "exit_condition")
		}
	}

	return false, nil
}

// Cancel terminates a non-terminal execution, stopping any pending
// condition poll. Scheduled duration resumes are left to expire; the
// resume handler drops them against the terminal execution.
func (e *Engine) Cancel(ctx context.Context, executionID, reason string) error {
	execution, err := e.store.ExecutionByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.Status.IsTerminal() {
		return fmt.Errorf("execution %s is already %s", executionID, execution.Status)
	}

	e.cancelStoredPoll(ctx, execution)

	now := time.Now().UTC()
	execution.Status = models.ExecutionCancelled
	execution.CompletedAt = &now
	execution.State.WaitingUntil = nil
	execution.State.WaitReason = ""

	if err := e.store.UpdateExecution(ctx, execution); err != nil {
		return err
	}

	e.updateStats(ctx, execution.WorkflowID, func(stats *models.WorkflowStats) {
		stats.ActiveEnrollments--
	})

	e.metrics.RecordExecution(ctx, execution.WorkflowID, models.ExecutionCancelled, now.Sub(execution.EnrolledAt))

	cancelled := events.ExecutionCancelled{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCancelledEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		ContactID:   execution.ContactID,
		Reason:      reason,
	}
	cancelled.WorkerID = e.workerID
	e.emit(ctx, cancelled)

	e.logger.Info("execution cancelled", "execution_id", executionID, "reason", reason)

	return nil
}

func (e *Engine) completeExecution(ctx context.Context, workflow *models.Workflow, execution *models.WorkflowExecution, reason string) error {
	now := time.Now().UTC()
	execution.Status = models.ExecutionCompleted
	execution.CompletedAt = &now
	execution.State.WaitingUntil = nil
	execution.State.WaitReason = ""

	if err := e.store.UpdateExecution(ctx, execution); err != nil {
		return err
	}

	e.updateStats(ctx, workflow.ID, func(stats *models.WorkflowStats) {
		stats.ActiveEnrollments--
		stats.CompletedEnrollments++
	})

	duration := now.Sub(execution.EnrolledAt)
	e.metrics.RecordExecution(ctx, workflow.ID, models.ExecutionCompleted, duration)

	completed := events.ExecutionCompleted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCompletedEvent, workflow.ID),
		ExecutionID: execution.ID,
		ContactID:   execution.ContactID,
		Reason:      reason,
		Duration:    duration,
		StepsRun:    len(execution.State.VisitedNodes),
	}
	completed.WorkerID = e.workerID
	e.emit(ctx, completed)

	e.logger.Info("execution completed",
		"execution_id", execution.ID, "workflow_id", workflow.ID,
		"reason", reason, "steps", len(execution.State.VisitedNodes))

	return nil
}

// failExecution marks the execution failed. It never returns an error:
// by the time it runs the execution is already lost, so persistence
// problems are only logged.
func (e *Engine) failExecution(ctx context.Context, execution *models.WorkflowExecution, cause error) {
	now := time.Now().UTC()
	execution.Status = models.ExecutionFailed
	execution.CompletedAt = &now
	execution.State.WaitingUntil = nil
	execution.State.WaitReason = ""

	if err := e.store.UpdateExecution(ctx, execution); err != nil {
		e.logger.Error("failed to persist failed execution",
			"execution_id", execution.ID, "error", err, "cause", cause)

		return
	}

	e.updateStats(ctx, execution.WorkflowID, func(stats *models.WorkflowStats) {
		stats.ActiveEnrollments--
		stats.FailedEnrollments++
	})

	e.metrics.RecordExecution(ctx, execution.WorkflowID, models.ExecutionFailed, now.Sub(execution.EnrolledAt))

	failed := events.ExecutionFailed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		ContactID:   execution.ContactID,
		StepID:      execution.State.CurrentNodeID,
		Error:       cause.Error(),
	}
	failed.WorkerID = e.workerID
	e.emit(ctx, failed)

	e.logger.Error("execution failed",
		"execution_id", execution.ID, "workflow_id", execution.WorkflowID, "error", cause)
}

// cancelStoredPoll stops the recurring condition poll referenced by the
// execution's metadata, if any. The metadata key itself is cleared on
// the next running transition.
func (e *Engine) cancelStoredPoll(ctx context.Context, execution *models.WorkflowExecution) {
	scheduleID, _ := execution.Metadata[waitScheduleKey].(string)
	if scheduleID == "" {
		return
	}

	if err := e.waits.CancelPoll(ctx, scheduleID); err != nil {
		e.logger.Warn("failed to cancel condition poll",
			"execution_id", execution.ID, "schedule_id", scheduleID, "error", err)
	}
}

// recordStep stores the step result and appends the path bookkeeping.
// Completed outputs become visible to later conditions and templates
// through the action results of the execution context.
func (e *Engine) recordStep(execution *models.WorkflowExecution, action *models.WorkflowAction, result models.StepResult) {
	execution.State.StepResults.Set(action.ID, result)
	execution.State.VisitedNodes = append(execution.State.VisitedNodes, action.ID)
	execution.State.ExecutionPath = append(execution.State.ExecutionPath, models.ExecutionPathNode{
		StepID:    action.ID,
		StepType:  action.Type,
		Timestamp: time.Now().UTC(),
		Result:    result,
	})

	if result.Status == models.StepCompleted && result.Output != nil {
		execution.Context.SetActionResult(action.ID, result.Output)
	}
}

func completedResult(startedAt time.Time, output any) models.StepResult {
	completedAt := time.Now().UTC()

	return models.StepResult{
		Status:      models.StepCompleted,
		Output:      output,
		StartedAt:   startedAt,
		CompletedAt: &completedAt,
		DurationMs:  completedAt.Sub(startedAt).Milliseconds(),
	}
}

func firstOf(ids []string) string {
	if len(ids) == 0 {
		return ""
	}

	return ids[0]
}
