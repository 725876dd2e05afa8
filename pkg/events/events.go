// Package events defines the typed lifecycle events the engine emits
// as executions move through their state machine.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/cascadehq/cascade/pkg/models"
)

type EventType string

const (
	EventMetadataKey     = "key"
	EventTypeMetadataKey = "event_type"
)

const (
	// Execution lifecycle events.
	ExecutionCreatedEvent   EventType = "execution.created"
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionWaitingEvent   EventType = "execution.waiting"
	ExecutionCancelledEvent EventType = "execution.cancelled"

	// Step-level events.
	StepStartedEvent   EventType = "step.started"
	StepCompletedEvent EventType = "step.completed"
	StepFailedEvent    EventType = "step.failed"

	// Goal and enrollment events.
	GoalAchievedEvent      EventType = "goal.achieved"
	EnrollmentBlockedEvent EventType = "enrollment.blocked"
)

// Event is anything publishable on the outbound event topics.
type Event interface {
	GetType() EventType
}

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

type ExecutionCreated struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	ContactID   string `json:"contact_id"`
	TriggerType string `json:"trigger_type"`
}

func (e ExecutionCreated) GetType() EventType {
	return ExecutionCreatedEvent
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	ContactID   string `json:"contact_id"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	ContactID   string        `json:"contact_id"`
	Reason      string        `json:"reason"`
	Duration    time.Duration `json:"duration"`
	StepsRun    int           `json:"steps_run"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	ContactID   string `json:"contact_id"`
	StepID      string `json:"step_id,omitempty"`
	Error       string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionWaiting struct {
	BaseEvent

	ExecutionID string     `json:"execution_id"`
	StepID      string     `json:"step_id"`
	WaitReason  string     `json:"wait_reason"`
	ResumeAt    *time.Time `json:"resume_at,omitempty"`
}

func (e ExecutionWaiting) GetType() EventType {
	return ExecutionWaitingEvent
}

type ExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	ContactID   string `json:"contact_id"`
	Reason      string `json:"reason,omitempty"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

type StepStarted struct {
	BaseEvent

	ExecutionID string            `json:"execution_id"`
	StepID      string            `json:"step_id"`
	StepType    models.ActionType `json:"step_type"`
}

func (e StepStarted) GetType() EventType {
	return StepStartedEvent
}

type StepCompleted struct {
	BaseEvent

	ExecutionID string            `json:"execution_id"`
	StepID      string            `json:"step_id"`
	StepType    models.ActionType `json:"step_type"`
	Status      models.StepStatus `json:"status"`
	DurationMs  int64             `json:"duration_ms"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type StepFailed struct {
	BaseEvent

	ExecutionID string            `json:"execution_id"`
	StepID      string            `json:"step_id"`
	StepType    models.ActionType `json:"step_type"`
	Error       string            `json:"error"`
	ErrorCode   string            `json:"error_code,omitempty"`
	Retryable   bool              `json:"retryable"`
	RetryCount  int               `json:"retry_count"`
}

func (e StepFailed) GetType() EventType {
	return StepFailedEvent
}

type GoalAchieved struct {
	BaseEvent

	ExecutionID string            `json:"execution_id"`
	ContactID   string            `json:"contact_id"`
	GoalID      string            `json:"goal_id"`
	GoalName    string            `json:"goal_name"`
	Action      models.GoalAction `json:"action"`
}

func (e GoalAchieved) GetType() EventType {
	return GoalAchievedEvent
}

type EnrollmentBlocked struct {
	BaseEvent

	ContactID   string `json:"contact_id"`
	TriggerType string `json:"trigger_type"`
	Reason      string `json:"reason"`
}

func (e EnrollmentBlocked) GetType() EventType {
	return EnrollmentBlockedEvent
}
