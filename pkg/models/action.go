package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionType identifies a workflow step implementation. Types are
// namespaced by category, e.g. "communication.email.send".
type ActionType string

const (
	// Communication actions.
	ActionSendEmail     ActionType = "communication.email.send"
	ActionSendSMS       ActionType = "communication.sms.send"
	ActionSendWhatsApp  ActionType = "communication.whatsapp.send"
	ActionMakeCall      ActionType = "communication.call.make"
	ActionDropVoicemail ActionType = "communication.voicemail.drop"
	ActionSendRCS       ActionType = "communication.rcs.send"

	// CRM actions.
	ActionAddTag               ActionType = "crm.tag.add"
	ActionRemoveTag            ActionType = "crm.tag.remove"
	ActionUpdateContact        ActionType = "crm.contact.update"
	ActionCreateOpportunity    ActionType = "crm.opportunity.create"
	ActionUpdateOpportunity    ActionType = "crm.opportunity.update"
	ActionMoveOpportunityStage ActionType = "crm.opportunity.move_stage"
	ActionAssignToUser         ActionType = "crm.assign.user"
	ActionAddNote              ActionType = "crm.note.add"
	ActionCreateTask           ActionType = "crm.task.create"

	// Internal control-flow actions.
	ActionWait        ActionType = "internal.wait"
	ActionDelay       ActionType = "internal.delay"
	ActionIfElse      ActionType = "internal.if_else"
	ActionSplit       ActionType = "internal.split"
	ActionGoto        ActionType = "internal.goto"
	ActionEndWorkflow ActionType = "internal.end"
	ActionRandomPath  ActionType = "internal.random"

	// Data manipulation actions.
	ActionSetVariable     ActionType = "data.variable.set"
	ActionMathOperation   ActionType = "data.math.operation"
	ActionStringOperation ActionType = "data.string.operation"
	ActionArrayOperation  ActionType = "data.array.operation"
	ActionDateOperation   ActionType = "data.date.operation"

	// External integration actions.
	ActionWebhook     ActionType = "external.webhook"
	ActionHTTPRequest ActionType = "external.http.request"
	ActionZapier      ActionType = "external.zapier"
	ActionCustomCode  ActionType = "external.custom_code"

	// AI actions.
	ActionAIResponse           ActionType = "ai.response"
	ActionAISentimentAnalysis  ActionType = "ai.sentiment"
	ActionAIClassification     ActionType = "ai.classification"
	ActionAIAppointmentBooking ActionType = "ai.appointment.book"

	// Appointment actions.
	ActionCreateAppointment       ActionType = "appointment.create"
	ActionCancelAppointment       ActionType = "appointment.cancel"
	ActionRescheduleAppointment   ActionType = "appointment.reschedule"
	ActionSendAppointmentReminder ActionType = "appointment.reminder.send"

	// Payment actions.
	ActionCreateInvoice      ActionType = "payment.invoice.create"
	ActionSendPaymentLink    ActionType = "payment.link.send"
	ActionProcessPayment     ActionType = "payment.process"
	ActionRefundPayment      ActionType = "payment.refund"
	ActionSubscribeToPlan    ActionType = "payment.subscription.create"
	ActionCancelSubscription ActionType = "payment.subscription.cancel"

	// Marketing actions.
	ActionAddToCampaign      ActionType = "marketing.campaign.add"
	ActionRemoveFromCampaign ActionType = "marketing.campaign.remove"
	ActionTrackEvent         ActionType = "marketing.event.track"

	// Notification actions.
	ActionSendInternalNotification ActionType = "notification.internal.send"
	ActionSendSlackMessage         ActionType = "notification.slack.send"
	ActionSendTeamsMessage         ActionType = "notification.teams.send"
)

// IsBranching reports whether the action hands control to a selected
// sub-path (if/else, split, random path).
func (t ActionType) IsBranching() bool {
	switch t {
	case ActionIfElse, ActionSplit, ActionRandomPath:
		return true
	default:
		return false
	}
}

// IsWait reports whether the action suspends the execution until a
// scheduled resume.
func (t ActionType) IsWait() bool {
	return t == ActionWait || t == ActionDelay
}

// WorkflowAction is a single typed step in a workflow graph.
type WorkflowAction struct {
	ID          string         `json:"id"   validate:"required"`
	Type        ActionType     `json:"type" validate:"required"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Config      map[string]any `json:"config,omitempty"`

	RetryConfig *RetryConfig `json:"retry_config,omitempty"`
	TimeoutMs   int64        `json:"timeout_ms,omitempty" validate:"min=0"`

	ExecuteIf *ConditionGroup `json:"execute_if,omitempty"`

	// First entry is taken; there is no fan-out by default.
	OnSuccess []string `json:"on_success,omitempty"`
	OnFailure []string `json:"on_failure,omitempty"`
}

// Timeout returns the configured per-step timeout, or zero when unset.
func (a *WorkflowAction) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

// DecodeConfig unmarshals the raw config payload of an action into the
// typed variant for its action type.
func DecodeConfig[T any](action *WorkflowAction) (T, error) {
	var cfg T

	raw, err := json.Marshal(action.Config)
	if err != nil {
		return cfg, fmt.Errorf("failed to encode config for action %s: %w", action.ID, err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode %T config for action %s: %w", cfg, action.ID, err)
	}

	return cfg, nil
}

// WaitType selects the wait semantics of a wait action.
type WaitType string

const (
	WaitDuration       WaitType = "duration"
	WaitUntilDate      WaitType = "until_date"
	WaitUntilCondition WaitType = "until_condition"
)

// WaitConfig configures internal.wait and internal.delay actions.
type WaitConfig struct {
	WaitType WaitType    `json:"wait_type"`
	Duration *TimeAmount `json:"duration,omitempty"`

	// WaitUntil is a literal RFC3339 timestamp or a field reference
	// like "{{contact.custom_fields.renewal_date}}".
	WaitUntil string `json:"wait_until,omitempty"`

	Condition       *ConditionGroup `json:"condition,omitempty"`
	MaxWaitDuration *TimeAmount     `json:"max_wait_duration,omitempty"`
}

// IfElseConfig configures internal.if_else actions.
type IfElseConfig struct {
	Condition   ConditionGroup `json:"condition"`
	TrueBranch  []string       `json:"true_branch"`
	FalseBranch []string       `json:"false_branch"`
}

// SplitType selects percentage or conditional split semantics.
type SplitType string

const (
	SplitPercentage  SplitType = "percentage"
	SplitConditional SplitType = "conditional"
)

// SplitBranch is one arm of a percentage split.
type SplitBranch struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Percentage float64  `json:"percentage"`
	Actions    []string `json:"actions"`
}

// ConditionalBranch is one arm of a conditional split.
type ConditionalBranch struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Condition ConditionGroup `json:"condition"`
	Actions   []string       `json:"actions"`
}

// SplitConfig configures internal.split actions.
type SplitConfig struct {
	SplitType           SplitType           `json:"split_type"`
	Branches            []SplitBranch       `json:"branches,omitempty"`
	ConditionalBranches []ConditionalBranch `json:"conditional_branches,omitempty"`
	DefaultBranch       []string            `json:"default_branch,omitempty"`
}

// RandomPath is one weighted arm of a random-path action.
type RandomPath struct {
	ID      string   `json:"id"`
	Weight  float64  `json:"weight"`
	Actions []string `json:"actions"`
}

// RandomPathConfig configures internal.random actions.
type RandomPathConfig struct {
	Paths []RandomPath `json:"paths"`
}

// GotoConfig configures internal.goto actions.
type GotoConfig struct {
	TargetStepID string `json:"target_step_id"`
}

// SetVariableConfig configures data.variable.set actions. When
// Expression is set it is evaluated against the execution context and
// its result stored; otherwise Value is stored verbatim.
type SetVariableConfig struct {
	Name       string `json:"name"`
	Value      any    `json:"value,omitempty"`
	Expression string `json:"expression,omitempty"`
}

// MathOperationConfig configures data.math.operation actions.
type MathOperationConfig struct {
	Operation string  `json:"operation"` // add, subtract, multiply, divide
	Left      string  `json:"left"`      // field path or literal number
	Right     string  `json:"right"`
	Result    string  `json:"result"` // variable name to store into
	Round     *int    `json:"round,omitempty"`
	Fallback  float64 `json:"fallback,omitempty"`
}

// StringOperationConfig configures data.string.operation actions.
type StringOperationConfig struct {
	Operation string `json:"operation"` // concat, upper, lower, trim, replace
	Input     string `json:"input"`
	Argument  string `json:"argument,omitempty"`
	With      string `json:"with,omitempty"`
	Result    string `json:"result"`
}

// TagConfig configures crm.tag.add and crm.tag.remove actions.
type TagConfig struct {
	Tag string `json:"tag"`
}

// HTTPRequestConfig configures external.http.request actions.
type HTTPRequestConfig struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
}

// WebhookConfig configures external.webhook actions. The execution
// context is posted to the URL alongside any static payload fields.
type WebhookConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Payload map[string]any    `json:"payload,omitempty"`
}

// SendEmailConfig configures communication.email.send actions.
type SendEmailConfig struct {
	From     string   `json:"from,omitempty"`
	To       []string `json:"to"`
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
	BodyType string   `json:"body_type,omitempty"` // html or text
}

// SendSMSConfig configures communication.sms.send actions.
type SendSMSConfig struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Message string `json:"message"`
}
