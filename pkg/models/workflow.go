// Package models defines the core domain models for workflow automation.
package models

import (
	"fmt"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, not executable
	WorkflowStatusActive   WorkflowStatus = "active"   // Enrollable and executable
	WorkflowStatusPaused   WorkflowStatus = "paused"   // No new enrollments
	WorkflowStatusArchived WorkflowStatus = "archived" // Historical, not executable
)

// Workflow is a graph of typed actions executed per enrolled contact.
// The engine only reads workflows; mutation happens through explicit
// update calls by the workflow owner.
type Workflow struct {
	ID             string             `json:"id"                        validate:"required"`
	OrganizationID string             `json:"organization_id"`
	Name           string             `json:"name"                      validate:"required,min=3"`
	Description    string             `json:"description,omitempty"`
	Status         WorkflowStatus     `json:"status"                    validate:"required,oneof=draft active paused archived"`
	Trigger        TriggerDefinition  `json:"trigger"`
	Actions        []*WorkflowAction  `json:"actions"                   validate:"dive"`
	Goals          []*WorkflowGoal    `json:"goals,omitempty"`
	Enrollment     EnrollmentSettings `json:"enrollment_settings"`
	Stats          WorkflowStats      `json:"stats"`
	Version        int                `json:"version"`
	CreatedBy      string             `json:"created_by"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// ActionByID returns the action with the given stable id.
func (w *Workflow) ActionByID(id string) (*WorkflowAction, bool) {
	for _, action := range w.Actions {
		if action.ID == id {
			return action, true
		}
	}

	return nil, false
}

// FirstActionID returns the entry point of the workflow graph.
func (w *Workflow) FirstActionID() (string, error) {
	if len(w.Actions) == 0 {
		return "", fmt.Errorf("workflow %s has no actions", w.ID)
	}

	return w.Actions[0].ID, nil
}

// GoalByID returns the goal with the given id.
func (w *Workflow) GoalByID(id string) (*WorkflowGoal, bool) {
	for _, goal := range w.Goals {
		if goal.ID == id {
			return goal, true
		}
	}

	return nil, false
}

// TriggerDefinition describes the event that enrolls contacts into a
// workflow. Trigger delivery itself is an external concern; the engine
// only consumes the resulting TriggerEvent.
type TriggerDefinition struct {
	Type   string         `json:"type" validate:"required"`
	Config map[string]any `json:"config,omitempty"`
}

// EnrollmentSettings control who may enter a workflow and when.
type EnrollmentSettings struct {
	AllowMultipleEnrollments bool            `json:"allow_multiple_enrollments"`
	EnrollmentLimit          int             `json:"enrollment_limit,omitempty"`
	ReEnrollmentDelay        *TimeAmount     `json:"re_enrollment_delay,omitempty"`
	EntryConditions          *ConditionGroup `json:"entry_conditions,omitempty"`
	ExitConditions           *ConditionGroup `json:"exit_conditions,omitempty"`
	RemoveOnGoalAchievement  bool            `json:"remove_on_goal_achievement,omitempty"`
}

// WorkflowStats holds aggregate enrollment counters maintained by the
// engine as executions complete.
type WorkflowStats struct {
	TotalEnrollments     int64 `json:"total_enrollments"`
	ActiveEnrollments    int64 `json:"active_enrollments"`
	CompletedEnrollments int64 `json:"completed_enrollments"`
	FailedEnrollments    int64 `json:"failed_enrollments"`
	GoalAchievements     int64 `json:"goal_achievements"`
}

// TimeUnit is the unit of a TimeAmount.
type TimeUnit string

const (
	UnitMinutes TimeUnit = "minutes"
	UnitHours   TimeUnit = "hours"
	UnitDays    TimeUnit = "days"
	UnitWeeks   TimeUnit = "weeks"
	UnitMonths  TimeUnit = "months"
)

// TimeAmount is a duration expressed in workflow-author units.
type TimeAmount struct {
	Amount int64    `json:"amount" validate:"min=0"`
	Unit   TimeUnit `json:"unit"   validate:"required,oneof=minutes hours days weeks months"`
}

// ToDuration converts the amount to a time.Duration. Months are
// approximated as 30 days.
func (t TimeAmount) ToDuration() time.Duration {
	switch t.Unit {
	case UnitMinutes:
		return time.Duration(t.Amount) * time.Minute
	case UnitHours:
		return time.Duration(t.Amount) * time.Hour
	case UnitDays:
		return time.Duration(t.Amount) * 24 * time.Hour
	case UnitWeeks:
		return time.Duration(t.Amount) * 7 * 24 * time.Hour
	case UnitMonths:
		return time.Duration(t.Amount) * 30 * 24 * time.Hour
	default:
		return time.Duration(t.Amount) * time.Second
	}
}
