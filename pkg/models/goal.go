package models

import "time"

// GoalAction is what happens to a running execution when its goal is
// achieved.
type GoalAction string

const (
	GoalContinue GoalAction = "continue" // No routing effect
	GoalExit     GoalAction = "exit"     // Terminate the execution
	GoalGoto     GoalAction = "goto"     // Jump to TargetStepID
)

// WorkflowGoal is a named success condition that can short-circuit or
// redirect a running execution.
type WorkflowGoal struct {
	ID            string         `json:"id"             validate:"required"`
	Name          string         `json:"name"           validate:"required"`
	Description   string         `json:"description,omitempty"`
	Conditions    ConditionGroup `json:"conditions"`
	OnAchievement GoalAction     `json:"on_achievement" validate:"required,oneof=continue exit goto"`
	TargetStepID  string         `json:"target_step_id,omitempty"`
}

// GoalAchievement records one achieved goal for one execution.
type GoalAchievement struct {
	GoalID      string         `json:"goal_id"`
	GoalName    string         `json:"goal_name"`
	AchievedAt  time.Time      `json:"achieved_at"`
	ExecutionID string         `json:"execution_id"`
	ContactID   string         `json:"contact_id"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
	Action      GoalAction     `json:"action"`
}
