// Package goals evaluates workflow goals against running executions and
// resolves the routing decision when goals are achieved.
package goals

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/cascadehq/cascade/pkg/conditions"
	"github.com/cascadehq/cascade/pkg/models"
)

// Routing is the combined routing decision for one evaluation pass.
// Exit wins over goto; goto wins over continue. When several goto goals
// are achieved in the same pass, the first in workflow declaration
// order provides the target.
type Routing struct {
	Action       models.GoalAction
	TargetStepID string
	Achieved     []models.GoalAchievement
}

// Tracker evaluates goals between steps of the execution loop.
type Tracker struct {
	logger *slog.Logger
}

func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{logger: logger.With("module", "goals")}
}

// Evaluate checks every goal not yet achieved by the execution and
// records achievements on the execution. Goals already achieved never
// fire again within the same execution.
func (t *Tracker) Evaluate(workflow *models.Workflow, execution *models.WorkflowExecution) (*Routing, error) {
	routing := &Routing{Action: models.GoalContinue}

	for _, goal := range workflow.Goals {
		if slices.Contains(execution.GoalsAchieved, goal.ID) {
			continue
		}

		matched, err := conditions.Evaluate(&goal.Conditions, &execution.Context)
		if err != nil {
			return nil, fmt.Errorf("goal %s: %w", goal.ID, err)
		}

		if !matched {
			continue
		}

		achievement := models.GoalAchievement{
			GoalID:      goal.ID,
			GoalName:    goal.Name,
			AchievedAt:  time.Now().UTC(),
			ExecutionID: execution.ID,
			ContactID:   execution.ContactID,
			TriggerData: execution.Context.TriggerData,
			Action:      goal.OnAchievement,
		}

		execution.GoalsAchieved = append(execution.GoalsAchieved, goal.ID)
		routing.Achieved = append(routing.Achieved, achievement)

		t.logger.Info("goal achieved",
			"goal_id", goal.ID,
			"execution_id", execution.ID,
			"action", goal.OnAchievement,
		)

		switch goal.OnAchievement {
		case models.GoalExit:
			routing.Action = models.GoalExit
		case models.GoalGoto:
			if routing.Action == models.GoalContinue {
				routing.Action = models.GoalGoto
				routing.TargetStepID = goal.TargetStepID
			}
		case models.GoalContinue:
		}
	}

	return routing, nil
}
