// Package branching selects the path an execution follows through
// if/else, split and random-path actions.
package branching

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"math/rand"

	"github.com/cascadehq/cascade/pkg/conditions"
	"github.com/cascadehq/cascade/pkg/models"
)

// BranchResult describes the path selected by a branching action. The
// selected path is the ordered list of action IDs the execution should
// follow next; an empty path means the action's default continuation
// applies.
type BranchResult struct {
	BranchID     string   `json:"branch_id"`
	BranchName   string   `json:"branch_name,omitempty"`
	SelectedPath []string `json:"selected_path"`
	Reason       string   `json:"reason"`
}

// Engine resolves branching actions against an execution context.
type Engine struct {
	logger *slog.Logger

	// rng backs random-path selection. Replaceable for tests.
	rng func() float64
}

func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{
		logger: logger.With("module", "branching"),
		rng:    rand.Float64,
	}
}

// Execute dispatches on the action type and returns the selected path.
func (e *Engine) Execute(action *models.WorkflowAction, execution *models.WorkflowExecution) (*BranchResult, error) {
	switch action.Type {
	case models.ActionIfElse:
		return e.ExecuteIfElse(action, execution)
	case models.ActionSplit:
		return e.ExecuteSplit(action, execution)
	case models.ActionRandomPath:
		return e.ExecuteRandomPath(action, execution)
	default:
		return nil, fmt.Errorf("action %s: type %q is not a branching action", action.ID, action.Type)
	}
}

// ExecuteIfElse evaluates the condition and selects the true or false
// branch.
func (e *Engine) ExecuteIfElse(action *models.WorkflowAction, execution *models.WorkflowExecution) (*BranchResult, error) {
	config, err := models.DecodeConfig[models.IfElseConfig](action)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", action.ID, err)
	}

	matched, err := conditions.Evaluate(&config.Condition, &execution.Context)
	if err != nil {
		return nil, fmt.Errorf("action %s: evaluating condition: %w", action.ID, err)
	}

	if matched {
		return &BranchResult{
			BranchID:     "true",
			SelectedPath: config.TrueBranch,
			Reason:       "condition matched",
		}, nil
	}

	return &BranchResult{
		BranchID:     "false",
		SelectedPath: config.FalseBranch,
		Reason:       "condition did not match",
	}, nil
}

// ExecuteSplit selects a branch either by contact-deterministic
// percentage bucketing or by evaluating conditional branches in
// declared order.
func (e *Engine) ExecuteSplit(action *models.WorkflowAction, execution *models.WorkflowExecution) (*BranchResult, error) {
	config, err := models.DecodeConfig[models.SplitConfig](action)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", action.ID, err)
	}

	switch config.SplitType {
	case models.SplitPercentage:
		return e.splitByPercentage(action, &config, execution)
	case models.SplitConditional:
		return e.splitByCondition(action, &config, execution)
	default:
		return nil, fmt.Errorf("action %s: unknown split type %q", action.ID, config.SplitType)
	}
}

func (e *Engine) splitByPercentage(action *models.WorkflowAction, config *models.SplitConfig, execution *models.WorkflowExecution) (*BranchResult, error) {
	if len(config.Branches) == 0 {
		return nil, fmt.Errorf("action %s: percentage split has no branches", action.ID)
	}

	total := 0.0
	for _, branch := range config.Branches {
		total += branch.Percentage
	}

	if math.Abs(total-100) > 0.01 {
		return nil, fmt.Errorf("action %s: branch percentages sum to %.2f, want 100", action.ID, total)
	}

	// The same contact always lands in the same bucket for a given
	// split action, so re-entering contacts stay on their branch.
	bucket := percentageBucket(execution.ContactID, action.ID)

	cumulative := 0.0
	for _, branch := range config.Branches {
		cumulative += branch.Percentage
		if bucket <= cumulative {
			return &BranchResult{
				BranchID:     branch.ID,
				BranchName:   branch.Name,
				SelectedPath: branch.Actions,
				Reason:       fmt.Sprintf("bucket %.2f within cumulative %.2f", bucket, cumulative),
			}, nil
		}
	}

	last := config.Branches[len(config.Branches)-1]

	return &BranchResult{
		BranchID:     last.ID,
		BranchName:   last.Name,
		SelectedPath: last.Actions,
		Reason:       "bucket fell through to last branch",
	}, nil
}

func (e *Engine) splitByCondition(action *models.WorkflowAction, config *models.SplitConfig, execution *models.WorkflowExecution) (*BranchResult, error) {
	for _, branch := range config.ConditionalBranches {
		matched, err := conditions.Evaluate(&branch.Condition, &execution.Context)
		if err != nil {
			return nil, fmt.Errorf("action %s branch %s: %w", action.ID, branch.ID, err)
		}

		if matched {
			return &BranchResult{
				BranchID:     branch.ID,
				BranchName:   branch.Name,
				SelectedPath: branch.Actions,
				Reason:       "branch condition matched",
			}, nil
		}
	}

	if len(config.DefaultBranch) > 0 {
		return &BranchResult{
			BranchID:     "default",
			SelectedPath: config.DefaultBranch,
			Reason:       "no branch matched, using default",
		}, nil
	}

	return nil, fmt.Errorf("action %s: no branch matched and no default branch configured", action.ID)
}

// ExecuteRandomPath draws a weighted random path. Unlike percentage
// splits the draw is independent per execution, not sticky per contact.
func (e *Engine) ExecuteRandomPath(action *models.WorkflowAction, execution *models.WorkflowExecution) (*BranchResult, error) {
	config, err := models.DecodeConfig[models.RandomPathConfig](action)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", action.ID, err)
	}

	if len(config.Paths) == 0 {
		return nil, fmt.Errorf("action %s: random path has no paths", action.ID)
	}

	totalWeight := 0.0
	for _, path := range config.Paths {
		if path.Weight < 0 {
			return nil, fmt.Errorf("action %s path %s: negative weight %.2f", action.ID, path.ID, path.Weight)
		}

		totalWeight += path.Weight
	}

	if totalWeight <= 0 {
		return nil, fmt.Errorf("action %s: path weights sum to zero", action.ID)
	}

	draw := e.rng() * totalWeight

	cumulative := 0.0
	for _, path := range config.Paths {
		cumulative += path.Weight
		if draw < cumulative {
			return &BranchResult{
				BranchID:     path.ID,
				SelectedPath: path.Actions,
				Reason:       fmt.Sprintf("weighted draw %.4f of %.2f", draw, totalWeight),
			}, nil
		}
	}

	first := config.Paths[0]

	return &BranchResult{
		BranchID:     first.ID,
		SelectedPath: first.Actions,
		Reason:       "draw fell through to first path",
	}, nil
}

// percentageBucket maps a contact onto [0, 100) with two decimal places
// of resolution. Keyed by action ID as well so distinct splits in the
// same workflow distribute independently.
func percentageBucket(contactID, actionID string) float64 {
	h := fnv.New32a()
	h.Write([]byte(contactID))
	h.Write([]byte(":"))
	h.Write([]byte(actionID))

	return float64(h.Sum32()%10000) / 100
}
