// Package registry maps action types to their executors.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/cascadehq/cascade/pkg/models"
	"github.com/cascadehq/cascade/pkg/protocol"
)

// Registry holds the executors registered for action types. Absence of
// an executor at execution time is a workflow-integrity error, never a
// retryable condition.
type Registry struct {
	logger    *slog.Logger
	executors map[models.ActionType]protocol.ActionExecutor
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		executors: make(map[models.ActionType]protocol.ActionExecutor),
	}
}

// Register binds an executor to an action type, replacing any previous
// binding.
func (r *Registry) Register(actionType models.ActionType, executor protocol.ActionExecutor) {
	r.executors[actionType] = executor
}

// Executor returns the executor registered for the action type.
func (r *Registry) Executor(actionType models.ActionType) (protocol.ActionExecutor, error) {
	executor, ok := r.executors[actionType]
	if !ok {
		return nil, fmt.Errorf("no executor registered for action type %q", actionType)
	}

	return executor, nil
}

// Registered reports whether an executor exists for the action type.
func (r *Registry) Registered(actionType models.ActionType) bool {
	_, ok := r.executors[actionType]

	return ok
}

// Types returns all registered action types.
func (r *Registry) Types() []models.ActionType {
	types := make([]models.ActionType, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}

	return types
}

// ValidateWorkflow checks that every enabled action in the workflow has
// a registered executor and passes executor-level validation.
func (r *Registry) ValidateWorkflow(workflow *models.Workflow) error {
	for _, action := range workflow.Actions {
		executor, err := r.Executor(action.Type)
		if err != nil {
			return fmt.Errorf("workflow %s: %w", workflow.ID, err)
		}

		if err := executor.Validate(action); err != nil {
			return fmt.Errorf("workflow %s action %s: %w", workflow.ID, action.ID, err)
		}
	}

	return nil
}
