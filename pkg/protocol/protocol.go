// Package protocol defines the contracts between the engine and
// pluggable action executors.
package protocol

import (
	"context"

	"github.com/cascadehq/cascade/pkg/models"
)

// ActionExecutor implements one action type. Execute returns the
// action's output, which is recorded into the execution's step result
// and action-results map. Implementations must honor ctx cancellation;
// the step executor enforces the per-step timeout through it.
type ActionExecutor interface {
	Execute(ctx context.Context, action *models.WorkflowAction, execCtx *models.ExecutionContext) (any, error)
	Validate(action *models.WorkflowAction) error
}

// ExecutorFunc adapts a function to the ActionExecutor interface.
type ExecutorFunc func(ctx context.Context, action *models.WorkflowAction, execCtx *models.ExecutionContext) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, action *models.WorkflowAction, execCtx *models.ExecutionContext) (any, error) {
	return f(ctx, action, execCtx)
}

func (f ExecutorFunc) Validate(*models.WorkflowAction) error {
	return nil
}
