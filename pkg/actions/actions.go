// Package actions provides the built-in action executors.
package actions

import (
	"context"
	"log/slog"

	"github.com/cascadehq/cascade/pkg/models"
	"github.com/cascadehq/cascade/pkg/protocol"
	"github.com/cascadehq/cascade/pkg/registry"
)

// RegisterDefaults binds the built-in executors. Communication actions
// go through the given sender; integrations without a built-in
// implementation are registered separately by the host.
func RegisterDefaults(reg *registry.Registry, logger *slog.Logger, sender MessageSender) {
	if sender == nil {
		sender = NewLoggingSender(logger)
	}

	reg.Register(models.ActionSendEmail, NewSendEmailExecutor(sender))
	reg.Register(models.ActionSendSMS, NewSendSMSExecutor(sender))

	reg.Register(models.ActionAddTag, NewAddTagExecutor())
	reg.Register(models.ActionRemoveTag, NewRemoveTagExecutor())

	reg.Register(models.ActionSetVariable, NewSetVariableExecutor())
	reg.Register(models.ActionMathOperation, NewMathOperationExecutor())
	reg.Register(models.ActionStringOperation, NewStringOperationExecutor())

	reg.Register(models.ActionHTTPRequest, NewHTTPRequestExecutor(logger))
	reg.Register(models.ActionWebhook, NewWebhookExecutor(logger))

	// Control-flow actions are routed by the engine before executor
	// dispatch; the bindings exist so workflow validation passes.
	for _, controlType := range []models.ActionType{
		models.ActionWait,
		models.ActionDelay,
		models.ActionIfElse,
		models.ActionSplit,
		models.ActionRandomPath,
		models.ActionGoto,
		models.ActionEndWorkflow,
	} {
		reg.Register(controlType, newControlExecutor(controlType))
	}
}

type controlExecutor struct {
	actionType models.ActionType
}

func newControlExecutor(actionType models.ActionType) protocol.ActionExecutor {
	return &controlExecutor{actionType: actionType}
}

func (e *controlExecutor) Execute(_ context.Context, action *models.WorkflowAction, _ *models.ExecutionContext) (any, error) {
	return map[string]any{"control": string(e.actionType), "step_id": action.ID}, nil
}

func (e *controlExecutor) Validate(_ *models.WorkflowAction) error {
	return nil
}
