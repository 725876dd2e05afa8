package conditions

import (
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/cascadehq/cascade/pkg/models"
)

// EvaluateExpression runs an expr-lang expression against the execution
// context. The environment exposes "contact", "trigger", "variables"
// and "actions".
func EvaluateExpression(code string, execCtx *models.ExecutionContext) (any, error) {
	env := map[string]any{
		"contact":   contactAsMap(&execCtx.Contact),
		"trigger":   execCtx.TriggerData,
		"variables": execCtx.Variables,
		"actions":   execCtx.ActionResults,
	}

	result, err := expr.Eval(code, env)
	if err != nil {
		return nil, fmt.Errorf("expression evaluation failed: %w", err)
	}

	return result, nil
}

// EvaluateBoolExpression runs an expression expected to yield a
// boolean.
func EvaluateBoolExpression(code string, execCtx *models.ExecutionContext) (bool, error) {
	result, err := EvaluateExpression(code, execCtx)
	if err != nil {
		return false, err
	}

	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not evaluate to a boolean, got %T", code, result)
	}

	return b, nil
}
