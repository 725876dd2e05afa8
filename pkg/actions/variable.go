package actions

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cascadehq/cascade/pkg/conditions"
	"github.com/cascadehq/cascade/pkg/models"
)

// SetVariableExecutor stores a value or the result of an expression
// into the execution variables.
type SetVariableExecutor struct{}

func NewSetVariableExecutor() *SetVariableExecutor {
	return &SetVariableExecutor{}
}

func (e *SetVariableExecutor) Execute(_ context.Context, action *models.WorkflowAction, execCtx *models.ExecutionContext) (any, error) {
	config, err := models.DecodeConfig[models.SetVariableConfig](action)
	if err != nil {
		return nil, err
	}

	value := config.Value

	if config.Expression != "" {
		value, err = conditions.EvaluateExpression(config.Expression, execCtx)
		if err != nil {
			return nil, fmt.Errorf("action %s: evaluating expression: %w", action.ID, err)
		}
	}

	execCtx.SetVariable(config.Name, value)

	return map[string]any{
		"name":  config.Name,
		"value": value,
	}, nil
}

func (e *SetVariableExecutor) Validate(action *models.WorkflowAction) error {
	config, err := models.DecodeConfig[models.SetVariableConfig](action)
	if err != nil {
		return err
	}

	if config.Name == "" {
		return fmt.Errorf("action %s: variable name is required", action.ID)
	}

	return nil
}

// MathOperationExecutor computes a binary arithmetic operation over
// field references or numeric literals and stores the result as a
// variable.
type MathOperationExecutor struct{}

func NewMathOperationExecutor() *MathOperationExecutor {
	return &MathOperationExecutor{}
}

func (e *MathOperationExecutor) Execute(_ context.Context, action *models.WorkflowAction, execCtx *models.ExecutionContext) (any, error) {
	config, err := models.DecodeConfig[models.MathOperationConfig](action)
	if err != nil {
		return nil, err
	}

	left, err := resolveNumber(config.Left, config.Fallback, execCtx)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", action.ID, err)
	}

	right, err := resolveNumber(config.Right, config.Fallback, execCtx)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", action.ID, err)
	}

	var result float64

	switch config.Operation {
	case "add":
		result = left + right
	case "subtract":
		result = left - right
	case "multiply":
		result = left * right
	case "divide":
		if right == 0 {
			return nil, fmt.Errorf("action %s: division by zero", action.ID)
		}

		result = left / right
	default:
		return nil, fmt.Errorf("action %s: unknown operation %q", action.ID, config.Operation)
	}

	if config.Round != nil {
		factor := math.Pow(10, float64(*config.Round))
		result = math.Round(result*factor) / factor
	}

	execCtx.SetVariable(config.Result, result)

	return map[string]any{
		"result": result,
		"name":   config.Result,
	}, nil
}

func (e *MathOperationExecutor) Validate(action *models.WorkflowAction) error {
	config, err := models.DecodeConfig[models.MathOperationConfig](action)
	if err != nil {
		return err
	}

	if config.Result == "" {
		return fmt.Errorf("action %s: result variable name is required", action.ID)
	}

	switch config.Operation {
	case "add", "subtract", "multiply", "divide":
		return nil
	default:
		return fmt.Errorf("action %s: unknown operation %q", action.ID, config.Operation)
	}
}

// StringOperationExecutor transforms a string value and stores the
// result as a variable.
type StringOperationExecutor struct{}

func NewStringOperationExecutor() *StringOperationExecutor {
	return &StringOperationExecutor{}
}

func (e *StringOperationExecutor) Execute(_ context.Context, action *models.WorkflowAction, execCtx *models.ExecutionContext) (any, error) {
	config, err := models.DecodeConfig[models.StringOperationConfig](action)
	if err != nil {
		return nil, err
	}

	input := resolveString(config.Input, execCtx)

	var result string

	switch config.Operation {
	case "concat":
		result = input + resolveString(config.Argument, execCtx)
	case "upper":
		result = strings.ToUpper(input)
	case "lower":
		result = strings.ToLower(input)
	case "trim":
		result = strings.TrimSpace(input)
	case "replace":
		result = strings.ReplaceAll(input, config.Argument, config.With)
	default:
		return nil, fmt.Errorf("action %s: unknown operation %q", action.ID, config.Operation)
	}

	execCtx.SetVariable(config.Result, result)

	return map[string]any{
		"result": result,
		"name":   config.Result,
	}, nil
}

func (e *StringOperationExecutor) Validate(action *models.WorkflowAction) error {
	config, err := models.DecodeConfig[models.StringOperationConfig](action)
	if err != nil {
		return err
	}

	if config.Result == "" {
		return fmt.Errorf("action %s: result variable name is required", action.ID)
	}

	return nil
}

// resolveNumber interprets the operand as a numeric literal first and
// as a context field path second.
func resolveNumber(operand string, fallback float64, execCtx *models.ExecutionContext) (float64, error) {
	operand = strings.TrimSpace(operand)

	if parsed, err := strconv.ParseFloat(operand, 64); err == nil {
		return parsed, nil
	}

	resolved, ok := conditions.Resolve(operand, execCtx)
	if !ok {
		return fallback, nil
	}

	switch v := resolved.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed, nil
		}

		return fallback, nil
	default:
		return 0, fmt.Errorf("field %q does not hold a number", operand)
	}
}

// resolveString interprets the operand as a context field path when it
// resolves, and as a literal otherwise.
func resolveString(operand string, execCtx *models.ExecutionContext) string {
	if resolved, ok := conditions.Resolve(operand, execCtx); ok {
		return fmt.Sprintf("%v", resolved)
	}

	return operand
}
