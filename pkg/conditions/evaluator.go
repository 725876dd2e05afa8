// Package conditions evaluates boolean condition trees against a
// workflow execution context. The operator table is shared by the
// branching engine, the goal tracker and exit-condition evaluation.
package conditions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Jeffail/gabs/v2"

	"github.com/cascadehq/cascade/pkg/models"
)

// Evaluate applies a condition group to the execution context. A nil
// group evaluates to true.
func Evaluate(group *models.ConditionGroup, execCtx *models.ExecutionContext) (bool, error) {
	if group == nil {
		return true, nil
	}

	return evaluateGroup(group, execCtx)
}

func evaluateGroup(group *models.ConditionGroup, execCtx *models.ExecutionContext) (bool, error) {
	results := make([]bool, 0, len(group.Conditions))

	for _, node := range group.Conditions {
		switch {
		case node.Condition != nil:
			result, err := evaluateCondition(node.Condition, execCtx)
			if err != nil {
				return false, err
			}

			results = append(results, result)
		case node.Group != nil:
			result, err := evaluateGroup(node.Group, execCtx)
			if err != nil {
				return false, err
			}

			results = append(results, result)
		default:
			return false, fmt.Errorf("condition node has neither condition nor group")
		}
	}

	if group.Operator == models.GroupAnd {
		for _, r := range results {
			if !r {
				return false, nil
			}
		}

		return true, nil
	}

	for _, r := range results {
		if r {
			return true, nil
		}
	}

	return false, nil
}

func evaluateCondition(cond *models.Condition, execCtx *models.ExecutionContext) (bool, error) {
	value, found := Resolve(cond.Field, execCtx)

	switch cond.Operator {
	case models.OpEquals:
		return found && looseEquals(value, cond.Value), nil
	case models.OpNotEquals:
		return !found || !looseEquals(value, cond.Value), nil
	case models.OpGreaterThan:
		return compareNumbers(value, cond.Value, func(a, b float64) bool { return a > b })
	case models.OpLessThan:
		return compareNumbers(value, cond.Value, func(a, b float64) bool { return a < b })
	case models.OpGreaterThanOrEqual:
		return compareNumbers(value, cond.Value, func(a, b float64) bool { return a >= b })
	case models.OpLessThanOrEqual:
		return compareNumbers(value, cond.Value, func(a, b float64) bool { return a <= b })
	case models.OpContains:
		return strings.Contains(stringify(value), stringify(cond.Value)), nil
	case models.OpNotContains:
		return !strings.Contains(stringify(value), stringify(cond.Value)), nil
	case models.OpStartsWith:
		return strings.HasPrefix(stringify(value), stringify(cond.Value)), nil
	case models.OpEndsWith:
		return strings.HasSuffix(stringify(value), stringify(cond.Value)), nil
	case models.OpMatchesRegex:
		re, err := regexp.Compile(stringify(cond.Value))
		if err != nil {
			return false, fmt.Errorf("invalid regex in condition on %s: %w", cond.Field, err)
		}

		return re.MatchString(stringify(value)), nil
	case models.OpIn:
		return memberOf(cond.Value, value), nil
	case models.OpNotIn:
		return !memberOf(cond.Value, value), nil
	case models.OpIncludes:
		return memberOf(value, cond.Value), nil
	case models.OpNotIncludes:
		return !memberOf(value, cond.Value), nil
	case models.OpExists:
		return found && value != nil, nil
	case models.OpNotExists:
		return !found || value == nil, nil
	case models.OpIsEmpty:
		return isEmpty(value, found), nil
	case models.OpIsNotEmpty:
		return !isEmpty(value, found), nil
	case models.OpBeforeDate, models.OpAfterDate, models.OpOlderThan, models.OpNewerThan:
		return compareDates(cond.Operator, value, cond.Value)
	default:
		return false, fmt.Errorf("unknown condition operator: %s", cond.Operator)
	}
}

// Resolve looks up a namespaced field path ("contact.*", "trigger.*",
// "variable.*", "action.*") in the execution context. Unresolved paths
// return found=false, which the existence and emptiness operators treat
// as absent.
func Resolve(field string, execCtx *models.ExecutionContext) (any, bool) {
	namespace, rest, _ := strings.Cut(field, ".")

	switch namespace {
	case "contact":
		return resolvePath(contactAsMap(&execCtx.Contact), rest)
	case "trigger":
		return resolvePath(execCtx.TriggerData, rest)
	case "variable":
		value, ok := execCtx.Variables[rest]
		if ok {
			return value, true
		}

		return resolvePath(execCtx.Variables, rest)
	case "action":
		value, ok := execCtx.ActionResults[rest]
		if ok {
			return value, true
		}

		return resolvePath(execCtx.ActionResults, rest)
	default:
		return nil, false
	}
}

func resolvePath(data map[string]any, path string) (any, bool) {
	if data == nil || path == "" {
		return nil, false
	}

	container := gabs.Wrap(data)
	if !container.ExistsP(path) {
		return nil, false
	}

	return container.Path(path).Data(), true
}

func contactAsMap(contact *models.ContactSnapshot) map[string]any {
	raw, err := json.Marshal(contact)
	if err != nil {
		return nil
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}

	return out
}

// looseEquals compares with numeric coercion: when both sides parse as
// numbers they are compared as float64, so "42" equals 42. Anything
// else is compared by its string form. This is the documented coercion
// rule for numeric-as-string trigger payloads.
func looseEquals(left, right any) bool {
	leftNum, leftOK := toFloat(left)
	rightNum, rightOK := toFloat(right)

	if leftOK && rightOK {
		return leftNum == rightNum
	}

	return stringify(left) == stringify(right)
}

func compareNumbers(left, right any, cmp func(a, b float64) bool) (bool, error) {
	leftNum, leftOK := toFloat(left)
	rightNum, rightOK := toFloat(right)

	if !leftOK || !rightOK {
		return false, nil
	}

	return cmp(leftNum, rightNum), nil
}

func compareDates(op models.ConditionOperator, value, condValue any) (bool, error) {
	fieldTime, ok := toTime(value)
	if !ok {
		return false, nil
	}

	switch op {
	case models.OpBeforeDate, models.OpAfterDate:
		refTime, ok := toTime(condValue)
		if !ok {
			return false, fmt.Errorf("invalid date condition value: %v", condValue)
		}

		if op == models.OpBeforeDate {
			return fieldTime.Before(refTime), nil
		}

		return fieldTime.After(refTime), nil
	case models.OpOlderThan, models.OpNewerThan:
		// Condition value is an age like {"amount": 7, "unit": "days"}.
		raw, err := json.Marshal(condValue)
		if err != nil {
			return false, fmt.Errorf("invalid age condition value: %w", err)
		}

		var amount models.TimeAmount
		if err := json.Unmarshal(raw, &amount); err != nil {
			return false, fmt.Errorf("invalid age condition value: %w", err)
		}

		cutoff := time.Now().Add(-amount.ToDuration())
		if op == models.OpOlderThan {
			return fieldTime.Before(cutoff), nil
		}

		return fieldTime.After(cutoff), nil
	default:
		return false, fmt.Errorf("not a date operator: %s", op)
	}
}

func toTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}

		if t, err := time.Parse("2006-01-02", v); err == nil {
			return t, true
		}

		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)

		return f, err == nil
	case bool:
		if v {
			return 1, true
		}

		return 0, true
	default:
		return 0, false
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func toSlice(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}

		return out, true
	default:
		return nil, false
	}
}

// memberOf reports whether needle is an element of haystack (which must
// be array-like).
func memberOf(haystack, needle any) bool {
	items, ok := toSlice(haystack)
	if !ok {
		return false
	}

	for _, item := range items {
		if looseEquals(item, needle) {
			return true
		}
	}

	return false
}

func isEmpty(value any, found bool) bool {
	if !found || value == nil {
		return true
	}

	switch v := value.(type) {
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}
