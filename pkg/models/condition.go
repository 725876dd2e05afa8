package models

import (
	"encoding/json"
	"fmt"
)

// GroupOperator combines the results of a condition group.
type GroupOperator string

const (
	GroupAnd GroupOperator = "AND"
	GroupOr  GroupOperator = "OR"
)

// ConditionOperator compares a resolved field value against a condition
// value. The operator table is shared by branching, goal tracking and
// exit-condition evaluation.
type ConditionOperator string

const (
	OpEquals             ConditionOperator = "equals"
	OpNotEquals          ConditionOperator = "not_equals"
	OpGreaterThan        ConditionOperator = "greater_than"
	OpLessThan           ConditionOperator = "less_than"
	OpGreaterThanOrEqual ConditionOperator = "greater_than_or_equal"
	OpLessThanOrEqual    ConditionOperator = "less_than_or_equal"

	OpContains     ConditionOperator = "contains"
	OpNotContains  ConditionOperator = "not_contains"
	OpStartsWith   ConditionOperator = "starts_with"
	OpEndsWith     ConditionOperator = "ends_with"
	OpMatchesRegex ConditionOperator = "matches_regex"

	OpIn          ConditionOperator = "in"
	OpNotIn       ConditionOperator = "not_in"
	OpIncludes    ConditionOperator = "includes"
	OpNotIncludes ConditionOperator = "not_includes"

	OpExists     ConditionOperator = "exists"
	OpNotExists  ConditionOperator = "not_exists"
	OpIsEmpty    ConditionOperator = "is_empty"
	OpIsNotEmpty ConditionOperator = "is_not_empty"

	OpBeforeDate ConditionOperator = "before_date"
	OpAfterDate  ConditionOperator = "after_date"
	OpOlderThan  ConditionOperator = "older_than"
	OpNewerThan  ConditionOperator = "newer_than"
)

// Condition is a single field comparison. Field paths are namespaced:
// "contact.*", "trigger.*", "variable.*" and "action.*".
type Condition struct {
	Field    string            `json:"field"    validate:"required"`
	Operator ConditionOperator `json:"operator" validate:"required"`
	Value    any               `json:"value,omitempty"`
}

// ConditionGroup is an AND/OR combinator over conditions and nested
// groups.
type ConditionGroup struct {
	Operator   GroupOperator   `json:"operator"   validate:"required,oneof=AND OR"`
	Conditions []ConditionNode `json:"conditions" validate:"required"`
}

// ConditionNode is either a leaf condition or a nested group. Exactly
// one of the two is set.
type ConditionNode struct {
	Condition *Condition
	Group     *ConditionGroup
}

// Leaf wraps a single condition into a node.
func Leaf(field string, op ConditionOperator, value any) ConditionNode {
	return ConditionNode{Condition: &Condition{Field: field, Operator: op, Value: value}}
}

// Nested wraps a group into a node.
func Nested(group ConditionGroup) ConditionNode {
	return ConditionNode{Group: &group}
}

func (n ConditionNode) MarshalJSON() ([]byte, error) {
	switch {
	case n.Condition != nil:
		return json.Marshal(n.Condition)
	case n.Group != nil:
		return json.Marshal(n.Group)
	default:
		return nil, fmt.Errorf("condition node has neither condition nor group")
	}
}

func (n *ConditionNode) UnmarshalJSON(data []byte) error {
	var probe struct {
		Field      string          `json:"field"`
		Conditions json.RawMessage `json:"conditions"`
	}

	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	// A nested group carries a "conditions" array, a leaf carries a
	// "field".
	if probe.Conditions != nil {
		group := &ConditionGroup{}
		if err := json.Unmarshal(data, group); err != nil {
			return err
		}

		n.Group = group

		return nil
	}

	cond := &Condition{}
	if err := json.Unmarshal(data, cond); err != nil {
		return err
	}

	n.Condition = cond

	return nil
}

// AllOf builds an AND group over the given nodes.
func AllOf(nodes ...ConditionNode) *ConditionGroup {
	return &ConditionGroup{Operator: GroupAnd, Conditions: nodes}
}

// AnyOf builds an OR group over the given nodes.
func AnyOf(nodes ...ConditionNode) *ConditionGroup {
	return &ConditionGroup{Operator: GroupOr, Conditions: nodes}
}
