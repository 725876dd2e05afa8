package conditions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadehq/cascade/pkg/models"
)

func testContext() *models.ExecutionContext {
	return &models.ExecutionContext{
		Contact: models.ContactSnapshot{
			ID:        "c-1",
			Email:     "ada@example.com",
			FirstName: "Ada",
			Tags:      []string{"vip", "newsletter"},
			CustomFields: map[string]any{
				"score":   float64(42),
				"company": map[string]any{"name": "Acme"},
			},
			CapturedAt: time.Now(),
		},
		TriggerData: map[string]any{
			"form_id": "form-7",
			"score":   "15",
			"utm":     map[string]any{"source": "google"},
		},
		Variables: map[string]any{
			"attempts": float64(3),
			"empty":    "",
		},
		ActionResults: map[string]any{
			"step-1": map[string]any{"status": "sent"},
		},
	}
}

func TestResolve_Namespaces(t *testing.T) {
	execCtx := testContext()

	value, found := Resolve("contact.email", execCtx)
	require.True(t, found)
	assert.Equal(t, "ada@example.com", value)

	value, found = Resolve("contact.custom_fields.company.name", execCtx)
	require.True(t, found)
	assert.Equal(t, "Acme", value)

	value, found = Resolve("trigger.utm.source", execCtx)
	require.True(t, found)
	assert.Equal(t, "google", value)

	value, found = Resolve("variable.attempts", execCtx)
	require.True(t, found)
	assert.Equal(t, float64(3), value)

	value, found = Resolve("action.step-1", execCtx)
	require.True(t, found)
	assert.Equal(t, map[string]any{"status": "sent"}, value)

	_, found = Resolve("contact.nonexistent", execCtx)
	assert.False(t, found)

	_, found = Resolve("unknown.field", execCtx)
	assert.False(t, found)
}

func TestEvaluate_NilGroupIsTrue(t *testing.T) {
	result, err := Evaluate(nil, testContext())
	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluate_LooseEquality(t *testing.T) {
	execCtx := testContext()

	// Numeric-as-string trigger payload compares equal to a number.
	result, err := Evaluate(models.AllOf(models.Leaf("trigger.score", models.OpEquals, 15)), execCtx)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = Evaluate(models.AllOf(models.Leaf("contact.first_name", models.OpEquals, "Ada")), execCtx)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = Evaluate(models.AllOf(models.Leaf("contact.first_name", models.OpNotEquals, "Grace")), execCtx)
	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluate_NumericComparisons(t *testing.T) {
	execCtx := testContext()

	cases := []struct {
		op       models.ConditionOperator
		value    any
		expected bool
	}{
		{models.OpGreaterThan, 40, true},
		{models.OpGreaterThan, 42, false},
		{models.OpGreaterThanOrEqual, 42, true},
		{models.OpLessThan, 100, true},
		{models.OpLessThanOrEqual, 41, false},
	}

	for _, tc := range cases {
		result, err := Evaluate(models.AllOf(models.Leaf("contact.custom_fields.score", tc.op, tc.value)), execCtx)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, result, "operator %s value %v", tc.op, tc.value)
	}
}

func TestEvaluate_StringOperators(t *testing.T) {
	execCtx := testContext()

	result, err := Evaluate(models.AllOf(models.Leaf("contact.email", models.OpContains, "@example")), execCtx)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = Evaluate(models.AllOf(models.Leaf("contact.email", models.OpStartsWith, "ada")), execCtx)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = Evaluate(models.AllOf(models.Leaf("contact.email", models.OpEndsWith, ".com")), execCtx)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = Evaluate(models.AllOf(models.Leaf("contact.email", models.OpMatchesRegex, `^[a-z]+@`)), execCtx)
	require.NoError(t, err)
	assert.True(t, result)

	_, err = Evaluate(models.AllOf(models.Leaf("contact.email", models.OpMatchesRegex, `([`)), execCtx)
	assert.Error(t, err)
}

func TestEvaluate_SetAndArrayOperators(t *testing.T) {
	execCtx := testContext()

	result, err := Evaluate(models.AllOf(models.Leaf("trigger.form_id", models.OpIn, []any{"form-7", "form-8"})), execCtx)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = Evaluate(models.AllOf(models.Leaf("trigger.form_id", models.OpNotIn, []any{"form-1"})), execCtx)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = Evaluate(models.AllOf(models.Leaf("contact.tags", models.OpIncludes, "vip")), execCtx)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = Evaluate(models.AllOf(models.Leaf("contact.tags", models.OpNotIncludes, "churned")), execCtx)
	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluate_ExistenceOperators(t *testing.T) {
	execCtx := testContext()

	result, err := Evaluate(models.AllOf(models.Leaf("contact.email", models.OpExists, nil)), execCtx)
	require.NoError(t, err)
	assert.True(t, result)

	// Unresolved paths are treated as absent.
	result, err = Evaluate(models.AllOf(models.Leaf("contact.middle_name", models.OpNotExists, nil)), execCtx)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = Evaluate(models.AllOf(models.Leaf("variable.empty", models.OpIsEmpty, nil)), execCtx)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = Evaluate(models.AllOf(models.Leaf("contact.tags", models.OpIsNotEmpty, nil)), execCtx)
	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluate_DateOperators(t *testing.T) {
	execCtx := testContext()
	execCtx.Variables["signup_date"] = time.Now().Add(-10 * 24 * time.Hour).Format(time.RFC3339)

	result, err := Evaluate(models.AllOf(models.Leaf(
		"variable.signup_date", models.OpOlderThan, map[string]any{"amount": 7, "unit": "days"},
	)), execCtx)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = Evaluate(models.AllOf(models.Leaf(
		"variable.signup_date", models.OpBeforeDate, time.Now().Format(time.RFC3339),
	)), execCtx)
	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluate_NestedGroups(t *testing.T) {
	execCtx := testContext()

	group := models.AllOf(
		models.Leaf("contact.email", models.OpExists, nil),
		models.Nested(*models.AnyOf(
			models.Leaf("contact.tags", models.OpIncludes, "churned"),
			models.Leaf("contact.custom_fields.score", models.OpGreaterThan, 40),
		)),
	)

	result, err := Evaluate(group, execCtx)
	require.NoError(t, err)
	assert.True(t, result)

	// AND group fails when one branch is false.
	group = models.AllOf(
		models.Leaf("contact.email", models.OpExists, nil),
		models.Leaf("contact.tags", models.OpIncludes, "churned"),
	)

	result, err = Evaluate(group, execCtx)
	require.NoError(t, err)
	assert.False(t, result)
}

func TestEvaluateExpression(t *testing.T) {
	execCtx := testContext()

	result, err := EvaluateBoolExpression(`contact.first_name == "Ada" && variables.attempts < 5`, execCtx)
	require.NoError(t, err)
	assert.True(t, result)

	value, err := EvaluateExpression(`variables.attempts * 2`, execCtx)
	require.NoError(t, err)
	assert.Equal(t, float64(6), value)

	_, err = EvaluateBoolExpression(`variables.attempts * 2`, execCtx)
	assert.Error(t, err)
}
