package template

import (
	"testing"

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
			CustomFields: map[string]any{
				"company": "Cascade",
			},
		},
		TriggerData: map[string]any{"form_id": "signup"},
		Variables:   map[string]any{"discount": 20},
		ActionResults: map[string]any{
			"lookup": map[string]any{"plan": "pro"},
		},
	}
}

func TestRenderContactFields(t *testing.T) {
	out, err := Render("Hi {{.contact.first_name}}, welcome to {{.contact.custom_fields.company}}!", testContext())
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada, welcome to Cascade!", out)
}

func TestRenderVariablesAndTrigger(t *testing.T) {
	out, err := Render("Form {{.trigger.form_id}} gives you {{.variables.discount}}% off", testContext())
	require.NoError(t, err)
	assert.Equal(t, "Form signup gives you 20% off", out)
}

func TestRenderActionResults(t *testing.T) {
	out, err := Render("Your plan: {{.actions.lookup.plan}}", testContext())
	require.NoError(t, err)
	assert.Equal(t, "Your plan: pro", out)
}

func TestRenderMissingValueIsEmpty(t *testing.T) {
	out, err := Render("Hello {{.variables.missing}}!", testContext())
	require.NoError(t, err)
	assert.Equal(t, "Hello !", out)
}

func TestRenderDefaultFunc(t *testing.T) {
	out, err := Render(`Hello {{default "there" .contact.last_name}}`, testContext())
	require.NoError(t, err)
	assert.Equal(t, "Hello there", out)
}

func TestRenderPlainStringPassesThrough(t *testing.T) {
	out, err := Render("no placeholders here", testContext())
	require.NoError(t, err)
	assert.Equal(t, "no placeholders here", out)
}

func TestRenderParseError(t *testing.T) {
	_, err := Render("{{.contact.first_name", testContext())
	require.Error(t, err)
}

func TestRenderAnyWalksNestedStructures(t *testing.T) {
	payload := map[string]any{
		"greeting": "Hi {{.contact.first_name}}",
		"nested": map[string]any{
			"email": "{{.contact.email}}",
			"count": 3,
		},
		"list": []any{"{{upper .trigger.form_id}}", 42},
	}

	rendered, err := RenderAny(payload, testContext())
	require.NoError(t, err)

	out, ok := rendered.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Hi Ada", out["greeting"])
	assert.Equal(t, "ada@example.com", out["nested"].(map[string]any)["email"])
	assert.Equal(t, 3, out["nested"].(map[string]any)["count"])
	assert.Equal(t, "SIGNUP", out["list"].([]any)[0])
	assert.Equal(t, 42, out["list"].([]any)[1])
}

func TestNeedsRendering(t *testing.T) {
	assert.True(t, NeedsRendering("{{.contact.email}}"))
	assert.False(t, NeedsRendering("plain"))
}
