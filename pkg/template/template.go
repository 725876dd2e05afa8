// Package template renders placeholders in action configuration
// strings against the execution context, so email subjects, SMS bodies
// and webhook payloads can reference contact fields, trigger data,
// variables and prior action results.
package template

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/cascadehq/cascade/pkg/models"
)

// NeedsRendering reports whether the string contains template syntax.
// Plain strings skip the template machinery entirely.
func NeedsRendering(input string) bool {
	return strings.Contains(input, "{{")
}

// Render evaluates the template string against the execution context.
// Available roots: .contact, .trigger, .variables (alias .vars) and
// .actions for recorded action outputs.
func Render(input string, execCtx *models.ExecutionContext) (string, error) {
	if !NeedsRendering(input) {
		return input, nil
	}

	tmpl, err := template.
		New("config").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
			"trim":  strings.TrimSpace,
			"default": func(fallback string, value any) string {
				s := fmt.Sprint(value)
				if value == nil || s == "" || s == "<nil>" {
					return fallback
				}

				return s
			},
		}).
		Parse(input)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, contextData(execCtx)); err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}

	// missingkey=zero prints "<no value>" for nil map values.
	return strings.ReplaceAll(out.String(), "<no value>", ""), nil
}

// RenderAny walks maps and slices, rendering every string leaf.
// Non-string leaves pass through untouched.
func RenderAny(value any, execCtx *models.ExecutionContext) (any, error) {
	switch v := value.(type) {
	case string:
		return Render(v, execCtx)
	case map[string]any:
		out := make(map[string]any, len(v))

		for key, entry := range v {
			rendered, err := RenderAny(entry, execCtx)
			if err != nil {
				return nil, fmt.Errorf("key %s: %w", key, err)
			}

			out[key] = rendered
		}

		return out, nil
	case []any:
		out := make([]any, len(v))

		for i, entry := range v {
			rendered, err := RenderAny(entry, execCtx)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}

			out[i] = rendered
		}

		return out, nil
	default:
		return value, nil
	}
}

func contextData(execCtx *models.ExecutionContext) map[string]any {
	return map[string]any{
		"contact":   contactAsMap(&execCtx.Contact),
		"trigger":   execCtx.TriggerData,
		"variables": execCtx.Variables,
		"vars":      execCtx.Variables,
		"actions":   execCtx.ActionResults,
	}
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
