package actions

import (
	"context"
	"fmt"
	"slices"

	"github.com/cascadehq/cascade/pkg/models"
)

// AddTagExecutor applies a tag to the contact snapshot. Conditions and
// goals evaluated later in the same execution observe the new tag; the
// CRM system of record is updated through the emitted action result.
type AddTagExecutor struct{}

func NewAddTagExecutor() *AddTagExecutor {
	return &AddTagExecutor{}
}

func (e *AddTagExecutor) Execute(_ context.Context, action *models.WorkflowAction, execCtx *models.ExecutionContext) (any, error) {
	config, err := models.DecodeConfig[models.TagConfig](action)
	if err != nil {
		return nil, err
	}

	added := false
	if !slices.Contains(execCtx.Contact.Tags, config.Tag) {
		execCtx.Contact.Tags = append(execCtx.Contact.Tags, config.Tag)
		added = true
	}

	return map[string]any{
		"tag":   config.Tag,
		"added": added,
		"tags":  execCtx.Contact.Tags,
	}, nil
}

func (e *AddTagExecutor) Validate(action *models.WorkflowAction) error {
	return validateTagConfig(action)
}

// RemoveTagExecutor removes a tag from the contact snapshot.
type RemoveTagExecutor struct{}

func NewRemoveTagExecutor() *RemoveTagExecutor {
	return &RemoveTagExecutor{}
}

func (e *RemoveTagExecutor) Execute(_ context.Context, action *models.WorkflowAction, execCtx *models.ExecutionContext) (any, error) {
	config, err := models.DecodeConfig[models.TagConfig](action)
	if err != nil {
		return nil, err
	}

	before := len(execCtx.Contact.Tags)
	execCtx.Contact.Tags = slices.DeleteFunc(execCtx.Contact.Tags, func(tag string) bool {
		return tag == config.Tag
	})

	return map[string]any{
		"tag":     config.Tag,
		"removed": len(execCtx.Contact.Tags) < before,
		"tags":    execCtx.Contact.Tags,
	}, nil
}

func (e *RemoveTagExecutor) Validate(action *models.WorkflowAction) error {
	return validateTagConfig(action)
}

func validateTagConfig(action *models.WorkflowAction) error {
	config, err := models.DecodeConfig[models.TagConfig](action)
	if err != nil {
		return err
	}

	if config.Tag == "" {
		return fmt.Errorf("action %s: tag is required", action.ID)
	}

	return nil
}
