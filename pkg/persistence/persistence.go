// Package persistence provides the storage layer for workflows and
// their executions.
package persistence

import (
	"context"
	"errors"

	"github.com/cascadehq/cascade/pkg/models"
)

var (
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrVersionConflict is returned by ExecutionStore.Update when the
	// execution was modified since it was read. The caller must
	// re-read and decide whether to retry or drop its work.
	ErrVersionConflict = errors.New("execution was modified concurrently")
)

// WorkflowStore reads and writes workflow definitions.
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	Workflows(ctx context.Context) ([]*models.Workflow, error)

	// WorkflowsByTrigger returns active workflows whose trigger
	// matches the event type.
	WorkflowsByTrigger(ctx context.Context, triggerType string) ([]*models.Workflow, error)

	DeleteWorkflow(ctx context.Context, id string) error
}

// ExecutionStore reads and writes workflow executions. Create assigns
// StoreVersion 1; Update compares the caller's StoreVersion against
// the stored one and bumps it on success.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, execution *models.WorkflowExecution) error
	ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	UpdateExecution(ctx context.Context, execution *models.WorkflowExecution) error

	// ExecutionsByWorkflow lists executions of a workflow, optionally
	// filtered by status.
	ExecutionsByWorkflow(ctx context.Context, workflowID string, status *models.ExecutionStatus) ([]*models.WorkflowExecution, error)

	// ExecutionsByContact lists executions of a contact within a
	// workflow, optionally filtered by status. Enrollment eligibility
	// is decided from this listing.
	ExecutionsByContact(ctx context.Context, workflowID, contactID string, status *models.ExecutionStatus) ([]*models.WorkflowExecution, error)
}

// Persistence bundles the stores behind one connection lifecycle.
type Persistence interface {
	WorkflowStore
	ExecutionStore

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
