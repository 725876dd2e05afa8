package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cascadehq/cascade/pkg/actions"
	"github.com/cascadehq/cascade/pkg/mocks"
	"github.com/cascadehq/cascade/pkg/models"
	"github.com/cascadehq/cascade/pkg/registry"
)

func newMockedEngine(t *testing.T) (*Engine, *mocks.MockPersistence, *mocks.MockQueue) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &mocks.MockPersistence{}
	q := &mocks.MockQueue{}
	reg := registry.NewRegistry(logger)
	actions.RegisterDefaults(reg, logger, nil)

	eng, err := NewEngine(Config{
		WorkerID:    "worker-mock",
		Logger:      logger,
		Queue:       q,
		Persistence: store,
		Registry:    reg,
	})
	require.NoError(t, err)

	return eng, store, q
}

func TestInitiateFromTriggerPropagatesStoreErrors(t *testing.T) {
	eng, store, _ := newMockedEngine(t)

	store.On("WorkflowsByTrigger", mock.Anything, models.TriggerFormSubmitted).
		Return(nil, errors.New("connection refused"))

	_, err := eng.InitiateFromTrigger(context.Background(), triggerFor("contact-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	store.AssertExpectations(t)
}

func TestInitiateFromTriggerRejectsInvalidEvents(t *testing.T) {
	eng, _, _ := newMockedEngine(t)

	trigger := triggerFor("contact-1")
	trigger.ContactID = ""
	trigger.Contact.ID = ""

	_, err := eng.InitiateFromTrigger(context.Background(), trigger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid trigger event")
}

func TestEnrollPropagatesCreateFailure(t *testing.T) {
	eng, store, _ := newMockedEngine(t)

	workflow := activeWorkflow("wf-mocked",
		&models.WorkflowAction{ID: "tag", Type: models.ActionAddTag, Config: map[string]any{"tag": "x"}},
	)

	store.On("ExecutionsByContact", mock.Anything, workflow.ID, "contact-1", (*models.ExecutionStatus)(nil)).
		Return([]*models.WorkflowExecution{}, nil)
	store.On("CreateExecution", mock.Anything, mock.AnythingOfType("*models.WorkflowExecution")).
		Return(errors.New("disk full"))

	_, err := eng.Enroll(context.Background(), workflow, triggerFor("contact-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	store.AssertExpectations(t)
}

func TestEnrollPublishesStartMessage(t *testing.T) {
	eng, store, q := newMockedEngine(t)

	workflow := activeWorkflow("wf-mocked",
		&models.WorkflowAction{ID: "tag", Type: models.ActionAddTag, Config: map[string]any{"tag": "x"}},
	)

	store.On("ExecutionsByContact", mock.Anything, workflow.ID, "contact-1", (*models.ExecutionStatus)(nil)).
		Return([]*models.WorkflowExecution{}, nil)
	store.On("CreateExecution", mock.Anything, mock.AnythingOfType("*models.WorkflowExecution")).
		Return(nil)
	store.On("WorkflowByID", mock.Anything, workflow.ID).Return(workflow, nil)
	store.On("SaveWorkflow", mock.Anything, workflow).Return(nil)

	// Lifecycle event publish plus the start message.
	q.On("Publish", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(nil)

	execution, err := eng.Enroll(context.Background(), workflow, triggerFor("contact-1"))
	require.NoError(t, err)
	require.NotNil(t, execution)
	assert.Equal(t, models.ExecutionPending, execution.Status)
	assert.Equal(t, "tag", execution.State.CurrentNodeID)

	q.AssertCalled(t, "Publish", mock.Anything, "workflow:execution:start", mock.Anything)
	store.AssertExpectations(t)
}
