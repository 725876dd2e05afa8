package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cascadehq/cascade/pkg/models"
)

// MemoryPersistence keeps everything in process memory. Used by tests
// and single-node development setups.
type MemoryPersistence struct {
	mu         sync.RWMutex
	workflows  map[string]*models.Workflow
	executions map[string]*models.WorkflowExecution
}

func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{
		workflows:  make(map[string]*models.Workflow),
		executions: make(map[string]*models.WorkflowExecution),
	}
}

func (p *MemoryPersistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	clone, err := cloneWorkflow(workflow)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.workflows[workflow.ID] = clone

	return nil
}

func (p *MemoryPersistence) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	workflow, ok := p.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrWorkflowNotFound)
	}

	return cloneWorkflow(workflow)
}

func (p *MemoryPersistence) Workflows(_ context.Context) ([]*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	workflows := make([]*models.Workflow, 0, len(p.workflows))

	for _, workflow := range p.workflows {
		clone, err := cloneWorkflow(workflow)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, clone)
	}

	return workflows, nil
}

func (p *MemoryPersistence) WorkflowsByTrigger(_ context.Context, triggerType string) ([]*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var matched []*models.Workflow

	for _, workflow := range p.workflows {
		if workflow.Status != models.WorkflowStatusActive {
			continue
		}

		if workflow.Trigger.Type != triggerType {
			continue
		}

		clone, err := cloneWorkflow(workflow)
		if err != nil {
			return nil, err
		}

		matched = append(matched, clone)
	}

	return matched, nil
}

func (p *MemoryPersistence) DeleteWorkflow(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.workflows[id]; !ok {
		return fmt.Errorf("workflow %s: %w", id, ErrWorkflowNotFound)
	}

	delete(p.workflows, id)

	return nil
}

func (p *MemoryPersistence) CreateExecution(_ context.Context, execution *models.WorkflowExecution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.executions[execution.ID]; ok {
		return fmt.Errorf("execution %s already exists", execution.ID)
	}

	execution.StoreVersion = 1

	clone, err := cloneExecution(execution)
	if err != nil {
		return err
	}

	p.executions[execution.ID] = clone

	return nil
}

func (p *MemoryPersistence) ExecutionByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	execution, ok := p.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, ErrExecutionNotFound)
	}

	return cloneExecution(execution)
}

func (p *MemoryPersistence) UpdateExecution(_ context.Context, execution *models.WorkflowExecution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.executions[execution.ID]
	if !ok {
		return fmt.Errorf("execution %s: %w", execution.ID, ErrExecutionNotFound)
	}

	if stored.StoreVersion != execution.StoreVersion {
		return fmt.Errorf("execution %s: have version %d, stored %d: %w",
			execution.ID, execution.StoreVersion, stored.StoreVersion, ErrVersionConflict)
	}

	execution.StoreVersion++

	clone, err := cloneExecution(execution)
	if err != nil {
		execution.StoreVersion--

		return err
	}

	p.executions[execution.ID] = clone

	return nil
}

func (p *MemoryPersistence) ExecutionsByWorkflow(_ context.Context, workflowID string, status *models.ExecutionStatus) ([]*models.WorkflowExecution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var matched []*models.WorkflowExecution

	for _, execution := range p.executions {
		if execution.WorkflowID != workflowID {
			continue
		}

		if status != nil && execution.Status != *status {
			continue
		}

		clone, err := cloneExecution(execution)
		if err != nil {
			return nil, err
		}

		matched = append(matched, clone)
	}

	return matched, nil
}

func (p *MemoryPersistence) ExecutionsByContact(_ context.Context, workflowID, contactID string, status *models.ExecutionStatus) ([]*models.WorkflowExecution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var matched []*models.WorkflowExecution

	for _, execution := range p.executions {
		if execution.WorkflowID != workflowID || execution.ContactID != contactID {
			continue
		}

		if status != nil && execution.Status != *status {
			continue
		}

		clone, err := cloneExecution(execution)
		if err != nil {
			return nil, err
		}

		matched = append(matched, clone)
	}

	return matched, nil
}

func (p *MemoryPersistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *MemoryPersistence) Close(_ context.Context) error {
	return nil
}

// JSON round-trips isolate callers from the stored copies, the same
// way a database row would.
func cloneWorkflow(workflow *models.Workflow) (*models.Workflow, error) {
	data, err := json.Marshal(workflow)
	if err != nil {
		return nil, fmt.Errorf("cloning workflow %s: %w", workflow.ID, err)
	}

	clone := &models.Workflow{}
	if err := json.Unmarshal(data, clone); err != nil {
		return nil, fmt.Errorf("cloning workflow %s: %w", workflow.ID, err)
	}

	return clone, nil
}

func cloneExecution(execution *models.WorkflowExecution) (*models.WorkflowExecution, error) {
	data, err := json.Marshal(execution)
	if err != nil {
		return nil, fmt.Errorf("cloning execution %s: %w", execution.ID, err)
	}

	clone := &models.WorkflowExecution{}
	if err := json.Unmarshal(data, clone); err != nil {
		return nil, fmt.Errorf("cloning execution %s: %w", execution.ID, err)
	}

	return clone, nil
}
