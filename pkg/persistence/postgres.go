package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/cascadehq/cascade/pkg/models"
)

// PostgresPersistence stores workflows and executions in PostgreSQL.
// Workflow graphs and execution state are JSONB documents; the columns
// carry only what queries filter and index on.
type PostgresPersistence struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*PostgresPersistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &PostgresPersistence{
		db:     database,
		logger: logger.With("module", "persistence"),
	}

	if err := p.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return p, nil
}

func (p *PostgresPersistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	doc, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("marshaling workflow %s: %w", workflow.ID, err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO workflows (id, organization_id, name, status, trigger_type, version, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			trigger_type = EXCLUDED.trigger_type,
			version = EXCLUDED.version,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at
	`, workflow.ID, workflow.OrganizationID, workflow.Name, workflow.Status,
		workflow.Trigger.Type, workflow.Version, doc, workflow.CreatedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving workflow %s: %w", workflow.ID, err)
	}

	return nil
}

func (p *PostgresPersistence) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	var doc []byte

	err := p.db.QueryRowContext(ctx,
		`SELECT document FROM workflows WHERE id = $1 AND deleted_at IS NULL`, id,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("loading workflow %s: %w", id, err)
	}

	return unmarshalWorkflow(id, doc)
}

func (p *PostgresPersistence) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, document FROM workflows WHERE deleted_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	defer rows.Close()

	return scanWorkflows(rows)
}

func (p *PostgresPersistence) WorkflowsByTrigger(ctx context.Context, triggerType string) ([]*models.Workflow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, document FROM workflows
		WHERE trigger_type = $1 AND status = $2 AND deleted_at IS NULL
		ORDER BY created_at
	`, triggerType, models.WorkflowStatusActive)
	if err != nil {
		return nil, fmt.Errorf("listing workflows for trigger %s: %w", triggerType, err)
	}
	defer rows.Close()

	return scanWorkflows(rows)
}

func (p *PostgresPersistence) DeleteWorkflow(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx,
		`UPDATE workflows SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("deleting workflow %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return fmt.Errorf("workflow %s: %w", id, ErrWorkflowNotFound)
	}

	return nil
}

func (p *PostgresPersistence) CreateExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	execution.StoreVersion = 1

	doc, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("marshaling execution %s: %w", execution.ID, err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (id, workflow_id, contact_id, status, store_version, document, enrolled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, execution.ID, execution.WorkflowID, execution.ContactID, execution.Status,
		execution.StoreVersion, doc, execution.EnrolledAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("execution %s already exists", execution.ID)
		}

		return fmt.Errorf("creating execution %s: %w", execution.ID, err)
	}

	return nil
}

func (p *PostgresPersistence) ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	var (
		doc     []byte
		version int64
	)

	err := p.db.QueryRowContext(ctx,
		`SELECT document, store_version FROM workflow_executions WHERE id = $1`, id,
	).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, ErrExecutionNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("loading execution %s: %w", id, err)
	}

	execution, err := unmarshalExecution(id, doc)
	if err != nil {
		return nil, err
	}

	execution.StoreVersion = version

	return execution, nil
}

func (p *PostgresPersistence) UpdateExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	next := execution.StoreVersion + 1
	execution.StoreVersion = next

	doc, err := json.Marshal(execution)
	if err != nil {
		execution.StoreVersion = next - 1

		return fmt.Errorf("marshaling execution %s: %w", execution.ID, err)
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET status = $1, store_version = $2, document = $3, updated_at = NOW()
		WHERE id = $4 AND store_version = $5
	`, execution.Status, next, doc, execution.ID, next-1)
	if err != nil {
		execution.StoreVersion = next - 1

		return fmt.Errorf("updating execution %s: %w", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		execution.StoreVersion = next - 1

		return err
	}

	if affected == 0 {
		execution.StoreVersion = next - 1

		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM workflow_executions WHERE id = $1)`, execution.ID,
		).Scan(&exists); err == nil && !exists {
			return fmt.Errorf("execution %s: %w", execution.ID, ErrExecutionNotFound)
		}

		return fmt.Errorf("execution %s: %w", execution.ID, ErrVersionConflict)
	}

	return nil
}

func (p *PostgresPersistence) ExecutionsByWorkflow(ctx context.Context, workflowID string, status *models.ExecutionStatus) ([]*models.WorkflowExecution, error) {
	query := `SELECT id, document, store_version FROM workflow_executions WHERE workflow_id = $1`
	args := []any{workflowID}

	if status != nil {
		query += ` AND status = $2`

		args = append(args, *status)
	}

	query += ` ORDER BY enrolled_at`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing executions for workflow %s: %w", workflowID, err)
	}
	defer rows.Close()

	return scanExecutions(rows)
}

func (p *PostgresPersistence) ExecutionsByContact(ctx context.Context, workflowID, contactID string, status *models.ExecutionStatus) ([]*models.WorkflowExecution, error) {
	query := `SELECT id, document, store_version FROM workflow_executions WHERE workflow_id = $1 AND contact_id = $2`
	args := []any{workflowID, contactID}

	if status != nil {
		query += ` AND status = $3`

		args = append(args, *status)
	}

	query += ` ORDER BY enrolled_at`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing executions for contact %s: %w", contactID, err)
	}
	defer rows.Close()

	return scanExecutions(rows)
}

func (p *PostgresPersistence) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *PostgresPersistence) Close(_ context.Context) error {
	if p.db == nil {
		return nil
	}

	if err := p.db.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	return nil
}

func scanWorkflows(rows *sql.Rows) ([]*models.Workflow, error) {
	var workflows []*models.Workflow

	for rows.Next() {
		var (
			id  string
			doc []byte
		)

		if err := rows.Scan(&id, &doc); err != nil {
			return nil, err
		}

		workflow, err := unmarshalWorkflow(id, doc)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	return workflows, rows.Err()
}

func scanExecutions(rows *sql.Rows) ([]*models.WorkflowExecution, error) {
	var executions []*models.WorkflowExecution

	for rows.Next() {
		var (
			id      string
			doc     []byte
			version int64
		)

		if err := rows.Scan(&id, &doc, &version); err != nil {
			return nil, err
		}

		execution, err := unmarshalExecution(id, doc)
		if err != nil {
			return nil, err
		}

		execution.StoreVersion = version
		executions = append(executions, execution)
	}

	return executions, rows.Err()
}

func unmarshalWorkflow(id string, doc []byte) (*models.Workflow, error) {
	workflow := &models.Workflow{}
	if err := json.Unmarshal(doc, workflow); err != nil {
		return nil, fmt.Errorf("unmarshaling workflow %s: %w", id, err)
	}

	return workflow, nil
}

func unmarshalExecution(id string, doc []byte) (*models.WorkflowExecution, error) {
	execution := &models.WorkflowExecution{}
	if err := json.Unmarshal(doc, execution); err != nil {
		return nil, fmt.Errorf("unmarshaling execution %s: %w", id, err)
	}

	return execution, nil
}
