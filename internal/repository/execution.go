package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/core"
	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/domain"
)

const executionColumns = ` id, tenant_id, workflow_id, client_id, status, current_node_id, execution_log,
		trigger_type, next_run_at, error_message, completed_at, created, modified `

type ExecutionRepository struct {
	db    DBTX
	clock core.Clock
}

func NewExecutionRepository(db DBTX, clock core.Clock) *ExecutionRepository {
	return &ExecutionRepository{db: db, clock: clock}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*domain.WorkflowExecution, error) {
	var e domain.WorkflowExecution
	var status, log string
	err := row.Scan(
		&e.ID,
		&e.TenantID,
		&e.WorkflowID,
		&e.ClientID,
		&status,
		&e.CurrentNodeID,
		&log,
		&e.TriggerType,
		&e.NextRunAt,
		&e.ErrorMessage,
		&e.CompletedAt,
		&e.Created,
		&e.Modified,
	)
	if err != nil {
		return nil, err
	}
	e.Status = domain.ExecutionStatus(status)
	if err := json.Unmarshal([]byte(log), &e.ExecutionLog); err != nil {
		return nil, fmt.Errorf("execution %s: decode log: %w", e.ID, err)
	}
	return &e, nil
}

func (r *ExecutionRepository) queryExecutions(ctx context.Context, query string, args ...any) ([]domain.WorkflowExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WorkflowExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func encodeLog(log []domain.LogEntry) (string, error) {
	if log == nil {
		log = []domain.LogEntry{}
	}
	b, err := json.Marshal(log)
	if err != nil {
		return "", fmt.Errorf("marshal execution log: %w", err)
	}
	return string(b), nil
}

// Create inserts a new execution. A second running or waiting execution for the same
// workflow and client fails with ErrConflict where the schema enforces it.
func (r *ExecutionRepository) Create(ctx context.Context, e *domain.WorkflowExecution) error {
	log, err := encodeLog(e.ExecutionLog)
	if err != nil {
		return err
	}
	query := `INSERT INTO workflow_executions (` + executionColumns + `) VALUES (` + placeholders(1, 13) + `)`
	_, err = r.db.ExecContext(ctx, query,
		e.ID, e.TenantID, e.WorkflowID, e.ClientID, string(e.Status), e.CurrentNodeID, log, e.TriggerType,
		formatDateInDatabaseNull(e.NextRunAt), nullString(e.ErrorMessage), formatDateInDatabaseNull(e.CompletedAt),
		formatDateInDatabase(e.Created), formatDateInDatabase(e.Modified),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("execution for workflow %s and client %s: %w", e.WorkflowID, e.ClientID, ErrConflict)
		}
		return err
	}
	return nil
}

func (r *ExecutionRepository) FindByID(ctx context.Context, id string) (*domain.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE id = ` + placeholder(1)
	e, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "execution", id)
	}
	return e, nil
}

// FindActive returns the running or waiting execution of workflowID for clientID.
func (r *ExecutionRepository) FindActive(ctx context.Context, workflowID string, clientID string) (*domain.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions
		WHERE workflow_id = ` + placeholder(1) + ` AND client_id = ` + placeholder(2) + `
		  AND status IN ('running', 'waiting')
		ORDER BY created DESC` + limitClause(3)
	e, err := scanExecution(r.db.QueryRowContext(ctx, query, workflowID, clientID, 1))
	if err != nil {
		return nil, notFound(err, "active execution for client", clientID)
	}
	return e, nil
}

// UpdateCurrentNode records the node about to be evaluated.
func (r *ExecutionRepository) UpdateCurrentNode(ctx context.Context, id string, nodeID string) error {
	query := `
		UPDATE workflow_executions
		SET current_node_id = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2)
	_, err := r.db.ExecContext(ctx, query, nodeID, id)
	return err
}

// Update writes every mutable field of e.
func (r *ExecutionRepository) Update(ctx context.Context, e *domain.WorkflowExecution) error {
	log, err := encodeLog(e.ExecutionLog)
	if err != nil {
		return err
	}
	query := `
		UPDATE workflow_executions
		SET status = ` + placeholder(1) + `, current_node_id = ` + placeholder(2) + `, execution_log = ` + placeholder(3) + `,
		    trigger_type = ` + placeholder(4) + `, next_run_at = ` + placeholder(5) + `, error_message = ` + placeholder(6) + `,
		    completed_at = ` + placeholder(7) + `, modified = ` + placeholder(8) + `
		WHERE id = ` + placeholder(9)
	_, err = r.db.ExecContext(ctx, query,
		string(e.Status), e.CurrentNodeID, log, e.TriggerType, formatDateInDatabaseNull(e.NextRunAt),
		nullString(e.ErrorMessage), formatDateInDatabaseNull(e.CompletedAt), formatDateInDatabase(e.Modified), e.ID,
	)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("execution %s: %w", e.ID, ErrConflict)
	}
	return err
}

// FindDue returns waiting executions whose next_run_at is not after now, oldest first.
func (r *ExecutionRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]domain.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions
		WHERE status = 'waiting' AND next_run_at IS NOT NULL AND ` + compareDate("next_run_at", "<=", now) + `
		ORDER BY next_run_at ASC` + limitClause(1)
	return r.queryExecutions(ctx, query, limit)
}

// Claim moves a waiting execution to running if nobody modified it since it was read.
func (r *ExecutionRepository) Claim(ctx context.Context, id string, modified time.Time) bool {
	query := `
		UPDATE workflow_executions
		SET status = 'running', modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(1) + ` AND modified = ` + placeholder(2) + ` AND status = 'waiting'`
	res, err := r.db.ExecContext(ctx, query, id, formatDateInDatabase(modified))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to claim execution", "error", err, "id", id, "modified", modified)
		return false
	}
	return rowsAffectedOne(res, nil)
}

// FindStuck returns running executions not modified since the given instant.
func (r *ExecutionRepository) FindStuck(ctx context.Context, notModifiedSince time.Time, limit int) ([]domain.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions
		WHERE status = 'running' AND ` + compareDate("modified", "<", notModifiedSince) + `
		ORDER BY modified ASC` + limitClause(1)
	return r.queryExecutions(ctx, query, limit)
}

// Release puts a stuck running execution back to waiting with the given resume time.
func (r *ExecutionRepository) Release(ctx context.Context, id string, modified time.Time, nextRunAt time.Time) bool {
	query := `
		UPDATE workflow_executions
		SET status = 'waiting', next_run_at = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + ` AND modified = ` + placeholder(3) + ` AND status = 'running'`
	res, err := r.db.ExecContext(ctx, query, formatDateInDatabase(nextRunAt), id, formatDateInDatabase(modified))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to release execution", "error", err, "id", id, "modified", modified)
		return false
	}
	return rowsAffectedOne(res, nil)
}

// ListByClient returns the executions of a client, newest first.
func (r *ExecutionRepository) ListByClient(ctx context.Context, clientID string, limit int) ([]domain.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions
		WHERE client_id = ` + placeholder(1) + `
		ORDER BY created DESC` + limitClause(2)
	return r.queryExecutions(ctx, query, clientID, limit)
}
