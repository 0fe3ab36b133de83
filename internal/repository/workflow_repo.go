package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/expenseflow/expenseflow/internal/models"
	"go.uber.org/zap"
)

// WorkflowRepository handles approval workflow templates and their steps
type WorkflowRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *sql.DB, logger *zap.Logger) *WorkflowRepository {
	return &WorkflowRepository{
		db:     db,
		logger: logger,
	}
}

const workflowColumns = `id, company_id, name, is_active, created_at`
const stepColumns = `id, workflow_id, approver_id, step_order, created_at`

// Create inserts a new workflow
func (r *WorkflowRepository) Create(ctx context.Context, workflow *models.ApprovalWorkflow) error {
	query := `INSERT INTO approval_workflows (company_id, name, is_active, created_at) VALUES (?, ?, ?, ?)`

	workflow.CreatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query, workflow.CompanyID, workflow.Name, workflow.IsActive, workflow.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create workflow", zap.Error(err))
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	workflow.ID = id
	return nil
}

// GetByID retrieves a workflow by ID, returning nil when absent
func (r *WorkflowRepository) GetByID(ctx context.Context, id int64) (*models.ApprovalWorkflow, error) {
	query := fmt.Sprintf(`SELECT %s FROM approval_workflows WHERE id = ?`, workflowColumns)

	var workflow models.ApprovalWorkflow
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&workflow.ID,
		&workflow.CompanyID,
		&workflow.Name,
		&workflow.IsActive,
		&workflow.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get workflow by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return &workflow, nil
}

// GetActiveByCompany retrieves the company's active workflow, newest first,
// returning nil when the company has none
func (r *WorkflowRepository) GetActiveByCompany(ctx context.Context, tx *sql.Tx, companyID int64) (*models.ApprovalWorkflow, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM approval_workflows
		WHERE company_id = ? AND is_active = 1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, workflowColumns)

	var workflow models.ApprovalWorkflow
	err := dbOrTx(r.db, tx).QueryRowContext(ctx, query, companyID).Scan(
		&workflow.ID,
		&workflow.CompanyID,
		&workflow.Name,
		&workflow.IsActive,
		&workflow.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get active workflow", zap.Int64("company_id", companyID), zap.Error(err))
		return nil, fmt.Errorf("failed to get active workflow: %w", err)
	}
	return &workflow, nil
}

// List retrieves workflows, optionally filtered by company
func (r *WorkflowRepository) List(ctx context.Context, companyID *int64, limit, offset int) ([]*models.ApprovalWorkflow, error) {
	query := fmt.Sprintf(`SELECT %s FROM approval_workflows`, workflowColumns)
	var args []interface{}

	if companyID != nil {
		query += " WHERE company_id = ?"
		args = append(args, *companyID)
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list workflows", zap.Error(err))
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.ApprovalWorkflow
	for rows.Next() {
		var workflow models.ApprovalWorkflow
		err := rows.Scan(
			&workflow.ID,
			&workflow.CompanyID,
			&workflow.Name,
			&workflow.IsActive,
			&workflow.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, &workflow)
	}
	return workflows, rows.Err()
}

// Update saves a workflow record
func (r *WorkflowRepository) Update(ctx context.Context, workflow *models.ApprovalWorkflow) error {
	query := `UPDATE approval_workflows SET name = ?, is_active = ? WHERE id = ?`

	_, err := r.db.ExecContext(ctx, query, workflow.Name, workflow.IsActive, workflow.ID)
	if err != nil {
		r.logger.Error("Failed to update workflow", zap.Int64("id", workflow.ID), zap.Error(err))
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	return nil
}

// Delete removes a workflow; its steps cascade
func (r *WorkflowRepository) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM approval_workflows WHERE id = ?`, id)
	if err != nil {
		r.logger.Error("Failed to delete workflow", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to delete workflow: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// CreateStep inserts a workflow step. When stepOrder is zero the next free
// order (max+1) is assigned inside the same transaction, so two concurrent
// auto-assigned inserts cannot both take the same slot.
func (r *WorkflowRepository) CreateStep(ctx context.Context, step *models.ApprovalStep) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if step.StepOrder == 0 {
		var maxOrder sql.NullInt64
		err := tx.QueryRowContext(ctx,
			`SELECT MAX(step_order) FROM approval_steps WHERE workflow_id = ?`,
			step.WorkflowID,
		).Scan(&maxOrder)
		if err != nil {
			return fmt.Errorf("failed to get max step order: %w", err)
		}
		step.StepOrder = int(maxOrder.Int64) + 1
	}

	step.CreatedAt = time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO approval_steps (workflow_id, approver_id, step_order, created_at) VALUES (?, ?, ?, ?)`,
		step.WorkflowID,
		step.ApproverID,
		step.StepOrder,
		step.CreatedAt,
	)
	if err != nil {
		if !IsUniqueViolation(err) {
			r.logger.Error("Failed to create step",
				zap.Int64("workflow_id", step.WorkflowID),
				zap.Int("step_order", step.StepOrder),
				zap.Error(err))
		}
		return fmt.Errorf("failed to create step: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit step: %w", err)
	}

	step.ID = id
	return nil
}

// GetStep retrieves a step by ID, returning nil when absent
func (r *WorkflowRepository) GetStep(ctx context.Context, id int64) (*models.ApprovalStep, error) {
	query := fmt.Sprintf(`SELECT %s FROM approval_steps WHERE id = ?`, stepColumns)

	var step models.ApprovalStep
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&step.ID,
		&step.WorkflowID,
		&step.ApproverID,
		&step.StepOrder,
		&step.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get step by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get step: %w", err)
	}
	return &step, nil
}

// ListSteps retrieves a workflow's steps ordered by step_order ascending
func (r *WorkflowRepository) ListSteps(ctx context.Context, tx *sql.Tx, workflowID int64) ([]*models.ApprovalStep, error) {
	query := fmt.Sprintf(`SELECT %s FROM approval_steps WHERE workflow_id = ? ORDER BY step_order`, stepColumns)

	rows, err := dbOrTx(r.db, tx).QueryContext(ctx, query, workflowID)
	if err != nil {
		r.logger.Error("Failed to list steps", zap.Int64("workflow_id", workflowID), zap.Error(err))
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var steps []*models.ApprovalStep
	for rows.Next() {
		var step models.ApprovalStep
		err := rows.Scan(
			&step.ID,
			&step.WorkflowID,
			&step.ApproverID,
			&step.StepOrder,
			&step.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps = append(steps, &step)
	}
	return steps, rows.Err()
}

// UpdateStep saves a step's approver and order
func (r *WorkflowRepository) UpdateStep(ctx context.Context, step *models.ApprovalStep) error {
	query := `UPDATE approval_steps SET approver_id = ?, step_order = ? WHERE id = ?`

	_, err := r.db.ExecContext(ctx, query, step.ApproverID, step.StepOrder, step.ID)
	if err != nil {
		if !IsUniqueViolation(err) {
			r.logger.Error("Failed to update step", zap.Int64("id", step.ID), zap.Error(err))
		}
		return fmt.Errorf("failed to update step: %w", err)
	}
	return nil
}

// DeleteStep removes a step
func (r *WorkflowRepository) DeleteStep(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM approval_steps WHERE id = ?`, id)
	if err != nil {
		r.logger.Error("Failed to delete step", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to delete step: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}
