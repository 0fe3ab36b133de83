package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/expenseflow/expenseflow/internal/models"
	"go.uber.org/zap"
)

// ApprovalRepository handles the expense approval ledger: one row per
// (expense, step), recording who was asked and what they decided.
type ApprovalRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewApprovalRepository creates a new approval ledger repository
func NewApprovalRepository(db *sql.DB, logger *zap.Logger) *ApprovalRepository {
	return &ApprovalRepository{
		db:     db,
		logger: logger,
	}
}

const approvalColumns = `id, expense_id, approver_id, step_order, status, comments, approved_at, created_at`

// Create appends a ledger row. The UNIQUE(expense_id, step_order) constraint
// rejects a second row for the same step; callers detect that with
// IsUniqueViolation.
func (r *ApprovalRepository) Create(ctx context.Context, tx *sql.Tx, approval *models.ExpenseApproval) error {
	query := `
		INSERT INTO expense_approvals (
			expense_id, approver_id, step_order, status, comments, approved_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	approval.CreatedAt = time.Now().UTC()
	result, err := dbOrTx(r.db, tx).ExecContext(ctx, query,
		approval.ExpenseID,
		approval.ApproverID,
		approval.StepOrder,
		approval.Status,
		nullString(approval.Comments),
		approval.ApprovedAt,
		approval.CreatedAt,
	)
	if err != nil {
		if !IsUniqueViolation(err) {
			r.logger.Error("Failed to create approval",
				zap.Int64("expense_id", approval.ExpenseID),
				zap.Int("step_order", approval.StepOrder),
				zap.Error(err))
		}
		return fmt.Errorf("failed to create approval: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	approval.ID = id
	return nil
}

// GetByExpenseAndStep retrieves the ledger row for one step of an expense,
// returning nil when absent
func (r *ApprovalRepository) GetByExpenseAndStep(ctx context.Context, tx *sql.Tx, expenseID int64, stepOrder int) (*models.ExpenseApproval, error) {
	query := fmt.Sprintf(`SELECT %s FROM expense_approvals WHERE expense_id = ? AND step_order = ?`, approvalColumns)

	approval, err := scanApprovalRow(dbOrTx(r.db, tx).QueryRowContext(ctx, query, expenseID, stepOrder))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get approval",
			zap.Int64("expense_id", expenseID),
			zap.Int("step_order", stepOrder),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	return approval, nil
}

// GetByID retrieves a ledger row by ID, returning nil when absent
func (r *ApprovalRepository) GetByID(ctx context.Context, id int64) (*models.ExpenseApproval, error) {
	query := fmt.Sprintf(`SELECT %s FROM expense_approvals WHERE id = ?`, approvalColumns)

	approval, err := scanApprovalRow(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get approval by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	return approval, nil
}

// ListByExpense retrieves all ledger rows for an expense in step order
func (r *ApprovalRepository) ListByExpense(ctx context.Context, tx *sql.Tx, expenseID int64) ([]*models.ExpenseApproval, error) {
	query := fmt.Sprintf(`SELECT %s FROM expense_approvals WHERE expense_id = ? ORDER BY step_order`, approvalColumns)

	rows, err := dbOrTx(r.db, tx).QueryContext(ctx, query, expenseID)
	if err != nil {
		r.logger.Error("Failed to list approvals", zap.Int64("expense_id", expenseID), zap.Error(err))
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	return collectApprovals(rows)
}

// Decide marks a pending ledger row approved or rejected. It returns false
// when the row was no longer pending, which is how a concurrent duplicate
// decision is detected.
func (r *ApprovalRepository) Decide(ctx context.Context, tx *sql.Tx, id int64, status, comments string, decidedAt time.Time) (bool, error) {
	query := `
		UPDATE expense_approvals
		SET status = ?, comments = ?, approved_at = ?
		WHERE id = ? AND status = 'pending'
	`

	result, err := dbOrTx(r.db, tx).ExecContext(ctx, query, status, nullString(comments), decidedAt, id)
	if err != nil {
		r.logger.Error("Failed to record decision", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to record decision: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// List retrieves ledger rows matching the filter
func (r *ApprovalRepository) List(ctx context.Context, filter models.ApprovalFilter) ([]*models.ExpenseApproval, error) {
	var conditions []string
	var args []interface{}

	if filter.ExpenseID != nil {
		conditions = append(conditions, "expense_id = ?")
		args = append(args, *filter.ExpenseID)
	}
	if filter.ApproverID != nil {
		conditions = append(conditions, "approver_id = ?")
		args = append(args, *filter.ApproverID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	query := fmt.Sprintf(`SELECT %s FROM expense_approvals`, approvalColumns)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list approvals", zap.Error(err))
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	return collectApprovals(rows)
}

// ListPendingForApprover retrieves the pending ledger rows assigned to an
// approver, joined with their expenses, newest expense first.
func (r *ApprovalRepository) ListPendingForApprover(ctx context.Context, approverID int64, category string, limit, offset int) ([]*models.PendingApproval, error) {
	query := `
		SELECT a.id, a.expense_id, a.approver_id, a.step_order, a.status, a.comments,
			a.approved_at, a.created_at,
			e.id, e.employee_id, e.company_id, e.amount, e.currency, e.converted_amount,
			e.category, e.description, e.expense_date, e.status, e.current_approver_id,
			e.current_approval_step, e.created_at, e.updated_at
		FROM expense_approvals a
		INNER JOIN expenses e ON e.id = a.expense_id
		WHERE a.approver_id = ? AND a.status = 'pending'`
	args := []interface{}{approverID}

	if category != "" {
		query += " AND e.category LIKE ?"
		args = append(args, "%"+category+"%")
	}
	query += " ORDER BY e.created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list pending approvals", zap.Int64("approver_id", approverID), zap.Error(err))
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer rows.Close()

	var results []*models.PendingApproval
	for rows.Next() {
		var item models.PendingApproval
		var comments, description sql.NullString
		var approvedAt sql.NullTime
		var currentApproverID sql.NullInt64

		err := rows.Scan(
			&item.Approval.ID,
			&item.Approval.ExpenseID,
			&item.Approval.ApproverID,
			&item.Approval.StepOrder,
			&item.Approval.Status,
			&comments,
			&approvedAt,
			&item.Approval.CreatedAt,
			&item.Expense.ID,
			&item.Expense.EmployeeID,
			&item.Expense.CompanyID,
			&item.Expense.Amount,
			&item.Expense.Currency,
			&item.Expense.ConvertedAmount,
			&item.Expense.Category,
			&description,
			&item.Expense.ExpenseDate,
			&item.Expense.Status,
			&currentApproverID,
			&item.Expense.CurrentApprovalStep,
			&item.Expense.CreatedAt,
			&item.Expense.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending approval: %w", err)
		}

		item.Approval.Comments = comments.String
		if approvedAt.Valid {
			item.Approval.ApprovedAt = &approvedAt.Time
		}
		item.Expense.Description = description.String
		if currentApproverID.Valid {
			item.Expense.CurrentApproverID = &currentApproverID.Int64
		}
		results = append(results, &item)
	}
	return results, rows.Err()
}

func scanApprovalRow(row *sql.Row) (*models.ExpenseApproval, error) {
	var approval models.ExpenseApproval
	var comments sql.NullString
	var approvedAt sql.NullTime

	err := row.Scan(
		&approval.ID,
		&approval.ExpenseID,
		&approval.ApproverID,
		&approval.StepOrder,
		&approval.Status,
		&comments,
		&approvedAt,
		&approval.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	approval.Comments = comments.String
	if approvedAt.Valid {
		approval.ApprovedAt = &approvedAt.Time
	}
	return &approval, nil
}

func collectApprovals(rows *sql.Rows) ([]*models.ExpenseApproval, error) {
	var approvals []*models.ExpenseApproval
	for rows.Next() {
		var approval models.ExpenseApproval
		var comments sql.NullString
		var approvedAt sql.NullTime

		err := rows.Scan(
			&approval.ID,
			&approval.ExpenseID,
			&approval.ApproverID,
			&approval.StepOrder,
			&approval.Status,
			&comments,
			&approvedAt,
			&approval.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}

		approval.Comments = comments.String
		if approvedAt.Valid {
			approval.ApprovedAt = &approvedAt.Time
		}
		approvals = append(approvals, &approval)
	}
	return approvals, rows.Err()
}
