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

// ExpenseRepository handles expense database operations
type ExpenseRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewExpenseRepository creates a new expense repository
func NewExpenseRepository(db *sql.DB, logger *zap.Logger) *ExpenseRepository {
	return &ExpenseRepository{
		db:     db,
		logger: logger,
	}
}

const expenseColumns = `id, employee_id, company_id, amount, currency, converted_amount,
	category, description, expense_date, status, current_approver_id,
	current_approval_step, created_at, updated_at`

// Create inserts a new expense
func (r *ExpenseRepository) Create(ctx context.Context, tx *sql.Tx, expense *models.Expense) error {
	query := `
		INSERT INTO expenses (
			employee_id, company_id, amount, currency, converted_amount,
			category, description, expense_date, status,
			current_approver_id, current_approval_step, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	expense.CreatedAt = now
	expense.UpdatedAt = now

	result, err := dbOrTx(r.db, tx).ExecContext(ctx, query,
		expense.EmployeeID,
		expense.CompanyID,
		expense.Amount,
		expense.Currency,
		expense.ConvertedAmount,
		expense.Category,
		nullString(expense.Description),
		expense.ExpenseDate,
		expense.Status,
		expense.CurrentApproverID,
		expense.CurrentApprovalStep,
		expense.CreatedAt,
		expense.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create expense", zap.Error(err))
		return fmt.Errorf("failed to create expense: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	expense.ID = id
	return nil
}

// GetByID retrieves an expense by ID, returning nil when absent
func (r *ExpenseRepository) GetByID(ctx context.Context, tx *sql.Tx, id int64) (*models.Expense, error) {
	query := fmt.Sprintf(`SELECT %s FROM expenses WHERE id = ?`, expenseColumns)

	expense, err := scanExpenseRow(dbOrTx(r.db, tx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get expense by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}
	return expense, nil
}

// SetChainPointer moves the expense to the given step and approver
func (r *ExpenseRepository) SetChainPointer(ctx context.Context, tx *sql.Tx, id int64, step int, approverID int64) error {
	query := `
		UPDATE expenses
		SET current_approver_id = ?, current_approval_step = ?, updated_at = ?
		WHERE id = ?
	`

	_, err := dbOrTx(r.db, tx).ExecContext(ctx, query, approverID, step, time.Now().UTC(), id)
	if err != nil {
		r.logger.Error("Failed to set chain pointer", zap.Int64("id", id), zap.Int("step", step), zap.Error(err))
		return fmt.Errorf("failed to set chain pointer: %w", err)
	}
	return nil
}

// Finalize sets a terminal status and clears the current approver
func (r *ExpenseRepository) Finalize(ctx context.Context, tx *sql.Tx, id int64, status string) error {
	query := `
		UPDATE expenses
		SET status = ?, current_approver_id = NULL, updated_at = ?
		WHERE id = ?
	`

	_, err := dbOrTx(r.db, tx).ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		r.logger.Error("Failed to finalize expense", zap.Int64("id", id), zap.String("status", status), zap.Error(err))
		return fmt.Errorf("failed to finalize expense: %w", err)
	}
	return nil
}

// Update saves the mutable (non-status) fields of an expense
func (r *ExpenseRepository) Update(ctx context.Context, expense *models.Expense) error {
	query := `
		UPDATE expenses
		SET amount = ?, currency = ?, converted_amount = ?, category = ?,
			description = ?, expense_date = ?, updated_at = ?
		WHERE id = ?
	`

	expense.UpdatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, query,
		expense.Amount,
		expense.Currency,
		expense.ConvertedAmount,
		expense.Category,
		nullString(expense.Description),
		expense.ExpenseDate,
		expense.UpdatedAt,
		expense.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update expense", zap.Int64("id", expense.ID), zap.Error(err))
		return fmt.Errorf("failed to update expense: %w", err)
	}
	return nil
}

// Delete removes an expense; ledger rows cascade
func (r *ExpenseRepository) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, id)
	if err != nil {
		r.logger.Error("Failed to delete expense", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to delete expense: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// List retrieves expenses matching the filter
func (r *ExpenseRepository) List(ctx context.Context, filter models.ExpenseFilter) ([]*models.Expense, error) {
	var conditions []string
	var args []interface{}

	if filter.EmployeeID != nil {
		conditions = append(conditions, "employee_id = ?")
		args = append(args, *filter.EmployeeID)
	}
	if filter.CompanyID != nil {
		conditions = append(conditions, "company_id = ?")
		args = append(args, *filter.CompanyID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.DateFrom != nil {
		conditions = append(conditions, "expense_date >= ?")
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		conditions = append(conditions, "expense_date <= ?")
		args = append(args, *filter.DateTo)
	}
	if filter.Search != "" {
		conditions = append(conditions, "(description LIKE ? OR category LIKE ?)")
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern)
	}

	query := fmt.Sprintf(`SELECT %s FROM expenses`, expenseColumns)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY " + sortColumn(filter.Sort) + " " + sortOrder(filter.Order)
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list expenses", zap.Error(err))
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []*models.Expense
	for rows.Next() {
		expense, err := scanExpenseRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, expense)
	}
	return expenses, rows.Err()
}

// sortColumn whitelists sortable columns; unknown values fall back to created_at
func sortColumn(sort string) string {
	switch sort {
	case "amount":
		return "amount"
	case "expense_date":
		return "expense_date"
	default:
		return "created_at"
	}
}

func sortOrder(order string) string {
	if order == "asc" {
		return "ASC"
	}
	return "DESC"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func scanExpenseRow(row *sql.Row) (*models.Expense, error) {
	var expense models.Expense
	var description sql.NullString
	var approverID sql.NullInt64

	err := row.Scan(
		&expense.ID,
		&expense.EmployeeID,
		&expense.CompanyID,
		&expense.Amount,
		&expense.Currency,
		&expense.ConvertedAmount,
		&expense.Category,
		&description,
		&expense.ExpenseDate,
		&expense.Status,
		&approverID,
		&expense.CurrentApprovalStep,
		&expense.CreatedAt,
		&expense.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	expense.Description = description.String
	if approverID.Valid {
		expense.CurrentApproverID = &approverID.Int64
	}
	return &expense, nil
}

func scanExpenseRows(rows *sql.Rows) (*models.Expense, error) {
	var expense models.Expense
	var description sql.NullString
	var approverID sql.NullInt64

	err := rows.Scan(
		&expense.ID,
		&expense.EmployeeID,
		&expense.CompanyID,
		&expense.Amount,
		&expense.Currency,
		&expense.ConvertedAmount,
		&expense.Category,
		&description,
		&expense.ExpenseDate,
		&expense.Status,
		&approverID,
		&expense.CurrentApprovalStep,
		&expense.CreatedAt,
		&expense.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	expense.Description = description.String
	if approverID.Valid {
		expense.CurrentApproverID = &approverID.Int64
	}
	return &expense, nil
}
