package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/expenseflow/expenseflow/internal/models"
	"github.com/expenseflow/expenseflow/migrations"
	"github.com/expenseflow/expenseflow/pkg/database"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zap.NewNop()
	db, err := database.New(database.Config{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.NewMigrator(db, logger).Run(migrations.FS))
	return db
}

// seedExpenseFixture inserts a company, two users, and one pending expense,
// returning the user and expense ids.
func seedExpenseFixture(t *testing.T, db *database.DB) (approverID, employeeID, expenseID int64) {
	t.Helper()
	res, err := db.Exec(`INSERT INTO companies (name, country, currency) VALUES ('Acme', 'US', 'USD')`)
	require.NoError(t, err)
	companyID, err := res.LastInsertId()
	require.NoError(t, err)

	res, err = db.Exec(
		`INSERT INTO users (email, name, role, company_id, is_manager_approver) VALUES ('mgr@acme.test', 'mgr', 'manager', ?, 1)`,
		companyID)
	require.NoError(t, err)
	approverID, err = res.LastInsertId()
	require.NoError(t, err)

	res, err = db.Exec(
		`INSERT INTO users (email, name, role, company_id, manager_id) VALUES ('emp@acme.test', 'emp', 'employee', ?, ?)`,
		companyID, approverID)
	require.NoError(t, err)
	employeeID, err = res.LastInsertId()
	require.NoError(t, err)

	res, err = db.Exec(
		`INSERT INTO expenses (employee_id, company_id, amount, currency, converted_amount, category, expense_date, status, current_approval_step)
		 VALUES (?, ?, 100, 'USD', 100, 'Travel', '2024-03-15', 'pending', 1)`,
		employeeID, companyID)
	require.NoError(t, err)
	expenseID, err = res.LastInsertId()
	require.NoError(t, err)

	return approverID, employeeID, expenseID
}

func TestApprovalRepository_UniqueStepConstraint(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewApprovalRepository(db.DB, zap.NewNop())

	approverID, _, expenseID := seedExpenseFixture(t, db)

	first := &models.ExpenseApproval{ExpenseID: expenseID, ApproverID: approverID, StepOrder: 1, Status: models.StatusPending}
	require.NoError(t, repo.Create(ctx, nil, first))
	assert.NotZero(t, first.ID)

	// Same expense, same step: the unique constraint refuses the duplicate.
	dup := &models.ExpenseApproval{ExpenseID: expenseID, ApproverID: approverID, StepOrder: 1, Status: models.StatusPending}
	err := repo.Create(ctx, nil, dup)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))

	// A different step is fine.
	second := &models.ExpenseApproval{ExpenseID: expenseID, ApproverID: approverID, StepOrder: 2, Status: models.StatusPending}
	require.NoError(t, repo.Create(ctx, nil, second))
}

func TestApprovalRepository_DecideGuardsPendingStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewApprovalRepository(db.DB, zap.NewNop())

	approverID, _, expenseID := seedExpenseFixture(t, db)

	row := &models.ExpenseApproval{ExpenseID: expenseID, ApproverID: approverID, StepOrder: 1, Status: models.StatusPending}
	require.NoError(t, repo.Create(ctx, nil, row))

	ok, err := repo.Decide(ctx, nil, row.ID, models.StatusApproved, "fine", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)

	// The conditional update refuses a second decision on the same row.
	ok, err = repo.Decide(ctx, nil, row.ID, models.StatusRejected, "", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := repo.GetByID(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, stored.Status)
	assert.Equal(t, "fine", stored.Comments)
	assert.NotNil(t, stored.ApprovedAt)
}

func TestIsUniqueViolation_PlainError(t *testing.T) {
	assert.False(t, IsUniqueViolation(errors.New("boom")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestExpenseRepository_ListFilters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewExpenseRepository(db.DB, zap.NewNop())

	_, employeeID, _ := seedExpenseFixture(t, db)

	companyID := int64(1)
	created := &models.Expense{
		EmployeeID:      employeeID,
		CompanyID:       companyID,
		Amount:          40,
		Currency:        "USD",
		ConvertedAmount: 40,
		Category:        "Meals",
		Description:     "team lunch",
		ExpenseDate:     time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		Status:          models.StatusPending,
	}
	require.NoError(t, repo.Create(ctx, nil, created))

	byCategory, err := repo.List(ctx, models.ExpenseFilter{Category: "Meals", Limit: 10})
	require.NoError(t, err)
	require.Len(t, byCategory, 1)
	assert.Equal(t, created.ID, byCategory[0].ID)

	bySearch, err := repo.List(ctx, models.ExpenseFilter{Search: "lunch", Limit: 10})
	require.NoError(t, err)
	require.Len(t, bySearch, 1)

	byEmployee, err := repo.List(ctx, models.ExpenseFilter{EmployeeID: &employeeID, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, byEmployee, 2)

	none, err := repo.List(ctx, models.ExpenseFilter{Status: models.StatusApproved, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestWorkflowRepository_CreateStepAutoAssignsOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewWorkflowRepository(db.DB, zap.NewNop())

	approverID, _, _ := seedExpenseFixture(t, db)

	wf := &models.ApprovalWorkflow{CompanyID: 1, Name: "Standard", IsActive: true}
	require.NoError(t, repo.Create(ctx, wf))

	first := &models.ApprovalStep{WorkflowID: wf.ID, ApproverID: approverID, StepOrder: 3}
	require.NoError(t, repo.CreateStep(ctx, first))

	auto := &models.ApprovalStep{WorkflowID: wf.ID, ApproverID: approverID}
	require.NoError(t, repo.CreateStep(ctx, auto))
	assert.Equal(t, 4, auto.StepOrder)
}
