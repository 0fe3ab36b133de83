package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expenseflow/expenseflow/internal/apperror"
	"github.com/expenseflow/expenseflow/internal/models"
)

func validExpenseInput(employeeID, companyID int64) CreateExpenseInput {
	return CreateExpenseInput{
		EmployeeID:      employeeID,
		CompanyID:       companyID,
		Amount:          120.50,
		Currency:        "usd",
		ConvertedAmount: 120.50,
		Category:        "Travel",
		Description:     "Client visit",
		ExpenseDate:     time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestEngine_CreateExpense_ManagerChain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID := env.seedCompany(t)
	managerID := env.seedUser(t, "manager@acme.test", models.RoleManager, companyID, nil, true)
	employeeID := env.seedUser(t, "employee@acme.test", models.RoleEmployee, companyID, int64Ptr(managerID), false)

	expense, err := env.engine.CreateExpense(ctx, validExpenseInput(employeeID, companyID))
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, expense.Status)
	assert.Equal(t, 1, expense.CurrentApprovalStep)
	require.NotNil(t, expense.CurrentApproverID)
	assert.Equal(t, managerID, *expense.CurrentApproverID)
	assert.Equal(t, "USD", expense.Currency)

	entries, err := env.approvals.ListByExpense(ctx, nil, expense.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, managerID, entries[0].ApproverID)
	assert.Equal(t, 1, entries[0].StepOrder)
	assert.Equal(t, models.StatusPending, entries[0].Status)
}

func TestEngine_CreateExpense_NoChainStaysAtStepZero(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID := env.seedCompany(t)
	employeeID := env.seedUser(t, "solo@acme.test", models.RoleEmployee, companyID, nil, false)

	expense, err := env.engine.CreateExpense(ctx, validExpenseInput(employeeID, companyID))
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, expense.Status)
	assert.Equal(t, 0, expense.CurrentApprovalStep)
	assert.Nil(t, expense.CurrentApproverID)

	// No chain means no decision can ever be entered.
	_, err = env.engine.Decide(ctx, DecisionInput{
		ExpenseID:  expense.ID,
		ApproverID: employeeID,
		Decision:   models.DecisionApproved,
	})
	require.Error(t, err)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestEngine_CreateExpense_ManagerNotApproverIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID := env.seedCompany(t)
	managerID := env.seedUser(t, "manager@acme.test", models.RoleManager, companyID, nil, false)
	employeeID := env.seedUser(t, "employee@acme.test", models.RoleEmployee, companyID, int64Ptr(managerID), false)

	expense, err := env.engine.CreateExpense(ctx, validExpenseInput(employeeID, companyID))
	require.NoError(t, err)
	assert.Equal(t, 0, expense.CurrentApprovalStep)
}

func TestEngine_CreateExpense_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID := env.seedCompany(t)
	employeeID := env.seedUser(t, "employee@acme.test", models.RoleEmployee, companyID, nil, false)

	tests := []struct {
		name   string
		mutate func(*CreateExpenseInput)
	}{
		{name: "zero amount", mutate: func(in *CreateExpenseInput) { in.Amount = 0 }},
		{name: "negative amount", mutate: func(in *CreateExpenseInput) { in.Amount = -5 }},
		{name: "bad currency", mutate: func(in *CreateExpenseInput) { in.Currency = "DOLLARS" }},
		{name: "zero converted amount", mutate: func(in *CreateExpenseInput) { in.ConvertedAmount = 0 }},
		{name: "missing category", mutate: func(in *CreateExpenseInput) { in.Category = "  " }},
		{name: "missing expense date", mutate: func(in *CreateExpenseInput) { in.ExpenseDate = time.Time{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := validExpenseInput(employeeID, companyID)
			tt.mutate(&input)
			_, err := env.engine.CreateExpense(ctx, input)
			require.Error(t, err)
			assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
		})
	}
}

func TestEngine_CreateExpense_CompanyMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID := env.seedCompany(t)
	otherCompanyID := env.seedCompany(t)
	employeeID := env.seedUser(t, "employee@acme.test", models.RoleEmployee, companyID, nil, false)

	_, err := env.engine.CreateExpense(ctx, validExpenseInput(employeeID, otherCompanyID))
	require.Error(t, err)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	_, err = env.engine.CreateExpense(ctx, validExpenseInput(999, companyID))
	require.Error(t, err)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestEngine_Decide_SequentialUnanimousApproval(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID := env.seedCompany(t)
	managerID := env.seedUser(t, "manager@acme.test", models.RoleManager, companyID, nil, true)
	financeID := env.seedUser(t, "finance@acme.test", models.RoleManager, companyID, nil, false)
	directorID := env.seedUser(t, "director@acme.test", models.RoleAdmin, companyID, nil, false)
	employeeID := env.seedUser(t, "employee@acme.test", models.RoleEmployee, companyID, int64Ptr(managerID), false)
	env.seedWorkflow(t, companyID, financeID, directorID)

	expense, err := env.engine.CreateExpense(ctx, validExpenseInput(employeeID, companyID))
	require.NoError(t, err)
	require.Equal(t, managerID, *expense.CurrentApproverID)

	// Step 1: manager approves, chain advances to finance.
	result, err := env.engine.Decide(ctx, DecisionInput{
		ExpenseID: expense.ID, ApproverID: managerID, Decision: models.DecisionApproved, Comments: "ok",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, result.Expense.Status)
	assert.Equal(t, 2, result.Expense.CurrentApprovalStep)
	assert.Equal(t, financeID, *result.Expense.CurrentApproverID)

	// Step 2: finance approves, chain advances to director.
	result, err = env.engine.Decide(ctx, DecisionInput{
		ExpenseID: expense.ID, ApproverID: financeID, Decision: models.DecisionApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Expense.CurrentApprovalStep)
	assert.Equal(t, directorID, *result.Expense.CurrentApproverID)

	// Step 3: final approval finalizes the expense.
	result, err = env.engine.Decide(ctx, DecisionInput{
		ExpenseID: expense.ID, ApproverID: directorID, Decision: models.DecisionApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, result.Expense.Status)
	assert.Nil(t, result.Expense.CurrentApproverID)

	entries, err := env.approvals.ListByExpense(ctx, nil, expense.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, entry := range entries {
		assert.Equal(t, models.StatusApproved, entry.Status)
		assert.NotNil(t, entry.ApprovedAt)
	}
}

func TestEngine_Decide_RejectionFinalizesImmediately(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID := env.seedCompany(t)
	managerID := env.seedUser(t, "manager@acme.test", models.RoleManager, companyID, nil, true)
	financeID := env.seedUser(t, "finance@acme.test", models.RoleManager, companyID, nil, false)
	employeeID := env.seedUser(t, "employee@acme.test", models.RoleEmployee, companyID, int64Ptr(managerID), false)
	env.seedWorkflow(t, companyID, financeID)

	expense, err := env.engine.CreateExpense(ctx, validExpenseInput(employeeID, companyID))
	require.NoError(t, err)

	result, err := env.engine.Decide(ctx, DecisionInput{
		ExpenseID: expense.ID, ApproverID: managerID, Decision: models.DecisionRejected, Comments: "no receipt",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, result.Expense.Status)
	assert.Nil(t, result.Expense.CurrentApproverID)

	// The second step was never materialized.
	entries, err := env.approvals.ListByExpense(ctx, nil, expense.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.StatusRejected, entries[0].Status)
	assert.Equal(t, "no receipt", entries[0].Comments)
}

func TestEngine_Decide_AlreadyDecided(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID := env.seedCompany(t)
	managerID := env.seedUser(t, "manager@acme.test", models.RoleManager, companyID, nil, true)
	employeeID := env.seedUser(t, "employee@acme.test", models.RoleEmployee, companyID, int64Ptr(managerID), false)

	expense, err := env.engine.CreateExpense(ctx, validExpenseInput(employeeID, companyID))
	require.NoError(t, err)

	_, err = env.engine.Decide(ctx, DecisionInput{
		ExpenseID: expense.ID, ApproverID: managerID, Decision: models.DecisionApproved,
	})
	require.NoError(t, err)

	_, err = env.engine.Decide(ctx, DecisionInput{
		ExpenseID: expense.ID, ApproverID: managerID, Decision: models.DecisionRejected,
	})
	require.Error(t, err)
	assert.Equal(t, apperror.KindAlreadyDecided, apperror.KindOf(err))
}

func TestEngine_Decide_WrongApproverIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID := env.seedCompany(t)
	managerID := env.seedUser(t, "manager@acme.test", models.RoleManager, companyID, nil, true)
	intruderID := env.seedUser(t, "intruder@acme.test", models.RoleManager, companyID, nil, false)
	employeeID := env.seedUser(t, "employee@acme.test", models.RoleEmployee, companyID, int64Ptr(managerID), false)

	expense, err := env.engine.CreateExpense(ctx, validExpenseInput(employeeID, companyID))
	require.NoError(t, err)

	_, err = env.engine.Decide(ctx, DecisionInput{
		ExpenseID: expense.ID, ApproverID: intruderID, Decision: models.DecisionApproved,
	})
	require.Error(t, err)
	assert.Equal(t, apperror.KindForbidden, apperror.KindOf(err))
}

func TestEngine_Decide_StaleStep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID := env.seedCompany(t)
	managerID := env.seedUser(t, "manager@acme.test", models.RoleManager, companyID, nil, true)
	financeID := env.seedUser(t, "finance@acme.test", models.RoleManager, companyID, nil, false)
	employeeID := env.seedUser(t, "employee@acme.test", models.RoleEmployee, companyID, int64Ptr(managerID), false)
	env.seedWorkflow(t, companyID, financeID)

	expense, err := env.engine.CreateExpense(ctx, validExpenseInput(employeeID, companyID))
	require.NoError(t, err)

	_, err = env.engine.Decide(ctx, DecisionInput{
		ExpenseID: expense.ID, ApproverID: managerID, Decision: models.DecisionApproved, StepOrder: intPtr(1),
	})
	require.NoError(t, err)

	// The expense is now at step 2; acting on the stale step 1 view fails.
	_, err = env.engine.Decide(ctx, DecisionInput{
		ExpenseID: expense.ID, ApproverID: financeID, Decision: models.DecisionApproved, StepOrder: intPtr(1),
	})
	require.Error(t, err)
	assert.Equal(t, apperror.KindStaleStep, apperror.KindOf(err))

	// A step that does not exist yet is not stale, it is missing.
	_, err = env.engine.Decide(ctx, DecisionInput{
		ExpenseID: expense.ID, ApproverID: financeID, Decision: models.DecisionApproved, StepOrder: intPtr(5),
	})
	require.Error(t, err)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestEngine_Decide_PercentageRuleShortCircuits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID := env.seedCompany(t)
	managerID := env.seedUser(t, "manager@acme.test", models.RoleManager, companyID, nil, true)
	financeID := env.seedUser(t, "finance@acme.test", models.RoleManager, companyID, nil, false)
	directorID := env.seedUser(t, "director@acme.test", models.RoleAdmin, companyID, nil, false)
	employeeID := env.seedUser(t, "employee@acme.test", models.RoleEmployee, companyID, int64Ptr(managerID), false)
	env.seedWorkflow(t, companyID, financeID, directorID)
	env.seedRule(t, companyID, models.RuleTypePercentage, intPtr(50), nil)

	expense, err := env.engine.CreateExpense(ctx, validExpenseInput(employeeID, companyID))
	require.NoError(t, err)

	// 1 of 3 is 33%, below threshold: chain advances.
	result, err := env.engine.Decide(ctx, DecisionInput{
		ExpenseID: expense.ID, ApproverID: managerID, Decision: models.DecisionApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, result.Expense.Status)

	// 2 of 3 is 66%, threshold met: approved without asking the director.
	result, err = env.engine.Decide(ctx, DecisionInput{
		ExpenseID: expense.ID, ApproverID: financeID, Decision: models.DecisionApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, result.Expense.Status)

	entries, err := env.approvals.ListByExpense(ctx, nil, expense.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestEngine_Decide_PercentageRuleRejectsWhenUnreachable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID := env.seedCompany(t)
	managerID := env.seedUser(t, "manager@acme.test", models.RoleManager, companyID, nil, true)
	financeID := env.seedUser(t, "finance@acme.test", models.RoleManager, companyID, nil, false)
	employeeID := env.seedUser(t, "employee@acme.test", models.RoleEmployee, companyID, int64Ptr(managerID), false)
	env.seedWorkflow(t, companyID, financeID)
	env.seedRule(t, companyID, models.RuleTypePercentage, intPtr(100), nil)

	expense, err := env.engine.CreateExpense(ctx, validExpenseInput(employeeID, companyID))
	require.NoError(t, err)

	// Unanimity required; the first rejection makes it unreachable.
	result, err := env.engine.Decide(ctx, DecisionInput{
		ExpenseID: expense.ID, ApproverID: managerID, Decision: models.DecisionRejected,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, result.Expense.Status)
}

func TestEngine_Decide_SpecificApproverRule(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID := env.seedCompany(t)
	managerID := env.seedUser(t, "manager@acme.test", models.RoleManager, companyID, nil, true)
	cfoID := env.seedUser(t, "cfo@acme.test", models.RoleAdmin, companyID, nil, false)
	employeeID := env.seedUser(t, "employee@acme.test", models.RoleEmployee, companyID, int64Ptr(managerID), false)
	env.seedRule(t, companyID, models.RuleTypeSpecificApprover, nil, int64Ptr(cfoID))

	expense, err := env.engine.CreateExpense(ctx, validExpenseInput(employeeID, companyID))
	require.NoError(t, err)

	// The manager's approval is advisory; the chain advances to the CFO,
	// appended because the rule designates them.
	result, err := env.engine.Decide(ctx, DecisionInput{
		ExpenseID: expense.ID, ApproverID: managerID, Decision: models.DecisionApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, result.Expense.Status)
	assert.Equal(t, cfoID, *result.Expense.CurrentApproverID)

	result, err = env.engine.Decide(ctx, DecisionInput{
		ExpenseID: expense.ID, ApproverID: cfoID, Decision: models.DecisionApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, result.Expense.Status)
}

func TestEngine_Decide_HybridRuleSpecificPathWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID := env.seedCompany(t)
	cfoID := env.seedUser(t, "cfo@acme.test", models.RoleAdmin, companyID, nil, false)
	financeID := env.seedUser(t, "finance@acme.test", models.RoleManager, companyID, nil, false)
	directorID := env.seedUser(t, "director@acme.test", models.RoleManager, companyID, nil, false)
	managerID := env.seedUser(t, "manager@acme.test", models.RoleManager, companyID, nil, true)
	employeeID := env.seedUser(t, "employee@acme.test", models.RoleEmployee, companyID, int64Ptr(managerID), false)
	env.seedWorkflow(t, companyID, cfoID, financeID, directorID)
	env.seedRule(t, companyID, models.RuleTypeHybrid, intPtr(75), int64Ptr(cfoID))

	expense, err := env.engine.CreateExpense(ctx, validExpenseInput(employeeID, companyID))
	require.NoError(t, err)

	// Manager first, then the CFO: their lone approval is 2 of 4, far below
	// 75%, but the specific-approver path resolves the expense.
	_, err = env.engine.Decide(ctx, DecisionInput{
		ExpenseID: expense.ID, ApproverID: managerID, Decision: models.DecisionApproved,
	})
	require.NoError(t, err)

	result, err := env.engine.Decide(ctx, DecisionInput{
		ExpenseID: expense.ID, ApproverID: cfoID, Decision: models.DecisionApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, result.Expense.Status)
}

func TestEngine_Decide_ConcurrentDecisionsOneWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID := env.seedCompany(t)
	managerID := env.seedUser(t, "manager@acme.test", models.RoleManager, companyID, nil, true)
	employeeID := env.seedUser(t, "employee@acme.test", models.RoleEmployee, companyID, int64Ptr(managerID), false)

	expense, err := env.engine.CreateExpense(ctx, validExpenseInput(employeeID, companyID))
	require.NoError(t, err)

	decisions := []string{models.DecisionApproved, models.DecisionRejected}
	errs := make([]error, len(decisions))

	var wg sync.WaitGroup
	for i, decision := range decisions {
		wg.Add(1)
		go func(i int, decision string) {
			defer wg.Done()
			_, errs[i] = env.engine.Decide(ctx, DecisionInput{
				ExpenseID: expense.ID, ApproverID: managerID, Decision: decision,
			})
		}(i, decision)
	}
	wg.Wait()

	var succeeded, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case apperror.IsKind(err, apperror.KindAlreadyDecided) || apperror.IsKind(err, apperror.KindConflict):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)

	updated, err := env.expenses.GetByID(ctx, nil, expense.ID)
	require.NoError(t, err)
	assert.True(t, updated.Status == models.StatusApproved || updated.Status == models.StatusRejected)
}

func TestEngine_ListPendingForApprover(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID := env.seedCompany(t)
	managerID := env.seedUser(t, "manager@acme.test", models.RoleManager, companyID, nil, true)
	employeeID := env.seedUser(t, "employee@acme.test", models.RoleEmployee, companyID, int64Ptr(managerID), false)

	first, err := env.engine.CreateExpense(ctx, validExpenseInput(employeeID, companyID))
	require.NoError(t, err)
	second, err := env.engine.CreateExpense(ctx, validExpenseInput(employeeID, companyID))
	require.NoError(t, err)

	pending, err := env.engine.ListPendingForApprover(ctx, managerID, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	ids := []int64{pending[0].Expense.ID, pending[1].Expense.ID}
	assert.Contains(t, ids, first.ID)
	assert.Contains(t, ids, second.ID)

	// Deciding one removes it from the queue.
	_, err = env.engine.Decide(ctx, DecisionInput{
		ExpenseID: first.ID, ApproverID: managerID, Decision: models.DecisionApproved,
	})
	require.NoError(t, err)

	pending, err = env.engine.ListPendingForApprover(ctx, managerID, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].Expense.ID)
}

func TestEngine_ListPendingForApprover_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	companyID := env.seedCompany(t)
	employeeID := env.seedUser(t, "employee@acme.test", models.RoleEmployee, companyID, nil, false)

	_, err := env.engine.ListPendingForApprover(ctx, 999, "", 10, 0)
	require.Error(t, err)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	_, err = env.engine.ListPendingForApprover(ctx, employeeID, "", 10, 0)
	require.Error(t, err)
	assert.Equal(t, apperror.KindForbidden, apperror.KindOf(err))
}
