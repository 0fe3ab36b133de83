package workflow

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/expenseflow/expenseflow/internal/apperror"
	"github.com/expenseflow/expenseflow/internal/models"
	"github.com/expenseflow/expenseflow/internal/repository"
	"github.com/expenseflow/expenseflow/pkg/database"
	"github.com/expenseflow/expenseflow/pkg/utils"
	"go.uber.org/zap"
)

// Engine is the approval resolution engine. It owns every mutation of expense
// status and of the approval ledger; each operation runs in one transaction so
// a ledger write and the matching expense pointer update commit together or
// not at all.
type Engine struct {
	db        *database.DB
	expenses  *repository.ExpenseRepository
	approvals *repository.ApprovalRepository
	users     *repository.UserRepository
	companies *repository.CompanyRepository
	resolver  *Resolver
	logger    *zap.Logger
}

// NewEngine creates a new approval engine
func NewEngine(
	db *database.DB,
	expenses *repository.ExpenseRepository,
	approvals *repository.ApprovalRepository,
	users *repository.UserRepository,
	companies *repository.CompanyRepository,
	resolver *Resolver,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		db:        db,
		expenses:  expenses,
		approvals: approvals,
		users:     users,
		companies: companies,
		resolver:  resolver,
		logger:    logger,
	}
}

// CreateExpenseInput holds the fields for submitting an expense claim.
// ConvertedAmount arrives already converted to the company currency.
type CreateExpenseInput struct {
	EmployeeID      int64
	CompanyID       int64
	Amount          float64
	Currency        string
	ConvertedAmount float64
	Category        string
	Description     string
	ExpenseDate     time.Time
}

func (in *CreateExpenseInput) validate() error {
	if in.EmployeeID == 0 {
		return apperror.New(apperror.KindValidation, "MISSING_EMPLOYEE_ID", "employee id is required")
	}
	if in.CompanyID == 0 {
		return apperror.New(apperror.KindValidation, "MISSING_COMPANY_ID", "company id is required")
	}
	if err := utils.ValidateAmount(in.Amount); err != nil {
		return apperror.New(apperror.KindValidation, "INVALID_AMOUNT", "amount must be a positive number")
	}
	if err := utils.ValidateCurrency(in.Currency); err != nil {
		return apperror.New(apperror.KindValidation, "INVALID_CURRENCY", "currency must be a 3-letter code")
	}
	if in.ConvertedAmount <= 0 {
		return apperror.New(apperror.KindValidation, "INVALID_CONVERTED_AMOUNT", "converted amount must be a positive number")
	}
	if strings.TrimSpace(in.Category) == "" {
		return apperror.New(apperror.KindValidation, "MISSING_CATEGORY", "category is required")
	}
	if in.ExpenseDate.IsZero() {
		return apperror.New(apperror.KindValidation, "MISSING_EXPENSE_DATE", "expense date is required")
	}
	return nil
}

// CreateExpense submits an expense and resolves its first approval step. When
// a chain applies the expense moves to step 1 with the first approver's ledger
// row created; otherwise it stays pending at step 0 with no approver, and no
// decision can ever arrive for it. It is never auto-approved.
func (e *Engine) CreateExpense(ctx context.Context, input CreateExpenseInput) (*models.Expense, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	employee, err := e.users.GetByID(ctx, nil, input.EmployeeID)
	if err != nil {
		return nil, apperror.Internal(err, "failed to load employee")
	}
	if employee == nil {
		return nil, apperror.Newf(apperror.KindNotFound, "EMPLOYEE_NOT_FOUND", "employee %d not found", input.EmployeeID)
	}

	company, err := e.companies.GetByID(ctx, input.CompanyID)
	if err != nil {
		return nil, apperror.Internal(err, "failed to load company")
	}
	if company == nil {
		return nil, apperror.Newf(apperror.KindNotFound, "COMPANY_NOT_FOUND", "company %d not found", input.CompanyID)
	}
	if employee.CompanyID != company.ID {
		return nil, apperror.New(apperror.KindValidation, "COMPANY_MISMATCH", "employee does not belong to this company")
	}

	expense := &models.Expense{
		EmployeeID:      employee.ID,
		CompanyID:       company.ID,
		Amount:          input.Amount,
		Currency:        strings.ToUpper(input.Currency),
		ConvertedAmount: input.ConvertedAmount,
		Category:        utils.SanitizeString(input.Category),
		Description:     utils.SanitizeString(input.Description),
		ExpenseDate:     input.ExpenseDate,
		Status:          models.StatusPending,
	}

	err = e.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := e.expenses.Create(ctx, tx, expense); err != nil {
			return apperror.Internal(err, "failed to create expense")
		}

		chain, err := e.resolver.Resolve(ctx, tx, employee)
		if err != nil {
			return err
		}
		if chain.Len() == 0 {
			return nil
		}

		first := chain.Approvers[0]
		approval := &models.ExpenseApproval{
			ExpenseID:  expense.ID,
			ApproverID: first,
			StepOrder:  1,
			Status:     models.StatusPending,
		}
		if err := e.approvals.Create(ctx, tx, approval); err != nil {
			return apperror.Internal(err, "failed to create first approval step")
		}
		if err := e.expenses.SetChainPointer(ctx, tx, expense.ID, 1, first); err != nil {
			return apperror.Internal(err, "failed to assign first approver")
		}

		expense.CurrentApprovalStep = 1
		expense.CurrentApproverID = &first
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Expense created",
		zap.Int64("expense_id", expense.ID),
		zap.Int64("employee_id", employee.ID),
		zap.Int("step", expense.CurrentApprovalStep))

	return expense, nil
}

// DecisionInput holds one approver's decision on an expense. StepOrder is
// optional; when set it is compared against the expense's current step so a
// caller acting on an outdated view fails with STALE_STEP instead of deciding
// the wrong step.
type DecisionInput struct {
	ExpenseID  int64
	ApproverID int64
	Decision   string
	Comments   string
	StepOrder  *int
}

// DecisionResult pairs the updated expense with the ledger row that recorded
// the decision.
type DecisionResult struct {
	Expense  *models.Expense         `json:"expense"`
	Approval *models.ExpenseApproval `json:"approval"`
}

// Decide records one approver's decision and advances or finalizes the
// expense according to the governing rule. The ledger update, rule
// evaluation, and state transition happen in one transaction.
func (e *Engine) Decide(ctx context.Context, input DecisionInput) (*DecisionResult, error) {
	if input.Decision != models.DecisionApproved && input.Decision != models.DecisionRejected {
		return nil, apperror.New(apperror.KindValidation, "INVALID_DECISION", "decision must be approved or rejected")
	}

	var result DecisionResult
	err := e.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		expense, err := e.expenses.GetByID(ctx, tx, input.ExpenseID)
		if err != nil {
			return apperror.Internal(err, "failed to load expense")
		}
		if expense == nil {
			return apperror.Newf(apperror.KindNotFound, "EXPENSE_NOT_FOUND", "expense %d not found", input.ExpenseID)
		}
		if expense.IsFinal() {
			return apperror.Newf(apperror.KindAlreadyDecided, "ALREADY_DECIDED",
				"expense %d is already %s", expense.ID, expense.Status)
		}
		if expense.CurrentApprovalStep == 0 {
			return apperror.Newf(apperror.KindNotFound, "NO_PENDING_STEP",
				"expense %d has no approval chain", expense.ID)
		}
		if input.StepOrder != nil && *input.StepOrder != expense.CurrentApprovalStep {
			if *input.StepOrder < expense.CurrentApprovalStep {
				return apperror.Newf(apperror.KindStaleStep, "STALE_STEP",
					"expense %d has advanced past step %d", expense.ID, *input.StepOrder)
			}
			return apperror.Newf(apperror.KindNotFound, "STEP_NOT_FOUND",
				"expense %d has no step %d yet", expense.ID, *input.StepOrder)
		}

		row, err := e.approvals.GetByExpenseAndStep(ctx, tx, expense.ID, expense.CurrentApprovalStep)
		if err != nil {
			return apperror.Internal(err, "failed to load approval step")
		}
		if row == nil {
			return apperror.Newf(apperror.KindNotFound, "STEP_NOT_FOUND",
				"no pending approval for expense %d step %d", expense.ID, expense.CurrentApprovalStep)
		}
		if row.ApproverID != input.ApproverID {
			return apperror.New(apperror.KindForbidden, "APPROVER_MISMATCH",
				"decision may only be entered by the assigned approver")
		}
		if row.Status != models.StatusPending {
			return apperror.Newf(apperror.KindAlreadyDecided, "ALREADY_DECIDED",
				"step %d of expense %d is already %s", row.StepOrder, expense.ID, row.Status)
		}

		decidedAt := time.Now().UTC()
		ok, err := e.approvals.Decide(ctx, tx, row.ID, input.Decision, input.Comments, decidedAt)
		if err != nil {
			return apperror.Internal(err, "failed to record decision")
		}
		if !ok {
			// Lost the race against a concurrent decision on the same row.
			return apperror.Newf(apperror.KindAlreadyDecided, "ALREADY_DECIDED",
				"step %d of expense %d was decided concurrently", row.StepOrder, expense.ID)
		}
		row.Status = input.Decision
		row.Comments = input.Comments
		row.ApprovedAt = &decidedAt

		if err := e.transition(ctx, tx, expense, row); err != nil {
			return err
		}

		updated, err := e.expenses.GetByID(ctx, tx, expense.ID)
		if err != nil {
			return apperror.Internal(err, "failed to reload expense")
		}
		result.Expense = updated
		result.Approval = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Decision recorded",
		zap.Int64("expense_id", result.Expense.ID),
		zap.Int64("approver_id", input.ApproverID),
		zap.String("decision", input.Decision),
		zap.String("expense_status", result.Expense.Status))

	return &result, nil
}

// transition evaluates the governing rule after a decision and either
// finalizes the expense or materializes the next step.
func (e *Engine) transition(ctx context.Context, tx *sql.Tx, expense *models.Expense, decided *models.ExpenseApproval) error {
	entries, err := e.approvals.ListByExpense(ctx, tx, expense.ID)
	if err != nil {
		return apperror.Internal(err, "failed to load decision history")
	}

	employee, err := e.users.GetByID(ctx, tx, expense.EmployeeID)
	if err != nil {
		return apperror.Internal(err, "failed to load employee")
	}
	if employee == nil {
		return apperror.Newf(apperror.KindNotFound, "EMPLOYEE_NOT_FOUND", "employee %d not found", expense.EmployeeID)
	}

	chain, err := e.resolver.Resolve(ctx, tx, employee)
	if err != nil {
		return err
	}

	outcome := Evaluate(chain.Rule, entries, chain.EffectiveLen(entries))

	e.logger.Debug("Rule evaluated",
		zap.Int64("expense_id", expense.ID),
		zap.Int("step", decided.StepOrder),
		zap.String("outcome", outcome.String()))

	switch outcome {
	case OutcomeApproved:
		return e.finalize(ctx, tx, expense, StateApproved)
	case OutcomeRejected:
		return e.finalize(ctx, tx, expense, StateRejected)
	}

	next, found := chain.NextApprover(entries)
	if !found {
		// Chain exhausted while the rule stayed undecided; Evaluate treats
		// exhaustion as terminal for every rule shape, so this is a
		// configuration drift race. Leave the expense pending at its step.
		e.logger.Warn("Chain exhausted with undecided rule",
			zap.Int64("expense_id", expense.ID),
			zap.Int("step", decided.StepOrder))
		return nil
	}

	nextStep := decided.StepOrder + 1
	approval := &models.ExpenseApproval{
		ExpenseID:  expense.ID,
		ApproverID: next,
		StepOrder:  nextStep,
		Status:     models.StatusPending,
	}
	if err := e.approvals.Create(ctx, tx, approval); err != nil {
		if repository.IsUniqueViolation(err) {
			return apperror.Newf(apperror.KindConflict, "STEP_CONFLICT",
				"step %d of expense %d already exists", nextStep, expense.ID)
		}
		return apperror.Internal(err, "failed to create next approval step")
	}
	if err := e.expenses.SetChainPointer(ctx, tx, expense.ID, nextStep, next); err != nil {
		return apperror.Internal(err, "failed to advance approval step")
	}
	return nil
}

// finalize moves the expense to a terminal status
func (e *Engine) finalize(ctx context.Context, tx *sql.Tx, expense *models.Expense, target State) error {
	if !State(expense.Status).CanTransition(target) {
		return apperror.Newf(apperror.KindAlreadyDecided, "ALREADY_DECIDED",
			"expense %d is already %s", expense.ID, expense.Status)
	}
	if err := e.expenses.Finalize(ctx, tx, expense.ID, target.String()); err != nil {
		return apperror.Internal(err, "failed to finalize expense")
	}
	return nil
}

// ListPendingForApprover returns the pending ledger rows assigned to an
// approver together with their expenses. The approver must exist and hold an
// approval-capable role.
func (e *Engine) ListPendingForApprover(ctx context.Context, approverID int64, category string, limit, offset int) ([]*models.PendingApproval, error) {
	approver, err := e.users.GetByID(ctx, nil, approverID)
	if err != nil {
		return nil, apperror.Internal(err, "failed to load approver")
	}
	if approver == nil {
		return nil, apperror.Newf(apperror.KindNotFound, "APPROVER_NOT_FOUND", "approver %d not found", approverID)
	}
	if !approver.CanApprove() {
		return nil, apperror.New(apperror.KindForbidden, "NO_APPROVAL_PERMISSIONS",
			"user does not have approval permissions")
	}

	items, err := e.approvals.ListPendingForApprover(ctx, approverID, category, limit, offset)
	if err != nil {
		return nil, apperror.Internal(err, "failed to list pending approvals")
	}
	return items, nil
}
