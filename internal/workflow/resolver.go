package workflow

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/expenseflow/expenseflow/internal/apperror"
	"github.com/expenseflow/expenseflow/internal/models"
	"github.com/expenseflow/expenseflow/internal/repository"
	"go.uber.org/zap"
)

// Chain is the resolved approval chain for an expense: the ordered approver
// ids that must act, and the rule deciding when their decisions resolve it.
// Approvers[i] acts at step i+1. An empty chain means the expense has no
// approval path and stays pending at step 0.
type Chain struct {
	Approvers []int64
	Rule      *models.RuleShape
}

// Len returns the number of steps in the chain
func (c *Chain) Len() int {
	return len(c.Approvers)
}

// Contains reports whether the approver holds a position in the chain
func (c *Chain) Contains(approverID int64) bool {
	for _, id := range c.Approvers {
		if id == approverID {
			return true
		}
	}
	return false
}

// Resolver computes approval chains from the employee's manager link, the
// company's active workflow template, and its active rule. Nothing is cached:
// every resolution reads live configuration, while ledger rows snapshot the
// approvers already asked.
type Resolver struct {
	users     *repository.UserRepository
	rules     *repository.RuleRepository
	workflows *repository.WorkflowRepository
	logger    *zap.Logger
}

// NewResolver creates a new chain resolver
func NewResolver(
	users *repository.UserRepository,
	rules *repository.RuleRepository,
	workflows *repository.WorkflowRepository,
	logger *zap.Logger,
) *Resolver {
	return &Resolver{
		users:     users,
		rules:     rules,
		workflows: workflows,
		logger:    logger,
	}
}

// Resolve computes the chain for an employee's expense:
//
//  1. A manager flagged as approver is step 1. This holds with or without a
//     workflow or rule.
//  2. The company's active workflow contributes the remaining steps in
//     step_order, skipping approvers already present.
//  3. For specific_approver and hybrid rules, the designated approver is
//     appended as a final step when not already present, so those rules can
//     always terminate.
func (r *Resolver) Resolve(ctx context.Context, tx *sql.Tx, employee *models.User) (*Chain, error) {
	chain := &Chain{}

	if employee.ManagerID != nil {
		manager, err := r.users.GetByID(ctx, tx, *employee.ManagerID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve manager: %w", err)
		}
		if manager == nil {
			return nil, apperror.Newf(apperror.KindNotFound, "APPROVER_NOT_FOUND",
				"manager %d not found", *employee.ManagerID)
		}
		if manager.IsManagerApprover {
			chain.Approvers = append(chain.Approvers, manager.ID)
		}
	}

	wf, err := r.workflows.GetActiveByCompany(ctx, tx, employee.CompanyID)
	if err != nil {
		return nil, err
	}
	if wf != nil {
		steps, err := r.workflows.ListSteps(ctx, tx, wf.ID)
		if err != nil {
			return nil, err
		}
		for _, step := range steps {
			if !chain.Contains(step.ApproverID) {
				chain.Approvers = append(chain.Approvers, step.ApproverID)
			}
		}
	}

	rule, err := r.rules.GetActiveByCompany(ctx, tx, employee.CompanyID)
	if err != nil {
		return nil, err
	}
	if rule != nil {
		shape := rule.Shape()
		chain.Rule = &shape

		if shape.Type != models.RuleTypePercentage && shape.ApproverID != 0 {
			if !chain.Contains(shape.ApproverID) {
				chain.Approvers = append(chain.Approvers, shape.ApproverID)
			}
		}
	}

	r.logger.Debug("Resolved approval chain",
		zap.Int64("employee_id", employee.ID),
		zap.Int64s("approvers", chain.Approvers),
		zap.Bool("has_rule", chain.Rule != nil))

	return chain, nil
}

// NextApprover returns the approver for the next unmaterialized step: the
// first chain position without a ledger row. Ledger rows are matched by
// approver id because chain approvers are unique.
func (c *Chain) NextApprover(entries []*models.ExpenseApproval) (int64, bool) {
	asked := make(map[int64]bool, len(entries))
	for _, entry := range entries {
		asked[entry.ApproverID] = true
	}
	for _, id := range c.Approvers {
		if !asked[id] {
			return id, true
		}
	}
	return 0, false
}

// EffectiveLen is the chain length used by rule evaluation: approvers already
// asked (snapshotted in the ledger) plus resolved steps still ahead. Ledger
// rows for approvers no longer in the chain still count; they were asked.
func (c *Chain) EffectiveLen(entries []*models.ExpenseApproval) int {
	asked := make(map[int64]bool, len(entries))
	for _, entry := range entries {
		asked[entry.ApproverID] = true
	}
	total := len(entries)
	for _, id := range c.Approvers {
		if !asked[id] {
			total++
		}
	}
	return total
}
