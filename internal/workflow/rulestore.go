package workflow

import (
	"context"

	"github.com/expenseflow/expenseflow/internal/apperror"
	"github.com/expenseflow/expenseflow/internal/models"
	"github.com/expenseflow/expenseflow/internal/repository"
	"go.uber.org/zap"
)

// RuleStore validates and persists approval configuration: rules, workflow
// templates, and their steps. All referential and shape checks run before any
// write, so invalid configuration never reaches the resolver.
type RuleStore struct {
	rules     *repository.RuleRepository
	workflows *repository.WorkflowRepository
	users     *repository.UserRepository
	companies *repository.CompanyRepository
	logger    *zap.Logger
}

// NewRuleStore creates a new rule store
func NewRuleStore(
	rules *repository.RuleRepository,
	workflows *repository.WorkflowRepository,
	users *repository.UserRepository,
	companies *repository.CompanyRepository,
	logger *zap.Logger,
) *RuleStore {
	return &RuleStore{
		rules:     rules,
		workflows: workflows,
		users:     users,
		companies: companies,
		logger:    logger,
	}
}

// validateRuleShape enforces the per-type field presence invariant:
// percentage_threshold exactly for percentage/hybrid, specific_approver_id
// exactly for specific_approver/hybrid. It runs on create and after every
// update, so a partial update cannot leave a contradictory record behind.
func (s *RuleStore) validateRuleShape(ctx context.Context, rule *models.ApprovalRule) error {
	needsThreshold := rule.RuleType == models.RuleTypePercentage || rule.RuleType == models.RuleTypeHybrid
	needsApprover := rule.RuleType == models.RuleTypeSpecificApprover || rule.RuleType == models.RuleTypeHybrid

	switch rule.RuleType {
	case models.RuleTypePercentage, models.RuleTypeSpecificApprover, models.RuleTypeHybrid:
	default:
		return apperror.Newf(apperror.KindValidation, "INVALID_RULE_TYPE",
			"rule type must be percentage, specific_approver, or hybrid")
	}

	if needsThreshold {
		if rule.PercentageThreshold == nil {
			return apperror.Newf(apperror.KindValidation, "MISSING_THRESHOLD",
				"%s rules require a percentage threshold", rule.RuleType)
		}
		if *rule.PercentageThreshold < 1 || *rule.PercentageThreshold > 100 {
			return apperror.New(apperror.KindValidation, "INVALID_THRESHOLD",
				"percentage threshold must be between 1 and 100")
		}
	} else if rule.PercentageThreshold != nil {
		return apperror.Newf(apperror.KindValidation, "THRESHOLD_NOT_ALLOWED",
			"%s rules must not carry a percentage threshold", rule.RuleType)
	}

	if needsApprover {
		if rule.SpecificApproverID == nil {
			return apperror.Newf(apperror.KindValidation, "MISSING_APPROVER",
				"%s rules require a specific approver", rule.RuleType)
		}
		if err := s.checkApprover(ctx, *rule.SpecificApproverID, rule.CompanyID); err != nil {
			return err
		}
	} else if rule.SpecificApproverID != nil {
		return apperror.Newf(apperror.KindValidation, "APPROVER_NOT_ALLOWED",
			"%s rules must not carry a specific approver", rule.RuleType)
	}

	return nil
}

// checkApprover verifies an approver reference: the user must exist, belong
// to the company, and hold an approval-capable role.
func (s *RuleStore) checkApprover(ctx context.Context, approverID, companyID int64) error {
	approver, err := s.users.GetByID(ctx, nil, approverID)
	if err != nil {
		return apperror.Internal(err, "failed to load approver")
	}
	if approver == nil {
		return apperror.Newf(apperror.KindNotFound, "APPROVER_NOT_FOUND", "approver %d not found", approverID)
	}
	if approver.CompanyID != companyID {
		return apperror.New(apperror.KindValidation, "COMPANY_MISMATCH",
			"approver does not belong to this company")
	}
	if !approver.CanApprove() {
		return apperror.New(apperror.KindValidation, "INVALID_ROLE",
			"approver must have admin or manager role")
	}
	return nil
}

func (s *RuleStore) checkCompany(ctx context.Context, companyID int64) error {
	company, err := s.companies.GetByID(ctx, companyID)
	if err != nil {
		return apperror.Internal(err, "failed to load company")
	}
	if company == nil {
		return apperror.Newf(apperror.KindNotFound, "COMPANY_NOT_FOUND", "company %d not found", companyID)
	}
	return nil
}

// CreateRule validates and persists a new approval rule
func (s *RuleStore) CreateRule(ctx context.Context, rule *models.ApprovalRule) error {
	if err := s.checkCompany(ctx, rule.CompanyID); err != nil {
		return err
	}
	if err := s.validateRuleShape(ctx, rule); err != nil {
		return err
	}
	if err := s.rules.Create(ctx, rule); err != nil {
		return apperror.Internal(err, "failed to create rule")
	}
	s.logger.Info("Approval rule created",
		zap.Int64("rule_id", rule.ID),
		zap.Int64("company_id", rule.CompanyID),
		zap.String("rule_type", rule.RuleType))
	return nil
}

// RuleUpdate holds the optional fields of a rule update
type RuleUpdate struct {
	RuleType            *string
	PercentageThreshold *int
	ClearThreshold      bool
	SpecificApproverID  *int64
	ClearApprover       bool
	IsActive            *bool
}

// UpdateRule applies a partial update and re-validates the resulting record,
// so the shape invariant holds after the update, not just on create.
func (s *RuleStore) UpdateRule(ctx context.Context, id int64, update RuleUpdate) (*models.ApprovalRule, error) {
	rule, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.Internal(err, "failed to load rule")
	}
	if rule == nil {
		return nil, apperror.Newf(apperror.KindNotFound, "RULE_NOT_FOUND", "approval rule %d not found", id)
	}

	if update.RuleType != nil {
		rule.RuleType = *update.RuleType
	}
	if update.ClearThreshold {
		rule.PercentageThreshold = nil
	} else if update.PercentageThreshold != nil {
		rule.PercentageThreshold = update.PercentageThreshold
	}
	if update.ClearApprover {
		rule.SpecificApproverID = nil
	} else if update.SpecificApproverID != nil {
		rule.SpecificApproverID = update.SpecificApproverID
	}
	if update.IsActive != nil {
		rule.IsActive = *update.IsActive
	}

	if err := s.validateRuleShape(ctx, rule); err != nil {
		return nil, err
	}
	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, apperror.Internal(err, "failed to update rule")
	}
	return rule, nil
}

// DeleteRule removes a rule
func (s *RuleStore) DeleteRule(ctx context.Context, id int64) error {
	deleted, err := s.rules.Delete(ctx, id)
	if err != nil {
		return apperror.Internal(err, "failed to delete rule")
	}
	if !deleted {
		return apperror.Newf(apperror.KindNotFound, "RULE_NOT_FOUND", "approval rule %d not found", id)
	}
	return nil
}

// CreateWorkflow validates and persists a new workflow template
func (s *RuleStore) CreateWorkflow(ctx context.Context, workflow *models.ApprovalWorkflow) error {
	if workflow.Name == "" {
		return apperror.New(apperror.KindValidation, "MISSING_NAME", "workflow name is required")
	}
	if err := s.checkCompany(ctx, workflow.CompanyID); err != nil {
		return err
	}
	if err := s.workflows.Create(ctx, workflow); err != nil {
		return apperror.Internal(err, "failed to create workflow")
	}
	s.logger.Info("Approval workflow created",
		zap.Int64("workflow_id", workflow.ID),
		zap.Int64("company_id", workflow.CompanyID))
	return nil
}

// WorkflowUpdate holds the optional fields of a workflow update
type WorkflowUpdate struct {
	Name     *string
	IsActive *bool
}

// UpdateWorkflow applies a partial update to a workflow
func (s *RuleStore) UpdateWorkflow(ctx context.Context, id int64, update WorkflowUpdate) (*models.ApprovalWorkflow, error) {
	workflow, err := s.workflows.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.Internal(err, "failed to load workflow")
	}
	if workflow == nil {
		return nil, apperror.Newf(apperror.KindNotFound, "WORKFLOW_NOT_FOUND", "workflow %d not found", id)
	}

	if update.Name != nil {
		if *update.Name == "" {
			return nil, apperror.New(apperror.KindValidation, "MISSING_NAME", "workflow name is required")
		}
		workflow.Name = *update.Name
	}
	if update.IsActive != nil {
		workflow.IsActive = *update.IsActive
	}

	if err := s.workflows.Update(ctx, workflow); err != nil {
		return nil, apperror.Internal(err, "failed to update workflow")
	}
	return workflow, nil
}

// DeleteWorkflow removes a workflow and its steps
func (s *RuleStore) DeleteWorkflow(ctx context.Context, id int64) error {
	deleted, err := s.workflows.Delete(ctx, id)
	if err != nil {
		return apperror.Internal(err, "failed to delete workflow")
	}
	if !deleted {
		return apperror.Newf(apperror.KindNotFound, "WORKFLOW_NOT_FOUND", "workflow %d not found", id)
	}
	return nil
}

// CreateStep validates and appends a step to a workflow. A zero StepOrder is
// auto-assigned as max+1; a duplicate order fails with CONFLICT.
func (s *RuleStore) CreateStep(ctx context.Context, step *models.ApprovalStep) error {
	if step.StepOrder < 0 {
		return apperror.New(apperror.KindValidation, "INVALID_STEP_ORDER", "step order must be a positive integer")
	}

	workflow, err := s.workflows.GetByID(ctx, step.WorkflowID)
	if err != nil {
		return apperror.Internal(err, "failed to load workflow")
	}
	if workflow == nil {
		return apperror.Newf(apperror.KindNotFound, "WORKFLOW_NOT_FOUND", "workflow %d not found", step.WorkflowID)
	}
	if err := s.checkApprover(ctx, step.ApproverID, workflow.CompanyID); err != nil {
		return err
	}

	if err := s.workflows.CreateStep(ctx, step); err != nil {
		if repository.IsUniqueViolation(err) {
			return apperror.Newf(apperror.KindConflict, "DUPLICATE_STEP_ORDER",
				"workflow %d already has a step with order %d", step.WorkflowID, step.StepOrder)
		}
		return apperror.Internal(err, "failed to create step")
	}
	return nil
}

// StepUpdate holds the optional fields of a step update
type StepUpdate struct {
	ApproverID *int64
	StepOrder  *int
}

// UpdateStep applies a partial update to a workflow step
func (s *RuleStore) UpdateStep(ctx context.Context, id int64, update StepUpdate) (*models.ApprovalStep, error) {
	step, err := s.workflows.GetStep(ctx, id)
	if err != nil {
		return nil, apperror.Internal(err, "failed to load step")
	}
	if step == nil {
		return nil, apperror.Newf(apperror.KindNotFound, "STEP_NOT_FOUND", "approval step %d not found", id)
	}

	workflow, err := s.workflows.GetByID(ctx, step.WorkflowID)
	if err != nil {
		return nil, apperror.Internal(err, "failed to load workflow")
	}
	if workflow == nil {
		return nil, apperror.Newf(apperror.KindNotFound, "WORKFLOW_NOT_FOUND", "workflow %d not found", step.WorkflowID)
	}

	if update.ApproverID != nil {
		if err := s.checkApprover(ctx, *update.ApproverID, workflow.CompanyID); err != nil {
			return nil, err
		}
		step.ApproverID = *update.ApproverID
	}
	if update.StepOrder != nil {
		if *update.StepOrder <= 0 {
			return nil, apperror.New(apperror.KindValidation, "INVALID_STEP_ORDER", "step order must be a positive integer")
		}
		step.StepOrder = *update.StepOrder
	}

	if err := s.workflows.UpdateStep(ctx, step); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, apperror.Newf(apperror.KindConflict, "DUPLICATE_STEP_ORDER",
				"workflow %d already has a step with order %d", step.WorkflowID, step.StepOrder)
		}
		return nil, apperror.Internal(err, "failed to update step")
	}
	return step, nil
}

// DeleteStep removes a workflow step
func (s *RuleStore) DeleteStep(ctx context.Context, id int64) error {
	deleted, err := s.workflows.DeleteStep(ctx, id)
	if err != nil {
		return apperror.Internal(err, "failed to delete step")
	}
	if !deleted {
		return apperror.Newf(apperror.KindNotFound, "STEP_NOT_FOUND", "approval step %d not found", id)
	}
	return nil
}
