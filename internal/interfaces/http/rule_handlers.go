package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/expenseflow/expenseflow/internal/apperror"
	"github.com/expenseflow/expenseflow/internal/models"
	"github.com/expenseflow/expenseflow/internal/workflow"
)

// CreateRuleRequest represents the approval rule creation payload
type CreateRuleRequest struct {
	CompanyID           int64  `json:"company_id"`
	RuleType            string `json:"rule_type"`
	PercentageThreshold *int   `json:"percentage_threshold"`
	SpecificApproverID  *int64 `json:"specific_approver_id"`
	IsActive            *bool  `json:"is_active"`
}

// CreateRule handles POST /api/approval-rules
func (h *Handlers) CreateRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadRequest(c, "INVALID_BODY", "invalid request body")
		return
	}

	rule := &models.ApprovalRule{
		CompanyID:           req.CompanyID,
		RuleType:            req.RuleType,
		PercentageThreshold: req.PercentageThreshold,
		SpecificApproverID:  req.SpecificApproverID,
		IsActive:            true,
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}

	if err := h.ruleStore.CreateRule(c.Request.Context(), rule); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    rule,
	})
}

// GetRule handles GET /api/approval-rules/:id
func (h *Handlers) GetRule(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.respondBadRequest(c, "INVALID_ID", "invalid rule id")
		return
	}

	rule, err := h.rules.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if rule == nil {
		h.respondError(c, apperror.Newf(apperror.KindNotFound, "RULE_NOT_FOUND", "rule %d not found", id))
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    rule,
	})
}

// ListRules handles GET /api/approval-rules
func (h *Handlers) ListRules(c *gin.Context) {
	limit, offset := h.pagination(c)

	var companyID *int64
	if v := c.Query("company_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.respondBadRequest(c, "INVALID_COMPANY_ID", "company_id must be an integer")
			return
		}
		companyID = &id
	}
	var isActive *bool
	if v := c.Query("is_active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			h.respondBadRequest(c, "INVALID_IS_ACTIVE", "is_active must be a boolean")
			return
		}
		isActive = &active
	}

	rules, err := h.rules.List(c.Request.Context(), companyID, c.Query("rule_type"), isActive, limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    rules,
	})
}

// UpdateRuleRequest represents the partial rule update payload. The clear
// flags remove the corresponding optional field; setting and clearing the
// same field is rejected.
type UpdateRuleRequest struct {
	RuleType              *string `json:"rule_type"`
	PercentageThreshold   *int    `json:"percentage_threshold"`
	ClearThreshold        bool    `json:"clear_percentage_threshold"`
	SpecificApproverID    *int64  `json:"specific_approver_id"`
	ClearSpecificApprover bool    `json:"clear_specific_approver"`
	IsActive              *bool   `json:"is_active"`
}

// UpdateRule handles PUT /api/approval-rules/:id
func (h *Handlers) UpdateRule(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.respondBadRequest(c, "INVALID_ID", "invalid rule id")
		return
	}

	var req UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadRequest(c, "INVALID_BODY", "invalid request body")
		return
	}
	if req.PercentageThreshold != nil && req.ClearThreshold {
		h.respondBadRequest(c, "CONFLICTING_UPDATE", "cannot set and clear percentage_threshold together")
		return
	}
	if req.SpecificApproverID != nil && req.ClearSpecificApprover {
		h.respondBadRequest(c, "CONFLICTING_UPDATE", "cannot set and clear specific_approver_id together")
		return
	}

	rule, err := h.ruleStore.UpdateRule(c.Request.Context(), id, workflow.RuleUpdate{
		RuleType:            req.RuleType,
		PercentageThreshold: req.PercentageThreshold,
		ClearThreshold:      req.ClearThreshold,
		SpecificApproverID:  req.SpecificApproverID,
		ClearApprover:       req.ClearSpecificApprover,
		IsActive:            req.IsActive,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    rule,
	})
}

// DeleteRule handles DELETE /api/approval-rules/:id
func (h *Handlers) DeleteRule(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.respondBadRequest(c, "INVALID_ID", "invalid rule id")
		return
	}

	if err := h.ruleStore.DeleteRule(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
	})
}

// CreateWorkflowRequest represents the workflow creation payload
type CreateWorkflowRequest struct {
	CompanyID int64  `json:"company_id"`
	Name      string `json:"name"`
	IsActive  *bool  `json:"is_active"`
}

// CreateWorkflow handles POST /api/approval-workflows
func (h *Handlers) CreateWorkflow(c *gin.Context) {
	var req CreateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadRequest(c, "INVALID_BODY", "invalid request body")
		return
	}

	wf := &models.ApprovalWorkflow{
		CompanyID: req.CompanyID,
		Name:      req.Name,
		IsActive:  true,
	}
	if req.IsActive != nil {
		wf.IsActive = *req.IsActive
	}

	if err := h.ruleStore.CreateWorkflow(c.Request.Context(), wf); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    wf,
	})
}

// GetWorkflow handles GET /api/approval-workflows/:id. The workflow is
// returned together with its ordered steps.
func (h *Handlers) GetWorkflow(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.respondBadRequest(c, "INVALID_ID", "invalid workflow id")
		return
	}

	wf, err := h.workflows.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if wf == nil {
		h.respondError(c, apperror.Newf(apperror.KindNotFound, "WORKFLOW_NOT_FOUND", "workflow %d not found", id))
		return
	}

	steps, err := h.workflows.ListSteps(c.Request.Context(), nil, id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"workflow": wf,
			"steps":    steps,
		},
	})
}

// ListWorkflows handles GET /api/approval-workflows
func (h *Handlers) ListWorkflows(c *gin.Context) {
	limit, offset := h.pagination(c)

	var companyID *int64
	if v := c.Query("company_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.respondBadRequest(c, "INVALID_COMPANY_ID", "company_id must be an integer")
			return
		}
		companyID = &id
	}

	workflows, err := h.workflows.List(c.Request.Context(), companyID, limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    workflows,
	})
}

// UpdateWorkflowRequest represents the partial workflow update payload
type UpdateWorkflowRequest struct {
	Name     *string `json:"name"`
	IsActive *bool   `json:"is_active"`
}

// UpdateWorkflow handles PUT /api/approval-workflows/:id
func (h *Handlers) UpdateWorkflow(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.respondBadRequest(c, "INVALID_ID", "invalid workflow id")
		return
	}

	var req UpdateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadRequest(c, "INVALID_BODY", "invalid request body")
		return
	}

	wf, err := h.ruleStore.UpdateWorkflow(c.Request.Context(), id, workflow.WorkflowUpdate{
		Name:     req.Name,
		IsActive: req.IsActive,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    wf,
	})
}

// DeleteWorkflow handles DELETE /api/approval-workflows/:id
func (h *Handlers) DeleteWorkflow(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.respondBadRequest(c, "INVALID_ID", "invalid workflow id")
		return
	}

	if err := h.ruleStore.DeleteWorkflow(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
	})
}

// CreateStepRequest represents the workflow step creation payload. A zero or
// absent step_order appends the step after the current highest order.
type CreateStepRequest struct {
	WorkflowID int64 `json:"workflow_id"`
	ApproverID int64 `json:"approver_id"`
	StepOrder  int   `json:"step_order"`
}

// CreateStep handles POST /api/approval-steps
func (h *Handlers) CreateStep(c *gin.Context) {
	var req CreateStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadRequest(c, "INVALID_BODY", "invalid request body")
		return
	}

	step := &models.ApprovalStep{
		WorkflowID: req.WorkflowID,
		ApproverID: req.ApproverID,
		StepOrder:  req.StepOrder,
	}

	if err := h.ruleStore.CreateStep(c.Request.Context(), step); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    step,
	})
}

// GetStep handles GET /api/approval-steps/:id
func (h *Handlers) GetStep(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.respondBadRequest(c, "INVALID_ID", "invalid step id")
		return
	}

	step, err := h.workflows.GetStep(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if step == nil {
		h.respondError(c, apperror.Newf(apperror.KindNotFound, "STEP_NOT_FOUND", "approval step %d not found", id))
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    step,
	})
}

// ListSteps handles GET /api/approval-steps?workflow_id=N
func (h *Handlers) ListSteps(c *gin.Context) {
	workflowID, err := strconv.ParseInt(c.Query("workflow_id"), 10, 64)
	if err != nil || workflowID <= 0 {
		h.respondBadRequest(c, "INVALID_WORKFLOW_ID", "workflow_id is required and must be an integer")
		return
	}

	steps, err := h.workflows.ListSteps(c.Request.Context(), nil, workflowID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    steps,
	})
}

// UpdateStepRequest represents the partial step update payload
type UpdateStepRequest struct {
	ApproverID *int64 `json:"approver_id"`
	StepOrder  *int   `json:"step_order"`
}

// UpdateStep handles PUT /api/approval-steps/:id
func (h *Handlers) UpdateStep(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.respondBadRequest(c, "INVALID_ID", "invalid step id")
		return
	}

	var req UpdateStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadRequest(c, "INVALID_BODY", "invalid request body")
		return
	}

	step, err := h.ruleStore.UpdateStep(c.Request.Context(), id, workflow.StepUpdate{
		ApproverID: req.ApproverID,
		StepOrder:  req.StepOrder,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    step,
	})
}

// DeleteStep handles DELETE /api/approval-steps/:id
func (h *Handlers) DeleteStep(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.respondBadRequest(c, "INVALID_ID", "invalid step id")
		return
	}

	if err := h.ruleStore.DeleteStep(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
	})
}
