package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/expenseflow/expenseflow/internal/apperror"
	"github.com/expenseflow/expenseflow/internal/export"
	"github.com/expenseflow/expenseflow/internal/models"
	"github.com/expenseflow/expenseflow/internal/repository"
	"github.com/expenseflow/expenseflow/internal/workflow"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine    *workflow.Engine
	ruleStore *workflow.RuleStore
	expenses  *repository.ExpenseRepository
	approvals *repository.ApprovalRepository
	rules     *repository.RuleRepository
	workflows *repository.WorkflowRepository
	reports   *export.ReportWriter
	logger    *zap.Logger

	defaultPageSize int
	maxPageSize     int
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	engine *workflow.Engine,
	ruleStore *workflow.RuleStore,
	expenses *repository.ExpenseRepository,
	approvals *repository.ApprovalRepository,
	rules *repository.RuleRepository,
	workflows *repository.WorkflowRepository,
	reports *export.ReportWriter,
	config ServerConfig,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		engine:          engine,
		ruleStore:       ruleStore,
		expenses:        expenses,
		approvals:       approvals,
		rules:           rules,
		workflows:       workflows,
		reports:         reports,
		logger:          logger,
		defaultPageSize: config.DefaultPageSize,
		maxPageSize:     config.MaxPageSize,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// respondError maps an error to its HTTP status and writes the standard
// envelope. Internal errors are logged with their cause but reported to the
// client without it.
func (h *Handlers) respondError(c *gin.Context, err error) {
	status := apperror.HTTPStatus(err)

	var appErr *apperror.Error
	if errors.As(err, &appErr) && status != http.StatusInternalServerError {
		c.JSON(status, Response{
			Success: false,
			Error:   appErr.Message,
			Code:    appErr.Code,
		})
		return
	}

	h.logger.Error("Request failed",
		zap.String("path", c.Request.URL.Path),
		zap.String("request_id", c.GetString("request_id")),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, Response{
		Success: false,
		Error:   "internal server error",
		Code:    "INTERNAL",
	})
}

func (h *Handlers) respondBadRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   message,
		Code:    code,
	})
}

// pathID parses the named path parameter as a positive integer id.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// pagination clamps limit/offset query parameters to the configured bounds.
func (h *Handlers) pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.Query("limit"))
	offset, _ = strconv.Atoi(c.Query("offset"))
	if limit <= 0 {
		limit = h.defaultPageSize
	}
	if limit > h.maxPageSize {
		limit = h.maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// parseDate accepts dates as RFC3339 timestamps or plain YYYY-MM-DD.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   "1.0.0",
		},
	})
}

// CreateExpenseRequest represents the expense submission payload
type CreateExpenseRequest struct {
	EmployeeID      int64   `json:"employee_id"`
	CompanyID       int64   `json:"company_id"`
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	ConvertedAmount float64 `json:"converted_amount"`
	Category        string  `json:"category"`
	Description     string  `json:"description"`
	ExpenseDate     string  `json:"expense_date"`
}

// CreateExpense handles POST /api/expenses
func (h *Handlers) CreateExpense(c *gin.Context) {
	var req CreateExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadRequest(c, "INVALID_BODY", "invalid request body")
		return
	}

	input := workflow.CreateExpenseInput{
		EmployeeID:      req.EmployeeID,
		CompanyID:       req.CompanyID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		ConvertedAmount: req.ConvertedAmount,
		Category:        req.Category,
		Description:     req.Description,
	}
	if req.ExpenseDate != "" {
		date, err := parseDate(req.ExpenseDate)
		if err != nil {
			h.respondBadRequest(c, "INVALID_EXPENSE_DATE", "expense_date must be YYYY-MM-DD or RFC3339")
			return
		}
		input.ExpenseDate = date
	}

	expense, err := h.engine.CreateExpense(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    expense,
	})
}

// GetExpense handles GET /api/expenses/:id
func (h *Handlers) GetExpense(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.respondBadRequest(c, "INVALID_ID", "invalid expense id")
		return
	}

	expense, err := h.expenses.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if expense == nil {
		h.respondError(c, apperror.Newf(apperror.KindNotFound, "EXPENSE_NOT_FOUND", "expense %d not found", id))
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    expense,
	})
}

// expenseFilterFromQuery builds an ExpenseFilter from list query parameters.
func (h *Handlers) expenseFilterFromQuery(c *gin.Context) (models.ExpenseFilter, error) {
	filter := models.ExpenseFilter{
		Status:   c.Query("status"),
		Category: c.Query("category"),
		Search:   c.Query("search"),
		Sort:     c.Query("sort"),
		Order:    c.Query("order"),
	}
	filter.Limit, filter.Offset = h.pagination(c)

	if v := c.Query("employee_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, apperror.New(apperror.KindValidation, "INVALID_EMPLOYEE_ID", "employee_id must be an integer")
		}
		filter.EmployeeID = &id
	}
	if v := c.Query("company_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, apperror.New(apperror.KindValidation, "INVALID_COMPANY_ID", "company_id must be an integer")
		}
		filter.CompanyID = &id
	}
	if v := c.Query("date_from"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return filter, apperror.New(apperror.KindValidation, "INVALID_DATE_FROM", "date_from must be YYYY-MM-DD or RFC3339")
		}
		filter.DateFrom = &t
	}
	if v := c.Query("date_to"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return filter, apperror.New(apperror.KindValidation, "INVALID_DATE_TO", "date_to must be YYYY-MM-DD or RFC3339")
		}
		filter.DateTo = &t
	}
	return filter, nil
}

// ListExpenses handles GET /api/expenses
func (h *Handlers) ListExpenses(c *gin.Context) {
	filter, err := h.expenseFilterFromQuery(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	expenses, err := h.expenses.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    expenses,
	})
}

// ListExpensesByEmployee handles GET /api/expenses/by-employee/:employeeId
func (h *Handlers) ListExpensesByEmployee(c *gin.Context) {
	employeeID, ok := pathID(c, "employeeId")
	if !ok {
		h.respondBadRequest(c, "INVALID_ID", "invalid employee id")
		return
	}

	filter, err := h.expenseFilterFromQuery(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	filter.EmployeeID = &employeeID

	expenses, err := h.expenses.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    expenses,
	})
}

// UpdateExpenseRequest represents the expense update payload. Absent fields
// are left unchanged; status is never updatable through this endpoint.
type UpdateExpenseRequest struct {
	Amount          *float64 `json:"amount"`
	Currency        *string  `json:"currency"`
	ConvertedAmount *float64 `json:"converted_amount"`
	Category        *string  `json:"category"`
	Description     *string  `json:"description"`
	ExpenseDate     *string  `json:"expense_date"`
}

// UpdateExpense handles PUT /api/expenses/:id
func (h *Handlers) UpdateExpense(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.respondBadRequest(c, "INVALID_ID", "invalid expense id")
		return
	}

	var req UpdateExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadRequest(c, "INVALID_BODY", "invalid request body")
		return
	}

	expense, err := h.expenses.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if expense == nil {
		h.respondError(c, apperror.Newf(apperror.KindNotFound, "EXPENSE_NOT_FOUND", "expense %d not found", id))
		return
	}
	if expense.IsFinal() {
		h.respondError(c, apperror.New(apperror.KindConflict, "EXPENSE_FINALIZED", "finalized expenses cannot be edited"))
		return
	}

	if req.Amount != nil {
		if *req.Amount <= 0 {
			h.respondBadRequest(c, "INVALID_AMOUNT", "amount must be a positive number")
			return
		}
		expense.Amount = *req.Amount
	}
	if req.Currency != nil {
		expense.Currency = *req.Currency
	}
	if req.ConvertedAmount != nil {
		if *req.ConvertedAmount <= 0 {
			h.respondBadRequest(c, "INVALID_CONVERTED_AMOUNT", "converted amount must be a positive number")
			return
		}
		expense.ConvertedAmount = *req.ConvertedAmount
	}
	if req.Category != nil {
		expense.Category = *req.Category
	}
	if req.Description != nil {
		expense.Description = *req.Description
	}
	if req.ExpenseDate != nil {
		date, err := parseDate(*req.ExpenseDate)
		if err != nil {
			h.respondBadRequest(c, "INVALID_EXPENSE_DATE", "expense_date must be YYYY-MM-DD or RFC3339")
			return
		}
		expense.ExpenseDate = date
	}

	if err := h.expenses.Update(c.Request.Context(), expense); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    expense,
	})
}

// DeleteExpense handles DELETE /api/expenses/:id
func (h *Handlers) DeleteExpense(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.respondBadRequest(c, "INVALID_ID", "invalid expense id")
		return
	}

	deleted, err := h.expenses.Delete(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !deleted {
		h.respondError(c, apperror.Newf(apperror.KindNotFound, "EXPENSE_NOT_FOUND", "expense %d not found", id))
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
	})
}

// DecisionRequest represents the approve/reject payload. StepOrder is
// optional; when present it must match the expense's current step.
type DecisionRequest struct {
	ApproverID int64  `json:"approver_id"`
	Decision   string `json:"decision"`
	Comments   string `json:"comments"`
	StepOrder  *int   `json:"step_order"`
}

// DecideExpense handles POST /api/expenses/:id/decision
func (h *Handlers) DecideExpense(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.respondBadRequest(c, "INVALID_ID", "invalid expense id")
		return
	}

	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadRequest(c, "INVALID_BODY", "invalid request body")
		return
	}
	if req.ApproverID <= 0 {
		h.respondBadRequest(c, "MISSING_APPROVER_ID", "approver_id is required")
		return
	}

	result, err := h.engine.Decide(c.Request.Context(), workflow.DecisionInput{
		ExpenseID:  id,
		ApproverID: req.ApproverID,
		Decision:   req.Decision,
		Comments:   req.Comments,
		StepOrder:  req.StepOrder,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    result,
	})
}

// ListPendingApprovals handles GET /api/expenses/pending-approvals/:approverId
func (h *Handlers) ListPendingApprovals(c *gin.Context) {
	approverID, ok := pathID(c, "approverId")
	if !ok {
		h.respondBadRequest(c, "INVALID_ID", "invalid approver id")
		return
	}

	limit, offset := h.pagination(c)
	pending, err := h.engine.ListPendingForApprover(c.Request.Context(), approverID, c.Query("category"), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    pending,
	})
}

// ListApprovals handles GET /api/expense-approvals
func (h *Handlers) ListApprovals(c *gin.Context) {
	filter := models.ApprovalFilter{Status: c.Query("status")}
	filter.Limit, filter.Offset = h.pagination(c)

	if v := c.Query("expense_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.respondBadRequest(c, "INVALID_EXPENSE_ID", "expense_id must be an integer")
			return
		}
		filter.ExpenseID = &id
	}
	if v := c.Query("approver_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.respondBadRequest(c, "INVALID_APPROVER_ID", "approver_id must be an integer")
			return
		}
		filter.ApproverID = &id
	}

	approvals, err := h.approvals.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    approvals,
	})
}

// GetApproval handles GET /api/expense-approvals/:id
func (h *Handlers) GetApproval(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		h.respondBadRequest(c, "INVALID_ID", "invalid approval id")
		return
	}

	approval, err := h.approvals.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if approval == nil {
		h.respondError(c, apperror.Newf(apperror.KindNotFound, "APPROVAL_NOT_FOUND", "approval %d not found", id))
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    approval,
	})
}

// ExportExpenses handles GET /api/expenses/export
func (h *Handlers) ExportExpenses(c *gin.Context) {
	companyIDStr := c.Query("company_id")
	companyID, err := strconv.ParseInt(companyIDStr, 10, 64)
	if err != nil || companyID <= 0 {
		h.respondBadRequest(c, "INVALID_COMPANY_ID", "company_id is required and must be an integer")
		return
	}

	filter, err := h.expenseFilterFromQuery(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	filter.CompanyID = &companyID
	// Export is unpaginated unless the caller asks for a page.
	if c.Query("limit") == "" {
		filter.Limit = 0
	}

	filename := fmt.Sprintf("expenses_%d_%s.xlsx", companyID, time.Now().UTC().Format("20060102"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	if err := h.reports.WriteCompanyReport(c.Request.Context(), c.Writer, companyID, filter); err != nil {
		h.logger.Error("Failed to write expense report",
			zap.Int64("company_id", companyID),
			zap.Error(err),
		)
		// Headers are already out; nothing sensible to send but abort.
		c.Abort()
		return
	}
}
