package models

import "time"

// Expense represents a submitted expense claim.
// Status and the current step/approver pointer are owned exclusively by the
// approval engine; the HTTP update path never touches them.
type Expense struct {
	ID                  int64     `json:"id"`
	EmployeeID          int64     `json:"employee_id"`
	CompanyID           int64     `json:"company_id"`
	Amount              float64   `json:"amount"`
	Currency            string    `json:"currency"`
	ConvertedAmount     float64   `json:"converted_amount"` // in company currency, converted upstream
	Category            string    `json:"category"`
	Description         string    `json:"description,omitempty"`
	ExpenseDate         time.Time `json:"expense_date"`
	Status              string    `json:"status"` // pending, approved, rejected
	CurrentApproverID   *int64    `json:"current_approver_id,omitempty"`
	CurrentApprovalStep int       `json:"current_approval_step"` // 0 = no chain
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Expense status constants
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// IsFinal reports whether the expense has reached a terminal status.
func (e *Expense) IsFinal() bool {
	return e.Status == StatusApproved || e.Status == StatusRejected
}

// ExpenseFilter holds the optional list filters for expense queries.
type ExpenseFilter struct {
	EmployeeID *int64
	CompanyID  *int64
	Status     string
	Category   string
	DateFrom   *time.Time
	DateTo     *time.Time
	Search     string
	Sort       string // created_at, amount, expense_date
	Order      string // asc, desc
	Limit      int
	Offset     int
}
