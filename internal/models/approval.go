package models

import "time"

// Rule type constants
const (
	RuleTypePercentage       = "percentage"
	RuleTypeSpecificApprover = "specific_approver"
	RuleTypeHybrid           = "hybrid"
)

// ApprovalRule is a company-level policy deciding when the decisions collected
// on an expense resolve it. The threshold/approver fields are populated
// according to RuleType; RuleShape gives the structurally-checked view.
type ApprovalRule struct {
	ID                  int64     `json:"id"`
	CompanyID           int64     `json:"company_id"`
	RuleType            string    `json:"rule_type"` // percentage, specific_approver, hybrid
	PercentageThreshold *int      `json:"percentage_threshold,omitempty"`
	SpecificApproverID  *int64    `json:"specific_approver_id,omitempty"`
	IsActive            bool      `json:"is_active"`
	CreatedAt           time.Time `json:"created_at"`
}

// RuleShape is the tagged-variant view of an ApprovalRule. The nullable
// columns are collapsed into per-shape payloads so rule evaluation cannot
// observe a threshold on a specific_approver rule or vice versa.
type RuleShape struct {
	Type       string
	Threshold  int   // set for percentage and hybrid
	ApproverID int64 // set for specific_approver and hybrid
}

// Shape converts the stored record into its tagged variant.
// The per-type field presence is enforced on write, so missing payload fields
// here indicate a corrupted row and yield the zero value.
func (r *ApprovalRule) Shape() RuleShape {
	s := RuleShape{Type: r.RuleType}
	if r.PercentageThreshold != nil {
		s.Threshold = *r.PercentageThreshold
	}
	if r.SpecificApproverID != nil {
		s.ApproverID = *r.SpecificApproverID
	}
	return s
}

// ApprovalWorkflow is a named, reusable ordered approver list for a company.
type ApprovalWorkflow struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"company_id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// ApprovalStep is one position in a workflow. StepOrder values are unique
// positive integers within a workflow.
type ApprovalStep struct {
	ID         int64     `json:"id"`
	WorkflowID int64     `json:"workflow_id"`
	ApproverID int64     `json:"approver_id"`
	StepOrder  int       `json:"step_order"`
	CreatedAt  time.Time `json:"created_at"`
}

// ExpenseApproval is one ledger row: the record of a single approver being
// asked to decide one step of one expense. The approver id is snapshotted at
// row creation time and never re-resolved afterwards.
type ExpenseApproval struct {
	ID         int64      `json:"id"`
	ExpenseID  int64      `json:"expense_id"`
	ApproverID int64      `json:"approver_id"`
	StepOrder  int        `json:"step_order"`
	Status     string     `json:"status"` // pending, approved, rejected
	Comments   string     `json:"comments,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"` // set when status leaves pending
	CreatedAt  time.Time  `json:"created_at"`
}

// Decision constants reuse the expense status values for ledger rows.
const (
	DecisionApproved = StatusApproved
	DecisionRejected = StatusRejected
)

// ApprovalFilter holds the optional list filters for ledger queries.
type ApprovalFilter struct {
	ExpenseID  *int64
	ApproverID *int64
	Status     string
	Limit      int
	Offset     int
}

// PendingApproval pairs a pending ledger row with its expense for the
// approver work queue.
type PendingApproval struct {
	Approval ExpenseApproval `json:"approval"`
	Expense  Expense         `json:"expense"`
}
