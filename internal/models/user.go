package models

import "time"

// User represents an employee, manager, or admin belonging to a company.
// User records are owned by the identity service; this service only reads them.
type User struct {
	ID                int64     `json:"id"`
	Email             string    `json:"email"`
	Name              string    `json:"name"`
	Role              string    `json:"role"` // admin, manager, employee
	CompanyID         int64     `json:"company_id"`
	ManagerID         *int64    `json:"manager_id,omitempty"`
	IsManagerApprover bool      `json:"is_manager_approver"`
	CreatedAt         time.Time `json:"created_at"`
}

// Role constants
const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleEmployee = "employee"
)

// CanApprove reports whether the user's role permits acting as an approver.
func (u *User) CanApprove() bool {
	return u.Role == RoleAdmin || u.Role == RoleManager
}

// Company represents a tenant. The currency is the company's reporting
// currency; all expense converted amounts are expressed in it.
type Company struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Country   string    `json:"country"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}
