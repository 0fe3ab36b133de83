package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/expenseflow/expenseflow/internal/models"
	"go.uber.org/zap"
)

// UserRepository is the read-only identity directory view. Users and
// companies are owned by the identity service; this repository never writes.
type UserRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

const userColumns = `id, email, name, role, company_id, manager_id, is_manager_approver, created_at`

func scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	var managerID sql.NullInt64

	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Role,
		&user.CompanyID,
		&managerID,
		&user.IsManagerApprover,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if managerID.Valid {
		user.ManagerID = &managerID.Int64
	}
	return &user, nil
}

// GetByID retrieves a user by ID, returning nil when absent
func (r *UserRepository) GetByID(ctx context.Context, tx *sql.Tx, id int64) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = ?`, userColumns)

	user, err := scanUser(dbOrTx(r.db, tx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListByCompany retrieves all users of a company
func (r *UserRepository) ListByCompany(ctx context.Context, companyID int64) ([]*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE company_id = ? ORDER BY id`, userColumns)

	rows, err := r.db.QueryContext(ctx, query, companyID)
	if err != nil {
		r.logger.Error("Failed to list users", zap.Int64("company_id", companyID), zap.Error(err))
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var user models.User
		var managerID sql.NullInt64
		err := rows.Scan(
			&user.ID,
			&user.Email,
			&user.Name,
			&user.Role,
			&user.CompanyID,
			&managerID,
			&user.IsManagerApprover,
			&user.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		if managerID.Valid {
			user.ManagerID = &managerID.Int64
		}
		users = append(users, &user)
	}
	return users, rows.Err()
}

// CompanyRepository reads company records
type CompanyRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCompanyRepository creates a new company repository
func NewCompanyRepository(db *sql.DB, logger *zap.Logger) *CompanyRepository {
	return &CompanyRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves a company by ID, returning nil when absent
func (r *CompanyRepository) GetByID(ctx context.Context, id int64) (*models.Company, error) {
	query := `SELECT id, name, country, currency, created_at FROM companies WHERE id = ?`

	var company models.Company
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&company.ID,
		&company.Name,
		&company.Country,
		&company.Currency,
		&company.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get company by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return &company, nil
}
