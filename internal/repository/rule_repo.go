package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/expenseflow/expenseflow/internal/models"
	"go.uber.org/zap"
)

// RuleRepository handles approval rule database operations
type RuleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *sql.DB, logger *zap.Logger) *RuleRepository {
	return &RuleRepository{
		db:     db,
		logger: logger,
	}
}

const ruleColumns = `id, company_id, rule_type, percentage_threshold, specific_approver_id, is_active, created_at`

// Create inserts a new approval rule
func (r *RuleRepository) Create(ctx context.Context, rule *models.ApprovalRule) error {
	query := `
		INSERT INTO approval_rules (
			company_id, rule_type, percentage_threshold, specific_approver_id, is_active, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	rule.CreatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query,
		rule.CompanyID,
		rule.RuleType,
		rule.PercentageThreshold,
		rule.SpecificApproverID,
		rule.IsActive,
		rule.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create rule", zap.Error(err))
		return fmt.Errorf("failed to create rule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	rule.ID = id
	return nil
}

// GetByID retrieves a rule by ID, returning nil when absent
func (r *RuleRepository) GetByID(ctx context.Context, id int64) (*models.ApprovalRule, error) {
	query := fmt.Sprintf(`SELECT %s FROM approval_rules WHERE id = ?`, ruleColumns)

	rule, err := scanRuleRow(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get rule by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// GetActiveByCompany retrieves the company's active rule, newest first,
// returning nil when the company has none. Fetched per decision, uncached,
// so concurrent rule edits are observed immediately.
func (r *RuleRepository) GetActiveByCompany(ctx context.Context, tx *sql.Tx, companyID int64) (*models.ApprovalRule, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM approval_rules
		WHERE company_id = ? AND is_active = 1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, ruleColumns)

	rule, err := scanRuleRow(dbOrTx(r.db, tx).QueryRowContext(ctx, query, companyID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get active rule", zap.Int64("company_id", companyID), zap.Error(err))
		return nil, fmt.Errorf("failed to get active rule: %w", err)
	}
	return rule, nil
}

// List retrieves rules with optional company/type/active filters
func (r *RuleRepository) List(ctx context.Context, companyID *int64, ruleType string, isActive *bool, limit, offset int) ([]*models.ApprovalRule, error) {
	var conditions []string
	var args []interface{}

	if companyID != nil {
		conditions = append(conditions, "company_id = ?")
		args = append(args, *companyID)
	}
	if ruleType != "" {
		conditions = append(conditions, "rule_type = ?")
		args = append(args, ruleType)
	}
	if isActive != nil {
		conditions = append(conditions, "is_active = ?")
		args = append(args, *isActive)
	}

	query := fmt.Sprintf(`SELECT %s FROM approval_rules`, ruleColumns)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list rules", zap.Error(err))
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.ApprovalRule
	for rows.Next() {
		var rule models.ApprovalRule
		var threshold sql.NullInt64
		var approverID sql.NullInt64

		err := rows.Scan(
			&rule.ID,
			&rule.CompanyID,
			&rule.RuleType,
			&threshold,
			&approverID,
			&rule.IsActive,
			&rule.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}

		if threshold.Valid {
			t := int(threshold.Int64)
			rule.PercentageThreshold = &t
		}
		if approverID.Valid {
			rule.SpecificApproverID = &approverID.Int64
		}
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

// Update saves a rule record
func (r *RuleRepository) Update(ctx context.Context, rule *models.ApprovalRule) error {
	query := `
		UPDATE approval_rules
		SET rule_type = ?, percentage_threshold = ?, specific_approver_id = ?, is_active = ?
		WHERE id = ?
	`

	_, err := r.db.ExecContext(ctx, query,
		rule.RuleType,
		rule.PercentageThreshold,
		rule.SpecificApproverID,
		rule.IsActive,
		rule.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update rule", zap.Int64("id", rule.ID), zap.Error(err))
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return nil
}

// Delete removes a rule
func (r *RuleRepository) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM approval_rules WHERE id = ?`, id)
	if err != nil {
		r.logger.Error("Failed to delete rule", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to delete rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

func scanRuleRow(row *sql.Row) (*models.ApprovalRule, error) {
	var rule models.ApprovalRule
	var threshold sql.NullInt64
	var approverID sql.NullInt64

	err := row.Scan(
		&rule.ID,
		&rule.CompanyID,
		&rule.RuleType,
		&threshold,
		&approverID,
		&rule.IsActive,
		&rule.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if threshold.Valid {
		t := int(threshold.Int64)
		rule.PercentageThreshold = &t
	}
	if approverID.Valid {
		rule.SpecificApproverID = &approverID.Int64
	}
	return &rule, nil
}
