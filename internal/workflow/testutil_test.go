package workflow

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/expenseflow/expenseflow/internal/repository"
	"github.com/expenseflow/expenseflow/migrations"
	"github.com/expenseflow/expenseflow/pkg/database"
)

// testEnv wires the engine and its collaborators against a throwaway SQLite
// database with the real schema applied.
type testEnv struct {
	db        *database.DB
	engine    *Engine
	resolver  *Resolver
	ruleStore *RuleStore
	expenses  *repository.ExpenseRepository
	approvals *repository.ApprovalRepository
	users     *repository.UserRepository
	rules     *repository.RuleRepository
	workflows *repository.WorkflowRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := zap.NewNop()
	db, err := database.New(database.Config{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).Run(migrations.FS))

	users := repository.NewUserRepository(db.DB, logger)
	companies := repository.NewCompanyRepository(db.DB, logger)
	expenses := repository.NewExpenseRepository(db.DB, logger)
	approvals := repository.NewApprovalRepository(db.DB, logger)
	rules := repository.NewRuleRepository(db.DB, logger)
	workflows := repository.NewWorkflowRepository(db.DB, logger)

	resolver := NewResolver(users, rules, workflows, logger)

	return &testEnv{
		db:        db,
		engine:    NewEngine(db, expenses, approvals, users, companies, resolver, logger),
		resolver:  resolver,
		ruleStore: NewRuleStore(rules, workflows, users, companies, logger),
		expenses:  expenses,
		approvals: approvals,
		users:     users,
		rules:     rules,
		workflows: workflows,
	}
}

func (env *testEnv) seedCompany(t *testing.T) int64 {
	t.Helper()
	res, err := env.db.Exec(`INSERT INTO companies (name, country, currency) VALUES ('Acme', 'US', 'USD')`)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func (env *testEnv) seedUser(t *testing.T, email, role string, companyID int64, managerID *int64, isManagerApprover bool) int64 {
	t.Helper()
	res, err := env.db.Exec(
		`INSERT INTO users (email, name, role, company_id, manager_id, is_manager_approver) VALUES (?, ?, ?, ?, ?, ?)`,
		email, email, role, companyID, managerID, isManagerApprover,
	)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func (env *testEnv) seedWorkflow(t *testing.T, companyID int64, approverIDs ...int64) int64 {
	t.Helper()
	res, err := env.db.Exec(
		`INSERT INTO approval_workflows (company_id, name, is_active) VALUES (?, 'Standard', 1)`, companyID)
	require.NoError(t, err)
	workflowID, err := res.LastInsertId()
	require.NoError(t, err)
	for i, approverID := range approverIDs {
		_, err := env.db.Exec(
			`INSERT INTO approval_steps (workflow_id, approver_id, step_order) VALUES (?, ?, ?)`,
			workflowID, approverID, i+1)
		require.NoError(t, err)
	}
	return workflowID
}

func (env *testEnv) seedRule(t *testing.T, companyID int64, ruleType string, threshold *int, approverID *int64) int64 {
	t.Helper()
	res, err := env.db.Exec(
		`INSERT INTO approval_rules (company_id, rule_type, percentage_threshold, specific_approver_id, is_active) VALUES (?, ?, ?, ?, 1)`,
		companyID, ruleType, threshold, approverID)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }
