// Package export renders expense reports as Excel workbooks.
package export

import (
	"context"
	"fmt"
	"io"

	"github.com/expenseflow/expenseflow/internal/models"
	"github.com/expenseflow/expenseflow/internal/repository"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	reportSheet  = "Expenses"
	headerRow    = 1
	dataRowStart = 2
)

var reportHeaders = []string{
	"ID", "Employee", "Category", "Description", "Amount", "Currency",
	"Converted Amount", "Status", "Current Step", "Expense Date", "Created At",
}

// ReportWriter generates per-company expense reports.
type ReportWriter struct {
	expenses *repository.ExpenseRepository
	users    *repository.UserRepository
	logger   *zap.Logger
}

// NewReportWriter creates a new report writer
func NewReportWriter(
	expenses *repository.ExpenseRepository,
	users *repository.UserRepository,
	logger *zap.Logger,
) *ReportWriter {
	return &ReportWriter{
		expenses: expenses,
		users:    users,
		logger:   logger,
	}
}

// WriteCompanyReport writes an XLSX workbook listing a company's expenses
// matching the filter to w.
func (r *ReportWriter) WriteCompanyReport(ctx context.Context, w io.Writer, companyID int64, filter models.ExpenseFilter) error {
	filter.CompanyID = &companyID
	expenses, err := r.expenses.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to load expenses: %w", err)
	}

	names, err := r.employeeNames(ctx, companyID)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet, err := f.NewSheet(reportSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(sheet)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to remove default sheet: %w", err)
	}

	for col, header := range reportHeaders {
		cell, err := excelize.CoordinatesToCellName(col+1, headerRow)
		if err != nil {
			return fmt.Errorf("failed to compute header cell: %w", err)
		}
		if err := f.SetCellValue(reportSheet, cell, header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}

	for i, expense := range expenses {
		row := dataRowStart + i
		values := []interface{}{
			expense.ID,
			names[expense.EmployeeID],
			expense.Category,
			expense.Description,
			expense.Amount,
			expense.Currency,
			expense.ConvertedAmount,
			expense.Status,
			expense.CurrentApprovalStep,
			expense.ExpenseDate.Format("2006-01-02"),
			expense.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return fmt.Errorf("failed to compute cell: %w", err)
			}
			if err := f.SetCellValue(reportSheet, cell, value); err != nil {
				return fmt.Errorf("failed to write row %d: %w", row, err)
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	r.logger.Info("Expense report generated",
		zap.Int64("company_id", companyID),
		zap.Int("rows", len(expenses)))
	return nil
}

// employeeNames maps user ids to display names for the report
func (r *ReportWriter) employeeNames(ctx context.Context, companyID int64) (map[int64]string, error) {
	users, err := r.users.ListByCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load employees: %w", err)
	}
	names := make(map[int64]string, len(users))
	for _, user := range users {
		names[user.ID] = user.Name
	}
	return names, nil
}
