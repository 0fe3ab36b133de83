package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/expenseflow/expenseflow/internal/config"
	"github.com/expenseflow/expenseflow/internal/export"
	httpserver "github.com/expenseflow/expenseflow/internal/interfaces/http"
	"github.com/expenseflow/expenseflow/internal/repository"
	"github.com/expenseflow/expenseflow/internal/workflow"
	"github.com/expenseflow/expenseflow/migrations"
	"github.com/expenseflow/expenseflow/pkg/database"
	"github.com/expenseflow/expenseflow/pkg/utils"
)

func main() {
	// Load configuration
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting expense approval service",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	// Initialize database
	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	migrator := database.NewMigrator(db, logger)
	if err := migrator.Run(migrations.FS); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(db.DB, logger)
	companyRepo := repository.NewCompanyRepository(db.DB, logger)
	expenseRepo := repository.NewExpenseRepository(db.DB, logger)
	approvalRepo := repository.NewApprovalRepository(db.DB, logger)
	ruleRepo := repository.NewRuleRepository(db.DB, logger)
	workflowRepo := repository.NewWorkflowRepository(db.DB, logger)

	// Initialize workflow components
	resolver := workflow.NewResolver(userRepo, ruleRepo, workflowRepo, logger)
	engine := workflow.NewEngine(db, expenseRepo, approvalRepo, userRepo, companyRepo, resolver, logger)
	ruleStore := workflow.NewRuleStore(ruleRepo, workflowRepo, userRepo, companyRepo, logger)
	reports := export.NewReportWriter(expenseRepo, userRepo, logger)

	// Initialize HTTP server
	serverConfig := httpserver.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		DefaultPageSize: cfg.Approval.DefaultPageSize,
		MaxPageSize:     cfg.Approval.MaxPageSize,
	}
	handlers := httpserver.NewHandlers(engine, ruleStore, expenseRepo, approvalRepo, ruleRepo, workflowRepo, reports, serverConfig, logger)
	server := httpserver.NewServer(serverConfig, handlers, logger)

	// Start server with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}

	logger.Info("Server shut down cleanly")
}
