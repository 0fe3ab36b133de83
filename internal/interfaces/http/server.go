// Package http is the HTTP adapter for the approval service. It translates
// requests into engine and rule store calls and maps the error taxonomy onto
// status codes.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	DefaultPageSize int
	MaxPageSize     int
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		DefaultPageSize: 10,
		MaxPageSize:     100,
	}
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	handlers   *Handlers
	logger     *zap.Logger
}

// NewServer creates a new HTTP server wired to the given handlers
func NewServer(config ServerConfig, handlers *Handlers, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	server := &Server{
		config:   config,
		router:   router,
		handlers: handlers,
		logger:   logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

// requestIDMiddleware tags every request with an id for log correlation
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// loggingMiddleware logs each request with latency and status
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.String("latency", time.Since(start).String()),
			zap.String("request_id", c.GetString("request_id")),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handlers.HealthCheck)

	api := s.router.Group("/api")
	{
		api.POST("/expenses", s.handlers.CreateExpense)
		api.GET("/expenses", s.handlers.ListExpenses)
		api.GET("/expenses/export", s.handlers.ExportExpenses)
		api.GET("/expenses/by-employee/:employeeId", s.handlers.ListExpensesByEmployee)
		api.GET("/expenses/pending-approvals/:approverId", s.handlers.ListPendingApprovals)
		api.GET("/expenses/:id", s.handlers.GetExpense)
		api.PUT("/expenses/:id", s.handlers.UpdateExpense)
		api.DELETE("/expenses/:id", s.handlers.DeleteExpense)
		api.POST("/expenses/:id/decision", s.handlers.DecideExpense)

		api.GET("/expense-approvals", s.handlers.ListApprovals)
		api.GET("/expense-approvals/:id", s.handlers.GetApproval)

		api.GET("/approval-rules", s.handlers.ListRules)
		api.POST("/approval-rules", s.handlers.CreateRule)
		api.GET("/approval-rules/:id", s.handlers.GetRule)
		api.PUT("/approval-rules/:id", s.handlers.UpdateRule)
		api.DELETE("/approval-rules/:id", s.handlers.DeleteRule)

		api.GET("/approval-workflows", s.handlers.ListWorkflows)
		api.POST("/approval-workflows", s.handlers.CreateWorkflow)
		api.GET("/approval-workflows/:id", s.handlers.GetWorkflow)
		api.PUT("/approval-workflows/:id", s.handlers.UpdateWorkflow)
		api.DELETE("/approval-workflows/:id", s.handlers.DeleteWorkflow)

		api.GET("/approval-steps", s.handlers.ListSteps)
		api.POST("/approval-steps", s.handlers.CreateStep)
		api.GET("/approval-steps/:id", s.handlers.GetStep)
		api.PUT("/approval-steps/:id", s.handlers.UpdateStep)
		api.DELETE("/approval-steps/:id", s.handlers.DeleteStep)
	}
}

// Start starts the HTTP server and blocks until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", zap.Error(err))
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}
