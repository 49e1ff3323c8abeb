// Package api provides the LonelyCat HTTP API (spec.md §6), serving the
// Conversations, Memory, Sandbox, and Executions resource groups over gin.
//
// Grounded on the teacher's cmd/tarsy/main.go bootstrap (gin.Default(),
// gin.SetMode from GIN_MODE, a /health endpoint backed by a DB ping) rather
// than on pkg/api/server.go's echo-based Server: that file builds an
// *echo.Echo and wires TARSy-specific services (alerts, chat sessions,
// runbooks) that have no LonelyCat equivalent, while cmd/tarsy/main.go shows
// gin already wired as this module's actual HTTP stack for the one handler
// it hand-rolls. This package generalizes that gin idiom into a full
// Server/setupRoutes structure across every resource group spec.md §6 names.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nana77mi/lonelycat/pkg/artifact"
	"github.com/nana77mi/lonelycat/pkg/conversation"
	"github.com/nana77mi/lonelycat/pkg/memory"
	"github.com/nana77mi/lonelycat/pkg/runqueue"
	"github.com/nana77mi/lonelycat/pkg/sandbox"
	"github.com/nana77mi/lonelycat/pkg/store"
	"github.com/nana77mi/lonelycat/pkg/version"
)

// Server is the LonelyCat HTTP API server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	db         *sql.DB

	convOrch   *conversation.Orchestrator
	convStore  *conversation.Store
	runStore   *runqueue.Store
	memStore   *memory.Store
	auditLog   *memory.AuditLogger
	sandboxRun *sandbox.Runner
	sandboxSt  *sandbox.Store
	execStore  *store.ExecutionStore
	artifacts  *artifact.Manager
}

// NewServer builds the router and registers every route. Every dependency
// is required except sandboxRun, which may be nil in environments without a
// Docker daemon (GET /sandbox/health?probe=1 reports that as unhealthy).
func NewServer(
	db *sql.DB,
	convOrch *conversation.Orchestrator,
	convStore *conversation.Store,
	runStore *runqueue.Store,
	memStore *memory.Store,
	auditLog *memory.AuditLogger,
	sandboxRun *sandbox.Runner,
	sandboxSt *sandbox.Store,
	execStore *store.ExecutionStore,
	artifacts *artifact.Manager,
) *Server {
	e := gin.New()
	e.Use(gin.Recovery(), requestLogger(), securityHeaders())

	s := &Server{
		engine:     e,
		db:         db,
		convOrch:   convOrch,
		convStore:  convStore,
		runStore:   runStore,
		memStore:   memStore,
		auditLog:   auditLog,
		sandboxRun: sandboxRun,
		sandboxSt:  sandboxSt,
		execStore:  execStore,
		artifacts:  artifacts,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)

	conv := s.engine.Group("/conversations")
	{
		conv.GET("", s.listConversations)
		conv.POST("", s.createConversation)
		conv.PATCH("/:id", s.updateConversation)
		conv.DELETE("/:id", s.deleteConversation)
		conv.PATCH("/:id/mark-read", s.markConversationRead)
		conv.GET("/:id/messages", s.listMessages)
		conv.POST("/:id/messages", s.createMessage)
		conv.GET("/:id/runs", s.listConversationRuns)
	}

	proposals := s.engine.Group("/proposals")
	{
		proposals.POST("", s.createProposal)
		proposals.GET("", s.listProposals)
		proposals.GET("/:id", s.getProposal)
		proposals.POST("/:id/accept", s.acceptProposal)
		proposals.POST("/:id/reject", s.rejectProposal)
		proposals.POST("/:id/expire", s.expireProposal)
	}

	facts := s.engine.Group("/facts")
	{
		facts.GET("", s.listFacts)
		facts.GET("/:id", s.getFact)
		facts.GET("/key/:key", s.getFactByKey)
		facts.POST("/:id/revoke", s.revokeFact)
		facts.POST("/:id/archive", s.archiveFact)
		facts.POST("/:id/reactivate", s.reactivateFact)
	}
	s.engine.GET("/audit", s.listAudit)
	s.engine.POST("/maintenance/check-expired", s.checkExpiredProposals)

	execs := s.engine.Group("/sandbox/execs")
	{
		execs.POST("", s.createSandboxExec)
		execs.GET("", s.listSandboxExecs)
		execs.GET("/:id", s.getSandboxExec)
		execs.GET("/:id/artifacts", s.listSandboxArtifacts)
		execs.GET("/:id/stdout", s.getSandboxStream("stdout"))
		execs.GET("/:id/stderr", s.getSandboxStream("stderr"))
		execs.GET("/:id/observation", s.getSandboxStream("observation"))
	}
	s.engine.GET("/sandbox/health", s.handleSandboxHealth)

	executions := s.engine.Group("/executions")
	{
		executions.GET("", s.listExecutions)
		executions.GET("/correlation/:cid", s.listExecutionsByCorrelation)
		executions.GET("/statistics", s.getExecutionStatistics)
		executions.GET("/:id", s.getExecution)
		executions.GET("/:id/artifacts", s.getExecutionArtifacts)
		executions.GET("/:id/replay", s.replayExecution)
		executions.GET("/:id/lineage", s.getExecutionLineage)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error(), "version": version.Full()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": version.Full()})
}

// Start runs the HTTP server until the process is asked to shut down.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	slog.Info("lonelycat api listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests before returning.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
