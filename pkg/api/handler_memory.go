package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nana77mi/lonelycat/pkg/memory"
)

type createProposalRequest struct {
	Key        string           `json:"key" binding:"required"`
	Value      json.RawMessage  `json:"value" binding:"required"`
	Tags       []string         `json:"tags"`
	TTLSeconds *int             `json:"ttl_seconds"`
	Reason     *string          `json:"reason"`
	Confidence *float64         `json:"confidence"`
	ScopeHint  *memory.Scope    `json:"scope_hint"`
	Source     memory.SourceRef `json:"source"`
}

// createProposal handles POST /proposals.
func (s *Server) createProposal(c *gin.Context) {
	var req createProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	p, err := s.memStore.CreateProposal(c.Request.Context(), memory.ProposalInput{
		Key: req.Key, Value: req.Value, Tags: req.Tags, TTLSeconds: req.TTLSeconds,
		Reason: req.Reason, Confidence: req.Confidence, ScopeHint: req.ScopeHint, Source: req.Source,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// listProposals handles GET /proposals?status&scope.
func (s *Server) listProposals(c *gin.Context) {
	status := memory.ProposalStatus(c.DefaultQuery("status", string(memory.ProposalPending)))
	var scopeHint *memory.Scope
	if v := c.Query("scope"); v != "" {
		scope := memory.Scope(v)
		scopeHint = &scope
	}
	proposals, err := s.memStore.ListProposals(c.Request.Context(), status, scopeHint)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": proposals})
}

// getProposal handles GET /proposals/{id}.
func (s *Server) getProposal(c *gin.Context) {
	p, err := s.memStore.GetProposal(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type acceptProposalRequest struct {
	Strategy  *memory.ConflictStrategy `json:"strategy"`
	Scope     *memory.Scope            `json:"scope"`
	ProjectID *string                  `json:"project_id"`
	SessionID *string                  `json:"session_id"`
}

// acceptProposal handles POST /proposals/{id}/accept.
func (s *Server) acceptProposal(c *gin.Context) {
	var req acceptProposalRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}
	proposal, fact, err := s.memStore.AcceptProposal(c.Request.Context(), c.Param("id"), memory.AcceptOptions{
		Strategy: req.Strategy, Scope: req.Scope, ProjectID: req.ProjectID, SessionID: req.SessionID,
		Actor: memory.SystemActor,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposal": proposal, "fact": fact})
}

// rejectProposal handles POST /proposals/{id}/reject.
func (s *Server) rejectProposal(c *gin.Context) {
	p, err := s.memStore.RejectProposal(c.Request.Context(), c.Param("id"), memory.SystemActor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// expireProposal handles POST /proposals/{id}/expire.
func (s *Server) expireProposal(c *gin.Context) {
	p, err := s.memStore.ExpireProposal(c.Request.Context(), c.Param("id"), memory.SystemActor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// checkExpiredProposals handles POST /maintenance/check-expired: sweeps
// pending proposals whose TTL has elapsed (spec.md §4.10's expiry sweep).
func (s *Server) checkExpiredProposals(c *gin.Context) {
	ids, err := s.memStore.CheckExpiredProposals(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired_ids": ids})
}

// listFacts handles GET /facts?scope&project_id&session_id&status.
func (s *Server) listFacts(c *gin.Context) {
	var scope *memory.Scope
	if v := c.Query("scope"); v != "" {
		sc := memory.Scope(v)
		scope = &sc
	}
	var projectID, sessionID *string
	if v := c.Query("project_id"); v != "" {
		projectID = &v
	}
	if v := c.Query("session_id"); v != "" {
		sessionID = &v
	}
	status := memory.FactStatus(c.DefaultQuery("status", string(memory.FactActive)))
	facts, err := s.memStore.ListFacts(c.Request.Context(), scope, projectID, sessionID, status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"facts": facts})
}

// getFact handles GET /facts/{id}.
func (s *Server) getFact(c *gin.Context) {
	f, err := s.memStore.GetFact(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// getFactByKey handles GET /facts/key/{key}?scope&project_id&session_id.
func (s *Server) getFactByKey(c *gin.Context) {
	scope := memory.Scope(c.DefaultQuery("scope", string(memory.ScopeGlobal)))
	var projectID, sessionID *string
	if v := c.Query("project_id"); v != "" {
		projectID = &v
	}
	if v := c.Query("session_id"); v != "" {
		sessionID = &v
	}
	f, err := s.memStore.GetFactByKey(c.Request.Context(), c.Param("key"), scope, projectID, sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// revokeFact handles POST /facts/{id}/revoke.
func (s *Server) revokeFact(c *gin.Context) {
	f, err := s.memStore.RevokeFact(c.Request.Context(), c.Param("id"), memory.SystemActor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// archiveFact handles POST /facts/{id}/archive.
func (s *Server) archiveFact(c *gin.Context) {
	f, err := s.memStore.ArchiveFact(c.Request.Context(), c.Param("id"), memory.SystemActor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// reactivateFact handles POST /facts/{id}/reactivate.
func (s *Server) reactivateFact(c *gin.Context) {
	f, err := s.memStore.ReactivateFact(c.Request.Context(), c.Param("id"), memory.SystemActor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// listAudit handles GET /audit?target_type&target_id&event_type.
func (s *Server) listAudit(c *gin.Context) {
	events, err := s.auditLog.ListAuditEvents(c.Request.Context(),
		c.Query("target_type"), c.Query("target_id"), c.Query("event_type"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
