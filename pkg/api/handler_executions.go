package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nana77mi/lonelycat/pkg/store"
)

// listExecutions handles GET /executions?limit&offset&status&verdict&risk_level&since&correlation_id.
func (s *Server) listExecutions(c *gin.Context) {
	f := store.ListFilters{
		Limit:         queryInt(c, "limit", 50),
		Offset:        queryInt(c, "offset", 0),
		Status:        c.Query("status"),
		Verdict:       c.Query("verdict"),
		RiskLevel:     c.Query("risk_level"),
		CorrelationID: c.Query("correlation_id"),
	}
	if v := c.Query("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.Since = &t
		}
	}
	execs, err := s.execStore.ListExecutions(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": execs})
}

// getExecution handles GET /executions/{id}.
func (s *Server) getExecution(c *gin.Context) {
	rec, err := s.execStore.GetExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// listExecutionsByCorrelation handles GET /executions/correlation/{cid}?limit.
func (s *Server) listExecutionsByCorrelation(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	execs, err := s.execStore.ListExecutionsByCorrelation(c.Request.Context(), c.Param("cid"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": execs})
}

// getExecutionStatistics handles GET /executions/statistics.
func (s *Server) getExecutionStatistics(c *gin.Context) {
	stats, err := s.execStore.GetStatistics(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// getExecutionLineage handles GET /executions/{id}/lineage?depth=20.
func (s *Server) getExecutionLineage(c *gin.Context) {
	depth := queryInt(c, "depth", 20)
	lineage, err := s.execStore.GetExecutionLineage(c.Request.Context(), c.Param("id"), depth)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lineage)
}

// getExecutionArtifacts handles GET /executions/{id}/artifacts, returning
// the full replay bundle's artifact portion (step logs, stdout/stderr) from
// the execution's evidence directory (spec.md §4.6).
func (s *Server) getExecutionArtifacts(c *gin.Context) {
	replay, err := s.artifacts.Replay(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"step_logs": replay.StepLogs,
		"stdout":    replay.Stdout,
		"stderr":    replay.Stderr,
	})
}

// replayExecution handles GET /executions/{id}/replay, returning the full
// four-piece evidence set plus step logs and captured output (spec.md §4.6).
func (s *Server) replayExecution(c *gin.Context) {
	replay, err := s.artifacts.Replay(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, replay)
}
