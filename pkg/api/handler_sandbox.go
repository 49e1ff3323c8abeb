package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/nana77mi/lonelycat/pkg/sandbox"
)

// createSandboxExec handles POST /sandbox/execs, honoring the
// Idempotency-Key header per spec.md §4.11.
func (s *Server) createSandboxExec(c *gin.Context) {
	if s.sandboxRun == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sandbox runner unavailable"})
		return
	}
	var req sandbox.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	req.RequestID = c.GetHeader("X-Request-ID")

	result, err := s.sandboxRun.Run(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"record": result.Record, "manifest": result.Manifest})
}

// listSandboxExecs handles GET /sandbox/execs?task_id=.
func (s *Server) listSandboxExecs(c *gin.Context) {
	taskID := c.Query("task_id")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_id is required"})
		return
	}
	recs, err := s.sandboxSt.ListByTaskID(c.Request.Context(), taskID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"execs": recs})
}

// getSandboxExec handles GET /sandbox/execs/{id}.
func (s *Server) getSandboxExec(c *gin.Context) {
	rec, err := s.sandboxSt.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// listSandboxArtifacts handles GET /sandbox/execs/{id}/artifacts, reading
// the manifest.json the Runner wrote alongside the exec's stdout/stderr
// (spec.md §4.11 Completion).
func (s *Server) listSandboxArtifacts(c *gin.Context) {
	rec, err := s.sandboxSt.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	b, err := os.ReadFile(filepath.Join(rec.ArtifactsPath, "manifest.json"))
	if os.IsNotExist(err) {
		c.JSON(http.StatusOK, gin.H{"artifacts": []sandbox.ManifestEntry{}})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	var manifest []sandbox.ManifestEntry
	if err := json.Unmarshal(b, &manifest); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": manifest})
}

// getSandboxStream returns a handler for GET /sandbox/execs/{id}/stdout|stderr,
// which serve the exec's captured output files directly, and /observation,
// which synthesizes a compact tool-result summary from the record (the
// Runner persists stdout.txt/stderr.txt/manifest.json but no separate
// observation file, since "observation" is an API-level view rather than a
// fourth artifact on disk).
func (s *Server) getSandboxStream(stream string) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := s.sandboxSt.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}

		switch stream {
		case "stdout", "stderr":
			b, err := os.ReadFile(filepath.Join(rec.ArtifactsPath, stream+".txt"))
			if err != nil && !os.IsNotExist(err) {
				writeError(c, err)
				return
			}
			c.Data(http.StatusOK, "text/plain; charset=utf-8", b)
		case "observation":
			c.JSON(http.StatusOK, gin.H{
				"exec_id":          rec.ExecID,
				"status":           rec.Status,
				"exit_code":        rec.ExitCode,
				"stdout_truncated": rec.StdoutTruncated,
				"stderr_truncated": rec.StderrTruncated,
				"error_reason":     rec.ErrorReason,
			})
		}
	}
}

// handleSandboxHealth handles GET /sandbox/health?probe=0|1. probe=1 pings
// the Docker daemon directly; probe=0 (default) only reports whether a
// runner is wired at all, matching the teacher's health endpoint's
// preference for a safe, unauthenticated default response that avoids
// hitting external dependencies on every check.
func (s *Server) handleSandboxHealth(c *gin.Context) {
	if s.sandboxRun == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "no sandbox runner configured"})
		return
	}
	if c.Query("probe") != "1" {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		return
	}
	if err := s.sandboxRun.Docker.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
