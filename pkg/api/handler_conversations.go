package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nana77mi/lonelycat/pkg/conversation"
)

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// listConversations handles GET /conversations?limit&offset.
func (s *Server) listConversations(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)
	convs, err := s.convStore.ListConversations(c.Request.Context(), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

type createConversationRequest struct {
	Title string          `json:"title"`
	Meta  json.RawMessage `json:"meta"`
}

// createConversation handles POST /conversations.
func (s *Server) createConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	conv, err := s.convStore.CreateConversation(c.Request.Context(), req.Title, req.Meta, time.Now().UTC())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

type updateConversationRequest struct {
	Title *string         `json:"title"`
	Meta  json.RawMessage `json:"meta"`
}

// updateConversation handles PATCH /conversations/{id}.
func (s *Server) updateConversation(c *gin.Context) {
	var req updateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	conv, err := s.convStore.UpdateConversation(c.Request.Context(), c.Param("id"), req.Title, req.Meta, time.Now().UTC())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// deleteConversation handles DELETE /conversations/{id}.
func (s *Server) deleteConversation(c *gin.Context) {
	if err := s.convStore.DeleteConversation(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// markConversationRead handles PATCH /conversations/{id}/mark-read.
func (s *Server) markConversationRead(c *gin.Context) {
	if err := s.convStore.MarkRead(c.Request.Context(), c.Param("id"), time.Now().UTC()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// listMessages handles GET /conversations/{id}/messages?limit&offset.
func (s *Server) listMessages(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)
	msgs, err := s.convStore.ListMessages(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// createMessage handles POST /conversations/{id}/messages, delegating to
// the Orchestrator's create_message algorithm (spec.md §4.13).
func (s *Server) createMessage(c *gin.Context) {
	var req conversation.CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	result, err := s.convOrch.CreateMessage(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// listConversationRuns handles GET /conversations/{id}/runs?limit.
func (s *Server) listConversationRuns(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	runs, err := s.runStore.ListByConversation(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
