package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nana77mi/lonelycat/pkg/conversation"
)

func TestCreateAndListConversations(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/conversations", createConversationRequest{Title: "first chat"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created conversation.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "first chat", created.Title)

	rec = doRequest(t, s, http.MethodGet, "/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp struct {
		Conversations []conversation.Conversation `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	require.Len(t, listResp.Conversations, 1)
	assert.Equal(t, created.ID, listResp.Conversations[0].ID)
}

func TestUpdateAndDeleteConversation(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/conversations", createConversationRequest{Title: "old title"})
	var created conversation.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	newTitle := "new title"
	rec = doRequest(t, s, http.MethodPatch, "/conversations/"+created.ID, updateConversationRequest{Title: &newTitle})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated conversation.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "new title", updated.Title)

	rec = doRequest(t, s, http.MethodDelete, "/conversations/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/conversations/"+created.ID+"/messages", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMarkConversationReadAndCreateMessage(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/conversations", createConversationRequest{Title: "chat"})
	var created conversation.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doRequest(t, s, http.MethodPatch, "/conversations/"+created.ID+"/mark-read", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/conversations/"+created.ID+"/messages", conversation.CreateMessageRequest{
		Role:    conversation.RoleUser,
		Content: "hello there",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/conversations/"+created.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp struct {
		Messages []conversation.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	require.Len(t, listResp.Messages, 1)
	assert.Equal(t, "hello there", listResp.Messages[0].Content)
}

func TestListConversationRuns_Empty(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/conversations", createConversationRequest{Title: "chat"})
	var created conversation.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doRequest(t, s, http.MethodGet, "/conversations/"+created.ID+"/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Runs []any `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Runs)
}
