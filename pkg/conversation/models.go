// Package conversation implements the Conversation Orchestrator (spec.md
// §4.13): create_message idempotency, the explicit-role shortcut, the user
// turn, the Agent Decision branch, the chat_flow fallback, and the
// never-leave-without-a-terminating-message guarantee.
//
// Grounded on the teacher's pkg/services validate-then-transact-then-commit
// idiom (session_service.go's CreateSession, message_service.go's
// CreateMessage), translated from Ent builders into explicit database/sql
// statements over pkg/store's SQLite connection, and on spec.md §4.13's own
// numbered algorithm.
package conversation

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// SourceRef records what produced a message (spec.md §4.12/§4.13/§4.14's
// source_ref.kind/ref_id idiom, shared across agent_decision/run/run_done).
type SourceRef struct {
	Kind  string `json:"kind"`
	RefID string `json:"ref_id"`
}

type Conversation struct {
	ID         string
	Title      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastReadAt *time.Time
	Meta       json.RawMessage
}

// HasUnread computes spec.md §4.14's unread rule: "has_unread = updated_at >
// (last_read_at ?? created_at)". Never stored.
func (c Conversation) HasUnread() bool {
	baseline := c.CreatedAt
	if c.LastReadAt != nil {
		baseline = *c.LastReadAt
	}
	return c.UpdatedAt.After(baseline)
}

type Message struct {
	ID             string
	ConversationID string
	Role           Role
	Content        string
	CreatedAt      time.Time
	SourceRef      *SourceRef
	Meta           json.RawMessage
	ClientMsgID    string
}

// CreateMessageRequest is create_message's input (spec.md §4.13).
type CreateMessageRequest struct {
	// ClientMsgID, if set, makes the call idempotent on (conversation_id, client_msg_id).
	ClientMsgID string
	// Role, if non-empty, takes the "explicit role shortcut" (step 2):
	// insert verbatim and return, skipping the Decision branch entirely.
	Role    Role
	Content string
	Meta    json.RawMessage
}

// CreateMessageResult is create_message's output: the inserted message(s)
// and whether this call was a no-op duplicate.
type CreateMessageResult struct {
	UserMessage      *Message
	AssistantMessage *Message
	Duplicate        bool
}
