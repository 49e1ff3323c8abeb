package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nana77mi/lonelycat/pkg/agentdecision"
	"github.com/nana77mi/lonelycat/pkg/lcerrors"
)

const (
	historyWindow = 40
	historyBuffer = 20
)

// Decider is the Agent Decision collaborator (pkg/agentdecision.Engine
// satisfies this).
type Decider interface {
	Decide(ctx context.Context, req agentdecision.Request) (*agentdecision.Decision, error)
}

// RunCreator creates a run from a Decision's run branch and returns its id
// and a display title for the "task started" hint message.
type RunCreator interface {
	CreateRun(ctx context.Context, run agentdecision.RunDecision) (runID, title string, err error)
}

// ChatFlow is the opaque fallback collaborator spec.md §4.13 step 5
// describes for when the Agent Loop is disabled or Decision fails.
type ChatFlow interface {
	Reply(ctx context.Context, userMessage string, history []Message) (string, error)
}

// FactsProvider supplies the active-facts block for Decision context
// (spec.md §4.12(b): global + current session, excluding revoked/archived).
type FactsProvider interface {
	ActiveFacts(ctx context.Context, conversationID string) ([]agentdecision.Fact, error)
}

// RunsProvider supplies the optional recent-runs list for Decision context.
type RunsProvider interface {
	RecentRuns(ctx context.Context, conversationID string) ([]agentdecision.RunSummary, error)
}

// Config toggles the Agent Loop / Decision branch (spec.md §4.13 step 4).
type Config struct {
	AgentLoopEnabled bool
	AllowedRunTypes  []string
}

// Orchestrator implements create_message (spec.md §4.13).
type Orchestrator struct {
	Store   *Store
	Decider Decider
	Runs    RunCreator
	Chat    ChatFlow
	Facts   FactsProvider
	RunList RunsProvider
	Config  Config

	Now func() time.Time
}

func NewOrchestrator(store *Store, cfg Config) *Orchestrator {
	return &Orchestrator{Store: store, Config: cfg, Now: func() time.Time { return time.Now().UTC() }}
}

// CreateMessage runs spec.md §4.13's full algorithm.
func (o *Orchestrator) CreateMessage(ctx context.Context, conversationID string, req CreateMessageRequest) (*CreateMessageResult, error) {
	now := o.Now()

	// Step 1: idempotency.
	if req.ClientMsgID != "" {
		existing, err := o.Store.GetMessageByClientMsgID(ctx, conversationID, req.ClientMsgID)
		if err == nil {
			return &CreateMessageResult{UserMessage: existing, Duplicate: true}, nil
		}
		if err != lcerrors.ErrNotFound {
			return nil, err
		}
	}

	// Step 2: explicit role shortcut.
	if req.Role != "" {
		msg, err := o.Store.InsertMessage(ctx, Message{
			ConversationID: conversationID,
			Role:           req.Role,
			Content:        req.Content,
			CreatedAt:      now,
			Meta:           req.Meta,
			ClientMsgID:    req.ClientMsgID,
		})
		if err != nil {
			return nil, err
		}
		if err := o.Store.TouchConversation(ctx, conversationID, now); err != nil {
			return nil, err
		}
		return &CreateMessageResult{UserMessage: msg}, nil
	}

	// Step 3: user turn.
	userMsg, err := o.Store.InsertMessage(ctx, Message{
		ConversationID: conversationID,
		Role:           RoleUser,
		Content:        req.Content,
		CreatedAt:      now,
		Meta:           req.Meta,
		ClientMsgID:    req.ClientMsgID,
	})
	if err != nil {
		return nil, err
	}
	if err := o.Store.TouchConversation(ctx, conversationID, now); err != nil {
		return nil, err
	}

	history, err := o.windowedHistory(ctx, conversationID, userMsg.ID)
	if err != nil {
		return nil, err
	}

	assistantContent, sourceRef, meta, err := o.decideOrFallback(ctx, conversationID, req.Content, history)
	if err != nil {
		return nil, err
	}

	assistantMsg, err := o.Store.InsertMessage(ctx, Message{
		ConversationID: conversationID,
		Role:           roleForMeta(meta),
		Content:        assistantContent,
		CreatedAt:      now,
		SourceRef:      sourceRef,
		Meta:           meta,
	})
	if err != nil {
		return nil, err
	}
	if err := o.Store.TouchConversation(ctx, conversationID, now); err != nil {
		return nil, err
	}

	return &CreateMessageResult{UserMessage: userMsg, AssistantMessage: assistantMsg}, nil
}

// windowedHistory implements step 3's bounded history fetch: query up to
// window+buffer messages, reverse to ascending, exclude the just-inserted
// user message, keep only user/assistant roles, then cap to the window.
func (o *Orchestrator) windowedHistory(ctx context.Context, conversationID, justInsertedID string) ([]Message, error) {
	raw, err := o.Store.RecentMessages(ctx, conversationID, historyWindow+historyBuffer)
	if err != nil {
		return nil, err
	}
	var out []Message
	for _, m := range raw {
		if m.ID == justInsertedID {
			continue
		}
		if m.Role != RoleUser && m.Role != RoleAssistant {
			continue
		}
		out = append(out, m)
	}
	if len(out) > historyWindow {
		out = out[len(out)-historyWindow:]
	}
	return out, nil
}

// decideOrFallback implements step 4 (Decision branch) and step 5 (fallback).
func (o *Orchestrator) decideOrFallback(ctx context.Context, conversationID, userMessage string, history []Message) (content string, ref *SourceRef, meta json.RawMessage, err error) {
	if o.Config.AgentLoopEnabled && o.Decider != nil {
		decision, derr := o.runDecision(ctx, conversationID, userMessage, history)
		if derr == nil {
			c, r, m, aerr := o.applyDecision(ctx, conversationID, decision)
			if aerr == nil {
				return c, r, m, nil
			}
			derr = aerr
		}
		slog.Warn("agent decision failed, falling back to chat_flow", "conversation_id", conversationID, "error", derr)
	}

	if o.Chat != nil {
		reply, cerr := o.Chat.Reply(ctx, userMessage, history)
		if cerr == nil {
			return reply, nil, nil, nil
		}
		slog.Error("chat_flow failed", "conversation_id", conversationID, "error", cerr)
		metaJSON, _ := json.Marshal(map[string]any{
			"error":      true,
			"error_type": "worker_failure",
			"error_message": cerr.Error(),
		})
		return "[error] the assistant could not produce a reply: " + cerr.Error(), nil, metaJSON, nil
	}

	metaJSON, _ := json.Marshal(map[string]any{
		"error":         true,
		"error_type":    "worker_failure",
		"error_message": "no chat_flow collaborator configured",
	})
	return "[error] the assistant could not produce a reply", nil, metaJSON, nil
}

func (o *Orchestrator) runDecision(ctx context.Context, conversationID, userMessage string, history []Message) (*agentdecision.Decision, error) {
	var facts []agentdecision.Fact
	if o.Facts != nil {
		var err error
		facts, err = o.Facts.ActiveFacts(ctx, conversationID)
		if err != nil {
			slog.Warn("failed to fetch active facts for decision context", "error", err)
		}
	}
	var recentRuns []agentdecision.RunSummary
	if o.RunList != nil {
		var err error
		recentRuns, err = o.RunList.RecentRuns(ctx, conversationID)
		if err != nil {
			slog.Warn("failed to fetch recent runs for decision context", "error", err)
		}
	}

	hist := make([]agentdecision.HistoryMessage, 0, len(history))
	for _, m := range history {
		hist = append(hist, agentdecision.HistoryMessage{Role: string(m.Role), Content: m.Content})
	}

	return o.Decider.Decide(ctx, agentdecision.Request{
		ConversationID:  conversationID,
		UserMessage:     userMessage,
		History:         hist,
		ActiveFacts:     facts,
		RecentRuns:      recentRuns,
		AllowedRunTypes: o.Config.AllowedRunTypes,
	})
}

func (o *Orchestrator) applyDecision(ctx context.Context, conversationID string, d *agentdecision.Decision) (string, *SourceRef, json.RawMessage, error) {
	var runID string
	switch d.Decision {
	case agentdecision.DecisionRun, agentdecision.DecisionReplyAndRun:
		if o.Runs == nil {
			return "", nil, nil, lcerrors.New(lcerrors.KindDecisionLogic, "decision requires a run but no RunCreator is configured")
		}
		id, title, err := o.Runs.CreateRun(ctx, *d.Run)
		if err != nil {
			return "", nil, nil, err
		}
		runID = id
		if d.Decision == agentdecision.DecisionRun {
			label := title
			if label == "" {
				label = d.Run.Type
			}
			content := fmt.Sprintf("task started: %s, will notify when done", label)
			return content, &SourceRef{Kind: "agent_decision", RefID: conversationID}, decisionMeta(runID), nil
		}
	}

	content := ""
	if d.Reply != nil {
		content = d.Reply.Content
	}
	return content, &SourceRef{Kind: "agent_decision", RefID: conversationID}, decisionMeta(runID), nil
}

func decisionMeta(runID string) json.RawMessage {
	m := map[string]any{"agent_decision": true}
	if runID != "" {
		m["run_id"] = runID
	} else {
		m["run_id"] = nil
	}
	b, _ := json.Marshal(m)
	return b
}

func roleForMeta(meta json.RawMessage) Role {
	if len(meta) == 0 {
		return RoleAssistant
	}
	var m map[string]any
	if err := json.Unmarshal(meta, &m); err == nil {
		if v, ok := m["error"].(bool); ok && v {
			return RoleSystem
		}
	}
	return RoleAssistant
}

// MarkRead implements spec.md §4.14's mark_read: "sets last_read_at =
// max(now, updated_at) + 1 ms; if a post-commit trigger bumps updated_at
// beyond last_read_at, the orchestrator performs one corrective update so
// last_read_at > updated_at".
func (o *Orchestrator) MarkRead(ctx context.Context, conversationID string) error {
	c, err := o.Store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	now := o.Now()
	lastRead := now
	if c.UpdatedAt.After(lastRead) {
		lastRead = c.UpdatedAt
	}
	lastRead = lastRead.Add(time.Millisecond)

	if _, err := o.Store.DB.ExecContext(ctx, `UPDATE conversations SET last_read_at = ? WHERE id = ?`, lastRead, conversationID); err != nil {
		return err
	}

	// Corrective re-check: a concurrent TouchConversation between our read
	// and write could have pushed updated_at past last_read_at.
	refreshed, err := o.Store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !refreshed.UpdatedAt.Before(lastRead) {
		corrected := refreshed.UpdatedAt.Add(time.Millisecond)
		_, err := o.Store.DB.ExecContext(ctx, `UPDATE conversations SET last_read_at = ? WHERE id = ?`, corrected, conversationID)
		return err
	}
	return nil
}
