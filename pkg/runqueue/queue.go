package runqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nana77mi/lonelycat/pkg/conversation"
	"github.com/nana77mi/lonelycat/pkg/lcerrors"
)

// Queue implements complete_success/complete_failure/emit_run_message/
// _wake_parent_run_if_waiting (spec.md §4.14).
type Queue struct {
	Runs          *Store
	Conversations *conversation.Store
	Now           func() time.Time
}

func NewQueue(runs *Store, conversations *conversation.Store) *Queue {
	return &Queue{Runs: runs, Conversations: conversations, Now: func() time.Time { return time.Now().UTC() }}
}

// CompleteSuccess transitions a run to succeeded and emits its message.
func (q *Queue) CompleteSuccess(ctx context.Context, runID string, output json.RawMessage) error {
	return q.complete(ctx, runID, StatusSucceeded, output, "")
}

// CompleteFailure transitions a run to failed and emits its message.
func (q *Queue) CompleteFailure(ctx context.Context, runID string, errMsg string) error {
	return q.complete(ctx, runID, StatusFailed, nil, errMsg)
}

func (q *Queue) complete(ctx context.Context, runID string, status Status, output json.RawMessage, errMsg string) error {
	run, err := q.Runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	run.Status = status
	run.Output = output
	run.Error = errMsg
	run.UpdatedAt = q.Now()
	run.WorkerID = nil
	run.LeaseExpiresAt = nil

	if err := q.Runs.update(ctx, run); err != nil {
		return err
	}
	return q.EmitRunMessage(ctx, run)
}

// EmitRunMessage implements spec.md §4.14's emit_run_message.
func (q *Queue) EmitRunMessage(ctx context.Context, run *Run) error {
	runTypeNorm := normalizeRunType(run.Type)

	// Step 1: run_code_snippet with a parent_run_id is orchestrated — no
	// message here, only wake the parent.
	if runTypeNorm == "run_code_snippet" && hasParentRunID(run) {
		return q.wakeParentRunIfWaiting(ctx, run)
	}

	// Step 2: idempotency — an existing "run"/"run_done" message for this run id.
	exists, err := q.hasCompletionMessage(ctx, run.ID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	content, sourceRef := composeRunMessage(run, runTypeNorm)
	now := q.Now()

	// Step 4/5: existing conversation vs. new conversation.
	if run.ConversationID != nil && *run.ConversationID != "" {
		if _, err := q.Conversations.GetConversation(ctx, *run.ConversationID); err != nil {
			if err == lcerrors.ErrNotFound {
				slog.Warn("conversation not found for run completion message", "conversation_id", *run.ConversationID, "run_id", run.ID)
				return nil
			}
			return err
		}
		if _, err := q.Conversations.InsertMessage(ctx, conversation.Message{
			ConversationID: *run.ConversationID,
			Role:           conversation.RoleAssistant,
			Content:        content,
			CreatedAt:      now,
			SourceRef:      sourceRef,
		}); err != nil {
			return err
		}
		return q.Conversations.TouchConversation(ctx, *run.ConversationID, now)
	}

	convID := uuid.New().String()
	title := run.Title
	if title == "" {
		title = run.Type
	}
	meta, _ := json.Marshal(map[string]any{
		"kind":         "system_run",
		"run_id":       run.ID,
		"origin":       "run",
		"channel_hint": "web",
	})
	// updated_at = created_at + 1ms so has_unread computes true even on
	// clock-resolution edge cases (spec.md §4.14 step 5).
	messageTime := now.Add(time.Millisecond)
	if _, err := q.Conversations.EnsureConversation(ctx, convID, fmt.Sprintf("Task completed: %s", title), meta, now); err != nil {
		return err
	}
	if err := q.Conversations.TouchConversation(ctx, convID, messageTime); err != nil {
		return err
	}
	_, err = q.Conversations.InsertMessage(ctx, conversation.Message{
		ConversationID: convID,
		Role:           conversation.RoleAssistant,
		Content:        content,
		CreatedAt:      messageTime,
		SourceRef:      sourceRef,
	})
	return err
}

func (q *Queue) hasCompletionMessage(ctx context.Context, runID string) (bool, error) {
	for _, kind := range []string{"run", "run_done"} {
		row := q.Conversations.DB.QueryRowContext(ctx,
			`SELECT 1 FROM messages WHERE source_ref_kind = ? AND source_ref_id = ? LIMIT 1`, kind, runID)
		var one int
		if err := row.Scan(&one); err == nil {
			return true, nil
		}
	}
	return false, nil
}

// composeRunMessage builds content + source_ref per run type (spec.md
// §4.14 step 3), mirroring run_messages.py's emit_run_message body.
func composeRunMessage(run *Run, runTypeNorm string) (string, *conversation.SourceRef) {
	if runTypeNorm == "agent_loop_turn" {
		content := taskDoneContent(run)
		return content, &conversation.SourceRef{Kind: "run_done", RefID: run.ID}
	}

	label := run.Title
	if label == "" {
		label = run.Type
	}
	var content string
	switch run.Status {
	case StatusSucceeded:
		content = formatSuccessContent(run, runTypeNorm, label)
	case StatusFailed:
		errMsg := run.Error
		if errMsg == "" {
			errMsg = "unknown error"
		}
		content = fmt.Sprintf("Task failed: %s\n\nError: %s", label, errMsg)
	case StatusCanceled:
		content = fmt.Sprintf("Task canceled: %s", label)
	default:
		content = fmt.Sprintf("Task status: %s - %s", run.Status, label)
	}
	return content, &conversation.SourceRef{Kind: "run", RefID: run.ID}
}

func taskDoneContent(run *Run) string {
	switch run.Status {
	case StatusSucceeded:
		if reply := extractField(run.Output, "final_reply"); reply != "" {
			return reply
		}
		return "Task completed"
	case StatusFailed:
		errMsg := run.Error
		if errMsg == "" {
			errMsg = "unknown error"
		}
		return fmt.Sprintf("Task failed: %s", errMsg)
	case StatusCanceled:
		return "Task canceled"
	default:
		return fmt.Sprintf("Task status: %s", run.Status)
	}
}

// formatSuccessContent implements the type-specific formatting spec.md
// §4.14 step 3 describes: research-report renders artifacts.report.text as
// a report block, conversation-summary renders the summary text under an
// emoji header carrying the message count, code-snippet prefers an
// extracted reply.
func formatSuccessContent(run *Run, runTypeNorm, label string) string {
	switch runTypeNorm {
	case "summarize_conversation", "conversation_summary":
		if summary := extractField(run.Output, "summary"); summary != "" {
			count := extractNumberField(run.Output, "message_count")
			return fmt.Sprintf("\U0001F4DD Conversation summary (last %d messages):\n\n%s", count, summary)
		}
	case "research_report":
		if text := extractNested(run.Output, "artifacts", "report", "text"); text != "" {
			return fmt.Sprintf("\U0001F4CB Research report:\n\n%s", text)
		}
		query := extractNested(run.Output, "result", "query")
		return fmt.Sprintf("Research completed: %s", orDash(query))
	case "run_code_snippet":
		if reply := extractReply(run.Output); reply != "" {
			return reply
		}
		execID := extractNested(run.Output, "result", "exec_id")
		return fmt.Sprintf("Code execution completed (exec_id=%s). See the task detail for full output.", orUnknown(execID))
	}
	return fmt.Sprintf("Task completed: %s\n\n%s", label, summarizeOutput(run.Output))
}

// extractReply mirrors _extract_reply's preference for a human reply field
// over the raw result blob.
func extractReply(output json.RawMessage) string {
	if r := extractNested(output, "result", "reply"); r != "" {
		return r
	}
	return extractField(output, "reply")
}

func summarizeOutput(output json.RawMessage) string {
	if s := extractField(output, "summary"); s != "" {
		return s
	}
	if s := extractField(output, "message"); s != "" {
		return s
	}
	if s := extractField(output, "result"); s != "" {
		return truncate(s, 500)
	}
	return truncate(string(output), 500)
}

func extractField(raw json.RawMessage, key string) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	return stringify(v)
}

func extractNumberField(raw json.RawMessage, key string) int {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return 0
	}
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return 0
}

func extractNested(raw json.RawMessage, keys ...string) string {
	var cur any
	if err := json.Unmarshal(raw, &cur); err != nil {
		return ""
	}
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur, ok = m[k]
		if !ok {
			return ""
		}
	}
	if cur == nil {
		return ""
	}
	return stringify(cur)
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func orDash(s string) string {
	if s == "" {
		return "(no query)"
	}
	return s
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func normalizeRunType(t string) string {
	return strings.ReplaceAll(strings.TrimSpace(t), " ", "_")
}

func hasParentRunID(run *Run) bool {
	if run.ParentRunID != nil && *run.ParentRunID != "" {
		return true
	}
	return extractField(run.Input, "parent_run_id") != ""
}
