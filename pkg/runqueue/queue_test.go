package runqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nana77mi/lonelycat/pkg/conversation"
	"github.com/nana77mi/lonelycat/pkg/store"
)

func newTestQueue(t *testing.T) (*Queue, *Store, *conversation.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.RunMigrations(context.Background(), db))

	runs := NewStore(db)
	convs := conversation.NewStore(db)
	q := NewQueue(runs, convs)
	return q, runs, convs
}

func insertRun(t *testing.T, runs *Store, r Run) *Run {
	t.Helper()
	if r.ID == "" {
		r.ID = "run-" + r.Type
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	if r.Status == "" {
		r.Status = StatusQueued
	}
	if len(r.Input) == 0 {
		r.Input = json.RawMessage(`{}`)
	}
	require.NoError(t, runs.Insert(context.Background(), &r))
	return &r
}

func TestEmitRunMessage_ExistingConversation(t *testing.T) {
	q, runs, convs := newTestQueue(t)
	_, err := convs.EnsureConversation(context.Background(), "conv-1", "chat", nil, time.Now().UTC())
	require.NoError(t, err)
	convID := "conv-1"

	r := insertRun(t, runs, Run{Type: "research_report", Title: "market scan", ConversationID: &convID,
		Output: json.RawMessage(`{"artifacts":{"report":{"text":"the full report"}}}`)})

	require.NoError(t, q.CompleteSuccess(context.Background(), r.ID, r.Output))

	msgs, err := convs.RecentMessages(context.Background(), convID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].Content, "the full report")
	require.Equal(t, "run", msgs[0].SourceRef.Kind)
	require.Equal(t, r.ID, msgs[0].SourceRef.RefID)
}

func TestEmitRunMessage_Idempotent(t *testing.T) {
	q, runs, convs := newTestQueue(t)
	_, err := convs.EnsureConversation(context.Background(), "conv-2", "chat", nil, time.Now().UTC())
	require.NoError(t, err)
	convID := "conv-2"
	r := insertRun(t, runs, Run{Type: "research_report", ConversationID: &convID, Output: json.RawMessage(`{}`)})

	require.NoError(t, q.CompleteSuccess(context.Background(), r.ID, r.Output))
	require.NoError(t, q.EmitRunMessage(context.Background(), r))

	msgs, err := convs.RecentMessages(context.Background(), convID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestEmitRunMessage_NewConversation(t *testing.T) {
	q, runs, _ := newTestQueue(t)
	r := insertRun(t, runs, Run{Type: "research_report", Title: "market scan",
		Output: json.RawMessage(`{"result":{"query":"phones"}}`)})

	require.NoError(t, q.CompleteSuccess(context.Background(), r.ID, r.Output))

	got, err := runs.Get(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, got.Status)
}

func TestEmitRunMessage_FailureContent(t *testing.T) {
	q, runs, convs := newTestQueue(t)
	_, err := convs.EnsureConversation(context.Background(), "conv-3", "chat", nil, time.Now().UTC())
	require.NoError(t, err)
	convID := "conv-3"
	r := insertRun(t, runs, Run{Type: "research_report", Title: "market scan", ConversationID: &convID})

	require.NoError(t, q.CompleteFailure(context.Background(), r.ID, "provider timeout"))

	msgs, err := convs.RecentMessages(context.Background(), convID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].Content, "provider timeout")
}

func TestEmitRunMessage_CodeSnippetWithParentSkipsMessage(t *testing.T) {
	q, runs, convs := newTestQueue(t)
	_, err := convs.EnsureConversation(context.Background(), "conv-4", "chat", nil, time.Now().UTC())
	require.NoError(t, err)
	convID := "conv-4"

	parentInput := json.RawMessage(`{"step_index": 0}`)
	parentOutput := json.RawMessage(`{"state":"WAIT_CHILD","waiting_child_run_id":"child-1","waiting_step_index":0,"debug_marker":"keep-me"}`)
	parent := insertRun(t, runs, Run{ID: "parent-1", Type: "agent_loop_turn", ConversationID: &convID, Status: StatusRunning,
		Input: parentInput, Output: parentOutput})

	parentID := parent.ID
	child := insertRun(t, runs, Run{ID: "child-1", Type: "run_code_snippet", ParentRunID: &parentID,
		Output: json.RawMessage(`{"result":{"reply":"2+2=4"}}`)})

	require.NoError(t, q.CompleteSuccess(context.Background(), child.ID, child.Output))

	msgs, err := convs.RecentMessages(context.Background(), convID, 10)
	require.NoError(t, err)
	require.Empty(t, msgs)

	updatedParent, err := runs.Get(context.Background(), parentID)
	require.NoError(t, err)
	require.Equal(t, StatusQueued, updatedParent.Status)

	var out map[string]any
	require.NoError(t, json.Unmarshal(updatedParent.Output, &out))
	require.Equal(t, "keep-me", out["debug_marker"])
	require.NotContains(t, out, "state")
	require.NotContains(t, out, "waiting_child_run_id")

	var in map[string]any
	require.NoError(t, json.Unmarshal(updatedParent.Input, &in))
	require.Equal(t, float64(1), in["step_index"])
	require.Contains(t, in, "previous_output_json")
	require.Contains(t, in, "run_ids")

	preview, ok := in["previous_output_json"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, map[string]any{"result": map[string]any{"reply": "2+2=4"}}, preview)
}

func TestWakeParentRunIfWaiting_PreviewPrefersResultObservation(t *testing.T) {
	q, runs, _ := newTestQueue(t)
	parentOutput := json.RawMessage(`{"state":"WAIT_CHILD","waiting_child_run_id":"child-5","waiting_step_index":0}`)
	parent := insertRun(t, runs, Run{ID: "parent-5", Type: "agent_loop_turn", Status: StatusRunning, Output: parentOutput})

	parentID := parent.ID
	child := insertRun(t, runs, Run{ID: "child-5", Type: "run_code_snippet", ParentRunID: &parentID,
		Output: json.RawMessage(`{"result":{"observation":{"key":"v"}}}`)})

	require.NoError(t, q.wakeParentRunIfWaiting(context.Background(), child))

	updatedParent, err := runs.Get(context.Background(), parentID)
	require.NoError(t, err)

	var in map[string]any
	require.NoError(t, json.Unmarshal(updatedParent.Input, &in))
	require.Equal(t, map[string]any{"observation": map[string]any{"key": "v"}}, in["previous_output_json"])
}

func TestWakeParentRunIfWaiting_NoOpWhenNotWaitingOnThisChild(t *testing.T) {
	q, runs, _ := newTestQueue(t)
	parentOutput := json.RawMessage(`{"state":"WAIT_CHILD","waiting_child_run_id":"other-child"}`)
	parent := insertRun(t, runs, Run{ID: "parent-2", Type: "agent_loop_turn", Status: StatusRunning, Output: parentOutput})

	parentID := parent.ID
	child := insertRun(t, runs, Run{ID: "child-2", Type: "run_code_snippet", ParentRunID: &parentID})

	require.NoError(t, q.wakeParentRunIfWaiting(context.Background(), child))

	unchanged, err := runs.Get(context.Background(), parentID)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, unchanged.Status)
}

func TestWakeParentRunIfWaiting_NoOpWithoutParent(t *testing.T) {
	q, runs, _ := newTestQueue(t)
	child := insertRun(t, runs, Run{ID: "child-3", Type: "run_code_snippet"})
	require.NoError(t, q.wakeParentRunIfWaiting(context.Background(), child))
}
