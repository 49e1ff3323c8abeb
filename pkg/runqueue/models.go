// Package runqueue implements the Run Queue & Message Emitter (spec.md
// §4.14): the queued-run state machine, complete_success/complete_failure,
// emit_run_message, _wake_parent_run_if_waiting, and the unread computation.
//
// Grounded directly on original_source/apps/core-api/app/services/
// run_messages.py (emit_run_message's idempotency check, per-type content
// formatting, conversation-vs-new-conversation branching, and
// _wake_parent_run_if_waiting's WAIT_CHILD guard and input-merge), and on
// the teacher's pkg/queue/worker.go claim-next-with-FOR-UPDATE-SKIP-LOCKED
// idiom (reimplemented by hand over database/sql since Ent codegen is
// forbidden — see DESIGN.md's pkg/execlock entry for the same rationale).
package runqueue

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Run is the runs table row (spec.md §4.14).
type Run struct {
	ID             string
	Type           string
	Title          string
	ConversationID *string
	Status         Status
	Input          json.RawMessage
	Output         json.RawMessage
	Error          string
	WorkerID       *string
	LeaseExpiresAt *time.Time
	Attempt        int
	Progress       string
	ParentRunID    *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const waitChildState = "WAIT_CHILD"

// waitKeys are the output_json fields _wake_parent_run_if_waiting clears on
// the parent when waking it (spec.md §4.14); every other key is preserved.
var waitKeys = []string{"state", "child_run_id", "waiting_child_run_id", "waiting_step_index", "run_ids"}

const previousOutputCapBytes = 4096
