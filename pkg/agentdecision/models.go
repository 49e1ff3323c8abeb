// Package agentdecision implements the Agent Decision layer (spec.md §4.12):
// on every user message, build a prompt from the fixed schema/decision-rules
// block, an active-facts block, truncated history and recent runs, and the
// current message; call the LLM; parse its JSON strictly; validate schema and
// logical consistency; apply the run-type whitelist fallback; and fill in
// conversation_id when the LLM omits it.
//
// Grounded on original_source/apps/core-api/app/services/agent_decision.py's
// AgentDecision.decide (prompt assembly, JSON parse, schema+logic validation,
// whitelist fallback, conversation_id fill-in) and on the teacher's
// pkg/agent/prompt.PromptBuilder strings.Builder section-composition idiom
// (pkg/agent/prompt/builder.go). The teacher's LLM transport is a
// protoc-generated gRPC client (pkg/llm/client.go, pkg/agent/llm_grpc.go)
// whose generated bindings are absent from the retrieval pack and cannot be
// produced without running protoc or hand-fabricating stubs — both
// forbidden — so the LLM collaborator here is the plain interface spec.md §1
// itself describes: "LLM providers treated as an opaque generate(prompt)
// collaborator". See DESIGN.md's "Dropped teacher dependencies" entry for
// google.golang.org/grpc and google.golang.org/protobuf.
package agentdecision

import "encoding/json"

// DecisionKind is the top-level branch spec.md §4.12 requires.
type DecisionKind string

const (
	DecisionReply       DecisionKind = "reply"
	DecisionRun         DecisionKind = "run"
	DecisionReplyAndRun DecisionKind = "reply_and_run"
)

// ReplyContent is the reply branch of a Decision.
type ReplyContent struct {
	Content string `json:"content"`
}

// RunDecision is the run branch of a Decision.
type RunDecision struct {
	Type           string          `json:"type"`
	Title          string          `json:"title,omitempty"`
	ConversationID *string         `json:"conversation_id"`
	Input          json.RawMessage `json:"input,omitempty"`
}

// Decision is the strictly-parsed, validated output of one Agent Decision
// call (spec.md §4.12).
type Decision struct {
	Decision   DecisionKind `json:"decision"`
	Reply      *ReplyContent `json:"reply,omitempty"`
	Run        *RunDecision  `json:"run,omitempty"`
	Confidence float64       `json:"confidence"`
	Reason     string        `json:"reason"`
}

// rawDecision mirrors the wire JSON shape before Kind/range validation, so
// that a schema failure (missing field, wrong type) is distinguishable from
// a logical-consistency failure (spec.md §4.12: "on parse failure, schema
// failure, or logical inconsistency raise a validation error").
type rawDecision struct {
	Decision   string          `json:"decision"`
	Reply      *ReplyContent   `json:"reply"`
	Run        *RunDecision    `json:"run"`
	Confidence json.Number     `json:"confidence"`
	Reason     string          `json:"reason"`
}

// Fact is the minimal shape the active-facts block needs; it mirrors
// pkg/memory.Fact without importing pkg/memory, keeping this package
// collaborator-agnostic (any caller can adapt its own fact rows into this).
type Fact struct {
	Key   string
	Value json.RawMessage
}

// RunSummary is one entry of the optional recent-runs list (spec.md §4.12(c)).
type RunSummary struct {
	Type   string
	Status string
}

// HistoryMessage is one entry of the truncated conversation history.
type HistoryMessage struct {
	Role    string
	Content string
}

// Request bundles everything Decide needs to build a prompt and validate the
// result (spec.md §4.12's (a)-(d) prompt blocks plus the current conversation
// id used for whitelist fallback and conversation_id fill-in).
type Request struct {
	ConversationID  string
	UserMessage     string
	History         []HistoryMessage // already truncated to the last 10 by the caller, or truncated here
	ActiveFacts     []Fact
	RecentRuns      []RunSummary
	AllowedRunTypes []string
}
