package agentdecision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nana77mi/lonelycat/pkg/lcerrors"
)

// LLMClient is the opaque LLM collaborator spec.md §1 describes: "LLM
// providers [are] treated as an opaque generate(prompt) collaborator".
// Implementations may call out to any provider over any transport (HTTP,
// a local process, ...); agentdecision only needs the raw text response.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Engine runs the Agent Decision algorithm (spec.md §4.12).
type Engine struct {
	LLM LLMClient
}

func NewEngine(llm LLMClient) *Engine {
	return &Engine{LLM: llm}
}

// Decide builds the prompt, calls the LLM, and returns a schema- and
// logic-validated Decision with the whitelist fallback and conversation_id
// fill-in applied. Mirrors agent_decision.py's AgentDecision.decide.
func (e *Engine) Decide(ctx context.Context, req Request) (*Decision, error) {
	if e.LLM == nil {
		return nil, lcerrors.New(lcerrors.KindDecisionLogic, "agent decision LLM client is not configured")
	}

	prompt := BuildPrompt(req)

	raw, err := e.LLM.Generate(ctx, prompt)
	if err != nil {
		return nil, lcerrors.Wrap(lcerrors.KindDecisionLogic, "decision LLM call failed", err)
	}
	if raw == "" {
		return nil, lcerrors.New(lcerrors.KindDecisionSchema, "decision LLM returned an empty response")
	}

	decision, err := parseAndValidate(raw)
	if err != nil {
		return nil, err
	}

	applyWhitelistFallback(decision, req.AllowedRunTypes)
	fillConversationID(decision, req.ConversationID)

	slog.Info("agent decision made",
		"decision", decision.Decision,
		"confidence", decision.Confidence,
		"reason", truncate(decision.Reason, 50))

	return decision, nil
}

// parseAndValidate strictly parses raw as JSON and enforces schema plus
// logical consistency (spec.md §4.12): "on parse failure, schema failure, or
// logical inconsistency raise a validation error".
func parseAndValidate(raw string) (*Decision, error) {
	var rd rawDecision
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rd); err != nil {
		return nil, lcerrors.Wrap(lcerrors.KindDecisionSchema, "invalid JSON response from decision LLM", err)
	}

	kind := DecisionKind(rd.Decision)
	switch kind {
	case DecisionReply, DecisionRun, DecisionReplyAndRun:
	default:
		return nil, lcerrors.Newf(lcerrors.KindDecisionSchema, "unknown decision value %q", rd.Decision)
	}

	confidence := 0.0
	if rd.Confidence != "" {
		f, err := rd.Confidence.Float64()
		if err != nil {
			return nil, lcerrors.Wrap(lcerrors.KindDecisionSchema, "confidence is not a number", err)
		}
		confidence = f
	}
	if confidence < 0.0 || confidence > 1.0 {
		return nil, lcerrors.Newf(lcerrors.KindDecisionSchema, "confidence %v out of range [0,1]", confidence)
	}

	d := &Decision{
		Decision:   kind,
		Reply:      rd.Reply,
		Run:        rd.Run,
		Confidence: confidence,
		Reason:     rd.Reason,
	}

	if err := validateLogic(d); err != nil {
		return nil, err
	}
	return d, nil
}

// validateLogic enforces spec.md §4.12's per-branch requirements.
func validateLogic(d *Decision) error {
	switch d.Decision {
	case DecisionReply:
		if d.Reply == nil {
			return lcerrors.New(lcerrors.KindDecisionLogic, "decision=reply requires a reply field")
		}
		if d.Run != nil {
			return lcerrors.New(lcerrors.KindDecisionLogic, "decision=reply forbids a run field")
		}
	case DecisionRun:
		if d.Run == nil {
			return lcerrors.New(lcerrors.KindDecisionLogic, "decision=run requires a run field")
		}
	case DecisionReplyAndRun:
		if d.Reply == nil {
			return lcerrors.New(lcerrors.KindDecisionLogic, "decision=reply_and_run requires a reply field")
		}
		if d.Run == nil {
			return lcerrors.New(lcerrors.KindDecisionLogic, "decision=reply_and_run requires a run field")
		}
	}
	return nil
}

// applyWhitelistFallback transforms a disallowed run type into a reply
// (spec.md §4.12's "Whitelist fallback"). Never raises.
func applyWhitelistFallback(d *Decision, allowed []string) {
	if d.Run == nil || contains(allowed, d.Run.Type) {
		return
	}

	deniedType := d.Run.Type
	slog.Warn("run type not in whitelist, falling back to reply", "type", deniedType, "allowed", allowed)

	switch d.Decision {
	case DecisionRun:
		d.Decision = DecisionReply
		d.Reply = &ReplyContent{
			Content: fmt.Sprintf("Sorry, task type %q is not in the allowed list.", deniedType),
		}
		d.Run = nil
	case DecisionReplyAndRun:
		d.Decision = DecisionReply
		if d.Reply != nil {
			d.Reply.Content += fmt.Sprintf(" (Note: task type %q is not allowed, so no task was started.)", deniedType)
		}
		d.Run = nil
	}
}

// fillConversationID sets run.conversation_id to the current conversation
// when the LLM omitted or nulled it (spec.md §4.12's "conversation_id
// fill-in").
func fillConversationID(d *Decision, currentConversationID string) {
	if d.Run == nil || currentConversationID == "" {
		return
	}
	if d.Run.ConversationID == nil || *d.Run.ConversationID == "" {
		id := currentConversationID
		d.Run.ConversationID = &id
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
