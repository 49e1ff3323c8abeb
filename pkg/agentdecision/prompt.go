package agentdecision

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const historyWindow = 10

// BuildPrompt composes the full Agent Decision prompt (spec.md §4.12): the
// fixed schema/decision-rules block, an active-facts block, truncated
// history and recent runs, and the current user message. Mirrors
// agent_decision.py's _build_decision_prompt section-by-section assembly,
// translated into the teacher's strings.Builder composition idiom
// (pkg/agent/prompt/builder.go's buildInvestigationUserMessage).
func BuildPrompt(req Request) string {
	var sb strings.Builder

	writeSchemaBlock(&sb, req.AllowedRunTypes, req.ConversationID)
	writeFactsBlock(&sb, req.ActiveFacts)

	sb.WriteString("\n\n")
	writeHistoryBlock(&sb, req.History)
	writeRecentRunsBlock(&sb, req.RecentRuns)

	sb.WriteString("\nCurrent user message:\n")
	sb.WriteString(req.UserMessage)

	return sb.String()
}

func writeSchemaBlock(sb *strings.Builder, allowedRunTypes []string, conversationID string) {
	sb.WriteString("You are an AI assistant that decides how to respond to a user message.\n\n")
	sb.WriteString("You can choose one of three actions:\n")
	sb.WriteString("1. \"reply\" - only reply to the user\n")
	sb.WriteString("2. \"run\" - create a background task without replying immediately\n")
	sb.WriteString("3. \"reply_and_run\" - reply to the user AND create a background task\n\n")

	sb.WriteString("Available task types (whitelist):\n")
	sb.WriteString(strings.Join(allowedRunTypes, ", "))
	sb.WriteString("\n\n")

	sb.WriteString("Decision rules:\n")
	sb.WriteString("- Use \"reply\" for normal chat or when no task is needed.\n")
	sb.WriteString("- Use \"run\" when the user wants a background task and does not need an immediate reply.\n")
	sb.WriteString("- Use \"reply_and_run\" to acknowledge the request AND start a task.\n")
	sb.WriteString("- conversation_id defaults to the current conversation when user-initiated.\n")
	sb.WriteString("- Only use task types from the whitelist above.\n\n")

	sb.WriteString("Return ONLY a valid JSON object with this exact structure:\n")
	sb.WriteString(`{
  "decision": "reply" | "run" | "reply_and_run",
  "reply": {"content": "string"},
  "run": {"type": "string", "title": "string?", "conversation_id": "string|null", "input": {}},
  "confidence": 0.0-1.0,
  "reason": "string"
}`)
	sb.WriteString("\n\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- decision=\"reply\" requires reply, must NOT include run\n")
	sb.WriteString("- decision=\"run\" requires run\n")
	sb.WriteString("- decision=\"reply_and_run\" requires BOTH reply and run\n")
	sb.WriteString(fmt.Sprintf("- conversation_id: use %q if the user is in a conversation, null for system/automatic tasks\n", conversationID))
}

func writeFactsBlock(sb *strings.Builder, facts []Fact) {
	if len(facts) == 0 {
		return
	}
	var lines []string
	for _, f := range facts {
		if f.Key == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", f.Key, formatFactValue(f.Value)))
	}
	if len(lines) == 0 {
		return
	}
	sort.Strings(lines)

	sb.WriteString("\n\n[KNOWN FACTS]\n")
	sb.WriteString(strings.Join(lines, "\n"))
	sb.WriteString("\n[/KNOWN FACTS]\n\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- Use KNOWN FACTS when relevant.\n")
	sb.WriteString("- Do not ask for information already in KNOWN FACTS.\n")
	sb.WriteString("- If the user contradicts a fact, ask for confirmation instead of overwriting it silently.\n")
}

func formatFactValue(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	switch v.(type) {
	case map[string]any, []any:
		b, _ := json.Marshal(v)
		return string(b)
	default:
		s := strings.Trim(string(raw), `"`)
		return s
	}
}

func writeHistoryBlock(sb *strings.Builder, history []HistoryMessage) {
	if len(history) == 0 {
		return
	}
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	sb.WriteString("Recent conversation history:\n")
	for _, m := range history {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
}

func writeRecentRunsBlock(sb *strings.Builder, runs []RunSummary) {
	if len(runs) == 0 {
		return
	}
	if len(runs) > 5 {
		runs = runs[:5]
	}
	sb.WriteString("\nRecent runs in this conversation:\n")
	for _, r := range runs {
		sb.WriteString(fmt.Sprintf("- %s (%s)\n", r.Type, r.Status))
	}
}
