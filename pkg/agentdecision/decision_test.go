package agentdecision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	return f.response, f.err
}

func baseRequest() Request {
	return Request{
		ConversationID:  "conv-1",
		UserMessage:     "hello",
		AllowedRunTypes: []string{"research_report", "conversation_summary"},
	}
}

func TestDecide_ReplyOnly(t *testing.T) {
	e := NewEngine(&fakeLLM{response: `{"decision":"reply","reply":{"content":"hi"},"confidence":0.9,"reason":"greeting"}`})
	d, err := e.Decide(context.Background(), baseRequest())
	require.NoError(t, err)
	require.Equal(t, DecisionReply, d.Decision)
	require.Equal(t, "hi", d.Reply.Content)
	require.Nil(t, d.Run)
}

func TestDecide_RunFillsConversationID(t *testing.T) {
	e := NewEngine(&fakeLLM{response: `{"decision":"run","run":{"type":"research_report","input":{"query":"x"}},"confidence":0.8,"reason":"lookup"}`})
	d, err := e.Decide(context.Background(), baseRequest())
	require.NoError(t, err)
	require.Equal(t, DecisionRun, d.Decision)
	require.NotNil(t, d.Run.ConversationID)
	require.Equal(t, "conv-1", *d.Run.ConversationID)
}

func TestDecide_RunRespectsExplicitConversationID(t *testing.T) {
	e := NewEngine(&fakeLLM{response: `{"decision":"run","run":{"type":"research_report","conversation_id":"other"},"confidence":0.8,"reason":""}`})
	d, err := e.Decide(context.Background(), baseRequest())
	require.NoError(t, err)
	require.Equal(t, "other", *d.Run.ConversationID)
}

func TestDecide_WhitelistFallback_RunOnly(t *testing.T) {
	e := NewEngine(&fakeLLM{response: `{"decision":"run","run":{"type":"delete_everything"},"confidence":0.5,"reason":""}`})
	d, err := e.Decide(context.Background(), baseRequest())
	require.NoError(t, err)
	require.Equal(t, DecisionReply, d.Decision)
	require.Nil(t, d.Run)
	require.Contains(t, d.Reply.Content, "delete_everything")
}

func TestDecide_WhitelistFallback_ReplyAndRun(t *testing.T) {
	e := NewEngine(&fakeLLM{response: `{"decision":"reply_and_run","reply":{"content":"ok"},"run":{"type":"not_allowed"},"confidence":0.5,"reason":""}`})
	d, err := e.Decide(context.Background(), baseRequest())
	require.NoError(t, err)
	require.Equal(t, DecisionReply, d.Decision)
	require.Nil(t, d.Run)
	require.Contains(t, d.Reply.Content, "ok")
	require.Contains(t, d.Reply.Content, "not_allowed")
}

func TestDecide_SchemaFailure_InvalidJSON(t *testing.T) {
	e := NewEngine(&fakeLLM{response: `not json`})
	_, err := e.Decide(context.Background(), baseRequest())
	require.Error(t, err)
}

func TestDecide_SchemaFailure_UnknownDecision(t *testing.T) {
	e := NewEngine(&fakeLLM{response: `{"decision":"maybe"}`})
	_, err := e.Decide(context.Background(), baseRequest())
	require.Error(t, err)
}

func TestDecide_LogicFailure_ReplyWithRun(t *testing.T) {
	e := NewEngine(&fakeLLM{response: `{"decision":"reply","reply":{"content":"hi"},"run":{"type":"research_report"},"confidence":0.5,"reason":""}`})
	_, err := e.Decide(context.Background(), baseRequest())
	require.Error(t, err)
}

func TestDecide_LogicFailure_RunWithoutRunField(t *testing.T) {
	e := NewEngine(&fakeLLM{response: `{"decision":"run","confidence":0.5,"reason":""}`})
	_, err := e.Decide(context.Background(), baseRequest())
	require.Error(t, err)
}

func TestDecide_EmptyResponse(t *testing.T) {
	e := NewEngine(&fakeLLM{response: ""})
	_, err := e.Decide(context.Background(), baseRequest())
	require.Error(t, err)
}

func TestBuildPrompt_IncludesFactsAndHistory(t *testing.T) {
	req := Request{
		ConversationID:  "conv-1",
		UserMessage:     "what's my timezone?",
		AllowedRunTypes: []string{"research_report"},
		ActiveFacts:     []Fact{{Key: "timezone", Value: []byte(`"UTC"`)}},
		History:         []HistoryMessage{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}},
	}
	prompt := BuildPrompt(req)
	require.Contains(t, prompt, "KNOWN FACTS")
	require.Contains(t, prompt, "timezone: UTC")
	require.Contains(t, prompt, "Recent conversation history")
	require.Contains(t, prompt, "what's my timezone?")
}
