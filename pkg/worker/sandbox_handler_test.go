package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nana77mi/lonelycat/pkg/runqueue"
	"github.com/nana77mi/lonelycat/pkg/sandbox"
)

func TestSandboxHandler_NoRunnerConfigured(t *testing.T) {
	h := &SandboxHandler{}
	input, err := json.Marshal(sandbox.Request{ProjectID: "proj-1", Exec: sandbox.Exec{Kind: sandbox.KindShell, Command: "echo hi"}})
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), &runqueue.Run{ID: "run-1", Type: "sandbox_exec", Input: input})
	assert.ErrorContains(t, err, "sandbox runner not configured")
}

func TestSandboxHandler_InvalidInput(t *testing.T) {
	h := &SandboxHandler{Runner: &sandbox.Runner{}}
	_, err := h.Handle(context.Background(), &runqueue.Run{ID: "run-1", Type: "sandbox_exec", Input: json.RawMessage(`not json`)})
	assert.ErrorContains(t, err, "decoding sandbox_exec input")
}
