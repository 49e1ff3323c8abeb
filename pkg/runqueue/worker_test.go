package runqueue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	output json.RawMessage
	err    error
	calls  int
}

func (f *fakeHandler) Handle(ctx context.Context, run *Run) (json.RawMessage, error) {
	f.calls++
	return f.output, f.err
}

func TestWorker_ProcessesQueuedRunWithRegisteredHandler(t *testing.T) {
	q, runs, _ := newTestQueue(t)
	insertRun(t, runs, Run{Type: "sandbox_exec"})

	h := &fakeHandler{output: json.RawMessage(`{"ok":true}`)}
	w := NewWorker("worker-1", runs, q, map[string]RunHandler{"sandbox_exec": h})
	w.LeaseFor = time.Minute

	processed, err := w.pollAndProcess(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, 1, h.calls)

	run, err := runs.Get(context.Background(), "run-sandbox_exec")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, run.Status)
}

func TestWorker_NoHandlerFailsRunWithoutPanicking(t *testing.T) {
	q, runs, _ := newTestQueue(t)
	insertRun(t, runs, Run{Type: "unregistered_type"})

	w := NewWorker("worker-1", runs, q, map[string]RunHandler{})

	processed, err := w.pollAndProcess(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	run, err := runs.Get(context.Background(), "run-unregistered_type")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Contains(t, run.Error, "no handler registered")
}

func TestWorker_HandlerErrorFailsRun(t *testing.T) {
	q, runs, _ := newTestQueue(t)
	insertRun(t, runs, Run{Type: "sandbox_exec"})

	h := &fakeHandler{err: assert.AnError}
	w := NewWorker("worker-1", runs, q, map[string]RunHandler{"sandbox_exec": h})

	processed, err := w.pollAndProcess(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	run, err := runs.Get(context.Background(), "run-sandbox_exec")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
}

func TestWorker_EmptyQueueReportsNotProcessed(t *testing.T) {
	q, runs, _ := newTestQueue(t)
	w := NewWorker("worker-1", runs, q, map[string]RunHandler{})

	processed, err := w.pollAndProcess(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}
