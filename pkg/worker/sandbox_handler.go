// Package worker wires the Run Queue's handler seam
// (pkg/runqueue.RunHandler) to the collaborators that actually perform
// work, following spec.md §4.1's data flow:
// `Worker pulls → Run handler → (for code changes) Planner → WriteGate →
// Executor → Artifact+Store → emit_run_message`. Kept separate from
// pkg/runqueue so that package never needs to import pkg/sandbox,
// pkg/planner, pkg/policy, or pkg/executor.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nana77mi/lonelycat/pkg/runqueue"
	"github.com/nana77mi/lonelycat/pkg/sandbox"
)

// SandboxHandler runs sandbox_exec runs (spec.md §4.14's run type
// whitelist) through the Sandbox Runner (spec.md §4.11).
type SandboxHandler struct {
	Runner *sandbox.Runner
}

var _ runqueue.RunHandler = (*SandboxHandler)(nil)

// Handle decodes run.Input as a sandbox.Request, stamping TaskRef with the
// run's own ID so GET /sandbox/execs?task_id= can find it, and returns the
// resulting record+manifest as the run's output_json.
func (h *SandboxHandler) Handle(ctx context.Context, run *runqueue.Run) (json.RawMessage, error) {
	if h.Runner == nil {
		return nil, fmt.Errorf("sandbox runner not configured")
	}
	var req sandbox.Request
	if err := json.Unmarshal(run.Input, &req); err != nil {
		return nil, fmt.Errorf("decoding sandbox_exec input: %w", err)
	}
	req.TaskRef = run.ID

	result, err := h.Runner.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"record": result.Record, "manifest": result.Manifest})
}
