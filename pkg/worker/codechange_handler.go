package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nana77mi/lonelycat/pkg/executor"
	"github.com/nana77mi/lonelycat/pkg/governance"
	"github.com/nana77mi/lonelycat/pkg/planner"
	"github.com/nana77mi/lonelycat/pkg/policy"
	"github.com/nana77mi/lonelycat/pkg/runqueue"
)

// codeChangeInput is the run Input payload for a "code_change" run (spec.md
// §4.14's run type whitelist, §4.4's create_plan_from_intent): the natural
// language intent the Planner decomposes into a ChangePlan.
type codeChangeInput struct {
	Intent  string `json:"intent"`
	Creator string `json:"creator,omitempty"`
}

// CodeChangeHandler drives the full Planner → WriteGate → Executor pipeline
// for a single run (spec.md §4.1's data flow line), persisting every
// append-only governance artifact along the way so GET /executions/{id}
// and GET /executions/{id}/lineage can reconstruct the full chain.
type CodeChangeHandler struct {
	Planner    *planner.Planner
	WriteGate  *policy.WriteGate
	Executor   *executor.Executor
	Governance *governance.Store
}

var _ runqueue.RunHandler = (*CodeChangeHandler)(nil)

// Handle runs create_plan_from_intent, evaluates the result against the
// WriteGate, persists the plan/changeset/decision, and — only on
// verdict=ALLOW — applies the changeset through the Host Executor (spec.md
// §4.7: "operates only on verdict=ALLOW changesets").
func (h *CodeChangeHandler) Handle(ctx context.Context, run *runqueue.Run) (json.RawMessage, error) {
	var in codeChangeInput
	if err := json.Unmarshal(run.Input, &in); err != nil {
		return nil, fmt.Errorf("decoding code_change input: %w", err)
	}
	if in.Creator == "" {
		in.Creator = "agent"
	}

	planResult, err := h.Planner.CreatePlanFromIntent(ctx, uuid.New().String(), in.Intent, in.Creator)
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}

	decision := h.WriteGate.Evaluate(planResult.Plan, planResult.Changeset, "", "")
	decision.ID = uuid.New().String()
	planResult.Plan.RiskLevelEffective = decision.RiskLevelEffective

	if err := h.Governance.SavePlan(ctx, planResult.Plan); err != nil {
		return nil, fmt.Errorf("saving plan: %w", err)
	}
	if err := h.Governance.SaveChangeset(ctx, planResult.Changeset); err != nil {
		return nil, fmt.Errorf("saving changeset: %w", err)
	}
	if err := h.Governance.SaveDecision(ctx, decision); err != nil {
		return nil, fmt.Errorf("saving decision: %w", err)
	}

	out := map[string]any{
		"plan_id":      planResult.Plan.ID,
		"changeset_id": planResult.Changeset.ID,
		"decision_id":  decision.ID,
		"verdict":      decision.Verdict,
		"reasons":      decision.Reasons,
	}

	if decision.Verdict != governance.VerdictAllow {
		return json.Marshal(out)
	}

	result, err := h.Executor.Execute(ctx, planResult.Plan, planResult.Changeset, decision)
	if err != nil {
		return nil, fmt.Errorf("executing: %w", err)
	}
	out["execution_id"] = result.ExecutionID
	out["status"] = result.Status
	out["files_changed"] = result.FilesChanged
	out["rolled_back"] = result.RolledBack
	return json.Marshal(out)
}
