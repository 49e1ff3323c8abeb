package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/nana77mi/lonelycat/pkg/governance"
)

// Reasoner is the optional LLM collaborator the Planner may consult while
// generating a plan (spec.md §4.4: "LLM reasoning is an optional injected
// reasoner"). Mirrors pkg/agentdecision.LLMClient's opaque generate(prompt)
// shape.
type Reasoner interface {
	Reason(ctx context.Context, prompt string) (string, error)
}

// Planner runs create_plan_from_intent (spec.md §4.4).
type Planner struct {
	Reasoner Reasoner
	now      func() time.Time
}

// NewPlanner builds a Planner. reasoner may be nil — decomposition and the
// risk shaper are fully rule-based and need no LLM.
func NewPlanner(reasoner Reasoner) *Planner {
	return &Planner{Reasoner: reasoner, now: time.Now}
}

// Result bundles everything CreatePlanFromIntent produces.
type Result struct {
	Context     *Context
	Decomposed  DecomposedIntent
	Plan        *governance.ChangePlan
	Changeset   *governance.ChangeSet
}

// componentServices maps a detected component to the service name its
// health checks and restarts should reference.
var componentServices = map[string]string{
	"api":      "api",
	"frontend": "frontend",
	"worker":   "worker",
}

// CreatePlanFromIntent runs the Planner's flow end to end (spec.md §4.4):
// INTENT -> (ANALYSIS) -> PLAN_GENERATION -> GOVERNANCE_CHECK, producing a
// ChangePlan and a placeholder ChangeSet (a single UPDATE against the
// first affected path) ready for WriteGate evaluation.
func (p *Planner) CreatePlanFromIntent(ctx context.Context, planID, userIntent, creator string) (*Result, error) {
	pctx := NewContext(planID)

	decomposed := DecomposeIntent(userIntent)

	if decomposed.AnalysisRequired {
		if err := pctx.Transition(StateAnalysis, "intent category requires analysis before planning: "+string(decomposed.Category)); err != nil {
			return nil, err
		}
		if err := pctx.Transition(StatePlanGeneration, "analysis complete"); err != nil {
			return nil, err
		}
	} else {
		if err := pctx.Transition(StatePlanGeneration, "intent category does not require analysis: "+string(decomposed.Category)); err != nil {
			return nil, err
		}
	}

	affectedPaths := decomposedAffectedPaths(decomposed)
	services := decomposedServices(decomposed)

	plan := &governance.ChangePlan{
		ID:                planID,
		Intent:            userIntent,
		Objective:         decomposed.SuggestedApproach,
		AffectedPaths:     affectedPaths,
		RiskLevelProposed: governance.RiskLevel(decomposed.EstimatedRisk),
		RollbackPlan:      GenerateRollbackPlan(affectedPaths, services),
		VerificationPlan:  GenerateVerificationPlan(affectedPaths, services),
		HealthChecks:      GenerateHealthChecks(affectedPaths, services),
		Creator:           creator,
		Confidence:        0.5,
		CreatedAt:         p.now(),
	}

	if p.Reasoner != nil {
		reasoning, err := p.Reasoner.Reason(ctx, reasoningPrompt(userIntent, decomposed))
		if err == nil && reasoning != "" {
			plan.Rationale = reasoning
		}
	}

	changeset := placeholderChangeset(planID, affectedPaths, creator, p.now())

	if err := pctx.Transition(StateGovernanceCheck, "plan and placeholder changeset generated"); err != nil {
		return nil, err
	}

	return &Result{Context: pctx, Decomposed: decomposed, Plan: plan, Changeset: changeset}, nil
}

func decomposedAffectedPaths(d DecomposedIntent) []string {
	if len(d.Components) == 0 {
		return []string{"UNKNOWN"}
	}
	paths := make([]string, len(d.Components))
	for i, c := range d.Components {
		paths[i] = c + "/"
	}
	return paths
}

func decomposedServices(d DecomposedIntent) []string {
	var services []string
	for _, c := range d.Components {
		if svc, ok := componentServices[c]; ok {
			services = append(services, svc)
		}
	}
	return services
}

// placeholderChangeset builds the single-UPDATE placeholder changeset
// spec.md §4.4 describes: "a placeholder changeset (single UPDATE against
// the first affected path)".
func placeholderChangeset(planID string, affectedPaths []string, creator string, now time.Time) *governance.ChangeSet {
	path := "UNKNOWN"
	if len(affectedPaths) > 0 {
		path = affectedPaths[0]
	}
	old := ""
	new := ""
	changes := []governance.FileChange{{
		Operation:  governance.OpUpdate,
		Path:       path,
		OldContent: &old,
		NewContent: &new,
	}}
	return &governance.ChangeSet{
		ID:        planID + "-cs",
		PlanID:    planID,
		Changes:   changes,
		Checksum:  governance.ComputeChecksum(changes),
		Creator:   creator,
		CreatedAt: now,
	}
}

func reasoningPrompt(userIntent string, d DecomposedIntent) string {
	return fmt.Sprintf("User intent: %s\nDecomposed category: %s\nComponents: %v\nProvide a brief rationale for the proposed change.",
		userIntent, d.Category, d.Components)
}
