package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/nana77mi/lonelycat/pkg/governance"
	"github.com/nana77mi/lonelycat/pkg/pathsec"
)

// WriteGate evaluates a plan+changeset against a Policy and returns a
// GovernanceDecision. It never writes files (spec GLOSSARY). Algorithm
// grounded on original_source/packages/governance/writegate.py:
// forbidden-path fast-deny, then risk escalation, gating requirements,
// trigger rules, and verdict determination (spec §4.2).
type WriteGate struct {
	Policy          *Policy
	WorkspaceRoot   string
	Version         string
	Evaluator       string
	MaxDiffLines    int // default 500, spec §4.2 step 2
	NowFunc         func() time.Time
}

// NewWriteGate constructs a WriteGate bound to pol, ready to evaluate plans
// rooted at workspaceRoot.
func NewWriteGate(pol *Policy, workspaceRoot string) *WriteGate {
	return &WriteGate{
		Policy:        pol,
		WorkspaceRoot: workspaceRoot,
		Version:       "1.0.0",
		Evaluator:     "writegate",
		MaxDiffLines:  500,
		NowFunc:       time.Now,
	}
}

// Evaluate runs the five-step algorithm of spec §4.2 and returns the
// resulting decision. agentSourceHash/projectionHash are opaque replay
// fields supplied by the caller (Planner/Agent layer).
func (w *WriteGate) Evaluate(plan *governance.ChangePlan, cs *governance.ChangeSet, agentSourceHash, projectionHash string) *governance.GovernanceDecision {
	now := w.now()
	snapshotHash := w.Policy.SnapshotHash()

	// Step 1: canonicalize (absolute/UNC/traversal/symlink/boundary) then
	// forbidden-path fast deny (spec §4.1, §4.2 step 1).
	for _, ch := range cs.Changes {
		if res := pathsec.Canonicalize(ch.Path, w.WorkspaceRoot); res.Violation != pathsec.ViolationNone {
			return &governance.GovernanceDecision{
				PlanID:             plan.ID,
				ChangesetID:        cs.ID,
				Verdict:            governance.VerdictDeny,
				Reasons:            []string{fmt.Sprintf("path %q failed canonicalization: %s", ch.Path, res.Violation)},
				ViolatedPolicies:   []string{string(res.Violation)},
				RiskLevelEffective: governance.RiskCritical,
				PolicySnapshotHash: snapshotHash,
				AgentSourceHash:    agentSourceHash,
				ProjectionHash:     projectionHash,
				WritegateVersion:   w.Version,
				EvaluatedAt:        now,
				Evaluator:          w.Evaluator,
			}
		}
		if matchesAny(w.Policy.ForbiddenPaths, normalizeRel(ch.Path)) {
			return &governance.GovernanceDecision{
				PlanID:             plan.ID,
				ChangesetID:        cs.ID,
				Verdict:            governance.VerdictDeny,
				Reasons:            []string{fmt.Sprintf("path %q matches a forbidden pattern", ch.Path)},
				ViolatedPolicies:   []string{"forbidden_paths"},
				RiskLevelEffective: governance.RiskCritical,
				PolicySnapshotHash: snapshotHash,
				AgentSourceHash:    agentSourceHash,
				ProjectionHash:     projectionHash,
				WritegateVersion:   w.Version,
				EvaluatedAt:        now,
				Evaluator:          w.Evaluator,
			}
		}
	}

	var reasons, violated, required []string

	// Step 2: risk escalation.
	effective := plan.RiskLevelProposed
	if effective == "" {
		effective = governance.RiskLow
	}
	diffLines := 0
	hasDelete := false
	for _, ch := range cs.Changes {
		rel := normalizeRel(ch.Path)
		if matchesAny(w.Policy.EscalateMediumPaths, rel) || matchesAny([]string{w.Policy.SourcePath}, ch.Path) {
			effective = governance.Max(effective, governance.RiskMedium)
		}
		if isDBSchemaPath(rel) || matchesAny(w.Policy.EscalateHighPaths, rel) {
			effective = governance.Max(effective, governance.RiskHigh)
		}
		if ch.Operation == governance.OpDelete {
			hasDelete = true
		}
		diffLines += countDiffLines(ch)
	}
	if diffLines > w.MaxDiffLines {
		effective = governance.Max(effective, governance.RiskHigh)
	}
	if hasDelete {
		effective = governance.Max(effective, governance.RiskMedium)
	}

	// Step 3: gating requirements.
	if strings.TrimSpace(plan.RollbackPlan) == "" {
		reasons = append(reasons, "missing rollback_plan")
		required = append(required, "provide rollback_plan")
	}
	if strings.TrimSpace(plan.VerificationPlan) == "" {
		reasons = append(reasons, "missing verification_plan")
		required = append(required, "provide verification_plan")
	}
	if effective.AtLeast(governance.RiskMedium) && len(plan.HealthChecks) == 0 {
		reasons = append(reasons, "missing health_checks for risk >= medium")
		required = append(required, "provide health_checks")
	}
	gatingPassed := len(required) == 0

	// Step 4: trigger rules.
	triggered := false
	for _, trig := range w.Policy.WritegateRules.Triggers {
		for _, ch := range cs.Changes {
			if matchesAny(trig.PathMatches, normalizeRel(ch.Path)) {
				triggered = true
				reasons = append(reasons, fmt.Sprintf("trigger pattern matched for path %q", ch.Path))
				break
			}
		}
	}

	// Step 5: verdict.
	verdict := governance.VerdictAllow
	if !gatingPassed || effective.AtLeast(governance.RiskHigh) || triggered {
		verdict = governance.VerdictNeedApproval
	}

	return &governance.GovernanceDecision{
		PlanID:             plan.ID,
		ChangesetID:        cs.ID,
		Verdict:            verdict,
		Reasons:            reasons,
		ViolatedPolicies:   violated,
		RequiredActions:    required,
		RiskLevelEffective: effective,
		PolicySnapshotHash: snapshotHash,
		AgentSourceHash:    agentSourceHash,
		ProjectionHash:     projectionHash,
		WritegateVersion:   w.Version,
		EvaluatedAt:        now,
		Evaluator:          w.Evaluator,
	}
}

func (w *WriteGate) now() time.Time {
	if w.NowFunc != nil {
		return w.NowFunc()
	}
	return time.Now()
}

func normalizeRel(p string) string {
	return strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "/")
}

// countDiffLines estimates changed lines for the total-diff-lines escalation
// rule (spec §4.2 step 2) by counting newline-separated lines in the unified
// diff when present, else falling back to new/old content line counts.
func countDiffLines(ch governance.FileChange) int {
	if ch.UnifiedDiff != "" {
		return strings.Count(ch.UnifiedDiff, "\n") + 1
	}
	n := 0
	if ch.NewContent != nil {
		n += strings.Count(*ch.NewContent, "\n") + 1
	}
	if ch.OldContent != nil {
		n += strings.Count(*ch.OldContent, "\n") + 1
	}
	return n
}
