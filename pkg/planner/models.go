// Package planner implements the Planner Orchestrator (spec.md §4.4): a
// state machine over plan creation, a rule-based intent decomposer, and a
// risk shaper that auto-generates rollback/verification/health-check
// content for a ChangePlan.
//
// Grounded on the teacher's pkg/agent state/lifecycle idiom (plain structs
// plus an opaque LLM collaborator interface, as in pkg/agentdecision's
// Engine — itself grounded the same way), generalized to the spec's own
// state names and tool whitelists since the teacher has no equivalent
// write-governance planner of its own.
package planner

import "time"

// State is one node of the Planner's state machine (spec.md §4.4).
type State string

const (
	StateIntent          State = "INTENT"
	StateAnalysis        State = "ANALYSIS"
	StatePlanGeneration   State = "PLAN_GENERATION"
	StateGovernanceCheck  State = "GOVERNANCE_CHECK"
	StateExecutionReady   State = "EXECUTION_READY"
	StateCompleted        State = "COMPLETED"
	StateFailed           State = "FAILED"
)

// Transition records one state-machine move (spec.md §4.4: "Transitions
// are recorded in the context's ordered history").
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// IntentCategory is the rule-based classification of a user intent
// (spec.md §4.4).
type IntentCategory string

const (
	IntentFixBug     IntentCategory = "fix_bug"
	IntentAddFeature IntentCategory = "add_feature"
	IntentRefactor   IntentCategory = "refactor"
	IntentUpdateDocs IntentCategory = "update_docs"
	IntentAddTest    IntentCategory = "add_test"
	IntentInvestigate IntentCategory = "investigate"
	IntentOptimize   IntentCategory = "optimize"
	IntentUnknown    IntentCategory = "unknown"
)

// DecomposedIntent is the output of the rule-based intent decomposer
// (spec.md §4.4): category, detected components, analysis requirement,
// the deterministic tool set, estimated risk, and a suggested approach.
type DecomposedIntent struct {
	Category          IntentCategory `json:"category"`
	Components        []string       `json:"components"`
	AnalysisRequired  bool           `json:"analysis_required"`
	ToolSet           []string       `json:"tool_set"`
	EstimatedRisk     string         `json:"estimated_risk"`
	SuggestedApproach string         `json:"suggested_approach"`
}

// analysisToolWhitelist is the read-only tool set permitted in ANALYSIS
// (spec.md §4.4).
var analysisToolWhitelist = []string{"read_file", "grep", "glob", "memory_query"}

// planGenerationExtraTools are the additional tools PLAN_GENERATION permits
// beyond the analysis set (spec.md §4.4).
var planGenerationExtraTools = []string{"generate_diff", "compute_checksum"}
