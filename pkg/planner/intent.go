package planner

import "strings"

// categoryRule pairs a category with its scoring keywords, kept in a fixed
// slice (rather than a map) so ties break deterministically on declaration
// order (spec.md §4.4: "Rule-based classification ... by keyword scoring.
// No LLM is required for decomposition").
type categoryRule struct {
	category IntentCategory
	keywords []string
}

var categoryRules = []categoryRule{
	{IntentFixBug, []string{"fix", "bug", "broken", "crash", "error", "fails", "failing", "regression"}},
	{IntentAddFeature, []string{"add", "implement", "support", "feature", "introduce", "new"}},
	{IntentRefactor, []string{"refactor", "restructure", "cleanup", "clean up", "reorganize", "simplify"}},
	{IntentUpdateDocs, []string{"doc", "docs", "documentation", "readme", "comment"}},
	{IntentAddTest, []string{"test", "tests", "testing", "coverage", "unit test"}},
	{IntentInvestigate, []string{"investigate", "why", "diagnose", "understand", "explore", "research"}},
	{IntentOptimize, []string{"optimize", "performance", "speed up", "faster", "latency", "slow"}},
}

type componentRule struct {
	component string
	keywords  []string
}

// componentRules detects likely affected components by path/phrase
// keywords (spec.md §4.4: "component detection by path keywords"), in a
// fixed order for deterministic output.
var componentRules = []componentRule{
	{"api", []string{"api", "handler", "endpoint", "route"}},
	{"frontend", []string{"frontend", "ui", "component", "react", "view"}},
	{"database", []string{"database", "db", "migration", "schema", "sql"}},
	{"worker", []string{"worker", "queue", "job", "background"}},
	{"config", []string{"config", "configuration", "settings", "env"}},
	{"tests", []string{"test", "tests", "spec"}},
	{"docs", []string{"doc", "docs", "readme"}},
}

// riskByCategory seeds the estimated risk before the risk shaper's own
// escalation rules run against the actual changeset (spec.md §4.4/§4.2).
var riskByCategory = map[IntentCategory]string{
	IntentFixBug:      "medium",
	IntentAddFeature:  "medium",
	IntentRefactor:    "medium",
	IntentUpdateDocs:  "low",
	IntentAddTest:     "low",
	IntentInvestigate: "low",
	IntentOptimize:    "medium",
	IntentUnknown:     "medium",
}

var approachByCategory = map[IntentCategory]string{
	IntentFixBug:      "locate the failing code path, add a regression test, then apply the minimal fix",
	IntentAddFeature:  "design the change against existing patterns, implement, then add coverage",
	IntentRefactor:    "make behavior-preserving structural changes with tests passing before and after",
	IntentUpdateDocs:  "update the relevant documentation to match current behavior",
	IntentAddTest:     "add tests covering the described scenario without changing production code",
	IntentInvestigate: "read and trace the relevant code paths; no changes proposed until root cause is known",
	IntentOptimize:    "profile the hot path, then apply a targeted performance change with before/after measurement",
	IntentUnknown:     "clarify the request; no deterministic approach could be derived from keywords alone",
}

// DecomposeIntent classifies a free-text user intent into a category,
// detects likely affected components, and maps that deterministically to
// an analysis requirement, tool set, estimated risk, and suggested
// approach (spec.md §4.4). No LLM call is made.
func DecomposeIntent(userIntent string) DecomposedIntent {
	lower := strings.ToLower(userIntent)

	category := scoreCategory(lower)
	components := detectComponents(lower)
	analysisRequired := category == IntentFixBug || category == IntentInvestigate || category == IntentOptimize

	toolSet := append([]string{}, analysisToolWhitelist...)
	if !analysisRequired {
		toolSet = append(toolSet, planGenerationExtraTools...)
	}

	return DecomposedIntent{
		Category:          category,
		Components:        components,
		AnalysisRequired:  analysisRequired,
		ToolSet:           toolSet,
		EstimatedRisk:     riskByCategory[category],
		SuggestedApproach: approachByCategory[category],
	}
}

func scoreCategory(lower string) IntentCategory {
	best := IntentUnknown
	bestScore := 0
	for _, rule := range categoryRules {
		score := 0
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = rule.category
		}
	}
	return best
}

func detectComponents(lower string) []string {
	var components []string
	for _, rule := range componentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				components = append(components, rule.component)
				break
			}
		}
	}
	return components
}
