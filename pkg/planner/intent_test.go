package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecomposeIntent_FixBugRequiresAnalysis(t *testing.T) {
	d := DecomposeIntent("fix the crash happening in the api handler")
	assert.Equal(t, IntentFixBug, d.Category)
	assert.True(t, d.AnalysisRequired)
	assert.Contains(t, d.Components, "api")
	assert.NotContains(t, d.ToolSet, "generate_diff")
}

func TestDecomposeIntent_AddFeatureDoesNotRequireAnalysis(t *testing.T) {
	d := DecomposeIntent("add a new feature to support user export in the frontend")
	assert.Equal(t, IntentAddFeature, d.Category)
	assert.False(t, d.AnalysisRequired)
	assert.Contains(t, d.Components, "frontend")
	assert.Contains(t, d.ToolSet, "generate_diff")
}

func TestDecomposeIntent_UnknownWhenNoKeywordsMatch(t *testing.T) {
	d := DecomposeIntent("asdf qwer zxcv")
	assert.Equal(t, IntentUnknown, d.Category)
	assert.Empty(t, d.Components)
}

func TestDecomposeIntent_DocsIsLowRisk(t *testing.T) {
	d := DecomposeIntent("update the readme documentation")
	assert.Equal(t, IntentUpdateDocs, d.Category)
	assert.Equal(t, "low", d.EstimatedRisk)
}
