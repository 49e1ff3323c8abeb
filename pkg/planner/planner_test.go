package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReasoner struct {
	response string
	err      error
}

func (f *fakeReasoner) Reason(ctx context.Context, prompt string) (string, error) {
	return f.response, f.err
}

func TestCreatePlanFromIntent_FixBugGoesThroughAnalysis(t *testing.T) {
	p := NewPlanner(nil)
	result, err := p.CreatePlanFromIntent(context.Background(), "plan-1", "fix the crash in the api handler", "agent-1")
	require.NoError(t, err)

	assert.Equal(t, StateGovernanceCheck, result.Context.State)
	assert.Equal(t, StateAnalysis, result.Context.History[0].To)
	assert.Equal(t, IntentFixBug, result.Decomposed.Category)

	require.NotNil(t, result.Plan)
	assert.Equal(t, "fix the crash in the api handler", result.Plan.Intent)
	assert.NotEmpty(t, result.Plan.RollbackPlan)
	assert.NotEmpty(t, result.Plan.VerificationPlan)

	require.NotNil(t, result.Changeset)
	assert.True(t, result.Changeset.VerifyChecksum())
	require.Len(t, result.Changeset.Changes, 1)
}

func TestCreatePlanFromIntent_AddFeatureSkipsAnalysis(t *testing.T) {
	p := NewPlanner(nil)
	result, err := p.CreatePlanFromIntent(context.Background(), "plan-2", "add a new feature to the worker", "agent-1")
	require.NoError(t, err)

	assert.Equal(t, StatePlanGeneration, result.Context.History[0].To)
}

func TestCreatePlanFromIntent_UsesReasonerWhenProvided(t *testing.T) {
	p := NewPlanner(&fakeReasoner{response: "because the bug affects checkout"})
	result, err := p.CreatePlanFromIntent(context.Background(), "plan-3", "fix the checkout bug", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "because the bug affects checkout", result.Plan.Rationale)
}

func TestCreatePlanFromIntent_ReasonerErrorDoesNotFailPlan(t *testing.T) {
	p := NewPlanner(&fakeReasoner{err: assertErr{}})
	result, err := p.CreatePlanFromIntent(context.Background(), "plan-4", "fix a bug", "agent-1")
	require.NoError(t, err)
	assert.Empty(t, result.Plan.Rationale)
}

type assertErr struct{}

func (assertErr) Error() string { return "reasoner unavailable" }
