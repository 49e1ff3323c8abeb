package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateRollbackPlan_IncludesDBStepForSchemaPaths(t *testing.T) {
	plan := GenerateRollbackPlan([]string{"migrations/0010_add_col.sql"}, []string{"api"})
	assert.Contains(t, plan, "down-migration")
	assert.Contains(t, plan, "api")
}

func TestGenerateRollbackPlan_NoDBStepWithoutSchemaPaths(t *testing.T) {
	plan := GenerateRollbackPlan([]string{"pkg/foo/bar.go"}, nil)
	assert.NotContains(t, plan, "down-migration")
	assert.Contains(t, plan, "git revert")
}

func TestGenerateVerificationPlan_IncludesUIStepForFrontendPaths(t *testing.T) {
	plan := GenerateVerificationPlan([]string{"frontend/src/App.tsx"}, []string{"frontend"})
	assert.Contains(t, plan, "UI")
	assert.Contains(t, plan, "frontend")
}

func TestGenerateHealthChecks_AddsDBCheckForSchemaPaths(t *testing.T) {
	checks := GenerateHealthChecks([]string{"db/schema.sql"}, []string{"api"})
	assert.Contains(t, checks, "api:/healthz")
	assert.Contains(t, checks, "database:connectivity")
}

func TestGenerateHealthChecks_NoDBCheckWithoutSchemaPaths(t *testing.T) {
	checks := GenerateHealthChecks([]string{"pkg/foo.go"}, []string{"worker"})
	assert.Equal(t, []string{"worker:/healthz"}, checks)
}
