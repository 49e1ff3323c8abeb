package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nana77mi/lonelycat/pkg/artifact"
	"github.com/nana77mi/lonelycat/pkg/executor"
	"github.com/nana77mi/lonelycat/pkg/governance"
	"github.com/nana77mi/lonelycat/pkg/planner"
	"github.com/nana77mi/lonelycat/pkg/policy"
	"github.com/nana77mi/lonelycat/pkg/runqueue"
	"github.com/nana77mi/lonelycat/pkg/store"

	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.RunMigrations(context.Background(), db))
	return db
}

func artifactManager(t *testing.T) *artifact.Manager {
	t.Helper()
	return artifact.NewManager(t.TempDir())
}

func newHandler(t *testing.T, pol *policy.Policy, workspaceRoot string) (*CodeChangeHandler, *governance.Store) {
	t.Helper()
	db := newTestDB(t)
	gov := governance.NewStore(db)
	return &CodeChangeHandler{
		Planner:   planner.NewPlanner(nil),
		WriteGate: policy.NewWriteGate(pol, workspaceRoot),
		Executor: &executor.Executor{
			WorkspaceRoot: workspaceRoot,
			Artifacts:     artifactManager(t),
			Store:         store.NewExecutionStore(db),
		},
		Governance: gov,
	}, gov
}

func TestCodeChangeHandler_DeniesForbiddenPath(t *testing.T) {
	handler, gov := newHandler(t, &policy.Policy{ForbiddenPaths: []string{"UNKNOWN"}}, t.TempDir())

	input, err := json.Marshal(codeChangeInput{Intent: "tweak something risky", Creator: "tester"})
	require.NoError(t, err)
	run := &runqueue.Run{ID: "run-1", Type: "code_change", Input: input}

	out, err := handler.Handle(context.Background(), run)
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, string(governance.VerdictDeny), result["verdict"])
	assert.NotContains(t, result, "execution_id")

	decisionID, _ := result["decision_id"].(string)
	require.NotEmpty(t, decisionID)
	planID, _ := result["plan_id"].(string)
	_, err = gov.GetPlan(context.Background(), planID)
	assert.NoError(t, err)
}

func TestCodeChangeHandler_AllowsAndExecutes(t *testing.T) {
	workspaceRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspaceRoot, "frontend"), []byte(""), 0o644))
	handler, _ := newHandler(t, &policy.Policy{}, workspaceRoot)

	input, err := json.Marshal(codeChangeInput{Intent: "bump a frontend label", Creator: "tester"})
	require.NoError(t, err)
	run := &runqueue.Run{ID: "run-2", Type: "code_change", Input: input}

	out, err := handler.Handle(context.Background(), run)
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, string(governance.VerdictAllow), result["verdict"])
	assert.NotEmpty(t, result["execution_id"])
}
