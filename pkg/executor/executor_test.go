package executor

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nana77mi/lonelycat/pkg/artifact"
	"github.com/nana77mi/lonelycat/pkg/execlock"
	"github.com/nana77mi/lonelycat/pkg/governance"
	"github.com/nana77mi/lonelycat/pkg/store"
)

func newExecutor(t *testing.T, root string) *Executor {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared&_pragma=foreign_keys(1)")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.RunMigrations(context.Background(), db))

	return &Executor{
		WorkspaceRoot: root,
		Artifacts:     artifact.NewManager(root),
		Store:         store.NewExecutionStore(db),
		Lock:          execlock.NewLock(root),
		Idempotency:   execlock.NewIdempotencyCache(root),
		VerifyRunner:  ShellVerifyRunner{},
		HealthRunner:  HTTPHealthRunner{},
	}
}

func strPtr(s string) *string { return &s }

func TestExecutor_RollbackOnVerificationFailure(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "x.txt")
	require.NoError(t, os.WriteFile(target, []byte("A"), 0o644))

	ex := newExecutor(t, root)

	cs := &governance.ChangeSet{
		ID:     "cs1",
		PlanID: "p1",
		Changes: []governance.FileChange{
			{Operation: governance.OpUpdate, Path: "x.txt", OldContent: strPtr("A"), NewContent: strPtr("B")},
		},
	}
	cs.Checksum = governance.ComputeChecksum(cs.Changes)

	plan := &governance.ChangePlan{ID: "p1", VerificationPlan: "exit 1", AffectedPaths: []string{"x.txt"}}
	decision := &governance.GovernanceDecision{ID: "d1", Verdict: governance.VerdictAllow, RiskLevelEffective: governance.RiskLow}

	result, err := ex.Execute(context.Background(), plan, cs, decision)
	require.Error(t, err)
	require.NotNil(t, result)
	require.Equal(t, store.StatusRolledBack, result.Status)
	require.True(t, result.RolledBack)

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "A", string(content))
}

func TestExecutor_ChecksumMismatchAbortsWithoutApplying(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "x.txt")
	require.NoError(t, os.WriteFile(target, []byte("A"), 0o644))

	ex := newExecutor(t, root)
	cs := &governance.ChangeSet{
		ID:     "cs1",
		PlanID: "p1",
		Changes: []governance.FileChange{
			{Operation: governance.OpUpdate, Path: "x.txt", OldContent: strPtr("A"), NewContent: strPtr("B")},
		},
		Checksum: "tampered",
	}
	plan := &governance.ChangePlan{ID: "p1", AffectedPaths: []string{"x.txt"}}
	decision := &governance.GovernanceDecision{ID: "d1", Verdict: governance.VerdictAllow}

	_, err := ex.Execute(context.Background(), plan, cs, decision)
	require.Error(t, err)

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "A", string(content))
}

func TestExecutor_SuccessfulApplyUpdatesFile(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "x.txt")
	require.NoError(t, os.WriteFile(target, []byte("A"), 0o644))

	ex := newExecutor(t, root)
	cs := &governance.ChangeSet{
		ID:     "cs1",
		PlanID: "p1",
		Changes: []governance.FileChange{
			{Operation: governance.OpUpdate, Path: "x.txt", OldContent: strPtr("A"), NewContent: strPtr("B")},
		},
	}
	cs.Checksum = governance.ComputeChecksum(cs.Changes)
	plan := &governance.ChangePlan{ID: "p1", AffectedPaths: []string{"x.txt"}}
	decision := &governance.GovernanceDecision{ID: "d1", Verdict: governance.VerdictAllow}

	result, err := ex.Execute(context.Background(), plan, cs, decision)
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, result.Status)

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "B", string(content))
}
