package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nana77mi/lonelycat/pkg/governance"
)

func writePolicy(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func strPtr(s string) *string { return &s }

func TestWriteGate_ForbiddenPathDeniesImmediately(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "forbidden_paths:\n  - \".env\"\n")
	pol, err := Load(path)
	require.NoError(t, err)

	wg := NewWriteGate(pol, dir)
	plan := &governance.ChangePlan{ID: "p1", RiskLevelProposed: governance.RiskLow, RollbackPlan: "r", VerificationPlan: "v"}
	cs := &governance.ChangeSet{ID: "cs1", Changes: []governance.FileChange{
		{Operation: governance.OpUpdate, Path: ".env", OldContent: strPtr("a"), NewContent: strPtr("b")},
	}}

	dec := wg.Evaluate(plan, cs, "", "")
	require.Equal(t, governance.VerdictDeny, dec.Verdict)
	require.Equal(t, governance.RiskCritical, dec.RiskLevelEffective)
}

func TestWriteGate_MissingRollbackOrVerificationNeedsApproval(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "forbidden_paths: []\n")
	pol, err := Load(path)
	require.NoError(t, err)

	wg := NewWriteGate(pol, dir)
	plan := &governance.ChangePlan{ID: "p1", RiskLevelProposed: governance.RiskLow, VerificationPlan: "v"}
	cs := &governance.ChangeSet{ID: "cs1", Changes: []governance.FileChange{
		{Operation: governance.OpUpdate, Path: "x.txt", OldContent: strPtr("a"), NewContent: strPtr("b")},
	}}

	dec := wg.Evaluate(plan, cs, "", "")
	require.Equal(t, governance.VerdictNeedApproval, dec.Verdict)
}

func TestWriteGate_AllowWhenGatedAndLowRisk(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "forbidden_paths: []\n")
	pol, err := Load(path)
	require.NoError(t, err)

	wg := NewWriteGate(pol, dir)
	plan := &governance.ChangePlan{ID: "p1", RiskLevelProposed: governance.RiskLow, RollbackPlan: "r", VerificationPlan: "v"}
	cs := &governance.ChangeSet{ID: "cs1", Changes: []governance.FileChange{
		{Operation: governance.OpUpdate, Path: "x.txt", OldContent: strPtr("a"), NewContent: strPtr("b")},
	}}

	dec := wg.Evaluate(plan, cs, "", "")
	require.Equal(t, governance.VerdictAllow, dec.Verdict)
}

func TestWriteGate_PathTraversalDeniesImmediately(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "forbidden_paths: []\n")
	pol, err := Load(path)
	require.NoError(t, err)

	wg := NewWriteGate(pol, dir)
	plan := &governance.ChangePlan{ID: "p1", RiskLevelProposed: governance.RiskLow, RollbackPlan: "r", VerificationPlan: "v"}
	cs := &governance.ChangeSet{ID: "cs1", Changes: []governance.FileChange{
		{Operation: governance.OpUpdate, Path: "../../etc/passwd", OldContent: strPtr("a"), NewContent: strPtr("b")},
	}}

	dec := wg.Evaluate(plan, cs, "", "")
	require.Equal(t, governance.VerdictDeny, dec.Verdict)
	require.Equal(t, governance.RiskCritical, dec.RiskLevelEffective)
	require.Contains(t, dec.ViolatedPolicies, "outside_workspace")
}

func TestWriteGate_SymlinkCrossingPathDeniesImmediately(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "linked")))

	path := writePolicy(t, dir, "forbidden_paths: []\n")
	pol, err := Load(path)
	require.NoError(t, err)

	wg := NewWriteGate(pol, dir)
	plan := &governance.ChangePlan{ID: "p1", RiskLevelProposed: governance.RiskLow, RollbackPlan: "r", VerificationPlan: "v"}
	cs := &governance.ChangeSet{ID: "cs1", Changes: []governance.FileChange{
		{Operation: governance.OpUpdate, Path: "linked/x.txt", OldContent: strPtr("a"), NewContent: strPtr("b")},
	}}

	dec := wg.Evaluate(plan, cs, "", "")
	require.Equal(t, governance.VerdictDeny, dec.Verdict)
	require.Contains(t, dec.ViolatedPolicies, "symlink_path")
}

func TestWriteGate_DeleteEscalatesToMediumRequiringHealthChecks(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "forbidden_paths: []\n")
	pol, err := Load(path)
	require.NoError(t, err)

	wg := NewWriteGate(pol, dir)
	plan := &governance.ChangePlan{ID: "p1", RiskLevelProposed: governance.RiskLow, RollbackPlan: "r", VerificationPlan: "v"}
	cs := &governance.ChangeSet{ID: "cs1", Changes: []governance.FileChange{
		{Operation: governance.OpDelete, Path: "x.txt", OldContent: strPtr("a")},
	}}

	dec := wg.Evaluate(plan, cs, "", "")
	require.Equal(t, governance.RiskMedium, dec.RiskLevelEffective)
	require.Equal(t, governance.VerdictNeedApproval, dec.Verdict)
}
