package pathsec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalize_WithinWorkspaceOK(t *testing.T) {
	root := t.TempDir()
	res := Canonicalize("src/main.go", root)
	require.Equal(t, ViolationNone, res.Violation)
	require.True(t, res.WithinWorkspace)
	require.False(t, res.HasSymlink)
}

func TestCanonicalize_PathTraversalOutsideWorkspace(t *testing.T) {
	root := t.TempDir()
	res := Canonicalize("../../etc/passwd", root)
	require.Equal(t, ViolationOutsideWorkspace, res.Violation)
	require.False(t, res.WithinWorkspace)
}

func TestCanonicalize_AbsolutePathDenied(t *testing.T) {
	root := t.TempDir()
	res := Canonicalize("/etc/passwd", root)
	require.Equal(t, ViolationAbsolutePath, res.Violation)
}

func TestCanonicalize_UNCPathDenied(t *testing.T) {
	root := t.TempDir()
	res := Canonicalize(`\\server\share\file.txt`, root)
	require.Equal(t, ViolationUNCPath, res.Violation)
}

func TestCanonicalize_SymlinkOnAncestorChainDenied(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "linked")))

	res := Canonicalize("linked/file.txt", root)
	require.Equal(t, ViolationSymlinkPath, res.Violation)
	require.True(t, res.HasSymlink)
	require.True(t, res.WithinWorkspace)
}

func TestCanonicalize_NonExistentPathIsNotASymlinkViolation(t *testing.T) {
	root := t.TempDir()
	res := Canonicalize("new/nested/file.txt", root)
	require.Equal(t, ViolationNone, res.Violation)
}

func TestMatchPattern_RecursiveAndSingleSegment(t *testing.T) {
	require.True(t, MatchPattern("**/*.py", "apps/core/main.py"))
	require.True(t, MatchPattern("*.env", ".env"))
	require.False(t, MatchPattern("*.env", "nested/.env"))
	require.True(t, MatchPattern("**/migrations/*.sql", "apps/db/migrations/0001.sql"))
}

func TestPathPolicyCheck_ForbiddenTakesPriorityOverAllowed(t *testing.T) {
	root := t.TempDir()
	allowed, reason := PathPolicyCheck("secrets/.env", root, []string{"**"}, []string{"**/.env"})
	require.False(t, allowed)
	require.Contains(t, reason, "forbidden pattern")
}

func TestPathPolicyCheck_AllowedPatternMatches(t *testing.T) {
	root := t.TempDir()
	allowed, reason := PathPolicyCheck("src/main.go", root, []string{"src/**"}, nil)
	require.True(t, allowed)
	require.Empty(t, reason)
}

func TestPathPolicyCheck_EmptyAllowedListDefaultsDeny(t *testing.T) {
	root := t.TempDir()
	allowed, reason := PathPolicyCheck("src/main.go", root, nil, nil)
	require.False(t, allowed)
	require.Equal(t, "not_in_allowed_paths", reason)
}

func TestPathPolicyCheck_EmptyAllowedListStillDeniesEvenWithForbiddenConfigured(t *testing.T) {
	root := t.TempDir()
	allowed, reason := PathPolicyCheck("src/main.go", root, nil, []string{"**/.env"})
	require.False(t, allowed)
	require.Equal(t, "not_in_allowed_paths", reason)
}

func TestPathPolicyCheck_TraversalDeniedBeforePatternMatching(t *testing.T) {
	root := t.TempDir()
	allowed, reason := PathPolicyCheck("../../etc/passwd", root, []string{"**"}, nil)
	require.False(t, allowed)
	require.Equal(t, string(ViolationOutsideWorkspace), reason)
}

func TestPathPolicyCheck_SymlinkCrossingDenied(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "linked")))

	allowed, reason := PathPolicyCheck("linked/file.txt", root, []string{"**"}, nil)
	require.False(t, allowed)
	require.Equal(t, string(ViolationSymlinkPath), reason)
}
