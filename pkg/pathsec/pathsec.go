// Package pathsec resolves and validates relative paths against a workspace
// boundary, refusing absolute paths, UNC paths, and any symlink on the
// ancestor chain, then matches the result against forbidden/allowed glob
// patterns (spec §4.1).
package pathsec

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Violation enumerates the reasons canonicalize or a policy check can refuse
// a path (spec §4.1).
type Violation string

const (
	ViolationNone             Violation = ""
	ViolationPathTraversal    Violation = "path_traversal"
	ViolationForbiddenRoot    Violation = "forbidden_root"
	ViolationSymlinkPath      Violation = "symlink_path"
	ViolationOutsideWorkspace Violation = "outside_workspace"
	ViolationAbsolutePath     Violation = "absolute_path_denied"
	ViolationUNCPath          Violation = "unc_path_denied"
)

// CanonicalPathResult is the result of Canonicalize.
type CanonicalPathResult struct {
	AbsPath        string
	NormPathStr    string
	HasSymlink     bool
	WithinWorkspace bool
	Violation      Violation
}

// isUNC reports whether path looks like a Windows UNC path (\\server\share,
// with either slash direction). Checked regardless of host OS so
// behavior is deterministic in tests run on any platform.
func isUNC(path string) bool {
	p := strings.ReplaceAll(path, "/", `\`)
	return strings.HasPrefix(p, `\\`)
}

// Canonicalize resolves path relative to workspaceRoot without following the
// final symlink, then walks every ancestor directory between the resolved
// path and the root looking for a symlink anywhere on the chain. Evaluation
// order: absolute/UNC rejection, within-workspace check, then the
// symlink-chain walk, so a path that leaves the workspace reports
// outside_workspace even when a symlink lies on its chain.
func Canonicalize(path, workspaceRoot string) CanonicalPathResult {
	if isUNC(path) {
		return CanonicalPathResult{Violation: ViolationUNCPath}
	}
	if filepath.IsAbs(path) || (runtime.GOOS != "windows" && strings.HasPrefix(path, "/")) {
		return CanonicalPathResult{Violation: ViolationAbsolutePath}
	}

	root, err := filepath.Abs(filepath.Clean(workspaceRoot))
	if err != nil {
		return CanonicalPathResult{Violation: ViolationOutsideWorkspace}
	}
	root = filepath.Clean(root)

	joined := filepath.Join(root, path)
	norm := filepath.Clean(joined)

	rel, err := filepath.Rel(root, norm)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return CanonicalPathResult{AbsPath: norm, NormPathStr: norm, Violation: ViolationOutsideWorkspace}
	}

	hasSymlink, err := ancestorHasSymlink(root, norm)
	if err != nil {
		// Best-effort: a stat error on a non-existent ancestor is not itself
		// a violation (the path may not exist yet, e.g. a CREATE target).
		hasSymlink = false
	}
	if hasSymlink {
		return CanonicalPathResult{
			AbsPath:         norm,
			NormPathStr:     norm,
			HasSymlink:      true,
			WithinWorkspace: true,
			Violation:       ViolationSymlinkPath,
		}
	}

	return CanonicalPathResult{
		AbsPath:         norm,
		NormPathStr:     norm,
		WithinWorkspace: true,
		Violation:       ViolationNone,
	}
}

// ancestorHasSymlink walks from target up to (and excluding) root, testing
// each intermediate directory for a symlink. It never follows the final
// component itself (target may legitimately not exist yet).
func ancestorHasSymlink(root, target string) (bool, error) {
	dir := filepath.Dir(target)
	for {
		if dir == root || len(dir) <= len(root) {
			return false, nil
		}
		info, err := os.Lstat(dir)
		if err != nil {
			if os.IsNotExist(err) {
				dir = filepath.Dir(dir)
				continue
			}
			return false, err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return true, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false, nil
		}
		dir = parent
	}
}

// normalizeForMatch lowercases the path on case-insensitive filesystems
// (Windows, Darwin) for pattern matching while preserving the original for
// display, per spec §4.1's platform note.
func normalizeForMatch(p string) string {
	p = filepath.ToSlash(p)
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		return strings.ToLower(p)
	}
	return p
}

// MatchPattern reports whether p matches glob pattern, which may use `**`
// (recursive, any number of segments including zero) `*` (single segment)
// and literal path segments.
func MatchPattern(pattern, p string) bool {
	pattern = normalizeForMatch(pattern)
	p = normalizeForMatch(p)
	return matchSegments(strings.Split(pattern, "/"), strings.Split(p, "/"))
}

func matchSegments(pat, path []string) bool {
	if len(pat) == 0 {
		return len(path) == 0
	}
	head := pat[0]
	if head == "**" {
		if len(pat) == 1 {
			return true
		}
		for i := 0; i <= len(path); i++ {
			if matchSegments(pat[1:], path[i:]) {
				return true
			}
		}
		return false
	}
	if len(path) == 0 {
		return false
	}
	ok, err := filepath.Match(head, path[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pat[1:], path[1:])
}

// PathPolicyCheck applies forbidden patterns (highest priority) then allowed
// patterns; default deny if neither list matches (spec §4.1, step 4).
func PathPolicyCheck(target, root string, allowed, forbidden []string) (bool, string) {
	res := Canonicalize(target, root)
	if res.Violation != ViolationNone {
		return false, string(res.Violation)
	}
	rel, err := filepath.Rel(root, res.AbsPath)
	if err != nil {
		return false, string(ViolationOutsideWorkspace)
	}
	rel = filepath.ToSlash(rel)

	for _, pat := range forbidden {
		if MatchPattern(pat, rel) {
			return false, fmt.Sprintf("forbidden pattern %q", pat)
		}
	}
	for _, pat := range allowed {
		if MatchPattern(pat, rel) {
			return true, ""
		}
	}
	// Step 4: default deny, regardless of whether an allow-list was
	// configured — a policy that only lists forbidden_paths still denies
	// anything not explicitly allowed.
	return false, "not_in_allowed_paths"
}
