// Package policy loads the governance policy file and implements the
// WriteGate judge (spec §4.2), grounded on the risk-escalation/gating
// algorithm of original_source/packages/governance/writegate.py, with YAML
// loading in the teacher's multi-document-merge idiom (pkg/config/loader.go).
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nana77mi/lonelycat/pkg/pathsec"
)

// Trigger is one writegate_rules.triggers entry (spec §6).
type Trigger struct {
	PathMatches []string `yaml:"path_matches"`
}

// UnmarshalYAML accepts either a single pattern string or a list (spec §6:
// "pattern|[pattern]").
func (t *Trigger) UnmarshalYAML(value *yaml.Node) error {
	type alias struct {
		PathMatches yaml.Node `yaml:"path_matches"`
	}
	var a alias
	if err := value.Decode(&a); err != nil {
		return err
	}
	if a.PathMatches.Kind == yaml.SequenceNode {
		return a.PathMatches.Decode(&t.PathMatches)
	}
	var single string
	if err := a.PathMatches.Decode(&single); err != nil {
		return err
	}
	if single != "" {
		t.PathMatches = []string{single}
	}
	return nil
}

// WritegateRules groups the trigger configuration (spec §6).
type WritegateRules struct {
	Triggers []Trigger `yaml:"triggers"`
}

// Policy is the parsed policy file (spec §6: "forbidden_paths, writegate_rules.triggers, plus optional categorical lists").
type Policy struct {
	ForbiddenPaths  []string        `yaml:"forbidden_paths"`
	AllowedPaths    []string        `yaml:"allowed_paths"`
	WritegateRules  WritegateRules  `yaml:"writegate_rules"`

	// Path glob sets referenced by the risk-escalation rules (spec §4.2 step 2).
	// Defaulted if unset so the escalation rules always have something to test.
	EscalateMediumPaths []string `yaml:"escalate_medium_paths"`
	EscalateHighPaths   []string `yaml:"escalate_high_paths"`

	SourcePath string `yaml:"-"`
	RawBytes   []byte `yaml:"-"`
}

func defaultEscalateMedium() []string {
	return []string{"packages/**/*.py", "apps/**/*.py", "**/migrations/*.py"}
}

func defaultEscalateHigh() []string {
	return []string{"**/migrations/*.sql", "**/schema/**", "**/*schema*.py"}
}

// Load reads path, splitting it on YAML document separators and merging each
// sub-document into one Policy (spec §4.2: "may contain multiple
// sub-documents (merged)"), the way the teacher's config loader merges
// multiple YAML documents in pkg/config/loader.go.
func Load(path string) (*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	merged := &Policy{SourcePath: path, RawBytes: raw}
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	for {
		var doc Policy
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parsing policy YAML: %w", err)
		}
		merged.ForbiddenPaths = append(merged.ForbiddenPaths, doc.ForbiddenPaths...)
		merged.AllowedPaths = append(merged.AllowedPaths, doc.AllowedPaths...)
		merged.WritegateRules.Triggers = append(merged.WritegateRules.Triggers, doc.WritegateRules.Triggers...)
		merged.EscalateMediumPaths = append(merged.EscalateMediumPaths, doc.EscalateMediumPaths...)
		merged.EscalateHighPaths = append(merged.EscalateHighPaths, doc.EscalateHighPaths...)
	}
	if len(merged.EscalateMediumPaths) == 0 {
		merged.EscalateMediumPaths = defaultEscalateMedium()
	}
	if len(merged.EscalateHighPaths) == 0 {
		merged.EscalateHighPaths = defaultEscalateHigh()
	}
	return merged, nil
}

// SnapshotHash is the SHA-256 over the file bytes (spec §6, §4.2).
func (p *Policy) SnapshotHash() string {
	sum := sha256.Sum256(p.RawBytes)
	return hex.EncodeToString(sum[:])
}

// matchesAny reports whether rel matches any of patterns, using pathsec's
// glob matcher so forbidden/trigger pattern semantics stay identical to path
// canonicalization's own pattern language.
func matchesAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if pathsec.MatchPattern(pat, rel) {
			return true
		}
	}
	return false
}

func isDBSchemaPath(rel string) bool {
	lower := strings.ToLower(rel)
	return strings.Contains(lower, "migration") || strings.Contains(lower, "schema")
}
