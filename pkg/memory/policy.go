package memory

import "strings"

// singleValuedKeys and multiValuedKeys form the per-key conflict-strategy registry. A KeyPolicyModel
// table row (if ever added) would take precedence; for now the defaults
// mirror facts.py's single_valued_keys / multi_valued_keys tables.
var singleValuedKeys = map[string]bool{
	"preferred_name": true,
	"timezone":       true,
	"language":       true,
	"email":          true,
	"phone":          true,
}

var singleValuedPatterns = []string{"project_", "_goal"}

var multiValuedKeys = map[string]bool{
	"favorite_tools": true,
	"projects":       true,
	"constraints":    true,
	"skills":         true,
	"tags":           true,
}

// resolveKeyPolicy implements spec.md §4.10 step 3's default table: exact
// single-valued keys and project_*_goal-style patterns overwrite; multi-valued
// keys, anything ending "_list" or "[]" keeps both; otherwise overwrite.
func resolveKeyPolicy(key string) ConflictStrategy {
	if singleValuedKeys[key] {
		return StrategyOverwriteLatest
	}
	if strings.HasPrefix(key, "project_") && strings.HasSuffix(key, "_goal") {
		return StrategyOverwriteLatest
	}
	if multiValuedKeys[key] || strings.HasSuffix(key, "_list") || strings.HasSuffix(key, "[]") {
		return StrategyKeepBoth
	}
	return StrategyOverwriteLatest
}
