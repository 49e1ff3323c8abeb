package planner

import (
	"fmt"
	"strings"
)

// schemaPathMarkers flags a path as touching a DB schema/migration
// (spec.md §4.2's "DB schema pattern", reused here per §4.4's "plus DB
// rollback if schema paths are touched").
var schemaPathMarkers = []string{"migration", "/schema", "schema.sql", "migrations/"}

func touchesSchema(paths []string) bool {
	for _, p := range paths {
		lower := strings.ToLower(p)
		for _, marker := range schemaPathMarkers {
			if strings.Contains(lower, marker) {
				return true
			}
		}
	}
	return false
}

func touchesFrontend(paths []string) bool {
	for _, p := range paths {
		lower := strings.ToLower(p)
		if strings.Contains(lower, "frontend/") || strings.Contains(lower, "/ui/") || strings.HasSuffix(lower, ".tsx") || strings.HasSuffix(lower, ".jsx") {
			return true
		}
	}
	return false
}

// GenerateRollbackPlan auto-generates a rollback plan for the given
// affected paths (spec.md §4.4): a VCS-revert template, affected-service
// restarts, plus a DB rollback step if schema paths are touched.
func GenerateRollbackPlan(affectedPaths, affectedServices []string) string {
	var steps []string
	steps = append(steps, "git revert the applied commit(s) for this change")
	for _, svc := range affectedServices {
		steps = append(steps, fmt.Sprintf("restart service %q to pick up the reverted code", svc))
	}
	if touchesSchema(affectedPaths) {
		steps = append(steps, "run the corresponding down-migration to reverse any schema change")
	}
	return joinSteps(steps)
}

// GenerateVerificationPlan auto-generates a verification plan (spec.md
// §4.4): test invocation plus service health probes, plus UI verification
// for frontend paths.
func GenerateVerificationPlan(affectedPaths, affectedServices []string) string {
	var steps []string
	steps = append(steps, "run the test suite covering the affected packages")
	for _, svc := range affectedServices {
		steps = append(steps, fmt.Sprintf("probe service %q's health endpoint", svc))
	}
	if touchesFrontend(affectedPaths) {
		steps = append(steps, "manually verify the affected UI views render and behave as expected")
	}
	return joinSteps(steps)
}

// GenerateHealthChecks auto-generates per-service endpoint strings (spec.md
// §4.4), adding a DB-connectivity check when schema paths are touched.
func GenerateHealthChecks(affectedPaths, affectedServices []string) []string {
	checks := make([]string, 0, len(affectedServices)+1)
	for _, svc := range affectedServices {
		checks = append(checks, fmt.Sprintf("%s:/healthz", svc))
	}
	if touchesSchema(affectedPaths) {
		checks = append(checks, "database:connectivity")
	}
	return checks
}

func joinSteps(steps []string) string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = fmt.Sprintf("%d. %s", i+1, s)
	}
	return strings.Join(out, "\n")
}
