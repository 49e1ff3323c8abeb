// Package reflection implements the offline Reflection Analyzer (spec.md
// §4.17): SQL aggregation over the execution store producing failure
// attribution and WriteGate false-allow/false-deny feedback signals.
//
// Grounded on original_source/scripts/reflection_analysis.py's intent
// (failure attribution summary + WriteGate feedback signal), reimplemented
// as Go queries over pkg/store's executions/execution_steps tables since
// the original script's own body was not present in the retrieval pack
// beyond its docstring and imports.
package reflection

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"
)

// FalseAllowThreshold is the rate above which the analyzer reports failure
// (spec.md §4.17: "exits non-zero if false-allow rate exceeds 10%").
const FalseAllowThreshold = 0.10

// StepFailureCount pairs a step name with how often it failed.
type StepFailureCount struct {
	StepName string `json:"step_name"`
	Count    int    `json:"count"`
}

// ErrorCodeCount pairs a heuristically-extracted error code with its count.
type ErrorCodeCount struct {
	ErrorCode string `json:"error_code"`
	Count     int    `json:"count"`
}

// RiskLevelFailures counts failed/rolled-back executions per risk level.
type RiskLevelFailures struct {
	RiskLevel string `json:"risk_level"`
	Count     int    `json:"count"`
}

// FalseAllowSignal is the WriteGate feedback signal (spec.md §4.17):
// executions the gate allowed that went on to fail or be rolled back.
type FalseAllowSignal struct {
	TotalAllowed  int     `json:"total_allowed"`
	FalseAllowed  int     `json:"false_allowed"`
	Rate          float64 `json:"rate"`
	ExceedsLimit  bool    `json:"exceeds_limit"`
}

// PotentialFalseDeny is a placeholder candidate for manual review: a DENY
// decision whose plan was never retried and completed successfully another
// way. The analyzer cannot determine ground truth, so this is a heuristic
// candidate list, not a verdict (spec.md §4.17).
type PotentialFalseDeny struct {
	PlanID string `json:"plan_id"`
	Reason string `json:"reason"`
}

// Report is the full output of Analyze.
type Report struct {
	GeneratedAt         time.Time            `json:"generated_at"`
	TotalExecutions     int                  `json:"total_executions"`
	FailedExecutions     int                  `json:"failed_executions"`
	TopErrorSteps        []StepFailureCount   `json:"top_error_steps"`
	TopErrorCodes        []ErrorCodeCount     `json:"top_error_codes"`
	AverageFailureSeconds float64             `json:"average_failure_duration_seconds"`
	FailuresByRiskLevel   []RiskLevelFailures `json:"failures_by_risk_level"`
	FalseAllow            FalseAllowSignal    `json:"false_allow"`
	PotentialFalseDenies  []PotentialFalseDeny `json:"potential_false_deny"`
}

// ExceedsFalseAllowLimit reports whether this report should cause the CLI
// to exit non-zero (spec.md §4.17, §6 "Exit codes").
func (r *Report) ExceedsFalseAllowLimit() bool {
	return r.FalseAllow.ExceedsLimit
}

// Analyzer runs reflection queries against an execution-store database.
type Analyzer struct {
	db  *sql.DB
	now func() time.Time
}

// NewAnalyzer wraps db (expected to already have pkg/store's migrations
// applied).
func NewAnalyzer(db *sql.DB) *Analyzer {
	return &Analyzer{db: db, now: time.Now}
}

// Analyze produces the full reflection report, bounding the failed-run scan
// to failedLimit most-recent rows (spec.md §4.17's `--failed-limit` flag).
func (a *Analyzer) Analyze(ctx context.Context, failedLimit int) (*Report, error) {
	if failedLimit <= 0 {
		failedLimit = 200
	}

	total, err := a.countTotalExecutions(ctx)
	if err != nil {
		return nil, err
	}

	failures, err := a.loadFailures(ctx, failedLimit)
	if err != nil {
		return nil, err
	}

	avgDuration, err := a.averageFailureDuration(ctx)
	if err != nil {
		return nil, err
	}

	byRisk, err := a.failuresByRiskLevel(ctx)
	if err != nil {
		return nil, err
	}

	falseAllow, err := a.falseAllowSignal(ctx)
	if err != nil {
		return nil, err
	}

	falseDenies, err := a.potentialFalseDenies(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{
		GeneratedAt:           a.now(),
		TotalExecutions:       total,
		FailedExecutions:      len(failures),
		TopErrorSteps:         topErrorSteps(failures),
		TopErrorCodes:         topErrorCodes(failures),
		AverageFailureSeconds: avgDuration,
		FailuresByRiskLevel:   byRisk,
		FalseAllow:            falseAllow,
		PotentialFalseDenies:  falseDenies,
	}
	return report, nil
}

type failureRow struct {
	ErrorStep    string
	ErrorMessage string
}

func (a *Analyzer) countTotalExecutions(ctx context.Context) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions`).Scan(&n)
	return n, err
}

func (a *Analyzer) loadFailures(ctx context.Context, limit int) ([]failureRow, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT COALESCE(error_step, ''), COALESCE(error_message, '')
		FROM executions
		WHERE status IN ('failed', 'rolled_back')
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []failureRow
	for rows.Next() {
		var f failureRow
		if err := rows.Scan(&f.ErrorStep, &f.ErrorMessage); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (a *Analyzer) averageFailureDuration(ctx context.Context) (float64, error) {
	var avg sql.NullFloat64
	err := a.db.QueryRowContext(ctx, `
		SELECT AVG(duration_seconds) FROM executions
		WHERE status IN ('failed', 'rolled_back') AND duration_seconds IS NOT NULL`).Scan(&avg)
	if err != nil {
		return 0, err
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

func (a *Analyzer) failuresByRiskLevel(ctx context.Context) ([]RiskLevelFailures, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT risk_level, COUNT(*) FROM executions
		WHERE status IN ('failed', 'rolled_back')
		GROUP BY risk_level
		ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RiskLevelFailures
	for rows.Next() {
		var r RiskLevelFailures
		if err := rows.Scan(&r.RiskLevel, &r.Count); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// falseAllowSignal computes the rate of verdict=ALLOW executions that ended
// up failed or rolled_back (spec.md §4.17).
func (a *Analyzer) falseAllowSignal(ctx context.Context) (FalseAllowSignal, error) {
	var totalAllowed int
	if err := a.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM executions WHERE verdict = 'ALLOW'`).Scan(&totalAllowed); err != nil {
		return FalseAllowSignal{}, err
	}

	var falseAllowed int
	if err := a.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM executions
		WHERE verdict = 'ALLOW' AND status IN ('failed', 'rolled_back')`).Scan(&falseAllowed); err != nil {
		return FalseAllowSignal{}, err
	}

	var rate float64
	if totalAllowed > 0 {
		rate = float64(falseAllowed) / float64(totalAllowed)
	}
	return FalseAllowSignal{
		TotalAllowed: totalAllowed,
		FalseAllowed: falseAllowed,
		Rate:         rate,
		ExceedsLimit: rate > FalseAllowThreshold,
	}, nil
}

// potentialFalseDenies lists DENY decisions whose plan never has a
// completed execution — a candidate for manual review, not a verdict
// (spec.md §4.17's "placeholder ... for manual review").
func (a *Analyzer) potentialFalseDenies(ctx context.Context) ([]PotentialFalseDeny, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT gd.plan_id
		FROM governance_decisions gd
		WHERE gd.verdict = 'DENY'
		AND NOT EXISTS (
			SELECT 1 FROM executions e
			WHERE e.plan_id = gd.plan_id AND e.status = 'completed'
		)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PotentialFalseDeny
	for rows.Next() {
		var planID string
		if err := rows.Scan(&planID); err != nil {
			return nil, err
		}
		out = append(out, PotentialFalseDeny{
			PlanID: planID,
			Reason: "denied plan has no completed execution on record; candidate for manual review",
		})
	}
	return out, rows.Err()
}

// errorCode heuristically extracts a short code from an error message: the
// first `[BRACKETED]` token if present, else the first word.
func errorCode(message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		return "unknown"
	}
	if strings.HasPrefix(message, "[") {
		if end := strings.Index(message, "]"); end > 0 {
			return message[1:end]
		}
	}
	fields := strings.Fields(message)
	if len(fields) == 0 {
		return "unknown"
	}
	return fields[0]
}

func topErrorSteps(failures []failureRow) []StepFailureCount {
	counts := map[string]int{}
	for _, f := range failures {
		step := f.ErrorStep
		if step == "" {
			step = "unknown"
		}
		counts[step]++
	}
	return sortedCounts(counts, func(name string, n int) StepFailureCount {
		return StepFailureCount{StepName: name, Count: n}
	})
}

func topErrorCodes(failures []failureRow) []ErrorCodeCount {
	counts := map[string]int{}
	for _, f := range failures {
		counts[errorCode(f.ErrorMessage)]++
	}
	return sortedCounts(counts, func(code string, n int) ErrorCodeCount {
		return ErrorCodeCount{ErrorCode: code, Count: n}
	})
}

func sortedCounts[T any](counts map[string]int, build func(string, int) T) []T {
	type kv struct {
		key string
		n   int
	}
	pairs := make([]kv, 0, len(counts))
	for k, n := range counts {
		pairs = append(pairs, kv{k, n})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].n != pairs[j].n {
			return pairs[i].n > pairs[j].n
		}
		return pairs[i].key < pairs[j].key
	})
	out := make([]T, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, build(p.key, p.n))
	}
	return out
}
