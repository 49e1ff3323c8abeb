package reflection

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nana77mi/lonelycat/pkg/store"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.RunMigrations(context.Background(), db))
	return db
}

func startExecution(t *testing.T, s *store.ExecutionStore, id, verdict, riskLevel string) {
	t.Helper()
	require.NoError(t, s.RecordExecutionStart(context.Background(), &store.ExecutionRecord{
		ExecutionID: id,
		PlanID:      id + "-plan",
		ChangesetID: id + "-cs",
		DecisionID:  id + "-dec",
		Checksum:    "chk",
		Verdict:     verdict,
		RiskLevel:   riskLevel,
		StartedAt:   time.Now().UTC(),
	}))
}

func endExecution(t *testing.T, s *store.ExecutionStore, id string, status store.ExecutionStatus, duration float64, errStep, errMsg string) {
	t.Helper()
	require.NoError(t, s.RecordExecutionEnd(context.Background(), id, status, time.Now().UTC(), duration, 1, false, nil, nil, errStep, errMsg, ""))
}

func TestAnalyze_FalseAllowRate(t *testing.T) {
	db := newTestDB(t)
	execStore := store.NewExecutionStore(db)

	startExecution(t, execStore, "e1", "ALLOW", "low")
	endExecution(t, execStore, "e1", store.StatusCompleted, 1.5, "", "")

	startExecution(t, execStore, "e2", "ALLOW", "medium")
	endExecution(t, execStore, "e2", store.StatusFailed, 3.0, "apply", "[E_APPLY] write failed")

	startExecution(t, execStore, "e3", "ALLOW", "high")
	endExecution(t, execStore, "e3", store.StatusRolledBack, 5.0, "verify", "[E_VERIFY] checks failed")

	analyzer := NewAnalyzer(db)
	report, err := analyzer.Analyze(context.Background(), 50)
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalExecutions)
	assert.Equal(t, 2, report.FailedExecutions)
	assert.Equal(t, 3, report.FalseAllow.TotalAllowed)
	assert.Equal(t, 2, report.FalseAllow.FalseAllowed)
	assert.InDelta(t, 2.0/3.0, report.FalseAllow.Rate, 0.001)
	assert.True(t, report.FalseAllow.ExceedsLimit, "2/3 false-allow rate must exceed the 10%% threshold")
	assert.True(t, report.ExceedsFalseAllowLimit())
}

func TestAnalyze_NoFailuresIsClean(t *testing.T) {
	db := newTestDB(t)
	execStore := store.NewExecutionStore(db)

	startExecution(t, execStore, "e1", "ALLOW", "low")
	endExecution(t, execStore, "e1", store.StatusCompleted, 1.0, "", "")

	analyzer := NewAnalyzer(db)
	report, err := analyzer.Analyze(context.Background(), 50)
	require.NoError(t, err)

	assert.Equal(t, 0, report.FailedExecutions)
	assert.False(t, report.ExceedsFalseAllowLimit())
	assert.Empty(t, report.TopErrorSteps)
}

func TestAnalyze_TopErrorStepsAndCodes(t *testing.T) {
	db := newTestDB(t)
	execStore := store.NewExecutionStore(db)

	startExecution(t, execStore, "e1", "ALLOW", "low")
	endExecution(t, execStore, "e1", store.StatusFailed, 2.0, "apply", "[E_APPLY] disk full")
	startExecution(t, execStore, "e2", "ALLOW", "low")
	endExecution(t, execStore, "e2", store.StatusFailed, 4.0, "apply", "[E_APPLY] disk full")
	startExecution(t, execStore, "e3", "ALLOW", "low")
	endExecution(t, execStore, "e3", store.StatusFailed, 6.0, "verify", "timeout waiting for health check")

	analyzer := NewAnalyzer(db)
	report, err := analyzer.Analyze(context.Background(), 50)
	require.NoError(t, err)

	require.NotEmpty(t, report.TopErrorSteps)
	assert.Equal(t, "apply", report.TopErrorSteps[0].StepName)
	assert.Equal(t, 2, report.TopErrorSteps[0].Count)

	require.NotEmpty(t, report.TopErrorCodes)
	assert.Equal(t, "E_APPLY", report.TopErrorCodes[0].ErrorCode)
	assert.Equal(t, 2, report.TopErrorCodes[0].Count)

	assert.InDelta(t, 4.0, report.AverageFailureSeconds, 0.001)
}

func TestAnalyze_FailuresByRiskLevel(t *testing.T) {
	db := newTestDB(t)
	execStore := store.NewExecutionStore(db)

	startExecution(t, execStore, "e1", "ALLOW", "high")
	endExecution(t, execStore, "e1", store.StatusFailed, 1.0, "apply", "boom")
	startExecution(t, execStore, "e2", "ALLOW", "low")
	endExecution(t, execStore, "e2", store.StatusCompleted, 1.0, "", "")

	analyzer := NewAnalyzer(db)
	report, err := analyzer.Analyze(context.Background(), 50)
	require.NoError(t, err)

	require.Len(t, report.FailuresByRiskLevel, 1)
	assert.Equal(t, "high", report.FailuresByRiskLevel[0].RiskLevel)
	assert.Equal(t, 1, report.FailuresByRiskLevel[0].Count)
}
