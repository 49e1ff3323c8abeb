package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nana77mi/lonelycat/pkg/lcerrors"
)

// ExecutionStatus is the monotonic status list of spec §3.
type ExecutionStatus string

const (
	StatusPending        ExecutionStatus = "pending"
	StatusValidating     ExecutionStatus = "validating"
	StatusBackingUp      ExecutionStatus = "backing_up"
	StatusApplying       ExecutionStatus = "applying"
	StatusVerifying      ExecutionStatus = "verifying"
	StatusHealthChecking ExecutionStatus = "health_checking"
	StatusCompleted      ExecutionStatus = "completed"
	StatusFailed         ExecutionStatus = "failed"
	StatusRolledBack     ExecutionStatus = "rolled_back"
)

// TriggerKind enumerates how an execution was started (spec §3).
type TriggerKind string

const (
	TriggerManual    TriggerKind = "manual"
	TriggerAgent     TriggerKind = "agent"
	TriggerRetry     TriggerKind = "retry"
	TriggerRepair    TriggerKind = "repair"
	TriggerChild     TriggerKind = "child"
	TriggerScheduled TriggerKind = "scheduled"
)

// ExecutionRecord mirrors spec §3's ExecutionRecord entity.
type ExecutionRecord struct {
	ExecutionID         string
	PlanID              string
	ChangesetID         string
	DecisionID          string
	Checksum            string
	Verdict             string
	Status              ExecutionStatus
	RiskLevel           string
	AffectedPaths       []string
	StartedAt           time.Time
	EndedAt             *time.Time
	DurationSeconds     *float64
	FilesChanged        int
	VerificationPassed  *bool
	HealthChecksPassed  *bool
	RolledBack          bool
	ArtifactPath        string
	ErrorMessage        string
	ErrorStep           string

	CorrelationID       string
	ParentExecutionID   string
	TriggerKind         TriggerKind
	RunID               string
	IsRepair            bool
	RepairForExecutionID string
}

// ExecutionStep mirrors spec §3's ExecutionStep entity.
type ExecutionStep struct {
	ExecutionID     string
	StepNum         int
	StepName        string
	Status          string
	StartedAt       time.Time
	EndedAt         *time.Time
	DurationSeconds *float64
	ErrorCode       string
	ErrorMessage    string
	LogRef          string
}

// ExecutionStore implements spec §4.8's read/write operations.
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore wraps db. Migrations must already have been applied
// (Client.NewClient / NewClientFromDB does this).
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// RecordExecutionStart inserts a new execution with status='pending',
// defaulting correlation_id to execution_id when unset, and dual-writing
// each affected path into execution_paths (spec §4.8).
func (s *ExecutionStore) RecordExecutionStart(ctx context.Context, rec *ExecutionRecord) error {
	if rec.CorrelationID == "" {
		rec.CorrelationID = rec.ExecutionID
	}
	rec.Status = StatusPending

	paths, err := json.Marshal(rec.AffectedPaths)
	if err != nil {
		return fmt.Errorf("marshaling affected_paths: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO executions (
			execution_id, plan_id, changeset_id, decision_id, checksum, verdict,
			status, risk_level, affected_paths, started_at, files_changed,
			rolled_back, correlation_id, parent_execution_id, trigger_kind, run_id,
			is_repair, repair_for_execution_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?, ?, ?, ?)`,
		rec.ExecutionID, rec.PlanID, rec.ChangesetID, rec.DecisionID, rec.Checksum, rec.Verdict,
		rec.Status, rec.RiskLevel, string(paths), rec.StartedAt,
		rec.CorrelationID, nullableStr(rec.ParentExecutionID), string(orDefault(rec.TriggerKind, TriggerManual)),
		nullableStr(rec.RunID), rec.IsRepair, nullableStr(rec.RepairForExecutionID))
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}

	for _, p := range rec.AffectedPaths {
		if _, err := tx.ExecContext(ctx, `INSERT INTO execution_paths (execution_id, path) VALUES (?, ?)`, rec.ExecutionID, p); err != nil {
			return fmt.Errorf("inserting execution_path: %w", err)
		}
	}

	return tx.Commit()
}

func orDefault(v TriggerKind, def TriggerKind) TriggerKind {
	if v == "" {
		return def
	}
	return v
}

func nullableStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// RecordExecutionEnd updates the terminal fields of an execution (spec §4.8).
func (s *ExecutionStore) RecordExecutionEnd(ctx context.Context, executionID string, status ExecutionStatus, endedAt time.Time, durationSeconds float64, filesChanged int, rolledBack bool, verificationPassed, healthChecksPassed *bool, errorStep, errorMessage, artifactPath string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE executions SET
			status = ?, ended_at = ?, duration_seconds = ?, files_changed = ?,
			rolled_back = ?, verification_passed = ?, health_checks_passed = ?,
			error_step = ?, error_message = ?, artifact_path = ?
		WHERE execution_id = ?`,
		status, endedAt, durationSeconds, filesChanged, rolledBack,
		boolPtrToAny(verificationPassed), boolPtrToAny(healthChecksPassed),
		nullableStr(errorStep), nullableStr(errorMessage), nullableStr(artifactPath), executionID)
	return err
}

func boolPtrToAny(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

// RecordStepStart inserts a new ExecutionStep row.
func (s *ExecutionStore) RecordStepStart(ctx context.Context, step *ExecutionStep) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_steps (execution_id, step_num, step_name, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		step.ExecutionID, step.StepNum, step.StepName, step.Status, step.StartedAt)
	return err
}

// RecordStepEnd updates an ExecutionStep's terminal fields.
func (s *ExecutionStore) RecordStepEnd(ctx context.Context, executionID string, stepNum int, status string, endedAt time.Time, durationSeconds float64, errorCode, errorMessage, logRef string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE execution_steps SET status = ?, ended_at = ?, duration_seconds = ?, error_code = ?, error_message = ?, log_ref = ?
		WHERE execution_id = ? AND step_num = ?`,
		status, endedAt, durationSeconds, nullableStr(errorCode), nullableStr(errorMessage), nullableStr(logRef),
		executionID, stepNum)
	return err
}

var execColumns = `execution_id, plan_id, changeset_id, decision_id, checksum, verdict, status, risk_level,
	affected_paths, started_at, ended_at, duration_seconds, files_changed, verification_passed,
	health_checks_passed, rolled_back, artifact_path, error_message, error_step,
	correlation_id, parent_execution_id, trigger_kind, run_id, is_repair, repair_for_execution_id`

func scanExecution(row interface{ Scan(...any) error }) (*ExecutionRecord, error) {
	var rec ExecutionRecord
	var affectedPaths string
	var endedAt, parentExecID, runID, repairFor sql.NullString
	var endedAtT sql.NullTime
	var durationSeconds sql.NullFloat64
	var verificationPassed, healthChecksPassed sql.NullBool
	var artifactPath, errMsg, errStep sql.NullString
	var correlationID string

	_ = affectedPaths
	_ = endedAt

	err := row.Scan(
		&rec.ExecutionID, &rec.PlanID, &rec.ChangesetID, &rec.DecisionID, &rec.Checksum, &rec.Verdict, &rec.Status, &rec.RiskLevel,
		&affectedPaths, &rec.StartedAt, &endedAtT, &durationSeconds, &rec.FilesChanged, &verificationPassed,
		&healthChecksPassed, &rec.RolledBack, &artifactPath, &errMsg, &errStep,
		&correlationID, &parentExecID, &rec.TriggerKind, &runID, &rec.IsRepair, &repairFor,
	)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(affectedPaths), &rec.AffectedPaths)
	rec.CorrelationID = correlationID
	rec.ParentExecutionID = parentExecID.String
	rec.RunID = runID.String
	rec.RepairForExecutionID = repairFor.String
	rec.ArtifactPath = artifactPath.String
	rec.ErrorMessage = errMsg.String
	rec.ErrorStep = errStep.String
	if endedAtT.Valid {
		rec.EndedAt = &endedAtT.Time
	}
	if durationSeconds.Valid {
		rec.DurationSeconds = &durationSeconds.Float64
	}
	if verificationPassed.Valid {
		rec.VerificationPassed = &verificationPassed.Bool
	}
	if healthChecksPassed.Valid {
		rec.HealthChecksPassed = &healthChecksPassed.Bool
	}
	return &rec, nil
}

// GetExecution fetches one execution by id.
func (s *ExecutionStore) GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+execColumns+` FROM executions WHERE execution_id = ?`, executionID)
	rec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lcerrors.ErrNotFound
	}
	return rec, err
}

// ListFilters narrows ListExecutions (spec §4.8, §6 query parameters).
type ListFilters struct {
	Limit       int
	Offset      int
	Status      string
	Verdict     string
	RiskLevel   string
	Since       *time.Time
	CorrelationID string
}

// ListExecutions returns executions ordered newest-first matching filters.
func (s *ExecutionStore) ListExecutions(ctx context.Context, f ListFilters) ([]*ExecutionRecord, error) {
	query := `SELECT ` + execColumns + ` FROM executions WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.Verdict != "" {
		query += " AND verdict = ?"
		args = append(args, f.Verdict)
	}
	if f.RiskLevel != "" {
		query += " AND risk_level = ?"
		args = append(args, f.RiskLevel)
	}
	if f.Since != nil {
		query += " AND started_at >= ?"
		args = append(args, *f.Since)
	}
	if f.CorrelationID != "" {
		query += " AND correlation_id = ?"
		args = append(args, f.CorrelationID)
	}
	query += " ORDER BY started_at DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListExecutionsByCorrelation returns all executions sharing correlationID,
// chronologically ordered (spec §4.8).
func (s *ExecutionStore) ListExecutionsByCorrelation(ctx context.Context, correlationID string, limit int) ([]*ExecutionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+execColumns+` FROM executions WHERE correlation_id = ? ORDER BY started_at ASC LIMIT ?`, correlationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetRootExecution returns the execution whose execution_id == correlationID
// (the root of the chain, spec §4.8).
func (s *ExecutionStore) GetRootExecution(ctx context.Context, correlationID string) (*ExecutionRecord, error) {
	return s.GetExecution(ctx, correlationID)
}

// GetExecutionSteps returns steps ordered by step_num.
func (s *ExecutionStore) GetExecutionSteps(ctx context.Context, executionID string) ([]*ExecutionStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, step_num, step_name, status, started_at, ended_at, duration_seconds, error_code, error_message, log_ref
		FROM execution_steps WHERE execution_id = ? ORDER BY step_num ASC`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ExecutionStep
	for rows.Next() {
		var st ExecutionStep
		var endedAt sql.NullTime
		var duration sql.NullFloat64
		var errCode, errMsg, logRef sql.NullString
		if err := rows.Scan(&st.ExecutionID, &st.StepNum, &st.StepName, &st.Status, &st.StartedAt, &endedAt, &duration, &errCode, &errMsg, &logRef); err != nil {
			return nil, err
		}
		if endedAt.Valid {
			st.EndedAt = &endedAt.Time
		}
		if duration.Valid {
			st.DurationSeconds = &duration.Float64
		}
		st.ErrorCode, st.ErrorMessage, st.LogRef = errCode.String, errMsg.String, logRef.String
		out = append(out, &st)
	}
	return out, rows.Err()
}

// Statistics is the aggregate returned by GetStatistics (spec §4.8).
type Statistics struct {
	Total          int
	StatusHistogram map[string]int
	AvgDuration    float64
	SuccessRate    float64
}

// GetStatistics computes totals, status histogram, avg duration and success
// rate across all executions.
func (s *ExecutionStore) GetStatistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{StatusHistogram: map[string]int{}}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM executions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.StatusHistogram[status] = count
		stats.Total += count
	}
	rows.Close()

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT AVG(duration_seconds) FROM executions WHERE duration_seconds IS NOT NULL`).Scan(&avg); err != nil {
		return nil, err
	}
	stats.AvgDuration = avg.Float64

	if stats.Total > 0 {
		completed := stats.StatusHistogram[string(StatusCompleted)]
		stats.SuccessRate = float64(completed) / float64(stats.Total)
	}
	return stats, nil
}

// LineageResult is returned by GetExecutionLineage (spec §4.8).
type LineageResult struct {
	Execution   *ExecutionRecord
	Ancestors   []*ExecutionRecord // root -> parent order
	Descendants []*ExecutionRecord // BFS order
	Siblings    []*ExecutionRecord
}

// GetExecutionLineage walks the execution graph up to depth, cycle-guarded
// with a visited set, with descendant breadth capped at depth*10 (spec §4.8,
// §9).
func (s *ExecutionStore) GetExecutionLineage(ctx context.Context, executionID string, depth int) (*LineageResult, error) {
	if depth <= 0 {
		depth = 20
	}
	exec, err := s.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	result := &LineageResult{Execution: exec}

	// Ancestors: walk parent_execution_id up to root, cycle-guarded.
	visited := map[string]bool{exec.ExecutionID: true}
	var ancestorsReversed []*ExecutionRecord
	cur := exec
	for i := 0; i < depth && cur.ParentExecutionID != "" && !visited[cur.ParentExecutionID]; i++ {
		parent, err := s.GetExecution(ctx, cur.ParentExecutionID)
		if err != nil {
			if errors.Is(err, lcerrors.ErrNotFound) {
				break
			}
			return nil, err
		}
		visited[parent.ExecutionID] = true
		ancestorsReversed = append(ancestorsReversed, parent)
		cur = parent
	}
	for i := len(ancestorsReversed) - 1; i >= 0; i-- {
		result.Ancestors = append(result.Ancestors, ancestorsReversed[i])
	}

	// Descendants: BFS by parent_execution_id, capped at depth*10 nodes.
	budget := depth * 10
	seen := map[string]bool{exec.ExecutionID: true}
	queue := []string{exec.ExecutionID}
	for len(queue) > 0 && len(result.Descendants) < budget {
		id := queue[0]
		queue = queue[1:]
		children, err := s.getChildren(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if seen[c.ExecutionID] || len(result.Descendants) >= budget {
				continue
			}
			seen[c.ExecutionID] = true
			result.Descendants = append(result.Descendants, c)
			queue = append(queue, c.ExecutionID)
		}
	}

	// Siblings: share the same parent_execution_id, exclude self.
	if exec.ParentExecutionID != "" {
		siblings, err := s.getChildren(ctx, exec.ParentExecutionID)
		if err != nil {
			return nil, err
		}
		for _, sib := range siblings {
			if sib.ExecutionID != exec.ExecutionID {
				result.Siblings = append(result.Siblings, sib)
			}
		}
	}

	return result, nil
}

func (s *ExecutionStore) getChildren(ctx context.Context, parentID string) ([]*ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+execColumns+` FROM executions WHERE parent_execution_id = ? ORDER BY started_at ASC`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
