package sandbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/nana77mi/lonelycat/pkg/lcerrors"
)

// Store persists sandbox_execs rows, following the teacher's pkg/database
// repository pattern (plain database/sql over a shared *sql.DB).
type Store struct {
	DB *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{DB: db} }

// Insert creates a RUNNING row before the container is launched (spec §4.11
// Idempotency: "insert a RUNNING row before launching the container").
// A duplicate idempotency_key is reported via lcerrors.ErrAlreadyExists so
// the caller can fetch and return the existing row instead of relaunching.
func (s *Store) Insert(ctx context.Context, r *Record) error {
	argsJSON, _ := json.Marshal(r.Args)
	envKeysJSON, _ := json.Marshal(r.EnvKeys)

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO sandbox_execs (exec_id, project_id, task_id, conversation_id, skill_id, image, cmd, args_json, cwd,
			env_keys_json, policy_snapshot, status, exit_code, error_reason_json, started_at, ended_at, duration_ms,
			artifacts_path, stdout_truncated, stderr_truncated, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ExecID, r.ProjectID, nullStr(r.TaskID), nullStr(r.ConversationID), nullStr(r.SkillID), r.Image, r.Cmd,
		string(argsJSON), r.Cwd, string(envKeysJSON), nullRaw(r.PolicySnapshot), string(r.Status), r.ExitCode,
		nullRaw(r.ErrorReason), r.StartedAt, nil, nil, r.ArtifactsPath, boolToInt(r.StdoutTruncated),
		boolToInt(r.StderrTruncated), nullStrPtr(r.IdempotencyKey))
	if err != nil && isUniqueViolation(err) {
		return lcerrors.ErrAlreadyExists
	}
	return err
}

// GetByIdempotencyKey looks up a prior row for the same key (spec §4.11).
func (s *Store) GetByIdempotencyKey(ctx context.Context, key string) (*Record, error) {
	row := s.DB.QueryRowContext(ctx, recordSelect+" WHERE idempotency_key = ?", key)
	return scanRecord(row)
}

// Get loads one row by exec id.
func (s *Store) Get(ctx context.Context, execID string) (*Record, error) {
	row := s.DB.QueryRowContext(ctx, recordSelect+" WHERE exec_id = ?", execID)
	return scanRecord(row)
}

// ListByTaskID returns exec records for a task, newest-first (spec §6:
// `GET /sandbox/execs?task_id=`).
func (s *Store) ListByTaskID(ctx context.Context, taskID string) ([]*Record, error) {
	rows, err := s.DB.QueryContext(ctx, recordSelect+" WHERE task_id = ? ORDER BY started_at DESC", taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Finish transitions a row to a terminal status with result details
// (spec §4.11 Completion).
func (s *Store) Finish(ctx context.Context, execID string, status Status, exitCode *int, errReason json.RawMessage, endedAt time.Time, durationMS int64, stdoutTrunc, stderrTrunc bool) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE sandbox_execs SET status = ?, exit_code = ?, error_reason_json = ?, ended_at = ?, duration_ms = ?,
			stdout_truncated = ?, stderr_truncated = ? WHERE exec_id = ?`,
		string(status), exitCode, nullRaw(errReason), endedAt, durationMS, boolToInt(stdoutTrunc), boolToInt(stderrTrunc), execID)
	return err
}

const recordSelect = `SELECT exec_id, project_id, task_id, conversation_id, skill_id, image, cmd, args_json, cwd,
	env_keys_json, policy_snapshot, status, exit_code, error_reason_json, started_at, ended_at, duration_ms,
	artifacts_path, stdout_truncated, stderr_truncated, idempotency_key FROM sandbox_execs`

func scanRecord(row interface{ Scan(dest ...any) error }) (*Record, error) {
	var r Record
	var taskID, convID, skillID, policySnapshot, errReason, idemKey sql.NullString
	var argsJSON, envKeysJSON string
	var exitCode sql.NullInt64
	var endedAt sql.NullTime
	var durationMS sql.NullInt64
	var stdoutTrunc, stderrTrunc int

	if err := row.Scan(&r.ExecID, &r.ProjectID, &taskID, &convID, &skillID, &r.Image, &r.Cmd, &argsJSON, &r.Cwd,
		&envKeysJSON, &policySnapshot, &r.Status, &exitCode, &errReason, &r.StartedAt, &endedAt, &durationMS,
		&r.ArtifactsPath, &stdoutTrunc, &stderrTrunc, &idemKey); err != nil {
		if err == sql.ErrNoRows {
			return nil, lcerrors.ErrNotFound
		}
		return nil, err
	}

	r.TaskID, r.ConversationID, r.SkillID, r.IdempotencyKey = taskID.String, convID.String, skillID.String, idemKey.String
	_ = json.Unmarshal([]byte(argsJSON), &r.Args)
	_ = json.Unmarshal([]byte(envKeysJSON), &r.EnvKeys)
	if policySnapshot.Valid {
		r.PolicySnapshot = json.RawMessage(policySnapshot.String)
	}
	if errReason.Valid {
		r.ErrorReason = json.RawMessage(errReason.String)
	}
	if exitCode.Valid {
		v := int(exitCode.Int64)
		r.ExitCode = &v
	}
	if endedAt.Valid {
		r.EndedAt = &endedAt.Time
	}
	if durationMS.Valid {
		r.DurationMS = &durationMS.Int64
	}
	r.StdoutTruncated = stdoutTrunc != 0
	r.StderrTruncated = stderrTrunc != 0
	return &r, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullStrPtr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation detects a SQLite unique-constraint error, mirroring
// spec §4.11's "IntegrityError on the unique constraint means a concurrent
// duplicate" handling.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
