package runqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/nana77mi/lonelycat/pkg/lcerrors"
)

// Store persists runs over database/sql.
type Store struct {
	DB *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{DB: db} }

const runSelect = `SELECT id, type, title, conversation_id, status, input_json, output_json, error,
	worker_id, lease_expires_at, attempt, progress, parent_run_id, created_at, updated_at FROM runs`

func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.DB.QueryRowContext(ctx, runSelect+" WHERE id = ?", id)
	return scanRun(row)
}

// ListByConversation returns a conversation's runs newest-first (spec.md
// §6: `GET /conversations/{id}/runs`).
func (s *Store) ListByConversation(ctx context.Context, conversationID string, limit int) ([]Run, error) {
	rows, err := s.DB.QueryContext(ctx,
		runSelect+" WHERE conversation_id = ? ORDER BY created_at DESC LIMIT ?", conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ClaimNext atomically claims the oldest queued run, mirroring the teacher's
// FOR UPDATE SKIP LOCKED idiom (pkg/queue/worker.go's claimNextSession) over
// SQLite's serialized-transaction guarantee instead of row-level locks.
func (s *Store) ClaimNext(ctx context.Context, workerID string, leaseFor time.Duration) (*Run, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, runSelect+" WHERE status = ? ORDER BY created_at ASC LIMIT 1", string(StatusQueued))
	run, err := scanRun(row)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	lease := now.Add(leaseFor)
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET status = ?, worker_id = ?, lease_expires_at = ?, attempt = attempt + 1, updated_at = ?
		WHERE id = ? AND status = ?`, string(StatusRunning), workerID, lease, now, run.ID, string(StatusQueued)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	run.Status = StatusRunning
	run.WorkerID = &workerID
	run.LeaseExpiresAt = &lease
	run.Attempt++
	run.UpdatedAt = now
	return run, nil
}

// update persists every mutable field of r, used by CompleteSuccess/
// CompleteFailure and by wakeParentRunIfWaiting's re-queue.
func (s *Store) update(ctx context.Context, r *Run) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE runs SET type = ?, title = ?, conversation_id = ?, status = ?, input_json = ?,
		output_json = ?, error = ?, worker_id = ?, lease_expires_at = ?, attempt = ?, progress = ?, parent_run_id = ?, updated_at = ?
		WHERE id = ?`,
		r.Type, nullStr(r.Title), nullStrPtr(r.ConversationID), string(r.Status), nullRaw(r.Input), nullRaw(r.Output),
		nullStr(r.Error), nullStrPtr(r.WorkerID), nullTime(r.LeaseExpiresAt), r.Attempt, nullStr(r.Progress),
		nullStrPtr(r.ParentRunID), r.UpdatedAt, r.ID)
	return err
}

func (s *Store) Insert(ctx context.Context, r *Run) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO runs (id, type, title, conversation_id, status, input_json, output_json, error, worker_id,
			lease_expires_at, attempt, progress, parent_run_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Type, nullStr(r.Title), nullStrPtr(r.ConversationID), string(r.Status), nullRaw(r.Input), nullRaw(r.Output),
		nullStr(r.Error), nullStrPtr(r.WorkerID), nullTime(r.LeaseExpiresAt), r.Attempt, nullStr(r.Progress),
		nullStrPtr(r.ParentRunID), r.CreatedAt, r.UpdatedAt)
	return err
}

func scanRun(row interface{ Scan(dest ...any) error }) (*Run, error) {
	var r Run
	var title, convID, output, errStr, workerID, progress, parentID sql.NullString
	var inputJSON string
	var leaseExpiresAt sql.NullTime

	if err := row.Scan(&r.ID, &r.Type, &title, &convID, &r.Status, &inputJSON, &output, &errStr,
		&workerID, &leaseExpiresAt, &r.Attempt, &progress, &parentID, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, lcerrors.ErrNotFound
		}
		return nil, err
	}

	r.Title, r.Error, r.Progress = title.String, errStr.String, progress.String
	r.Input = json.RawMessage(inputJSON)
	if output.Valid {
		r.Output = json.RawMessage(output.String)
	}
	if convID.Valid {
		r.ConversationID = &convID.String
	}
	if workerID.Valid {
		r.WorkerID = &workerID.String
	}
	if parentID.Valid {
		r.ParentRunID = &parentID.String
	}
	if leaseExpiresAt.Valid {
		r.LeaseExpiresAt = &leaseExpiresAt.Time
	}
	return &r, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullStrPtr(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func nullRaw(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
