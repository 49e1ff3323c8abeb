package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditLogger writes audit_events rows, mirroring facts.py's AuditLogger.
type AuditLogger struct {
	DB *sql.DB
}

func (l *AuditLogger) log(ctx context.Context, tx *sql.Tx, eventType string, actor Actor, targetType, targetID string, before, after any) error {
	var beforeJSON, afterJSON []byte
	var err error
	if before != nil {
		if beforeJSON, err = json.Marshal(before); err != nil {
			return err
		}
	}
	if after != nil {
		if afterJSON, err = json.Marshal(after); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_events (id, type, actor_kind, actor_id, target_type, target_id, diff_before, diff_after, request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), eventType, actor.Kind, actor.ID, targetType, targetID,
		nullableBytes(beforeJSON), nullableBytes(afterJSON), nil, time.Now().UTC())
	return err
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// ListAuditEvents retrieves events filtered by target type/id and event type,
// newest first (spec.md §4.10: "retrievable filtered by target type/id and event type").
func (l *AuditLogger) ListAuditEvents(ctx context.Context, targetType, targetID, eventType string) ([]AuditEvent, error) {
	query := `SELECT id, type, actor_kind, actor_id, target_type, target_id, diff_before, diff_after, request_id, created_at FROM audit_events WHERE 1=1`
	var args []any
	if targetType != "" {
		query += " AND target_type = ?"
		args = append(args, targetType)
	}
	if targetID != "" {
		query += " AND target_id = ?"
		args = append(args, targetID)
	}
	if eventType != "" {
		query += " AND type = ?"
		args = append(args, eventType)
	}
	query += " ORDER BY created_at DESC"

	rows, err := l.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var diffBefore, diffAfter, requestID sql.NullString
		if err := rows.Scan(&e.ID, &e.Type, &e.ActorKind, &e.ActorID, &e.TargetType, &e.TargetID,
			&diffBefore, &diffAfter, &requestID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.DiffBefore = json.RawMessage(diffBefore.String)
		e.DiffAfter = json.RawMessage(diffAfter.String)
		e.RequestID = requestID.String
		out = append(out, e)
	}
	return out, rows.Err()
}
