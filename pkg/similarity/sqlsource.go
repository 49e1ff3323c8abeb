package similarity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

func scanCandidate(rows interface {
	Scan(dest ...any) error
}) (Candidate, error) {
	var c Candidate
	var correlationID, errMsg, verdict, pathsJSON sql.NullString
	if err := rows.Scan(&c.ExecutionID, &correlationID, &errMsg, &c.Status, &verdict, &pathsJSON); err != nil {
		return c, err
	}
	c.CorrelationID = correlationID.String
	c.ErrorMessage = errMsg.String
	c.Verdict = verdict.String
	if pathsJSON.Valid && pathsJSON.String != "" {
		_ = json.Unmarshal([]byte(pathsJSON.String), &c.AffectedPaths)
	}
	return c, nil
}

const candidateSelect = `SELECT execution_id, correlation_id, error_message, status, verdict, affected_paths FROM executions`

// Get loads one execution as a Candidate.
func (s *SQLCandidateSource) Get(ctx context.Context, executionID string) (Candidate, error) {
	row := s.DB.QueryRowContext(ctx, candidateSelect+" WHERE execution_id = ?", executionID)
	return scanCandidate(row)
}

// RecentCandidates returns the most recent executions, newest first.
func (s *SQLCandidateSource) RecentCandidates(ctx context.Context, limit int) ([]Candidate, error) {
	rows, err := s.DB.QueryContext(ctx, candidateSelect+" ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCandidates(rows)
}

// CandidatesWithErrors scans executions whose error_message is non-empty.
func (s *SQLCandidateSource) CandidatesWithErrors(ctx context.Context, limit int) ([]Candidate, error) {
	rows, err := s.DB.QueryContext(ctx, candidateSelect+
		" WHERE error_message IS NOT NULL AND error_message != '' ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCandidates(rows)
}

// CandidatesByPaths narrows candidates via the execution_paths join table
// (spec.md §4.9 step 1's "fast join"), falling back to the caller when empty.
func (s *SQLCandidateSource) CandidatesByPaths(ctx context.Context, paths []string, limit int) ([]Candidate, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(paths))
	args := make([]any, 0, len(paths)+1)
	for i, p := range paths {
		placeholders[i] = "?"
		args = append(args, p)
	}
	query := fmt.Sprintf(`
		SELECT e.execution_id, e.correlation_id, e.error_message, e.status, e.verdict, e.affected_paths
		FROM executions e
		WHERE e.execution_id IN (
			SELECT DISTINCT execution_id FROM execution_paths WHERE path IN (%s)
		)
		ORDER BY e.started_at DESC
		LIMIT ?`, strings.Join(placeholders, ","))
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCandidates(rows)
}

func collectCandidates(rows *sql.Rows) ([]Candidate, error) {
	var out []Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
