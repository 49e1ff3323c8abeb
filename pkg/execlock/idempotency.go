package execlock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// IdempotencyRecord is the JSON record stored per execution_id under
// <root>/.lonelycat/executions/exec_<id>.json (spec §4.5, §6).
type IdempotencyRecord struct {
	ExecutionID string          `json:"execution_id"`
	PlanID      string          `json:"plan_id"`
	Checksum    string          `json:"checksum"`
	Success     bool            `json:"success"`
	Result      json.RawMessage `json:"result"`
	RecordedAt  time.Time       `json:"recorded_at"`
}

// IdempotencyCache manages the per-(plan,checksum) execution result cache.
type IdempotencyCache struct {
	Dir string
	TTL time.Duration
}

// NewIdempotencyCache returns a cache rooted at
// <workspaceRoot>/.lonelycat/executions (spec §6), with the spec's 1h
// default TTL.
func NewIdempotencyCache(workspaceRoot string) *IdempotencyCache {
	return &IdempotencyCache{
		Dir: filepath.Join(workspaceRoot, ".lonelycat", "executions"),
		TTL: time.Hour,
	}
}

func (c *IdempotencyCache) path(executionID string) string {
	return filepath.Join(c.Dir, fmt.Sprintf("exec_%s.json", executionID))
}

// Lookup returns the cached record for (planID, checksum) if present and not
// expired; an expired record is always discarded. allowRetryOnFailure
// additionally discards a failed record so the caller may retry (spec §4.5).
func (c *IdempotencyCache) Lookup(planID, checksum string, allowRetryOnFailure bool) (*IdempotencyRecord, bool) {
	executionID := ExecutionIDFor(planID, checksum)
	data, err := os.ReadFile(c.path(executionID))
	if err != nil {
		return nil, false
	}
	var rec IdempotencyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false
	}

	expired := c.TTL > 0 && time.Since(rec.RecordedAt) > c.TTL
	if expired {
		_ = os.Remove(c.path(executionID))
		return nil, false
	}
	if !rec.Success && allowRetryOnFailure {
		_ = os.Remove(c.path(executionID))
		return nil, false
	}
	return &rec, true
}

// Record writes the result for (planID, checksum), creating the directory as
// needed. This call must happen inside the same repository-lock acquisition
// as the execution it records (spec §4.5: "atomicity requirement").
func (c *IdempotencyCache) Record(planID, checksum string, success bool, result any) (*IdempotencyRecord, error) {
	executionID := ExecutionIDFor(planID, checksum)
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshaling idempotency result: %w", err)
	}
	rec := &IdempotencyRecord{
		ExecutionID: executionID,
		PlanID:      planID,
		Checksum:    checksum,
		Success:     success,
		Result:      resultJSON,
		RecordedAt:  time.Now().UTC(),
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return nil, err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(c.path(executionID), b, 0o644); err != nil {
		return nil, err
	}
	return rec, nil
}
