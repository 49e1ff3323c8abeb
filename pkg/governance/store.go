package governance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nana77mi/lonelycat/pkg/lcerrors"
)

// Store persists plans/changesets/decisions/approvals with dual storage:
// structured columns for query plus a full JSON snapshot column for audit
// replay (spec §4.3), grounded on the teacher's Ent-backed governance models
// translated to hand-written SQL since code generation is unavailable.
// All writes are inserts; updates are never permitted.
type Store struct {
	db *sql.DB
}

// NewStore wraps db. Migrations must already have been applied.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) SavePlan(ctx context.Context, p *ChangePlan) error {
	snap, err := json.Marshal(p)
	if err != nil {
		return err
	}
	paths, _ := json.Marshal(p.AffectedPaths)
	health, _ := json.Marshal(p.HealthChecks)
	refs, _ := json.Marshal(p.PolicyRefs)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO change_plans (
			id, intent, objective, rationale, affected_paths, risk_level_proposed,
			risk_level_effective, rollback_plan, verification_plan, health_checks,
			policy_refs, creator, confidence, created_at, snapshot_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Intent, p.Objective, p.Rationale, string(paths), p.RiskLevelProposed,
		nullableRisk(p.RiskLevelEffective), p.RollbackPlan, p.VerificationPlan, string(health),
		string(refs), p.Creator, p.Confidence, p.CreatedAt, string(snap))
	return err
}

func nullableRisk(r RiskLevel) any {
	if r == "" {
		return nil
	}
	return r
}

func (s *Store) SaveChangeset(ctx context.Context, cs *ChangeSet) error {
	snap, err := json.Marshal(cs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO change_sets (id, plan_id, checksum, creator, created_at, snapshot_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		cs.ID, cs.PlanID, cs.Checksum, cs.Creator, cs.CreatedAt, string(snap))
	return err
}

func (s *Store) SaveDecision(ctx context.Context, d *GovernanceDecision) error {
	snap, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO governance_decisions (
			id, plan_id, changeset_id, verdict, risk_level_effective, policy_snapshot_hash,
			agent_source_hash, projection_hash, writegate_version, evaluated_at, evaluator, snapshot_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.PlanID, d.ChangesetID, d.Verdict, d.RiskLevelEffective, d.PolicySnapshotHash,
		d.AgentSourceHash, d.ProjectionHash, d.WritegateVersion, d.EvaluatedAt, d.Evaluator, string(snap))
	return err
}

func (s *Store) SaveApproval(ctx context.Context, a *GovernanceApproval) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO governance_approvals (id, plan_id, approved_by, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.PlanID, a.ApprovedBy, a.Reason, a.CreatedAt)
	return err
}

func (s *Store) GetPlan(ctx context.Context, planID string) (*ChangePlan, error) {
	var snap string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot_json FROM change_plans WHERE id = ?`, planID).Scan(&snap)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lcerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var p ChangePlan
	if err := json.Unmarshal([]byte(snap), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetChangesetForPlan(ctx context.Context, planID string) (*ChangeSet, error) {
	var snap string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot_json FROM change_sets WHERE plan_id = ? ORDER BY created_at DESC LIMIT 1`, planID).Scan(&snap)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lcerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cs ChangeSet
	if err := json.Unmarshal([]byte(snap), &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}

func (s *Store) GetDecisionForPlan(ctx context.Context, planID string) (*GovernanceDecision, error) {
	var snap string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot_json FROM governance_decisions WHERE plan_id = ? ORDER BY evaluated_at DESC LIMIT 1`, planID).Scan(&snap)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lcerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var d GovernanceDecision
	if err := json.Unmarshal([]byte(snap), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) PlanHasApproval(ctx context.Context, planID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM governance_approvals WHERE plan_id = ?`, planID).Scan(&count)
	return count > 0, err
}

// ListFilters narrows ListPlans/ListDecisions.
type ListFilters struct {
	Limit  int
	Offset int
}

func (s *Store) ListPlans(ctx context.Context, f ListFilters) ([]*ChangePlan, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT snapshot_json FROM change_plans ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ChangePlan
	for rows.Next() {
		var snap string
		if err := rows.Scan(&snap); err != nil {
			return nil, err
		}
		var p ChangePlan
		if err := json.Unmarshal([]byte(snap), &p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) ListDecisions(ctx context.Context, f ListFilters) ([]*GovernanceDecision, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT snapshot_json FROM governance_decisions ORDER BY evaluated_at DESC LIMIT ? OFFSET ?`, limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*GovernanceDecision
	for rows.Next() {
		var snap string
		if err := rows.Scan(&snap); err != nil {
			return nil, err
		}
		var d GovernanceDecision
		if err := json.Unmarshal([]byte(snap), &d); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// FullGovernanceRecord bundles a plan's entire governance history for replay
// (spec §4.3: get_full_governance_record).
type FullGovernanceRecord struct {
	Plan      *ChangePlan
	Changeset *ChangeSet
	Decision  *GovernanceDecision
	Approved  bool
}

func (s *Store) GetFullGovernanceRecord(ctx context.Context, planID string) (*FullGovernanceRecord, error) {
	plan, err := s.GetPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	cs, err := s.GetChangesetForPlan(ctx, planID)
	if err != nil && !errors.Is(err, lcerrors.ErrNotFound) {
		return nil, fmt.Errorf("changeset: %w", err)
	}
	dec, err := s.GetDecisionForPlan(ctx, planID)
	if err != nil && !errors.Is(err, lcerrors.ErrNotFound) {
		return nil, fmt.Errorf("decision: %w", err)
	}
	approved, err := s.PlanHasApproval(ctx, planID)
	if err != nil {
		return nil, err
	}
	return &FullGovernanceRecord{Plan: plan, Changeset: cs, Decision: dec, Approved: approved}, nil
}
