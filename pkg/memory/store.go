package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nana77mi/lonelycat/pkg/lcerrors"
)

// Store implements spec.md §4.10's proposal/fact operations over the shared
// SQLite database, following facts.py's MemoryStore method set.
type Store struct {
	DB    *sql.DB
	Audit *AuditLogger
}

// NewStore returns a Store backed by db, wiring its own AuditLogger.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, Audit: &AuditLogger{DB: db}}
}

// ProposalInput is the payload accepted by CreateProposal.
type ProposalInput struct {
	Key        string
	Value      json.RawMessage
	Tags       []string
	TTLSeconds *int
	Reason     *string
	Confidence *float64
	ScopeHint  *Scope
	Source     SourceRef
}

// CreateProposal inserts a new pending proposal and emits proposal.created.
func (s *Store) CreateProposal(ctx context.Context, in ProposalInput) (*Proposal, error) {
	if in.Confidence != nil && (*in.Confidence < 0 || *in.Confidence > 1) {
		return nil, lcerrors.New(lcerrors.KindInvalidArgument, "confidence must be between 0 and 1")
	}

	now := time.Now().UTC()
	p := &Proposal{
		ID:         uuid.NewString(),
		Key:        in.Key,
		Value:      in.Value,
		Tags:       in.Tags,
		TTLSeconds: in.TTLSeconds,
		Status:     ProposalPending,
		Reason:     in.Reason,
		Confidence: in.Confidence,
		ScopeHint:  in.ScopeHint,
		Source:     in.Source,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	tagsJSON, _ := json.Marshal(p.Tags)
	var scopeHint any
	if p.ScopeHint != nil {
		scopeHint = string(*p.ScopeHint)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO proposals (id, key, value, tags, ttl_seconds, status, reason, confidence, scope_hint,
			source_kind, source_ref_id, source_excerpt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Key, string(p.Value), string(tagsJSON), p.TTLSeconds, string(p.Status), p.Reason, p.Confidence,
		scopeHint, p.Source.Kind, p.Source.RefID, p.Source.Excerpt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := s.Audit.log(ctx, tx, "proposal.created", SystemActor, "proposal", p.ID, nil, nil); err != nil {
		return nil, err
	}
	return p, tx.Commit()
}

func scanProposal(row interface{ Scan(dest ...any) error }) (*Proposal, error) {
	var p Proposal
	var tagsJSON, value, reason, scopeHint, excerpt sql.NullString
	var ttl sql.NullInt64
	var confidence sql.NullFloat64
	if err := row.Scan(&p.ID, &p.Key, &value, &tagsJSON, &ttl, &p.Status, &reason, &confidence, &scopeHint,
		&p.Source.Kind, &p.Source.RefID, &excerpt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Value = json.RawMessage(value.String)
	if tagsJSON.Valid {
		_ = json.Unmarshal([]byte(tagsJSON.String), &p.Tags)
	}
	if ttl.Valid {
		v := int(ttl.Int64)
		p.TTLSeconds = &v
	}
	if reason.Valid {
		p.Reason = &reason.String
	}
	if confidence.Valid {
		p.Confidence = &confidence.Float64
	}
	if scopeHint.Valid {
		sc := Scope(scopeHint.String)
		p.ScopeHint = &sc
	}
	if excerpt.Valid {
		p.Source.Excerpt = &excerpt.String
	}
	return &p, nil
}

const proposalSelect = `SELECT id, key, value, tags, ttl_seconds, status, reason, confidence, scope_hint,
	source_kind, source_ref_id, source_excerpt, created_at, updated_at FROM proposals`

// GetProposal returns one proposal by id, or lcerrors.ErrNotFound.
func (s *Store) GetProposal(ctx context.Context, id string) (*Proposal, error) {
	row := s.DB.QueryRowContext(ctx, proposalSelect+" WHERE id = ?", id)
	p, err := scanProposal(row)
	if err == sql.ErrNoRows {
		return nil, lcerrors.ErrNotFound
	}
	return p, err
}

// ListProposals lists proposals optionally filtered by status/scope_hint,
// newest first.
func (s *Store) ListProposals(ctx context.Context, status ProposalStatus, scopeHint *Scope) ([]*Proposal, error) {
	query := proposalSelect
	var args []any
	var where []string
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, string(status))
	}
	if scopeHint != nil {
		where = append(where, "scope_hint = ?")
		args = append(args, string(*scopeHint))
	}
	if len(where) > 0 {
		query += " WHERE " + where[0]
		for _, w := range where[1:] {
			query += " AND " + w
		}
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RejectProposal transitions a pending proposal to rejected.
func (s *Store) RejectProposal(ctx context.Context, id string, actor Actor) (*Proposal, error) {
	return s.transitionPending(ctx, id, ProposalRejected, "proposal.rejected", actor)
}

// ExpireProposal transitions a pending proposal to expired.
func (s *Store) ExpireProposal(ctx context.Context, id string, actor Actor) (*Proposal, error) {
	return s.transitionPending(ctx, id, ProposalExpired, "proposal.expired", actor)
}

func (s *Store) transitionPending(ctx context.Context, id string, newStatus ProposalStatus, event string, actor Actor) (*Proposal, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, err := scanProposal(tx.QueryRowContext(ctx, proposalSelect+" WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, lcerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.Status != ProposalPending {
		return nil, nil
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE proposals SET status = ?, updated_at = ? WHERE id = ?`, string(newStatus), now, id); err != nil {
		return nil, err
	}
	if err := s.Audit.log(ctx, tx, event, actor, "proposal", id, nil, nil); err != nil {
		return nil, err
	}
	p.Status = newStatus
	p.UpdatedAt = now
	return p, tx.Commit()
}

// CheckExpiredProposals sweeps pending proposals whose TTL has elapsed
// (spec.md §4.10 check_expired_proposals), returning the ids expired.
func (s *Store) CheckExpiredProposals(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, ttl_seconds, created_at FROM proposals WHERE status = ? AND ttl_seconds IS NOT NULL`, string(ProposalPending))
	if err != nil {
		return nil, err
	}
	type cand struct {
		id        string
		ttl       int
		createdAt time.Time
	}
	var candidates []cand
	for rows.Next() {
		var c cand
		if err := rows.Scan(&c.id, &c.ttl, &c.createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var expired []string
	for _, c := range candidates {
		if now.Before(c.createdAt.Add(time.Duration(c.ttl) * time.Second)) {
			continue
		}
		if _, err := s.ExpireProposal(ctx, c.id, SystemActor); err != nil {
			return nil, err
		}
		expired = append(expired, c.id)
	}
	return expired, nil
}

// AcceptOptions overrides AcceptProposal's defaults.
type AcceptOptions struct {
	Strategy  *ConflictStrategy
	Scope     *Scope
	ProjectID *string
	SessionID *string
	Actor     Actor
}

// AcceptProposal implements spec.md §4.10's acceptance algorithm.
func (s *Store) AcceptProposal(ctx context.Context, id string, opts AcceptOptions) (*Proposal, *Fact, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	p, err := scanProposal(tx.QueryRowContext(ctx, proposalSelect+" WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil, lcerrors.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if p.Status != ProposalPending {
		return nil, nil, nil
	}

	scope := ScopeGlobal
	if opts.Scope != nil {
		scope = *opts.Scope
	} else if p.ScopeHint != nil {
		scope = *p.ScopeHint
	}
	if scope == ScopeProject && opts.ProjectID == nil {
		return nil, nil, lcerrors.New(lcerrors.KindInvalidArgument, "project_id is required when scope=project")
	}
	if scope == ScopeSession && opts.SessionID == nil {
		return nil, nil, lcerrors.New(lcerrors.KindInvalidArgument, "session_id is required when scope=session")
	}

	strategy := resolveKeyPolicy(p.Key)
	if opts.Strategy != nil {
		strategy = *opts.Strategy
	}

	existing, err := s.detectConflict(ctx, tx, p.Key, scope, opts.ProjectID, opts.SessionID)
	if err != nil {
		return nil, nil, err
	}

	var fact *Fact
	if strategy == StrategyOverwriteLatest && existing != nil {
		fact, err = s.updateFactTx(ctx, tx, existing, p.Value, p.Source, p.Confidence)
	} else {
		fact, err = s.createFactTx(ctx, tx, p.Key, p.Value, scope, opts.ProjectID, opts.SessionID, p.Source, p.Confidence)
	}
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE proposals SET status = ?, updated_at = ? WHERE id = ?`, string(ProposalAccepted), now, id); err != nil {
		return nil, nil, err
	}

	actor := opts.Actor
	if actor.Kind == "" {
		actor = SystemActor
	}
	if err := s.Audit.log(ctx, tx, "proposal.accepted", actor, "proposal", id, nil, nil); err != nil {
		return nil, nil, err
	}

	p.Status = ProposalAccepted
	p.UpdatedAt = now
	return p, fact, tx.Commit()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) detectConflict(ctx context.Context, q querier, key string, scope Scope, projectID, sessionID *string) (*Fact, error) {
	query := factSelect + " WHERE key = ? AND scope = ? AND status = ?"
	args := []any{key, string(scope), string(FactActive)}
	switch scope {
	case ScopeProject:
		query += " AND project_id = ?"
		args = append(args, *projectID)
	case ScopeSession:
		query += " AND session_id = ?"
		args = append(args, *sessionID)
	case ScopeGlobal:
		query += " AND project_id IS NULL AND session_id IS NULL"
	}
	row := q.QueryRowContext(ctx, query, args...)
	f, err := scanFact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return f, err
}

func (s *Store) createFactTx(ctx context.Context, tx *sql.Tx, key string, value json.RawMessage, scope Scope, projectID, sessionID *string, source SourceRef, confidence *float64) (*Fact, error) {
	now := time.Now().UTC()
	f := &Fact{
		ID: uuid.NewString(), Key: key, Value: value, Status: FactActive, Scope: scope,
		ProjectID: projectID, SessionID: sessionID, Source: source, Confidence: confidence,
		Version: 1, CreatedAt: now, UpdatedAt: now,
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO facts (id, key, value, status, scope, project_id, session_id, source_kind, source_ref_id, confidence, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Key, string(f.Value), string(f.Status), string(f.Scope), f.ProjectID, f.SessionID,
		f.Source.Kind, f.Source.RefID, f.Confidence, f.Version, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := s.Audit.log(ctx, tx, "fact.created", SystemActor, "fact", f.ID, nil, nil); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Store) updateFactTx(ctx context.Context, tx *sql.Tx, existing *Fact, newValue json.RawMessage, source SourceRef, confidence *float64) (*Fact, error) {
	before := map[string]any{"value": json.RawMessage(existing.Value), "version": existing.Version}
	existing.Value = newValue
	existing.Version++
	existing.Source = source
	if confidence != nil {
		existing.Confidence = confidence
	}
	existing.UpdatedAt = time.Now().UTC()

	_, err := tx.ExecContext(ctx, `
		UPDATE facts SET value = ?, version = ?, source_kind = ?, source_ref_id = ?, confidence = ?, updated_at = ?
		WHERE id = ?`,
		string(existing.Value), existing.Version, existing.Source.Kind, existing.Source.RefID, existing.Confidence,
		existing.UpdatedAt, existing.ID)
	if err != nil {
		return nil, err
	}
	after := map[string]any{"value": json.RawMessage(existing.Value), "version": existing.Version}
	if err := s.Audit.log(ctx, tx, "fact.updated", SystemActor, "fact", existing.ID, before, after); err != nil {
		return nil, err
	}
	return existing, nil
}

func scanFact(row interface{ Scan(dest ...any) error }) (*Fact, error) {
	var f Fact
	var value, projectID, sessionID string
	var projectIDNull, sessionIDNull sql.NullString
	var confidence sql.NullFloat64
	if err := row.Scan(&f.ID, &f.Key, &value, &f.Status, &f.Scope, &projectIDNull, &sessionIDNull,
		&f.Source.Kind, &f.Source.RefID, &confidence, &f.Version, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.Value = json.RawMessage(value)
	if projectIDNull.Valid {
		projectID = projectIDNull.String
		f.ProjectID = &projectID
	}
	if sessionIDNull.Valid {
		sessionID = sessionIDNull.String
		f.SessionID = &sessionID
	}
	if confidence.Valid {
		f.Confidence = &confidence.Float64
	}
	return &f, nil
}

const factSelect = `SELECT id, key, value, status, scope, project_id, session_id, source_kind, source_ref_id, confidence, version, created_at, updated_at FROM facts`

// GetFact returns one fact by id.
func (s *Store) GetFact(ctx context.Context, id string) (*Fact, error) {
	f, err := scanFact(s.DB.QueryRowContext(ctx, factSelect+" WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, lcerrors.ErrNotFound
	}
	return f, err
}

// GetFactByKey finds the active fact for (key, scope, scoping ids).
func (s *Store) GetFactByKey(ctx context.Context, key string, scope Scope, projectID, sessionID *string) (*Fact, error) {
	f, err := s.detectConflict(ctx, s.DB, key, scope, projectID, sessionID)
	if err == nil && f == nil {
		return nil, lcerrors.ErrNotFound
	}
	return f, err
}

// ListFacts lists facts filtered by scope/project/session/status.
func (s *Store) ListFacts(ctx context.Context, scope *Scope, projectID, sessionID *string, status FactStatus) ([]*Fact, error) {
	query := factSelect
	var where []string
	var args []any
	if scope != nil {
		where = append(where, "scope = ?")
		args = append(args, string(*scope))
	}
	if projectID != nil {
		where = append(where, "project_id = ?")
		args = append(args, *projectID)
	}
	if sessionID != nil {
		where = append(where, "session_id = ?")
		args = append(args, *sessionID)
	}
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, string(status))
	}
	if len(where) > 0 {
		query += " WHERE " + where[0]
		for _, w := range where[1:] {
			query += " AND " + w
		}
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) transitionFact(ctx context.Context, id string, from []FactStatus, to FactStatus, event string, actor Actor) (*Fact, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	f, err := scanFact(tx.QueryRowContext(ctx, factSelect+" WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, lcerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, st := range from {
		if f.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, nil
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE facts SET status = ?, updated_at = ? WHERE id = ?`, string(to), now, id); err != nil {
		return nil, err
	}
	if err := s.Audit.log(ctx, tx, event, actor, "fact", id, nil, nil); err != nil {
		return nil, err
	}
	f.Status = to
	f.UpdatedAt = now
	return f, tx.Commit()
}

// RevokeFact moves an active fact to revoked.
func (s *Store) RevokeFact(ctx context.Context, id string, actor Actor) (*Fact, error) {
	return s.transitionFact(ctx, id, []FactStatus{FactActive}, FactRevoked, "fact.revoked", actor)
}

// ArchiveFact moves an active fact to archived.
func (s *Store) ArchiveFact(ctx context.Context, id string, actor Actor) (*Fact, error) {
	return s.transitionFact(ctx, id, []FactStatus{FactActive}, FactArchived, "fact.archived", actor)
}

// ReactivateFact moves a revoked or archived fact back to active.
func (s *Store) ReactivateFact(ctx context.Context, id string, actor Actor) (*Fact, error) {
	return s.transitionFact(ctx, id, []FactStatus{FactRevoked, FactArchived}, FactActive, "fact.reactivated", actor)
}
