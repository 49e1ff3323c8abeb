// Package memory implements the Memory Proposal/Fact Store (spec.md §4.10),
// grounded on original_source/packages/memory/memory/facts.py's
// MemoryStore, and on the teacher's pkg/services CRUD-plus-audit idiom
// (session_service.go's load/mutate/commit/emit shape).
package memory

import (
	"encoding/json"
	"time"
)

type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalRejected ProposalStatus = "rejected"
	ProposalExpired  ProposalStatus = "expired"
)

type FactStatus string

const (
	FactActive   FactStatus = "active"
	FactRevoked  FactStatus = "revoked"
	FactArchived FactStatus = "archived"
)

type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeProject Scope = "project"
	ScopeSession Scope = "session"
)

type ConflictStrategy string

const (
	StrategyOverwriteLatest ConflictStrategy = "overwrite_latest"
	StrategyKeepBoth        ConflictStrategy = "keep_both"
)

// SourceRef identifies what produced a proposal or fact.
type SourceRef struct {
	Kind    string  `json:"kind"`
	RefID   string  `json:"ref_id"`
	Excerpt *string `json:"excerpt,omitempty"`
}

// Proposal is spec.md §3's Proposal entity.
type Proposal struct {
	ID         string
	Key        string
	Value      json.RawMessage
	Tags       []string
	TTLSeconds *int
	Status     ProposalStatus
	Reason     *string
	Confidence *float64
	ScopeHint  *Scope
	Source     SourceRef
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Fact is spec.md §3's Fact entity.
type Fact struct {
	ID         string
	Key        string
	Value      json.RawMessage
	Status     FactStatus
	Scope      Scope
	ProjectID  *string
	SessionID  *string
	Source     SourceRef
	Confidence *float64
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AuditEvent is spec.md §4.10's audit trail row.
type AuditEvent struct {
	ID         string
	Type       string
	ActorKind  string
	ActorID    string
	TargetType string
	TargetID   string
	DiffBefore json.RawMessage
	DiffAfter  json.RawMessage
	RequestID  string
	CreatedAt  time.Time
}

// Actor defaults to system, matching facts.py's AuditActor(kind="system", id="system").
type Actor struct {
	Kind string
	ID   string
}

var SystemActor = Actor{Kind: "system", ID: "system"}
