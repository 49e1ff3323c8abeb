package memory

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nana77mi/lonelycat/pkg/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.RunMigrations(context.Background(), db))
	return NewStore(db)
}

func strPtr(s string) *string { return &s }

func TestAcceptProposal_OverwriteLatestUpdatesInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProposal(ctx, ProposalInput{
		Key: "preferred_name", Value: []byte(`"Ada"`),
		Source: SourceRef{Kind: "conversation", RefID: "conv-1"},
	})
	require.NoError(t, err)

	_, fact, err := s.AcceptProposal(ctx, p.ID, AcceptOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, fact.Version)

	p2, err := s.CreateProposal(ctx, ProposalInput{
		Key: "preferred_name", Value: []byte(`"Ada Lovelace"`),
		Source: SourceRef{Kind: "conversation", RefID: "conv-2"},
	})
	require.NoError(t, err)

	_, fact2, err := s.AcceptProposal(ctx, p2.ID, AcceptOptions{})
	require.NoError(t, err)
	require.Equal(t, fact.ID, fact2.ID)
	require.Equal(t, 2, fact2.Version)

	facts, err := s.ListFacts(ctx, nil, nil, nil, FactActive)
	require.NoError(t, err)
	require.Len(t, facts, 1)
}

func TestAcceptProposal_KeepBothAlwaysCreates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		p, err := s.CreateProposal(ctx, ProposalInput{
			Key: "skills", Value: []byte(`"go"`),
			Source: SourceRef{Kind: "conversation", RefID: "conv"},
		})
		require.NoError(t, err)
		_, _, err = s.AcceptProposal(ctx, p.ID, AcceptOptions{})
		require.NoError(t, err)
	}

	facts, err := s.ListFacts(ctx, nil, nil, nil, FactActive)
	require.NoError(t, err)
	require.Len(t, facts, 2)
}

func TestAcceptProposal_RequiresProjectIDForProjectScope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	scope := ScopeProject
	p, err := s.CreateProposal(ctx, ProposalInput{Key: "repo_goal", Value: []byte(`"ship it"`), ScopeHint: &scope})
	require.NoError(t, err)

	_, _, err = s.AcceptProposal(ctx, p.ID, AcceptOptions{})
	require.Error(t, err)

	_, _, err = s.AcceptProposal(ctx, p.ID, AcceptOptions{ProjectID: strPtr("proj-1")})
	require.NoError(t, err)
}

func TestRejectProposal_OnlyFromPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProposal(ctx, ProposalInput{Key: "email", Value: []byte(`"a@b.com"`)})
	require.NoError(t, err)

	rejected, err := s.RejectProposal(ctx, p.ID, SystemActor)
	require.NoError(t, err)
	require.Equal(t, ProposalRejected, rejected.Status)

	again, err := s.RejectProposal(ctx, p.ID, SystemActor)
	require.NoError(t, err)
	require.Nil(t, again)
}

func TestRevokeArchiveReactivateFact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProposal(ctx, ProposalInput{Key: "timezone", Value: []byte(`"UTC"`)})
	require.NoError(t, err)
	_, fact, err := s.AcceptProposal(ctx, p.ID, AcceptOptions{})
	require.NoError(t, err)

	revoked, err := s.RevokeFact(ctx, fact.ID, SystemActor)
	require.NoError(t, err)
	require.Equal(t, FactRevoked, revoked.Status)

	reactivated, err := s.ReactivateFact(ctx, fact.ID, SystemActor)
	require.NoError(t, err)
	require.Equal(t, FactActive, reactivated.Status)
}
