package similarity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	byID       map[string]Candidate
	candidates []Candidate
}

func (f *fakeSource) Get(ctx context.Context, id string) (Candidate, error) { return f.byID[id], nil }
func (f *fakeSource) RecentCandidates(ctx context.Context, limit int) ([]Candidate, error) {
	return f.candidates, nil
}
func (f *fakeSource) CandidatesWithErrors(ctx context.Context, limit int) ([]Candidate, error) {
	var out []Candidate
	for _, c := range f.candidates {
		if c.ErrorMessage != "" {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f *fakeSource) CandidatesByPaths(ctx context.Context, paths []string, limit int) ([]Candidate, error) {
	return nil, nil
}

func TestErrorSimilarity_BothNilIsSimilar(t *testing.T) {
	e := NewEngine()
	s := e.Compare(Candidate{}, Candidate{})
	require.Equal(t, 1.0, s.Error)
}

func TestErrorSimilarity_OneNilIsDissimilar(t *testing.T) {
	e := NewEngine()
	s := e.Compare(Candidate{ErrorMessage: "boom"}, Candidate{})
	require.Equal(t, 0.0, s.Error)
}

func TestErrorSimilarity_SameTextIsHigh(t *testing.T) {
	e := NewEngine()
	s := e.Compare(
		Candidate{ErrorMessage: "connection refused while dialing postgres"},
		Candidate{ErrorMessage: "connection refused while dialing postgres"},
	)
	require.InDelta(t, 1.0, s.Error, 0.001)
}

func TestPathSimilarity_Jaccard(t *testing.T) {
	e := NewEngine()
	s := e.Compare(
		Candidate{AffectedPaths: []string{"a/b.go", "c/d.go"}},
		Candidate{AffectedPaths: []string{"a/b.go", "e/f.go"}},
	)
	require.InDelta(t, 1.0/3.0, s.Path, 0.001)
}

func TestFindSimilar_ExcludesSameCorrelationAndSelf(t *testing.T) {
	e := NewEngine()
	src := &fakeSource{
		byID: map[string]Candidate{
			"target": {ExecutionID: "target", CorrelationID: "corr-1", ErrorMessage: "disk full", Status: "failed"},
		},
		candidates: []Candidate{
			{ExecutionID: "target", CorrelationID: "corr-1", ErrorMessage: "disk full", Status: "failed"},
			{ExecutionID: "sibling", CorrelationID: "corr-1", ErrorMessage: "disk full", Status: "failed"},
			{ExecutionID: "other", CorrelationID: "corr-2", ErrorMessage: "disk full", Status: "failed"},
		},
	}

	scores, err := e.FindSimilar(context.Background(), src, "target", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, scores, 1)
	require.Equal(t, "other", scores[0].Candidate.ExecutionID)
}

func TestFindSimilar_MinSimilarityFilters(t *testing.T) {
	e := NewEngine()
	src := &fakeSource{
		byID: map[string]Candidate{
			"target": {ExecutionID: "target", ErrorMessage: "disk full on node 7", Status: "failed"},
		},
		candidates: []Candidate{
			{ExecutionID: "unrelated", ErrorMessage: "totally different message about networking", Status: "completed"},
		},
	}
	opts := Options{Limit: 10, MinSimilarity: 0.9, ExcludeSameCorrelation: true}
	scores, err := e.FindSimilar(context.Background(), src, "target", opts)
	require.NoError(t, err)
	require.Empty(t, scores)
}
