// Package similarity scores pairs of execution records for near-duplicate
// detection (spec.md §4.9), grounded on the teacher's pkg/database query
// idioms for candidate narrowing and a hand-rolled cosine/Jaccard scorer —
// none of the pack's examples pull in an NLP or vector-similarity library,
// so this stays on stdlib math/strings as the teacher itself would.
package similarity

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"strings"
)

// Weights controls how the four signals combine into a total score.
type Weights struct {
	Error float64
	Path  float64
	Meta  float64
}

// DefaultWeights matches spec.md §4.9's engine defaults.
var DefaultWeights = Weights{Error: 0.5, Path: 0.3, Meta: 0.2}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "was": true, "were": true, "are": true,
	"has": true, "have": true, "not": true, "but": true, "all": true,
}

// Engine computes similarity scores between execution error/path/status pairs.
type Engine struct {
	Weights Weights
}

// NewEngine returns an Engine with the spec's default weights.
func NewEngine() *Engine {
	return &Engine{Weights: DefaultWeights}
}

// Candidate is the subset of an ExecutionRecord the scorer needs.
type Candidate struct {
	ExecutionID   string
	CorrelationID string
	ErrorMessage  string
	AffectedPaths []string
	Status        string
	Verdict       string
}

// Score is one candidate's similarity result.
type Score struct {
	Candidate Candidate
	Total     float64
	Error     float64
	Path      float64
	Meta      float64
}

// tokenize lowercases, strips non-alphanumerics, drops single-char tokens
// and stop words.
func tokenize(s string) map[string]int {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	freq := map[string]int{}
	for _, tok := range strings.Fields(b.String()) {
		if len(tok) <= 1 || stopWords[tok] {
			continue
		}
		freq[tok]++
	}
	return freq
}

// errorSimilarity is cosine similarity over term-frequency vectors; both-nil
// errors are maximally similar, one-nil is maximally dissimilar (spec §4.9).
func errorSimilarity(a, b string) float64 {
	aEmpty, bEmpty := a == "", b == ""
	if aEmpty && bEmpty {
		return 1.0
	}
	if aEmpty || bEmpty {
		return 0.0
	}
	fa, fb := tokenize(a), tokenize(b)
	var dot, na, nb float64
	for tok, ca := range fa {
		na += float64(ca * ca)
		if cb, ok := fb[tok]; ok {
			dot += float64(ca * cb)
		}
	}
	for _, cb := range fb {
		nb += float64(cb * cb)
	}
	if na == 0 || nb == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func normalizePath(p string) string {
	return strings.ToLower(strings.ReplaceAll(p, `\`, "/"))
}

// pathSimilarity is Jaccard over normalized path sets.
func pathSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	setA := map[string]bool{}
	for _, p := range a {
		setA[normalizePath(p)] = true
	}
	setB := map[string]bool{}
	for _, p := range b {
		setB[normalizePath(p)] = true
	}
	inter := 0
	for p := range setA {
		if setB[p] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0.0
	}
	return float64(inter) / float64(union)
}

// Compare scores target against candidate across all four signals.
func (e *Engine) Compare(target, candidate Candidate) Score {
	errSim := errorSimilarity(target.ErrorMessage, candidate.ErrorMessage)
	pathSim := pathSimilarity(target.AffectedPaths, candidate.AffectedPaths)

	statusMatch := 0.0
	if target.Status == candidate.Status {
		statusMatch = 1.0
	}
	verdictMatch := 0.0
	if target.Verdict == candidate.Verdict {
		verdictMatch = 1.0
	}
	metaSim := (statusMatch + verdictMatch) / 2.0

	total := e.Weights.Error*errSim + e.Weights.Path*pathSim + e.Weights.Meta*metaSim
	return Score{Candidate: candidate, Total: total, Error: errSim, Path: pathSim, Meta: metaSim}
}

// CandidateSource narrows the search space before scoring (spec §4.9 step 1).
type CandidateSource interface {
	CandidatesByPaths(ctx context.Context, paths []string, limit int) ([]Candidate, error)
	RecentCandidates(ctx context.Context, limit int) ([]Candidate, error)
	CandidatesWithErrors(ctx context.Context, limit int) ([]Candidate, error)
	Get(ctx context.Context, executionID string) (Candidate, error)
}

// Options configures FindSimilar.
type Options struct {
	Limit                 int
	MinSimilarity         float64
	ExcludeSameCorrelation bool
}

// DefaultOptions matches spec.md §4.9's find_similar_executions defaults.
func DefaultOptions() Options {
	return Options{Limit: 10, MinSimilarity: 0.3, ExcludeSameCorrelation: true}
}

const fallbackScanLimit = 1000

// FindSimilar implements spec.md §4.9's find_similar_executions.
func (e *Engine) FindSimilar(ctx context.Context, src CandidateSource, executionID string, opts Options) ([]Score, error) {
	target, err := src.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	if len(target.AffectedPaths) > 0 {
		candidates, err = src.CandidatesByPaths(ctx, target.AffectedPaths, fallbackScanLimit)
	} else {
		candidates, err = src.RecentCandidates(ctx, fallbackScanLimit)
	}
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		candidates, err = src.RecentCandidates(ctx, fallbackScanLimit)
		if err != nil {
			return nil, err
		}
	}

	return e.scoreAndRank(target, candidates, opts), nil
}

// FindSimilarByError implements find_similar_by_error: scan executions with
// non-null errors, scoring by the supplied text as the target's error field.
func (e *Engine) FindSimilarByError(ctx context.Context, src CandidateSource, text string, opts Options) ([]Score, error) {
	candidates, err := src.CandidatesWithErrors(ctx, fallbackScanLimit)
	if err != nil {
		return nil, err
	}
	target := Candidate{ErrorMessage: text}
	return e.scoreAndRank(target, candidates, opts), nil
}

// FindSimilarByPaths implements find_similar_by_paths: prefer the path index.
func (e *Engine) FindSimilarByPaths(ctx context.Context, src CandidateSource, paths []string, opts Options) ([]Score, error) {
	candidates, err := src.CandidatesByPaths(ctx, paths, fallbackScanLimit)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		candidates, err = src.RecentCandidates(ctx, fallbackScanLimit)
		if err != nil {
			return nil, err
		}
	}
	target := Candidate{AffectedPaths: paths}
	return e.scoreAndRank(target, candidates, opts), nil
}

func (e *Engine) scoreAndRank(target Candidate, candidates []Candidate, opts Options) []Score {
	if opts.Limit <= 0 {
		opts = DefaultOptions()
	}
	var out []Score
	for _, c := range candidates {
		if c.ExecutionID == target.ExecutionID {
			continue
		}
		if opts.ExcludeSameCorrelation && target.CorrelationID != "" && c.CorrelationID == target.CorrelationID {
			continue
		}
		score := e.Compare(target, c)
		if score.Total >= opts.MinSimilarity {
			out = append(out, score)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// SQLCandidateSource is a CandidateSource backed by the execution store's
// SQLite table, used when the execution_paths join table is available.
type SQLCandidateSource struct {
	DB *sql.DB
}
