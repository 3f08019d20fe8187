// Package reranker provides the precision stage of the pipeline: it re-scores
// retrieved candidates with a cross-encoder style relevance function.
//
// # Trade-offs
//
// Reranking is optional per query.
//
//   - Latency: adds one scoring round trip per query
//   - Quality: noticeably better ordering when the top vector hits have similar scores
//
// A failed rerank never fails the query. Rerank degrades to the retrieval
// order and reports the cause so the caller can still account for the attempt.
package reranker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/knoguchi/paperqa/internal/rag"
)

// Errors reported by scorers and by the strict Score path.
var (
	ErrRateLimited       = errors.New("reranker rate limited")
	ErrUnauthorized      = errors.New("reranker authentication failed")
	ErrMalformedResponse = errors.New("malformed rerank response")
	ErrIndexOutOfRange   = errors.New("rerank index out of range")
	ErrNotConfigured     = errors.New("reranker not configured")
)

// DefaultTimeout bounds a single scoring call.
const DefaultTimeout = 15 * time.Second

// Relevance is one scored document, addressed by its index in the request.
type Relevance struct {
	Index          int
	RelevanceScore float64
}

// Scorer is an external relevance-scoring capability. Results may be
// unordered and may cover only a subset of the documents.
type Scorer interface {
	Rank(ctx context.Context, query string, documents []string, topN int) ([]Relevance, error)
}

// Result is the outcome of a degrading Rerank call.
type Result struct {
	Candidates []rag.RankedCandidate

	// Attempted reports whether the scorer was called.
	Attempted bool

	// Err is the cause of degradation, nil when the scorer's ranking was used.
	Err error
}

// Reranked reports whether Candidates carry scorer output.
func (r Result) Reranked() bool {
	return r.Attempted && r.Err == nil
}

// Reranker maps scorer output back onto candidates.
type Reranker struct {
	scorer  Scorer
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Reranker.
type Option func(*Reranker)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Reranker) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger used for degradation warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reranker) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Reranker. A nil scorer yields an unconfigured reranker that
// always returns the fallback projection.
func New(scorer Scorer, opts ...Option) *Reranker {
	r := &Reranker{
		scorer:  scorer,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Available reports whether a scorer is configured.
func (r *Reranker) Available() bool {
	return r.scorer != nil
}

// Score reranks candidates and returns the top topK by rerank score. Unlike
// Rerank it returns scorer errors, including ErrIndexOutOfRange.
func (r *Reranker) Score(ctx context.Context, query string, candidates []rag.Candidate, topK int) ([]rag.RankedCandidate, error) {
	if !r.Available() {
		return nil, ErrNotConfigured
	}
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}
	if len(candidates) == 0 {
		return []rag.RankedCandidate{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	scores, err := r.scorer.Rank(ctx, query, documents(candidates), topK)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(scores))
	ranked := make([]rag.RankedCandidate, 0, len(scores))
	for _, s := range scores {
		if s.Index < 0 || s.Index >= len(candidates) {
			return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, s.Index, len(candidates))
		}
		if seen[s.Index] {
			return nil, fmt.Errorf("%w: duplicate index %d", ErrMalformedResponse, s.Index)
		}
		if math.IsNaN(s.RelevanceScore) {
			return nil, fmt.Errorf("%w: score for index %d is NaN", ErrMalformedResponse, s.Index)
		}
		seen[s.Index] = true

		c := candidates[s.Index]
		ranked = append(ranked, rag.RankedCandidate{
			Candidate:     c,
			RerankScore:   clamp(s.RelevanceScore),
			OriginalScore: c.Score,
		})
	}

	// Scorer ordering is not trusted.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RerankScore > ranked[j].RerankScore
	})

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

// Rerank is the degrading form of Score. Unconfigured rerankers and empty
// input return the fallback projection without calling the scorer; scorer
// failures are logged and also resolve to the fallback projection.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []rag.Candidate, topK int) Result {
	if !r.Available() || len(candidates) == 0 {
		return Result{Candidates: rag.Fallback(candidates, topK)}
	}

	ranked, err := r.Score(ctx, query, candidates, topK)
	if err != nil {
		r.logDegradation(ctx, err, len(candidates))
		return Result{Candidates: rag.Fallback(candidates, topK), Attempted: true, Err: err}
	}
	return Result{Candidates: ranked, Attempted: true}
}

func (r *Reranker) logDegradation(ctx context.Context, err error, n int) {
	var msg string
	switch {
	case errors.Is(err, ErrRateLimited):
		msg = "reranker rate limited, using retrieval order"
	case errors.Is(err, ErrUnauthorized):
		msg = "reranker authentication failed, using retrieval order"
	case errors.Is(err, ErrIndexOutOfRange):
		msg = "reranker returned invalid index, using retrieval order"
	default:
		msg = "reranker failed, using retrieval order"
	}
	r.logger.WarnContext(ctx, msg, "error", err, "candidates", n)
}

// documents builds one scoring document per candidate from its title and
// matched text.
func documents(candidates []rag.Candidate) []string {
	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Paper.Title + "\n" + c.MatchedText
	}
	return docs
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
