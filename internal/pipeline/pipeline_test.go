package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/paperqa/internal/llm"
	"github.com/knoguchi/paperqa/internal/rag"
	"github.com/knoguchi/paperqa/internal/reranker"
	"github.com/knoguchi/paperqa/internal/synthesizer"
	"github.com/knoguchi/paperqa/internal/vectorstore"
)

type fakeRetriever struct {
	calls      atomic.Int32
	mu         sync.Mutex
	gotK       int
	candidates []rag.Candidate
	err        error
}

func (f *fakeRetriever) Search(ctx context.Context, query string, k int, filter vectorstore.Filter) ([]rag.Candidate, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.gotK = k
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]rag.Candidate, len(f.candidates))
	copy(out, f.candidates)
	return out, nil
}

type fakeScorer struct {
	calls  atomic.Int32
	scores func(n int) []reranker.Relevance
	err    error
	block  bool
}

func (f *fakeScorer) Rank(ctx context.Context, query string, documents []string, topN int) ([]reranker.Relevance, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.scores(len(documents)), nil
}

// reverseScores ranks the last document first.
func reverseScores(n int) []reranker.Relevance {
	out := make([]reranker.Relevance, n)
	for i := range out {
		out[i] = reranker.Relevance{Index: i, RelevanceScore: float64(i+1) / float64(n)}
	}
	return out
}

type fakeLLM struct {
	calls atomic.Int32
	err   error
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return "Grounded answer [1].", nil
}

func (f *fakeLLM) Model() string { return "fake-llm" }

type fakeRecorder struct {
	mu      sync.Mutex
	queries []string
	err     error
}

func (f *fakeRecorder) RecordQuery(ctx context.Context, query string, resp *rag.QueryResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.err
}

// scoredCandidates returns n candidates with scores descending from 0.91.
func scoredCandidates(n int) []rag.Candidate {
	out := make([]rag.Candidate, n)
	for i := range out {
		out[i] = rag.Candidate{
			Paper:       rag.Paper{Title: fmt.Sprintf("Paper %02d", i), Year: 2000 + i},
			Score:       0.91 - float64(i)*0.0268,
			MatchedText: fmt.Sprintf("Findings of paper %d.", i),
		}
	}
	return out
}

type harness struct {
	retriever *fakeRetriever
	scorer    *fakeScorer
	llm       *fakeLLM
	logs      *bytes.Buffer
	pipeline  *Pipeline
}

func newHarness(t *testing.T, scorer *fakeScorer, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		retriever: &fakeRetriever{candidates: scoredCandidates(20)},
		scorer:    scorer,
		llm:       &fakeLLM{},
		logs:      &bytes.Buffer{},
	}
	logger := slog.New(slog.NewTextHandler(h.logs, nil))

	var rr *reranker.Reranker
	if scorer != nil {
		rr = reranker.New(scorer, reranker.WithLogger(logger), reranker.WithTimeout(50*time.Millisecond))
	} else {
		rr = reranker.New(nil, reranker.WithLogger(logger))
	}
	syn := synthesizer.New(h.llm)

	opts = append([]Option{WithFinalK(5), WithCandidatesK(20), WithLogger(logger)}, opts...)
	h.pipeline = New(h.retriever, rr, syn, opts...)
	return h
}

func boolPtr(b bool) *bool { return &b }

func TestQuery_RerankingDisabledKeepsRetrievalOrder(t *testing.T) {
	h := newHarness(t, &fakeScorer{scores: reverseScores})
	want := scoredCandidates(20)

	resp, err := h.pipeline.Query(context.Background(), "what is attention?", Options{WithReranking: boolPtr(false)})

	require.NoError(t, err)
	require.Len(t, resp.Sources, 5)
	for i, src := range resp.Sources {
		assert.Equal(t, want[i].Paper.Title, src.Title)
		assert.Equal(t, want[i].Score, src.RelevanceScore)
	}
	assert.Zero(t, h.scorer.calls.Load())
	assert.Nil(t, resp.Metadata.RerankTimeMs)
	assert.False(t, resp.Metadata.Reranked)
	assert.Equal(t, 20, resp.Metadata.CandidateCount)
	assert.Equal(t, 5, resp.Metadata.FinalCount)
	assert.Equal(t, "fake-llm", resp.Metadata.ModelUsed)
	assert.NotEmpty(t, resp.Metadata.QueryID)
	assert.Equal(t, 20, h.retriever.gotK)
}

func TestQuery_NoCandidates(t *testing.T) {
	h := newHarness(t, &fakeScorer{scores: reverseScores})
	h.retriever.candidates = nil

	resp, err := h.pipeline.Query(context.Background(), "unknown topic", Options{})

	require.NoError(t, err)
	assert.Equal(t, rag.NoResultsAnswer, resp.Answer)
	assert.NotNil(t, resp.Sources)
	assert.Empty(t, resp.Sources)
	assert.Zero(t, resp.Metadata.CandidateCount)
	assert.Nil(t, resp.Metadata.RerankTimeMs)
	assert.Zero(t, h.scorer.calls.Load())
	assert.Zero(t, h.llm.calls.Load())
}

func TestQuery_RerankTimeoutFallsBack(t *testing.T) {
	h := newHarness(t, &fakeScorer{block: true})
	want := scoredCandidates(20)

	resp, err := h.pipeline.Query(context.Background(), "what is attention?", Options{})

	require.NoError(t, err)
	require.NotNil(t, resp.Metadata.RerankTimeMs)
	assert.GreaterOrEqual(t, *resp.Metadata.RerankTimeMs, int64(0))
	assert.False(t, resp.Metadata.Reranked)
	require.Len(t, resp.Sources, 5)
	for i, src := range resp.Sources {
		assert.Equal(t, want[i].Paper.Title, src.Title)
		assert.Equal(t, want[i].Score, src.RelevanceScore)
	}
	assert.Contains(t, h.logs.String(), "reranker failed, using retrieval order")
}

func TestQuery_RerankReorders(t *testing.T) {
	h := newHarness(t, &fakeScorer{scores: reverseScores})

	resp, err := h.pipeline.Query(context.Background(), "what is attention?", Options{})

	require.NoError(t, err)
	assert.Equal(t, int32(1), h.scorer.calls.Load())
	assert.True(t, resp.Metadata.Reranked)
	require.NotNil(t, resp.Metadata.RerankTimeMs)
	require.Len(t, resp.Sources, 5)
	assert.Equal(t, "Paper 19", resp.Sources[0].Title)
	assert.Equal(t, 1.0, resp.Sources[0].RelevanceScore)
	for i := 1; i < len(resp.Sources); i++ {
		assert.GreaterOrEqual(t, resp.Sources[i-1].RelevanceScore, resp.Sources[i].RelevanceScore)
	}
}

func TestQuery_UnconfiguredRerankerIsNotAttempted(t *testing.T) {
	h := newHarness(t, nil)

	resp, err := h.pipeline.Query(context.Background(), "q", Options{WithReranking: boolPtr(true)})

	require.NoError(t, err)
	assert.Nil(t, resp.Metadata.RerankTimeMs)
	assert.Len(t, resp.Sources, 5)
}

func TestQuery_KOverridesFinalWidth(t *testing.T) {
	h := newHarness(t, nil)

	resp, err := h.pipeline.Query(context.Background(), "q", Options{K: 8})
	require.NoError(t, err)
	assert.Len(t, resp.Sources, 8)

	resp, err = h.pipeline.Query(context.Background(), "q", Options{K: 30})
	require.NoError(t, err)
	assert.Equal(t, 30, h.retriever.gotK)
	assert.Len(t, resp.Sources, 20)
}

func TestQuery_RejectsOutOfRangeK(t *testing.T) {
	h := newHarness(t, nil)

	for _, k := range []int{-1, rag.MaxFinalK + 1, 1_000_000_000} {
		_, err := h.pipeline.Query(context.Background(), "q", Options{K: k})
		assert.ErrorIs(t, err, rag.ErrInvalidQuery, "k=%d", k)
	}

	_, err := h.pipeline.QueryBatch(context.Background(), []string{"q"}, Options{K: rag.MaxFinalK + 1})
	assert.ErrorIs(t, err, rag.ErrInvalidQuery)

	assert.Zero(t, h.retriever.calls.Load())

	_, err = h.pipeline.Query(context.Background(), "q", Options{K: rag.MaxFinalK})
	require.NoError(t, err)
	assert.Equal(t, rag.MaxFinalK, h.retriever.gotK)
}

func TestQuery_RetrievalFailure(t *testing.T) {
	h := newHarness(t, &fakeScorer{scores: reverseScores})
	h.retriever.err = errors.New("qdrant unavailable")

	_, err := h.pipeline.Query(context.Background(), "q", Options{})

	assert.ErrorIs(t, err, rag.ErrRetrieval)
	assert.ErrorContains(t, err, "qdrant unavailable")
	assert.Zero(t, h.llm.calls.Load())
}

func TestQuery_SynthesisFailure(t *testing.T) {
	h := newHarness(t, &fakeScorer{scores: reverseScores})
	h.llm.err = errors.New("context length exceeded")

	_, err := h.pipeline.Query(context.Background(), "q", Options{})

	assert.ErrorIs(t, err, rag.ErrSynthesis)
}

func TestQuery_InvalidQuery(t *testing.T) {
	h := newHarness(t, nil)

	for _, text := range []string{"", "   ", strings.Repeat("x", rag.MaxQueryLength+1)} {
		_, err := h.pipeline.Query(context.Background(), text, Options{})
		assert.ErrorIs(t, err, rag.ErrInvalidQuery)
	}
	assert.Zero(t, h.retriever.calls.Load())
}

func TestQuery_RecordsQuery(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("db down")}
	h := newHarness(t, nil, WithRecorder(rec))

	_, err := h.pipeline.Query(context.Background(), "  what is attention?  ", Options{})

	require.NoError(t, err)
	assert.Equal(t, []string{"what is attention?"}, rec.queries)
	assert.Contains(t, h.logs.String(), "failed to record query")
}

func TestQueryWithComparison(t *testing.T) {
	h := newHarness(t, &fakeScorer{scores: reverseScores})

	cmp, err := h.pipeline.QueryWithComparison(context.Background(), "what is attention?")

	require.NoError(t, err)
	require.NotNil(t, cmp.WithReranking)
	require.NotNil(t, cmp.WithoutReranking)
	assert.True(t, cmp.WithReranking.Metadata.Reranked)
	assert.NotNil(t, cmp.WithReranking.Metadata.RerankTimeMs)
	assert.Nil(t, cmp.WithoutReranking.Metadata.RerankTimeMs)
	assert.Equal(t, cmp.WithReranking.Metadata.CandidateCount, cmp.WithoutReranking.Metadata.CandidateCount)
	assert.True(t, cmp.Improvement.TopSourceChanged)
	assert.Equal(t,
		cmp.WithReranking.Metadata.TotalTimeMs-cmp.WithoutReranking.Metadata.TotalTimeMs,
		cmp.Improvement.LatencyDiffMs)
	assert.Equal(t, int32(2), h.retriever.calls.Load())
}

func TestQueryWithComparison_FailsWhenOneSideFails(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.err = errors.New("model offline")

	_, err := h.pipeline.QueryWithComparison(context.Background(), "q")

	assert.ErrorIs(t, err, rag.ErrSynthesis)
}

func TestCompare(t *testing.T) {
	resp := func(ms int64, scores ...float64) *rag.QueryResponse {
		r := &rag.QueryResponse{Metadata: rag.QueryMetadata{TotalTimeMs: ms}}
		for i, s := range scores {
			r.Sources = append(r.Sources, rag.SourceReference{Title: fmt.Sprintf("T%v", s*10+float64(i)), RelevanceScore: s})
		}
		return r
	}

	imp := compare(resp(900, 0.9, 0.7), resp(400, 0.6, 0.4))
	assert.Equal(t, int64(500), imp.LatencyDiffMs)
	assert.InDelta(t, 0.3, imp.AvgRelevanceDiff, 1e-9)
	assert.True(t, imp.TopSourceChanged)

	same := compare(resp(1, 0.5), resp(1, 0.5))
	assert.False(t, same.TopSourceChanged)
	assert.Zero(t, same.AvgRelevanceDiff)

	empty := compare(resp(1), resp(1))
	assert.False(t, empty.TopSourceChanged)
}

func TestQueryBatch(t *testing.T) {
	h := newHarness(t, nil)
	texts := []string{"first", "second", "third"}

	res, err := h.pipeline.QueryBatch(context.Background(), texts, Options{K: 3})

	require.NoError(t, err)
	require.Len(t, res.Results, 3)
	var sum int64
	ids := map[string]bool{}
	for _, r := range res.Results {
		require.NotNil(t, r)
		assert.Len(t, r.Sources, 3)
		sum += r.Metadata.TotalTimeMs
		ids[r.Metadata.QueryID] = true
	}
	assert.Equal(t, sum, res.TotalTimeMs)
	assert.Len(t, ids, 3)
	assert.Equal(t, int32(3), h.llm.calls.Load())
}

func TestQueryBatch_Limits(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.pipeline.QueryBatch(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, rag.ErrEmptyBatch)

	_, err = h.pipeline.QueryBatch(context.Background(), make([]string, rag.MaxBatchSize+1), Options{})
	assert.ErrorIs(t, err, rag.ErrBatchTooLarge)

	_, err = h.pipeline.QueryBatch(context.Background(), []string{"ok", " "}, Options{})
	assert.ErrorIs(t, err, rag.ErrInvalidQuery)

	assert.Zero(t, h.retriever.calls.Load())
}

func TestQueryBatch_SubQueryFailureFailsBatch(t *testing.T) {
	h := newHarness(t, nil)
	h.retriever.err = errors.New("index gone")

	_, err := h.pipeline.QueryBatch(context.Background(), []string{"a", "b"}, Options{})

	assert.ErrorIs(t, err, rag.ErrRetrieval)
}

func TestHealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h := newHarness(t, &fakeScorer{scores: reverseScores})
		got := h.pipeline.HealthCheck(context.Background())
		assert.Equal(t, Health{VectorSearch: true, Reranker: true, Overall: true}, got)
	})

	t.Run("reranker failure is informational", func(t *testing.T) {
		h := newHarness(t, &fakeScorer{err: reranker.ErrUnauthorized})
		got := h.pipeline.HealthCheck(context.Background())
		assert.Equal(t, Health{VectorSearch: true, Reranker: false, Overall: true}, got)
	})

	t.Run("unconfigured reranker", func(t *testing.T) {
		h := newHarness(t, nil)
		got := h.pipeline.HealthCheck(context.Background())
		assert.True(t, got.Overall)
		assert.False(t, got.Reranker)
	})

	t.Run("retrieval failure is unhealthy", func(t *testing.T) {
		h := newHarness(t, &fakeScorer{scores: reverseScores})
		h.retriever.err = errors.New("connection refused")
		got := h.pipeline.HealthCheck(context.Background())
		assert.False(t, got.VectorSearch)
		assert.False(t, got.Overall)
		assert.True(t, got.Reranker)
	})
}
