package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/knoguchi/paperqa/internal/rag"
)

// Improvement summarizes what reranking changed for one query.
type Improvement struct {
	// LatencyDiffMs is the reranked run's total time minus the plain run's.
	LatencyDiffMs int64 `json:"latency_diff_ms"`

	// TopSourceChanged reports whether the first source differs.
	TopSourceChanged bool `json:"top_source_changed"`

	// AvgRelevanceDiff is the reranked mean relevance minus the plain mean.
	AvgRelevanceDiff float64 `json:"avg_relevance_diff"`
}

// Comparison holds both runs of an A/B query.
type Comparison struct {
	WithReranking    *rag.QueryResponse `json:"with_reranking"`
	WithoutReranking *rag.QueryResponse `json:"without_reranking"`
	Improvement      Improvement        `json:"improvement"`
}

// QueryWithComparison runs text with reranking forced on and off concurrently.
// If either run fails the comparison fails.
func (p *Pipeline) QueryWithComparison(ctx context.Context, text string) (*Comparison, error) {
	query, err := ValidateQuery(text)
	if err != nil {
		return nil, err
	}

	on, off := true, false
	var with, without *rag.QueryResponse

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resp, err := p.query(gctx, query, Options{WithReranking: &on})
		if err != nil {
			return fmt.Errorf("reranked run: %w", err)
		}
		with = resp
		return nil
	})
	g.Go(func() error {
		resp, err := p.query(gctx, query, Options{WithReranking: &off})
		if err != nil {
			return fmt.Errorf("baseline run: %w", err)
		}
		without = resp
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Comparison{
		WithReranking:    with,
		WithoutReranking: without,
		Improvement:      compare(with, without),
	}, nil
}

func compare(with, without *rag.QueryResponse) Improvement {
	imp := Improvement{
		LatencyDiffMs:    with.Metadata.TotalTimeMs - without.Metadata.TotalTimeMs,
		AvgRelevanceDiff: avgRelevance(with.Sources) - avgRelevance(without.Sources),
	}
	switch {
	case len(with.Sources) == 0 && len(without.Sources) == 0:
	case len(with.Sources) == 0 || len(without.Sources) == 0:
		imp.TopSourceChanged = true
	default:
		imp.TopSourceChanged = with.Sources[0].Title != without.Sources[0].Title
	}
	return imp
}

func avgRelevance(sources []rag.SourceReference) float64 {
	if len(sources) == 0 {
		return 0
	}
	var sum float64
	for _, s := range sources {
		sum += s.RelevanceScore
	}
	return sum / float64(len(sources))
}

// BatchResult holds batch responses in submission order.
type BatchResult struct {
	Results []*rag.QueryResponse `json:"results"`

	// TotalTimeMs is the sum of each response's TotalTimeMs. It is not the
	// batch wall-clock time, which is bounded by the slowest query.
	TotalTimeMs int64 `json:"total_time_ms"`

	// WallTimeMs is the elapsed time of the whole batch.
	WallTimeMs int64 `json:"wall_time_ms"`
}

// QueryBatch runs up to rag.MaxBatchSize queries concurrently. Any failing
// query fails the batch.
func (p *Pipeline) QueryBatch(ctx context.Context, texts []string, opts Options) (*BatchResult, error) {
	if len(texts) == 0 {
		return nil, rag.ErrEmptyBatch
	}
	if len(texts) > rag.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d queries, limit is %d", rag.ErrBatchTooLarge, len(texts), rag.MaxBatchSize)
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	queries := make([]string, len(texts))
	for i, text := range texts {
		q, err := ValidateQuery(text)
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		queries[i] = q
	}

	start := time.Now()
	results := make([]*rag.QueryResponse, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.batchConcurrency)
	for i, q := range queries {
		g.Go(func() error {
			resp, err := p.query(gctx, q, opts)
			if err != nil {
				return fmt.Errorf("query %d: %w", i, err)
			}
			results[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total int64
	for _, r := range results {
		total += r.Metadata.TotalTimeMs
	}
	return &BatchResult{
		Results:     results,
		TotalTimeMs: total,
		WallTimeMs:  time.Since(start).Milliseconds(),
	}, nil
}

// Health reports stage availability. Overall follows VectorSearch only.
type Health struct {
	VectorSearch bool `json:"vector_search"`
	Reranker     bool `json:"reranker"`
	Overall      bool `json:"overall"`
}

const healthProbe = "health check"

// HealthCheck runs a minimal retrieval and a minimal strict rerank.
func (p *Pipeline) HealthCheck(ctx context.Context) Health {
	var h Health

	if _, err := p.retriever.Search(ctx, healthProbe, 1, nil); err != nil {
		p.logger.WarnContext(ctx, "vector search health check failed", "error", err)
	} else {
		h.VectorSearch = true
	}

	if p.reranker.Available() {
		probe := []rag.Candidate{{Paper: rag.Paper{Title: healthProbe}, MatchedText: healthProbe}}
		if _, err := p.reranker.Score(ctx, healthProbe, probe, 1); err != nil {
			p.logger.WarnContext(ctx, "reranker health check failed", "error", err)
		} else {
			h.Reranker = true
		}
	}

	h.Overall = h.VectorSearch
	return h
}
