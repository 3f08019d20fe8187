// Package pipeline sequences retrieval, reranking and answer synthesis, and
// exposes the single, comparison, batch and health-check entry points.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/knoguchi/paperqa/internal/rag"
	"github.com/knoguchi/paperqa/internal/reranker"
	"github.com/knoguchi/paperqa/internal/synthesizer"
	"github.com/knoguchi/paperqa/internal/telemetry"
	"github.com/knoguchi/paperqa/internal/vectorstore"
)

const tracerName = "github.com/knoguchi/paperqa/internal/pipeline"

// Defaults applied when no option overrides them.
const (
	DefaultCandidatesK = 20
	DefaultFinalK      = 5
)

// CandidateSearcher is the retrieval stage.
type CandidateSearcher interface {
	Search(ctx context.Context, query string, k int, filter vectorstore.Filter) ([]rag.Candidate, error)
}

// Reranker is the precision stage.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []rag.Candidate, topK int) reranker.Result
	Score(ctx context.Context, query string, candidates []rag.Candidate, topK int) ([]rag.RankedCandidate, error)
	Available() bool
}

// AnswerGenerator is the synthesis stage.
type AnswerGenerator interface {
	Generate(ctx context.Context, query string, sources []rag.RankedCandidate) (*synthesizer.Synthesis, error)
	Model() string
}

// QueryRecorder persists metrics of completed queries.
type QueryRecorder interface {
	RecordQuery(ctx context.Context, query string, resp *rag.QueryResponse) error
}

// Options are per-query overrides. Zero values select the pipeline defaults.
type Options struct {
	// K overrides the final width.
	K int

	// WithReranking overrides the reranking default when non-nil.
	WithReranking *bool
}

// Validate rejects a negative K or one above rag.MaxFinalK.
func (o Options) Validate() error {
	if o.K < 0 || o.K > rag.MaxFinalK {
		return fmt.Errorf("%w: k is %d, must be within [0, %d]", rag.ErrInvalidQuery, o.K, rag.MaxFinalK)
	}
	return nil
}

// Pipeline runs queries through the three stages.
type Pipeline struct {
	retriever   CandidateSearcher
	reranker    Reranker
	synthesizer AnswerGenerator

	candidatesK      int
	finalK           int
	rerankByDefault  bool
	batchConcurrency int

	recorder QueryRecorder
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCandidatesK sets the retrieval width.
func WithCandidatesK(k int) Option {
	return func(p *Pipeline) {
		if k > 0 {
			p.candidatesK = k
		}
	}
}

// WithFinalK sets the default rerank/output width.
func WithFinalK(k int) Option {
	return func(p *Pipeline) {
		if k > 0 {
			p.finalK = k
		}
	}
}

// WithRerankByDefault sets whether queries rerank when Options leaves it unset.
func WithRerankByDefault(enabled bool) Option {
	return func(p *Pipeline) {
		p.rerankByDefault = enabled
	}
}

// WithBatchConcurrency bounds concurrent sub-queries in QueryBatch.
func WithBatchConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchConcurrency = n
		}
	}
}

// WithRecorder enables query logging.
func WithRecorder(r QueryRecorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithTracerProvider sets the provider stage spans are created from.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pipeline) {
		if tp != nil {
			p.tracer = tp.Tracer(tracerName)
		}
	}
}

// New wires the stages into a Pipeline.
func New(r CandidateSearcher, rr Reranker, s AnswerGenerator, opts ...Option) *Pipeline {
	p := &Pipeline{
		retriever:        r,
		reranker:         rr,
		synthesizer:      s,
		candidatesK:      DefaultCandidatesK,
		finalK:           DefaultFinalK,
		rerankByDefault:  true,
		batchConcurrency: rag.MaxBatchSize,
		logger:           slog.Default(),
		tracer:           otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Query answers one question.
func (p *Pipeline) Query(ctx context.Context, text string, opts Options) (*rag.QueryResponse, error) {
	query, err := ValidateQuery(text)
	if err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return p.query(ctx, query, opts)
}

func (p *Pipeline) query(ctx context.Context, query string, opts Options) (resp *rag.QueryResponse, err error) {
	start := time.Now()
	queryID := uuid.NewString()
	finalK := p.finalK
	if opts.K > 0 {
		finalK = opts.K
	}
	candidatesK := max(p.candidatesK, finalK)
	withReranking := p.rerankByDefault
	if opts.WithReranking != nil {
		withReranking = *opts.WithReranking
	}
	logger := p.logger.With("query_id", queryID)

	ctx, span := p.tracer.Start(ctx, "pipeline.query", trace.WithAttributes(
		attribute.String("query.id", queryID),
		attribute.Int("query.candidates_k", candidatesK),
		attribute.Int("query.final_k", finalK),
		attribute.Bool("query.with_reranking", withReranking),
	))
	defer func() { telemetry.End(span, err) }()

	md := rag.QueryMetadata{QueryID: queryID}

	// Retrieve
	stageStart := time.Now()
	candidates, err := p.retrieve(ctx, query, candidatesK)
	md.RetrievalTimeMs = time.Since(stageStart).Milliseconds()
	if err != nil {
		logger.ErrorContext(ctx, "retrieval failed", "error", err)
		return nil, err
	}
	md.CandidateCount = len(candidates)

	if len(candidates) == 0 {
		md.ModelUsed = p.synthesizer.Model()
		md.TotalTimeMs = time.Since(start).Milliseconds()
		logger.InfoContext(ctx, "no candidates found", "retrieval_ms", md.RetrievalTimeMs)
		resp = &rag.QueryResponse{
			Answer:   rag.NoResultsAnswer,
			Sources:  []rag.SourceReference{},
			Metadata: md,
		}
		p.record(ctx, logger, query, resp)
		return resp, nil
	}

	// Rerank
	var ranked []rag.RankedCandidate
	if withReranking {
		stageStart = time.Now()
		res := p.rerank(ctx, query, candidates, finalK)
		elapsed := time.Since(stageStart).Milliseconds()
		if res.Attempted {
			md.RerankTimeMs = &elapsed
		}
		md.Reranked = res.Reranked()
		ranked = res.Candidates
	} else {
		ranked = rag.Fallback(candidates, finalK)
	}
	md.FinalCount = len(ranked)

	// Synthesize
	stageStart = time.Now()
	syn, err := p.synthesize(ctx, query, ranked)
	md.GenerationTimeMs = time.Since(stageStart).Milliseconds()
	if err != nil {
		logger.ErrorContext(ctx, "synthesis failed", "error", err)
		return nil, err
	}
	md.ModelUsed = syn.ModelUsed
	md.PromptTokens = syn.PromptTokens
	md.TotalTimeMs = time.Since(start).Milliseconds()

	resp = &rag.QueryResponse{
		Answer:   syn.Answer,
		Sources:  syn.Sources,
		Metadata: md,
	}

	attrs := []any{
		"candidates", md.CandidateCount,
		"final", md.FinalCount,
		"reranked", md.Reranked,
		"retrieval_ms", md.RetrievalTimeMs,
		"generation_ms", md.GenerationTimeMs,
		"total_ms", md.TotalTimeMs,
		"model", md.ModelUsed,
	}
	if md.RerankTimeMs != nil {
		attrs = append(attrs, "rerank_ms", *md.RerankTimeMs)
	}
	logger.InfoContext(ctx, "query completed", attrs...)

	p.record(ctx, logger, query, resp)
	return resp, nil
}

func (p *Pipeline) retrieve(ctx context.Context, query string, k int) (candidates []rag.Candidate, err error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.retrieve", trace.WithAttributes(attribute.Int("retrieve.k", k)))
	defer func() { telemetry.End(span, err) }()

	candidates, err = p.retriever.Search(ctx, query, k, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", rag.ErrRetrieval, err)
	}
	span.SetAttributes(attribute.Int("retrieve.candidates", len(candidates)))
	return candidates, nil
}

func (p *Pipeline) rerank(ctx context.Context, query string, candidates []rag.Candidate, topK int) reranker.Result {
	ctx, span := p.tracer.Start(ctx, "pipeline.rerank", trace.WithAttributes(attribute.Int("rerank.top_k", topK)))
	res := p.reranker.Rerank(ctx, query, candidates, topK)
	span.SetAttributes(
		attribute.Bool("rerank.attempted", res.Attempted),
		attribute.Bool("rerank.reranked", res.Reranked()),
	)
	// Degradation is not a span error.
	telemetry.End(span, nil)
	return res
}

func (p *Pipeline) synthesize(ctx context.Context, query string, sources []rag.RankedCandidate) (syn *synthesizer.Synthesis, err error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.synthesize", trace.WithAttributes(attribute.Int("synthesize.sources", len(sources))))
	defer func() { telemetry.End(span, err) }()

	syn, err = p.synthesizer.Generate(ctx, query, sources)
	if err != nil {
		if !errors.Is(err, rag.ErrSynthesis) {
			err = fmt.Errorf("%w: %w", rag.ErrSynthesis, err)
		}
		return nil, err
	}
	return syn, nil
}

func (p *Pipeline) record(ctx context.Context, logger *slog.Logger, query string, resp *rag.QueryResponse) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordQuery(context.WithoutCancel(ctx), query, resp); err != nil {
		logger.WarnContext(ctx, "failed to record query", "error", err)
	}
}

// ValidateQuery trims text and rejects empty or oversized queries.
func ValidateQuery(text string) (string, error) {
	query := strings.TrimSpace(text)
	if query == "" {
		return "", fmt.Errorf("%w: query is empty", rag.ErrInvalidQuery)
	}
	if n := utf8.RuneCountInString(query); n > rag.MaxQueryLength {
		return "", fmt.Errorf("%w: query is %d characters, limit is %d", rag.ErrInvalidQuery, n, rag.MaxQueryLength)
	}
	return query, nil
}
