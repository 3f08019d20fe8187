// Package app builds the pipeline and its collaborators from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/knoguchi/paperqa/internal/config"
	"github.com/knoguchi/paperqa/internal/embedder"
	"github.com/knoguchi/paperqa/internal/llm"
	"github.com/knoguchi/paperqa/internal/pipeline"
	"github.com/knoguchi/paperqa/internal/repository/postgres"
	"github.com/knoguchi/paperqa/internal/reranker"
	"github.com/knoguchi/paperqa/internal/retriever"
	"github.com/knoguchi/paperqa/internal/synthesizer"
	"github.com/knoguchi/paperqa/internal/tokenizer"
	"github.com/knoguchi/paperqa/internal/vectorstore"
)

// App holds the constructed components. Stage components are built once and
// shared by every query.
type App struct {
	Retriever *retriever.Retriever
	Reranker  *reranker.Reranker
	Pipeline  *pipeline.Pipeline

	// QueryLog is nil unless QUERY_LOG_ENABLED is set.
	QueryLog *postgres.QueryLogRepo

	db     *postgres.DB
	logger *slog.Logger
}

// New wires every stage from cfg. The vector index is connected lazily on the
// first query; the query log database is connected here when enabled.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{logger: logger}

	embed := NewEmbedder(cfg)
	logger.Info("initialized embedder", "provider", cfg.EmbeddingProvider, "model", embed.ModelName(), "dimension", embed.Dimension())

	a.Retriever = retriever.New(embed, NewConnector(cfg),
		retriever.WithWidth(cfg.CandidatesK),
		retriever.WithTimeout(cfg.RetrievalTimeout),
		retriever.WithLogger(logger),
	)

	llmClient := NewLLM(cfg)
	logger.Info("initialized LLM", "provider", cfg.LLMProvider, "model", llmClient.Model())

	scorer := NewScorer(cfg, llmClient)
	if scorer == nil {
		logger.Warn("reranker not configured, queries use retrieval order", "provider", cfg.RerankProvider)
	}
	a.Reranker = reranker.New(scorer,
		reranker.WithTimeout(cfg.RerankTimeout),
		reranker.WithLogger(logger),
	)

	synthOpts := []synthesizer.Option{
		synthesizer.WithTemperature(cfg.LLMTemperature),
		synthesizer.WithMaxTokens(cfg.LLMMaxTokens),
		synthesizer.WithTimeout(cfg.GenerationTimeout),
	}
	if cfg.TokenCountEnabled {
		if counter, err := tokenizer.New(llmClient.Model()); err != nil {
			logger.Warn("token counting disabled", "error", err)
		} else {
			synthOpts = append(synthOpts, synthesizer.WithTokenCounter(counter))
		}
	}
	synth := synthesizer.New(llmClient, synthOpts...)

	pipeOpts := []pipeline.Option{
		pipeline.WithCandidatesK(cfg.CandidatesK),
		pipeline.WithFinalK(cfg.FinalK),
		pipeline.WithRerankByDefault(cfg.RerankEnabled),
		pipeline.WithLogger(logger),
	}

	if cfg.QueryLogEnabled {
		db, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to query log database: %w", err)
		}
		a.db = db
		a.QueryLog = postgres.NewQueryLogRepo(db)
		if err := a.QueryLog.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		pipeOpts = append(pipeOpts, pipeline.WithRecorder(a.QueryLog))
		logger.Info("query log enabled")
	}

	a.Pipeline = pipeline.New(a.Retriever, a.Reranker, synth, pipeOpts...)
	return a, nil
}

// Close releases the vector index handle and database pool.
func (a *App) Close() {
	if err := a.Retriever.Close(); err != nil {
		a.logger.Warn("error closing vector index", "error", err)
	}
	if a.db != nil {
		a.db.Close()
	}
}

// NewEmbedder selects the embedding provider.
func NewEmbedder(cfg *config.Config) embedder.Embedder {
	switch cfg.EmbeddingProvider {
	case "openai":
		return embedder.NewOpenAIEmbedder(embedder.OpenAIConfig{
			APIKey:    cfg.OpenAIAPIKey,
			BaseURL:   cfg.OpenAIBaseURL,
			Model:     cfg.OpenAIEmbeddingModel,
			Dimension: cfg.EmbeddingDimension,
		})
	default:
		return embedder.NewOllamaEmbedder(embedder.OllamaConfig{
			BaseURL:   cfg.OllamaURL,
			Model:     cfg.OllamaEmbeddingModel,
			Dimension: cfg.EmbeddingDimension,
		})
	}
}

// NewConnector selects the vector index backend.
func NewConnector(cfg *config.Config) vectorstore.Connector {
	switch cfg.VectorBackend {
	case "pgvector":
		return vectorstore.NewPGVectorConnector(cfg.DatabaseURL, cfg.PGVectorTable)
	default:
		return vectorstore.NewQdrantConnector(cfg.QdrantGRPCURL, cfg.QdrantCollection)
	}
}

// NewLLM selects the generation provider.
func NewLLM(cfg *config.Config) llm.LLM {
	switch cfg.LLMProvider {
	case "openai":
		return llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.LLMModel)
	case "anthropic":
		return llm.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.LLMModel)
	default:
		return llm.NewOllamaClient(
			llm.WithBaseURL(cfg.OllamaURL),
			llm.WithModel(cfg.LLMModel),
		)
	}
}

// NewScorer selects the relevance scorer. It returns nil when reranking is
// unconfigured: provider "none", or Cohere without an API key.
func NewScorer(cfg *config.Config, llmClient llm.LLM) reranker.Scorer {
	switch cfg.RerankProvider {
	case "cohere":
		if cfg.CohereAPIKey == "" {
			return nil
		}
		return reranker.NewCohereScorer(cfg.CohereAPIKey,
			reranker.WithCohereModel(cfg.CohereRerankModel),
			reranker.WithEndpoint(cfg.CohereRerankURL),
			reranker.WithRateLimit(cfg.RerankRateLimit),
		)
	case "llm":
		return reranker.NewLLMScorer(llmClient, reranker.WithModel(cfg.LLMModel))
	default:
		return nil
	}
}
