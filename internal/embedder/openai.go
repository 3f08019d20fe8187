package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// DefaultOpenAIModel is the default hosted embedding model.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIConfig holds configuration for the OpenAI embedder.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
}

// OpenAIEmbedder implements Embedder using the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client    openaisdk.Client
	model     string
	dimension int

	// requested is sent as the dimensions parameter when non-zero.
	requested int
}

// NewOpenAIEmbedder creates an embedder backed by the OpenAI SDK.
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	dimension := DimensionFor(model, 1536)
	var requested int
	// text-embedding-3 models can shorten their output; older ones cannot.
	if cfg.Dimension > 0 && strings.HasPrefix(model, "text-embedding-3") {
		dimension = cfg.Dimension
		requested = cfg.Dimension
	}

	return &OpenAIEmbedder{
		client:    openaisdk.NewClient(opts...),
		model:     model,
		dimension: dimension,
		requested: requested,
	}
}

// Embed converts text to a vector embedding.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openaisdk.EmbeddingNewParams{
		Model: openaisdk.EmbeddingModel(e.model),
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: []string{text},
		},
	}
	if e.requested > 0 {
		params.Dimensions = openaisdk.Int(int64(e.requested))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(resp.Data))
	}
	if len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("empty embedding returned from OpenAI")
	}
	return convertVector(resp.Data[0].Embedding), nil
}

// Dimension returns the dimensionality of the embedding vectors.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// ModelName returns the name of the embedding model being used.
func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

func convertVector(input []float64) []float32 {
	vec := make([]float32, len(input))
	for i, v := range input {
		vec[i] = float32(v)
	}
	return vec
}

var _ Embedder = (*OpenAIEmbedder)(nil)
