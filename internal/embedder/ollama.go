package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	DefaultOllamaBaseURL   = "http://localhost:11434"
	DefaultOllamaModel     = "nomic-embed-text"
	DefaultOllamaDimension = 768

	// DefaultMaxInputRunes keeps a query well inside the 2048-token context
	// of nomic-embed-text.
	DefaultMaxInputRunes = 4000
)

// OllamaConfig holds configuration for the Ollama embedder. Zero fields take
// the package defaults.
type OllamaConfig struct {
	BaseURL   string
	Model     string
	Dimension int

	// MaxInputRunes caps the text sent for embedding.
	MaxInputRunes int

	HTTPClient *http.Client
}

// OllamaEmbedder embeds query text with a local Ollama model.
type OllamaEmbedder struct {
	baseURL   string
	model     string
	dimension int
	maxRunes  int
	client    *http.Client
}

type ollamaEmbedRequest struct {
	Model    string `json:"model"`
	Input    string `json:"input"`
	Truncate bool   `json:"truncate"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder creates an embedder for cfg.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	e := &OllamaEmbedder{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		maxRunes:  cfg.MaxInputRunes,
		client:    cfg.HTTPClient,
	}
	if e.baseURL == "" {
		e.baseURL = DefaultOllamaBaseURL
	}
	if e.model == "" {
		e.model = DefaultOllamaModel
	}
	if e.dimension <= 0 {
		e.dimension = DimensionFor(e.model, DefaultOllamaDimension)
	}
	if e.maxRunes <= 0 {
		e.maxRunes = DefaultMaxInputRunes
	}
	if e.client == nil {
		e.client = http.DefaultClient
	}
	return e
}

// Embed returns the embedding of text after whitespace normalization and
// truncation to the configured input cap.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	input := prepareInput(text, e.maxRunes)
	if input == "" {
		return nil, errors.New("nothing to embed")
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: input, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	switch {
	case len(out.Embeddings) != 1:
		return nil, fmt.Errorf("expected 1 embedding from Ollama, got %d", len(out.Embeddings))
	case len(out.Embeddings[0]) == 0:
		return nil, errors.New("empty embedding returned from Ollama")
	}
	return out.Embeddings[0], nil
}

func (e *OllamaEmbedder) Dimension() int    { return e.dimension }
func (e *OllamaEmbedder) ModelName() string { return e.model }

// prepareInput collapses runs of whitespace (PDF-extracted titles and
// pasted abstracts carry hard line breaks) and caps the result at maxRunes.
func prepareInput(text string, maxRunes int) string {
	s := strings.Join(strings.Fields(text), " ")
	if r := []rune(s); len(r) > maxRunes {
		s = strings.TrimSpace(string(r[:maxRunes]))
	}
	return s
}

var _ Embedder = (*OllamaEmbedder)(nil)
