package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/knoguchi/paperqa/internal/llm"
)

// LLMScorer uses an LLM to score query-document pairs. The model sees both
// query and document together, approximating a cross-encoder.
type LLMScorer struct {
	llmClient llm.LLM
	model     string
}

// LLMScorerOption is a functional option for configuring LLMScorer.
type LLMScorerOption func(*LLMScorer)

// WithModel sets the model to use for scoring.
func WithModel(model string) LLMScorerOption {
	return func(s *LLMScorer) {
		s.model = model
	}
}

// NewLLMScorer creates a new LLM-based scorer.
func NewLLMScorer(llmClient llm.LLM, opts ...LLMScorerOption) *LLMScorer {
	s := &LLMScorer{llmClient: llmClient}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// relevanceScore represents the structured output from the LLM.
type relevanceScore struct {
	DocIndex *int     `json:"doc_index"`
	Score    *float64 `json:"score"`
	Reason   string   `json:"reason,omitempty"`
}

type llmRerankResponse struct {
	Scores []relevanceScore `json:"scores"`
}

// Rank implements Scorer. Documents the model leaves unscored get 0.
func (s *LLMScorer) Rank(ctx context.Context, query string, documents []string, topN int) ([]Relevance, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	opts := llm.GenerateOptions{
		Model:       s.model,
		Temperature: llm.Temperature(0), // Deterministic scoring
		MaxTokens:   1024,
	}

	response, err := s.llmClient.Generate(ctx, buildRerankPrompt(query, documents), opts)
	if err != nil {
		return nil, fmt.Errorf("LLM reranking failed: %w", err)
	}

	return parseRerankResponse(response, len(documents))
}

// buildRerankPrompt constructs the prompt for LLM-based scoring.
func buildRerankPrompt(query string, documents []string) string {
	var sb strings.Builder

	sb.WriteString("You are a relevance scoring system for academic papers. Score each document's relevance to the query.\n\n")
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")

	sb.WriteString("Documents to score:\n")
	for i, doc := range documents {
		// Truncate content to avoid token limits
		runes := []rune(doc)
		if len(runes) > 500 {
			doc = string(runes[:500]) + "..."
		}
		fmt.Fprintf(&sb, "[Doc %d]: %s\n\n", i, doc)
	}

	sb.WriteString(`Score each document from 0.0 to 1.0 based on relevance to the query.
Output ONLY valid JSON in this exact format:
{"scores": [{"doc_index": 0, "score": 0.9}, {"doc_index": 1, "score": 0.3}, ...]}

Be strict: irrelevant documents should score below 0.3, somewhat relevant 0.3-0.7, highly relevant above 0.7.
Output only JSON, no explanation:`)

	return sb.String()
}

// parseRerankResponse extracts scores from the LLM response. Indices are passed
// through unchecked so the caller can reject out-of-range ones.
func parseRerankResponse(response string, numDocs int) ([]Relevance, error) {
	response = strings.TrimSpace(response)

	// Try to extract JSON from markdown code blocks if present
	if idx := strings.Index(response, "```json"); idx != -1 {
		start := idx + 7
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	} else if idx := strings.Index(response, "```"); idx != -1 {
		start := idx + 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	}

	response = strings.TrimSpace(response)

	var parsed llmRerankResponse
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	scored := make(map[int]bool, len(parsed.Scores))
	out := make([]Relevance, 0, numDocs)
	for _, s := range parsed.Scores {
		if s.DocIndex == nil || s.Score == nil {
			return nil, fmt.Errorf("%w: score entry missing doc_index or score", ErrMalformedResponse)
		}
		if scored[*s.DocIndex] {
			continue
		}
		scored[*s.DocIndex] = true
		out = append(out, Relevance{Index: *s.DocIndex, RelevanceScore: *s.Score})
	}
	for i := 0; i < numDocs; i++ {
		if !scored[i] {
			out = append(out, Relevance{Index: i, RelevanceScore: 0})
		}
	}

	return out, nil
}

// Ensure LLMScorer implements Scorer interface.
var _ Scorer = (*LLMScorer)(nil)
