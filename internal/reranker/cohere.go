package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultCohereEndpoint is Cohere's v2 rerank API.
	DefaultCohereEndpoint = "https://api.cohere.com/v2/rerank"

	// DefaultCohereModel is the default rerank model.
	DefaultCohereModel = "rerank-english-v3.0"
)

// CohereScorer implements Scorer with Cohere's rerank API.
type CohereScorer struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// CohereOption customises the Cohere scorer.
type CohereOption func(*CohereScorer)

// WithCohereModel overrides the default Cohere model.
func WithCohereModel(model string) CohereOption {
	return func(c *CohereScorer) {
		if model != "" {
			c.model = model
		}
	}
}

// WithEndpoint overrides the Cohere API endpoint.
func WithEndpoint(endpoint string) CohereOption {
	return func(c *CohereScorer) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithHTTPClient swaps the HTTP client.
func WithHTTPClient(client *http.Client) CohereOption {
	return func(c *CohereScorer) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero or negative disables
// client-side limiting.
func WithRateLimit(perSecond float64) CohereOption {
	return func(c *CohereScorer) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
		}
	}
}

// NewCohereScorer creates a Cohere-backed scorer.
func NewCohereScorer(apiKey string, opts ...CohereOption) *CohereScorer {
	c := &CohereScorer{
		apiKey:     apiKey,
		model:      DefaultCohereModel,
		endpoint:   DefaultCohereEndpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type cohereRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type cohereResult struct {
	Index          *int     `json:"index"`
	RelevanceScore *float64 `json:"relevance_score"`
}

type cohereResponse struct {
	ID      string         `json:"id"`
	Results []cohereResult `json:"results"`
}

// Rank implements Scorer.
func (c *CohereScorer) Rank(ctx context.Context, query string, documents []string, topN int) ([]Relevance, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	if len(documents) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
	}

	body, err := json.Marshal(cohereRequest{
		Model:     c.model,
		Query:     query,
		Documents: documents,
		TopN:      topN,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cohere rerank request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("cohere rerank failed (status %d): %s", resp.StatusCode, string(msg))
	}

	var rr cohereResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if rr.Results == nil {
		return nil, fmt.Errorf("%w: missing results", ErrMalformedResponse)
	}

	out := make([]Relevance, len(rr.Results))
	for i, r := range rr.Results {
		if r.Index == nil || r.RelevanceScore == nil {
			return nil, fmt.Errorf("%w: result %d missing index or relevance_score", ErrMalformedResponse, i)
		}
		out[i] = Relevance{Index: *r.Index, RelevanceScore: *r.RelevanceScore}
	}
	return out, nil
}

var _ Scorer = (*CohereScorer)(nil)
