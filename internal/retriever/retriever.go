// Package retriever implements the candidate stage: it embeds the query and
// runs a nearest-neighbour search, returning similarity-scored candidates.
package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/knoguchi/paperqa/internal/embedder"
	"github.com/knoguchi/paperqa/internal/rag"
	"github.com/knoguchi/paperqa/internal/vectorstore"
)

// DefaultCandidateWidth is used when neither the caller nor the options set k.
const DefaultCandidateWidth = 20

// Retriever embeds queries and searches the vector index. The index
// connection is established on first use and shared by all later calls.
type Retriever struct {
	embedder  embedder.Embedder
	connector vectorstore.Connector
	width     int
	timeout   time.Duration
	logger    *slog.Logger

	mu    sync.Mutex
	index vectorstore.Index
}

// Option is a functional option for configuring Retriever.
type Option func(*Retriever)

// WithWidth sets the default candidate width.
func WithWidth(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.width = k
		}
	}
}

// WithTimeout bounds each embed+search call.
func WithTimeout(d time.Duration) Option {
	return func(r *Retriever) {
		r.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Retriever. No connection is made until the first search.
func New(e embedder.Embedder, connector vectorstore.Connector, opts ...Option) *Retriever {
	r := &Retriever{
		embedder:  e,
		connector: connector,
		width:     DefaultCandidateWidth,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Width returns the default candidate width.
func (r *Retriever) Width() int {
	return r.width
}

// Connect returns the shared index handle, establishing it if needed. A
// failed attempt is returned to the caller as is; the next call tries again.
func (r *Retriever) Connect(ctx context.Context) (vectorstore.Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.index != nil {
		return r.index, nil
	}

	idx, err := r.connector.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to vector index: %w", err)
	}
	r.index = idx
	r.logger.Info("connected to vector index")
	return idx, nil
}

// Close releases the index connection if one was established.
func (r *Retriever) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.index == nil {
		return nil
	}
	err := r.index.Close()
	r.index = nil
	return err
}

// Search embeds the query and returns up to k candidates in index order.
// k <= 0 uses the configured width.
func (r *Retriever) Search(ctx context.Context, query string, k int, filter vectorstore.Filter) ([]rag.Candidate, error) {
	if k <= 0 {
		k = r.width
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	idx, err := r.Connect(ctx)
	if err != nil {
		return nil, err
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := idx.Search(ctx, vector, k, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	candidates := make([]rag.Candidate, len(hits))
	for i, h := range hits {
		candidates[i] = rag.Candidate{
			Paper:       h.Paper,
			Score:       Similarity(h.Distance),
			MatchedText: h.Text,
		}
	}
	return candidates, nil
}

// Similarity converts a cosine distance into a score in [0, 1]. Some
// indexes return distances slightly outside [0, 2] from rounding.
func Similarity(distance float64) float64 {
	s := 1 - distance
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// SimilarPapers finds papers related to the given title. The paper itself
// is excluded and each paper appears once, represented by its best chunk.
func (r *Retriever) SimilarPapers(ctx context.Context, title string, k int) ([]rag.Candidate, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: title is required", rag.ErrInvalidQuery)
	}
	k, err := helperWidth(k)
	if err != nil {
		return nil, err
	}

	// one extra slot for the paper itself
	candidates, err := r.Search(ctx, title, max(k+1, r.width), nil)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]rag.Candidate, 0, k)
	for _, c := range candidates {
		key := strings.ToLower(strings.TrimSpace(c.Paper.Title))
		if key == strings.ToLower(strings.TrimSpace(title)) {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// PapersByYearRange returns candidates published within [from, to].
//
// The index is searched once with a widened window and filtered here, so
// matching papers ranked outside that window are not returned.
func (r *Retriever) PapersByYearRange(ctx context.Context, query string, from, to, k int) ([]rag.Candidate, error) {
	if from > to {
		return nil, fmt.Errorf("%w: year range %d-%d", rag.ErrInvalidQuery, from, to)
	}
	k, err := helperWidth(k)
	if err != nil {
		return nil, err
	}

	candidates, err := r.Search(ctx, query, max(k*4, r.width), nil)
	if err != nil {
		return nil, err
	}

	out := make([]rag.Candidate, 0, k)
	for _, c := range candidates {
		if c.Paper.Year < from || c.Paper.Year > to {
			continue
		}
		out = append(out, c)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// helperWidth defaults k for the paper lookups and rejects widths above
// rag.MaxFinalK.
func helperWidth(k int) (int, error) {
	switch {
	case k <= 0:
		return 5, nil
	case k > rag.MaxFinalK:
		return 0, fmt.Errorf("%w: k is %d, limit is %d", rag.ErrInvalidQuery, k, rag.MaxFinalK)
	}
	return k, nil
}
