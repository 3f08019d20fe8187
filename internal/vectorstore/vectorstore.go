// Package vectorstore provides the approximate nearest-neighbour search
// capability over the paper corpus.
//
// Backends report cosine distance (0 = identical, 2 = opposite). Converting
// distance to a similarity score is the retriever's job.
package vectorstore

import (
	"context"

	"github.com/knoguchi/paperqa/internal/rag"
)

// Filter is an equality predicate over paper metadata, keyed by field name
// (title, authors, year, link, code). Values are strings or integers.
type Filter map[string]any

// Hit is one nearest-neighbour match returned by an Index.
type Hit struct {
	Paper    rag.Paper
	Text     string
	Distance float64
}

// Index performs similarity search over an established connection.
type Index interface {
	// Search returns up to k hits ordered by ascending distance. An empty
	// index yields an empty slice, not an error.
	Search(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error)

	// Close releases the connection.
	Close() error
}

// Connector establishes a connection to a vector index.
type Connector interface {
	Connect(ctx context.Context) (Index, error)
}

// payload field names shared by the backends
const (
	fieldTitle   = "title"
	fieldAuthors = "authors"
	fieldYear    = "year"
	fieldPages   = "pages"
	fieldLink    = "link"
	fieldCode    = "code"
	fieldContent = "content"
)
