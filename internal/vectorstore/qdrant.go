package vectorstore

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// QdrantConnector connects to a Qdrant collection over gRPC.
type QdrantConnector struct {
	addr       string
	collection string
}

// NewQdrantConnector creates a connector for the given collection.
// addr should be in format "host:port" (e.g., "localhost:6334")
func NewQdrantConnector(addr, collection string) *QdrantConnector {
	return &QdrantConnector{addr: addr, collection: collection}
}

// Connect creates the Qdrant client.
func (c *QdrantConnector) Connect(ctx context.Context) (Index, error) {
	host, portStr, err := net.SplitHostPort(c.addr)
	if err != nil {
		// If no port specified, assume default
		host = c.addr
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantIndex{client: client, collection: c.collection}, nil
}

// QdrantIndex implements Index using a Qdrant collection with cosine distance.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
}

// Close closes the Qdrant client connection
func (s *QdrantIndex) Close() error {
	return s.client.Close()
}

// Search performs similarity search. Qdrant reports cosine similarity, which
// is converted back to a distance here.
func (s *QdrantIndex) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error) {
	qf, err := qdrantFilter(filter)
	if err != nil {
		return nil, err
	}

	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         qf,
	})
	if err != nil {
		// A collection that was never populated is an empty index.
		if status.Code(err) == codes.NotFound {
			return []Hit{}, nil
		}
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]Hit, 0, len(response))
	for _, point := range response {
		hits = append(hits, pointToHit(point))
	}
	return hits, nil
}

func pointToHit(point *qdrant.ScoredPoint) Hit {
	hit := Hit{Distance: 1 - float64(point.GetScore())}

	payload := point.GetPayload()
	if payload == nil {
		return hit
	}
	hit.Paper.Title = payload[fieldTitle].GetStringValue()
	hit.Paper.Authors = payload[fieldAuthors].GetStringValue()
	hit.Paper.Year = int(payload[fieldYear].GetIntegerValue())
	hit.Paper.Pages = int(payload[fieldPages].GetIntegerValue())
	hit.Paper.Link = payload[fieldLink].GetStringValue()
	hit.Paper.Code = payload[fieldCode].GetStringValue()
	hit.Text = payload[fieldContent].GetStringValue()
	return hit
}

func qdrantFilter(filter Filter) (*qdrant.Filter, error) {
	if len(filter) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	must := make([]*qdrant.Condition, 0, len(keys))
	for _, k := range keys {
		switch v := filter[k].(type) {
		case string:
			must = append(must, qdrant.NewMatch(k, v))
		case int:
			must = append(must, qdrant.NewMatchInt(k, int64(v)))
		case int64:
			must = append(must, qdrant.NewMatchInt(k, v))
		default:
			return nil, fmt.Errorf("unsupported filter value for %q: %T", k, v)
		}
	}
	return &qdrant.Filter{Must: must}, nil
}

// Ensure QdrantIndex implements Index
var (
	_ Index     = (*QdrantIndex)(nil)
	_ Connector = (*QdrantConnector)(nil)
)
