package vectorstore

import (
	"context"
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointToHit(t *testing.T) {
	point := &qdrant.ScoredPoint{
		Score: 0.75,
		Payload: map[string]*qdrant.Value{
			"title":   qdrant.NewValueString("Attention Is All You Need"),
			"authors": qdrant.NewValueString("Vaswani et al."),
			"year":    qdrant.NewValueInt(2017),
			"pages":   qdrant.NewValueInt(15),
			"link":    qdrant.NewValueString("https://arxiv.org/abs/1706.03762"),
			"content": qdrant.NewValueString("The dominant sequence transduction models..."),
		},
	}

	hit := pointToHit(point)

	assert.InDelta(t, 0.25, hit.Distance, 1e-6)
	assert.Equal(t, "Attention Is All You Need", hit.Paper.Title)
	assert.Equal(t, 2017, hit.Paper.Year)
	assert.Equal(t, 15, hit.Paper.Pages)
	assert.Empty(t, hit.Paper.Code)
	assert.Equal(t, "The dominant sequence transduction models...", hit.Text)
}

func TestPointToHit_NoPayload(t *testing.T) {
	hit := pointToHit(&qdrant.ScoredPoint{Score: 1})
	assert.Zero(t, hit.Distance)
	assert.Empty(t, hit.Paper.Title)
}

func TestQdrantFilter(t *testing.T) {
	f, err := qdrantFilter(nil)
	require.NoError(t, err)
	assert.Nil(t, f)

	f, err = qdrantFilter(Filter{"year": 2020, "authors": "Hinton"})
	require.NoError(t, err)
	require.Len(t, f.Must, 2)
	assert.Equal(t, "authors", f.Must[0].GetField().GetKey())
	assert.Equal(t, "year", f.Must[1].GetField().GetKey())

	_, err = qdrantFilter(Filter{"year": 3.5})
	assert.Error(t, err)
}

func TestBuildPGSearch(t *testing.T) {
	query, args, err := buildPGSearch("paper_chunks", []float32{0.5, -1}, 20, Filter{"year": 2021, "code": "github"})
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT title, authors, year, pages, link, code, content, embedding <=> $1::vector AS distance FROM paper_chunks WHERE code = $2 AND year = $3 ORDER BY distance LIMIT $4",
		query)
	assert.Equal(t, []any{pgvector.NewVector([]float32{0.5, -1}), "github", 2021, 20}, args)
}

func TestBuildPGSearch_NoFilter(t *testing.T) {
	query, args, err := buildPGSearch("paper_chunks", []float32{1}, 5, nil)
	require.NoError(t, err)
	assert.Contains(t, query, "ORDER BY distance LIMIT $2")
	assert.NotContains(t, query, "WHERE")
	require.Len(t, args, 2)
	vec, ok := args[0].(pgvector.Vector)
	require.True(t, ok)
	assert.Equal(t, []float32{1}, vec.Slice())
}

func TestBuildPGSearch_RejectsUnknownField(t *testing.T) {
	_, _, err := buildPGSearch("paper_chunks", []float32{1}, 5, Filter{"embedding; DROP TABLE x": "y"})
	assert.Error(t, err)
}

func TestPGVectorConnector_RejectsBadTableName(t *testing.T) {
	_, err := NewPGVectorConnector("postgres://localhost/x", "chunks; drop").Connect(context.Background())
	assert.ErrorContains(t, err, "invalid table name")
}
