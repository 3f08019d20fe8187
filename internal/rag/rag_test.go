package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidates(scores ...float64) []Candidate {
	out := make([]Candidate, len(scores))
	for i, s := range scores {
		out[i] = Candidate{Paper: Paper{Title: string(rune('A' + i))}, Score: s}
	}
	return out
}

func TestFallback_TruncatesPreservingOrder(t *testing.T) {
	in := candidates(0.4, 0.9, 0.7, 0.1)

	got := Fallback(in, 2)

	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Paper.Title)
	assert.Equal(t, "B", got[1].Paper.Title)
	for _, rc := range got {
		assert.Equal(t, rc.OriginalScore, rc.RerankScore)
		assert.Equal(t, rc.Score, rc.OriginalScore)
	}
}

func TestFallback_TopKLargerThanInput(t *testing.T) {
	got := Fallback(candidates(0.5, 0.3), 10)
	assert.Len(t, got, 2)
}

func TestFallback_Empty(t *testing.T) {
	got := Fallback(nil, 5)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
