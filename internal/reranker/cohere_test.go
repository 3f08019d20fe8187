package reranker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCohereScorer_Rank(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req cohereRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "rerank-v3.5", req.Model)
		assert.Equal(t, "attention", req.Query)
		assert.Equal(t, []string{"doc0", "doc1"}, req.Documents)
		assert.Equal(t, 2, req.TopN)

		w.Write([]byte(`{"id":"x","results":[{"index":1,"relevance_score":0.9},{"index":0,"relevance_score":0.1}]}`))
	}))
	defer srv.Close()

	s := NewCohereScorer("secret", WithEndpoint(srv.URL), WithCohereModel("rerank-v3.5"), WithRateLimit(100))
	got, err := s.Rank(context.Background(), "attention", []string{"doc0", "doc1"}, 2)

	require.NoError(t, err)
	assert.Equal(t, []Relevance{{Index: 1, RelevanceScore: 0.9}, {Index: 0, RelevanceScore: 0.1}}, got)
}

func TestCohereScorer_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, ErrRateLimited},
		{"unauthorized", http.StatusUnauthorized, `{}`, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, `{}`, ErrUnauthorized},
		{"bad json", http.StatusOK, `{"results":`, ErrMalformedResponse},
		{"missing results", http.StatusOK, `{"id":"x"}`, ErrMalformedResponse},
		{"missing score", http.StatusOK, `{"results":[{"index":0}]}`, ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewCohereScorer("k", WithEndpoint(srv.URL)).Rank(context.Background(), "q", []string{"d"}, 1)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCohereScorer_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewCohereScorer("k", WithEndpoint(srv.URL)).Rank(context.Background(), "q", []string{"d"}, 1)
	assert.ErrorContains(t, err, "status 503")
}

func TestCohereScorer_NoKey(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	_, err := NewCohereScorer("", WithEndpoint(srv.URL)).Rank(context.Background(), "q", []string{"d"}, 1)

	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, called)
}
