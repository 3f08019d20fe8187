package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mistral", req.Model)
		assert.Equal(t, "be terse", req.System)
		assert.False(t, req.Stream)
		assert.EqualValues(t, 0.3, req.Options["temperature"])
		assert.EqualValues(t, 256, req.Options["num_predict"])

		json.NewEncoder(w).Encode(ollamaResponse{Response: "an answer [1]", Done: true})
	}))
	defer srv.Close()

	c := NewOllamaClient(WithBaseURL(srv.URL), WithModel("mistral"))
	got, err := c.Generate(context.Background(), "question", GenerateOptions{
		SystemPrompt: "be terse",
		Temperature:  Temperature(0.3),
		MaxTokens:    256,
	})

	require.NoError(t, err)
	assert.Equal(t, "an answer [1]", got)
}

func TestOllamaClient_OmitsUnsetOptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		assert.NotContains(t, raw, "options")
		assert.Equal(t, "override", raw["model"])
		w.Write([]byte(`{"response":"ok","done":true}`))
	}))
	defer srv.Close()

	_, err := NewOllamaClient(WithBaseURL(srv.URL)).Generate(context.Background(), "p", GenerateOptions{Model: "override"})
	require.NoError(t, err)
}

func TestOllamaClient_SendsZeroTemperature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Contains(t, req.Options, "temperature")
		assert.EqualValues(t, 0, req.Options["temperature"])
		assert.EqualValues(t, 10, req.Options["num_predict"])
		w.Write([]byte(`{"response":"ok","done":true}`))
	}))
	defer srv.Close()

	_, err := NewOllamaClient(WithBaseURL(srv.URL)).Generate(context.Background(), "p", GenerateOptions{
		Temperature: Temperature(0),
		MaxTokens:   10,
	})
	require.NoError(t, err)
}

func TestOllamaClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name:    "http status",
			handler: func(w http.ResponseWriter, r *http.Request) { http.Error(w, "boom", http.StatusInternalServerError) },
			want:    "status 500",
		},
		{
			name:    "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("not json")) },
			want:    "decoding response",
		},
		{
			name:    "incomplete",
			handler: func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"response":"partial","done":false}`)) },
			want:    "incomplete",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewOllamaClient(WithBaseURL(srv.URL)).Generate(context.Background(), "p", GenerateOptions{})
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestResolveModel(t *testing.T) {
	c := NewOllamaClient()
	assert.Equal(t, DefaultModel, ResolveModel(c, GenerateOptions{}))
	assert.Equal(t, "phi3", ResolveModel(c, GenerateOptions{Model: "phi3"}))
}
