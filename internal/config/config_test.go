package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.CandidatesK)
	assert.Equal(t, 5, cfg.FinalK)
	assert.True(t, cfg.RerankEnabled)
	assert.Equal(t, "qdrant", cfg.VectorBackend)
	assert.Equal(t, 15*time.Second, cfg.RerankTimeout)
	assert.Zero(t, cfg.EmbeddingDimension)
	assert.Equal(t, 60*time.Second, cfg.GenerationTimeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CANDIDATES_K", "30")
	t.Setenv("FINAL_K", "8")
	t.Setenv("RERANK_ENABLED", "false")
	t.Setenv("LLM_PROVIDER", "anthropic")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.CandidatesK)
	assert.Equal(t, 8, cfg.FinalK)
	assert.False(t, cfg.RerankEnabled)
	assert.Equal(t, "anthropic", cfg.LLMProvider)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			CandidatesK:       20,
			FinalK:            5,
			LLMTemperature:    0.3,
			VectorBackend:     "qdrant",
			EmbeddingProvider: "ollama",
			LLMProvider:       "ollama",
			RerankProvider:    "cohere",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"zero candidates", func(c *Config) { c.CandidatesK = 0 }, true},
		{"zero final", func(c *Config) { c.FinalK = 0 }, true},
		{"final wider than candidates", func(c *Config) { c.FinalK = 25 }, true},
		{"temperature too high", func(c *Config) { c.LLMTemperature = 2.5 }, true},
		{"unknown backend", func(c *Config) { c.VectorBackend = "chroma" }, true},
		{"unknown reranker", func(c *Config) { c.RerankProvider = "jina" }, true},
		{"rerank none", func(c *Config) { c.RerankProvider = "none" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
