package tokenizer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ResolutionOrder(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"gpt-4", "model:gpt-4"},
		{"gpt-3.5-turbo", "model:gpt-3.5-turbo"},
		{"p50k_base", "p50k_base"},
		{"cl100k_base", "cl100k_base"},
		{"llama3.2", DefaultEncoding},
		{"", DefaultEncoding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Encoding())
		})
	}
}

func TestCount(t *testing.T) {
	c, err := New(DefaultEncoding)
	require.NoError(t, err)

	assert.Equal(t, 2, c.Count("hello world"))
	assert.Zero(t, c.Count(""))
}

func TestCount_UnknownModelMatchesDefault(t *testing.T) {
	text := "Retrieval-augmented generation grounds answers in cited papers [1]."

	def, err := New(DefaultEncoding)
	require.NoError(t, err)
	fallback, err := New("mistral")
	require.NoError(t, err)
	byModel, err := New("gpt-4")
	require.NoError(t, err)

	assert.Equal(t, def.Count(text), fallback.Count(text))
	assert.Equal(t, def.Count(text), byModel.Count(text), "gpt-4 uses cl100k_base")
}

func TestCount_Concurrent(t *testing.T) {
	c, err := New(DefaultEncoding)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, 2, c.Count("hello world"))
		}()
	}
	wg.Wait()
}
