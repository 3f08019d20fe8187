// Package llm provides interfaces and implementations for Large Language Model clients.
package llm

import (
	"context"
)

// GenerateOptions configures the LLM generation request.
type GenerateOptions struct {
	// Model overrides the client's default model when set.
	Model string

	// SystemPrompt sets the system-level instructions for the model.
	SystemPrompt string

	// Temperature controls randomness in generation (0.0 = deterministic, 1.0 = creative).
	// Nil leaves the provider default; zero is sent as zero.
	Temperature *float64

	// MaxTokens limits the maximum number of tokens in the response.
	MaxTokens int
}

// LLM defines the interface for Large Language Model clients.
type LLM interface {
	// Generate sends a prompt to the LLM and returns the complete response.
	// It blocks until the full response is received or an error occurs.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// Model returns the client's default model name.
	Model() string
}

// Temperature returns a pointer for GenerateOptions.Temperature.
func Temperature(t float64) *float64 {
	return &t
}

// ResolveModel returns the model a request will run against.
func ResolveModel(client LLM, opts GenerateOptions) string {
	if opts.Model != "" {
		return opts.Model
	}
	return client.Model()
}
