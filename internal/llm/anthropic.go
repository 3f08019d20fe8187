package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
)

// defaultAnthropicMaxTokens is used when the request does not set MaxTokens;
// the Messages API requires one.
const defaultAnthropicMaxTokens = 1024

// AnthropicClient implements LLM with the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

// NewAnthropicClient creates a client for the given model. Extra request
// options are applied after the API key.
func NewAnthropicClient(apiKey, model string, opts ...option.RequestOption) *AnthropicClient {
	if model == "" {
		model = "claude-sonnet-4-5-20250929"
	}
	options := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicClient{
		client: anthropic.NewClient(options...),
		model:  model,
	}
}

// Model returns the default model.
func (c *AnthropicClient) Model() string {
	return c.model
}

// Generate sends a single user turn and concatenates the returned text blocks.
func (c *AnthropicClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(ResolveModel(c, opts)),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.SystemPrompt}}
	}
	if opts.Temperature != nil {
		params.Temperature = param.NewOpt(*opts.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("Claude API error: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("Claude returned no text content")
	}
	return sb.String(), nil
}

var _ LLM = (*AnthropicClient)(nil)
