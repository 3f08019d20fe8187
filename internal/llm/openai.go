package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

// OpenAIClient implements LLM with the OpenAI chat completions API.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates a client for the given model. baseURL may be empty.
func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(baseURL) != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	return &OpenAIClient{
		client: openai.NewClient(options...),
		model:  model,
	}
}

// Model returns the default model.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Generate runs a single-turn chat completion.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if opts.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(opts.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(ResolveModel(c, opts)),
	}
	if opts.Temperature != nil {
		params.Temperature = param.NewOpt(*opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(opts.MaxTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("OpenAI returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

var _ LLM = (*OpenAIClient)(nil)
