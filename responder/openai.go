package responder

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/onnwee/chatpilot/chat"
)

// OpenAI replies through an OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	client *openai.Client
	opts   Options
}

// NewOpenAI creates a responder for baseURL (OpenRouter when empty).
func NewOpenAI(apiKey, baseURL string, opts Options) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("openai: OPENROUTER_API_KEY not set")
	}
	cc := openai.DefaultConfig(apiKey)
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	cc.BaseURL = baseURL
	if opts.Model == "" {
		opts.Model = "deepseek/deepseek-r1"
	}
	return &OpenAI{client: openai.NewClientWithConfig(cc), opts: opts}, nil
}

// TryRespond implements chat.Responder.
func (o *OpenAI) TryRespond(ctx context.Context, msg chat.Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt(o.opts)},
			{Role: openai.ChatMessageRoleUser, Content: UserPrompt(msg)},
		},
		MaxTokens:   o.opts.MaxTokens,
		Temperature: float32(o.opts.Temperature),
	}
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return clean(resp.Choices[0].Message.Content), nil
}
