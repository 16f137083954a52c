package responder

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/onnwee/chatpilot/chat"
)

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini replies through the Gemini API.
type Gemini struct {
	models generator
	opts   Options
}

// NewGemini creates a Gemini responder for apiKey.
func NewGemini(ctx context.Context, apiKey string, opts Options) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: GEMINI_API_KEY not set")
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Gemini{models: client.Models, opts: opts}, nil
}

// TryRespond implements chat.Responder.
func (g *Gemini) TryRespond(ctx context.Context, msg chat.Message) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt(g.opts), genai.RoleUser),
		Temperature:       genai.Ptr(float32(g.opts.Temperature)),
	}
	if g.opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(g.opts.MaxTokens)
	}
	resp, err := g.models.GenerateContent(ctx, g.opts.Model, genai.Text(UserPrompt(msg)), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if resp == nil {
		return "", nil
	}
	return clean(resp.Text()), nil
}
