// Package responder turns a chat message into a short persona reply using a hosted
// LLM: Gemini through google.golang.org/genai or any OpenAI-compatible endpoint
// (OpenRouter by default) through go-openai.
package responder

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/onnwee/chatpilot/chat"
	"github.com/onnwee/chatpilot/config"
)

// Options shared by the providers.
type Options struct {
	Model       string
	PersonaName string
	Persona     string // may contain {name}
	MaxTokens   int
	Temperature float64
}

// New returns the responder selected by cfg.ResponderProvider, or nil for "none".
func New(ctx context.Context, cfg *config.Config) (chat.Responder, error) {
	opts := Options{
		PersonaName: cfg.PersonaName,
		Persona:     cfg.PersonaPrompt,
		MaxTokens:   cfg.ResponderMaxTokens,
		Temperature: cfg.ResponderTemperature,
	}
	switch cfg.ResponderProvider {
	case "gemini":
		opts.Model = cfg.GeminiModel
		g, err := NewGemini(ctx, cfg.GeminiAPIKey, opts)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "openai", "openrouter":
		opts.Model = cfg.OpenAIModel
		o, err := NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, opts)
		if err != nil {
			return nil, err
		}
		return o, nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown RESPONDER %q", cfg.ResponderProvider)
	}
}

// SystemPrompt renders the persona instruction.
func SystemPrompt(o Options) string {
	return strings.ReplaceAll(o.Persona, "{name}", o.PersonaName)
}

// UserPrompt renders the message the model replies to.
func UserPrompt(msg chat.Message) string {
	return fmt.Sprintf("User %s said: %s", msg.Author, msg.Text)
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// clean strips reasoning blocks and wrapping quotes some models add.
func clean(s string) string {
	s = thinkBlock.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
