package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrSchemaViolation marks generated output that does not match the
// requested schema. Callers treat it as "no result".
var ErrSchemaViolation = errors.New("generated output violates schema")

// Translator turns text written in source into target.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Generator produces an object conforming to schema and decodes it into out.
type Generator interface {
	GenerateStructured(ctx context.Context, system, user string, schema *Schema, out any) error
}

// Summarizer condenses a user message into a memory sentence.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Model bundles every language-model backed collaborator.
type Model interface {
	Translator
	Generator
	Summarizer
}

type Options struct {
	Provider         string // auto, anthropic or mock
	APIKey           string
	BaseURL          string
	TranslationModel string
	GenerationModel  string
	MaxRetries       int
	Timeout          time.Duration
	Logger           *slog.Logger
}

// New selects the model backend. "auto" uses Anthropic when an API key is
// configured and the offline mock otherwise.
func New(opts Options) (Model, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	if provider == "" || provider == "auto" {
		provider = "mock"
		if strings.TrimSpace(opts.APIKey) != "" {
			provider = "anthropic"
		}
	}

	switch provider {
	case "anthropic":
		if strings.TrimSpace(opts.APIKey) == "" {
			return nil, errors.New("llm provider anthropic requires ANTHROPIC_API_KEY")
		}
		return NewAnthropicClient(AnthropicConfig{
			APIKey:           opts.APIKey,
			BaseURL:          opts.BaseURL,
			TranslationModel: opts.TranslationModel,
			GenerationModel:  opts.GenerationModel,
			MaxRetries:       opts.MaxRetries,
			Timeout:          opts.Timeout,
		}), nil
	case "mock":
		logger.Warn("using mock language model; translations are tagged echoes")
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", opts.Provider)
	}
}

const summarizePrompt = "Summarize the user message into a short, context-rich memory capturing their intent or preference. " +
	"Keep it concise and natural. If a category is obvious (food, sports, books, hobbies and so on) work it into the sentence without parentheses. " +
	"Output only the memory sentence."

func translatePrompt(source, target string) string {
	return fmt.Sprintf("You are a conversational translation assistant. Translate the user's message from %s to %s. "+
		"Reply with the %s translation only, without quotes, notes or extra words.", source, target, target)
}
