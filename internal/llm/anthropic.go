package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultTranslationModel = "claude-3-5-haiku-latest"
	defaultGenerationModel  = "claude-sonnet-4-5"
	defaultMaxTokens        = 1024
)

type AnthropicConfig struct {
	APIKey           string
	BaseURL          string
	TranslationModel string
	GenerationModel  string
	MaxRetries       int
	Timeout          time.Duration
}

// AnthropicClient implements Model on the Messages API. Structured output
// is obtained by forcing a single tool call whose input schema is the
// requested schema, then validated locally.
type AnthropicClient struct {
	client           anthropic.Client
	translationModel string
	generationModel  string
}

func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.TranslationModel == "" {
		cfg.TranslationModel = defaultTranslationModel
	}
	if cfg.GenerationModel == "" {
		cfg.GenerationModel = defaultGenerationModel
	}
	return &AnthropicClient{
		client:           anthropic.NewClient(opts...),
		translationModel: cfg.TranslationModel,
		generationModel:  cfg.GenerationModel,
	}
}

func (c *AnthropicClient) Translate(ctx context.Context, text, source, target string) (string, error) {
	if source == target {
		return text, nil
	}
	out, err := c.complete(ctx, c.translationModel, translatePrompt(source, target), text)
	if err != nil {
		return "", fmt.Errorf("translate %s->%s: %w", source, target, err)
	}
	return out, nil
}

func (c *AnthropicClient) Summarize(ctx context.Context, text string) (string, error) {
	out, err := c.complete(ctx, c.translationModel, summarizePrompt, text)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return out, nil
}

func (c *AnthropicClient) GenerateStructured(ctx context.Context, system, user string, schema *Schema, out any) error {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.generationModel),
		MaxTokens: defaultMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
		Tools: []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        schema.Name,
				Description: anthropic.String(schema.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema.Properties,
					Required:   schema.Required,
				},
			},
		}},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: schema.Name},
		},
	})
	if err != nil {
		return fmt.Errorf("generate %s: %w", schema.Name, err)
	}

	for _, block := range resp.Content {
		if block.Type != "tool_use" || block.Name != schema.Name {
			continue
		}
		raw, err := json.Marshal(block.Input)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrSchemaViolation, schema.Name, err)
		}
		return schema.Decode(raw, out)
	}
	return fmt.Errorf("%w: %s: no tool_use block in response", ErrSchemaViolation, schema.Name)
}

func (c *AnthropicClient) complete(ctx context.Context, model, system, user string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: defaultMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("empty completion from %s", model)
	}
	return text, nil
}
