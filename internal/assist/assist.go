package assist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ent0n29/chattoz/internal/llm"
	"github.com/ent0n29/chattoz/internal/protocol"
	"github.com/ent0n29/chattoz/internal/session"
)

var (
	suggestionSchema = llm.MustSchema("chat_suggestions", "Short reply suggestions for the next chat message.", `{
		"type": "object",
		"properties": {
			"chat_suggestions": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["chat_suggestions"],
		"additionalProperties": false
	}`)

	autoReplySchema = llm.MustSchema("auto_reply", "The host's next chat message and whether the conversation is over.", `{
		"type": "object",
		"properties": {
			"reply": {"type": "string"},
			"end_chat": {"type": "boolean"}
		},
		"required": ["reply", "end_chat"],
		"additionalProperties": false
	}`)
)

type suggestionOutput struct {
	ChatSuggestions []string `json:"chat_suggestions"`
}

// Reply is one autonomous host turn. EndChat set means the exchange is over
// and Text must not be relayed.
type Reply struct {
	Text    string `json:"reply"`
	EndChat bool   `json:"end_chat"`
}

type Options struct {
	SuggestionCount int
	Logger          *slog.Logger
}

// Assistant drives the structured-generation collaborator for reply
// suggestions and autonomous host replies. Each call is a single request.
type Assistant struct {
	gen    llm.Generator
	count  int
	logger *slog.Logger
}

func New(gen llm.Generator, opts Options) *Assistant {
	if opts.SuggestionCount <= 0 {
		opts.SuggestionCount = 3
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Assistant{gen: gen, count: opts.SuggestionCount, logger: opts.Logger}
}

// Suggestions proposes up to the configured number of short replies for
// recipient, written in language. Only the host variant sees memories.
// Empty history yields no suggestions and no collaborator call.
func (a *Assistant) Suggestions(ctx context.Context, recipient protocol.Role, language string, history []session.Message, memories []string) ([]string, error) {
	if len(history) == 0 {
		return nil, nil
	}

	var lines []string
	for _, m := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Original))
	}

	var system strings.Builder
	fmt.Fprintf(&system, "You are a helpful assistant generating chat suggestions between a host and a guest. "+
		"Generate %d very short, helpful, polite chat suggestions for the next message from the %s, written in %s, "+
		"based on the last message from the %s. Do not add explanations.", a.count, recipient, language, recipient.Other())
	if recipient == protocol.RoleHost && len(memories) > 0 {
		system.WriteString(" Take into account what the host has told you about themselves:\n")
		for _, mem := range memories {
			system.WriteString("- " + mem + "\n")
		}
	}
	user := fmt.Sprintf("Based on this recent chat:\n%s\n\nprovide chat suggestions for the %s.", strings.Join(lines, "\n"), recipient)

	var out suggestionOutput
	if err := a.gen.GenerateStructured(ctx, system.String(), user, suggestionSchema, &out); err != nil {
		return nil, fmt.Errorf("suggestions: %w", err)
	}

	suggestions := make([]string, 0, a.count)
	for _, s := range out.ChatSuggestions {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		suggestions = append(suggestions, s)
		if len(suggestions) == a.count {
			break
		}
	}
	if dropped := len(out.ChatSuggestions) - len(suggestions); dropped > 0 {
		a.logger.Debug("suggestions trimmed", "recipient", recipient, "returned", len(out.ChatSuggestions), "kept", len(suggestions))
	}
	return suggestions, nil
}

// AutoReply asks for the host's next message in an autonomous exchange.
// history is the exchange's correlation-key scoped list.
func (a *Assistant) AutoReply(ctx context.Context, hostLanguage string, memories []string, history []session.Message) (Reply, error) {
	var system strings.Builder
	fmt.Fprintf(&system, "You are chatting on behalf of the host while they are away. Write the host's next message in %s: "+
		"short, friendly and consistent with what the host has said so far. "+
		"Set end_chat to true when the guest says goodbye or the conversation has reached a natural end.", hostLanguage)
	if len(memories) > 0 {
		system.WriteString("\nWhat you know about the host:\n")
		for _, mem := range memories {
			system.WriteString("- " + mem + "\n")
		}
	}
	user := "Conversation so far:\n" + RenderAutoHistory(history)

	var out Reply
	if err := a.gen.GenerateStructured(ctx, system.String(), user, autoReplySchema, &out); err != nil {
		return Reply{}, fmt.Errorf("auto reply: %w", err)
	}
	out.Text = strings.TrimSpace(out.Text)
	if out.Text == "" && !out.EndChat {
		a.logger.Warn("auto reply returned no text", "turns", len(history))
	}
	return out, nil
}

// RenderAutoHistory replays an exchange in the host's language: host lines
// use the original text, guest lines the translation.
func RenderAutoHistory(history []session.Message) string {
	var b strings.Builder
	for _, m := range history {
		text := m.Translated
		if m.Role == protocol.RoleHost {
			text = m.Original
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, text)
	}
	return b.String()
}
